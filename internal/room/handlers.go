package room

import (
	"errors"
	"fmt"
	"time"

	"github.com/Tyrowin/chatrooms/internal/chat"
	"github.com/Tyrowin/chatrooms/internal/history"
	"github.com/Tyrowin/chatrooms/internal/metrics"
)

var errAlreadyAdmitted = errors.New("room: connection already admitted")

// admit registers conn as an anonymous session bound to the limiter of its
// origin, and queues the recent history for it.
func (r *Room) admit(conn Conn, origin string) error {
	r.wake()

	if _, ok := r.sessions[conn]; ok {
		return errAlreadyAdmitted
	}

	key := r.limiters.KeyFor(origin)
	if _, err := r.limiters.Get(key); err != nil {
		return fmt.Errorf("room %s: resolve limiter: %w", r.name, err)
	}

	att := conn.Attachment()
	att.LimiterKey = key
	conn.SetAttachment(att)

	backlog, err := r.loadBacklog()
	if err != nil {
		return fmt.Errorf("room %s: load history: %w", r.name, err)
	}

	r.conns = append(r.conns, conn)
	r.sessions[conn] = &session{limiterKey: key, pending: backlog}
	metrics.ConnectionsActive.Inc()

	r.logger.Debug().
		Str("conn", conn.ID()).
		Int("backlog", len(backlog)).
		Int("connections", len(r.conns)).
		Msg("connection admitted")
	return nil
}

// loadBacklog returns up to HistoryLimit of the most recent chats, oldest first.
func (r *Room) loadBacklog() ([]chat.Message, error) {
	ctx, cancel := r.opContext()
	defer cancel()

	entries, err := r.store.List(ctx, r.name, history.ListOptions{
		Reverse: true,
		Limit:   r.opts.HistoryLimit,
	})
	if err != nil {
		return nil, err
	}

	backlog := make([]chat.Message, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		msg, err := chat.DecodeChat([]byte(entries[i].Value))
		if err != nil {
			r.logger.Warn().Err(err).Str("key", entries[i].Key).Msg("skipping unreadable history entry")
			continue
		}
		backlog = append(backlog, msg)
	}
	return backlog, nil
}

func (r *Room) handleMessage(conn Conn, payload []byte) {
	r.wake()

	sess, ok := r.sessions[conn]
	if !ok {
		r.logger.Warn().Str("conn", conn.ID()).Msg("message from untracked connection")
		metrics.ProtocolViolations.WithLabelValues("session_not_found").Inc()
		r.closeConn(conn, CloseInternalError, ReasonSessionNotFound)
		return
	}

	wait, err := r.checkRate(sess)
	if err != nil {
		r.logger.Error().Err(err).Str("conn", conn.ID()).Msg("rate limiter unavailable; dropping command")
		return
	}
	if wait > 0 {
		metrics.RateLimited.Inc()
		r.logger.Debug().Str("conn", conn.ID()).Dur("wait", wait).Msg("rate limited")
		r.send(conn, chat.NewRateLimit(wait))
		return
	}

	cmd, err := chat.DecodeCommand(payload)
	if err != nil {
		r.logger.Warn().Err(err).Str("conn", conn.ID()).Msg("ignoring malformed frame")
		return
	}

	switch c := cmd.(type) {
	case chat.Join:
		metrics.CommandsTotal.WithLabelValues(chat.TypeJoin).Inc()
		r.join(conn, sess, c.Name)
	case chat.UpdateName:
		metrics.CommandsTotal.WithLabelValues(chat.TypeUpdateName).Inc()
		r.rename(conn, sess, c.Name)
	case chat.SendChat:
		metrics.CommandsTotal.WithLabelValues(chat.TypeChat).Inc()
		r.postChat(conn, sess, c)
	default:
		metrics.CommandsTotal.WithLabelValues("unknown").Inc()
		r.logger.Debug().Str("conn", conn.ID()).Str("type", cmd.Kind()).Msg("ignoring unknown command")
	}
}

func (r *Room) checkRate(sess *session) (time.Duration, error) {
	l, err := r.limiters.Get(sess.limiterKey)
	if err != nil {
		return 0, err
	}
	ctx, cancel := r.opContext()
	defer cancel()
	return l.CheckAndReserve(ctx)
}

// join names the session, releases everything queued for it and announces it.
func (r *Room) join(conn Conn, sess *session, name string) {
	if !r.rename(conn, sess, name) {
		return
	}

	pending := sess.pending
	sess.pending = nil
	if !r.flush(conn, pending) {
		return
	}

	r.broadcast(chat.NewSystem(fmt.Sprintf("%s joined the room", name), r.now()))
	r.broadcast(chat.NewUsers(r.roster()))
}

// rename sets the session's display name and records it on the connection.
// Empty names are ignored so that a session never becomes anonymous again.
func (r *Room) rename(conn Conn, sess *session, name string) bool {
	if name == "" {
		r.logger.Debug().Str("conn", conn.ID()).Msg("ignoring empty display name")
		return false
	}

	sess.name = name
	att := conn.Attachment()
	att.Name = name
	conn.SetAttachment(att)
	return true
}

// postChat persists a chat message and, once it is stored, broadcasts it.
func (r *Room) postChat(conn Conn, sess *session, cmd chat.SendChat) {
	if sess.anonymous() {
		metrics.ProtocolViolations.WithLabelValues("session_without_name").Inc()
		r.logger.Warn().Str("conn", conn.ID()).Msg("chat from anonymous session")
		r.evict(conn, ReasonSessionWithoutName)
		return
	}

	msg := chat.Chat{Message: cmd.Message, From: sess.name, Timestamp: cmd.Timestamp}
	data, err := chat.Encode(msg)
	if err != nil {
		r.logger.Error().Err(err).Msg("encoding chat message")
		return
	}

	ctx, cancel := r.opContext()
	err = r.store.Put(ctx, r.name, chat.HistoryKey(cmd.Timestamp), string(data))
	cancel()
	if err != nil {
		r.logger.Error().Err(err).Str("conn", conn.ID()).Msg("persisting chat message")
		r.send(conn, chat.NewSystem("message could not be saved", r.now()))
		return
	}

	r.fanOut(msg, data)
}

func (r *Room) handleDisconnect(conn Conn, code int, reason string) {
	r.wake()

	if !r.remove(conn) {
		return
	}
	if code == 0 {
		code = CloseNormal
	}
	if reason == "" {
		reason = ReasonClosed
	}
	r.closeConn(conn, code, reason)

	r.logger.Debug().
		Str("conn", conn.ID()).
		Int("code", code).
		Int("connections", len(r.conns)).
		Msg("connection left")

	r.broadcast(chat.NewUsers(r.roster()))
}

// evict ends a connection for a protocol violation. Only that connection
// is affected.
func (r *Room) evict(conn Conn, reason string) {
	wasNamed := false
	if sess, ok := r.sessions[conn]; ok {
		wasNamed = !sess.anonymous()
	}
	r.remove(conn)
	r.closeConn(conn, CloseInternalError, reason)
	if wasNamed {
		r.broadcast(chat.NewUsers(r.roster()))
	}
}

// broadcast delivers msg to every named session and queues it for the
// anonymous ones.
func (r *Room) broadcast(msg chat.Message) {
	data, err := chat.Encode(msg)
	if err != nil {
		r.logger.Error().Err(err).Str("type", msg.Type()).Msg("encoding broadcast")
		return
	}
	r.fanOut(msg, data)
}

func (r *Room) fanOut(msg chat.Message, data []byte) {
	metrics.BroadcastsTotal.WithLabelValues(msg.Type()).Inc()

	var failed []Conn
	for _, conn := range r.conns {
		sess, ok := r.sessions[conn]
		if !ok {
			continue
		}
		if sess.anonymous() {
			sess.pending = append(sess.pending, msg)
			continue
		}
		if !r.deliver(conn, data) {
			failed = append(failed, conn)
		}
	}
	r.dropUnreachable(failed...)
}

func (r *Room) send(conn Conn, msg chat.Message) {
	data, err := chat.Encode(msg)
	if err != nil {
		r.logger.Error().Err(err).Str("type", msg.Type()).Msg("encoding message")
		return
	}
	if !r.deliver(conn, data) {
		r.dropUnreachable(conn)
	}
}

// flush hands everything queued for a session to its connection in one
// batch. It reports false when the connection refused the batch and was
// dropped.
func (r *Room) flush(conn Conn, pending []chat.Message) bool {
	if len(pending) == 0 {
		return true
	}

	batch := make([][]byte, 0, len(pending))
	for _, msg := range pending {
		data, err := chat.Encode(msg)
		if err != nil {
			r.logger.Error().Err(err).Str("type", msg.Type()).Msg("encoding queued message")
			continue
		}
		batch = append(batch, data)
	}

	if err := conn.SendBatch(batch); err != nil {
		metrics.SendFailures.Inc()
		r.logger.Warn().Err(err).Str("conn", conn.ID()).Int("frames", len(batch)).Msg("flushing queued messages failed")
		r.dropUnreachable(conn)
		return false
	}
	return true
}

// deliver queues data for one recipient and reports whether it was accepted.
func (r *Room) deliver(conn Conn, data []byte) bool {
	if err := conn.Send(data); err != nil {
		metrics.SendFailures.Inc()
		r.logger.Warn().Err(err).Str("conn", conn.ID()).Msg("send failed")
		return false
	}
	return true
}

// dropUnreachable removes and closes connections that refused a frame. The
// roster is re-broadcast when a named session was among them.
func (r *Room) dropUnreachable(conns ...Conn) {
	named := false
	for _, conn := range conns {
		if sess, ok := r.sessions[conn]; ok && !sess.anonymous() {
			named = true
		}
		if !r.remove(conn) {
			continue
		}
		r.closeConn(conn, CloseInternalError, ReasonSendFailed)
		r.logger.Info().Str("conn", conn.ID()).Int("connections", len(r.conns)).Msg("dropped unreachable connection")
	}
	if named {
		r.broadcast(chat.NewUsers(r.roster()))
	}
}

func (r *Room) closeConn(conn Conn, code int, reason string) {
	if err := conn.Close(code, reason); err != nil {
		r.logger.Debug().Err(err).Str("conn", conn.ID()).Msg("closing connection")
	}
}

// remove drops conn from the live set. It reports whether conn was present.
func (r *Room) remove(conn Conn) bool {
	for i, c := range r.conns {
		if c != conn {
			continue
		}
		r.conns = append(r.conns[:i], r.conns[i+1:]...)
		delete(r.sessions, conn)
		metrics.ConnectionsActive.Dec()
		return true
	}
	return false
}

func (r *Room) roster() []string {
	names := make([]string, 0, len(r.conns))
	for _, conn := range r.conns {
		if sess, ok := r.sessions[conn]; ok && !sess.anonymous() {
			names = append(names, sess.name)
		}
	}
	return names
}

// hibernate forgets every session while keeping the connections.
func (r *Room) hibernate() {
	if r.hibernated || len(r.conns) == 0 {
		return
	}
	r.sessions = make(map[Conn]*session)
	r.hibernated = true
	metrics.Hibernations.Inc()
	r.logger.Info().Int("connections", len(r.conns)).Msg("room hibernating")
}

// wake rebuilds sessions from connection attachments after hibernation.
// Rebuilt sessions start with an empty pending queue.
func (r *Room) wake() {
	if !r.hibernated {
		return
	}
	r.sessions = make(map[Conn]*session, len(r.conns))
	for _, conn := range r.conns {
		att := conn.Attachment()
		r.sessions[conn] = &session{name: att.Name, limiterKey: att.LimiterKey}
	}
	r.hibernated = false
	r.logger.Info().Int("connections", len(r.conns)).Msg("room restored sessions")
}

func (r *Room) shutdownConns() {
	for _, conn := range r.conns {
		r.closeConn(conn, CloseGoingAway, ReasonShutdown)
	}
	metrics.ConnectionsActive.Sub(float64(len(r.conns)))
	r.logger.Info().Int("connections", len(r.conns)).Msg("room stopped")
	r.conns = nil
	r.sessions = make(map[Conn]*session)
}

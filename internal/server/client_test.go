package server

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chatrooms/internal/chat"
	"github.com/Tyrowin/chatrooms/internal/history"
	"github.com/Tyrowin/chatrooms/internal/limiter"
	"github.com/Tyrowin/chatrooms/internal/room"
)

func TestClientSendAndClose(t *testing.T) {
	client := NewClient(nil, nil, "203.0.113.1", 1024, zerolog.Nop())
	require.NotEmpty(t, client.ID())

	require.NoError(t, client.Send([]byte(`{"type":"users","users":[]}`)))
	assert.Equal(t, [][]byte{[]byte(`{"type":"users","users":[]}`)}, <-client.GetSendChan())

	require.NoError(t, client.Close(websocket.CloseAbnormalClosure, "gone"))
	require.NoError(t, client.Close(websocket.CloseGoingAway, "again"))

	code, reason := client.closeStatus()
	assert.Equal(t, websocket.CloseNormalClosure, code, "1006 may not be sent in a close frame")
	assert.Equal(t, "gone", reason)

	_, ok := <-client.GetSendChan()
	assert.False(t, ok, "send channel is closed")
	assert.ErrorIs(t, client.Send([]byte("late")), errClientClosed)
}

func TestClientSendBufferFull(t *testing.T) {
	client := NewClient(nil, nil, "", 0, zerolog.Nop())

	for i := 0; i < sendBufferSize; i++ {
		require.NoError(t, client.Send([]byte("x")))
	}
	assert.ErrorIs(t, client.Send([]byte("x")), errSendBufferFull)
	assert.ErrorIs(t, client.SendBatch([][]byte{[]byte("y"), []byte("z")}), errSendBufferFull)
}

func TestClientSendBatchTakesOneSlot(t *testing.T) {
	client := NewClient(nil, nil, "", 0, zerolog.Nop())

	batch := make([][]byte, 3*sendBufferSize)
	for i := range batch {
		batch[i] = []byte(fmt.Sprintf("%d", i))
	}
	require.NoError(t, client.SendBatch(batch))
	require.NoError(t, client.SendBatch(nil))
	require.NoError(t, client.Send([]byte("after")))

	assert.Len(t, <-client.GetSendChan(), 3*sendBufferSize)
	assert.Equal(t, [][]byte{[]byte("after")}, <-client.GetSendChan())
}

// drainFrames returns every frame queued on client so far.
func drainFrames(client *Client) [][]byte {
	var frames [][]byte
	for {
		select {
		case batch := <-client.GetSendChan():
			frames = append(frames, batch...)
		default:
			return frames
		}
	}
}

func TestClientReceivesLargeBacklogOnJoin(t *testing.T) {
	ctx := context.Background()
	store := history.NewMemoryStore()
	for i := 0; i < 150; i++ {
		msg := chat.Chat{Message: fmt.Sprintf("old %d", i), From: "ghost", Timestamp: int64(i)}
		data, err := chat.Encode(msg)
		require.NoError(t, err)
		require.NoError(t, store.Put(ctx, "general", chat.HistoryKey(msg.Timestamp), string(data)))
	}

	limiters := limiter.NewRegistry(limiter.Options{Grace: time.Hour}, zerolog.Nop())
	rm := room.New("general", store, limiters, zerolog.Nop(), room.Options{})
	go rm.Run()
	t.Cleanup(func() {
		rm.Stop()
		limiters.Close()
	})

	receive := func(c *Client, cmd chat.Command) {
		t.Helper()
		data, err := chat.EncodeCommand(cmd)
		require.NoError(t, err)
		require.NoError(t, rm.Receive(ctx, c, data))
	}

	talker := NewClient(nil, rm, "198.51.100.1", 0, zerolog.Nop())
	require.NoError(t, rm.Connect(ctx, talker, talker.origin))
	receive(talker, chat.Join{Name: "talker"})

	late := NewClient(nil, rm, "198.51.100.2", 0, zerolog.Nop())
	require.NoError(t, rm.Connect(ctx, late, late.origin))
	for i := 0; i < 200; i++ {
		receive(talker, chat.SendChat{Message: fmt.Sprintf("live %d", i), Timestamp: int64(1000 + i)})
	}
	receive(late, chat.Join{Name: "late"})

	frames := drainFrames(late)
	require.Len(t, frames, 100+200+2, "100 backlog, 200 missed chats, join notice and roster")

	first, err := chat.Decode(frames[0])
	require.NoError(t, err)
	assert.Equal(t, chat.Chat{Message: "old 50", From: "ghost", Timestamp: 50}, first)

	last, err := chat.Decode(frames[len(frames)-1])
	require.NoError(t, err)
	assert.Equal(t, chat.NewUsers([]string{"talker", "late"}), last)

	roster, err := rm.Roster(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"talker", "late"}, roster)
}

func TestClientAttachment(t *testing.T) {
	client := NewClient(nil, nil, "", 0, zerolog.Nop())
	assert.Equal(t, room.Attachment{}, client.Attachment())

	att := room.Attachment{Name: "alice", LimiterKey: "k"}
	client.SetAttachment(att)
	assert.Equal(t, att, client.Attachment())
	assert.JSONEq(t, `{"name":"alice","limiterId":"k"}`, string(client.attachment))
}

func TestSendableCloseCode(t *testing.T) {
	assert.Equal(t, websocket.CloseNormalClosure, sendableCloseCode(0))
	assert.Equal(t, websocket.CloseNormalClosure, sendableCloseCode(websocket.CloseNoStatusReceived))
	assert.Equal(t, websocket.CloseNormalClosure, sendableCloseCode(websocket.CloseTLSHandshake))
	assert.Equal(t, websocket.CloseInternalServerErr, sendableCloseCode(websocket.CloseInternalServerErr))
	assert.Equal(t, 4000, sendableCloseCode(4000))
}

func TestIsExpectedCloseError(t *testing.T) {
	assert.True(t, isExpectedCloseError(nil))
	assert.True(t, isExpectedCloseError(websocket.ErrCloseSent))
	assert.False(t, isExpectedCloseError(websocket.ErrReadLimit))
}

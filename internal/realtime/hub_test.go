package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient() *Client {
	return &Client{send: make(chan []byte, 64)}
}

func receiveEvent(t *testing.T, c *Client) NewMessagesEvent {
	t.Helper()
	select {
	case data := <-c.send:
		var event NewMessagesEvent
		require.NoError(t, json.Unmarshal(data, &event))
		return event
	default:
		t.Fatal("expected a queued event")
		return NewMessagesEvent{}
	}
}

func TestBroadcast_DeliversToAllUserConnections(t *testing.T) {
	hub := NewHub()
	tab1 := newTestClient()
	tab2 := newTestClient()
	hub.Register("user-1", tab1)
	hub.Register("user-1", tab2)

	hub.Broadcast("user-1", NewMessagesEvent{
		AccountEmail: "a@example.com",
		MessageIDs:   []string{"m1", "m2"},
	})

	for _, c := range []*Client{tab1, tab2} {
		event := receiveEvent(t, c)
		assert.Equal(t, EventNewMessages, event.Type)
		assert.Equal(t, "a@example.com", event.AccountEmail)
		assert.Equal(t, []string{"m1", "m2"}, event.MessageIDs)
		assert.Equal(t, 2, event.Count)
	}
}

func TestBroadcast_OtherUsersReceiveNothing(t *testing.T) {
	hub := NewHub()
	mine := newTestClient()
	theirs := newTestClient()
	hub.Register("user-1", mine)
	hub.Register("user-2", theirs)

	hub.Broadcast("user-1", NewMessagesEvent{MessageIDs: []string{"m1"}})

	assert.Len(t, mine.send, 1)
	assert.Empty(t, theirs.send)
}

func TestBroadcast_DeadConnectionReaped(t *testing.T) {
	hub := NewHub()

	// A client whose queue is already full counts as dead.
	stuck := &Client{send: make(chan []byte)}
	healthy := newTestClient()
	hub.Register("user-1", stuck)
	hub.Register("user-1", healthy)

	hub.Broadcast("user-1", NewMessagesEvent{MessageIDs: []string{"m1"}})

	assert.Equal(t, 1, hub.ConnectionCount("user-1"))
	event := receiveEvent(t, healthy)
	assert.Equal(t, []string{"m1"}, event.MessageIDs)

	// The reaped client's queue was closed.
	_, open := <-stuck.send
	assert.False(t, open)
}

func TestBroadcast_NoConnectionsIsANoOp(t *testing.T) {
	hub := NewHub()
	hub.Broadcast("user-1", NewMessagesEvent{MessageIDs: []string{"m1"}})
	assert.Zero(t, hub.ConnectionCount("user-1"))
}

func TestBroadcast_OrderPreservedPerConnection(t *testing.T) {
	hub := NewHub()
	c := newTestClient()
	hub.Register("user-1", c)

	hub.Broadcast("user-1", NewMessagesEvent{MessageIDs: []string{"first"}})
	hub.Broadcast("user-1", NewMessagesEvent{MessageIDs: []string{"second"}})

	assert.Equal(t, []string{"first"}, receiveEvent(t, c).MessageIDs)
	assert.Equal(t, []string{"second"}, receiveEvent(t, c).MessageIDs)
}

func TestUnregister_LastConnectionRemovesUser(t *testing.T) {
	hub := NewHub()
	c := newTestClient()
	hub.Register("user-1", c)
	require.Equal(t, 1, hub.ConnectionCount("user-1"))

	hub.Unregister(c)
	assert.Zero(t, hub.ConnectionCount("user-1"))

	// Double unregister must not panic on the closed channel.
	hub.Unregister(c)
}

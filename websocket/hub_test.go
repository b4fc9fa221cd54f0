package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func receive(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case payload := <-c.Send:
		var ev Event
		require.NoError(t, json.Unmarshal(payload, &ev))
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestHub_SendToUserReachesOnlyThatUser(t *testing.T) {
	hub := startHub(t)

	alice1 := hub.RegisterClient(nil, "alice")
	alice2 := hub.RegisterClient(nil, "alice")
	bob := hub.RegisterClient(nil, "bob")

	hub.SendToUser("alice", Event{Type: "session.status", SessionID: "s1", Status: "active"})

	for _, c := range []*Client{alice1, alice2} {
		ev := receive(t, c)
		assert.Equal(t, "session.status", ev.Type)
		assert.Equal(t, "s1", ev.SessionID)
		assert.Equal(t, "active", ev.Status)
		assert.False(t, ev.Timestamp.IsZero())
	}

	select {
	case <-bob.Send:
		t.Fatal("bob should not receive alice's events")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_UnregisterClosesSendChannel(t *testing.T) {
	hub := startHub(t)

	c := hub.RegisterClient(nil, "alice")
	hub.Unregister(c)

	select {
	case _, ok := <-c.Send:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("send channel was not closed")
	}
	assert.Equal(t, 0, hub.ClientCount("alice"))
}

func TestHub_SendToUserWithoutClients(t *testing.T) {
	hub := startHub(t)
	hub.SendToUser("nobody", Event{Type: "session.created"})

	hub.RegisterClient(nil, "nobody")
	assert.Eventually(t, func() bool { return hub.ClientCount("nobody") == 1 }, time.Second, 10*time.Millisecond)
}

func TestHub_StoppedHubDoesNotBlockPumps(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	c := hub.RegisterClient(nil, "alice")
	hub.Stop()

	done := make(chan struct{})
	go func() {
		hub.Unregister(c)
		hub.RegisterClient(nil, "bob")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("unregister blocked after Stop")
	}
}

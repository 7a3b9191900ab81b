package realtime

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisPubSub_RoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ps := NewRedisPubSub(client, nil)

	type received struct {
		event string
		data  string
	}
	got := make(chan received, 1)
	cancel, err := ps.SubscribeSession("s-1", func(event string, payload []byte) {
		got <- received{event, string(payload)}
	})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, ps.PublishSessionEvent("s-1", "open_chat", []byte(`{"open":true}`)))
	require.NoError(t, ps.PublishSessionEvent("s-2", "open_chat", []byte(`{}`)))

	select {
	case r := <-got:
		assert.Equal(t, "open_chat", r.event)
		assert.JSONEq(t, `{"open":true}`, r.data)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
	select {
	case r := <-got:
		t.Fatalf("received message for another session: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
}

type recordingPublisher struct {
	events []string
}

func (p *recordingPublisher) PublishSessionEvent(sessionID string, event string, payload []byte) error {
	p.events = append(p.events, sessionID+"/"+event)
	return nil
}

func TestHub_PublishPrefersRedis(t *testing.T) {
	pub := &recordingPublisher{}
	hub := NewHub(nil, pub, nil)
	peer := &Peer{ID: "p1", SessionID: "s-1", send: make(chan Message, 1)}
	hub.Register(peer)

	hub.Publish("s-1", Message{Event: "share_screen"})
	assert.Equal(t, []string{"s-1/share_screen"}, pub.events)
	assert.Len(t, peer.send, 0)

	hub.Broadcast("s-1", Message{Event: "share_screen"})
	assert.Len(t, peer.send, 1)
}

func TestHub_PresenceAndCloseRoom(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	var counts []int
	hub.SetPresenceHandler(func(sessionID string, count int) { counts = append(counts, count) })

	a := &Peer{ID: "a", SessionID: "s-1", send: make(chan Message, 1)}
	b := &Peer{ID: "b", SessionID: "s-1", send: make(chan Message, 1)}
	hub.Register(a)
	hub.Register(b)
	assert.Equal(t, 2, hub.ParticipantCount("s-1"))

	hub.CloseRoom("s-1")
	_, open := <-a.send
	assert.False(t, open)
	hub.Broadcast("s-1", Message{Event: "open_chat"}) // closed peers are skipped

	hub.Unregister(a)
	hub.Unregister(b)
	assert.Equal(t, 0, hub.ParticipantCount("s-1"))
	assert.Equal(t, []int{1, 2, 1, 0}, counts)
}

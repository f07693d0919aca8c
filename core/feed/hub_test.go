package feed

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"CalmFM/model"

	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub()
	go h.Run()
	t.Cleanup(h.Stop)
	return h
}

func fakeClient(h *Hub, userID int64) *Client {
	return &Client{Hub: h, Send: make(chan []byte, 4), UserID: userID, control: make(chan []byte, 1)}
}

func receive(t *testing.T, c *Client) model.ChangeEvent {
	t.Helper()
	select {
	case data, ok := <-c.Send:
		require.True(t, ok, "send channel closed")
		var event model.ChangeEvent
		require.NoError(t, json.Unmarshal(data, &event))
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
	return model.ChangeEvent{}
}

func TestHubDeliversToOwnerOnly(t *testing.T) {
	t.Parallel()
	h := newTestHub(t)

	phone, laptop, stranger := fakeClient(h, 1), fakeClient(h, 1), fakeClient(h, 2)
	h.Register(phone)
	h.Register(laptop)
	h.Register(stranger)

	event := model.NewChangeEvent(model.EventTrackUpdated, "t1")
	event.Status = model.TrackStatusReady
	h.Notify(context.Background(), 1, event)

	require.Equal(t, event, receive(t, phone))
	require.Equal(t, event, receive(t, laptop))

	// the hub loop is sequential, so once this lands the first one was skipped
	h.Notify(context.Background(), 2, model.NewChangeEvent(model.EventTrackDeleted, "t2"))
	got := receive(t, stranger)
	require.Equal(t, model.EventTrackDeleted, got.Type)
	require.Equal(t, 2, h.ClientCount(1))
}

func TestHubUnregisterClosesSend(t *testing.T) {
	t.Parallel()
	h := newTestHub(t)

	c := fakeClient(h, 1)
	h.Register(c)
	h.Unregister(c)

	select {
	case _, ok := <-c.Send:
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("send channel not closed")
	}
	require.Equal(t, 0, h.ClientCount(1))

	// second unregister is a no-op
	h.Unregister(c)
}

func TestHubDropsSlowClient(t *testing.T) {
	t.Parallel()
	h := newTestHub(t)

	slow := &Client{Hub: h, Send: make(chan []byte), UserID: 1, control: make(chan []byte, 1)}
	h.Register(slow)
	h.Notify(context.Background(), 1, model.NewChangeEvent(model.EventPlayRecorded, "t"))

	require.Eventually(t, func() bool { return h.ClientCount(1) == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestHubStop(t *testing.T) {
	t.Parallel()
	h := NewHub()
	stopped := make(chan struct{})
	go func() {
		h.Run()
		close(stopped)
	}()

	c := fakeClient(h, 1)
	h.Register(c)
	h.Stop()
	<-stopped

	_, ok := <-c.Send
	require.False(t, ok)

	// must not block once stopped
	h.Notify(context.Background(), 1, model.NewChangeEvent(model.EventTrackCreated, "t"))
	h.Unregister(c)
	h.Stop()
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, int64, model.ChangeEvent) error {
	return errors.New("bus down")
}

type capturePublisher struct {
	events chan model.ChangeEvent
}

func (p capturePublisher) Publish(_ context.Context, _ int64, e model.ChangeEvent) error {
	p.events <- e
	return nil
}

func TestRelay(t *testing.T) {
	t.Parallel()
	h := newTestHub(t)
	c := fakeClient(h, 1)
	h.Register(c)

	event := model.NewChangeEvent(model.EventTrackCreated, "t1")

	NewRelay(failingPublisher{}, h).Notify(context.Background(), 1, event)
	require.Equal(t, event, receive(t, c))

	pub := capturePublisher{events: make(chan model.ChangeEvent, 1)}
	NewRelay(pub, h).Notify(context.Background(), 1, event)
	require.Equal(t, event, <-pub.events)
	select {
	case <-c.Send:
		t.Fatal("published event must not be delivered locally")
	case <-time.After(20 * time.Millisecond):
	}
}

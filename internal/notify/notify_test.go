package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carpool/internal/types"
)

func event(kind Kind, recipients ...types.ID) Event {
	return Event{ID: string(types.NewID()), Kind: kind, TripID: "trip1", Recipients: recipients, At: time.Now()}
}

func TestBrokerSinceFiltersByRecipientAndSeq(t *testing.T) {
	b := NewBroker(8)
	b.Publish(event(KindTripCreated, "pilot"))
	b.Publish(event(KindBookingRequested, "pilot"))
	b.Publish(event(KindBookingAccepted, "buddy"))
	b.Publish(event(KindTripFinished, "pilot", "buddy"))

	pilot := b.Since("pilot", 0, 0)
	require.Len(t, pilot, 3)
	assert.Equal(t, uint64(1), pilot[0].Seq)
	assert.Equal(t, uint64(4), pilot[2].Seq)

	after := b.Since("pilot", 2, 0)
	require.Len(t, after, 1)
	assert.Equal(t, KindTripFinished, after[0].Kind)

	limited := b.Since("pilot", 0, 2)
	assert.Len(t, limited, 2)

	assert.Empty(t, b.Since("nobody", 0, 0))
}

func TestBrokerRingKeepsNewest(t *testing.T) {
	b := NewBroker(3)
	for i := 0; i < 5; i++ {
		b.Publish(event(KindTripCreated, "u"))
	}
	got := b.Since("u", 0, 0)
	require.Len(t, got, 3)
	assert.Equal(t, []uint64{3, 4, 5}, []uint64{got[0].Seq, got[1].Seq, got[2].Seq})
}

func TestBrokerSubscribe(t *testing.T) {
	b := NewBroker(8)
	ch, cancel := b.Subscribe("buddy")

	b.Publish(event(KindTripCreated, "pilot"))
	b.Publish(event(KindBookingAccepted, "buddy"))

	select {
	case e := <-ch:
		assert.Equal(t, KindBookingAccepted, e.Kind)
		assert.Equal(t, uint64(2), e.Seq)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
	b.Publish(event(KindTripStarted, "buddy"))
}

type fakeSink struct {
	name string
	err  error
	mu   sync.Mutex
	got  []Event
	seen chan struct{}
}

func newFakeSink(name string, err error) *fakeSink {
	return &fakeSink{name: name, err: err, seen: make(chan struct{}, 16)}
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Publish(_ context.Context, e Event) error {
	f.mu.Lock()
	f.got = append(f.got, e)
	f.mu.Unlock()
	f.seen <- struct{}{}
	return f.err
}

func TestDispatcherDeliversToEverySink(t *testing.T) {
	broker := NewBroker(8)
	failing := newFakeSink("kafka", errors.New("broker down"))
	ok := newFakeSink("fcm", nil)
	d := NewDispatcher(broker, []Publisher{failing, ok}, DispatcherOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Notify(ctx, event(KindTripStarted, "buddy"))

	for _, s := range []*fakeSink{failing, ok} {
		select {
		case <-s.seen:
		case <-time.After(time.Second):
			t.Fatalf("sink %s not called", s.name)
		}
	}
	ok.mu.Lock()
	defer ok.mu.Unlock()
	require.Len(t, ok.got, 1)
	assert.Equal(t, uint64(1), ok.got[0].Seq)
	assert.Len(t, broker.Since("buddy", 0, 0), 1)
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	broker := NewBroker(8)
	d := NewDispatcher(broker, nil, DispatcherOptions{QueueSize: 1})

	d.Notify(context.Background(), event(KindTripCreated, "u"))
	d.Notify(context.Background(), event(KindTripStarted, "u"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx)

	got := broker.Since("u", 0, 0)
	require.Len(t, got, 1)
	assert.Equal(t, KindTripCreated, got[0].Kind)
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestKafkaPublisher(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisher(w)
	e := event(KindPaymentCompleted, "pilot")
	e.Seq = 7

	require.NoError(t, p.Publish(context.Background(), e))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "trip1", string(w.msgs[0].Key))
	assert.Equal(t, "payment_completed", string(w.msgs[0].Headers[0].Value))

	var decoded Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, uint64(7), decoded.Seq)
	assert.Equal(t, KindPaymentCompleted, decoded.Kind)
}

type fakeSender struct {
	msgs []*messaging.Message
	err  error
}

func (s *fakeSender) Send(_ context.Context, msg *messaging.Message) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.msgs = append(s.msgs, msg)
	return "msg-1", nil
}

func TestFCMPublisherSkipsUsersWithoutDevices(t *testing.T) {
	tokens := NewMemoryTokens()
	require.NoError(t, tokens.Register(context.Background(), "buddy", "tok-buddy"))
	sender := &fakeSender{}
	p := NewFCMPublisher(sender, tokens)

	e := event(KindBookingAccepted, "buddy", "pilot")
	e.Title = "Booking accepted"
	e.Data = map[string]string{"source": "coimbatore"}
	require.NoError(t, p.Publish(context.Background(), e))

	require.Len(t, sender.msgs, 1)
	msg := sender.msgs[0]
	assert.Equal(t, "tok-buddy", msg.Token)
	assert.Equal(t, "booking_accepted", msg.Data["type"])
	assert.Equal(t, "coimbatore", msg.Data["source"])
	assert.Equal(t, "Booking accepted", msg.Notification.Title)
}

func TestFCMPublisherReportsSendErrors(t *testing.T) {
	tokens := NewMemoryTokens()
	require.NoError(t, tokens.Register(context.Background(), "buddy", "tok"))
	p := NewFCMPublisher(&fakeSender{err: errors.New("unavailable")}, tokens)

	err := p.Publish(context.Background(), event(KindTripStarted, "buddy"))
	assert.ErrorContains(t, err, "unavailable")
}

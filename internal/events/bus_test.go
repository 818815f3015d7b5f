package events

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	events []Event
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, event Event) error {
	r.events = append(r.events, event)
	return r.err
}

func TestEmitFansOut(t *testing.T) {
	first := &recordingNotifier{}
	second := &recordingNotifier{}
	bus := &Bus{Notifiers: []Notifier{first, second}}

	aggregate := uuid.New()
	ev, err := bus.Emit(context.Background(), TopicPromotionApplied, aggregate, map[string]any{"code": "WEEKEND10"})
	require.NoError(t, err)
	require.Equal(t, TopicPromotionApplied, ev.Topic)
	require.Len(t, first.events, 1)
	require.Len(t, second.events, 1)
	require.JSONEq(t, `{"code":"WEEKEND10"}`, string(first.events[0].Payload))
}

func TestEmitJoinsNotifierErrors(t *testing.T) {
	failing := &recordingNotifier{err: errors.New("boom")}
	ok := &recordingNotifier{}
	bus := &Bus{Notifiers: []Notifier{failing, ok}}

	_, err := bus.Emit(context.Background(), TopicStockAllocated, uuid.New(), nil)
	require.Error(t, err)
	// The failure must not stop the fan-out.
	require.Len(t, ok.events, 1)
}

func TestEmitValidatesInput(t *testing.T) {
	bus := &Bus{}
	_, err := bus.Emit(context.Background(), "  ", uuid.New(), nil)
	require.Error(t, err)
	_, err = bus.Emit(context.Background(), TopicStockReleased, uuid.Nil, nil)
	require.Error(t, err)
	_, err = bus.Emit(context.Background(), TopicStockReleased, uuid.New(), []byte("not json"))
	require.Error(t, err)
}

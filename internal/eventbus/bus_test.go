package eventbus

import (
	"context"
	"errors"
	"testing"
)

func TestInMemoryBusDeliversToTopicSubscribers(t *testing.T) {
	bus := NewInMemoryBus()
	var parking, gates int
	bus.Subscribe(TopicParkingOverridesChanged, func(_ context.Context, topic string) error {
		if topic != TopicParkingOverridesChanged {
			t.Fatalf("unexpected topic %s", topic)
		}
		parking++
		return nil
	})
	bus.Subscribe(TopicGatesChanged, func(context.Context, string) error {
		gates++
		return nil
	})

	if err := bus.Publish(context.Background(), TopicParkingOverridesChanged); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if parking != 1 || gates != 0 {
		t.Fatalf("expected parking=1 gates=0, got %d %d", parking, gates)
	}
}

func TestInMemoryBusUnsubscribe(t *testing.T) {
	bus := NewInMemoryBus()
	calls := 0
	unsubscribe := bus.Subscribe(TopicGatesChanged, func(context.Context, string) error {
		calls++
		return nil
	})
	other := bus.Subscribe(TopicGatesChanged, func(context.Context, string) error { return nil })
	defer other()

	unsubscribe()
	unsubscribe()
	if err := bus.Publish(context.Background(), TopicGatesChanged); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no calls after unsubscribe, got %d", calls)
	}
	if got := bus.Subscribers(TopicGatesChanged); got != 1 {
		t.Fatalf("expected 1 subscriber left, got %d", got)
	}
}

func TestInMemoryBusReturnsFirstErrorAndRunsAll(t *testing.T) {
	bus := NewInMemoryBus()
	first := errors.New("first")
	ran := 0
	bus.Subscribe("x", func(context.Context, string) error { ran++; return first })
	bus.Subscribe("x", func(context.Context, string) error { ran++; return errors.New("second") })

	err := bus.Publish(context.Background(), "x")
	if !errors.Is(err, first) {
		t.Fatalf("expected first error, got %v", err)
	}
	if ran != 2 {
		t.Fatalf("expected both handlers to run, got %d", ran)
	}
	if err := bus.Publish(context.Background(), ""); !errors.Is(err, ErrEmptyTopic) {
		t.Fatalf("expected empty topic error, got %v", err)
	}
}

func TestInMemoryBusSubscribeDuringPublish(t *testing.T) {
	bus := NewInMemoryBus()
	bus.Subscribe("x", func(context.Context, string) error {
		bus.Subscribe("x", func(context.Context, string) error { return nil })
		return nil
	})
	if err := bus.Publish(context.Background(), "x"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := bus.Subscribers("x"); got != 2 {
		t.Fatalf("expected 2 subscribers, got %d", got)
	}
}

package eventbus

import (
	"context"
	"testing"
	"time"
)

func TestPublishReachesSubscriber(t *testing.T) {
	b := New(4)
	sub := b.Subscribe(context.Background(), TopicZone)
	defer sub.Close()

	b.Publish(context.Background(), TopicZone, "reload complete")

	select {
	case ev := <-sub.Ch:
		if ev.Topic != TopicZone || ev.Data != "reload complete" {
			t.Errorf("got event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishSkipsOtherTopics(t *testing.T) {
	b := New(4)
	sub := b.Subscribe(context.Background(), TopicServer)
	defer sub.Close()

	b.Publish(context.Background(), TopicZone, "zone event")

	select {
	case ev := <-sub.Ch:
		t.Errorf("unexpected event %+v on server topic", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := New(1)
	sub := b.Subscribe(context.Background(), TopicZone)
	defer sub.Close()

	// Fill the buffer, then publish more; Publish must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(context.Background(), TopicZone, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestCloseUnsubscribes(t *testing.T) {
	b := New(4)
	sub := b.Subscribe(context.Background(), TopicZone)
	sub.Close()

	// The channel closes once the unsubscribe goroutine runs.
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-sub.Ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscriber channel never closed")
		}
	}
}

package eventbus

import (
	"testing"
)

func TestPublishSubscribe(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(4)
	defer unsub()

	b.Publish(Event{Type: EventDelivered, Data: "payload"})

	select {
	case e := <-ch:
		if e.Type != EventDelivered || e.Data != "payload" {
			t.Fatalf("event = %+v", e)
		}
		if e.Time.IsZero() {
			t.Fatal("Publish must stamp Time")
		}
	default:
		t.Fatal("subscriber did not receive event")
	}
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: EventBundled})
	b.Publish(Event{Type: EventSilenced}) // buffer full, must not block

	e := <-ch
	if e.Type != EventBundled {
		t.Fatalf("first event = %q, want bundled", e.Type)
	}
	select {
	case e := <-ch:
		t.Fatalf("unexpected second event %+v", e)
	default:
	}
}

func TestPublishAfterUnsubscribe(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	unsub()
	unsub() // idempotent

	// Must neither panic nor block.
	b.Publish(Event{Type: EventFailed})
}

func TestFanout(t *testing.T) {
	t.Parallel()
	b := New()
	ch1, unsub1 := b.Subscribe(1)
	ch2, unsub2 := b.Subscribe(1)
	defer unsub1()
	defer unsub2()

	b.Publish(Event{Type: EventDelivered})
	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case <-ch:
		default:
			t.Fatalf("subscriber %d missed the event", i)
		}
	}
}

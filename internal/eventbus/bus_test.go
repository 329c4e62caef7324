package eventbus

import "testing"

func TestPublishFansOutAndDropsWhenFull(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: PollStarted})
	b.Publish(Event{Type: PollFinished})

	if ev := <-a; ev.Type != PollStarted || ev.Time.IsZero() {
		t.Fatalf("a got %+v", ev)
	}
	if ev := <-c; ev.Type != PollStarted {
		t.Fatalf("c got %+v", ev)
	}
	if ev := <-c; ev.Type != PollFinished {
		t.Fatalf("c got %+v", ev)
	}
	if Dropped(b) != 1 {
		t.Fatalf("dropped = %d, want 1", Dropped(b))
	}

	unsubA()
	unsubA()
	if _, ok := <-a; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	b.Publish(Event{Type: LevelUp})
	if ev := <-c; ev.Type != LevelUp {
		t.Fatalf("c got %+v", ev)
	}
}

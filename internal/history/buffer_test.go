package history

import (
	"fmt"
	"sync"
	"testing"
)

func TestAddAndGet(t *testing.T) {
	b := NewBuffer(0)

	b.Add("c1", Entry{MessageID: "1", AuthorID: "a", Text: "hello", Ts: 1})
	b.Add("c1", Entry{MessageID: "2", AuthorID: "b", Text: "hi", Ts: 2})
	b.Add("c1", Entry{MessageID: "3", AuthorID: "a", Text: "how are you?", Ts: 3})

	msgs := b.Get("c1")
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	want := []string{"hello", "hi", "how are you?"}
	for i, w := range want {
		if msgs[i].Text != w {
			t.Errorf("index %d: expected %q, got %q", i, w, msgs[i].Text)
		}
	}
}

func TestRingWraparound(t *testing.T) {
	b := NewBuffer(DefaultSize)

	for i := 1; i <= 7; i++ {
		b.Add("c1", Entry{MessageID: fmt.Sprint(i), Text: fmt.Sprintf("msg-%d", i), Ts: int64(i)})
	}

	msgs := b.Get("c1")
	if len(msgs) != DefaultSize {
		t.Fatalf("expected %d messages, got %d", DefaultSize, len(msgs))
	}
	for i, msg := range msgs {
		expected := fmt.Sprintf("msg-%d", i+3)
		if msg.Text != expected {
			t.Errorf("index %d: expected %q, got %q", i, expected, msg.Text)
		}
	}
}

func TestGetUnknownChannel(t *testing.T) {
	b := NewBuffer(3)

	msgs := b.Get("does-not-exist")
	if msgs == nil {
		t.Fatal("expected non-nil empty slice, got nil")
	}
	if len(msgs) != 0 {
		t.Fatalf("expected 0 messages, got %d", len(msgs))
	}
}

func TestAround(t *testing.T) {
	b := NewBuffer(5)
	for i := 1; i <= 4; i++ {
		b.Add("c1", Entry{MessageID: fmt.Sprint(i), Text: fmt.Sprintf("msg-%d", i)})
	}

	got := b.Around("c1", "2")
	if len(got) != 2 || got[1].MessageID != "2" {
		t.Errorf("Around(2) = %+v", got)
	}

	got = b.Around("c1", "gone")
	if len(got) != 4 {
		t.Errorf("Around(gone) returned %d entries, want 4", len(got))
	}
}

func TestRemove(t *testing.T) {
	b := NewBuffer(3)
	b.Add("c1", Entry{Text: "hello"})
	b.Add("c2", Entry{Text: "other"})

	b.Remove("c1")
	b.Remove("does-not-exist")

	if n := len(b.Get("c1")); n != 0 {
		t.Fatalf("expected 0 messages after remove, got %d", n)
	}
	if b.Channels() != 1 {
		t.Errorf("expected 1 channel, got %d", b.Channels())
	}
}

func TestConcurrentAccess(t *testing.T) {
	b := NewBuffer(DefaultSize)
	goroutines := 100
	perGoroutine := 20

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(id int) {
			defer wg.Done()
			for m := 0; m < perGoroutine; m++ {
				b.Add("busy", Entry{AuthorID: fmt.Sprint(id), Text: fmt.Sprintf("g%d-m%d", id, m)})
				_ = b.Get("busy")
			}
		}(g)
	}
	wg.Wait()

	if n := len(b.Get("busy")); n != DefaultSize {
		t.Fatalf("expected %d messages after concurrent writes, got %d", DefaultSize, n)
	}
}

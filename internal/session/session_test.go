package session

import (
	"errors"
	"sync"
	"testing"
)

func TestCreateAssignsUniqueIDs(t *testing.T) {
	st := NewStore()
	seen := make(map[string]bool)
	for range 10000 {
		s := st.Create()
		if s.ID == "" {
			t.Fatal("empty session ID")
		}
		if seen[s.ID] {
			t.Fatalf("duplicate session ID %q", s.ID)
		}
		seen[s.ID] = true
	}
}

func TestGetUnknownID(t *testing.T) {
	st := NewStore()
	_, err := st.Get("nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	st := NewStore()
	s := st.Create()
	if st.Count() != 1 {
		t.Fatalf("count = %d", st.Count())
	}

	st.Remove(s.ID)
	if st.Count() != 0 {
		t.Errorf("count after remove = %d", st.Count())
	}
	if _, err := st.Get(s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after remove, got %v", err)
	}

	// Removing again is a no-op.
	st.Remove(s.ID)
}

func TestResetPreservesID(t *testing.T) {
	st := NewStore()
	s := st.Create()
	s.Append(Message{Role: "user", Content: "hello"})
	s.Append(Message{Role: "assistant", Content: "hi"})

	id := s.ID
	s.Reset()

	if s.ID != id {
		t.Errorf("ID changed on reset: %q vs %q", s.ID, id)
	}
	if s.Len() != 0 {
		t.Errorf("transcript not cleared, len = %d", s.Len())
	}

	// Session still resolvable from the store.
	got, err := st.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if got != s {
		t.Error("store returned a different session after reset")
	}
}

func TestHistoryReturnsCopy(t *testing.T) {
	st := NewStore()
	s := st.Create()
	s.Append(Message{Role: "user", Content: "hello"})

	h := s.History()
	h[0].Content = "mutated"

	if s.History()[0].Content != "hello" {
		t.Error("History exposed internal state")
	}
}

func TestAppendSetsCreatedAt(t *testing.T) {
	st := NewStore()
	s := st.Create()
	s.Append(Message{Role: "user", Content: "hello"})

	if s.History()[0].CreatedAt.IsZero() {
		t.Error("CreatedAt not set on append")
	}
}

func TestBusyGuard(t *testing.T) {
	st := NewStore()
	s := st.Create()

	if !s.TryAcquire() {
		t.Fatal("first acquire should succeed")
	}
	if s.TryAcquire() {
		t.Fatal("second acquire should fail while busy")
	}
	s.Release()
	if !s.TryAcquire() {
		t.Fatal("acquire after release should succeed")
	}
}

func TestBusyGuardConcurrent(t *testing.T) {
	st := NewStore()
	s := st.Create()

	const goroutines = 50
	var wg sync.WaitGroup
	acquired := make(chan struct{}, goroutines)

	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.TryAcquire() {
				acquired <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(acquired)

	count := 0
	for range acquired {
		count++
	}
	if count != 1 {
		t.Errorf("expected exactly 1 winner, got %d", count)
	}
}

func TestConcurrentAppend(t *testing.T) {
	st := NewStore()
	s := st.Create()

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Append(Message{Role: "user", Content: "x"})
		}()
	}
	wg.Wait()

	if s.Len() != 100 {
		t.Errorf("len = %d, want 100", s.Len())
	}
}

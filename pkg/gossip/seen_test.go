package gossip

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestSeenMarkIfNew(t *testing.T) {
	s := newSeenSet(time.Minute, 100)
	if !s.MarkIfNew("f1") {
		t.Fatal("first sight must be new")
	}
	if s.MarkIfNew("f1") {
		t.Fatal("second sight must be a duplicate")
	}
	if !s.MarkIfNew("f2") {
		t.Fatal("distinct id must be new")
	}
}

func TestSeenConcurrentSingleAdmission(t *testing.T) {
	s := newSeenSet(time.Minute, 1000)
	const goroutines = 50
	admitted := make(chan bool, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			admitted <- s.MarkIfNew("same-fact")
		}()
	}
	wg.Wait()
	close(admitted)

	count := 0
	for ok := range admitted {
		if ok {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected exactly one admission, got %d", count)
	}
}

func TestSeenTTLExpiry(t *testing.T) {
	s := newSeenSet(50*time.Millisecond, 100)
	s.MarkIfNew("f1")
	if s.MarkIfNew("f1") {
		t.Fatal("duplicate inside TTL must be rejected")
	}
	time.Sleep(80 * time.Millisecond)
	if !s.MarkIfNew("f1") {
		t.Error("expired id must be admitted again")
	}
}

func TestSeenSweepShrinks(t *testing.T) {
	s := newSeenSet(10*time.Millisecond, 100)
	for i := 0; i < 10; i++ {
		s.MarkIfNew(fmt.Sprintf("f%d", i))
	}
	time.Sleep(30 * time.Millisecond)
	s.Sweep()
	if n := s.Len(); n != 0 {
		t.Errorf("expected empty set after sweep, got %d entries", n)
	}
}

func TestSeenMaxEntriesBound(t *testing.T) {
	s := newSeenSet(time.Hour, 10)
	for i := 0; i < 100; i++ {
		s.MarkIfNew(fmt.Sprintf("f%d", i))
	}
	if n := s.Len(); n > 10 {
		t.Errorf("set exceeded its bound: %d entries", n)
	}
	// The newest entries survive eviction.
	if s.MarkIfNew("f99") {
		t.Error("most recent id should still be tracked")
	}
	// The oldest were evicted and count as new again.
	if !s.MarkIfNew("f0") {
		t.Error("evicted id should be admitted again")
	}
}

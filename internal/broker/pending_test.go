package broker

import (
	"sync"
	"testing"
)

func TestPendingSet_AddAck(t *testing.T) {
	p := NewPendingSet()
	p.Add(42)

	if !p.Contains(42) {
		t.Fatal("Contains(42) = false after Add")
	}
	if !p.Ack(42) {
		t.Error("Ack(42) = false, want true")
	}
	if p.Contains(42) {
		t.Error("Contains(42) = true after Ack")
	}
}

func TestPendingSet_DuplicateAck(t *testing.T) {
	p := NewPendingSet()
	p.Add(42)
	p.Add(7)

	p.Ack(42)
	if p.Ack(42) {
		t.Error("second Ack(42) = true, want false")
	}
	if got := p.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}
}

func TestPendingSet_AckUnknown(t *testing.T) {
	p := NewPendingSet()
	p.Add(1)

	if p.Ack(99) {
		t.Error("Ack(99) = true for unknown id")
	}
	if got := p.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}
}

func TestPendingSet_ConcurrentReaders(t *testing.T) {
	p := NewPendingSet()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := uint16(0); i < 1000; i++ {
			p.Add(i)
			p.Ack(i)
		}
	}()

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				_ = p.Len()
			}
		}()
	}
	wg.Wait()

	if got := p.Len(); got != 0 {
		t.Errorf("Len() = %d, want 0", got)
	}
}

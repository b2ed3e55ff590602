package energy

import (
	"errors"
	"sync"
	"testing"
)

func TestScriptedReplaysAndSticks(t *testing.T) {
	s := NewScripted(10, 20, 35)
	var got []uint64
	for i := 0; i < 5; i++ {
		v, err := s.Read()
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		got = append(got, v)
	}
	want := []uint64{10, 20, 35, 35, 35}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("read %d: expected %d got %d", i, want[i], got[i])
		}
	}
}

func TestScriptedAcquireSharesSequence(t *testing.T) {
	s := NewScripted(1, 2)
	m1, err := s.Acquire()
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	m2, err := s.Acquire()
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if v, _ := m1.Read(); v != 1 {
		t.Fatalf("expected 1, got %d", v)
	}
	if v, _ := m2.Read(); v != 2 {
		t.Fatalf("meters must share one counter, got %d", v)
	}
}

func TestScriptedConcurrentReads(t *testing.T) {
	s := NewScripted(0, 1, 2, 3, 4, 5, 6, 7)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Read(); err != nil {
				t.Errorf("read: %v", err)
			}
		}()
	}
	wg.Wait()
	if v, _ := s.Read(); v != 7 {
		t.Fatalf("expected sticky last value 7, got %d", v)
	}
}

func TestFailingDoubles(t *testing.T) {
	sentinel := errors.New("no device")
	if _, err := (FailingSource{Err: sentinel}).Acquire(); !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}
	m, err := (FailingMeter{Err: sentinel}).Acquire()
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := m.Read(); !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel read failure, got %v", err)
	}
}

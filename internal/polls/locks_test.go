package polls

import (
	"sync"
	"testing"
)

func TestRoomLocksSerialize(t *testing.T) {
	locks := NewRoomLocks()

	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("ROOM01")
			defer unlock()
			v := counter
			counter = v + 1
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("counter = %d, want 50", counter)
	}
	if locks.Len() != 0 {
		t.Errorf("Len() = %d, want 0", locks.Len())
	}
}

func TestRoomLocksIndependentRooms(t *testing.T) {
	locks := NewRoomLocks()

	unlockA := locks.Lock("AAAAAA")
	done := make(chan struct{})
	go func() {
		unlock := locks.Lock("BBBBBB")
		unlock()
		close(done)
	}()
	<-done

	if locks.Len() != 1 {
		t.Errorf("Len() = %d, want 1", locks.Len())
	}
	unlockA()
	if locks.Len() != 0 {
		t.Errorf("Len() = %d, want 0", locks.Len())
	}
}

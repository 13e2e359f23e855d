package agentloop

import (
	"sync"
	"testing"
)

func TestCancelSignal(t *testing.T) {
	c := NewCancelSignal()
	if c.Cancelled() {
		t.Fatal("new signal should not be cancelled")
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Cancel()
		}()
	}
	wg.Wait()

	if !c.Cancelled() {
		t.Fatal("expected signal to be cancelled")
	}
	c.Reset()
	if c.Cancelled() {
		t.Error("expected Reset to clear the signal")
	}
}

func TestNilCancelSignal(t *testing.T) {
	var c *CancelSignal
	c.Cancel()
	c.Reset()
	if c.Cancelled() {
		t.Error("nil signal should never report cancelled")
	}
}

package realclock

import (
	"testing"
	"time"
)

func TestAfterNonPositiveFiresImmediately(t *testing.T) {
	c := New()
	for _, d := range []time.Duration{0, -time.Second} {
		select {
		case <-c.After(d):
		default:
			t.Errorf("After(%v) did not fire immediately", d)
		}
	}
}

func TestTicker(t *testing.T) {
	tk := New().NewTicker(time.Millisecond)
	defer tk.Stop()
	select {
	case <-tk.C():
	case <-time.After(time.Second):
		t.Fatal("ticker did not fire")
	}
}

func TestSleepAndNow(t *testing.T) {
	c := New()
	before := c.Now()
	c.Sleep(-time.Second)
	c.Sleep(time.Millisecond)
	if got := c.Now().Sub(before); got < time.Millisecond {
		t.Errorf("elapsed = %v, want >= 1ms", got)
	}
}

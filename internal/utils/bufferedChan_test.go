package utils

import (
	"testing"
	"time"
)

func TestBufferedChanKeepsOrder(t *testing.T) {
	c := NewBufferedChan[int]()
	defer c.Close()

	// The inlet never blocks on a slow reader
	for i := 0; i < 100; i++ {
		c.Inlet() <- i
	}

	for i := 0; i < 100; i++ {
		select {
		case v := <-c.Outlet():
			if v != i {
				t.Fatalf("Expected %d, got %d", i, v)
			}
		case <-time.After(time.Second):
			t.Fatalf("Timed out waiting for value %d", i)
		}
	}
}

func TestBufferedChanCloseClosesOutlet(t *testing.T) {
	c := NewBufferedChan[string]()
	c.Close()

	select {
	case _, ok := <-c.Outlet():
		if ok {
			t.Error("Expected outlet to be closed")
		}
	case <-time.After(time.Second):
		t.Error("Timed out waiting for outlet to close")
	}
}

func TestBufferedChanInterleavesSendsAndReceives(t *testing.T) {
	c := NewBufferedChan[int]()
	defer c.Close()

	next := 0
	for round := 0; round < 10; round++ {
		for i := 0; i < round; i++ {
			c.Inlet() <- next + i
		}
		for i := 0; i < round; i++ {
			select {
			case v := <-c.Outlet():
				if v != next {
					t.Fatalf("Expected %d, got %d", next, v)
				}
				next++
			case <-time.After(time.Second):
				t.Fatalf("Timed out waiting for value %d", next)
			}
		}
	}
}

package main

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDeliveriesRefuseWorkAfterWait(t *testing.T) {
	var d deliveries
	var ran atomic.Int32
	release := make(chan struct{})
	if !d.Go(func() { <-release; ran.Add(1) }) {
		t.Fatal("Go refused before Wait")
	}

	waited := make(chan struct{})
	go func() {
		d.Wait()
		close(waited)
	}()

	// Late assignments race the shutdown; none may slip past Wait.
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Go(func() { ran.Add(1) })
		}()
	}
	wg.Wait()
	close(release)

	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait never returned")
	}
	if d.Go(func() {}) {
		t.Fatal("Go accepted work after Wait")
	}
	if ran.Load() < 1 {
		t.Fatal("accepted work did not run")
	}
}

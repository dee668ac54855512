package broker

import (
	"context"
	"sync"
	"testing"
)

func TestPoolWithReleasesHandle(t *testing.T) {
	p, err := NewPool(2, func() (struct{}, error) { return struct{}{}, nil })
	if err != nil {
		t.Fatal(err)
	}
	if got := p.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}

	err = p.With(context.Background(), func(struct{}) error { return nil })
	if err != nil {
		t.Fatal(err)
	}
	if got := p.Len(); got != 2 {
		t.Fatalf("Len() after With = %d, want 2", got)
	}
}

func TestPoolWithReleasesOnPanic(t *testing.T) {
	p, err := NewPool(1, func() (struct{}, error) { return struct{}{}, nil })
	if err != nil {
		t.Fatal(err)
	}

	func() {
		defer func() { recover() }()
		p.With(context.Background(), func(struct{}) error { panic("boom") })
	}()

	if got := p.Len(); got != 1 {
		t.Fatalf("Len() after panic = %d, want 1", got)
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p, err := NewPool(1, func() (struct{}, error) { return struct{}{}, nil })
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	inFlight := 0
	maxSeen := 0
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.With(context.Background(), func(struct{}) error {
				mu.Lock()
				inFlight++
				if inFlight > maxSeen {
					maxSeen = inFlight
				}
				mu.Unlock()

				mu.Lock()
				inFlight--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	if maxSeen > 1 {
		t.Fatalf("pool of size 1 allowed %d concurrent holders", maxSeen)
	}
}

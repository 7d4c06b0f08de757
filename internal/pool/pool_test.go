package pool

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestCheckoutReusesSingleConnection(t *testing.T) {
	p := New(filepath.Join(t.TempDir(), "one.db"), 1, time.Second)

	c1, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("checkout 1: %v", err)
	}
	if err := c1.Close(); err != nil {
		t.Fatalf("close 1: %v", err)
	}

	c2, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("checkout 2: %v", err)
	}
	if err := c2.Close(); err != nil {
		t.Fatalf("close 2: %v", err)
	}

	if got := p.Created(); got != 1 {
		t.Fatalf("expected exactly one connection ever created, got %d", got)
	}
}

func TestCheckoutTimesOutWhenExhausted(t *testing.T) {
	p := New(filepath.Join(t.TempDir(), "busy.db"), 1, 500*time.Millisecond)

	held, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	defer held.Close()

	start := time.Now()
	_, err = p.Checkout(context.Background())
	elapsed := time.Since(start)

	if err == nil {
		t.Fatalf("expected timeout error, got nil")
	}
	if elapsed > time.Second {
		t.Fatalf("timeout took too long: %v", elapsed)
	}
}

func TestDoubleCloseIsNoOp(t *testing.T) {
	p := New(filepath.Join(t.TempDir(), "double.db"), 1, time.Second)

	c, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
	if p.Created() != 1 {
		t.Fatalf("double close must not create extra connections")
	}
}

func TestCloseAllResetsAndStaysUsable(t *testing.T) {
	p := New(filepath.Join(t.TempDir(), "reset.db"), 2, time.Second)

	c1, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	c1.Close()

	if err := p.CloseAll(); err != nil {
		t.Fatalf("close all: %v", err)
	}
	if p.Created() != 0 {
		t.Fatalf("expected created counter reset, got %d", p.Created())
	}

	c2, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("checkout after close all: %v", err)
	}
	defer c2.Close()
	if p.Created() != 1 {
		t.Fatalf("expected one connection recreated after close all, got %d", p.Created())
	}
}

func TestConcurrentCheckoutReturnCycles(t *testing.T) {
	p := New(filepath.Join(t.TempDir(), "concurrent.db"), 3, 2*time.Second)

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := p.Checkout(context.Background())
			if err != nil {
				errs <- err
				return
			}
			time.Sleep(time.Millisecond)
			errs <- c.Close()
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("unexpected error in concurrent cycle: %v", err)
		}
	}
	if p.Created() > 3 {
		t.Fatalf("pool exceeded its size cap: created=%d", p.Created())
	}
}

func TestRegistryDedupesByResolvedPath(t *testing.T) {
	dir := t.TempDir()
	rel := filepath.Join(dir, "shared.db")
	abs, err := filepath.Abs(rel)
	if err != nil {
		t.Fatalf("abs: %v", err)
	}

	reg := NewRegistry(5, time.Second)
	p1, err := reg.Get(rel)
	if err != nil {
		t.Fatalf("get rel: %v", err)
	}
	p2, err := reg.Get(abs)
	if err != nil {
		t.Fatalf("get abs: %v", err)
	}
	if p1 != p2 {
		t.Fatalf("expected the same pool instance for relative and absolute paths")
	}
}

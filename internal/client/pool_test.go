package client

import (
	"context"
	"testing"
)

func TestControllerPool(t *testing.T) {
	p := NewControllerPool()

	ctx1, cancel1 := context.WithCancel(context.Background())
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()

	p.Add("s1", "m1", cancel1)
	p.Add("s1", "m2", cancel2)

	if !p.HasPending() {
		t.Fatal("expected pending entries")
	}

	if !p.Stop("s1", "m1") {
		t.Fatal("Stop reported no entry")
	}
	if ctx1.Err() == nil {
		t.Fatal("Stop did not cancel the context")
	}
	if ctx2.Err() != nil {
		t.Fatal("Stop cancelled the wrong entry")
	}

	if p.Stop("s1", "missing") {
		t.Fatal("Stop on unknown key reported true")
	}

	p.Remove("s1", "m1")
	p.Remove("s1", "m2")
	if p.HasPending() {
		t.Fatal("expected empty pool after removes")
	}
}

func TestControllerPoolStopAll(t *testing.T) {
	p := NewControllerPool()
	ctxs := make([]context.Context, 3)
	for i := range ctxs {
		ctx, cancel := context.WithCancel(context.Background())
		ctxs[i] = ctx
		p.Add("s", string(rune('a'+i)), cancel)
	}
	p.StopAll()
	for i, ctx := range ctxs {
		if ctx.Err() == nil {
			t.Fatalf("entry %d not cancelled", i)
		}
	}
}

package pipeline

import (
	"testing"

	"github.com/mitrokun/wyoming-supertonic/internal/engine"
)

func res(index int) *engine.AudioResult {
	return &engine.AudioResult{UnitIndex: index}
}

func TestReorderInOrder(t *testing.T) {
	b := newReorderBuffer(0)
	for i := 0; i < 4; i++ {
		out := b.put(res(i))
		if len(out) != 1 || out[0].UnitIndex != i {
			t.Fatalf("put(%d) released %#v", i, out)
		}
	}
	if b.held() != 0 {
		t.Fatalf("expected empty buffer, holding %d", b.held())
	}
}

func TestReorderOutOfOrder(t *testing.T) {
	b := newReorderBuffer(0)
	if out := b.put(res(2)); len(out) != 0 {
		t.Fatalf("released early: %#v", out)
	}
	if out := b.put(res(1)); len(out) != 0 {
		t.Fatalf("released early: %#v", out)
	}
	if b.held() != 2 {
		t.Fatalf("expected 2 held, got %d", b.held())
	}
	out := b.put(res(0))
	if len(out) != 3 {
		t.Fatalf("expected full flush, got %#v", out)
	}
	for i, r := range out {
		if r.UnitIndex != i {
			t.Fatalf("release order wrong at %d: %#v", i, out)
		}
	}
}

func TestReorderOffsetStart(t *testing.T) {
	b := newReorderBuffer(5)
	if out := b.put(res(6)); len(out) != 0 {
		t.Fatalf("released early: %#v", out)
	}
	out := b.put(res(5))
	if len(out) != 2 || out[0].UnitIndex != 5 || out[1].UnitIndex != 6 {
		t.Fatalf("expected units 5 and 6, got %#v", out)
	}
}

func TestReorderPartialPrefix(t *testing.T) {
	b := newReorderBuffer(0)
	b.put(res(3))
	out := b.put(res(0))
	if len(out) != 1 || out[0].UnitIndex != 0 {
		t.Fatalf("expected only unit 0, got %#v", out)
	}
	out = b.put(res(1))
	if len(out) != 1 || out[0].UnitIndex != 1 {
		t.Fatalf("expected only unit 1, got %#v", out)
	}
	out = b.put(res(2))
	if len(out) != 2 {
		t.Fatalf("expected units 2 and 3, got %#v", out)
	}
}

package prf

import "testing"

func TestArenaAllocSizesBuffer(t *testing.T) {
	a := NewArena()
	b := a.Alloc(300)
	if len(b.Bytes()) != 300 {
		t.Fatalf("len = %d, want 300", len(b.Bytes()))
	}
}

func TestArenaBufferReleasedAfterLastRef(t *testing.T) {
	a := NewArena()
	b := a.Alloc(100)
	b.Retain() // two holders now
	b.Release()
	if b.refs != 1 {
		t.Fatalf("refs = %d, want 1 after one release of two", b.refs)
	}
	b.Release()
	if b.refs != 0 {
		t.Fatalf("refs = %d, want 0 after final release", b.refs)
	}
}

func TestArenaOversizeAllocBypassesPool(t *testing.T) {
	a := NewArena()
	b := a.Alloc(1 << 20)
	if b.bucket != -1 {
		t.Fatalf("expected oversize alloc to bypass pooling, bucket = %d", b.bucket)
	}
	if len(b.Bytes()) != 1<<20 {
		t.Fatalf("len = %d, want %d", len(b.Bytes()), 1<<20)
	}
}

package server

import "testing"

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	a := newConn(1, 10, "127.0.0.1:1000")
	b := newConn(2, 11, "127.0.0.1:1001")
	r.Add(a)
	r.Add(b)

	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
	if r.Get(10) != a {
		t.Error("Get(10) should return a")
	}
	if r.Get(99) != nil {
		t.Error("Get of unknown fd should return nil")
	}

	if got := r.Remove(10); got != a {
		t.Error("Remove(10) should return a")
	}
	if got := r.Remove(10); got != nil {
		t.Error("second Remove should return nil")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
	if r.Peak() != 2 {
		t.Errorf("Peak() = %d, want 2", r.Peak())
	}

	drained := r.Drain()
	if len(drained) != 1 || drained[0] != b {
		t.Errorf("Drain() = %v, want [b]", drained)
	}
	if r.Len() != 0 {
		t.Errorf("Len() after Drain = %d, want 0", r.Len())
	}
}

func TestRegistryReusedDescriptor(t *testing.T) {
	r := NewRegistry()

	old := newConn(1, 10, "")
	r.Add(old)
	r.Remove(10)

	fresh := newConn(2, 10, "")
	r.Add(fresh)
	if r.Get(10) != fresh {
		t.Error("reused descriptor should map to the new connection")
	}
}

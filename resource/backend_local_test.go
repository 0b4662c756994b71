package resource

import (
	"sync"
	"testing"
)

func TestLocalBackend_Basic(t *testing.T) {
	b := NewLocalBackend()
	defer b.Close()

	h, err := b.Create(1, "callback")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if h == 0 {
		t.Fatal("handle 0 must never be issued")
	}

	val, ok := b.Get(h)
	if !ok || val != "callback" {
		t.Fatalf("Get = %v, %v", val, ok)
	}

	kind, ok := b.Kind(h)
	if !ok || kind != 1 {
		t.Fatalf("Kind = %v, %v", kind, ok)
	}

	val, ok = b.Drop(h)
	if !ok || val != "callback" {
		t.Fatalf("Drop = %v, %v", val, ok)
	}

	if _, ok := b.Get(h); ok {
		t.Fatal("Get after Drop should fail")
	}
	if _, ok := b.Drop(h); ok {
		t.Fatal("second Drop should fail")
	}
}

func TestLocalBackend_BorrowDefersDrop(t *testing.T) {
	b := NewLocalBackend()
	defer b.Close()

	h, _ := b.Create(1, "env")
	if !b.Borrow(h) {
		t.Fatal("Borrow failed")
	}

	if _, ok := b.Drop(h); ok {
		t.Fatal("Drop of a borrowed handle should be deferred")
	}
	if _, ok := b.Get(h); !ok {
		t.Fatal("value must stay reachable while borrowed")
	}
	if b.Borrow(h) {
		t.Fatal("Borrow after a deferred drop should fail")
	}

	val, dropped, ok := b.ReturnBorrow(h)
	if !ok || !dropped || val != "env" {
		t.Fatalf("ReturnBorrow = %v, %v, %v", val, dropped, ok)
	}
	if _, ok := b.Get(h); ok {
		t.Fatal("value should be gone after the last borrow returns")
	}
}

func TestLocalBackend_MultipleBorrows(t *testing.T) {
	b := NewLocalBackend()
	defer b.Close()

	h, _ := b.Create(1, "env")
	b.Borrow(h)
	b.Borrow(h)
	b.Drop(h)

	if _, dropped, ok := b.ReturnBorrow(h); !ok || dropped {
		t.Fatal("first return should not complete the drop")
	}
	if _, dropped, ok := b.ReturnBorrow(h); !ok || !dropped {
		t.Fatal("second return should complete the drop")
	}
	if _, _, ok := b.ReturnBorrow(h); ok {
		t.Fatal("ReturnBorrow without a borrow should fail")
	}
}

func TestLocalBackend_HandleReuse(t *testing.T) {
	b := NewLocalBackend()
	defer b.Close()

	h1, _ := b.Create(1, "a")
	b.Drop(h1)

	h2, _ := b.Create(2, "b")
	if h2 != h1 {
		t.Fatalf("expected freed handle %d to be reused, got %d", h1, h2)
	}
	kind, _ := b.Kind(h2)
	if kind != 2 {
		t.Fatalf("reused slot kept stale kind %d", kind)
	}
}

func TestLocalBackend_Close(t *testing.T) {
	b := NewLocalBackend()
	d := &dropCounter{}
	b.Create(1, d)

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if d.count != 1 {
		t.Fatalf("Drop called %d times, want 1", d.count)
	}
	if _, err := b.Create(1, "late"); err != ErrClosed {
		t.Fatalf("Create after Close = %v, want ErrClosed", err)
	}
	if err := b.Close(); err != nil {
		t.Fatal("second Close should be a no-op")
	}
}

func TestLocalBackend_Concurrent(t *testing.T) {
	b := NewLocalBackend()
	defer b.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h, err := b.Create(Kind(i), j)
				if err != nil {
					t.Error(err)
					return
				}
				b.Borrow(h)
				b.ReturnBorrow(h)
				b.Drop(h)
			}
		}(i)
	}
	wg.Wait()

	if b.Len() != 0 {
		t.Fatalf("Len = %d after concurrent churn", b.Len())
	}
}

func TestLocalBackend_Each(t *testing.T) {
	b := NewLocalBackend()
	defer b.Close()

	b.Create(1, "a")
	h, _ := b.Create(1, "b")
	b.Create(1, "c")
	b.Drop(h)

	seen := 0
	b.Each(func(_ Handle, _ Kind, v any) bool {
		if v == "b" {
			t.Error("dropped value visited")
		}
		seen++
		return true
	})
	if seen != 2 {
		t.Fatalf("visited %d, want 2", seen)
	}

	seen = 0
	b.Each(func(Handle, Kind, any) bool {
		seen++
		return false
	})
	if seen != 1 {
		t.Fatal("Each should stop when fn returns false")
	}
}

func TestLocalBackend_InvalidHandle(t *testing.T) {
	b := NewLocalBackend()
	defer b.Close()

	for _, h := range []Handle{0, 1, 999} {
		if _, ok := b.Get(h); ok {
			t.Errorf("Get(%d) should fail", h)
		}
		if b.Borrow(h) {
			t.Errorf("Borrow(%d) should fail", h)
		}
	}
}

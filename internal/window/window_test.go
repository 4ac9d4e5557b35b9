package window

import (
	"context"
	"testing"
)

func TestManager_CreateGetClose(t *testing.T) {
	m := NewManager()
	ctx := context.Background()
	if _, created, err := m.Create(ctx, "w1", "Title", "txn1"); err != nil || !created {
		t.Fatalf("expected first create to succeed, created=%v err=%v", created, err)
	}
	if _, created, err := m.Create(ctx, "w1", "Title2", "txn1"); err != nil || created {
		t.Fatalf("expected a known id to behave as an update, created=%v err=%v", created, err)
	}
	w, err := m.Get(ctx, "w1")
	if err != nil || w.Title != "Title2" {
		t.Fatalf("got %+v, err %v", w, err)
	}
	if err := m.Close(ctx, "w1"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(ctx, "w1"); err == nil {
		t.Fatal("expected not-found after close")
	}
}

func TestManager_FocusIsExclusive(t *testing.T) {
	m := NewManager()
	ctx := context.Background()
	m.Create(ctx, "a", "A", "t")
	m.Create(ctx, "b", "B", "t")
	if err := m.Focus(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := m.Focus(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	wa, _ := m.Get(ctx, "a")
	wb, _ := m.Get(ctx, "b")
	if wa.Focused || !wb.Focused {
		t.Fatalf("expected only b focused, got a=%v b=%v", wa.Focused, wb.Focused)
	}
}

func TestManager_MoveClampsToDesktopBounds(t *testing.T) {
	m := NewManager()
	ctx := context.Background()
	m.Create(ctx, "a", "A", "t")
	if err := m.Move(ctx, "a", -50, 999999); err != nil {
		t.Fatal(err)
	}
	w, _ := m.Get(ctx, "a")
	if w.X != 0 {
		t.Fatalf("expected x clamped to 0, got %d", w.X)
	}
	if w.Y != defaultClientHeight-100 {
		t.Fatalf("expected y clamped to %d, got %d", defaultClientHeight-100, w.Y)
	}
}

func TestManager_ResizeClampsToSizeBounds(t *testing.T) {
	m := NewManager()
	ctx := context.Background()
	m.Create(ctx, "a", "A", "t")
	if err := m.Resize(ctx, "a", 1, 999999); err != nil {
		t.Fatal(err)
	}
	w, _ := m.Get(ctx, "a")
	if w.W != minWidth {
		t.Fatalf("expected w clamped to %d, got %d", minWidth, w.W)
	}
	if w.H != maxHeight {
		t.Fatalf("expected h clamped to %d, got %d", maxHeight, w.H)
	}
}

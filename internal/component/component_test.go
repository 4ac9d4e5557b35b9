package component

import (
	"context"
	"strings"
	"testing"
)

func TestRegistry_RenderAndUpdateKnownType(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)
	ctx := context.Background()

	html, err := r.Render(ctx, "c1", "w1", "button.v1", map[string]interface{}{"label": "Go"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(html, "Go") {
		t.Fatalf("got %q", html)
	}

	html2, err := r.Update(ctx, "c1", map[string]interface{}{"label": "Updated"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(html2, "Updated") {
		t.Fatalf("got %q", html2)
	}
}

func TestRegistry_UnknownTypeFallsBackToInvisibleFrame(t *testing.T) {
	r := NewRegistry()
	html, err := r.Render(context.Background(), "c1", "w1", "mystery.v9", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(html, "display:none") {
		t.Fatalf("expected invisible frame fallback, got %q", html)
	}
}

func TestRegistry_DestroyUnknownFails(t *testing.T) {
	r := NewRegistry()
	if err := r.Destroy(context.Background(), "nope"); err == nil {
		t.Fatal("expected error destroying unmounted component")
	}
}

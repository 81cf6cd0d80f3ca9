package overlay

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNewMediaItem_defaults(t *testing.T) {
	item := NewMediaItem("a", ItemOptions{})

	if item.ID != "a" {
		t.Errorf("ID: got %q", item.ID)
	}
	if item.Type != MediaTypeImage {
		t.Errorf("Type default: got %q", item.Type)
	}
	if item.Position != (Position{X: 100, Y: 100}) {
		t.Errorf("Position default: got %+v", item.Position)
	}
	if item.Size != (Size{Width: 200, Height: 200}) {
		t.Errorf("Size default: got %+v", item.Size)
	}
	if item.Opacity != 1.0 || item.Volume != 1.0 {
		t.Errorf("Opacity/Volume defaults: got %v/%v", item.Opacity, item.Volume)
	}
	if !item.Visible {
		t.Error("Visible default should be true")
	}
	if item.ZIndex != 0 {
		t.Errorf("ZIndex default: got %d", item.ZIndex)
	}
	if item.FontFamily != "Arial" || item.FontSize != 48 {
		t.Errorf("font defaults: got %q/%d", item.FontFamily, item.FontSize)
	}
	if item.TextColor != "#ffffff" || item.TextShadowColor != "#000000" {
		t.Errorf("color defaults: got %q/%q", item.TextColor, item.TextShadowColor)
	}
	if item.TextShadowOffset != (Offset{X: 1, Y: 1}) {
		t.Errorf("shadow offset default: got %+v", item.TextShadowOffset)
	}
	if item.Padding != (Padding{Top: 10, Right: 10, Bottom: 10, Left: 10}) {
		t.Errorf("padding default: got %+v", item.Padding)
	}
	if item.CreatedAt.IsZero() {
		t.Error("CreatedAt should be stamped at construction")
	}
}

func TestNewMediaItem_overrides(t *testing.T) {
	opacity := 0.25
	visible := false
	zIndex := 7
	fontSize := 12
	content := "hello"

	item := NewMediaItem("t", ItemOptions{
		Type:        MediaTypeText,
		Filename:    "note.txt",
		Position:    &Position{X: 1, Y: 2},
		Opacity:     &opacity,
		Visible:     &visible,
		ZIndex:      &zIndex,
		TextContent: &content,
		FontFamily:  "Courier",
		FontSize:    &fontSize,
	})

	if item.Type != MediaTypeText {
		t.Errorf("Type: got %q", item.Type)
	}
	if item.Position != (Position{X: 1, Y: 2}) {
		t.Errorf("Position: got %+v", item.Position)
	}
	if item.Opacity != 0.25 {
		t.Errorf("Opacity: got %v", item.Opacity)
	}
	if item.Visible {
		t.Error("Visible override should be false")
	}
	if item.ZIndex != 7 {
		t.Errorf("ZIndex: got %d", item.ZIndex)
	}
	if item.TextContent == nil || *item.TextContent != "hello" {
		t.Errorf("TextContent: got %v", item.TextContent)
	}
	if item.FontFamily != "Courier" || item.FontSize != 12 {
		t.Errorf("font overrides: got %q/%d", item.FontFamily, item.FontSize)
	}
	// Size untouched by partial overrides.
	if item.Size != (Size{Width: 200, Height: 200}) {
		t.Errorf("Size default: got %+v", item.Size)
	}
}

func TestMediaItem_WithProperty(t *testing.T) {
	item := NewMediaItem("a", ItemOptions{})

	t.Run("scalar", func(t *testing.T) {
		got, err := item.WithProperty("opacity", json.RawMessage(`0.5`))
		if err != nil {
			t.Fatalf("WithProperty: %v", err)
		}
		if got.Opacity != 0.5 {
			t.Errorf("Opacity: got %v", got.Opacity)
		}
		if !got.CreatedAt.Equal(item.CreatedAt) {
			t.Error("CreatedAt must survive the merge")
		}
	})

	t.Run("struct_valued", func(t *testing.T) {
		got, err := item.WithProperty("position", json.RawMessage(`{"x":5,"y":6}`))
		if err != nil {
			t.Fatalf("WithProperty: %v", err)
		}
		if got.Position != (Position{X: 5, Y: 6}) {
			t.Errorf("Position: got %+v", got.Position)
		}
	})

	t.Run("unknown_property", func(t *testing.T) {
		_, err := item.WithProperty("shape", json.RawMessage(`"round"`))
		if !errors.Is(err, ErrUnknownProperty) {
			t.Errorf("expected ErrUnknownProperty, got %v", err)
		}
	})

	t.Run("wrong_value_shape", func(t *testing.T) {
		got, err := item.WithProperty("opacity", json.RawMessage(`"not a number"`))
		if err == nil {
			t.Fatal("expected decode error")
		}
		if got.Opacity != item.Opacity {
			t.Error("failed merge must not change the item")
		}
	})
}

package overlay

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MediaType classifies a media item ("image", "video", "text").
type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
	MediaTypeText  MediaType = "text"
)

// Position is an item's top-left corner in overlay coordinates.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is an item's rendered width and height.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Offset is an integer x/y displacement (used for text shadows).
type Offset struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Padding is the inner spacing around text content.
type Padding struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// MediaItem describes one overlay element and its visual properties.
// This also matches the wire JSON representation.
type MediaItem struct {
	ID       string    `json:"id"`
	Type     MediaType `json:"type"`
	Filename string    `json:"filename"`
	URL      string    `json:"url"`
	Position Position  `json:"position"`
	Size     Size      `json:"size"`
	Opacity  float64   `json:"opacity"`
	Volume   float64   `json:"volume"`
	Visible  bool      `json:"visible"`
	ZIndex   int       `json:"z_index"`

	// CreatedAt is stamped once at construction and excluded from checksum
	// computation.
	CreatedAt time.Time `json:"created_at"`

	// Text rendering properties, meaningful only when Type is "text".
	TextContent      *string `json:"text_content"`
	FontFamily       string  `json:"font_family"`
	FontSize         int     `json:"font_size"`
	FontWeight       string  `json:"font_weight"`
	FontStyle        string  `json:"font_style"`
	TextAlign        string  `json:"text_align"`
	TextColor        string  `json:"text_color"`
	TextShadow       bool    `json:"text_shadow"`
	TextShadowColor  string  `json:"text_shadow_color"`
	TextShadowBlur   int     `json:"text_shadow_blur"`
	TextShadowOffset Offset  `json:"text_shadow_offset"`
	BackgroundColor  *string `json:"background_color"`
	Padding          Padding `json:"padding"`
}

// ItemOptions carries the optional construction fields for NewMediaItem.
// Nil pointer fields and empty strings fall back to the documented defaults.
// The JSON tags match the "media" object of the add_media action.
type ItemOptions struct {
	Type     MediaType `json:"type"`
	Filename string    `json:"filename"`
	URL      string    `json:"url"`
	Position *Position `json:"position"`
	Size     *Size     `json:"size"`
	Opacity  *float64  `json:"opacity"`
	Volume   *float64  `json:"volume"`
	Visible  *bool     `json:"visible"`
	ZIndex   *int      `json:"z_index"`

	TextContent      *string  `json:"text_content"`
	FontFamily       string   `json:"font_family"`
	FontSize         *int     `json:"font_size"`
	FontWeight       string   `json:"font_weight"`
	FontStyle        string   `json:"font_style"`
	TextAlign        string   `json:"text_align"`
	TextColor        string   `json:"text_color"`
	TextShadow       *bool    `json:"text_shadow"`
	TextShadowColor  string   `json:"text_shadow_color"`
	TextShadowBlur   *int     `json:"text_shadow_blur"`
	TextShadowOffset *Offset  `json:"text_shadow_offset"`
	BackgroundColor  *string  `json:"background_color"`
	Padding          *Padding `json:"padding"`
}

// NewMediaItem constructs a MediaItem with the given id, applying defaults
// for every option that was not supplied. CreatedAt is stamped here and
// never changes afterwards.
func NewMediaItem(id string, opts ItemOptions) MediaItem {
	item := MediaItem{
		ID:               id,
		Type:             MediaTypeImage,
		Filename:         opts.Filename,
		URL:              opts.URL,
		Position:         Position{X: 100, Y: 100},
		Size:             Size{Width: 200, Height: 200},
		Opacity:          1.0,
		Volume:           1.0,
		Visible:          true,
		CreatedAt:        time.Now().UTC(),
		TextContent:      opts.TextContent,
		FontFamily:       "Arial",
		FontSize:         48,
		FontWeight:       "normal",
		FontStyle:        "normal",
		TextAlign:        "left",
		TextColor:        "#ffffff",
		TextShadowColor:  "#000000",
		TextShadowBlur:   2,
		TextShadowOffset: Offset{X: 1, Y: 1},
		BackgroundColor:  opts.BackgroundColor,
		Padding:          Padding{Top: 10, Right: 10, Bottom: 10, Left: 10},
	}

	if opts.Type != "" {
		item.Type = opts.Type
	}
	if opts.Position != nil {
		item.Position = *opts.Position
	}
	if opts.Size != nil {
		item.Size = *opts.Size
	}
	if opts.Opacity != nil {
		item.Opacity = *opts.Opacity
	}
	if opts.Volume != nil {
		item.Volume = *opts.Volume
	}
	if opts.Visible != nil {
		item.Visible = *opts.Visible
	}
	if opts.ZIndex != nil {
		item.ZIndex = *opts.ZIndex
	}
	if opts.FontFamily != "" {
		item.FontFamily = opts.FontFamily
	}
	if opts.FontSize != nil {
		item.FontSize = *opts.FontSize
	}
	if opts.FontWeight != "" {
		item.FontWeight = opts.FontWeight
	}
	if opts.FontStyle != "" {
		item.FontStyle = opts.FontStyle
	}
	if opts.TextAlign != "" {
		item.TextAlign = opts.TextAlign
	}
	if opts.TextColor != "" {
		item.TextColor = opts.TextColor
	}
	if opts.TextShadow != nil {
		item.TextShadow = *opts.TextShadow
	}
	if opts.TextShadowColor != "" {
		item.TextShadowColor = opts.TextShadowColor
	}
	if opts.TextShadowBlur != nil {
		item.TextShadowBlur = *opts.TextShadowBlur
	}
	if opts.TextShadowOffset != nil {
		item.TextShadowOffset = *opts.TextShadowOffset
	}
	if opts.Padding != nil {
		item.Padding = *opts.Padding
	}

	return item
}

// ErrUnknownProperty is returned when update_property names a property
// outside the closed set of mutable MediaItem fields.
var ErrUnknownProperty = errors.New("unknown media property")

// WithProperty returns a copy of the item with one named property replaced
// by the decoded value. Property names are a closed set; each name decodes
// the raw JSON value into the field's own type, so a value of the wrong
// shape is rejected before anything is merged. ID and CreatedAt are not
// updatable.
func (m MediaItem) WithProperty(name string, value json.RawMessage) (MediaItem, error) {
	var err error
	switch name {
	case "type":
		err = json.Unmarshal(value, &m.Type)
	case "filename":
		err = json.Unmarshal(value, &m.Filename)
	case "url":
		err = json.Unmarshal(value, &m.URL)
	case "position":
		err = json.Unmarshal(value, &m.Position)
	case "size":
		err = json.Unmarshal(value, &m.Size)
	case "opacity":
		err = json.Unmarshal(value, &m.Opacity)
	case "volume":
		err = json.Unmarshal(value, &m.Volume)
	case "visible":
		err = json.Unmarshal(value, &m.Visible)
	case "z_index":
		err = json.Unmarshal(value, &m.ZIndex)
	case "text_content":
		err = json.Unmarshal(value, &m.TextContent)
	case "font_family":
		err = json.Unmarshal(value, &m.FontFamily)
	case "font_size":
		err = json.Unmarshal(value, &m.FontSize)
	case "font_weight":
		err = json.Unmarshal(value, &m.FontWeight)
	case "font_style":
		err = json.Unmarshal(value, &m.FontStyle)
	case "text_align":
		err = json.Unmarshal(value, &m.TextAlign)
	case "text_color":
		err = json.Unmarshal(value, &m.TextColor)
	case "text_shadow":
		err = json.Unmarshal(value, &m.TextShadow)
	case "text_shadow_color":
		err = json.Unmarshal(value, &m.TextShadowColor)
	case "text_shadow_blur":
		err = json.Unmarshal(value, &m.TextShadowBlur)
	case "text_shadow_offset":
		err = json.Unmarshal(value, &m.TextShadowOffset)
	case "background_color":
		err = json.Unmarshal(value, &m.BackgroundColor)
	case "padding":
		err = json.Unmarshal(value, &m.Padding)
	default:
		return m, fmt.Errorf("%w: %q", ErrUnknownProperty, name)
	}
	if err != nil {
		return m, fmt.Errorf("decode property %q: %w", name, err)
	}
	return m, nil
}

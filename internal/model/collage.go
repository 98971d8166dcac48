package model

import (
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vincent-petithory/dataurl"
)

// StickerItem is one placed sticker. X and Y are relative to the canvas bounds.
type StickerItem struct {
	ID string `json:"id"`
	// Emoji is either a glyph or a self-contained data:image URL.
	Emoji    string  `json:"emoji"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Scale    float64 `json:"scale"`
	Rotation float64 `json:"rotation"`
}

func (s StickerItem) IsImage() bool {
	return strings.HasPrefix(s.Emoji, "data:image/")
}

func (s StickerItem) Validate() error {
	if s.ID == "" {
		return errors.Wrap(ErrInvalidInput, "sticker id is required")
	}
	if s.Emoji == "" {
		return errors.Wrapf(ErrInvalidInput, "sticker %s has no payload", s.ID)
	}
	if strings.HasPrefix(s.Emoji, "data:") {
		if !s.IsImage() {
			return errors.Wrapf(ErrInvalidInput, "sticker %s payload is not an image", s.ID)
		}
		if _, err := dataurl.DecodeString(s.Emoji); err != nil {
			return errors.Wrapf(ErrInvalidInput, "sticker %s payload: %v", s.ID, err)
		}
	}
	if s.X < 0 || s.X > 1 || s.Y < 0 || s.Y > 1 || math.IsNaN(s.X) || math.IsNaN(s.Y) {
		return errors.Wrapf(ErrInvalidInput, "sticker %s position (%v, %v) outside the canvas", s.ID, s.X, s.Y)
	}
	if !(s.Scale > 0) {
		return errors.Wrapf(ErrInvalidInput, "sticker %s scale must be positive", s.ID)
	}
	return nil
}

// Collage is an ordered set of stickers; later items are drawn on top.
type Collage struct {
	ID    string        `json:"id"`
	Items []StickerItem `json:"items"`
}

// NewCollage snapshots items into a collage with a fresh time-derived id.
func NewCollage(items []StickerItem) *Collage {
	cp := make([]StickerItem, len(items))
	copy(cp, items)
	return &Collage{ID: NewCollageID(), Items: cp}
}

func NewCollageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return "col-" + uuid.NewString()
	}
	return "col-" + id.String()
}

func (c *Collage) Clone() *Collage {
	if c == nil {
		return nil
	}
	return &Collage{ID: c.ID, Items: append([]StickerItem(nil), c.Items...)}
}

func (c *Collage) Validate() error {
	seen := make(map[string]bool, len(c.Items))
	for _, it := range c.Items {
		if err := it.Validate(); err != nil {
			return err
		}
		if seen[it.ID] {
			return errors.Wrapf(ErrInvalidInput, "duplicate sticker id %s", it.ID)
		}
		seen[it.ID] = true
	}
	return nil
}

// Clamp01 clamps n into [0,1]; NaN becomes 0.
func Clamp01(n float64) float64 {
	if math.IsNaN(n) || n < 0 {
		return 0
	}
	if n > 1 {
		return 1
	}
	return n
}

// Package assetspec defines the typed work-item produced by parsing an
// asset plan. Specs are immutable once parsed; everything downstream
// (prompt building, generation, approval) reads them by value.
package assetspec

import "fmt"

// AssetType classifies what kind of image/model an asset needs.
type AssetType string

const (
	TypeCharacterSprite AssetType = "character-sprite"
	TypeSpriteSheet     AssetType = "sprite-sheet"
	TypeTileset         AssetType = "tileset"
	TypeBackground      AssetType = "background"
	TypeUIElement       AssetType = "ui-element"
	TypeIcon            AssetType = "icon"
)

// MobilityType says whether the asset moves in-game.
type MobilityType string

const (
	Moveable MobilityType = "moveable"
	Static   MobilityType = "static"
)

// DefaultDirections is used when the mobility heuristic fires without an
// explicit [MOVEABLE:N] tag.
const DefaultDirections = 4

// Mobility carries the movement classification for an asset.
// Directions is zero for static assets.
type Mobility struct {
	Type       MobilityType `json:"type"`
	Directions int          `json:"directions,omitempty"`
}

// Variant is a named sub-unit of an asset, typically an animation.
// FrameCount holds either a frame count or a direction count; the two
// share the field and are distinguished only by the source text
// ("(4-frame)" vs "(4-direction)"), recorded in IsDirectional.
type Variant struct {
	Name          string `json:"name"`
	FrameCount    int    `json:"frameCount"`
	IsDirectional bool   `json:"isDirectional,omitempty"`
}

// AssetSpec is one parsed generation work-item.
type AssetSpec struct {
	ID          string    `json:"id"`
	Category    string    `json:"category"`
	Name        string    `json:"name"`
	Type        AssetType `json:"type"`
	Variant     *Variant  `json:"variant,omitempty"`
	Mobility    Mobility  `json:"mobility"`
	Description string    `json:"description,omitempty"`
}

// DisplayName is the asset name plus the variant name when present,
// e.g. "Farmer / Idle".
func (a AssetSpec) DisplayName() string {
	if a.Variant != nil && a.Variant.Name != "" {
		return a.Name + " / " + a.Variant.Name
	}
	return a.Name
}

// directionNames covers the common 4- and 8-direction cases; anything
// beyond falls back to numbered directions.
var directionNames = []string{
	"front", "left", "right", "back",
	"front-left", "front-right", "back-left", "back-right",
}

// Direction is one slice of a granular-mode expansion.
type Direction struct {
	// Name is the canonical facing name ("front", "left", ...).
	Name string
	// Index is the zero-based position within the sheet.
	Index int
}

// ExpandDirections returns the per-direction slices a granular-mode
// caller generates individually. Parsing always emits a single parent
// spec per variant; expansion is deliberately left to callers, so this
// helper only canonicalizes direction naming. Returns nil when the spec
// has no directional variant.
func ExpandDirections(a AssetSpec) []Direction {
	if a.Variant == nil || !a.Variant.IsDirectional || a.Variant.FrameCount <= 0 {
		return nil
	}
	out := make([]Direction, 0, a.Variant.FrameCount)
	for i := 0; i < a.Variant.FrameCount; i++ {
		name := fmt.Sprintf("direction-%d", i+1)
		if i < len(directionNames) {
			name = directionNames[i]
		}
		out = append(out, Direction{Name: name, Index: i})
	}
	return out
}

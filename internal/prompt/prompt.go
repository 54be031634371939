// Package prompt turns an AssetSpec into a generation prompt string.
// Template content is intentionally simple; the orchestrator only
// depends on the Builder contract.
package prompt

import (
	"fmt"
	"strings"

	"assetforge/internal/assetspec"
)

// StyleContext carries the project-wide art direction appended to every
// prompt.
type StyleContext struct {
	ArtStyle   string
	Palette    string
	Resolution string
}

// Builder is the prompt collaborator the orchestrator consumes.
type Builder interface {
	Build(asset assetspec.AssetSpec, style StyleContext) string
}

// Func adapts a plain function to Builder.
type Func func(asset assetspec.AssetSpec, style StyleContext) string

func (f Func) Build(asset assetspec.AssetSpec, style StyleContext) string {
	return f(asset, style)
}

// TemplateBuilder renders a per-type template plus the style context.
type TemplateBuilder struct{}

func NewTemplateBuilder() *TemplateBuilder { return &TemplateBuilder{} }

func (b *TemplateBuilder) Build(asset assetspec.AssetSpec, style StyleContext) string {
	var sb strings.Builder
	switch asset.Type {
	case assetspec.TypeSpriteSheet:
		frames := 1
		unit := "frame"
		if asset.Variant != nil {
			frames = asset.Variant.FrameCount
			if asset.Variant.IsDirectional {
				unit = "direction"
			}
		}
		fmt.Fprintf(&sb, "Sprite sheet for %q", asset.Name)
		if asset.Variant != nil && asset.Variant.Name != "" {
			fmt.Fprintf(&sb, ", %s animation", asset.Variant.Name)
		}
		fmt.Fprintf(&sb, ": a single sheet holding %d %ss in a row, transparent background.", frames, unit)
	case assetspec.TypeCharacterSprite:
		fmt.Fprintf(&sb, "Game character sprite of %q, full body, transparent background.", asset.Name)
	case assetspec.TypeTileset:
		fmt.Fprintf(&sb, "Seamless tileset for %q, tileable edges, top-down game view.", asset.Name)
	case assetspec.TypeBackground:
		fmt.Fprintf(&sb, "Game background art: %s, wide composition.", asset.Name)
	case assetspec.TypeUIElement:
		fmt.Fprintf(&sb, "Game UI element: %s, clean edges, transparent background.", asset.Name)
	default:
		fmt.Fprintf(&sb, "Game item icon: %s, centered, transparent background.", asset.Name)
	}

	if asset.Description != "" {
		sb.WriteString(" ")
		sb.WriteString(asset.Description)
	}
	if asset.Mobility.Type == assetspec.Moveable && asset.Mobility.Directions > 1 &&
		asset.Type != assetspec.TypeSpriteSheet {
		fmt.Fprintf(&sb, " Designed to face %d directions.", asset.Mobility.Directions)
	}
	if style.ArtStyle != "" {
		fmt.Fprintf(&sb, " Art style: %s.", style.ArtStyle)
	}
	if style.Palette != "" {
		fmt.Fprintf(&sb, " Palette: %s.", style.Palette)
	}
	if style.Resolution != "" {
		fmt.Fprintf(&sb, " Target resolution: %s.", style.Resolution)
	}
	return sb.String()
}

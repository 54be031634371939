// Package planparse converts an AI-authored markdown asset plan into an
// ordered list of assetspec.AssetSpec work-items. Parsing is a single
// line-oriented pass over the document and never fails: malformed or
// empty input yields an empty slice.
package planparse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"assetforge/internal/assetspec"
)

// Mode controls how multi-direction variants are represented.
type Mode string

const (
	// ModeComposite collapses a multi-direction variant into one
	// sprite-sheet spec whose FrameCount is the direction count.
	ModeComposite Mode = "composite"
	// ModeGranular emits the same single parent spec; per-direction
	// expansion is the caller's responsibility (see
	// assetspec.ExpandDirections). Earlier revisions emitted one spec
	// per direction, which duplicated queue items.
	ModeGranular Mode = "granular"
)

// Options configures a parse run.
type Options struct {
	Mode      Mode
	ProjectID string
}

var (
	moveableTagRe = regexp.MustCompile(`^\[MOVEABLE:(\d+)\]\s*`)
	variantRe     = regexp.MustCompile(`\((\d+)-(direction|frame)s?\)$`)
)

// pendingAsset accumulates one in-progress asset while later sub-item
// lines may still attach to it. It is finalized (turned into specs)
// only when the next asset or category line begins, or at end of input.
type pendingAsset struct {
	name        string
	mobility    assetspec.Mobility
	description string
	variants    []assetspec.Variant
}

// accumulator is the explicit parser state threaded through the line
// fold: the open category, the open asset, and the finished specs.
type accumulator struct {
	projectID string
	category  string
	current   *pendingAsset
	specs     []assetspec.AssetSpec
}

// Parse walks the markdown plan and returns the specs in plan order.
// It never returns an error; input it cannot interpret is skipped and
// ambiguity is resolved by the classification heuristics below.
func Parse(markdown string, opts Options) []assetspec.AssetSpec {
	acc := &accumulator{
		projectID: strings.TrimSpace(opts.ProjectID),
		specs:     []assetspec.AssetSpec{},
	}

	for _, raw := range strings.Split(markdown, "\n") {
		line := strings.TrimRight(raw, " \t\r")
		if line == "" {
			continue
		}
		indent := len(line) - len(strings.TrimLeft(line, " \t"))
		body := strings.TrimSpace(line)

		switch {
		case indent == 0 && strings.HasPrefix(body, "##"):
			acc.finalize()
			acc.category = strings.TrimSpace(strings.TrimLeft(body, "#"))
		case indent == 0 && strings.HasPrefix(body, "#"):
			// Top-level title, ignored.
		case indent == 0 && strings.HasPrefix(body, "- "):
			acc.finalize()
			acc.startAsset(strings.TrimSpace(body[2:]))
		case indent > 0 && strings.HasPrefix(body, "- "):
			acc.subItem(strings.TrimSpace(body[2:]))
		default:
			// Prose, dividers, anything else: not plan structure.
		}
	}
	acc.finalize()
	return acc.specs
}

// startAsset opens a new in-progress asset. A leading [MOVEABLE:N] tag
// always wins mobility classification; otherwise the category keyword
// heuristic applies. Assets outside any category are ignored.
func (acc *accumulator) startAsset(text string) {
	if acc.category == "" {
		return
	}
	mob, rest := parseMobility(text, acc.category)
	if rest == "" {
		return
	}
	acc.current = &pendingAsset{name: rest, mobility: mob}
}

// subItem attaches a variant or a description to the open asset. A
// parenthesized "(N-direction)" or "(N-frame)" suffix makes it a
// variant; anything else is free-text description (last one wins).
func (acc *accumulator) subItem(text string) {
	if acc.current == nil || text == "" {
		return
	}
	if m := variantRe.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n > 0 {
			acc.current.variants = append(acc.current.variants, assetspec.Variant{
				Name:          strings.TrimSpace(strings.TrimSuffix(text, m[0])),
				FrameCount:    n,
				IsDirectional: m[2] == "direction",
			})
			return
		}
	}
	acc.current.description = text
}

// finalize pushes the open asset onto the output: one spec when it has
// no variants, one spec per variant otherwise.
func (acc *accumulator) finalize() {
	cur := acc.current
	acc.current = nil
	if cur == nil {
		return
	}
	if len(cur.variants) == 0 {
		acc.push(cur, nil)
		return
	}
	for i := range cur.variants {
		v := cur.variants[i]
		acc.push(cur, &v)
	}
}

func (acc *accumulator) push(cur *pendingAsset, variant *assetspec.Variant) {
	acc.specs = append(acc.specs, assetspec.AssetSpec{
		ID:          fmt.Sprintf("%s-asset-%03d", acc.projectID, len(acc.specs)+1),
		Category:    acc.category,
		Name:        cur.name,
		Type:        classifyType(acc.category, cur.name, variant),
		Variant:     variant,
		Mobility:    cur.mobility,
		Description: cur.description,
	})
}

// parseMobility strips an explicit [MOVEABLE:N] tag if present, else
// falls back to the category keyword heuristic. AI-authored category
// names are inconsistent ("Heroes (Playable)", "Enemy Creatures"), so
// the heuristic must resolve mobility without a tag.
func parseMobility(text, category string) (assetspec.Mobility, string) {
	if m := moveableTagRe.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 {
			n = assetspec.DefaultDirections
		}
		return assetspec.Mobility{Type: assetspec.Moveable, Directions: n},
			strings.TrimSpace(text[len(m[0]):])
	}
	lower := strings.ToLower(category)
	for _, kw := range []string{"hero", "playable", "npc", "enemy", "character", "creature"} {
		if strings.Contains(lower, kw) {
			return assetspec.Mobility{Type: assetspec.Moveable, Directions: assetspec.DefaultDirections}, text
		}
	}
	return assetspec.Mobility{Type: assetspec.Static}, text
}

// classifyType is a total function of (category, name, variant). The
// asset name is consulted before the category so a "Sky Background"
// filed under "Environments" still comes out a background; within each
// text the first matching rule wins, and everything unmatched is an
// icon.
func classifyType(category, name string, variant *assetspec.Variant) assetspec.AssetType {
	if t, ok := matchTypeRules(strings.ToLower(name), variant); ok {
		return t
	}
	if t, ok := matchTypeRules(strings.ToLower(category), variant); ok {
		return t
	}
	return assetspec.TypeIcon
}

func matchTypeRules(text string, variant *assetspec.Variant) (assetspec.AssetType, bool) {
	switch {
	case containsAny(text, "character", "hero", "npc", "enemy"):
		if variant != nil && variant.FrameCount > 1 {
			return assetspec.TypeSpriteSheet, true
		}
		return assetspec.TypeCharacterSprite, true
	case containsAny(text, "environment", "tile", "ground", "wall"):
		return assetspec.TypeTileset, true
	case containsAny(text, "background", "sky"):
		return assetspec.TypeBackground, true
	case strings.Contains(text, "ui"):
		return assetspec.TypeUIElement, true
	default:
		return "", false
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

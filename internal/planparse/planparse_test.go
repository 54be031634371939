package planparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetforge/internal/assetspec"
)

const farmPlan = "## Characters\n- Farmer\n  - Idle (4-direction)\n  - Walking (4-direction)\n## Environments\n- Grass Tileset\n- Sky Background"

func TestParseCompositeFarmPlan(t *testing.T) {
	specs := Parse(farmPlan, Options{Mode: ModeComposite, ProjectID: "farm"})
	require.Len(t, specs, 4)

	idle := specs[0]
	assert.Equal(t, "Farmer", idle.Name)
	assert.Equal(t, "Characters", idle.Category)
	assert.Equal(t, assetspec.TypeSpriteSheet, idle.Type)
	require.NotNil(t, idle.Variant)
	assert.Equal(t, "Idle", idle.Variant.Name)
	assert.Equal(t, 4, idle.Variant.FrameCount)
	assert.True(t, idle.Variant.IsDirectional)

	walking := specs[1]
	assert.Equal(t, "Farmer", walking.Name)
	assert.Equal(t, assetspec.TypeSpriteSheet, walking.Type)
	require.NotNil(t, walking.Variant)
	assert.Equal(t, "Walking", walking.Variant.Name)

	assert.Equal(t, "Grass Tileset", specs[2].Name)
	assert.Equal(t, assetspec.TypeTileset, specs[2].Type)
	assert.Nil(t, specs[2].Variant)

	assert.Equal(t, "Sky Background", specs[3].Name)
	// The asset name outranks the "Environments" category here.
	assert.Equal(t, assetspec.TypeBackground, specs[3].Type)
}

func TestParseGranularEmitsSingleParent(t *testing.T) {
	composite := Parse(farmPlan, Options{Mode: ModeComposite, ProjectID: "farm"})
	granular := Parse(farmPlan, Options{Mode: ModeGranular, ProjectID: "farm"})
	// Direction expansion is the caller's job in both modes; the parser
	// output is identical.
	assert.Equal(t, composite, granular)
}

func TestParseMobilityHeuristic(t *testing.T) {
	specs := Parse("## Heroes (Playable)\n- Holy Cow\n- Chicken Rogue", Options{Mode: ModeComposite, ProjectID: "p"})
	require.Len(t, specs, 2)
	for _, s := range specs {
		assert.Equal(t, assetspec.Moveable, s.Mobility.Type, s.Name)
		assert.Equal(t, 4, s.Mobility.Directions, s.Name)
	}
}

func TestParseExplicitMoveableTag(t *testing.T) {
	specs := Parse("## Props\n- [MOVEABLE:8] Rolling Barrel\n- Crate", Options{Mode: ModeComposite, ProjectID: "p"})
	require.Len(t, specs, 2)

	barrel := specs[0]
	assert.Equal(t, "Rolling Barrel", barrel.Name)
	assert.Equal(t, assetspec.Moveable, barrel.Mobility.Type)
	assert.Equal(t, 8, barrel.Mobility.Directions)

	crate := specs[1]
	assert.Equal(t, assetspec.Static, crate.Mobility.Type)
	assert.Equal(t, 0, crate.Mobility.Directions)
}

func TestParseEmptyAndProseInputs(t *testing.T) {
	for name, input := range map[string]string{
		"empty":      "",
		"title only": "# My Game Assets\n",
		"prose":      "This plan describes a cozy farming game.\nIt has characters and items.",
	} {
		specs := Parse(input, Options{Mode: ModeComposite, ProjectID: "p"})
		assert.NotNil(t, specs, name)
		assert.Empty(t, specs, name)
	}
}

func TestParseIdempotence(t *testing.T) {
	a := Parse(farmPlan, Options{Mode: ModeComposite, ProjectID: "farm"})
	b := Parse(farmPlan, Options{Mode: ModeComposite, ProjectID: "farm"})
	assert.Equal(t, a, b)
}

func TestParseTotality(t *testing.T) {
	md := "# Title\n## Characters\n- Hero\n  - Run (6-frame)\n## UI\n- Health Bar\n## Stuff\n- Mystery Thing\n## Enemy Creatures\n- Slime"
	specs := Parse(md, Options{Mode: ModeComposite, ProjectID: "p"})
	require.NotEmpty(t, specs)
	for _, s := range specs {
		assert.NotEmpty(t, s.Type, s.Name)
		assert.Contains(t, []assetspec.MobilityType{assetspec.Moveable, assetspec.Static}, s.Mobility.Type, s.Name)
		assert.NotEmpty(t, s.ID)
		assert.NotEmpty(t, s.Category)
	}
}

func TestParseTypeClassification(t *testing.T) {
	cases := []struct {
		category string
		want     assetspec.AssetType
	}{
		{"Main Characters", assetspec.TypeCharacterSprite},
		{"NPC Villagers", assetspec.TypeCharacterSprite},
		{"Environment Tiles", assetspec.TypeTileset},
		{"Walls & Ground", assetspec.TypeTileset},
		{"Sky Layers", assetspec.TypeBackground},
		{"UI Elements", assetspec.TypeUIElement},
		{"Items", assetspec.TypeIcon},
		{"Props", assetspec.TypeIcon},
	}
	for _, tc := range cases {
		specs := Parse("## "+tc.category+"\n- Thing", Options{Mode: ModeComposite, ProjectID: "p"})
		require.Len(t, specs, 1, tc.category)
		assert.Equal(t, tc.want, specs[0].Type, tc.category)
	}
}

func TestParseSingleFrameVariantStaysCharacterSprite(t *testing.T) {
	specs := Parse("## Characters\n- Statue Hero\n  - Pose (1-frame)", Options{Mode: ModeComposite, ProjectID: "p"})
	require.Len(t, specs, 1)
	assert.Equal(t, assetspec.TypeCharacterSprite, specs[0].Type)
	require.NotNil(t, specs[0].Variant)
	assert.Equal(t, 1, specs[0].Variant.FrameCount)
}

func TestParseDescriptionSubItem(t *testing.T) {
	specs := Parse("## Items\n- Rusty Sword\n  - A chipped blade from the old war", Options{Mode: ModeComposite, ProjectID: "p"})
	require.Len(t, specs, 1)
	assert.Equal(t, "A chipped blade from the old war", specs[0].Description)
	assert.Nil(t, specs[0].Variant)
}

func TestParseEmptyCategoryContributesNothing(t *testing.T) {
	specs := Parse("## Characters\n## Items\n- Coin", Options{Mode: ModeComposite, ProjectID: "p"})
	require.Len(t, specs, 1)
	assert.Equal(t, "Items", specs[0].Category)
}

func TestParsePreservesInternalWhitespaceAndIDs(t *testing.T) {
	specs := Parse("## Items\n- Golden  Harvest Trophy  ", Options{Mode: ModeComposite, ProjectID: "proj"})
	require.Len(t, specs, 1)
	// Trailing space trimmed, internal double space kept verbatim.
	assert.Equal(t, "Golden  Harvest Trophy", specs[0].Name)
	assert.Equal(t, "proj-asset-001", specs[0].ID)
}

func TestParseAssetOutsideCategoryIgnored(t *testing.T) {
	specs := Parse("- Orphan Asset\n## Items\n- Coin", Options{Mode: ModeComposite, ProjectID: "p"})
	require.Len(t, specs, 1)
	assert.Equal(t, "Coin", specs[0].Name)
}

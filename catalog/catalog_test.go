package catalog_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gtcompanion/achievement-engine/achievement"
	"github.com/gtcompanion/achievement-engine/catalog"
	"github.com/gtcompanion/achievement-engine/store/memory"
)

func TestDefault_ParsesAndCoversEveryRequirementType(t *testing.T) {
	defs, err := catalog.Default()
	require.NoError(t, err)
	require.NotEmpty(t, defs)

	types := make(map[achievement.RequirementType]bool)
	for i, d := range defs {
		types[d.RequirementType] = true
		if i > 0 {
			prev := defs[i-1]
			assert.True(t, prev.Points < d.Points || (prev.Points == d.Points && prev.ID < d.ID),
				"catalog is returned in canonical order")
		}
	}
	for _, rt := range achievement.RequirementTypes() {
		assert.True(t, types[rt], "default catalog has an achievement for %s", rt)
	}
}

func TestParse_DecimalThreshold(t *testing.T) {
	defs, err := catalog.Parse([]byte(`[{"id": 1, "name": "Most of It", "points": 5,
		"requirement_type": "completion", "requirement_value": 87.5}]`))
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "87.5", defs[0].RequirementValue.String())
	assert.Equal(t, achievement.RarityCommon, defs[0].Rarity, "rarity defaults to common")
}

func TestParse_Rejects(t *testing.T) {
	cases := []struct {
		name string
		json string
	}{
		{"unknown requirement type", `[{"id": 1, "name": "x", "requirement_type": "laps_driven", "requirement_value": 1}]`},
		{"negative threshold", `[{"id": 1, "name": "x", "requirement_type": "races_won", "requirement_value": -1}]`},
		{"missing name", `[{"id": 1, "requirement_type": "races_won", "requirement_value": 1}]`},
		{"zero id", `[{"id": 0, "name": "x", "requirement_type": "races_won", "requirement_value": 1}]`},
		{"bad rarity", `[{"id": 1, "name": "x", "requirement_type": "races_won", "requirement_value": 1, "rarity": "mythic"}]`},
		{"duplicate id", `[{"id": 1, "name": "x", "requirement_type": "races_won", "requirement_value": 1},
			{"id": 1, "name": "y", "requirement_type": "races_won", "requirement_value": 2}]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := catalog.Parse([]byte(tc.json))
			assert.ErrorIs(t, err, catalog.ErrInvalidDefinition)
		})
	}

	_, err := catalog.Parse([]byte(`{not json`))
	assert.Error(t, err)
}

func TestLoad_FileAndFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id": 9, "name": "Nine", "requirement_type": "cars_collected", "requirement_value": 9}]`), 0o600))

	defs, err := catalog.Load(path)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, achievement.AchievementID(9), defs[0].ID)

	builtin, err := catalog.Load("")
	require.NoError(t, err)
	assert.NotEmpty(t, builtin)

	_, err = catalog.Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestSeed_IsRepeatable(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	defs, err := catalog.Default()
	require.NoError(t, err)

	n, err := catalog.Seed(ctx, store, defs)
	require.NoError(t, err)
	assert.Equal(t, len(defs), n)

	n, err = catalog.Seed(ctx, store, defs)
	require.NoError(t, err)
	assert.Zero(t, n)
}

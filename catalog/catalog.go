/*
Package catalog converts JSON achievement definitions into achievement.Definition
values and seeds them into a DefinitionWriter.

PURPOSE:
  Definitions are data, not code. Operators describe the catalog in JSON,
  the server validates it at startup and inserts whatever is missing.
  Existing rows are never modified by a seed.

JSON SCHEMA:
  [
    {
      "id": 1,
      "name": "First Victory",
      "description": "Win your first race",
      "category": "racing",
      "points": 10,
      "icon_url": "/icons/first-victory.png",
      "requirement_type": "races_won",
      "requirement_value": 1,
      "rarity": "common"
    }
  ]

VALIDATION:
  - id must be positive and unique
  - name must be non-empty
  - requirement_type must be one of the known types
  - requirement_value and points must not be negative
  - rarity defaults to "common" and must be a known rarity

USAGE:
  defs, err := catalog.Default()
  // or: defs, err := catalog.Load("./achievements.json")
  n, err := catalog.Seed(ctx, store, defs)

SEE ALSO:
  - achievement/requirement.go: known requirement types
  - default.json: the built-in catalog
*/
package catalog

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"github.com/gtcompanion/achievement-engine/achievement"
)

//go:embed default.json
var defaultCatalog []byte

// ErrInvalidDefinition is returned when a catalog entry fails validation.
var ErrInvalidDefinition = errors.New("invalid achievement definition")

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// DefinitionJSON is the JSON representation of an achievement definition.
type DefinitionJSON struct {
	ID               int64           `json:"id"`
	Name             string          `json:"name"`
	Description      string          `json:"description,omitempty"`
	Category         string          `json:"category,omitempty"`
	Points           int64           `json:"points"`
	IconURL          string          `json:"icon_url,omitempty"`
	RequirementType  string          `json:"requirement_type"`
	RequirementValue decimal.Decimal `json:"requirement_value"`
	Rarity           string          `json:"rarity,omitempty"`
}

// =============================================================================
// PARSING
// =============================================================================

// Parse decodes and validates a JSON array of definitions.
func Parse(data []byte) ([]achievement.Definition, error) {
	var raw []DefinitionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse catalog JSON: %w", err)
	}

	seen := make(map[int64]bool, len(raw))
	defs := make([]achievement.Definition, 0, len(raw))
	for i, dj := range raw {
		def, err := FromJSON(dj)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		if seen[dj.ID] {
			return nil, fmt.Errorf("entry %d: %w: duplicate id %d", i, ErrInvalidDefinition, dj.ID)
		}
		seen[dj.ID] = true
		defs = append(defs, def)
	}
	achievement.SortDefinitions(defs)
	return defs, nil
}

// FromJSON validates one entry and converts it.
func FromJSON(dj DefinitionJSON) (achievement.Definition, error) {
	if dj.ID <= 0 {
		return achievement.Definition{}, fmt.Errorf("%w: id must be positive", ErrInvalidDefinition)
	}
	if dj.Name == "" {
		return achievement.Definition{}, fmt.Errorf("%w: id %d has no name", ErrInvalidDefinition, dj.ID)
	}
	rt := achievement.RequirementType(dj.RequirementType)
	if !rt.Known() {
		return achievement.Definition{}, fmt.Errorf("%w: id %d has unknown requirement type %q", ErrInvalidDefinition, dj.ID, dj.RequirementType)
	}
	if dj.RequirementValue.IsNegative() {
		return achievement.Definition{}, fmt.Errorf("%w: id %d has negative requirement value", ErrInvalidDefinition, dj.ID)
	}
	if dj.Points < 0 {
		return achievement.Definition{}, fmt.Errorf("%w: id %d has negative points", ErrInvalidDefinition, dj.ID)
	}

	rarity := achievement.Rarity(dj.Rarity)
	if rarity == "" {
		rarity = achievement.RarityCommon
	}
	if !rarity.Valid() {
		return achievement.Definition{}, fmt.Errorf("%w: id %d has unknown rarity %q", ErrInvalidDefinition, dj.ID, dj.Rarity)
	}

	return achievement.Definition{
		ID:               achievement.AchievementID(dj.ID),
		Name:             dj.Name,
		Description:      dj.Description,
		Category:         dj.Category,
		Points:           dj.Points,
		IconURL:          dj.IconURL,
		RequirementType:  rt,
		RequirementValue: dj.RequirementValue,
		Rarity:           rarity,
	}, nil
}

// Default returns the built-in catalog.
func Default() ([]achievement.Definition, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog file. An empty path returns the built-in catalog.
func Load(path string) ([]achievement.Definition, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// =============================================================================
// SEEDING
// =============================================================================

// Seed inserts the definitions that are not stored yet and returns how many were inserted.
func Seed(ctx context.Context, w achievement.DefinitionWriter, defs []achievement.Definition) (int, error) {
	n, err := w.SeedDefinitions(ctx, defs)
	if err != nil {
		return 0, fmt.Errorf("failed to seed catalog: %w", err)
	}
	return n, nil
}

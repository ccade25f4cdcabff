package achievement

import (
	"sort"

	"github.com/shopspring/decimal"
)

// RequirementType names the counter an achievement tracks.
type RequirementType string

const (
	RequirementRacesWon         RequirementType = "races_won"
	RequirementLicensesObtained RequirementType = "licenses_obtained"
	RequirementGoldLicenses     RequirementType = "gold_licenses"
	RequirementCarsCollected    RequirementType = "cars_collected"
	RequirementTrackRecords     RequirementType = "track_records"
	RequirementCompletion       RequirementType = "completion"
)

// requirementFields maps each requirement type to the snapshot field it reads.
// Adding a requirement type is one entry here plus a StatSnapshot field.
var requirementFields = map[RequirementType]func(StatSnapshot) decimal.Decimal{
	RequirementRacesWon:         func(s StatSnapshot) decimal.Decimal { return count(s.RacesWon) },
	RequirementLicensesObtained: func(s StatSnapshot) decimal.Decimal { return count(s.LicensesObtained) },
	RequirementGoldLicenses:     func(s StatSnapshot) decimal.Decimal { return count(s.GoldLicenses) },
	RequirementCarsCollected:    func(s StatSnapshot) decimal.Decimal { return count(s.CarsCollected) },
	RequirementTrackRecords:     func(s StatSnapshot) decimal.Decimal { return count(s.TrackRecords) },
	RequirementCompletion:       func(s StatSnapshot) decimal.Decimal { return nonNegative(s.CompletionPercentage) },
}

// Known reports whether t has a snapshot field.
func (t RequirementType) Known() bool {
	_, ok := requirementFields[t]
	return ok
}

// RequirementTypes returns every known requirement type in lexical order.
func RequirementTypes() []RequirementType {
	out := make([]RequirementType, 0, len(requirementFields))
	for t := range requirementFields {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Progress returns the snapshot value tracked by t.
// Unknown requirement types yield zero, not an error. Negative values read as zero.
func Progress(t RequirementType, s StatSnapshot) decimal.Decimal {
	field, ok := requirementFields[t]
	if !ok {
		return decimal.Zero
	}
	return field(s)
}

func count(n int64) decimal.Decimal {
	if n < 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(n)
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

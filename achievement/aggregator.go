package achievement

import "context"

// Aggregator builds a StatSnapshot from live counter reads.
// Nothing is cached: every call reflects the state immediately after the
// triggering update.
type Aggregator struct {
	Progress ProgressCounters
	Licenses LicenseCounters
	Cars     CarCounters
	Tracks   TrackCounters
}

// NewAggregator reads every counter from a single source.
func NewAggregator(src CounterSource) *Aggregator {
	return &Aggregator{Progress: src, Licenses: src, Cars: src, Tracks: src}
}

// ComputeSnapshot reads the six counters for (userID, gameID).
// The first failed read aborts; no snapshot is built from partial data.
func (a *Aggregator) ComputeSnapshot(ctx context.Context, userID UserID, gameID GameID) (StatSnapshot, error) {
	game, err := a.Progress.GameCounters(ctx, userID, gameID)
	if err != nil {
		return StatSnapshot{}, storageErr("read game counters", err)
	}

	licenses, err := a.Licenses.LicenseCounts(ctx, userID, gameID)
	if err != nil {
		return StatSnapshot{}, storageErr("read license counters", err)
	}

	cars, err := a.Cars.CarsCollected(ctx, userID, gameID)
	if err != nil {
		return StatSnapshot{}, storageErr("read car counters", err)
	}

	tracks, err := a.Tracks.TracksMastered(ctx, userID, gameID)
	if err != nil {
		return StatSnapshot{}, storageErr("read track counters", err)
	}

	return StatSnapshot{
		RacesWon:             game.RacesWon,
		LicensesObtained:     licenses.Obtained,
		GoldLicenses:         licenses.Gold,
		CarsCollected:        cars,
		TrackRecords:         tracks,
		CompletionPercentage: game.CompletionPercentage,
	}, nil
}

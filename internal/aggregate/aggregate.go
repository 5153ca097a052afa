// Package aggregate folds a subject's observations into a time-decayed
// behavior profile. Recent confident observations dominate; old ones fade on
// an exponential half-life schedule.
package aggregate

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/coaching-cli/internal/model"
	"github.com/sells-group/coaching-cli/internal/store"
)

const hoursPerDay = 24.0

// Weight returns the aggregation weight of one observation at time now:
// exponential decay by age, scaled by the observation's confidence.
func Weight(obs model.Observation, now time.Time, halfLifeDays float64) float64 {
	ageDays := now.Sub(obs.ObservedAt).Hours() / hoursPerDay
	if ageDays < 0 {
		ageDays = 0
	}
	decay := math.Exp(-math.Ln2 * ageDays / halfLifeDays)
	return decay * obs.Confidence
}

// Compute builds a profile from raw observations without touching storage.
// Per parameter the value is the weighted mean of observed values; the
// profile confidence is the mean over parameters of the weighted confidence.
func Compute(subjectID string, observations []model.Observation, halfLifeDays float64, now time.Time) model.AggregatedProfile {
	type acc struct {
		valueSum, confSum, weightSum float64
	}
	byParam := make(map[string]*acc)
	for _, obs := range observations {
		w := Weight(obs, now, halfLifeDays)
		a := byParam[obs.ParameterID]
		if a == nil {
			a = &acc{}
			byParam[obs.ParameterID] = a
		}
		a.valueSum += obs.Value * w
		a.confSum += obs.Confidence * w
		a.weightSum += w
	}

	profile := model.AggregatedProfile{
		SubjectID:        subjectID,
		Values:           make(map[string]float64, len(byParam)),
		ObservationsUsed: len(observations),
		HalfLifeDays:     halfLifeDays,
		LastAggregatedAt: now,
	}

	var confTotal float64
	var params int
	for paramID, a := range byParam {
		if a.weightSum == 0 {
			continue
		}
		profile.Values[paramID] = a.valueSum / a.weightSum
		confTotal += a.confSum / a.weightSum
		params++
	}
	if params > 0 {
		profile.Confidence = confTotal / float64(params)
	}
	return profile
}

// Aggregator recomputes and persists subject profiles.
type Aggregator struct {
	store        store.Store
	halfLifeDays float64
}

// New returns an Aggregator with the given decay half-life in days.
func New(s store.Store, halfLifeDays float64) *Aggregator {
	return &Aggregator{store: s, halfLifeDays: halfLifeDays}
}

// Aggregate rebuilds the subject's profile from all of its observations. With
// zero observations the existing profile is left untouched and returned as is.
func (a *Aggregator) Aggregate(ctx context.Context, subjectID string) (*model.AggregatedProfile, error) {
	observations, err := a.store.ListObservationsBySubject(ctx, subjectID)
	if err != nil {
		return nil, eris.Wrapf(err, "aggregate: list observations for %s", subjectID)
	}

	if len(observations) == 0 {
		existing, err := a.store.GetProfile(ctx, subjectID)
		if err != nil {
			return nil, eris.Wrapf(err, "aggregate: load prior profile for %s", subjectID)
		}
		zap.L().Debug("no observations, profile unchanged", zap.String("subject", subjectID))
		return existing, nil
	}

	profile := Compute(subjectID, observations, a.halfLifeDays, time.Now().UTC())
	if err := a.store.UpsertProfile(ctx, profile); err != nil {
		return nil, eris.Wrapf(err, "aggregate: upsert profile for %s", subjectID)
	}

	zap.L().Info("profile aggregated",
		zap.String("subject", subjectID),
		zap.Int("observations", profile.ObservationsUsed),
		zap.Int("parameters", len(profile.Values)),
		zap.Float64("confidence", profile.Confidence))
	return &profile, nil
}

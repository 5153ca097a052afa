// Package targets resolves the effective behavior targets for a subject by
// overlaying scopes: global defaults, then segment overrides, then
// subject-specific overrides. Later scopes win per parameter.
package targets

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/coaching-cli/internal/model"
	"github.com/sells-group/coaching-cli/internal/store"
)

// Resolver computes effective targets from the active target rows in the store.
type Resolver struct {
	store store.Store
}

// NewResolver returns a Resolver backed by the given store.
func NewResolver(s store.Store) *Resolver {
	return &Resolver{store: s}
}

// Resolve overlays global, segment, and subject targets in that order and
// returns the winning target per parameter. segmentID may be empty, in which
// case the segment layer is skipped. An empty result is not an error; callers
// decide whether that matters.
func (r *Resolver) Resolve(ctx context.Context, subjectID, segmentID string) (map[string]model.EffectiveTarget, error) {
	effective := make(map[string]model.EffectiveTarget)

	layers := []struct {
		scope    model.TargetScope
		scopeKey string
	}{
		{model.ScopeGlobal, ""},
		{model.ScopeSegment, segmentID},
		{model.ScopeSubject, subjectID},
	}

	for _, layer := range layers {
		if layer.scope != model.ScopeGlobal && layer.scopeKey == "" {
			continue
		}
		rows, err := r.store.ListActiveTargets(ctx, layer.scope, layer.scopeKey)
		if err != nil {
			return nil, eris.Wrapf(err, "targets: list %s targets", layer.scope)
		}
		for _, t := range rows {
			effective[t.ParameterID] = model.EffectiveTarget{
				ParameterID: t.ParameterID,
				Value:       t.Value,
				Confidence:  t.Confidence,
				Source:      t.Source,
				Scope:       t.Scope,
			}
		}
	}

	return effective, nil
}

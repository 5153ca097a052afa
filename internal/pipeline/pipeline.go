// Package pipeline sequences the learning stages over a batch of calls:
// measure, reward, aggregate, compose. Item failures are recorded and the
// batch continues; a failed item simply drops out of later stages and comes
// back as unscored on the next run.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/coaching-cli/internal/aggregate"
	"github.com/sells-group/coaching-cli/internal/composer"
	"github.com/sells-group/coaching-cli/internal/measure"
	"github.com/sells-group/coaching-cli/internal/model"
	"github.com/sells-group/coaching-cli/internal/reward"
	"github.com/sells-group/coaching-cli/internal/store"
)

// Options selects what a run processes and which stages it executes.
type Options struct {
	DryRun    bool
	Verbose   bool
	SubjectID string
	CallID    string
	Limit     int

	SkipMeasure   bool
	SkipReward    bool
	SkipAggregate bool
	SkipCompose   bool
}

// Pipeline owns stage sequencing. Stages themselves never know about
// batching or ordering.
type Pipeline struct {
	store      store.Store
	recorder   *measure.Recorder
	scorer     *reward.Scorer
	aggregator *aggregate.Aggregator
	composer   *composer.Composer
	batchLimit int
}

// New assembles the orchestrator from its stages. batchLimit bounds how many
// unscored calls one run picks up when Options.Limit is unset.
func New(s store.Store, rec *measure.Recorder, sc *reward.Scorer, agg *aggregate.Aggregator, comp *composer.Composer, batchLimit int) *Pipeline {
	if batchLimit <= 0 {
		batchLimit = 100
	}
	return &Pipeline{store: s, recorder: rec, scorer: sc, aggregator: agg, composer: comp, batchLimit: batchLimit}
}

// Run executes the selected stages over the batch and returns a structured
// report. Store failures while building the batch abort the run; per-item
// failures are recorded in the report and never abort it.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*model.RunReport, error) {
	report := &model.RunReport{DryRun: opts.DryRun, StartedAt: time.Now().UTC()}

	calls, err := p.batch(ctx, opts)
	if err != nil {
		return nil, err
	}
	params, err := p.store.ListParameters(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: list parameters")
	}

	zap.L().Info("run starting",
		zap.Int("calls", len(calls)),
		zap.Int("parameters", len(params)),
		zap.Bool("dry_run", opts.DryRun))

	if opts.DryRun {
		p.plan(report, calls, opts)
		report.FinishedAt = time.Now().UTC()
		return report, nil
	}

	survivors := calls
	if !opts.SkipMeasure {
		survivors = p.runMeasure(ctx, report, calls, params, opts.Verbose)
	}
	if !opts.SkipReward {
		survivors = p.runReward(ctx, report, survivors, opts.Verbose)
	}

	subjects := distinctSubjects(survivors)
	if !opts.SkipAggregate {
		p.runAggregate(ctx, report, subjects, opts.Verbose)
	}
	if !opts.SkipCompose {
		p.runCompose(ctx, report, subjects, opts.Verbose)
	}

	report.FinishedAt = time.Now().UTC()
	zap.L().Info("run finished",
		zap.Int("processed", report.Processed),
		zap.Int("created", report.Created),
		zap.Int("errors", len(report.Errors)))
	return report, nil
}

// batch selects the calls this run operates on.
func (p *Pipeline) batch(ctx context.Context, opts Options) ([]model.Call, error) {
	if opts.CallID != "" {
		call, err := p.store.GetCall(ctx, opts.CallID)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: load call %s", opts.CallID)
		}
		if call == nil {
			return nil, eris.Errorf("pipeline: call %s not found", opts.CallID)
		}
		return []model.Call{*call}, nil
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = p.batchLimit
	}
	calls, err := p.store.ListUnscoredCalls(ctx, limit)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: list unscored calls")
	}
	if opts.SubjectID != "" {
		filtered := calls[:0]
		for _, c := range calls {
			if c.SubjectID == opts.SubjectID {
				filtered = append(filtered, c)
			}
		}
		calls = filtered
	}
	return calls, nil
}

// plan fills the report with what a real run would touch, without mutating
// anything.
func (p *Pipeline) plan(report *model.RunReport, calls []model.Call, opts Options) {
	subjects := distinctSubjects(calls)
	if !opts.SkipMeasure {
		report.AddStage(model.StageReport{Name: "measure", Processed: len(calls)})
	}
	if !opts.SkipReward {
		report.AddStage(model.StageReport{Name: "reward", Processed: len(calls)})
	}
	if !opts.SkipAggregate {
		report.AddStage(model.StageReport{Name: "aggregate", Processed: len(subjects)})
	}
	if !opts.SkipCompose {
		report.AddStage(model.StageReport{Name: "compose", Processed: len(subjects)})
	}
}

func (p *Pipeline) runMeasure(ctx context.Context, report *model.RunReport, calls []model.Call, params []model.BehaviorParameter, verbose bool) []model.Call {
	stage := model.StageReport{Name: "measure"}
	var survivors []model.Call
	for _, call := range calls {
		stage.Processed++
		res, err := p.recorder.RecordMissing(ctx, call, params)
		if err != nil {
			stage.Errors = append(stage.Errors, fmt.Sprintf("measure call %s: %v", call.ID, err))
			continue
		}
		if res.Skipped {
			stage.Skipped++
			continue
		}
		if verbose {
			zap.L().Debug("measured call",
				zap.String("call_id", call.ID),
				zap.Int("observations", len(res.Observations)))
		}
		stage.Created += len(res.Observations)
		survivors = append(survivors, call)
	}
	report.AddStage(stage)
	return survivors
}

func (p *Pipeline) runReward(ctx context.Context, report *model.RunReport, calls []model.Call, verbose bool) []model.Call {
	stage := model.StageReport{Name: "reward"}
	var survivors []model.Call
	for _, call := range calls {
		stage.Processed++
		rw, err := p.scorer.Score(ctx, call.ID)
		if err != nil {
			stage.Errors = append(stage.Errors, fmt.Sprintf("reward call %s: %v", call.ID, err))
			continue
		}
		if verbose {
			zap.L().Debug("scored call",
				zap.String("call_id", call.ID),
				zap.Float64("overall", rw.Overall))
		}
		stage.Created++
		survivors = append(survivors, call)
	}
	report.AddStage(stage)
	return survivors
}

func (p *Pipeline) runAggregate(ctx context.Context, report *model.RunReport, subjects []string, verbose bool) {
	stage := model.StageReport{Name: "aggregate"}
	for _, subjectID := range subjects {
		stage.Processed++
		if _, err := p.aggregator.Aggregate(ctx, subjectID); err != nil {
			stage.Errors = append(stage.Errors, fmt.Sprintf("aggregate subject %s: %v", subjectID, err))
			continue
		}
		if verbose {
			zap.L().Debug("aggregated profile", zap.String("subject_id", subjectID))
		}
		stage.Created++
	}
	report.AddStage(stage)
}

func (p *Pipeline) runCompose(ctx context.Context, report *model.RunReport, subjects []string, verbose bool) {
	stage := model.StageReport{Name: "compose"}
	for _, subjectID := range subjects {
		stage.Processed++
		prompt, err := p.composer.Compose(ctx, subjectID)
		if err != nil {
			stage.Errors = append(stage.Errors, fmt.Sprintf("compose subject %s: %v", subjectID, err))
			continue
		}
		if verbose {
			zap.L().Debug("composed prompt",
				zap.String("subject_id", subjectID),
				zap.String("prompt_id", prompt.ID))
		}
		stage.Created++
	}
	report.AddStage(stage)
}

func distinctSubjects(calls []model.Call) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range calls {
		if !seen[c.SubjectID] {
			seen[c.SubjectID] = true
			out = append(out, c.SubjectID)
		}
	}
	sort.Strings(out)
	return out
}

// Package composer assembles resolved targets, recent reward history, and
// subject memory into the guidance prompt for the next conversation.
package composer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/coaching-cli/internal/config"
	"github.com/sells-group/coaching-cli/internal/model"
	"github.com/sells-group/coaching-cli/internal/store"
	"github.com/sells-group/coaching-cli/internal/targets"
)

// section is one named block of instructions. Sections with zero instructions
// are dropped from the document.
type section struct {
	title        string
	instructions []string
}

// Composer builds and persists composed prompts.
type Composer struct {
	store    store.Store
	resolver *targets.Resolver
	groups   []Group
	cfg      config.ComposerConfig
}

// New wires the composer. When cfg.GroupsFile is set the group definitions
// are loaded from it, otherwise the built-in groups apply.
func New(s store.Store, resolver *targets.Resolver, cfg config.ComposerConfig) (*Composer, error) {
	groups := DefaultGroups()
	if cfg.GroupsFile != "" {
		loaded, err := LoadGroups(cfg.GroupsFile)
		if err != nil {
			return nil, err
		}
		groups = loaded
	}
	return &Composer{store: s, resolver: resolver, groups: groups, cfg: cfg}, nil
}

// Compose builds a new prompt for the subject and supersedes the previous
// active one. A subject with no resolvable targets is an error, not an empty
// prompt.
func (c *Composer) Compose(ctx context.Context, subjectID string) (*model.ComposedPrompt, error) {
	subject, err := c.store.GetSubject(ctx, subjectID)
	if err != nil {
		return nil, eris.Wrapf(err, "composer: load subject %s", subjectID)
	}
	if subject == nil {
		return nil, eris.Errorf("composer: subject %s not found", subjectID)
	}

	effective, err := c.resolver.Resolve(ctx, subjectID, subject.SegmentID)
	if err != nil {
		return nil, eris.Wrapf(err, "composer: resolve targets for %s", subjectID)
	}
	if len(effective) == 0 {
		return nil, eris.Errorf("composer: no resolvable targets for subject %s", subjectID)
	}

	params, err := c.store.ListParameters(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "composer: list parameters")
	}
	names := make(map[string]string, len(params))
	for _, p := range params {
		names[p.ID] = p.Name
	}

	memories, err := c.store.ListMemoryEntries(ctx, subjectID, c.cfg.MemoryLimit)
	if err != nil {
		return nil, eris.Wrapf(err, "composer: list memory for %s", subjectID)
	}
	traits, err := c.store.ListTraits(ctx, subjectID)
	if err != nil {
		return nil, eris.Wrapf(err, "composer: list traits for %s", subjectID)
	}
	rewards, err := c.store.ListRecentRewards(ctx, subjectID, c.cfg.RecentCalls)
	if err != nil {
		return nil, eris.Wrapf(err, "composer: list rewards for %s", subjectID)
	}

	crossing := crossingTraits(traits, c.cfg.LowTrait, c.cfg.HighTrait)
	negative := negativeRewards(rewards)

	sections := []section{
		c.subjectContext(subject, memories, crossing),
	}
	for _, g := range c.groups {
		sections = append(sections, c.groupSection(g, effective, names))
	}
	sections = append(sections, c.recentNotes(negative, names))

	now := time.Now().UTC()
	prompt := model.ComposedPrompt{
		ID:        uuid.NewString(),
		SubjectID: subjectID,
		Text:      render(sections),
		Status:    model.PromptActive,
		Snapshot: model.PromptSnapshot{
			TargetCount:   len(effective),
			MemoryCount:   len(memories),
			TraitCount:    len(crossing),
			NegativeCalls: len(negative),
			ComposedAt:    now,
		},
		ComposedAt: now,
	}

	saved, err := c.store.CreatePrompt(ctx, prompt)
	if err != nil {
		return nil, eris.Wrapf(err, "composer: persist prompt for %s", subjectID)
	}

	zap.L().Info("prompt composed",
		zap.String("subject", subjectID),
		zap.Int("targets", prompt.Snapshot.TargetCount),
		zap.Int("memories", prompt.Snapshot.MemoryCount),
		zap.Int("negative_calls", prompt.Snapshot.NegativeCalls))
	return saved, nil
}

func (c *Composer) subjectContext(subject *model.Subject, memories []model.MemoryEntry, crossing []model.TraitScore) section {
	sec := section{title: "Subject context"}
	if subject.Name != "" {
		sec.instructions = append(sec.instructions, fmt.Sprintf("You are speaking with %s.", subject.Name))
	}
	for _, m := range memories {
		sec.instructions = append(sec.instructions, m.Content)
	}
	for _, t := range crossing {
		if t.Score >= c.cfg.HighTrait {
			sec.instructions = append(sec.instructions, fmt.Sprintf("This caller scores high on %s; factor that into your approach.", t.Trait))
		} else {
			sec.instructions = append(sec.instructions, fmt.Sprintf("This caller scores low on %s; factor that into your approach.", t.Trait))
		}
	}
	return sec
}

func (c *Composer) groupSection(g Group, effective map[string]model.EffectiveTarget, names map[string]string) section {
	sec := section{title: g.Label}
	for _, paramID := range g.Parameters {
		target, ok := effective[paramID]
		if !ok {
			continue
		}
		band := BandFor(target.Value, g.BandEdges)
		template, ok := g.Phrasing[band]
		if !ok {
			continue
		}
		name := names[paramID]
		if name == "" {
			name = paramID
		}
		instruction := fmt.Sprintf(template, strings.ToLower(name))
		if q := c.qualifier(target.Confidence); q != "" {
			instruction += " " + q
		}
		sec.instructions = append(sec.instructions, instruction)
	}
	return sec
}

func (c *Composer) recentNotes(negative []model.RewardScore, names map[string]string) section {
	sec := section{title: "Recent interaction notes"}
	for _, r := range negative {
		offs := r.OutOfTolerance()
		if len(offs) == 0 {
			continue
		}
		labels := make([]string, 0, len(offs))
		for _, id := range offs {
			if n := names[id]; n != "" {
				labels = append(labels, strings.ToLower(n))
			} else {
				labels = append(labels, id)
			}
		}
		sec.instructions = append(sec.instructions,
			fmt.Sprintf("A recent call scored poorly; work on: %s.", strings.Join(labels, ", ")))
	}
	return sec
}

func (c *Composer) qualifier(confidence float64) string {
	switch {
	case confidence < c.cfg.LowConfidence:
		return "(still learning)"
	case confidence > c.cfg.HighConfidence:
		return "(well-established)"
	default:
		return ""
	}
}

func crossingTraits(traits []model.TraitScore, low, high float64) []model.TraitScore {
	var out []model.TraitScore
	for _, t := range traits {
		if t.Score <= low || t.Score >= high {
			out = append(out, t)
		}
	}
	return out
}

func negativeRewards(rewards []model.RewardScore) []model.RewardScore {
	var out []model.RewardScore
	for _, r := range rewards {
		if r.Overall < 0 {
			out = append(out, r)
		}
	}
	return out
}

// render concatenates non-empty sections into one plain-text document.
func render(sections []section) string {
	var b strings.Builder
	for _, sec := range sections {
		if len(sec.instructions) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "## %s\n", sec.title)
		for _, ins := range sec.instructions {
			fmt.Fprintf(&b, "- %s\n", ins)
		}
	}
	return b.String()
}

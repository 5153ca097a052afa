package oracle

import (
	"context"
	"fmt"
	"strings"

	"github.com/sells-group/coaching-cli/internal/model"
)

// heuristicCeiling bounds the confidence a keyword match can ever claim.
const heuristicCeiling = 0.6

// cueSet holds keyword cues that pull a parameter score up or down.
type cueSet struct {
	positive []string
	negative []string
}

// builtinCues covers the parameters shipped in the default seed. Unknown
// parameters fall back to matching words from their own definition text.
var builtinCues = map[string]cueSet{
	"empathy": {
		positive: []string{"i understand", "that sounds", "i hear you", "i'm sorry", "must be frustrating", "completely understandable"},
		negative: []string{"as i said", "like i told you", "that's not my problem", "policy is policy"},
	},
	"formality": {
		positive: []string{"certainly", "i would be happy to", "please allow me", "may i", "thank you for your patience"},
		negative: []string{"yeah", "gonna", "no worries", "cool", "hey"},
	},
	"proactivity": {
		positive: []string{"i also noticed", "one more thing", "you might also", "before you go", "i went ahead and", "i can also"},
		negative: []string{"anything else", "is that all", "not sure", "you'd have to"},
	},
	"conciseness": {
		positive: []string{"in short", "to summarize", "the key point"},
		negative: []string{"as i was saying", "to elaborate further", "additionally", "moreover", "furthermore"},
	},
	"patience": {
		positive: []string{"take your time", "no rush", "whenever you're ready", "let's go step by step"},
		negative: []string{"hurry", "quickly", "as i already explained", "again,"},
	},
	"adaptability": {
		positive: []string{"let me try another way", "put differently", "another option", "we could instead", "alternatively"},
		negative: []string{"that's the only way", "there is no other option", "cannot be changed"},
	},
}

// HeuristicOracle is a deterministic keyword scorer used when the LLM oracle
// is unavailable. It never errors.
type HeuristicOracle struct{}

// NewHeuristic returns the fallback scorer.
func NewHeuristic() *HeuristicOracle { return &HeuristicOracle{} }

// Score counts cue hits in the normalized transcript and maps the balance of
// positive vs negative cues onto [0,1]. Confidence grows with the number of
// hits but never exceeds heuristicCeiling.
func (h *HeuristicOracle) Score(_ context.Context, transcript string, param model.BehaviorParameter) (*Result, error) {
	text := NormalizeTranscript(transcript)

	cues, ok := builtinCues[param.ID]
	if !ok {
		cues = derivedCues(param)
	}

	pos, posHits := countHits(text, cues.positive)
	neg, negHits := countHits(text, cues.negative)

	value := model.Clamp01(0.5 + 0.1*float64(pos-neg))
	total := pos + neg
	confidence := 0.15 + 0.05*float64(total)
	if confidence > heuristicCeiling {
		confidence = heuristicCeiling
	}

	evidence := make([]string, 0, 3)
	for _, hit := range append(posHits, negHits...) {
		if len(evidence) == 3 {
			break
		}
		evidence = append(evidence, fmt.Sprintf("keyword: %q", hit))
	}

	return &Result{Value: value, Confidence: confidence, Evidence: evidence}, nil
}

// derivedCues builds a weak cue set from the parameter's own meaning text so
// unseeded parameters still get a deterministic, if dull, signal.
func derivedCues(param model.BehaviorParameter) cueSet {
	return cueSet{
		positive: significantWords(param.HighMeaning),
		negative: significantWords(param.LowMeaning),
	}
}

func significantWords(s string) []string {
	var out []string
	for _, w := range strings.Fields(NormalizeTranscript(s)) {
		if len(w) >= 6 {
			out = append(out, w)
		}
	}
	return out
}

func countHits(text string, cues []string) (int, []string) {
	n := 0
	var hits []string
	for _, cue := range cues {
		if c := strings.Count(text, cue); c > 0 {
			n += c
			hits = append(hits, cue)
		}
	}
	return n, hits
}

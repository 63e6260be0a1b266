package arbitration

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/cortexops/drover/pkg/errdefs"
	"github.com/cortexops/drover/pkg/log"
	"github.com/cortexops/drover/pkg/metrics"
	"github.com/cortexops/drover/pkg/types"
)

// Config holds the coordinator's quality gates.
type Config struct {
	MinParticipants     int
	ConfidenceThreshold float64
	EscalationThreshold float64
	ConsensusWeights    map[types.ConsensusLevel]float64
}

// DefaultConfig returns the standard arbitration parameters.
func DefaultConfig() Config {
	return Config{
		MinParticipants:     3,
		ConfidenceThreshold: 0.6,
		EscalationThreshold: 0.3,
		ConsensusWeights: map[types.ConsensusLevel]float64{
			types.ConsensusUnanimous: 1.0,
			types.ConsensusStrong:    0.8,
			types.ConsensusWeak:      0.6,
			types.ConsensusContested: 0.4,
		},
	}
}

// Context carries per-worker scoring inputs for one arbitration.
type Context struct {
	// Scoring maps worker id to that worker's scoring context. Workers
	// absent from the map are scored on neutral defaults.
	Scoring map[string]ScoringContext
}

// Coordinator combines N pleading decisions into one final decision with
// a consensus classification and an escalation flag. It never retries;
// retries are the caller's concern.
type Coordinator struct {
	cfg    Config
	scorer *Scorer
	logger zerolog.Logger
}

// NewCoordinator creates a coordinator over the given scorer.
func NewCoordinator(cfg Config, scorer *Scorer) *Coordinator {
	if cfg.MinParticipants <= 0 {
		cfg.MinParticipants = DefaultConfig().MinParticipants
	}
	if cfg.ConsensusWeights == nil {
		cfg.ConsensusWeights = DefaultConfig().ConsensusWeights
	}
	if scorer == nil {
		scorer = NewScorer(DefaultWeights(), DefaultThresholds())
	}
	return &Coordinator{
		cfg:    cfg,
		scorer: scorer,
		logger: log.WithComponent("arbitration"),
	}
}

// Arbitrate produces the final verdict over the pleadings.
func (c *Coordinator) Arbitrate(pleadings []types.PleadingDecision, ctx Context) (*types.ArbitrationResult, error) {
	if len(pleadings) < c.cfg.MinParticipants {
		return nil, fmt.Errorf("got %d pleadings, need %d: %w",
			len(pleadings), c.cfg.MinParticipants, errdefs.ErrInsufficientParticipants)
	}

	breakdown := map[types.Decision]*types.DecisionTally{
		types.DecisionApprove: {},
		types.DecisionDeny:    {},
		types.DecisionAbstain: {},
	}
	participants := make([]string, 0, len(pleadings))
	reasoning := make([]string, 0, len(pleadings)+2)
	confidenceSum := 0.0

	for _, p := range pleadings {
		tally, ok := breakdown[p.Decision]
		if !ok {
			return nil, errdefs.InvalidArgument("unknown decision %q from worker %s", p.Decision, p.WorkerID)
		}
		tally.Count++
		tally.TotalConfidence += p.Confidence
		tally.Workers = append(tally.Workers, p.WorkerID)

		participants = append(participants, p.WorkerID)
		confidenceSum += p.Confidence

		score := c.scorer.Score(ctx.Scoring[p.WorkerID])
		reasoning = append(reasoning, fmt.Sprintf(
			"worker %s: %s (stated %.2f, scored %.2f %s)",
			p.WorkerID, p.Decision, p.Confidence, score.Value, score.Level))
	}

	// Everyone abstaining leaves nothing to decide between.
	if breakdown[types.DecisionAbstain].Count == len(pleadings) {
		return nil, fmt.Errorf("all %d participants abstained: %w",
			len(pleadings), errdefs.ErrInsufficientParticipants)
	}

	total := len(pleadings)
	level := classifyConsensus(breakdown, total)
	weight := c.cfg.ConsensusWeights[level]

	final := c.selectFinal(breakdown, level, weight)
	reasoning = append(reasoning, fmt.Sprintf("consensus %s (weight %.2f)", level, weight))
	reasoning = append(reasoning, fmt.Sprintf("final decision %s", final))

	approve := breakdown[types.DecisionApprove].Count
	deny := breakdown[types.DecisionDeny].Count
	majority := approve
	if deny > majority {
		majority = deny
	}

	confidence := clamp01(
		0.4*weight +
			0.4*(confidenceSum/float64(total)) +
			0.2*(float64(majority)/float64(total)))

	abstainRatio := float64(breakdown[types.DecisionAbstain].Count) / float64(total)
	escalate := confidence < c.cfg.EscalationThreshold ||
		level == types.ConsensusContested ||
		abstainRatio > 0.5

	sort.Strings(participants)
	result := &types.ArbitrationResult{
		FinalDecision:      final,
		Confidence:         confidence,
		Reasoning:          reasoning,
		DecisionBreakdown:  breakdown,
		ConsensusLevel:     level,
		EscalationRequired: escalate,
		ParticipantIDs:     participants,
	}

	metrics.Arbitrations.WithLabelValues(string(final)).Inc()
	if escalate {
		metrics.Escalations.Inc()
	}
	c.logger.Debug().
		Str("decision", string(final)).
		Str("consensus", string(level)).
		Float64("confidence", confidence).
		Bool("escalate", escalate).
		Int("participants", total).
		Msg("arbitration resolved")

	return result, nil
}

// classifyConsensus labels agreement across the tallies. The 50% boundary
// counts as weak, not contested.
func classifyConsensus(breakdown map[types.Decision]*types.DecisionTally, total int) types.ConsensusLevel {
	nonEmpty := 0
	best := 0
	for _, tally := range breakdown {
		if tally.Count > 0 {
			nonEmpty++
		}
		if tally.Count > best {
			best = tally.Count
		}
	}

	share := float64(best) / float64(total)
	switch {
	case nonEmpty == 1:
		return types.ConsensusUnanimous
	case share >= 0.75:
		return types.ConsensusStrong
	case share >= 0.5:
		return types.ConsensusWeak
	default:
		return types.ConsensusContested
	}
}

// selectFinal picks approve or deny. Unanimity short-circuits to the sole
// category; otherwise each side scores
// (meanConfidence * consensusWeight) + count*0.1 and the higher wins.
// Abstain is never a final decision.
func (c *Coordinator) selectFinal(breakdown map[types.Decision]*types.DecisionTally, level types.ConsensusLevel, weight float64) types.Decision {
	if level == types.ConsensusUnanimous {
		if breakdown[types.DecisionApprove].Count > 0 {
			return types.DecisionApprove
		}
		return types.DecisionDeny
	}

	if sideScore(breakdown[types.DecisionApprove], weight) >= sideScore(breakdown[types.DecisionDeny], weight) {
		return types.DecisionApprove
	}
	return types.DecisionDeny
}

func sideScore(tally *types.DecisionTally, weight float64) float64 {
	if tally.Count == 0 {
		return 0
	}
	mean := tally.TotalConfidence / float64(tally.Count)
	return mean*weight + float64(tally.Count)*0.1
}

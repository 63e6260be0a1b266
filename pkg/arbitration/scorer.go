package arbitration

// ConfidenceLevel buckets a score for reporting.
type ConfidenceLevel string

const (
	ConfidenceVeryHigh ConfidenceLevel = "very_high"
	ConfidenceHigh     ConfidenceLevel = "high"
	ConfidenceMedium   ConfidenceLevel = "medium"
	ConfidenceLow      ConfidenceLevel = "low"
	ConfidenceVeryLow  ConfidenceLevel = "very_low"
)

// Weights are the per-factor weights of the confidence scorer. A zero
// weight excludes the factor from the normalized sum.
type Weights struct {
	VerificationSuccessRate float64
	ClaimEvidenceQuality    float64
	WorkerHistory           float64
	ArbitrationWins         float64
	CawsCompliance          float64
	ModelReliability        float64
	SourceCredibility       float64
}

// DefaultWeights returns the standard factor weighting.
func DefaultWeights() Weights {
	return Weights{
		VerificationSuccessRate: 0.40,
		ClaimEvidenceQuality:    0.30,
		WorkerHistory:           0.20,
		ArbitrationWins:         0.10,
	}
}

// Thresholds bucket a score into a confidence level. very_high is fixed
// at 0.9.
type Thresholds struct {
	High   float64
	Medium float64
	Low    float64
}

// DefaultThresholds returns the standard level boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{High: 0.8, Medium: 0.6, Low: 0.4}
}

// VerificationCheck is one external verification outcome feeding the
// scorer. Evidence kinds are counted distinct: sources, citations,
// calculations, data, references.
type VerificationCheck struct {
	Success       bool
	Confidence    float64
	EvidenceKinds []string
}

// WorkerHistory summarizes a worker's task track record.
type WorkerHistory struct {
	TotalTasks      int
	SuccessfulTasks int
	AvgAccuracy     float64 // historical accuracy in [0,1]
}

// ArbitrationHistory summarizes a worker's past arbitration outcomes.
type ArbitrationHistory struct {
	Wins   int
	Losses int
}

// Compliance summarizes process-compliance violations.
type Compliance struct {
	Violations int
	Tasks      int
}

// ScoringContext carries everything known about one worker's decision on
// one task.
type ScoringContext struct {
	Checks      []VerificationCheck
	History     WorkerHistory
	Arbitration ArbitrationHistory
	Compliance  Compliance

	// Optional signals; weighted only when their weights are non-zero.
	ModelReliability  float64
	SourceCredibility float64
}

// Score is the scorer's output for one decision.
type Score struct {
	Value   float64
	Level   ConfidenceLevel
	Factors map[string]float64
}

// Scorer computes a confidence score in [0,1] for a single worker's
// decision from weighted factors.
type Scorer struct {
	weights    Weights
	thresholds Thresholds
}

// NewScorer creates a scorer. Zero-valued weights or thresholds fall back
// to the defaults.
func NewScorer(weights Weights, thresholds Thresholds) *Scorer {
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	if thresholds == (Thresholds{}) {
		thresholds = DefaultThresholds()
	}
	return &Scorer{weights: weights, thresholds: thresholds}
}

// Score computes the weight-normalized factor sum, clamped to [0,1].
func (s *Scorer) Score(ctx ScoringContext) Score {
	factors := map[string]float64{
		"verificationSuccessRate": verificationSuccessRate(ctx.Checks),
		"claimEvidenceQuality":    claimEvidenceQuality(ctx.Checks),
		"workerHistory":           workerHistoryFactor(ctx.History),
		"arbitrationWins":         arbitrationWinsFactor(ctx.Arbitration),
		"cawsCompliance":          complianceFactor(ctx.Compliance),
		"modelReliability":        clamp01(ctx.ModelReliability),
		"sourceCredibility":       clamp01(ctx.SourceCredibility),
	}

	weighted := 0.0
	totalWeight := 0.0
	for name, weight := range map[string]float64{
		"verificationSuccessRate": s.weights.VerificationSuccessRate,
		"claimEvidenceQuality":    s.weights.ClaimEvidenceQuality,
		"workerHistory":           s.weights.WorkerHistory,
		"arbitrationWins":         s.weights.ArbitrationWins,
		"cawsCompliance":          s.weights.CawsCompliance,
		"modelReliability":        s.weights.ModelReliability,
		"sourceCredibility":       s.weights.SourceCredibility,
	} {
		if weight <= 0 {
			continue
		}
		weighted += factors[name] * weight
		totalWeight += weight
	}

	value := 0.0
	if totalWeight > 0 {
		value = clamp01(weighted / totalWeight)
	}

	return Score{
		Value:   value,
		Level:   s.level(value),
		Factors: factors,
	}
}

func (s *Scorer) level(value float64) ConfidenceLevel {
	switch {
	case value >= 0.9:
		return ConfidenceVeryHigh
	case value >= s.thresholds.High:
		return ConfidenceHigh
	case value >= s.thresholds.Medium:
		return ConfidenceMedium
	case value >= s.thresholds.Low:
		return ConfidenceLow
	default:
		return ConfidenceVeryLow
	}
}

// verificationSuccessRate is the fraction of checks that succeeded.
// No checks yields a neutral 0.5.
func verificationSuccessRate(checks []VerificationCheck) float64 {
	if len(checks) == 0 {
		return 0.5
	}
	succeeded := 0
	for _, c := range checks {
		if c.Success {
			succeeded++
		}
	}
	return float64(succeeded) / float64(len(checks))
}

// claimEvidenceQuality is the mean confidence of successful checks scaled
// by an evidence-richness multiplier: each distinct evidence kind adds
// 0.2, capped at 1.0.
func claimEvidenceQuality(checks []VerificationCheck) float64 {
	kinds := make(map[string]bool)
	sum := 0.0
	succeeded := 0
	for _, c := range checks {
		if !c.Success {
			continue
		}
		succeeded++
		sum += c.Confidence
		for _, k := range c.EvidenceKinds {
			kinds[k] = true
		}
	}
	if succeeded == 0 {
		return 0
	}

	richness := 0.2 * float64(len(kinds))
	if richness > 1 {
		richness = 1
	}
	return clamp01((sum / float64(succeeded)) * richness)
}

// workerHistoryFactor is the success ratio plus up to +0.2 from average
// historical accuracy, capped at 1.0. New workers score a neutral 0.5.
func workerHistoryFactor(h WorkerHistory) float64 {
	if h.TotalTasks == 0 {
		return 0.5
	}
	rate := float64(h.SuccessfulTasks) / float64(h.TotalTasks)
	rate += 0.2 * clamp01(h.AvgAccuracy)
	if rate > 1 {
		rate = 1
	}
	return rate
}

// arbitrationWinsFactor is wins/(wins+losses), neutral 0.5 with no history.
func arbitrationWinsFactor(a ArbitrationHistory) float64 {
	total := a.Wins + a.Losses
	if total == 0 {
		return 0.5
	}
	return float64(a.Wins) / float64(total)
}

// complianceFactor is 1 - violations/tasks.
func complianceFactor(c Compliance) float64 {
	if c.Tasks == 0 {
		return 1
	}
	return clamp01(1 - float64(c.Violations)/float64(c.Tasks))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

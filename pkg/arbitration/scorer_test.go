package arbitration

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestScoreNeutralDefaults verifies an empty context scores mid-range
func TestScoreNeutralDefaults(t *testing.T) {
	s := NewScorer(DefaultWeights(), DefaultThresholds())

	score := s.Score(ScoringContext{})
	// verification 0.5*0.4 + evidence 0*0.3 + history 0.5*0.2 + wins 0.5*0.1
	assert.InDelta(t, 0.35, score.Value, 1e-9)
	assert.Equal(t, ConfidenceVeryLow, score.Level)
	assert.Equal(t, 0.5, score.Factors["verificationSuccessRate"])
	assert.Equal(t, 0.5, score.Factors["workerHistory"])
	assert.Equal(t, 0.5, score.Factors["arbitrationWins"])
}

// TestScoreStrongContext verifies a high-signal context scores high
func TestScoreStrongContext(t *testing.T) {
	s := NewScorer(DefaultWeights(), DefaultThresholds())

	score := s.Score(ScoringContext{
		Checks: []VerificationCheck{
			{Success: true, Confidence: 0.95, EvidenceKinds: []string{"sources", "citations", "calculations", "data", "references"}},
			{Success: true, Confidence: 0.9},
		},
		History:     WorkerHistory{TotalTasks: 100, SuccessfulTasks: 95, AvgAccuracy: 0.9},
		Arbitration: ArbitrationHistory{Wins: 8, Losses: 2},
	})
	// verification 1.0, evidence 0.925*1.0, history min(0.95+0.18,1)=1,
	// wins 0.8 -> 0.4 + 0.2775 + 0.2 + 0.08 = 0.9575
	assert.InDelta(t, 0.9575, score.Value, 1e-9)
	assert.Equal(t, ConfidenceVeryHigh, score.Level)
}

// TestVerificationSuccessRate covers the factor's edge cases
func TestVerificationSuccessRate(t *testing.T) {
	assert.Equal(t, 0.5, verificationSuccessRate(nil))
	assert.Equal(t, 1.0, verificationSuccessRate([]VerificationCheck{{Success: true}}))
	assert.Equal(t, 0.5, verificationSuccessRate([]VerificationCheck{{Success: true}, {Success: false}}))
	assert.Equal(t, 0.0, verificationSuccessRate([]VerificationCheck{{Success: false}}))
}

// TestClaimEvidenceQuality verifies the richness multiplier
func TestClaimEvidenceQuality(t *testing.T) {
	// No successful checks yields zero
	assert.Equal(t, 0.0, claimEvidenceQuality(nil))
	assert.Equal(t, 0.0, claimEvidenceQuality([]VerificationCheck{{Success: false, Confidence: 0.9}}))

	// One kind: mean 0.8 * 0.2 = 0.16
	got := claimEvidenceQuality([]VerificationCheck{
		{Success: true, Confidence: 0.8, EvidenceKinds: []string{"sources"}},
	})
	assert.InDelta(t, 0.16, got, 1e-9)

	// Six distinct kinds cap the multiplier at 1.0
	got = claimEvidenceQuality([]VerificationCheck{
		{Success: true, Confidence: 0.8, EvidenceKinds: []string{"a", "b", "c", "d", "e", "f"}},
	})
	assert.InDelta(t, 0.8, got, 1e-9)

	// Failed checks contribute nothing to the mean
	got = claimEvidenceQuality([]VerificationCheck{
		{Success: true, Confidence: 0.6, EvidenceKinds: []string{"sources"}},
		{Success: false, Confidence: 0.1},
	})
	assert.InDelta(t, 0.12, got, 1e-9)
}

// TestWorkerHistoryFactor verifies the accuracy bonus and the cap
func TestWorkerHistoryFactor(t *testing.T) {
	assert.Equal(t, 0.5, workerHistoryFactor(WorkerHistory{}))
	assert.InDelta(t, 0.5, workerHistoryFactor(WorkerHistory{TotalTasks: 10, SuccessfulTasks: 5}), 1e-9)
	assert.InDelta(t, 0.68, workerHistoryFactor(WorkerHistory{TotalTasks: 10, SuccessfulTasks: 5, AvgAccuracy: 0.9}), 1e-9)
	assert.Equal(t, 1.0, workerHistoryFactor(WorkerHistory{TotalTasks: 10, SuccessfulTasks: 10, AvgAccuracy: 1.0}))
}

// TestArbitrationWinsFactor verifies the win ratio and neutral default
func TestArbitrationWinsFactor(t *testing.T) {
	assert.Equal(t, 0.5, arbitrationWinsFactor(ArbitrationHistory{}))
	assert.Equal(t, 0.75, arbitrationWinsFactor(ArbitrationHistory{Wins: 3, Losses: 1}))
	assert.Equal(t, 0.0, arbitrationWinsFactor(ArbitrationHistory{Losses: 5}))
}

// TestComplianceFactor verifies the violation ratio
func TestComplianceFactor(t *testing.T) {
	assert.Equal(t, 1.0, complianceFactor(Compliance{}))
	assert.InDelta(t, 0.8, complianceFactor(Compliance{Violations: 2, Tasks: 10}), 1e-9)
	assert.Equal(t, 0.0, complianceFactor(Compliance{Violations: 20, Tasks: 10}))
}

// TestWeightNormalization verifies zero-weight factors are excluded
func TestWeightNormalization(t *testing.T) {
	s := NewScorer(Weights{VerificationSuccessRate: 0.5}, DefaultThresholds())

	score := s.Score(ScoringContext{
		Checks: []VerificationCheck{{Success: true, Confidence: 1.0}},
	})
	// The only weighted factor is 1.0, normalized by its own weight
	assert.Equal(t, 1.0, score.Value)
}

// TestLevelBuckets verifies threshold bucketing including very_high at 0.9
func TestLevelBuckets(t *testing.T) {
	s := NewScorer(DefaultWeights(), DefaultThresholds())

	tests := []struct {
		value float64
		level ConfidenceLevel
	}{
		{0.95, ConfidenceVeryHigh},
		{0.9, ConfidenceVeryHigh},
		{0.85, ConfidenceHigh},
		{0.8, ConfidenceHigh},
		{0.7, ConfidenceMedium},
		{0.6, ConfidenceMedium},
		{0.5, ConfidenceLow},
		{0.4, ConfidenceLow},
		{0.3, ConfidenceVeryLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.level, s.level(tt.value), "value %v", tt.value)
	}
}

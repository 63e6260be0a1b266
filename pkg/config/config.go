package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cortexops/drover/pkg/types"
)

// Config is the full configuration surface of the Drover control plane.
type Config struct {
	API         APIConfig         `yaml:"api"`
	Log         LogConfig         `yaml:"log"`
	Supervisor  SupervisorConfig  `yaml:"supervisor"`
	Snapshot    SnapshotConfig    `yaml:"snapshot"`
	Registry    RegistryConfig    `yaml:"registry"`
	Arbitration ArbitrationConfig `yaml:"arbitration"`
	Scorer      ScorerConfig      `yaml:"scorer"`
}

// APIConfig configures the HTTP front door.
type APIConfig struct {
	ListenAddr string `yaml:"listenAddr"`
	DataDir    string `yaml:"dataDir"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// SupervisorConfig configures the worker pool supervisor.
type SupervisorConfig struct {
	MaxWorkers       int                `yaml:"maxWorkers"`
	Backpressure     BackpressureConfig `yaml:"backpressure"`
	Retry            RetryConfig        `yaml:"retry"`
	DispatchInterval time.Duration      `yaml:"dispatchInterval"`
}

// BackpressureConfig sets the thresholds above which new work is deferred.
type BackpressureConfig struct {
	SaturationRatio float64       `yaml:"saturationRatio"`
	QueueDepth      int           `yaml:"queueDepth"`
	Cooldown        time.Duration `yaml:"cooldown"`
}

// RetryConfig sets the exponential backoff schedule for failed attempts.
type RetryConfig struct {
	BaseDelay   time.Duration `yaml:"baseDelay"`
	MaxDelay    time.Duration `yaml:"maxDelay"`
	MaxAttempts int           `yaml:"maxAttempts"`
}

// SnapshotConfig configures the task snapshot store.
type SnapshotConfig struct {
	DefaultTTL          time.Duration `yaml:"defaultTtl"`
	MaxSnapshotsPerTask int           `yaml:"maxSnapshotsPerTask"`
	CleanupInterval     time.Duration `yaml:"cleanupInterval"`
}

// RegistryConfig configures worker registry eviction timing.
type RegistryConfig struct {
	CleanupInterval time.Duration `yaml:"cleanupInterval"`
	StaleThreshold  time.Duration `yaml:"staleThreshold"`
}

// ArbitrationConfig configures the arbitration coordinator.
type ArbitrationConfig struct {
	MinParticipants     int                              `yaml:"minParticipants"`
	ConfidenceThreshold float64                          `yaml:"confidenceThreshold"`
	EscalationThreshold float64                          `yaml:"escalationThreshold"`
	ConsensusWeights    map[types.ConsensusLevel]float64 `yaml:"consensusWeights"`
}

// ScorerConfig configures the confidence scorer's factor weights and
// level thresholds.
type ScorerConfig struct {
	Weights    ScorerWeights    `yaml:"weights"`
	Thresholds ScorerThresholds `yaml:"thresholds"`
}

// ScorerWeights are the per-factor weights; the scorer normalizes by the
// sum of the weights that apply.
type ScorerWeights struct {
	VerificationSuccessRate float64 `yaml:"verificationSuccessRate"`
	ClaimEvidenceQuality    float64 `yaml:"claimEvidenceQuality"`
	WorkerHistory           float64 `yaml:"workerHistory"`
	ArbitrationWins         float64 `yaml:"arbitrationWins"`
	CawsCompliance          float64 `yaml:"cawsCompliance"`
	ModelReliability        float64 `yaml:"modelReliability"`
	SourceCredibility       float64 `yaml:"sourceCredibility"`
}

// ScorerThresholds bucket a score into a confidence level. very_high is
// fixed at 0.9.
type ScorerThresholds struct {
	High   float64 `yaml:"high"`
	Medium float64 `yaml:"medium"`
	Low    float64 `yaml:"low"`
}

// Default returns the configuration with every option at its default.
func Default() *Config {
	return &Config{
		API: APIConfig{
			ListenAddr: ":7430",
			DataDir:    "/var/lib/drover",
		},
		Log: LogConfig{
			Level: "info",
		},
		Supervisor: SupervisorConfig{
			MaxWorkers: 16,
			Backpressure: BackpressureConfig{
				SaturationRatio: 0.8,
				QueueDepth:      100,
				Cooldown:        5 * time.Second,
			},
			Retry: RetryConfig{
				BaseDelay:   100 * time.Millisecond,
				MaxDelay:    30 * time.Second,
				MaxAttempts: 3,
			},
			DispatchInterval: time.Second,
		},
		Snapshot: SnapshotConfig{
			DefaultTTL:          time.Hour,
			MaxSnapshotsPerTask: 5,
			CleanupInterval:     5 * time.Minute,
		},
		Registry: RegistryConfig{
			CleanupInterval: 60 * time.Second,
			StaleThreshold:  300 * time.Second,
		},
		Arbitration: ArbitrationConfig{
			MinParticipants:     3,
			ConfidenceThreshold: 0.6,
			EscalationThreshold: 0.3,
			ConsensusWeights: map[types.ConsensusLevel]float64{
				types.ConsensusUnanimous: 1.0,
				types.ConsensusStrong:    0.8,
				types.ConsensusWeak:      0.6,
				types.ConsensusContested: 0.4,
			},
		},
		Scorer: ScorerConfig{
			Weights: ScorerWeights{
				VerificationSuccessRate: 0.40,
				ClaimEvidenceQuality:    0.30,
				WorkerHistory:           0.20,
				ArbitrationWins:         0.10,
			},
			Thresholds: ScorerThresholds{
				High:   0.8,
				Medium: 0.6,
				Low:    0.4,
			},
		},
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the core cannot honor.
func (c *Config) Validate() error {
	if c.Supervisor.MaxWorkers <= 0 {
		return fmt.Errorf("supervisor.maxWorkers must be positive, got %d", c.Supervisor.MaxWorkers)
	}
	if r := c.Supervisor.Backpressure.SaturationRatio; r <= 0 || r > 1 {
		return fmt.Errorf("supervisor.backpressure.saturationRatio must be in (0,1], got %v", r)
	}
	if c.Supervisor.Retry.MaxAttempts < 0 {
		return fmt.Errorf("supervisor.retry.maxAttempts must not be negative, got %d", c.Supervisor.Retry.MaxAttempts)
	}
	if c.Supervisor.Retry.BaseDelay <= 0 {
		return fmt.Errorf("supervisor.retry.baseDelay must be positive, got %v", c.Supervisor.Retry.BaseDelay)
	}
	if c.Snapshot.MaxSnapshotsPerTask <= 0 {
		return fmt.Errorf("snapshot.maxSnapshotsPerTask must be positive, got %d", c.Snapshot.MaxSnapshotsPerTask)
	}
	if c.Arbitration.MinParticipants < 1 {
		return fmt.Errorf("arbitration.minParticipants must be at least 1, got %d", c.Arbitration.MinParticipants)
	}
	if t := c.Arbitration.EscalationThreshold; t < 0 || t > 1 {
		return fmt.Errorf("arbitration.escalationThreshold must be in [0,1], got %v", t)
	}
	return nil
}

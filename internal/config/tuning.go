package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// Default thresholds. These are empirically tuned policy constants; keep them
// exactly as listed unless a tuning file overrides them.
const (
	DefaultFlamingoMaxArmAngle = 45.0
	DefaultFlamingoMaxLegAngle = 45.0

	DefaultChairMinKneeAngle = 45.0
	DefaultChairMaxKneeAngle = 90.0
	DefaultChairMinArmAngle  = 140.0

	DefaultPlankMaxKneeRootGap = 0.02
	DefaultPlankMaxRootNeckGap = 0.09

	DefaultSquatStandingMinGap = 0.1
	DefaultSquatStandingMaxGap = 0.2
	DefaultSquatMaxKneeAngle   = 80.0

	DefaultPoseDebounce    = time.Second
	DefaultLearnedCooldown = 400 * time.Millisecond
	DefaultLearnedEpsilon  = 0.001

	DefaultDisplayBuffer        = 2
	DefaultClassificationBuffer = 64

	DefaultOscillationHysteresis = 0.03
)

// TuningConfig holds the classifier thresholds and pipeline buffering knobs.
// Every field is optional; the Get* accessors fall back to the defaults above
// so partial files are safe.
type TuningConfig struct {
	// Flamingo
	FlamingoMaxArmAngle *float64 `json:"flamingo_max_arm_angle,omitempty"`
	FlamingoMaxLegAngle *float64 `json:"flamingo_max_leg_angle,omitempty"`

	// Chair pose
	ChairMinKneeAngle *float64 `json:"chair_min_knee_angle,omitempty"`
	ChairMaxKneeAngle *float64 `json:"chair_max_knee_angle,omitempty"`
	ChairMinArmAngle  *float64 `json:"chair_min_arm_angle,omitempty"`

	// Planks
	PlankMaxKneeRootGap *float64 `json:"plank_max_knee_root_gap,omitempty"`
	PlankMaxRootNeckGap *float64 `json:"plank_max_root_neck_gap,omitempty"`

	// Squat
	SquatStandingMinGap *float64 `json:"squat_standing_min_gap,omitempty"`
	SquatStandingMaxGap *float64 `json:"squat_standing_max_gap,omitempty"`
	SquatMaxKneeAngle   *float64 `json:"squat_max_knee_angle,omitempty"`

	// Event policies
	PoseDebounce    *string  `json:"pose_debounce,omitempty"`    // duration string like "1s"
	LearnedCooldown *string  `json:"learned_cooldown,omitempty"` // duration string like "400ms"
	LearnedEpsilon  *float64 `json:"learned_epsilon,omitempty"`

	// Fan-out buffering
	DisplayBuffer        *int `json:"display_buffer,omitempty"`
	ClassificationBuffer *int `json:"classification_buffer,omitempty"`

	// Fallback periodic counter
	OscillationHysteresis *float64 `json:"oscillation_hysteresis,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a config with every field populated from the
// package defaults. Useful for dumping a complete file.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		FlamingoMaxArmAngle:   ptrFloat64(DefaultFlamingoMaxArmAngle),
		FlamingoMaxLegAngle:   ptrFloat64(DefaultFlamingoMaxLegAngle),
		ChairMinKneeAngle:     ptrFloat64(DefaultChairMinKneeAngle),
		ChairMaxKneeAngle:     ptrFloat64(DefaultChairMaxKneeAngle),
		ChairMinArmAngle:      ptrFloat64(DefaultChairMinArmAngle),
		PlankMaxKneeRootGap:   ptrFloat64(DefaultPlankMaxKneeRootGap),
		PlankMaxRootNeckGap:   ptrFloat64(DefaultPlankMaxRootNeckGap),
		SquatStandingMinGap:   ptrFloat64(DefaultSquatStandingMinGap),
		SquatStandingMaxGap:   ptrFloat64(DefaultSquatStandingMaxGap),
		SquatMaxKneeAngle:     ptrFloat64(DefaultSquatMaxKneeAngle),
		PoseDebounce:          ptrString(DefaultPoseDebounce.String()),
		LearnedCooldown:       ptrString(DefaultLearnedCooldown.String()),
		LearnedEpsilon:        ptrFloat64(DefaultLearnedEpsilon),
		DisplayBuffer:         ptrInt(DefaultDisplayBuffer),
		ClassificationBuffer:  ptrInt(DefaultClassificationBuffer),
		OscillationHysteresis: ptrFloat64(DefaultOscillationHysteresis),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	for name, v := range map[string]*float64{
		"flamingo_max_arm_angle": c.FlamingoMaxArmAngle,
		"flamingo_max_leg_angle": c.FlamingoMaxLegAngle,
		"chair_min_knee_angle":   c.ChairMinKneeAngle,
		"chair_max_knee_angle":   c.ChairMaxKneeAngle,
		"chair_min_arm_angle":    c.ChairMinArmAngle,
		"squat_max_knee_angle":   c.SquatMaxKneeAngle,
	} {
		if v != nil && (*v < 0 || *v > 180) {
			return fmt.Errorf("%s must be between 0 and 180 degrees, got %f", name, *v)
		}
	}

	if c.GetChairMinKneeAngle() >= c.GetChairMaxKneeAngle() {
		return fmt.Errorf("chair_min_knee_angle (%f) must be below chair_max_knee_angle (%f)",
			c.GetChairMinKneeAngle(), c.GetChairMaxKneeAngle())
	}
	if c.GetSquatStandingMinGap() >= c.GetSquatStandingMaxGap() {
		return fmt.Errorf("squat_standing_min_gap (%f) must be below squat_standing_max_gap (%f)",
			c.GetSquatStandingMinGap(), c.GetSquatStandingMaxGap())
	}

	if c.LearnedEpsilon != nil && *c.LearnedEpsilon < 0 {
		return fmt.Errorf("learned_epsilon must be non-negative, got %f", *c.LearnedEpsilon)
	}

	for name, v := range map[string]*string{
		"pose_debounce":    c.PoseDebounce,
		"learned_cooldown": c.LearnedCooldown,
	} {
		if v != nil && *v != "" {
			if _, err := time.ParseDuration(*v); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
			}
		}
	}

	if c.DisplayBuffer != nil && *c.DisplayBuffer < 0 {
		return fmt.Errorf("display_buffer must be non-negative, got %d", *c.DisplayBuffer)
	}
	if c.ClassificationBuffer != nil && *c.ClassificationBuffer < 0 {
		return fmt.Errorf("classification_buffer must be non-negative, got %d", *c.ClassificationBuffer)
	}

	return nil
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetFlamingoMaxArmAngle returns the flamingo_max_arm_angle value or the default.
func (c *TuningConfig) GetFlamingoMaxArmAngle() float64 {
	return floatOr(c.FlamingoMaxArmAngle, DefaultFlamingoMaxArmAngle)
}

// GetFlamingoMaxLegAngle returns the flamingo_max_leg_angle value or the default.
func (c *TuningConfig) GetFlamingoMaxLegAngle() float64 {
	return floatOr(c.FlamingoMaxLegAngle, DefaultFlamingoMaxLegAngle)
}

// GetChairMinKneeAngle returns the chair_min_knee_angle value or the default.
func (c *TuningConfig) GetChairMinKneeAngle() float64 {
	return floatOr(c.ChairMinKneeAngle, DefaultChairMinKneeAngle)
}

// GetChairMaxKneeAngle returns the chair_max_knee_angle value or the default.
func (c *TuningConfig) GetChairMaxKneeAngle() float64 {
	return floatOr(c.ChairMaxKneeAngle, DefaultChairMaxKneeAngle)
}

// GetChairMinArmAngle returns the chair_min_arm_angle value or the default.
func (c *TuningConfig) GetChairMinArmAngle() float64 {
	return floatOr(c.ChairMinArmAngle, DefaultChairMinArmAngle)
}

// GetPlankMaxKneeRootGap returns the plank_max_knee_root_gap value or the default.
func (c *TuningConfig) GetPlankMaxKneeRootGap() float64 {
	return floatOr(c.PlankMaxKneeRootGap, DefaultPlankMaxKneeRootGap)
}

// GetPlankMaxRootNeckGap returns the plank_max_root_neck_gap value or the default.
func (c *TuningConfig) GetPlankMaxRootNeckGap() float64 {
	return floatOr(c.PlankMaxRootNeckGap, DefaultPlankMaxRootNeckGap)
}

// GetSquatStandingMinGap returns the squat_standing_min_gap value or the default.
func (c *TuningConfig) GetSquatStandingMinGap() float64 {
	return floatOr(c.SquatStandingMinGap, DefaultSquatStandingMinGap)
}

// GetSquatStandingMaxGap returns the squat_standing_max_gap value or the default.
func (c *TuningConfig) GetSquatStandingMaxGap() float64 {
	return floatOr(c.SquatStandingMaxGap, DefaultSquatStandingMaxGap)
}

// GetSquatMaxKneeAngle returns the squat_max_knee_angle value or the default.
func (c *TuningConfig) GetSquatMaxKneeAngle() float64 {
	return floatOr(c.SquatMaxKneeAngle, DefaultSquatMaxKneeAngle)
}

// GetPoseDebounce parses and returns PoseDebounce as a time.Duration.
func (c *TuningConfig) GetPoseDebounce() time.Duration {
	return durationOr(c.PoseDebounce, DefaultPoseDebounce)
}

// GetLearnedCooldown parses and returns LearnedCooldown as a time.Duration.
func (c *TuningConfig) GetLearnedCooldown() time.Duration {
	return durationOr(c.LearnedCooldown, DefaultLearnedCooldown)
}

// GetLearnedEpsilon returns the learned_epsilon value or the default.
func (c *TuningConfig) GetLearnedEpsilon() float64 {
	return floatOr(c.LearnedEpsilon, DefaultLearnedEpsilon)
}

// GetDisplayBuffer returns the display_buffer value or the default.
func (c *TuningConfig) GetDisplayBuffer() int {
	if c.DisplayBuffer == nil {
		return DefaultDisplayBuffer
	}
	return *c.DisplayBuffer
}

// GetClassificationBuffer returns the classification_buffer value or the default.
func (c *TuningConfig) GetClassificationBuffer() int {
	if c.ClassificationBuffer == nil {
		return DefaultClassificationBuffer
	}
	return *c.ClassificationBuffer
}

// GetOscillationHysteresis returns the oscillation_hysteresis value or the default.
func (c *TuningConfig) GetOscillationHysteresis() float64 {
	return floatOr(c.OscillationHysteresis, DefaultOscillationHysteresis)
}

// Package classify turns per-frame poses into repetition events. Geometric
// rules test joint angles and vertical gaps on the first pose of a frame;
// the learned path watches a cumulative-count signal. Both apply their own
// debounce and report accepted events to the accumulator.
package classify

import (
	"github.com/banshee-data/repcount/internal/config"
	"github.com/banshee-data/repcount/internal/pose"
)

// Rule evaluates one pose against an exercise's geometric criterion. ok is
// false when a keypoint the rule needs is missing, in which case hit is
// meaningless and the frame must not affect any timer.
type Rule interface {
	Name() string
	Evaluate(p pose.Pose) (hit, ok bool)
}

// FlamingoRule holds when the right arm is folded at the elbow and the right
// leg is folded at the knee.
type FlamingoRule struct {
	MaxArmAngle float64
	MaxLegAngle float64
}

// NewFlamingoRule reads thresholds from cfg.
func NewFlamingoRule(cfg *config.TuningConfig) *FlamingoRule {
	return &FlamingoRule{
		MaxArmAngle: cfg.GetFlamingoMaxArmAngle(),
		MaxLegAngle: cfg.GetFlamingoMaxLegAngle(),
	}
}

func (r *FlamingoRule) Name() string { return "Flamingo" }

func (r *FlamingoRule) Evaluate(p pose.Pose) (bool, bool) {
	loc, ok := p.Locations(
		pose.RightShoulder, pose.RightElbow, pose.RightWrist,
		pose.RightHip, pose.RightKnee, pose.RightAnkle,
	)
	if !ok {
		return false, false
	}
	shoulder, elbow, wrist := loc[0], loc[1], loc[2]
	hip, knee, ankle := loc[3], loc[4], loc[5]

	arm := pose.AngleBetweenThreePoints(elbow, shoulder, wrist)
	leg := pose.AngleBetweenThreePoints(knee, hip, ankle)
	return arm < r.MaxArmAngle && leg < r.MaxLegAngle, true
}

// ChairPoseRule holds when both knees are bent inside a band, both arms are
// nearly straight, and at least one elbow is raised above its shoulder.
type ChairPoseRule struct {
	MinKneeAngle float64
	MaxKneeAngle float64
	MinArmAngle  float64
}

// NewChairPoseRule reads thresholds from cfg.
func NewChairPoseRule(cfg *config.TuningConfig) *ChairPoseRule {
	return &ChairPoseRule{
		MinKneeAngle: cfg.GetChairMinKneeAngle(),
		MaxKneeAngle: cfg.GetChairMaxKneeAngle(),
		MinArmAngle:  cfg.GetChairMinArmAngle(),
	}
}

func (r *ChairPoseRule) Name() string { return "Chair Pose" }

func (r *ChairPoseRule) Evaluate(p pose.Pose) (bool, bool) {
	loc, ok := p.Locations(
		pose.RightHip, pose.LeftHip,
		pose.RightKnee, pose.LeftKnee,
		pose.RightAnkle, pose.LeftAnkle,
		pose.RightShoulder, pose.LeftShoulder,
		pose.RightElbow, pose.LeftElbow,
		pose.RightWrist, pose.LeftWrist,
	)
	if !ok {
		return false, false
	}
	rHip, lHip := loc[0], loc[1]
	rKnee, lKnee := loc[2], loc[3]
	rAnkle, lAnkle := loc[4], loc[5]
	rShoulder, lShoulder := loc[6], loc[7]
	rElbow, lElbow := loc[8], loc[9]
	rWrist, lWrist := loc[10], loc[11]

	rKneeAngle := pose.AngleBetweenThreePoints(rKnee, rHip, rAnkle)
	lKneeAngle := pose.AngleBetweenThreePoints(lKnee, lHip, lAnkle)
	rArmAngle := pose.AngleBetweenThreePoints(rElbow, rShoulder, rWrist)
	lArmAngle := pose.AngleBetweenThreePoints(lElbow, lShoulder, lWrist)

	// NaN fails every comparison, so degenerate knees never pass the band.
	knees := r.inKneeBand(rKneeAngle) && r.inKneeBand(lKneeAngle)
	arms := rArmAngle > r.MinArmAngle && lArmAngle > r.MinArmAngle
	raised := rElbow.Y > rShoulder.Y || lElbow.Y > lShoulder.Y
	return knees && arms && raised, true
}

func (r *ChairPoseRule) inKneeBand(a float64) bool {
	return a > r.MinKneeAngle && a < r.MaxKneeAngle
}

// PlankRule holds when knee, root and neck are nearly level.
type PlankRule struct {
	MaxKneeRootGap float64
	MaxRootNeckGap float64
}

// NewPlankRule reads thresholds from cfg.
func NewPlankRule(cfg *config.TuningConfig) *PlankRule {
	return &PlankRule{
		MaxKneeRootGap: cfg.GetPlankMaxKneeRootGap(),
		MaxRootNeckGap: cfg.GetPlankMaxRootNeckGap(),
	}
}

func (r *PlankRule) Name() string { return "Planks" }

func (r *PlankRule) Evaluate(p pose.Pose) (bool, bool) {
	loc, ok := p.Locations(pose.RightKnee, pose.Root, pose.Neck)
	if !ok {
		return false, false
	}
	knee, root, neck := loc[0], loc[1], loc[2]
	return pose.VerticalGap(knee, root) < r.MaxKneeRootGap &&
		pose.VerticalGap(root, neck) < r.MaxRootNeckGap, true
}

// SquatRule is a two-phase detector. Entering the standing band arms it;
// leaving the band with the right knee bent past MaxKneeAngle while armed
// completes one repetition and disarms it. It is edge-triggered, so it is
// never debounced.
type SquatRule struct {
	StandingMinGap float64
	StandingMaxGap float64
	MaxKneeAngle   float64

	phaseOne bool
}

// NewSquatRule reads thresholds from cfg.
func NewSquatRule(cfg *config.TuningConfig) *SquatRule {
	return &SquatRule{
		StandingMinGap: cfg.GetSquatStandingMinGap(),
		StandingMaxGap: cfg.GetSquatStandingMaxGap(),
		MaxKneeAngle:   cfg.GetSquatMaxKneeAngle(),
	}
}

func (r *SquatRule) Name() string { return "Squat" }

// Evaluate reports hit only on the frame that completes a repetition.
func (r *SquatRule) Evaluate(p pose.Pose) (bool, bool) {
	loc, ok := p.Locations(pose.RightKnee, pose.Root, pose.RightHip, pose.RightAnkle, pose.Neck)
	if !ok {
		return false, false
	}
	knee, root, hip, ankle, neck := loc[0], loc[1], loc[2], loc[3], loc[4]

	kneeRoot := pose.VerticalGap(knee, root)
	rootNeck := pose.VerticalGap(root, neck)
	standing := r.inStandingBand(kneeRoot) && r.inStandingBand(rootNeck)
	legAngle := pose.AngleBetweenThreePoints(knee, hip, ankle)

	switch {
	case standing && !r.phaseOne:
		r.phaseOne = true
	case !standing && r.phaseOne && legAngle < r.MaxKneeAngle:
		r.phaseOne = false
		return true, true
	}
	return false, true
}

func (r *SquatRule) inStandingBand(gap float64) bool {
	return gap > r.StandingMinGap && gap < r.StandingMaxGap
}

// Armed reports whether the standing phase has been seen.
func (r *SquatRule) Armed() bool { return r.phaseOne }

// Reset disarms the rule.
func (r *SquatRule) Reset() { r.phaseOne = false }

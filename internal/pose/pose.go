// Package pose defines the per-frame body keypoint model consumed by the
// repetition counters, plus the geometry helpers the classifiers share.
package pose

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gonum.org/v1/gonum/spatial/r2"
)

// KeypointName identifies a body joint reported by the pose estimator.
type KeypointName int

const (
	LeftShoulder KeypointName = iota
	RightShoulder
	LeftElbow
	RightElbow
	LeftWrist
	RightWrist
	LeftHip
	RightHip
	LeftKnee
	RightKnee
	LeftAnkle
	RightAnkle
	Neck
	Root
	numKeypoints
)

var keypointNames = [numKeypoints]string{
	LeftShoulder:  "leftShoulder",
	RightShoulder: "rightShoulder",
	LeftElbow:     "leftElbow",
	RightElbow:    "rightElbow",
	LeftWrist:     "leftWrist",
	RightWrist:    "rightWrist",
	LeftHip:       "leftHip",
	RightHip:      "rightHip",
	LeftKnee:      "leftKnee",
	RightKnee:     "rightKnee",
	LeftAnkle:     "leftAnkle",
	RightAnkle:    "rightAnkle",
	Neck:          "neck",
	Root:          "root",
}

// String returns the wire name of the keypoint.
func (k KeypointName) String() string {
	if k < 0 || k >= numKeypoints {
		return fmt.Sprintf("KeypointName(%d)", int(k))
	}
	return keypointNames[k]
}

// ParseKeypointName maps a wire name back to its KeypointName.
func ParseKeypointName(s string) (KeypointName, error) {
	for i, name := range keypointNames {
		if name == s {
			return KeypointName(i), nil
		}
	}
	return 0, fmt.Errorf("unknown keypoint %q", s)
}

// MarshalText implements encoding.TextMarshaler so keypoint names can be used
// as JSON object keys.
func (k KeypointName) MarshalText() ([]byte, error) {
	if k < 0 || k >= numKeypoints {
		return nil, fmt.Errorf("invalid keypoint %d", int(k))
	}
	return []byte(keypointNames[k]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *KeypointName) UnmarshalText(b []byte) error {
	v, err := ParseKeypointName(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Keypoint is a single detected joint in normalized image coordinates.
type Keypoint struct {
	Name       KeypointName
	Location   r2.Vec
	Confidence float64
}

// Pose is the set of keypoints detected for one body in one frame.
type Pose struct {
	Keypoints map[KeypointName]Keypoint
}

// NewPose builds a Pose from the given keypoints. Later duplicates win.
func NewPose(kps ...Keypoint) Pose {
	p := Pose{Keypoints: make(map[KeypointName]Keypoint, len(kps))}
	for _, kp := range kps {
		p.Keypoints[kp.Name] = kp
	}
	return p
}

// With returns a copy of the pose with the given keypoints added or replaced.
func (p Pose) With(kps ...Keypoint) Pose {
	out := Pose{Keypoints: make(map[KeypointName]Keypoint, len(p.Keypoints)+len(kps))}
	for name, kp := range p.Keypoints {
		out.Keypoints[name] = kp
	}
	for _, kp := range kps {
		out.Keypoints[kp.Name] = kp
	}
	return out
}

// Without returns a copy of the pose with the named keypoints removed.
func (p Pose) Without(names ...KeypointName) Pose {
	out := p.With()
	for _, name := range names {
		delete(out.Keypoints, name)
	}
	return out
}

// At is shorthand for a full-confidence keypoint at (x, y).
func At(name KeypointName, x, y float64) Keypoint {
	return Keypoint{Name: name, Location: r2.Vec{X: x, Y: y}, Confidence: 1}
}

// Keypoint looks up a joint by name.
func (p Pose) Keypoint(name KeypointName) (Keypoint, bool) {
	kp, ok := p.Keypoints[name]
	return kp, ok
}

// Locations returns the locations of the named keypoints in order. ok is false
// if any of them is missing from the pose.
func (p Pose) Locations(names ...KeypointName) ([]r2.Vec, bool) {
	out := make([]r2.Vec, len(names))
	for i, name := range names {
		kp, ok := p.Keypoints[name]
		if !ok {
			return nil, false
		}
		out[i] = kp.Location
	}
	return out, true
}

type wireKeypoint struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Confidence float64 `json:"confidence,omitempty"`
}

// MarshalJSON encodes the pose as {"rightKnee": {"x":..,"y":..}, ...}.
func (p Pose) MarshalJSON() ([]byte, error) {
	m := make(map[KeypointName]wireKeypoint, len(p.Keypoints))
	for name, kp := range p.Keypoints {
		m[name] = wireKeypoint{X: kp.Location.X, Y: kp.Location.Y, Confidence: kp.Confidence}
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes the format written by MarshalJSON.
func (p *Pose) UnmarshalJSON(b []byte) error {
	var m map[KeypointName]wireKeypoint
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	p.Keypoints = make(map[KeypointName]Keypoint, len(m))
	for name, w := range m {
		p.Keypoints[name] = Keypoint{
			Name:       name,
			Location:   r2.Vec{X: w.X, Y: w.Y},
			Confidence: w.Confidence,
		}
	}
	return nil
}

// Feature pairs a frame identifier and capture time with a payload. Features
// are delivered in frame order and never reordered.
type Feature[T any] struct {
	ID    int64     `json:"id"`
	Time  time.Time `json:"time"`
	Value T         `json:"value"`
}

// Frame is one item produced by a Source: the frame identifier, the opaque
// image handle and every pose detected in it.
type Frame struct {
	ID    int64     `json:"id"`
	Time  time.Time `json:"time"`
	Image any       `json:"-"`
	Poses []Pose    `json:"poses"`
}

// Feature strips the image and returns the pose payload of the frame.
func (f Frame) Feature() Feature[[]Pose] {
	return Feature[[]Pose]{ID: f.ID, Time: f.Time, Value: f.Poses}
}

// Primary returns the first detected pose, which is the only one the counters
// look at.
func (f Frame) Primary() (Pose, bool) {
	if len(f.Poses) == 0 {
		return Pose{}, false
	}
	return f.Poses[0], true
}

// Source produces frames with their detected poses at camera rate. Next
// returns io.EOF once the source has no more frames.
type Source interface {
	Next(ctx context.Context) (Frame, error)
	Close() error
}

// Package landmark defines the geometric observations the monitor consumes
// and the boundary to the external landmark detector. The detector itself
// (camera, face/pose/hand models) lives outside this module; anything it
// fails to produce for a frame is simply absent, never an error.
package landmark

import (
	"context"
	"math"
)

// Point is a 2D pixel coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Dist returns the Euclidean distance between two points.
func (p Point) Dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Mid returns the midpoint of two points.
func Mid(a, b Point) Point {
	return Point{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2}
}

// Rect is an axis-aligned pixel bounding box.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// ContainsWithMargin reports whether p lies inside the rect grown outward by
// margin pixels on every side. A negative margin shrinks the rect.
func (r Rect) ContainsWithMargin(p Point, margin float64) bool {
	return p.X >= r.X-margin && p.X <= r.X+r.W+margin &&
		p.Y >= r.Y-margin && p.Y <= r.Y+r.H+margin
}

// Fingertip is a detected fingertip position with normalized depth. Depth
// follows the detector convention: more negative means closer to the camera,
// values near zero mean roughly at face depth.
type Fingertip struct {
	Pos   Point   `json:"pos"`
	Depth float64 `json:"depth"`
}

// Observation is one frame's worth of extracted geometry. All pixel fields
// are in camera-frame coordinates. Optional parts are pointers or may be
// empty; LandmarksPresent is false when the detector saw no face at all.
type Observation struct {
	LandmarksPresent bool `json:"landmarks_present"`

	Nose         *Point      `json:"nose,omitempty"`
	HeadCenter   *Point      `json:"head_center,omitempty"`
	FaceWidthPX  float64     `json:"face_width_px,omitempty"`
	FaceBox      *Rect       `json:"face_box,omitempty"`
	MouthBox     *Rect       `json:"mouth_box,omitempty"`
	EyeCenters   []Point     `json:"eye_centers,omitempty"` // 0, 1 or 2 entries; order left, right
	ShoulderPair *[2]Point   `json:"shoulder_pair,omitempty"`
	Fingertips   []Fingertip `json:"fingertips,omitempty"`

	ImageW int `json:"image_w,omitempty"`
	ImageH int `json:"image_h,omitempty"`
}

// ShoulderMid returns the midpoint of the shoulder pair if both shoulders
// were detected this frame.
func (o *Observation) ShoulderMid() *Point {
	if o.ShoulderPair == nil {
		return nil
	}
	m := Mid(o.ShoulderPair[0], o.ShoulderPair[1])
	return &m
}

// PixelIPD returns the inter-eye pixel distance, or 0 when fewer than two
// eye centers were detected.
func (o *Observation) PixelIPD() float64 {
	if len(o.EyeCenters) < 2 {
		return 0
	}
	return o.EyeCenters[0].Dist(o.EyeCenters[1])
}

// Detector produces one Observation per call. Implementations wrap the
// external vision process. A frame with nothing detected returns an
// Observation with LandmarksPresent=false and a nil error; errors are
// reserved for capture failures (device gone, feed stopped).
type Detector interface {
	Detect(ctx context.Context) (*Observation, error)
}

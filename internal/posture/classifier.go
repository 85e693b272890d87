package posture

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/posture.report/internal/calibration"
	"github.com/banshee-data/posture.report/internal/landmark"
)

// Classifier constants. Ratios are normalized by face width so they hold
// across camera resolutions.
const (
	// FaceWidthNorm scales the face width into the vertical normalizer.
	FaceWidthNorm = 1.25
	// ShoulderSpanFallbackRatio approximates span when pose is missing.
	ShoulderSpanFallbackRatio = 1.6
	// BodyTurnRatioNominal is the expected shoulder-to-face width ratio.
	BodyTurnRatioNominal = 1.15
	// BodyTurnFraction of nominal below which the torso counts as turned.
	BodyTurnFraction = 0.78
	// DepthBaselineRate is the EMA rate for the adaptive depth baseline.
	DepthBaselineRate = 0.08
	// EyeSmoothingAlpha smooths eye centers across frames.
	EyeSmoothingAlpha = 0.28
	// ShoulderHistoryLen is the rolling window for the shoulder midpoint.
	ShoulderHistoryLen = 6
	// DiagHistoryLen is the rolling window for diagnostic averages.
	DiagHistoryLen = 10

	// NeutralTiltSlackDeg beyond the calibrated tilt flags eye tilt.
	NeutralTiltSlackDeg = 10.0
	// HeadTwistDeg beyond the calibrated tilt flags a head twist.
	HeadTwistDeg = 12.0
	// EyeVerticalDiffMax is the normalized vertical eye gap ceiling.
	EyeVerticalDiffMax = 0.05
	// HorizontalOffsetMax is the normalized lateral head offset ceiling.
	HorizontalOffsetMax = 0.15
	// ShoulderRollSuppressDeg of camera-relative roll suppresses eye tilt.
	ShoulderRollSuppressDeg = 15.0

	// NailContactMarginPX grows the mouth box for fingertip contact.
	NailContactMarginPX = 4.0
	// FaceTouchMarginPX shrinks the face box for touch detection.
	FaceTouchMarginPX = 6.0
	// ContactDepthMax is the fingertip depth ceiling for contact.
	ContactDepthMax = 0.1

	// FullyOutFrames of consecutive total misses count as out of frame.
	FullyOutFrames = 6
)

// Thresholds are the externally configurable classifier limits.
type Thresholds struct {
	Vertical float64 // vertical head-over-shoulders ratio floor
	EyeTilt  float64 // normalized eye-line tilt ceiling
	Neck     float64 // 1 - neck_length_ratio ceiling
	Depth    float64 // live/baseline depth ratio ceiling
}

// Flags are the per-frame classification outcome. Recomputed fresh every
// classified frame, never partially mutated.
type Flags struct {
	VerticalBad         bool
	DepthBad            bool
	EyeTiltBad          bool
	HeadTwistBad        bool
	NeckShortBad        bool
	HorizontalOffsetBad bool
	BodyTurned          bool

	NailBiting bool
	FaceTouch  bool
}

// AnyPosture reports whether any pure-posture flag is raised.
func (f Flags) AnyPosture() bool {
	return f.VerticalBad || f.DepthBad || f.EyeTiltBad || f.HeadTwistBad ||
		f.NeckShortBad || f.HorizontalOffsetBad
}

// Diagnostics carries the underlying ratios for debugging and the API.
type Diagnostics map[string]float64

// Classifier turns one observation into Flags plus Diagnostics. It owns the
// rolling smoothed state (depth baseline, smoothed eyes, shoulder history);
// single writer is the statistics loop.
type Classifier struct {
	thresholds Thresholds
	profile    *calibration.Profile

	depthBaseline    float64
	depthSeeded      bool
	smoothedEyes     []landmark.Point
	shoulderHistory  []landmark.Point
	smoothedFaceBox  *landmark.Rect
	offsetHistory    []float64
	tiltHistory      []float64
	partialMissCount int
	fullyMissCount   int
}

// NewClassifier returns a Classifier with the given thresholds and profile.
func NewClassifier(thresholds Thresholds, profile *calibration.Profile) *Classifier {
	return &Classifier{thresholds: thresholds, profile: profile}
}

// SetThresholds replaces the configured limits (runtime tuning).
func (c *Classifier) SetThresholds(t Thresholds) { c.thresholds = t }

// observeParts updates the rolling smoothed state and the missing-part
// counters from one frame. Called before classification so partially missing
// frames still advance the counters.
func (c *Classifier) observeParts(obs *landmark.Observation) {
	if obs == nil || !obs.LandmarksPresent {
		c.fullyMissCount++
		c.partialMissCount = 0
		return
	}
	c.fullyMissCount = 0

	if len(obs.EyeCenters) >= 2 {
		if len(c.smoothedEyes) < 2 {
			c.smoothedEyes = []landmark.Point{obs.EyeCenters[0], obs.EyeCenters[1]}
		} else {
			for i := 0; i < 2; i++ {
				c.smoothedEyes[i].X = EyeSmoothingAlpha*obs.EyeCenters[i].X + (1-EyeSmoothingAlpha)*c.smoothedEyes[i].X
				c.smoothedEyes[i].Y = EyeSmoothingAlpha*obs.EyeCenters[i].Y + (1-EyeSmoothingAlpha)*c.smoothedEyes[i].Y
			}
		}
	}

	if obs.FaceBox != nil {
		if c.smoothedFaceBox == nil {
			box := *obs.FaceBox
			c.smoothedFaceBox = &box
		} else {
			a := EyeSmoothingAlpha
			c.smoothedFaceBox.X = a*obs.FaceBox.X + (1-a)*c.smoothedFaceBox.X
			c.smoothedFaceBox.Y = a*obs.FaceBox.Y + (1-a)*c.smoothedFaceBox.Y
			c.smoothedFaceBox.W = a*obs.FaceBox.W + (1-a)*c.smoothedFaceBox.W
			c.smoothedFaceBox.H = a*obs.FaceBox.H + (1-a)*c.smoothedFaceBox.H
		}
	}

	if mid := obs.ShoulderMid(); mid != nil {
		c.shoulderHistory = append(c.shoulderHistory, *mid)
		if len(c.shoulderHistory) > ShoulderHistoryLen {
			c.shoulderHistory = c.shoulderHistory[1:]
		}
	}

	missing := 0
	if len(obs.EyeCenters) < 2 && len(c.smoothedEyes) < 2 {
		missing++
	}
	if obs.ShoulderPair == nil && len(c.shoulderHistory) == 0 {
		missing++
	}
	if missing >= 1 {
		c.partialMissCount++
	} else {
		c.partialMissCount = 0
	}
}

// PartialFrame reports whether the user is partially out of frame: some
// parts missing across recent frames while the face has not been fully
// absent long enough to count as away from the screen.
func (c *Classifier) PartialFrame() bool {
	return c.partialMissCount >= 1 && c.fullyMissCount < FullyOutFrames
}

// FullyOut reports whether the face has been absent long enough that the
// user is treated as away rather than badly framed.
func (c *Classifier) FullyOut() bool {
	return c.fullyMissCount >= FullyOutFrames
}

// Classify evaluates one observation against the thresholds and neutral
// baseline and returns fresh Flags plus the underlying ratios. It has no
// side effects beyond updating the classifier's rolling smoothed state.
func (c *Classifier) Classify(obs *landmark.Observation) (Flags, Diagnostics) {
	var flags Flags
	diag := Diagnostics{}

	c.observeParts(obs)

	if obs == nil || !obs.LandmarksPresent || obs.FaceWidthPX <= 1 {
		return flags, diag
	}

	head := obs.HeadCenter
	if head == nil {
		head = obs.Nose
	}
	if head == nil {
		return flags, diag
	}
	faceWidth := obs.FaceWidthPX
	norm := faceWidth*FaceWidthNorm + 1e-6

	// Shoulder span and shoulder-line angle, approximated when absent.
	shoulderSpan := math.Max(1.0, faceWidth*ShoulderSpanFallbackRatio)
	shoulderAngle := 0.0
	if obs.ShoulderPair != nil {
		ls, rs := obs.ShoulderPair[0], obs.ShoulderPair[1]
		shoulderSpan = ls.Dist(rs)
		shoulderAngle = math.Atan2(rs.Y-ls.Y, rs.X-ls.X) * 180 / math.Pi
	}
	diag["shoulder_span"] = shoulderSpan
	diag["shoulder_angle"] = shoulderAngle

	ratio := shoulderSpan / (faceWidth + 1e-6)
	diag["shoulder_face_ratio"] = ratio
	flags.BodyTurned = ratio < BodyTurnRatioNominal*BodyTurnFraction

	shoulderMid := obs.ShoulderMid()
	if shoulderMid != nil {
		verticalRatio := (shoulderMid.Y - head.Y) / norm
		diag["vertical_ratio"] = verticalRatio
		flags.VerticalBad = verticalRatio < c.thresholds.Vertical
	}

	// Adaptive depth baseline: face growing relative to shoulders means the
	// head is leaning toward the screen.
	depthRatio := faceWidth / (shoulderSpan + 1e-6)
	if !c.depthSeeded {
		c.depthBaseline = depthRatio
		c.depthSeeded = true
	} else {
		c.depthBaseline = DepthBaselineRate*depthRatio + (1-DepthBaselineRate)*c.depthBaseline
	}
	diag["depth_ratio"] = depthRatio
	diag["depth_baseline"] = c.depthBaseline
	flags.DepthBad = depthRatio > c.depthBaseline*c.thresholds.Depth

	// Eye-line tilt from the smoothed eye centers.
	eyeTiltNorm, eyeTiltAngle, eyeVerticalDiff := 0.0, 0.0, 0.0
	if len(c.smoothedEyes) >= 2 {
		dy := c.smoothedEyes[1].Y - c.smoothedEyes[0].Y
		dx := c.smoothedEyes[1].X - c.smoothedEyes[0].X
		eyeTiltAngle = math.Atan2(dy, dx) * 180 / math.Pi
		eyeTiltNorm = math.Abs(dy) / norm
		eyeVerticalDiff = math.Abs(dy)
	}
	diag["eye_tilt_norm"] = eyeTiltNorm
	diag["eye_tilt_angle"] = eyeTiltAngle
	eyeVerticalDiffNorm := eyeVerticalDiff / (faceWidth + 1e-6)
	diag["eye_vertical_diff_norm"] = eyeVerticalDiffNorm

	neutralTilt := c.profile.NeutralTilt()
	twistDeg := math.Abs(eyeTiltAngle - neutralTilt)
	diag["head_twist_deg"] = twistDeg
	flags.EyeTiltBad = eyeTiltNorm > c.thresholds.EyeTilt || twistDeg > NeutralTiltSlackDeg
	if twistDeg > HeadTwistDeg {
		flags.HeadTwistBad = true
	}
	if eyeVerticalDiffNorm > EyeVerticalDiffMax {
		flags.EyeTiltBad = true
	}

	// Neck length: normalized vertical gap between nose and shoulder mid.
	// Without shoulders this frame there is no measurement, so no flag.
	if shoulderMid != nil {
		neckLen := diag["vertical_ratio"]
		if obs.Nose != nil {
			neckLen = (shoulderMid.Y - obs.Nose.Y) / norm
		}
		diag["neck_len"] = neckLen
		flags.NeckShortBad = (1.0 - neckLen) > c.thresholds.Neck

		horizontalOffsetNorm := math.Abs(head.X-shoulderMid.X) / (faceWidth + 1e-6)
		diag["horizontal_offset_norm"] = horizontalOffsetNorm
		// A turned body makes lateral lean indistinguishable from the turn.
		flags.HorizontalOffsetBad = horizontalOffsetNorm > HorizontalOffsetMax && !flags.BodyTurned
	}

	c.classifyContact(obs, &flags)

	// A turned body invalidates posture geometry, not behavior flags.
	if flags.BodyTurned {
		flags.VerticalBad = false
		flags.DepthBad = false
		flags.EyeTiltBad = false
		flags.HeadTwistBad = false
		flags.NeckShortBad = false
		flags.HorizontalOffsetBad = false
	} else if math.Abs(shoulderAngle) > ShoulderRollSuppressDeg {
		// Camera-relative roll, not head tilt.
		flags.EyeTiltBad = false
	}

	c.recordDiagHistory(diag)
	return flags, diag
}

// classifyContact checks each fingertip against the mouth and face boxes.
func (c *Classifier) classifyContact(obs *landmark.Observation, flags *Flags) {
	if len(obs.Fingertips) == 0 {
		return
	}
	faceBox := obs.FaceBox
	if faceBox == nil {
		faceBox = c.smoothedFaceBox
	}
	for _, tip := range obs.Fingertips {
		if tip.Depth >= ContactDepthMax {
			continue
		}
		if obs.MouthBox != nil && obs.MouthBox.ContainsWithMargin(tip.Pos, NailContactMarginPX) {
			flags.NailBiting = true
		}
		if faceBox != nil && faceBox.ContainsWithMargin(tip.Pos, -FaceTouchMarginPX) {
			flags.FaceTouch = true
		}
		if flags.NailBiting && flags.FaceTouch {
			return
		}
	}
}

func (c *Classifier) recordDiagHistory(diag Diagnostics) {
	if v, ok := diag["horizontal_offset_norm"]; ok {
		c.offsetHistory = append(c.offsetHistory, v)
		if len(c.offsetHistory) > DiagHistoryLen {
			c.offsetHistory = c.offsetHistory[1:]
		}
	}
	if v, ok := diag["eye_tilt_norm"]; ok {
		c.tiltHistory = append(c.tiltHistory, v)
		if len(c.tiltHistory) > DiagHistoryLen {
			c.tiltHistory = c.tiltHistory[1:]
		}
	}
}

// RollingAverages returns the windowed means of the lateral offset and eye
// tilt diagnostics for the dashboard.
func (c *Classifier) RollingAverages() (horizontalOffset, eyeTilt float64) {
	if len(c.offsetHistory) > 0 {
		horizontalOffset = stat.Mean(c.offsetHistory, nil)
	}
	if len(c.tiltHistory) > 0 {
		eyeTilt = stat.Mean(c.tiltHistory, nil)
	}
	return horizontalOffset, eyeTilt
}

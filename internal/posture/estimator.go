// Package posture converts per-frame landmark geometry into a screen
// distance estimate and a set of posture/behavior condition flags.
package posture

import (
	"github.com/banshee-data/posture.report/internal/calibration"
	"github.com/banshee-data/posture.report/internal/landmark"
)

// Estimator constants.
const (
	// SmoothingBeta is the exponential smoothing weight for new samples.
	SmoothingBeta = 0.6
	// AvgFaceWidthCM is the assumed real face width for the fallback measure.
	AvgFaceWidthCM = 14.0
	// MinIPDPixels is the floor below which an inter-eye measurement is noise.
	MinIPDPixels = 2.0
	// MinFaceWidthPixels is the floor for the face-width fallback.
	MinFaceWidthPixels = 8.0
)

// Estimator converts a pixel measurement plus the calibration profile into a
// smoothed real-world distance. It owns only its smoothing state; single
// writer is the statistics loop.
type Estimator struct {
	profile  *calibration.Profile
	smoothed float64
	seeded   bool
}

// NewEstimator returns an Estimator bound to a calibration profile.
func NewEstimator(profile *calibration.Profile) *Estimator {
	return &Estimator{profile: profile}
}

// Estimate returns the smoothed screen distance in cm for one observation,
// preferring the inter-eye pixel distance and falling back to face width.
// ok is false when neither measurement is usable this frame; the previous
// smoothed state is left untouched so the next good frame continues the
// filter.
func (e *Estimator) Estimate(obs *landmark.Observation) (distanceCM float64, ok bool) {
	if obs == nil || !obs.LandmarksPresent {
		return 0, false
	}

	focal := e.profile.FocalLength
	if focal <= 0 {
		focal = calibration.DefaultFocalLength
	}

	var raw float64
	if ipd := obs.PixelIPD(); ipd > MinIPDPixels {
		refIPD := e.profile.ReferenceIPDCM
		if refIPD <= 0 {
			refIPD = calibration.DefaultReferenceIPDCM
		}
		raw = refIPD * focal / ipd
	} else if obs.FaceWidthPX > MinFaceWidthPixels {
		raw = AvgFaceWidthCM * focal / obs.FaceWidthPX
	} else {
		return 0, false
	}

	if !e.seeded {
		e.smoothed = raw
		e.seeded = true
	} else {
		e.smoothed = SmoothingBeta*raw + (1-SmoothingBeta)*e.smoothed
	}
	return e.smoothed, true
}

// Last returns the most recent smoothed distance, ok=false before the first
// successful estimate.
func (e *Estimator) Last() (float64, bool) {
	return e.smoothed, e.seeded
}

// Reset clears the smoothing state, e.g. after recalibration.
func (e *Estimator) Reset() {
	e.smoothed = 0
	e.seeded = false
}

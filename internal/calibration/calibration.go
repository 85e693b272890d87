// Package calibration manages the camera calibration profile: focal length,
// reference interpupillary distance, and the captured neutral-posture
// baseline. The profile is persisted in its own JSON file, separate from the
// time-series database, so erasing recorded data never invalidates it.
package calibration

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/banshee-data/posture.report/internal/landmark"
)

// Reference card geometry (ISO/IEC 7810 ID-1, e.g. a bank card) and the
// distance the user is asked to hold it at during calibration.
const (
	RealCardWidthCM        = 8.56
	AssumedCalibDistanceCM = 70.0
	DefaultFocalLength     = 700.0
	DefaultReferenceIPDCM  = 6.3
	MinCardPixelWidth      = 8.0
)

// NeutralBaseline is the posture captured while the user sits upright.
type NeutralBaseline struct {
	FaceWidthPX     float64 `json:"face_width_px"`
	ShoulderSpanPX  float64 `json:"shoulder_span_px"`
	EyeTiltAngleDeg float64 `json:"eye_tilt_angle_deg"`
}

// Profile holds the calibration state. Immutable between explicit
// (re)calibration actions.
type Profile struct {
	FocalLength    float64          `json:"focal_length"`
	ReferenceIPDCM float64          `json:"real_ipd_cm"`
	CardPixelWidth float64          `json:"card_pixel_width,omitempty"`
	Neutral        *NeutralBaseline `json:"neutral,omitempty"`

	path string
}

// DefaultProfile returns an uncalibrated profile using the fallback focal
// length. Distance estimates degrade in precision but do not fail.
func DefaultProfile() *Profile {
	return &Profile{
		FocalLength:    DefaultFocalLength,
		ReferenceIPDCM: DefaultReferenceIPDCM,
	}
}

// Calibrated reports whether a card calibration has been performed, as
// opposed to running on the shipped default focal length.
func (p *Profile) Calibrated() bool {
	return p.CardPixelWidth > 0
}

// Load reads a profile from path. A missing file yields the default
// profile bound to that path, so the first Save creates it.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			p := DefaultProfile()
			p.path = path
			return p, nil
		}
		return nil, fmt.Errorf("failed to read calibration file: %w", err)
	}
	p := DefaultProfile()
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to parse calibration JSON: %w", err)
	}
	if p.FocalLength <= 0 {
		p.FocalLength = DefaultFocalLength
	}
	if p.ReferenceIPDCM <= 0 {
		p.ReferenceIPDCM = DefaultReferenceIPDCM
	}
	p.path = path
	return p, nil
}

// Save persists the profile to the path it was loaded from.
func (p *Profile) Save() error {
	if p.path == "" {
		return fmt.Errorf("calibration profile has no backing file")
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode calibration profile: %w", err)
	}
	if err := os.WriteFile(p.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write calibration file: %w", err)
	}
	return nil
}

// CalibrateFromCard derives the focal length from the measured pixel width
// of the reference card held at the assumed distance, then persists the
// profile. One-shot and user-triggered.
func (p *Profile) CalibrateFromCard(cardPixelWidth float64) error {
	if cardPixelWidth < MinCardPixelWidth {
		return fmt.Errorf("card pixel width %.1f too small to calibrate (min %.0f)", cardPixelWidth, MinCardPixelWidth)
	}
	p.FocalLength = cardPixelWidth * AssumedCalibDistanceCM / RealCardWidthCM
	p.CardPixelWidth = cardPixelWidth
	return p.Save()
}

// CaptureNeutral records the neutral-posture baseline from one observation
// and persists the profile. Shoulder span falls back to zero when the pose
// was not detected; the classifier treats a zero span as "no baseline".
func (p *Profile) CaptureNeutral(obs *landmark.Observation) error {
	if obs == nil || !obs.LandmarksPresent || obs.FaceWidthPX <= 0 {
		return fmt.Errorf("no face detected; cannot capture neutral posture")
	}
	baseline := &NeutralBaseline{FaceWidthPX: obs.FaceWidthPX}
	if obs.ShoulderPair != nil {
		baseline.ShoulderSpanPX = obs.ShoulderPair[0].Dist(obs.ShoulderPair[1])
	}
	if len(obs.EyeCenters) >= 2 {
		dx := obs.EyeCenters[1].X - obs.EyeCenters[0].X
		dy := obs.EyeCenters[1].Y - obs.EyeCenters[0].Y
		baseline.EyeTiltAngleDeg = math.Atan2(dy, dx) * 180 / math.Pi
	}
	p.Neutral = baseline
	return p.Save()
}

// NeutralTilt returns the calibrated neutral eye-tilt angle, or 0 when no
// neutral baseline has been captured.
func (p *Profile) NeutralTilt() float64 {
	if p.Neutral == nil {
		return 0
	}
	return p.Neutral.EyeTiltAngleDeg
}

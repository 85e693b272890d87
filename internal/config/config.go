// Package config loads and validates runtime tuning for the monitor.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/posture.report/internal/units"
)

// GuardConfig represents the root configuration for the monitor. All fields
// are optional in the JSON file; the Get* methods supply defaults for any
// field left unset, so partial configs are safe.
type GuardConfig struct {
	// Alert params
	NotifyDelaySeconds  *int     `json:"notify_delay_seconds,omitempty"`
	ActiveAppearSeconds *float64 `json:"active_appear_seconds,omitempty"`
	MinDistanceCM       *float64 `json:"min_distance_cm,omitempty"`
	Unit                *string  `json:"unit,omitempty"`

	// Feature toggles
	EnablePosture    *bool `json:"enable_posture,omitempty"`
	EnableDistance   *bool `json:"enable_distance,omitempty"`
	EnableEyeBreak   *bool `json:"enable_eye_break,omitempty"`
	EnableNailBiting *bool `json:"enable_nail_biting,omitempty"`
	EnableFaceTouch  *bool `json:"enable_face_touch,omitempty"`

	// Classifier thresholds
	PostureVertThresh    *float64 `json:"posture_vert_thresh,omitempty"`
	PostureEyeTiltThresh *float64 `json:"posture_eye_tilt_thresh,omitempty"`
	PostureNeckThresh    *float64 `json:"posture_neck_thresh,omitempty"`
	PostureDepthThresh   *float64 `json:"posture_depth_thresh,omitempty"`

	// Loop cadence params (duration strings like "15s", "800ms")
	FlushInterval *string `json:"flush_interval,omitempty"`
	StatsInterval *string `json:"stats_interval,omitempty"`
	FrameInterval *string `json:"frame_interval,omitempty"`

	// Capture params
	MaxReadFailures *int `json:"max_read_failures,omitempty"`
}

// Default values. Threshold defaults match the shipped tuning of the
// desktop application this service was extracted from.
const (
	DefaultNotifyDelaySeconds  = 6
	DefaultActiveAppearSeconds = 1.0
	DefaultMinDistanceCM       = 50.8
	DefaultVertThresh          = 0.70
	DefaultEyeTiltThresh       = 0.08
	DefaultNeckThresh          = 0.55
	DefaultDepthThresh         = 1.22
	DefaultMaxReadFailures     = 20
)

// Empty returns a GuardConfig with all fields unset.
func Empty() *GuardConfig {
	return &GuardConfig{}
}

// Load reads a GuardConfig from a JSON file. Missing files are not an
// error: the caller gets an empty config and every Get* method falls back
// to its default.
func Load(path string) (*GuardConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Empty(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *GuardConfig) Validate() error {
	if c.NotifyDelaySeconds != nil {
		if *c.NotifyDelaySeconds < 1 || *c.NotifyDelaySeconds > 180 {
			return fmt.Errorf("notify_delay_seconds must be between 1 and 180, got %d", *c.NotifyDelaySeconds)
		}
	}
	if c.MinDistanceCM != nil && *c.MinDistanceCM <= 0 {
		return fmt.Errorf("min_distance_cm must be positive, got %f", *c.MinDistanceCM)
	}
	if c.Unit != nil && !units.IsValid(*c.Unit) {
		return fmt.Errorf("unit must be one of cm, in; got %q", *c.Unit)
	}
	for name, v := range map[string]*string{
		"flush_interval": c.FlushInterval,
		"stats_interval": c.StatsInterval,
		"frame_interval": c.FrameInterval,
	} {
		if v != nil && *v != "" {
			if _, err := time.ParseDuration(*v); err != nil {
				return fmt.Errorf("invalid %s %q: %w", name, *v, err)
			}
		}
	}
	if c.MaxReadFailures != nil && *c.MaxReadFailures < 1 {
		return fmt.Errorf("max_read_failures must be at least 1, got %d", *c.MaxReadFailures)
	}
	return nil
}

// GetNotifyDelay returns the debounce before a notification fires.
func (c *GuardConfig) GetNotifyDelay() time.Duration {
	if c.NotifyDelaySeconds == nil {
		return DefaultNotifyDelaySeconds * time.Second
	}
	return time.Duration(*c.NotifyDelaySeconds) * time.Second
}

// GetActiveAppearDelay returns the debounce before an alert shows as active.
func (c *GuardConfig) GetActiveAppearDelay() time.Duration {
	if c.ActiveAppearSeconds == nil {
		return time.Duration(DefaultActiveAppearSeconds * float64(time.Second))
	}
	return time.Duration(*c.ActiveAppearSeconds * float64(time.Second))
}

// GetMinDistanceCM returns the minimum recommended face-to-screen distance.
func (c *GuardConfig) GetMinDistanceCM() float64 {
	if c.MinDistanceCM == nil {
		return DefaultMinDistanceCM
	}
	return *c.MinDistanceCM
}

// GetUnit returns the display unit (cm or in).
func (c *GuardConfig) GetUnit() string {
	if c.Unit == nil {
		return units.CM
	}
	return *c.Unit
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// Feature toggles, all enabled by default.
func (c *GuardConfig) GetEnablePosture() bool    { return boolOr(c.EnablePosture, true) }
func (c *GuardConfig) GetEnableDistance() bool   { return boolOr(c.EnableDistance, true) }
func (c *GuardConfig) GetEnableEyeBreak() bool   { return boolOr(c.EnableEyeBreak, true) }
func (c *GuardConfig) GetEnableNailBiting() bool { return boolOr(c.EnableNailBiting, true) }
func (c *GuardConfig) GetEnableFaceTouch() bool  { return boolOr(c.EnableFaceTouch, true) }

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

// Classifier thresholds.
func (c *GuardConfig) GetVertThresh() float64 { return floatOr(c.PostureVertThresh, DefaultVertThresh) }
func (c *GuardConfig) GetEyeTiltThresh() float64 {
	return floatOr(c.PostureEyeTiltThresh, DefaultEyeTiltThresh)
}
func (c *GuardConfig) GetNeckThresh() float64 { return floatOr(c.PostureNeckThresh, DefaultNeckThresh) }
func (c *GuardConfig) GetDepthThresh() float64 {
	return floatOr(c.PostureDepthThresh, DefaultDepthThresh)
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetFlushInterval returns how often pending aggregates are persisted.
func (c *GuardConfig) GetFlushInterval() time.Duration {
	return durationOr(c.FlushInterval, 15*time.Second)
}

// GetStatsInterval returns the statistics loop cadence.
func (c *GuardConfig) GetStatsInterval() time.Duration {
	return durationOr(c.StatsInterval, 800*time.Millisecond)
}

// GetFrameInterval returns the capture loop cadence.
func (c *GuardConfig) GetFrameInterval() time.Duration {
	return durationOr(c.FrameInterval, time.Second/24)
}

// GetMaxReadFailures returns the capture retry ceiling.
func (c *GuardConfig) GetMaxReadFailures() int {
	if c.MaxReadFailures == nil {
		return DefaultMaxReadFailures
	}
	return *c.MaxReadFailures
}

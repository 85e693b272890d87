package posture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/posture.report/internal/calibration"
	"github.com/banshee-data/posture.report/internal/landmark"
)

func defaultThresholds() Thresholds {
	return Thresholds{Vertical: 0.70, EyeTilt: 0.08, Neck: 0.55, Depth: 1.22}
}

func pt(x, y float64) landmark.Point { return landmark.Point{X: x, Y: y} }

// uprightObs is a well-framed subject: face width 100px, head centered over
// a 200px shoulder span, level eyes.
func uprightObs() *landmark.Observation {
	return &landmark.Observation{
		LandmarksPresent: true,
		FaceWidthPX:      100,
		HeadCenter:       &landmark.Point{X: 320, Y: 200},
		Nose:             &landmark.Point{X: 320, Y: 210},
		EyeCenters:       []landmark.Point{pt(290, 200), pt(350, 200)},
		ShoulderPair:     &[2]landmark.Point{pt(220, 330), pt(420, 330)},
	}
}

func newTestClassifier() *Classifier {
	return NewClassifier(defaultThresholds(), calibration.DefaultProfile())
}

func TestClassify_Upright(t *testing.T) {
	t.Parallel()
	c := newTestClassifier()

	flags, diag := c.Classify(uprightObs())
	assert.False(t, flags.AnyPosture())
	assert.False(t, flags.BodyTurned)
	assert.False(t, flags.NailBiting)
	assert.False(t, flags.FaceTouch)

	assert.InDelta(t, 2.0, diag["shoulder_face_ratio"], 1e-6)
	assert.InDelta(t, 1.04, diag["vertical_ratio"], 1e-3)
	assert.InDelta(t, 0.5, diag["depth_ratio"], 1e-6)
}

func TestClassify_Slouch(t *testing.T) {
	t.Parallel()
	c := newTestClassifier()

	obs := uprightObs()
	// Head sunk toward the shoulders.
	obs.HeadCenter = &landmark.Point{X: 320, Y: 280}
	obs.Nose = &landmark.Point{X: 320, Y: 290}
	obs.EyeCenters = []landmark.Point{pt(290, 280), pt(350, 280)}

	flags, diag := c.Classify(obs)
	assert.True(t, flags.VerticalBad, "vertical ratio %v should be under threshold", diag["vertical_ratio"])
	assert.True(t, flags.NeckShortBad, "neck len %v", diag["neck_len"])
	assert.False(t, flags.BodyTurned)
	assert.False(t, flags.EyeTiltBad)
	assert.True(t, flags.AnyPosture())
}

func TestClassify_LeaningCloser(t *testing.T) {
	t.Parallel()
	c := newTestClassifier()

	// First frame seeds the depth baseline at ratio 0.5.
	_, _ = c.Classify(uprightObs())

	obs := uprightObs()
	obs.FaceWidthPX = 140 // face grows, shoulders do not
	obs.HeadCenter = &landmark.Point{X: 320, Y: 200}

	flags, diag := c.Classify(obs)
	assert.True(t, flags.DepthBad, "depth ratio %v vs baseline %v", diag["depth_ratio"], diag["depth_baseline"])
	assert.False(t, flags.VerticalBad)
	assert.False(t, flags.NeckShortBad)
}

func TestClassify_EyeTiltAndTwist(t *testing.T) {
	t.Parallel()
	c := newTestClassifier()

	obs := uprightObs()
	// 15px vertical eye gap over a 60px horizontal span: ~14 degrees.
	obs.EyeCenters = []landmark.Point{pt(290, 200), pt(350, 215)}

	flags, diag := c.Classify(obs)
	assert.True(t, flags.EyeTiltBad)
	assert.True(t, flags.HeadTwistBad)
	assert.InDelta(t, 14.04, diag["head_twist_deg"], 0.01)
}

func TestClassify_ShoulderRollSuppressesEyeTilt(t *testing.T) {
	t.Parallel()
	c := newTestClassifier()

	obs := uprightObs()
	obs.EyeCenters = []landmark.Point{pt(290, 200), pt(350, 215)}
	// Camera roll: the whole shoulder line slopes ~22 degrees.
	obs.ShoulderPair = &[2]landmark.Point{pt(220, 310), pt(420, 390)}

	flags, _ := c.Classify(obs)
	assert.False(t, flags.EyeTiltBad, "camera roll must not read as head tilt")
	assert.True(t, flags.HeadTwistBad, "twist is measured against eyes alone")
}

func TestClassify_HorizontalOffset(t *testing.T) {
	t.Parallel()
	c := newTestClassifier()

	obs := uprightObs()
	obs.HeadCenter = &landmark.Point{X: 360, Y: 200}
	obs.Nose = &landmark.Point{X: 360, Y: 210}
	obs.EyeCenters = []landmark.Point{pt(330, 200), pt(390, 200)}

	flags, diag := c.Classify(obs)
	assert.True(t, flags.HorizontalOffsetBad)
	assert.InDelta(t, 0.4, diag["horizontal_offset_norm"], 1e-6)
}

func TestClassify_BodyTurnSuppressesPosture(t *testing.T) {
	t.Parallel()
	c := newTestClassifier()

	obs := uprightObs()
	// Slouched head plus a foreshortened 40px shoulder span.
	obs.HeadCenter = &landmark.Point{X: 320, Y: 280}
	obs.Nose = &landmark.Point{X: 320, Y: 290}
	obs.EyeCenters = []landmark.Point{pt(290, 280), pt(350, 280)}
	obs.ShoulderPair = &[2]landmark.Point{pt(300, 330), pt(340, 330)}

	flags, _ := c.Classify(obs)
	assert.True(t, flags.BodyTurned)
	assert.False(t, flags.AnyPosture(), "posture geometry is meaningless while turned")
}

func TestClassify_BodyTurnKeepsBehaviorFlags(t *testing.T) {
	t.Parallel()
	c := newTestClassifier()

	obs := uprightObs()
	obs.ShoulderPair = &[2]landmark.Point{pt(300, 330), pt(340, 330)}
	obs.MouthBox = &landmark.Rect{X: 300, Y: 240, W: 40, H: 20}
	obs.Fingertips = []landmark.Fingertip{{Pos: pt(310, 250), Depth: 0.05}}

	flags, _ := c.Classify(obs)
	assert.True(t, flags.BodyTurned)
	assert.True(t, flags.NailBiting)
}

func TestClassify_Contact(t *testing.T) {
	t.Parallel()

	t.Run("fingertip in mouth box", func(t *testing.T) {
		t.Parallel()
		c := newTestClassifier()
		obs := uprightObs()
		obs.MouthBox = &landmark.Rect{X: 300, Y: 240, W: 40, H: 20}
		obs.Fingertips = []landmark.Fingertip{{Pos: pt(310, 250), Depth: 0.05}}

		flags, _ := c.Classify(obs)
		assert.True(t, flags.NailBiting)
		assert.False(t, flags.FaceTouch, "no face box, no touch")
	})

	t.Run("fingertip on face outside mouth", func(t *testing.T) {
		t.Parallel()
		c := newTestClassifier()
		obs := uprightObs()
		obs.FaceBox = &landmark.Rect{X: 270, Y: 150, W: 100, H: 130}
		obs.MouthBox = &landmark.Rect{X: 300, Y: 240, W: 40, H: 20}
		obs.Fingertips = []landmark.Fingertip{{Pos: pt(320, 180), Depth: 0.05}}

		flags, _ := c.Classify(obs)
		assert.True(t, flags.FaceTouch)
		assert.False(t, flags.NailBiting)
	})

	t.Run("fingertip too far from camera", func(t *testing.T) {
		t.Parallel()
		c := newTestClassifier()
		obs := uprightObs()
		obs.MouthBox = &landmark.Rect{X: 300, Y: 240, W: 40, H: 20}
		obs.Fingertips = []landmark.Fingertip{{Pos: pt(310, 250), Depth: 0.2}}

		flags, _ := c.Classify(obs)
		assert.False(t, flags.NailBiting)
		assert.False(t, flags.FaceTouch)
	})

	t.Run("face box edge needs margin clearance", func(t *testing.T) {
		t.Parallel()
		c := newTestClassifier()
		obs := uprightObs()
		obs.FaceBox = &landmark.Rect{X: 270, Y: 150, W: 100, H: 130}
		// Inside the raw box but within the shrink margin of the edge.
		obs.Fingertips = []landmark.Fingertip{{Pos: pt(272, 180), Depth: 0.05}}

		flags, _ := c.Classify(obs)
		assert.False(t, flags.FaceTouch)
	})
}

func TestClassify_MissingShouldersRaisesNoNeckFlag(t *testing.T) {
	t.Parallel()
	c := newTestClassifier()

	obs := uprightObs()
	obs.ShoulderPair = nil

	flags, diag := c.Classify(obs)
	assert.False(t, flags.NeckShortBad)
	assert.False(t, flags.VerticalBad)
	_, hasNeck := diag["neck_len"]
	assert.False(t, hasNeck)
}

func TestFrameStateCounters(t *testing.T) {
	t.Parallel()

	t.Run("partial frame", func(t *testing.T) {
		t.Parallel()
		c := newTestClassifier()
		obs := &landmark.Observation{
			LandmarksPresent: true,
			FaceWidthPX:      100,
			HeadCenter:       &landmark.Point{X: 320, Y: 200},
		}
		_, _ = c.Classify(obs)
		assert.True(t, c.PartialFrame())
		assert.False(t, c.FullyOut())
	})

	t.Run("fully out after consecutive misses", func(t *testing.T) {
		t.Parallel()
		c := newTestClassifier()
		for i := 0; i < FullyOutFrames; i++ {
			_, _ = c.Classify(nil)
			assert.Equal(t, i == FullyOutFrames-1, c.FullyOut())
		}
		assert.False(t, c.PartialFrame())
	})

	t.Run("good frame clears the miss counters", func(t *testing.T) {
		t.Parallel()
		c := newTestClassifier()
		for i := 0; i < FullyOutFrames; i++ {
			_, _ = c.Classify(nil)
		}
		require.True(t, c.FullyOut())
		_, _ = c.Classify(uprightObs())
		assert.False(t, c.FullyOut())
	})
}

func TestRollingAverages(t *testing.T) {
	t.Parallel()
	c := newTestClassifier()

	_, _ = c.Classify(uprightObs()) // offset 0

	obs := uprightObs()
	obs.HeadCenter = &landmark.Point{X: 360, Y: 200}
	obs.Nose = &landmark.Point{X: 360, Y: 210}
	_, _ = c.Classify(obs) // offset 0.4

	offset, _ := c.RollingAverages()
	assert.InDelta(t, 0.2, offset, 1e-6)
}

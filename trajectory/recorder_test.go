package trajectory

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"

	"aquarium_arm/hardware"
)

func newTestRecorder(t *testing.T, mode IntervalMode) (*Recorder, *State, *hardware.SimArm) {
	t.Helper()
	sim := hardware.NewSimArm(5)
	state := NewState()
	rec := NewRecorder(hardware.NewSafeArm(sim), state, RecorderConfig{
		SamplePeriod: 5 * time.Millisecond,
		Interval:     mode,
	}, logging.NewTestLogger(t))
	return rec, state, sim
}

func TestRecorderCollectsSteps(t *testing.T) {
	rec, state, sim := newTestRecorder(t, IntervalFixed)
	sim.MoveTo([]int{100, 200, 300, 400, 500}, 1234)

	require.NoError(t, rec.Start(context.Background()))
	assert.True(t, state.Recording())
	assert.True(t, errors.Is(rec.Start(context.Background()), ErrAlreadyRecording))

	time.Sleep(60 * time.Millisecond)
	n, err := rec.Stop()
	require.NoError(t, err)
	require.Greater(t, n, 0)
	assert.False(t, state.Recording())
	assert.False(t, rec.Active())

	current := state.Current()
	require.Equal(t, n, current.Len())
	assert.Empty(t, current.Name)
	for _, step := range current.Steps {
		assert.Equal(t, []int{100, 200, 300, 400, 500}, step.JointAngles)
		assert.Len(t, step.JointSpeeds, 5)
		assert.Equal(t, 1234, step.GripperPosition)
		assert.Equal(t, NominalInterval, step.IntervalSeconds)
	}
}

func TestRecorderMeasuredIntervals(t *testing.T) {
	rec, state, _ := newTestRecorder(t, IntervalMeasured)

	require.NoError(t, rec.Start(context.Background()))
	time.Sleep(60 * time.Millisecond)
	_, err := rec.Stop()
	require.NoError(t, err)

	steps := state.Current().Steps
	require.NotEmpty(t, steps)
	for _, step := range steps {
		assert.Greater(t, step.IntervalSeconds, 0.0)
	}
}

func TestRecorderSkipsFailedReads(t *testing.T) {
	rec, state, sim := newTestRecorder(t, IntervalFixed)
	sim.FailReads(errors.New("bus timeout"))

	require.NoError(t, rec.Start(context.Background()))
	time.Sleep(30 * time.Millisecond)
	assert.True(t, state.Recording())
	sim.FailReads(nil)
	time.Sleep(40 * time.Millisecond)

	n, err := rec.Stop()
	require.NoError(t, err)
	assert.Greater(t, n, 0)
}

func TestRecorderDiscardsPreviousTrajectory(t *testing.T) {
	rec, state, _ := newTestRecorder(t, IntervalFixed)
	state.SetCurrent(Trajectory{Name: "old", Steps: testSteps(50)})

	require.NoError(t, rec.Start(context.Background()))
	assert.Equal(t, 0, state.Current().Len())
	_, err := rec.Stop()
	require.NoError(t, err)
	assert.Empty(t, state.Current().Name)
}

func TestRecorderRefusesWhilePlaying(t *testing.T) {
	rec, state, _ := newTestRecorder(t, IntervalFixed)
	state.SetCurrent(Trajectory{Steps: testSteps(1)})
	_, err := state.beginPlaying()
	require.NoError(t, err)

	assert.True(t, errors.Is(rec.Start(context.Background()), ErrPlaying))
	assert.Equal(t, ModePlaying, state.Mode())
}

func TestRecorderStopWithoutStart(t *testing.T) {
	rec, _, _ := newTestRecorder(t, IntervalFixed)
	_, err := rec.Stop()
	assert.True(t, errors.Is(err, ErrNotRecording))
}

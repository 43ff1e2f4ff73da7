package server

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"

	"aquarium_arm/hardware"
	"aquarium_arm/protocol"
	"aquarium_arm/trajectory"
)

type dispatcherFixture struct {
	d     *Dispatcher
	sim   *hardware.SimArm
	state *trajectory.State
	store *trajectory.Store
	home  string
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()
	logger := logging.NewTestLogger(t)
	dir := t.TempDir()

	sim := hardware.NewSimArm(5)
	arm := hardware.NewSafeArm(sim)
	state := trajectory.NewState()
	store, err := trajectory.NewStore(filepath.Join(dir, "trajectories"), logger)
	require.NoError(t, err)

	f := &dispatcherFixture{sim: sim, state: state, store: store, home: filepath.Join(dir, "home.json")}
	f.d = NewDispatcher(DispatcherConfig{
		Arm:       arm,
		State:     state,
		Recorder:  trajectory.NewRecorder(arm, state, trajectory.RecorderConfig{SamplePeriod: 5 * time.Millisecond}, logger),
		Player:    trajectory.NewPlayer(arm, state, store, time.Second, logger),
		Store:     store,
		HomeFile:  f.home,
		HomeSpeed: 800,
	}, logger)
	return f
}

func (f *dispatcherFixture) send(frame string) string {
	return f.d.Handle(context.Background(), frame)
}

func steps(first, n int) []trajectory.Step {
	out := make([]trajectory.Step, n)
	for i := range out {
		out[i] = trajectory.Step{
			JointAngles: []int{first + i, 2048, 2048, 2048, 2048},
			JointSpeeds: []int{500, 500, 500, 500, 500},
		}
	}
	return out
}

func TestDispatcherSimpleCommands(t *testing.T) {
	f := newDispatcherFixture(t)

	assert.Equal(t, "pong", f.send("ping"))
	assert.Equal(t, "quit", f.send("q"))
	assert.Equal(t, "Unknown command: xyz", f.send("xyz"))
	assert.Equal(t, "Not recording", f.send("c"))
	assert.Equal(t, "No trajectory loaded", f.send("p"))
	assert.Equal(t, "No trajectory to save", f.send("sfront"))
	assert.Equal(t, `{"trajectories":[]}`, f.send("t"))
}

func TestDispatcherInvalidArguments(t *testing.T) {
	f := newDispatcherFixture(t)

	assert.Equal(t, "Invalid argument: save requires a trajectory name", f.send("s"))
	assert.Equal(t, "Invalid argument: empty trajectory list", f.send("P[]"))
	assert.Equal(t, `Invalid argument: invalid trajectory name "bad name"`, f.send("lbad name"))
	assert.Equal(t, `Invalid argument: invalid trajectory name "../x"`, f.send("d../x"))
}

func TestDispatcherRecordSaveLoadDelete(t *testing.T) {
	f := newDispatcherFixture(t)

	assert.Equal(t, "Recording started", f.send("r"))
	assert.Equal(t, "Already recording", f.send("r"))
	assert.Equal(t, "Cannot play while recording", f.send("p"))
	assert.Equal(t, "Cannot play while recording", f.send("pother"))
	assert.Equal(t, "Cannot play while recording", f.send("P"))
	time.Sleep(40 * time.Millisecond)

	resp := f.send("c")
	require.True(t, strings.HasPrefix(resp, "Recording stopped ("), resp)
	n := f.state.Current().Len()
	require.Greater(t, n, 0)

	assert.Equal(t, "Trajectory saved: front", f.send("sfront"))
	assert.Equal(t, "front", f.state.Current().Name)

	infos, err := protocol.DecodeTrajectoryList(f.send("t"))
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "front", infos[0].Name)

	f.state.SetCurrent(trajectory.Trajectory{})
	assert.Equal(t, protocol.TrajectoryLoaded("front", n), f.send("lfront"))
	assert.Equal(t, "Trajectory not found: back", f.send("lback"))

	assert.Equal(t, "Playing once", f.send("p"))
	assert.Len(t, f.sim.Writes(), n)

	assert.Equal(t, "Trajectory deleted: front", f.send("dfront"))
	assert.Equal(t, "Trajectory not found: front", f.send("dfront"))
	assert.Equal(t, `{"trajectories":[]}`, f.send("t"))
}

func TestDispatcherPlayNamed(t *testing.T) {
	f := newDispatcherFixture(t)
	require.NoError(t, f.store.Save("a", steps(10, 2)))

	assert.Equal(t, "Trajectory not found: missing", f.send("pmissing"))
	assert.Equal(t, "Playing once", f.send("pa"))
	assert.Len(t, f.sim.Writes(), 2)
	assert.False(t, f.state.Playing())
}

func TestDispatcherPlaySequence(t *testing.T) {
	f := newDispatcherFixture(t)
	require.NoError(t, f.store.Save("a", steps(10, 2)))
	require.NoError(t, f.store.Save("b", steps(20, 3)))

	assert.Equal(t, "Played sequence: a, b", f.send(`P["a","b"]`))
	assert.Len(t, f.sim.Writes(), 5)

	assert.Equal(t, "Trajectory not found: zz", f.send(`P["a","zz","b"]`))
	assert.Len(t, f.sim.Writes(), 7)
}

func TestDispatcherLoopToggle(t *testing.T) {
	f := newDispatcherFixture(t)
	loop := steps(0, 2)
	for i := range loop {
		loop[i].IntervalSeconds = 0.002
	}
	f.state.SetCurrent(trajectory.Trajectory{Steps: loop})

	assert.Equal(t, "Loop play started", f.send("P"))
	assert.Equal(t, "Already playing", f.send("p"))
	assert.Equal(t, "Cannot record while playing", f.send("r"))
	require.Eventually(t, func() bool { return len(f.sim.Writes()) >= 4 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "Loop play stopped", f.send("P"))
	assert.False(t, f.state.Playing())
}

func TestDispatcherNamedPlayDuringLoopKeepsCurrent(t *testing.T) {
	f := newDispatcherFixture(t)
	loop := steps(0, 2)
	for i := range loop {
		loop[i].IntervalSeconds = 0.002
	}
	require.NoError(t, f.store.Save("looping", loop))
	require.NoError(t, f.store.Save("other", steps(50, 2)))

	assert.Equal(t, "Trajectory loaded: looping (2 steps)", f.send("llooping"))
	assert.Equal(t, "Loop play started", f.send("P"))

	assert.Equal(t, "Already playing", f.send("pother"))
	assert.Equal(t, "looping", f.state.Current().Name)
	assert.Equal(t, "Already playing", f.send(`P["other"]`))
	assert.Equal(t, "looping", f.state.Current().Name)

	assert.Equal(t, "Loop play stopped", f.send("P"))
	assert.Equal(t, "Trajectory saved: copy", f.send("scopy"))
	saved, found, err := f.store.Load("copy")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, loop, saved)
}

func TestDispatcherHome(t *testing.T) {
	f := newDispatcherFixture(t)
	f.sim.MoveTo([]int{1000, 1100, 1200, 1300, 1400}, 900)

	assert.Equal(t, "Home position set", f.send("H"))
	pose, fromFile := LoadHomePose(f.home, 5, logging.NewTestLogger(t))
	require.True(t, fromFile)
	assert.Equal(t, []int{1000, 1100, 1200, 1300, 1400}, pose.JointAngles)

	f.sim.MoveTo([]int{1, 2, 3, 4, 5}, 0)
	assert.Equal(t, "Moved to home position", f.send("h"))
	enc, err := f.sim.Encoders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1000, 1100, 1200, 1300, 1400}, enc)
}

func TestDispatcherHardwareErrors(t *testing.T) {
	f := newDispatcherFixture(t)
	require.NoError(t, f.sim.PowerOn(context.Background()))
	assert.Equal(t, "Robot released", f.send("f"))
	assert.False(t, f.sim.Powered())

	f.sim.FailWrites(errors.New("servo 3 overload"))
	assert.Equal(t, "Error: servo 3 overload", f.send("h"))
	assert.Equal(t, "Error: servo 3 overload", f.send("f"))

	f.state.SetCurrent(trajectory.Trajectory{Steps: steps(0, 2)})
	resp := f.send("p")
	assert.True(t, strings.HasPrefix(resp, "Error: "), resp)
	assert.False(t, f.state.Playing())
}

func TestDispatcherRecoversPanics(t *testing.T) {
	f := newDispatcherFixture(t)
	f.d.store = nil

	resp := f.send("t")
	assert.True(t, strings.HasPrefix(resp, "Error: internal error"), resp)
	assert.Equal(t, "pong", f.send("ping"))
}

func TestDispatcherResponsesFitBuffer(t *testing.T) {
	f := newDispatcherFixture(t)
	for i := 0; i < 30; i++ {
		require.NoError(t, f.store.Save(fmt.Sprintf("trajectory_%02d", i), steps(i, 1)))
	}

	resp := f.send("t")
	assert.Less(t, len(resp), protocol.BufferSize)
	_, err := protocol.DecodeTrajectoryList(resp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "30 trajectories do not fit")

	resp = f.send("x" + strings.Repeat("y", protocol.BufferSize-2))
	assert.Less(t, len(resp), protocol.BufferSize)
	assert.True(t, strings.HasPrefix(resp, "Unknown command: xyy"))
}

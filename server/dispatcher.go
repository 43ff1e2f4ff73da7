package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"aquarium_arm/hardware"
	"aquarium_arm/protocol"
	"aquarium_arm/trajectory"
)

// Dispatcher turns command frames into calls on the trajectory engine and the
// arm, and renders the outcome as a response frame.
type Dispatcher struct {
	arm      *hardware.SafeArm
	state    *trajectory.State
	recorder *trajectory.Recorder
	player   *trajectory.Player
	store    *trajectory.Store
	logger   logging.Logger

	homeFile      string
	homeSpeed     int
	responseLimit int

	homeMu sync.Mutex
	home   HomePose
}

// DispatcherConfig holds the dependencies of a Dispatcher.
type DispatcherConfig struct {
	Arm       *hardware.SafeArm
	State     *trajectory.State
	Recorder  *trajectory.Recorder
	Player    *trajectory.Player
	Store     *trajectory.Store
	HomeFile  string
	HomeSpeed int

	// ResponseLimit is the client's read buffer; every response is kept
	// shorter. Zero means protocol.BufferSize.
	ResponseLimit int
}

func NewDispatcher(cfg DispatcherConfig, logger logging.Logger) *Dispatcher {
	home, _ := LoadHomePose(cfg.HomeFile, cfg.Arm.JointCount(), logger)
	if cfg.ResponseLimit <= 0 {
		cfg.ResponseLimit = protocol.BufferSize
	}
	return &Dispatcher{
		arm:           cfg.Arm,
		state:         cfg.State,
		recorder:      cfg.Recorder,
		player:        cfg.Player,
		store:         cfg.Store,
		logger:        logger,
		homeFile:      cfg.HomeFile,
		homeSpeed:     cfg.HomeSpeed,
		responseLimit: cfg.ResponseLimit,
		home:          home,
	}
}

// Handle executes one command frame and returns the response frame. It never
// panics; failures are reported in the response. Responses are clipped to the
// response limit.
func (d *Dispatcher) Handle(ctx context.Context, frame string) (response string) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Errorf("Panic handling command %q: %v", frame, r)
			response = protocol.Error(fmt.Errorf("internal error: %v", r))
		}
		if !protocol.Fits(response, d.responseLimit) {
			d.logger.Warnf("Clipping %d byte response to fit %d byte buffer", len(response), d.responseLimit)
			response = protocol.Clip(response, d.responseLimit)
		}
	}()

	cmd, err := protocol.Parse(frame)
	if err != nil {
		return protocol.InvalidArgument(err)
	}
	d.logger.Debugf("Received command: %s %q", cmd.Kind, cmd.Raw)
	return d.route(ctx, cmd)
}

func (d *Dispatcher) route(ctx context.Context, cmd protocol.Command) string {
	switch cmd.Kind {
	case protocol.KindPing:
		return protocol.Pong
	case protocol.KindQuit:
		return protocol.Quit
	case protocol.KindHome:
		return d.moveHome(ctx)
	case protocol.KindSetHome:
		return d.setHome(ctx)
	case protocol.KindStartRecord:
		return d.startRecording(ctx)
	case protocol.KindStopRecord:
		return d.stopRecording()
	case protocol.KindPlayOnce:
		return d.playOnce(ctx, cmd.Name)
	case protocol.KindToggleLoop:
		return d.toggleLoop(ctx)
	case protocol.KindPlaySequence:
		return d.playSequence(ctx, cmd.Names)
	case protocol.KindSave:
		return d.save(cmd.Name)
	case protocol.KindLoad:
		return d.load(cmd.Name)
	case protocol.KindDelete:
		return d.delete(cmd.Name)
	case protocol.KindRelease:
		if err := d.arm.ReleaseAll(ctx); err != nil {
			return d.failure(cmd, err)
		}
		return protocol.RobotReleased
	case protocol.KindList:
		infos, err := d.store.List()
		if err != nil {
			d.logger.Errorf("Failed to list trajectories: %v", err)
			return protocol.EncodeListError(err)
		}
		return protocol.FitTrajectoryList(infos, d.responseLimit)
	default:
		return protocol.UnknownCommand(cmd.Raw)
	}
}

func (d *Dispatcher) moveHome(ctx context.Context) string {
	d.homeMu.Lock()
	home := d.home
	d.homeMu.Unlock()

	speeds := make([]int, len(home.JointAngles))
	for i := range speeds {
		speeds[i] = d.homeSpeed
	}
	if err := d.arm.Move(ctx, home.JointAngles, speeds, home.GripperPosition); err != nil {
		return d.failure(protocol.Command{Kind: protocol.KindHome}, err)
	}
	return protocol.MovedHome
}

func (d *Dispatcher) setHome(ctx context.Context) string {
	sample, err := d.arm.Sample(ctx)
	if err != nil {
		return d.failure(protocol.Command{Kind: protocol.KindSetHome}, err)
	}
	pose := HomePose{JointAngles: sample.Encoders, GripperPosition: sample.Gripper}
	if err := SaveHomePose(d.homeFile, pose); err != nil {
		return d.failure(protocol.Command{Kind: protocol.KindSetHome}, err)
	}

	d.homeMu.Lock()
	d.home = pose
	d.homeMu.Unlock()
	d.logger.Infof("Home position set to %v (gripper %d)", pose.JointAngles, pose.GripperPosition)
	return protocol.HomeSet
}

func (d *Dispatcher) startRecording(ctx context.Context) string {
	switch err := d.recorder.Start(ctx); {
	case err == nil:
		return protocol.RecordingStarted
	case errors.Is(err, trajectory.ErrAlreadyRecording):
		return protocol.AlreadyRecording
	case errors.Is(err, trajectory.ErrPlaying):
		return protocol.CannotRecord
	default:
		return protocol.Error(err)
	}
}

func (d *Dispatcher) stopRecording() string {
	n, err := d.recorder.Stop()
	if errors.Is(err, trajectory.ErrNotRecording) {
		return protocol.NotRecording
	}
	if err != nil {
		return protocol.Error(err)
	}
	return protocol.RecordingStopped(n)
}

func (d *Dispatcher) playOnce(ctx context.Context, name string) string {
	play := d.player.PlayOnce
	if name != "" {
		play = func(ctx context.Context) error { return d.player.PlayNamed(ctx, name) }
	}
	if err := play(ctx); err != nil {
		return d.playFailure(err)
	}
	return protocol.PlayingOnce
}

func (d *Dispatcher) toggleLoop(ctx context.Context) string {
	started, err := d.player.Toggle(ctx)
	if err != nil {
		return d.playFailure(err)
	}
	if started {
		return protocol.LoopStarted
	}
	return protocol.LoopStopped
}

func (d *Dispatcher) playSequence(ctx context.Context, names []string) string {
	if err := d.player.PlaySequence(ctx, names); err != nil {
		return d.playFailure(err)
	}
	return protocol.PlayedSequence(names)
}

func (d *Dispatcher) save(name string) string {
	current := d.state.Current()
	if current.Len() == 0 {
		return protocol.NothingToSave
	}
	if err := d.store.Save(name, current.Steps); err != nil {
		return d.storeFailure(name, err)
	}
	d.state.Rename(name)
	return protocol.TrajectorySaved(name)
}

func (d *Dispatcher) load(name string) string {
	traj, err := d.player.Load(name)
	if err != nil {
		return d.storeFailure(name, err)
	}
	return protocol.TrajectoryLoaded(name, traj.Len())
}

func (d *Dispatcher) delete(name string) string {
	deleted, err := d.store.Delete(name)
	if err != nil {
		return d.storeFailure(name, err)
	}
	if !deleted {
		return protocol.TrajectoryNotFound(name)
	}
	return protocol.TrajectoryDeleted(name)
}

func (d *Dispatcher) playFailure(err error) string {
	var notFound *trajectory.NotFoundError
	switch {
	case errors.As(err, &notFound):
		return protocol.TrajectoryNotFound(notFound.Name)
	case errors.Is(err, trajectory.ErrInvalidName):
		return protocol.InvalidArgument(err)
	case errors.Is(err, trajectory.ErrRecording):
		return protocol.CannotPlay
	case errors.Is(err, trajectory.ErrAlreadyPlaying):
		return protocol.AlreadyPlaying
	case errors.Is(err, trajectory.ErrEmpty):
		return protocol.NoTrajectory
	default:
		d.logger.Errorf("Playback failed: %v", err)
		return protocol.Error(err)
	}
}

func (d *Dispatcher) storeFailure(name string, err error) string {
	switch {
	case errors.Is(err, trajectory.ErrNotFound):
		return protocol.TrajectoryNotFound(name)
	case errors.Is(err, trajectory.ErrInvalidName):
		return protocol.InvalidArgument(err)
	default:
		d.logger.Errorf("Trajectory store failed for %s: %v", name, err)
		return protocol.Error(err)
	}
}

func (d *Dispatcher) failure(cmd protocol.Command, err error) string {
	d.logger.Errorf("Error handling command %s: %v", cmd.Kind, err)
	return protocol.Error(err)
}

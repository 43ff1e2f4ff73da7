package trajectory

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

// Mover applies one step to the arm: joints first, then the gripper.
type Mover interface {
	Move(ctx context.Context, encoders, speeds []int, gripper int) error
}

// Player replays trajectories onto the arm, once, as a named sequence or in a
// loop.
type Player struct {
	mover       Mover
	state       *State
	store       *Store
	logger      logging.Logger
	joinTimeout time.Duration

	mu         sync.Mutex
	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

func NewPlayer(mover Mover, state *State, store *Store, joinTimeout time.Duration, logger logging.Logger) *Player {
	if joinTimeout <= 0 {
		joinTimeout = DefaultJoinTimeout
	}
	return &Player{
		mover:       mover,
		state:       state,
		store:       store,
		logger:      logger,
		joinTimeout: joinTimeout,
	}
}

// PlayOnce replays the current trajectory and returns when the last step's
// interval has elapsed.
func (p *Player) PlayOnce(ctx context.Context) error {
	traj, err := p.state.beginPlaying()
	if err != nil {
		return err
	}
	return p.play(ctx, traj)
}

// PlayNamed loads the named stored trajectory and plays it once. The current
// trajectory is replaced only if playback can start.
func (p *Player) PlayNamed(ctx context.Context, name string) error {
	traj, err := p.beginNamed(name)
	if err != nil {
		return err
	}
	return p.play(ctx, traj)
}

func (p *Player) beginNamed(name string) (Trajectory, error) {
	if err := p.state.playable(); err != nil {
		return Trajectory{}, err
	}
	traj, err := p.read(name)
	if err != nil {
		return Trajectory{}, err
	}
	if err := p.state.beginPlayingWith(traj); err != nil {
		return Trajectory{}, err
	}
	return traj, nil
}

func (p *Player) play(ctx context.Context, traj Trajectory) error {
	defer p.state.endPlaying()

	p.logger.Infof("Playing %s once (%d steps)", displayName(traj), traj.Len())
	if err := p.playSteps(ctx, traj.Steps); err != nil {
		return err
	}
	p.logger.Info("Playback complete")
	return nil
}

// Load makes the named stored trajectory current.
func (p *Player) Load(name string) (Trajectory, error) {
	traj, err := p.read(name)
	if err != nil {
		return Trajectory{}, err
	}
	p.state.SetCurrent(traj)
	return traj, nil
}

func (p *Player) read(name string) (Trajectory, error) {
	steps, found, err := p.store.Load(name)
	if err != nil {
		return Trajectory{}, err
	}
	if !found {
		return Trajectory{}, &NotFoundError{Name: name}
	}
	return Trajectory{Name: name, Steps: steps}, nil
}

// PlaySequence loads and plays each named trajectory in turn, stopping at the
// first failure. The last trajectory played stays current.
func (p *Player) PlaySequence(ctx context.Context, names []string) error {
	for _, name := range names {
		traj, err := p.beginNamed(name)
		if err != nil {
			return err
		}
		if err := p.play(ctx, traj); err != nil {
			return errors.Wrapf(err, "playing %s", name)
		}
	}
	return nil
}

// StartLoop replays the current trajectory repeatedly on a background
// goroutine until StopLoop is called or ctx is cancelled.
func (p *Player) StartLoop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.loopDone != nil {
		return ErrAlreadyPlaying
	}
	traj, err := p.state.beginPlaying()
	if err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.loopCancel, p.loopDone = cancel, done

	p.logger.Infof("Loop playback of %s started (%d steps)", displayName(traj), traj.Len())
	utils.PanicCapturingGo(func() {
		defer close(done)
		defer p.state.endPlaying()
		for pass := 1; loopCtx.Err() == nil; pass++ {
			if err := p.playSteps(loopCtx, traj.Steps); err != nil {
				if loopCtx.Err() == nil {
					p.logger.Errorf("Loop playback failed on pass %d: %v", pass, err)
				}
				return
			}
		}
	})
	return nil
}

// StopLoop cancels loop playback and waits for the goroutine to finish.
func (p *Player) StopLoop() error {
	p.mu.Lock()
	cancel, done := p.loopCancel, p.loopDone
	p.loopCancel, p.loopDone = nil, nil
	p.mu.Unlock()

	if done == nil {
		return ErrNotPlaying
	}
	cancel()
	select {
	case <-done:
		p.logger.Info("Loop playback stopped")
		return nil
	case <-time.After(p.joinTimeout):
		return errors.Errorf("loop playback did not stop within %v", p.joinTimeout)
	}
}

// Looping reports whether a loop goroutine has been started and not stopped.
// A loop that ended on a hardware error still counts until StopLoop.
func (p *Player) Looping() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loopDone != nil
}

// Toggle stops loop playback if it is running and starts it otherwise.
// started reports which of the two happened.
func (p *Player) Toggle(ctx context.Context) (started bool, err error) {
	if p.Looping() {
		return false, p.StopLoop()
	}
	if err := p.StartLoop(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Player) playSteps(ctx context.Context, steps []Step) error {
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.logger.Debugf("Playing step %d/%d: encoders %v speeds %v gripper %d",
			i+1, len(steps), step.JointAngles, step.JointSpeeds, step.GripperPosition)
		if err := p.mover.Move(ctx, step.JointAngles, step.JointSpeeds, step.GripperPosition); err != nil {
			return errors.Wrapf(err, "step %d", i+1)
		}
		if step.IntervalSeconds > 0 {
			wait := time.Duration(step.IntervalSeconds * float64(time.Second))
			if !utils.SelectContextOrWait(ctx, wait) {
				return ctx.Err()
			}
		}
	}
	return nil
}

func displayName(t Trajectory) string {
	if t.Name == "" {
		return "recording"
	}
	return t.Name
}

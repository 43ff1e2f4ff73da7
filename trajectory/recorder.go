package trajectory

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"

	"aquarium_arm/hardware"
)

// IntervalMode selects how recorded steps are tagged with an interval.
type IntervalMode string

const (
	// IntervalFixed tags every step with NominalInterval.
	IntervalFixed IntervalMode = "fixed"
	// IntervalMeasured tags every step with the wall-clock time until the
	// next sample.
	IntervalMeasured IntervalMode = "measured"
)

const (
	DefaultSamplePeriod = 100 * time.Millisecond
	DefaultJoinTimeout  = 5 * time.Second
)

// Sampler reads the full arm state in one call.
type Sampler interface {
	Sample(ctx context.Context) (hardware.Sample, error)
}

// RecorderConfig configures a Recorder. Zero values select defaults.
type RecorderConfig struct {
	SamplePeriod time.Duration
	Interval     IntervalMode
	JoinTimeout  time.Duration
}

// Recorder samples the arm on a background goroutine while recording.
type Recorder struct {
	sampler Sampler
	state   *State
	logger  logging.Logger
	cfg     RecorderConfig

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	stepsMu sync.Mutex
	steps   []Step
}

func NewRecorder(sampler Sampler, state *State, cfg RecorderConfig, logger logging.Logger) *Recorder {
	if cfg.SamplePeriod <= 0 {
		cfg.SamplePeriod = DefaultSamplePeriod
	}
	if cfg.Interval == "" {
		cfg.Interval = IntervalFixed
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultJoinTimeout
	}
	return &Recorder{
		sampler: sampler,
		state:   state,
		logger:  logger,
		cfg:     cfg,
	}
}

// Start discards the in-memory trajectory and begins sampling. Sampling runs
// until Stop is called or ctx is cancelled.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.state.beginRecording(); err != nil {
		return err
	}

	r.stepsMu.Lock()
	r.steps = nil
	r.stepsMu.Unlock()

	recordingCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel, r.done = cancel, done

	r.logger.Infof("Recording started (period %v, %s intervals)", r.cfg.SamplePeriod, r.cfg.Interval)
	utils.PanicCapturingGo(func() {
		defer close(done)
		r.record(recordingCtx)
	})
	return nil
}

// Stop ends recording, publishes the samples as the current trajectory and
// returns how many were taken.
func (r *Recorder) Stop() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done == nil {
		return 0, ErrNotRecording
	}
	r.cancel()
	select {
	case <-r.done:
	case <-time.After(r.cfg.JoinTimeout):
		r.logger.Warnf("Recording goroutine did not stop within %v", r.cfg.JoinTimeout)
	}
	r.cancel, r.done = nil, nil

	r.stepsMu.Lock()
	steps := r.steps
	r.steps = nil
	r.stepsMu.Unlock()

	r.state.endRecording(steps)
	r.logger.Infof("Recording stopped, %d steps collected", len(steps))
	return len(steps), nil
}

// Active reports whether the sampling goroutine has been started and not yet
// stopped.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done != nil
}

func (r *Recorder) record(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SamplePeriod)
	defer ticker.Stop()

	r.logger.Debug("Recording goroutine started")

	var last time.Time
	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("Recording goroutine stopped - context cancelled")
			return
		case <-ticker.C:
		}

		sample, err := r.sampler.Sample(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			r.logger.Errorf("Failed to read arm state during recording: %v", err)
			continue
		}
		now := time.Now()

		r.stepsMu.Lock()
		if ctx.Err() != nil {
			r.stepsMu.Unlock()
			return
		}
		step := Step{
			JointAngles:     sample.Encoders,
			JointSpeeds:     sample.Speeds,
			GripperPosition: sample.Gripper,
			IntervalSeconds: NominalInterval,
		}
		if r.cfg.Interval == IntervalMeasured {
			step.IntervalSeconds = r.cfg.SamplePeriod.Seconds()
			if n := len(r.steps); n > 0 {
				r.steps[n-1].IntervalSeconds = now.Sub(last).Seconds()
			}
		}
		r.steps = append(r.steps, step)
		count := len(r.steps)
		r.stepsMu.Unlock()
		last = now

		r.logger.Debugf("Recorded step %d: encoders %v gripper %d", count, sample.Encoders, sample.Gripper)
	}
}

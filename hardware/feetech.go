package hardware

import (
	"context"
	"fmt"
	"sync"

	"github.com/hipsterbrown/feetech-servo/feetech"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
)

// FeetechArm drives an SO-101 class arm over a Feetech STS bus. Joint servos
// are addressed in the order of Config.JointIDs.
type FeetechArm struct {
	bus     *feetech.Bus
	joints  []*feetech.Servo
	gripper *feetech.Servo
	logger  logging.Logger

	mu           sync.Mutex
	speeds       []int
	gripperSpeed int
	closed       bool
}

// NewFeetechArm opens the serial bus and pings every configured servo. It
// fails only if no servo answers.
func NewFeetechArm(cfg Config, logger logging.Logger) (*FeetechArm, error) {
	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     cfg.Port,
		BaudRate: cfg.BaudRate,
		Protocol: feetech.ProtocolSTS,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create feetech servo bus: %w", err)
	}

	a := &FeetechArm{
		bus:          bus,
		logger:       logger,
		speeds:       make([]int, len(cfg.JointIDs)),
		gripperSpeed: cfg.GripperSpeed,
	}
	for i, id := range cfg.JointIDs {
		a.joints = append(a.joints, feetech.NewServo(bus, id, &feetech.ModelSTS3215))
		a.speeds[i] = cfg.DefaultSpeed
	}
	a.gripper = feetech.NewServo(bus, cfg.GripperID, &feetech.ModelSTS3215)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout*2)
	defer cancel()
	ids := append(append([]int{}, cfg.JointIDs...), cfg.GripperID)
	responding := 0
	for i, servo := range a.all() {
		if _, err := servo.Ping(ctx); err != nil {
			logger.Warnf("Failed to ping servo %d: %v", ids[i], err)
			continue
		}
		logger.Debugf("Servo %d responded to ping", ids[i])
		responding++
	}
	if responding == 0 {
		return nil, multierr.Combine(
			errors.Errorf("no servos responded on %s", cfg.Port),
			bus.Close(),
		)
	}

	logger.Infof("Connected to arm on %s at %d baud (%d/%d servos responding)",
		cfg.Port, cfg.BaudRate, responding, len(a.joints)+1)
	return a, nil
}

func (a *FeetechArm) JointCount() int {
	return len(a.joints)
}

func (a *FeetechArm) Encoders(ctx context.Context) ([]int, error) {
	if err := a.checkOpen(); err != nil {
		return nil, err
	}
	encoders := make([]int, len(a.joints))
	for i, servo := range a.joints {
		pos, err := servo.Position(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read position of joint %d: %w", i+1, err)
		}
		encoders[i] = int(pos)
	}
	return encoders, nil
}

// ServoSpeeds returns the speed each joint was last commanded with. The
// servos do not report a goal speed independently of motion, so the commanded
// value is what a recording needs to reproduce the move.
func (a *FeetechArm) ServoSpeeds(ctx context.Context) ([]int, error) {
	if err := a.checkOpen(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int(nil), a.speeds...), nil
}

func (a *FeetechArm) Gripper(ctx context.Context) (int, error) {
	if err := a.checkOpen(); err != nil {
		return 0, err
	}
	pos, err := a.gripper.Position(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read gripper position: %w", err)
	}
	return int(pos), nil
}

func (a *FeetechArm) SetEncoders(ctx context.Context, encoders, speeds []int) error {
	if err := a.checkOpen(); err != nil {
		return err
	}
	if err := checkTargets(len(a.joints), encoders, speeds); err != nil {
		return err
	}
	for i, servo := range a.joints {
		speed := speeds[i]
		if speed <= 0 {
			a.mu.Lock()
			speed = a.speeds[i]
			a.mu.Unlock()
		}
		if err := servo.SetPositionWithSpeed(ctx, encoders[i], speed); err != nil {
			return fmt.Errorf("failed to move joint %d: %w", i+1, err)
		}
		a.mu.Lock()
		a.speeds[i] = speed
		a.mu.Unlock()
	}
	return nil
}

func (a *FeetechArm) SetGripper(ctx context.Context, position int) error {
	if err := a.checkOpen(); err != nil {
		return err
	}
	if position < EncoderMin || position > EncoderMax {
		return errors.Wrapf(ErrEncoderRange, "gripper target %d", position)
	}
	if err := a.gripper.SetPositionWithSpeed(ctx, position, a.gripperSpeed); err != nil {
		return fmt.Errorf("failed to move gripper: %w", err)
	}
	return nil
}

// PowerOn enables torque on every servo.
func (a *FeetechArm) PowerOn(ctx context.Context) error {
	if err := a.checkOpen(); err != nil {
		return err
	}
	var err error
	for _, servo := range a.all() {
		err = multierr.Append(err, servo.Enable(ctx))
	}
	return err
}

// ReleaseAll disables torque on every servo so the arm can be moved by hand.
func (a *FeetechArm) ReleaseAll(ctx context.Context) error {
	if err := a.checkOpen(); err != nil {
		return err
	}
	var err error
	for _, servo := range a.all() {
		err = multierr.Append(err, servo.Disable(ctx))
	}
	return err
}

func (a *FeetechArm) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()
	return a.bus.Close()
}

func (a *FeetechArm) all() []*feetech.Servo {
	return append(append([]*feetech.Servo{}, a.joints...), a.gripper)
}

func (a *FeetechArm) checkOpen() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	return nil
}

// Package hardware drives the joint servos of the camera arm.
package hardware

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// Encoder range of an STS3215 servo.
const (
	EncoderMin      = 0
	EncoderMax      = 4095
	EncoderMidpoint = 2048
)

var (
	// ErrJointCount is returned when a write carries the wrong number of joints.
	ErrJointCount = errors.New("joint count mismatch")
	// ErrEncoderRange is returned when a target lies outside the encoder range.
	ErrEncoderRange = errors.New("encoder value out of range")
	// ErrClosed is returned by any call made after Close.
	ErrClosed = errors.New("arm is closed")
)

// Arm is the set of primitives the bridge needs from the arm driver. Joint
// values are raw encoder counts, speeds are raw servo speed units.
type Arm interface {
	JointCount() int
	Encoders(ctx context.Context) ([]int, error)
	ServoSpeeds(ctx context.Context) ([]int, error)
	Gripper(ctx context.Context) (int, error)
	SetEncoders(ctx context.Context, encoders, speeds []int) error
	SetGripper(ctx context.Context, position int) error
	PowerOn(ctx context.Context) error
	ReleaseAll(ctx context.Context) error
	Close() error
}

// Config describes how to reach the arm.
type Config struct {
	Port     string        `json:"port,omitempty"`
	BaudRate int           `json:"baud_rate,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty"`

	JointIDs  []int `json:"joint_ids,omitempty"`
	GripperID int   `json:"gripper_id,omitempty"`

	DefaultSpeed int `json:"default_speed,omitempty"`
	GripperSpeed int `json:"gripper_speed,omitempty"`

	// Simulate replaces the serial bus with an in-memory arm.
	Simulate bool `json:"simulate,omitempty"`
}

// Validate ensures all parts of the config are valid and fills in defaults.
func (cfg *Config) Validate(path string) error {
	if cfg.Port == "" && !cfg.Simulate {
		return fmt.Errorf("%s: must specify port for serial communication", path)
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 1000000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}
	if len(cfg.JointIDs) == 0 {
		cfg.JointIDs = []int{1, 2, 3, 4, 5}
	}
	if cfg.GripperID == 0 {
		cfg.GripperID = 6
	}
	for _, id := range cfg.JointIDs {
		if id == cfg.GripperID {
			return fmt.Errorf("%s: servo %d is configured as both joint and gripper", path, id)
		}
	}
	if cfg.DefaultSpeed <= 0 {
		cfg.DefaultSpeed = 1000
	}
	if cfg.GripperSpeed <= 0 {
		cfg.GripperSpeed = 500
	}
	return nil
}

// Open connects to the arm described by cfg. The returned arm is not safe for
// concurrent use; wrap it in a SafeArm.
func Open(cfg Config, logger logging.Logger) (Arm, error) {
	if cfg.Simulate {
		logger.Infof("Using simulated arm with %d joints", len(cfg.JointIDs))
		return NewSimArm(len(cfg.JointIDs)), nil
	}
	return NewFeetechArm(cfg, logger)
}

func checkTargets(jointCount int, encoders, speeds []int) error {
	if len(encoders) != jointCount {
		return errors.Wrapf(ErrJointCount, "got %d encoder values for %d joints", len(encoders), jointCount)
	}
	if len(speeds) != jointCount {
		return errors.Wrapf(ErrJointCount, "got %d speeds for %d joints", len(speeds), jointCount)
	}
	for i, enc := range encoders {
		if enc < EncoderMin || enc > EncoderMax {
			return errors.Wrapf(ErrEncoderRange, "joint %d target %d", i+1, enc)
		}
	}
	return nil
}

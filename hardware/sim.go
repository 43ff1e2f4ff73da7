package hardware

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// SimArm is an in-memory arm whose writes take effect immediately. It keeps
// a log of joint writes and can be told to fail reads or writes.
type SimArm struct {
	mu       sync.Mutex
	encoders []int
	speeds   []int
	gripper  int
	powered  bool
	closed   bool

	writes   [][]int
	readErr  error
	writeErr error
}

// NewSimArm returns a powered-off arm with every joint at the encoder midpoint.
func NewSimArm(joints int) *SimArm {
	s := &SimArm{
		encoders: make([]int, joints),
		speeds:   make([]int, joints),
		gripper:  EncoderMidpoint,
	}
	for i := range s.encoders {
		s.encoders[i] = EncoderMidpoint
		s.speeds[i] = 1000
	}
	return s
}

// FailReads makes every subsequent read return err. Pass nil to recover.
func (s *SimArm) FailReads(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr = err
}

// FailWrites makes every subsequent write return err. Pass nil to recover.
func (s *SimArm) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// Writes returns the encoder targets of every successful SetEncoders call.
func (s *SimArm) Writes() [][]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]int, len(s.writes))
	for i, w := range s.writes {
		out[i] = append([]int(nil), w...)
	}
	return out
}

func (s *SimArm) Powered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.powered
}

func (s *SimArm) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// MoveTo sets the joint encoders as if the arm had been moved by hand.
func (s *SimArm) MoveTo(encoders []int, gripper int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy(s.encoders, encoders)
	s.gripper = gripper
}

func (s *SimArm) JointCount() int {
	return len(s.encoders)
}

func (s *SimArm) Encoders(ctx context.Context) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readable(); err != nil {
		return nil, err
	}
	return append([]int(nil), s.encoders...), nil
}

func (s *SimArm) ServoSpeeds(ctx context.Context) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readable(); err != nil {
		return nil, err
	}
	return append([]int(nil), s.speeds...), nil
}

func (s *SimArm) Gripper(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readable(); err != nil {
		return 0, err
	}
	return s.gripper, nil
}

func (s *SimArm) SetEncoders(ctx context.Context, encoders, speeds []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}
	if err := checkTargets(len(s.encoders), encoders, speeds); err != nil {
		return err
	}
	copy(s.encoders, encoders)
	for i, speed := range speeds {
		if speed > 0 {
			s.speeds[i] = speed
		}
	}
	s.writes = append(s.writes, append([]int(nil), encoders...))
	return nil
}

func (s *SimArm) SetGripper(ctx context.Context, position int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}
	if position < EncoderMin || position > EncoderMax {
		return errors.Wrapf(ErrEncoderRange, "gripper target %d", position)
	}
	s.gripper = position
	return nil
}

func (s *SimArm) PowerOn(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}
	s.powered = true
	return nil
}

func (s *SimArm) ReleaseAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}
	s.powered = false
	return nil
}

func (s *SimArm) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *SimArm) readable() error {
	if s.closed {
		return ErrClosed
	}
	return s.readErr
}

func (s *SimArm) writable() error {
	if s.closed {
		return ErrClosed
	}
	return s.writeErr
}

package hardware

import (
	"context"
	"sync"
)

// SafeArm wraps an Arm with a mutex so that the recorder, the player and
// direct commands never interleave bus traffic.
type SafeArm struct {
	arm Arm
	mu  sync.Mutex
}

// NewSafeArm guards arm.
func NewSafeArm(arm Arm) *SafeArm {
	return &SafeArm{arm: arm}
}

// Sample is one read of the full arm state.
type Sample struct {
	Encoders []int
	Speeds   []int
	Gripper  int
}

// Thread-safe arm methods

func (s *SafeArm) JointCount() int {
	return s.arm.JointCount()
}

func (s *SafeArm) Encoders(ctx context.Context) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.arm.Encoders(ctx)
}

func (s *SafeArm) ServoSpeeds(ctx context.Context) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.arm.ServoSpeeds(ctx)
}

func (s *SafeArm) Gripper(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.arm.Gripper(ctx)
}

func (s *SafeArm) SetEncoders(ctx context.Context, encoders, speeds []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.arm.SetEncoders(ctx, encoders, speeds)
}

func (s *SafeArm) SetGripper(ctx context.Context, position int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.arm.SetGripper(ctx, position)
}

func (s *SafeArm) PowerOn(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.arm.PowerOn(ctx)
}

func (s *SafeArm) ReleaseAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.arm.ReleaseAll(ctx)
}

func (s *SafeArm) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.arm.Close()
}

// Sample reads encoders, speeds and gripper without releasing the lock in
// between, so the three values describe the same instant.
func (s *SafeArm) Sample(ctx context.Context) (Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	encoders, err := s.arm.Encoders(ctx)
	if err != nil {
		return Sample{}, err
	}
	speeds, err := s.arm.ServoSpeeds(ctx)
	if err != nil {
		return Sample{}, err
	}
	gripper, err := s.arm.Gripper(ctx)
	if err != nil {
		return Sample{}, err
	}
	return Sample{Encoders: encoders, Speeds: speeds, Gripper: gripper}, nil
}

// Move writes the joints and then the gripper as one guarded operation.
func (s *SafeArm) Move(ctx context.Context, encoders, speeds []int, gripper int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.arm.SetEncoders(ctx, encoders, speeds); err != nil {
		return err
	}
	return s.arm.SetGripper(ctx, gripper)
}

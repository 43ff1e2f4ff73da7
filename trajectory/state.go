package trajectory

import (
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrRecording        = errors.New("cannot play while recording")
	ErrPlaying          = errors.New("cannot record while playing")
	ErrAlreadyRecording = errors.New("already recording")
	ErrAlreadyPlaying   = errors.New("already playing")
	ErrNotRecording     = errors.New("not recording")
	ErrNotPlaying       = errors.New("not playing")
	ErrEmpty            = errors.New("no trajectory loaded")
	ErrNotFound         = errors.New("trajectory not found")
)

// NotFoundError names the trajectory that could not be found. It matches
// ErrNotFound via errors.Is.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return "trajectory not found: " + e.Name
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// Mode is what the arm is currently doing with trajectories.
type Mode int

const (
	ModeIdle Mode = iota
	ModeRecording
	ModePlaying
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeRecording:
		return "recording"
	case ModePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// State holds the current trajectory and whether it is being recorded or
// played. Recording and playing exclude each other.
type State struct {
	mu      sync.Mutex
	mode    Mode
	current Trajectory
}

func NewState() *State {
	return &State{}
}

func (s *State) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *State) Recording() bool {
	return s.Mode() == ModeRecording
}

func (s *State) Playing() bool {
	return s.Mode() == ModePlaying
}

// Current returns the in-memory trajectory. Steps are shared, not copied.
func (s *State) Current() Trajectory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// SetCurrent replaces the in-memory trajectory.
func (s *State) SetCurrent(t Trajectory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = t
}

// Rename names the in-memory trajectory, typically after it has been saved.
func (s *State) Rename(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.Name = name
}

func (s *State) beginRecording() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.mode {
	case ModePlaying:
		return ErrPlaying
	case ModeRecording:
		return ErrAlreadyRecording
	}
	s.mode = ModeRecording
	s.current = Trajectory{}
	return nil
}

func (s *State) endRecording(steps []Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = ModeIdle
	s.current = Trajectory{Steps: steps}
}

func (s *State) beginPlaying() (Trajectory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.playableLocked(); err != nil {
		return Trajectory{}, err
	}
	if len(s.current.Steps) == 0 {
		return Trajectory{}, ErrEmpty
	}
	s.mode = ModePlaying
	return s.current, nil
}

// beginPlayingWith makes t current and starts playing it. While recording or
// playing it fails and the current trajectory is left as it was.
func (s *State) beginPlayingWith(t Trajectory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.playableLocked(); err != nil {
		return err
	}
	s.current = t
	if len(t.Steps) == 0 {
		return ErrEmpty
	}
	s.mode = ModePlaying
	return nil
}

func (s *State) playable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playableLocked()
}

func (s *State) playableLocked() error {
	switch s.mode {
	case ModeRecording:
		return ErrRecording
	case ModePlaying:
		return ErrAlreadyPlaying
	}
	return nil
}

func (s *State) endPlaying() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == ModePlaying {
		s.mode = ModeIdle
	}
}

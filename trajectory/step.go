// Package trajectory records, stores and replays arm motions.
package trajectory

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/pkg/errors"
)

// NominalInterval is the interval, in seconds, attached to every step when
// recording with IntervalFixed.
const NominalInterval = 0.1

// ErrInvalidName is returned for names that cannot be used as file names.
var ErrInvalidName = errors.New("invalid trajectory name")

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateName checks that name is 1-64 characters of letters, digits,
// underscore or hyphen.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w %q", ErrInvalidName, name)
	}
	return nil
}

// Step is one sampled arm state. IntervalSeconds is how long playback waits
// after applying the step.
type Step struct {
	JointAngles     []int
	JointSpeeds     []int
	GripperPosition int
	IntervalSeconds float64
}

// MarshalJSON encodes a step as [joint_angles, joint_speeds, gripper, interval].
func (s Step) MarshalJSON() ([]byte, error) {
	angles, speeds := s.JointAngles, s.JointSpeeds
	if angles == nil {
		angles = []int{}
	}
	if speeds == nil {
		speeds = []int{}
	}
	return json.Marshal([]interface{}{angles, speeds, s.GripperPosition, s.IntervalSeconds})
}

func (s *Step) UnmarshalJSON(data []byte) error {
	var fields []json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("step must be a JSON array: %w", err)
	}
	if len(fields) != 4 {
		return errors.Errorf("step must have 4 elements, got %d", len(fields))
	}

	var out Step
	if err := json.Unmarshal(fields[0], &out.JointAngles); err != nil {
		return fmt.Errorf("invalid joint angles: %w", err)
	}
	if err := json.Unmarshal(fields[1], &out.JointSpeeds); err != nil {
		return fmt.Errorf("invalid joint speeds: %w", err)
	}
	if len(out.JointAngles) != len(out.JointSpeeds) {
		return errors.Errorf("step has %d joint angles but %d speeds", len(out.JointAngles), len(out.JointSpeeds))
	}
	if err := json.Unmarshal(fields[2], &out.GripperPosition); err != nil {
		return fmt.Errorf("invalid gripper position: %w", err)
	}
	if err := json.Unmarshal(fields[3], &out.IntervalSeconds); err != nil {
		return fmt.Errorf("invalid interval: %w", err)
	}
	if out.IntervalSeconds < 0 {
		return errors.Errorf("negative interval %v", out.IntervalSeconds)
	}
	*s = out
	return nil
}

// Trajectory is a named sequence of steps. A freshly recorded trajectory has
// no name until it is saved.
type Trajectory struct {
	Name  string
	Steps []Step
}

func (t Trajectory) Len() int {
	return len(t.Steps)
}

package server

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.viam.com/rdk/logging"

	"aquarium_arm/hardware"
)

// HomePose is the arm pose the h command returns to.
type HomePose struct {
	JointAngles     []int `json:"joint_angles"`
	GripperPosition int   `json:"gripper_position"`
}

// DefaultHomePose centers every joint and the gripper.
func DefaultHomePose(joints int) HomePose {
	pose := HomePose{
		JointAngles:     make([]int, joints),
		GripperPosition: hardware.EncoderMidpoint,
	}
	for i := range pose.JointAngles {
		pose.JointAngles[i] = hardware.EncoderMidpoint
	}
	return pose
}

// LoadHomePose reads the home pose from path, falling back to the default
// pose when the file is missing or does not match the arm.
// Returns (pose, fromFile).
func LoadHomePose(path string, joints int, logger logging.Logger) (HomePose, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warnf("Failed to read home pose from %s: %v, using default", path, err)
		}
		return DefaultHomePose(joints), false
	}

	var pose HomePose
	if err := json.Unmarshal(data, &pose); err != nil {
		logger.Warnf("Failed to parse home pose %s: %v, using default", path, err)
		return DefaultHomePose(joints), false
	}
	if len(pose.JointAngles) != joints {
		logger.Warnf("Home pose in %s has %d joints, arm has %d, using default", path, len(pose.JointAngles), joints)
		return DefaultHomePose(joints), false
	}

	logger.Infof("Loaded home pose from %s", path)
	return pose, true
}

// SaveHomePose writes pose to path as JSON.
func SaveHomePose(path string, pose HomePose) error {
	data, err := json.MarshalIndent(pose, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal home pose: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create home pose directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write home pose file: %w", err)
	}
	return nil
}

package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// Fixed response frames.
const (
	Pong             = "pong"
	Quit             = "quit"
	MovedHome        = "Moved to home position"
	HomeSet          = "Home position set"
	RecordingStarted = "Recording started"
	AlreadyRecording = "Already recording"
	CannotRecord     = "Cannot record while playing"
	NotRecording     = "Not recording"
	PlayingOnce      = "Playing once"
	AlreadyPlaying   = "Already playing"
	CannotPlay       = "Cannot play while recording"
	NoTrajectory     = "No trajectory loaded"
	LoopStarted      = "Loop play started"
	LoopStopped      = "Loop play stopped"
	NothingToSave    = "No trajectory to save"
	RobotReleased    = "Robot released"
	NotConnected     = "Not connected to robot server"
	CommandTimedOut  = "Command timed out"
	errorPrefix      = "Error"
	unknownPrefix    = "Unknown command: "
	invalidArgPrefix = "Invalid argument: "
	notFoundPrefix   = "Trajectory not found: "
	savedPrefix      = "Trajectory saved: "
	deletedPrefix    = "Trajectory deleted: "
	playedSeqPrefix  = "Played sequence: "
)

func RecordingStopped(steps int) string {
	return fmt.Sprintf("Recording stopped (%d steps)", steps)
}

func TrajectoryLoaded(name string, steps int) string {
	return fmt.Sprintf("Trajectory loaded: %s (%d steps)", name, steps)
}

func TrajectorySaved(name string) string { return savedPrefix + name }

func TrajectoryDeleted(name string) string { return deletedPrefix + name }

func TrajectoryNotFound(name string) string { return notFoundPrefix + name }

func PlayedSequence(names []string) string {
	return playedSeqPrefix + strings.Join(names, ", ")
}

func UnknownCommand(input string) string { return unknownPrefix + input }

// InvalidArgument renders a parse failure. ArgumentErrors contribute only
// their detail.
func InvalidArgument(err error) string {
	var argErr *ArgumentError
	if errors.As(err, &argErr) {
		return invalidArgPrefix + argErr.Detail
	}
	return invalidArgPrefix + err.Error()
}

// Error renders a failure reported by the arm or the trajectory store.
func Error(err error) string {
	return errorPrefix + ": " + err.Error()
}

// IsFailure reports whether a response frame signals that the command failed,
// either on the server or in the client before reaching it.
func IsFailure(response string) bool {
	return strings.HasPrefix(response, errorPrefix) || response == NotConnected
}

// TrajectoryInfo describes a stored trajectory in a t response.
type TrajectoryInfo struct {
	Name     string `json:"name"`
	Modified string `json:"modified"`
}

type trajectoryList struct {
	Trajectories []TrajectoryInfo `json:"trajectories"`
}

type listError struct {
	Error string `json:"error"`
}

// EncodeTrajectoryList renders the success form of a t response. A nil slice
// is rendered as an empty array.
func EncodeTrajectoryList(infos []TrajectoryInfo) string {
	if infos == nil {
		infos = []TrajectoryInfo{}
	}
	data, err := json.Marshal(trajectoryList{Trajectories: infos})
	if err != nil {
		return EncodeListError(err)
	}
	return string(data)
}

// FitTrajectoryList renders a t response that fits in a buffer of limit
// bytes. A listing that is too long is replaced by the failure form.
func FitTrajectoryList(infos []TrajectoryInfo, limit int) string {
	resp := EncodeTrajectoryList(infos)
	if Fits(resp, limit) {
		return resp
	}
	return EncodeListError(errors.Wrapf(ErrFrameTooLong, "%d trajectories do not fit in %d bytes", len(infos), limit))
}

// Clip cuts response so that it fits in a buffer of limit bytes, backing up to
// a rune boundary.
func Clip(response string, limit int) string {
	if Fits(response, limit) || limit <= 0 {
		return response
	}
	cut := limit - 1
	for cut > 0 && !utf8.RuneStart(response[cut]) {
		cut--
	}
	return response[:cut]
}

// EncodeListError renders the failure form of a t response.
func EncodeListError(err error) string {
	data, mErr := json.Marshal(listError{Error: err.Error()})
	if mErr != nil {
		return Error(err)
	}
	return string(data)
}

// DecodeTrajectoryList parses a t response. The failure form and any non-JSON
// response are returned as errors.
func DecodeTrajectoryList(response string) ([]TrajectoryInfo, error) {
	var payload struct {
		Trajectories []TrajectoryInfo `json:"trajectories"`
		Error        *string          `json:"error"`
	}
	if err := json.Unmarshal([]byte(response), &payload); err != nil {
		return nil, errors.Errorf("unexpected trajectory list response: %q", response)
	}
	if payload.Error != nil {
		return nil, errors.New(*payload.Error)
	}
	if payload.Trajectories == nil {
		return []TrajectoryInfo{}, nil
	}
	return payload.Trajectories, nil
}

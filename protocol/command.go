// Package protocol implements the text command protocol spoken between the arm
// bridge client and server. Every message is a single UTF-8 frame: a command
// frame is an opcode optionally followed by an argument, and every command is
// answered by exactly one response frame.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// BufferSize is the read buffer on both ends of the connection. A complete
// frame is strictly shorter, so a read that fills the buffer means the frame
// was cut.
const BufferSize = 1024

// ErrFrameTooLong is reported for frames that do not fit in the read buffer.
var ErrFrameTooLong = errors.New("frame too long")

// Fits reports whether frame can be read whole through a buffer of limit
// bytes.
func Fits(frame string, limit int) bool {
	return len(frame) < limit
}

// Opcodes understood by the server. Ping is matched as a full string, the
// rest are single characters.
const (
	OpPing       = "ping"
	OpQuit       = "q"
	OpHome       = "h"
	OpSetHome    = "H"
	OpRecord     = "r"
	OpStopRecord = "c"
	OpPlay       = "p"
	OpPlayMany   = "P"
	OpSave       = "s"
	OpLoad       = "l"
	OpDelete     = "d"
	OpRelease    = "f"
	OpList       = "t"
)

// ErrInvalidArgument matches every ArgumentError via errors.Is.
var ErrInvalidArgument = errors.New("invalid argument")

// ArgumentError is returned by Parse when an opcode is known but its argument
// is malformed. Detail is what the server echoes back to the client.
type ArgumentError struct {
	Detail string
}

func (e *ArgumentError) Error() string {
	return "invalid argument: " + e.Detail
}

// Is reports whether target is ErrInvalidArgument.
func (e *ArgumentError) Is(target error) bool {
	return target == ErrInvalidArgument
}

func invalidArgument(format string, args ...interface{}) error {
	return &ArgumentError{Detail: fmt.Sprintf(format, args...)}
}

// Kind identifies which operation a parsed command asks for.
type Kind int

const (
	KindUnknown Kind = iota
	KindPing
	KindQuit
	KindHome
	KindSetHome
	KindStartRecord
	KindStopRecord
	KindPlayOnce
	KindToggleLoop
	KindPlaySequence
	KindSave
	KindLoad
	KindDelete
	KindRelease
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindPing:
		return "ping"
	case KindQuit:
		return "quit"
	case KindHome:
		return "home"
	case KindSetHome:
		return "set_home"
	case KindStartRecord:
		return "start_record"
	case KindStopRecord:
		return "stop_record"
	case KindPlayOnce:
		return "play_once"
	case KindToggleLoop:
		return "toggle_loop"
	case KindPlaySequence:
		return "play_sequence"
	case KindSave:
		return "save"
	case KindLoad:
		return "load"
	case KindDelete:
		return "delete"
	case KindRelease:
		return "release"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// Command is a parsed command frame.
//
// Name is set for KindPlayOnce (optional), KindSave, KindLoad and KindDelete.
// Names is set for KindPlaySequence only.
type Command struct {
	Kind  Kind
	Raw   string
	Name  string
	Names []string
}

// noArgument lists the opcodes that must appear alone in a frame.
var noArgument = map[string]Kind{
	OpQuit:       KindQuit,
	OpHome:       KindHome,
	OpSetHome:    KindSetHome,
	OpRecord:     KindStartRecord,
	OpStopRecord: KindStopRecord,
	OpRelease:    KindRelease,
	OpList:       KindList,
}

// namedArgument lists the opcodes whose argument is a required trajectory name.
var namedArgument = map[string]Kind{
	OpSave:   KindSave,
	OpLoad:   KindLoad,
	OpDelete: KindDelete,
}

// Parse decodes a command frame. Surrounding whitespace is ignored. Frames
// that match no opcode produce a KindUnknown command and no error; frames with
// a known opcode but a malformed argument produce an ErrInvalidArgument.
func Parse(frame string) (Command, error) {
	raw := strings.TrimSpace(frame)
	cmd := Command{Kind: KindUnknown, Raw: raw}
	if raw == "" {
		return cmd, nil
	}
	if raw == OpPing {
		cmd.Kind = KindPing
		return cmd, nil
	}

	op, arg := raw[:1], raw[1:]

	if kind, ok := noArgument[op]; ok {
		if arg == "" {
			cmd.Kind = kind
		}
		return cmd, nil
	}

	if kind, ok := namedArgument[op]; ok {
		if arg == "" {
			return cmd, invalidArgument("%s requires a trajectory name", kind)
		}
		cmd.Kind = kind
		cmd.Name = arg
		return cmd, nil
	}

	switch op {
	case OpPlay:
		cmd.Kind = KindPlayOnce
		cmd.Name = arg
		return cmd, nil
	case OpPlayMany:
		if arg == "" {
			cmd.Kind = KindToggleLoop
			return cmd, nil
		}
		names, err := parseNameList(arg)
		if err != nil {
			return cmd, err
		}
		cmd.Kind = KindPlaySequence
		cmd.Names = names
		return cmd, nil
	}

	return cmd, nil
}

func parseNameList(arg string) ([]string, error) {
	var names []string
	if err := json.Unmarshal([]byte(arg), &names); err != nil {
		return nil, invalidArgument("expected a JSON array of trajectory names: %v", err)
	}
	if len(names) == 0 {
		return nil, invalidArgument("empty trajectory list")
	}
	for i, name := range names {
		if strings.TrimSpace(name) == "" {
			return nil, invalidArgument("trajectory name at index %d is empty", i)
		}
	}
	return names, nil
}

// Frame builds the wire form of a command. An empty argument is omitted.
func Frame(command, argument string) string {
	return command + argument
}

// SequenceFrame builds a P frame that plays the named trajectories in order.
func SequenceFrame(names []string) (string, error) {
	data, err := json.Marshal(names)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode trajectory names")
	}
	return OpPlayMany + string(data), nil
}

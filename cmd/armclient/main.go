// Command armclient sends commands to an arm server, either one-shot with -c
// or interactively from stdin.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/charmbracelet/lipgloss"
	"go.viam.com/rdk/logging"
	"golang.org/x/term"

	"aquarium_arm/client"
	"aquarium_arm/protocol"
)

var (
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	promptStyle  = lipgloss.NewStyle().Bold(true)
)

const help = `Commands:
  ping            check the connection
  h / H           move home / store the current pose as home
  r / c           start / stop recording
  p[name]         play the current trajectory once, or load and play name
  P               toggle looped playback
  P["a","b"]      play trajectories in order
  s<name>         save the current trajectory
  l<name>         load a trajectory
  d<name>         delete a trajectory
  f               release all servos
  list            list saved trajectories
  help            show this text
  exit, q         disconnect and quit`

func main() {
	if err := realMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func realMain() error {
	cfg, err := client.FromEnv()
	if err != nil {
		return err
	}

	var (
		host    = flag.String("host", cfg.Host, "arm server host")
		port    = flag.Int("port", cfg.Port, "arm server port")
		command = flag.String("c", "", "send a single command and exit")
		debug   = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()
	cfg.Host = *host
	cfg.Port = *port

	logger := logging.NewLogger("armclient")
	if *debug {
		logger = logging.NewDebugLogger("armclient")
	}

	m := client.New(cfg, clock.New(), logger)
	defer m.Close()

	if *command != "" {
		resp := execute(m, *command)
		fmt.Println(resp)
		if protocol.IsFailure(resp) {
			return fmt.Errorf("command %q failed", *command)
		}
		return nil
	}

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if interactive {
		fmt.Printf("Connecting to %s, type help for commands\n", cfg.Addr())
	}
	return repl(os.Stdin, os.Stdout, m, interactive)
}

// repl runs one command per input line until EOF or exit.
func repl(in io.Reader, out io.Writer, s client.CommandSender, prompt bool) error {
	scanner := bufio.NewScanner(in)
	for {
		if prompt {
			fmt.Fprint(out, promptStyle.Render("arm> "))
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit", protocol.OpQuit:
			return nil
		case "help", "?":
			fmt.Fprintln(out, help)
			continue
		}

		resp := execute(s, line)
		if protocol.IsFailure(resp) {
			resp = failureStyle.Render(resp)
		}
		fmt.Fprintln(out, resp)
	}
}

// execute sends line as a raw frame, except for list which is decoded and
// rendered one trajectory per line.
func execute(s client.CommandSender, line string) string {
	if line != "list" {
		return s.SendCommand(line, "")
	}
	infos, err := client.GetTrajectories(s)
	if err != nil {
		return protocol.Error(err)
	}
	if len(infos) == 0 {
		return "No saved trajectories"
	}
	var b strings.Builder
	for i, info := range infos {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%-24s %s", info.Name, info.Modified)
	}
	return b.String()
}

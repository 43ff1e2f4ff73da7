// Command armctl is a bench tool for the servo bus. It talks to the hardware
// directly and must not run while armserver holds the port.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"

	"aquarium_arm/hardware"
)

const usage = `usage: armctl <command> [flags]

commands:
  ports     list candidate serial ports and the servo IDs answering on each
  read      print joint encoders and gripper position
  release   disable torque on every servo`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := logging.NewLogger("armctl")

	var err error
	switch os.Args[1] {
	case "ports":
		err = runPorts(ctx, os.Args[2:], logger)
	case "read":
		err = runRead(ctx, os.Args[2:], logger)
	case "release":
		err = runRelease(ctx, os.Args[2:], logger)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error(err)
		os.Exit(1)
	}
}

func runPorts(ctx context.Context, args []string, logger logging.Logger) error {
	fs := flag.NewFlagSet("ports", flag.ExitOnError)
	baud := fs.Int("baud", 1000000, "bus baud rate")
	ids := fs.String("ids", "1,2,3,4,5,6", "comma separated servo IDs to probe")
	probe := fs.Bool("probe", true, "ping servos on every port found")
	if err := fs.Parse(args); err != nil {
		return err
	}
	servoIDs, err := parseIDs(*ids)
	if err != nil {
		return err
	}

	ports, err := hardware.FindPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("No candidate serial ports found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PORT\tUSB\tVID:PID\tSERIAL\tSERVOS")
	for _, port := range ports {
		answering := "-"
		if *probe {
			found, err := hardware.ProbePort(ctx, port.Path, *baud, servoIDs, logger)
			if err != nil {
				logger.Warnf("Could not probe %s: %v", port.Path, err)
			} else {
				answering = formatIDs(found)
			}
		}
		fmt.Fprintf(w, "%s\t%t\t%s:%s\t%s\t%s\n", port.Path, port.IsUSB, port.VID, port.PID, port.Serial, answering)
	}
	return w.Flush()
}

func runRead(ctx context.Context, args []string, logger logging.Logger) error {
	fs := flag.NewFlagSet("read", flag.ExitOnError)
	cfg := hardwareFlags(fs)
	watch := fs.Duration("watch", 0, "keep reading at this period until interrupted")
	if err := fs.Parse(args); err != nil {
		return err
	}

	arm, err := openArm(cfg, logger)
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(arm.Close)

	for {
		encoders, err := arm.Encoders(ctx)
		if err != nil {
			return err
		}
		gripper, err := arm.Gripper(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("joints=%v gripper=%d\n", encoders, gripper)

		if *watch <= 0 || !utils.SelectContextOrWait(ctx, *watch) {
			return nil
		}
	}
}

func runRelease(ctx context.Context, args []string, logger logging.Logger) error {
	fs := flag.NewFlagSet("release", flag.ExitOnError)
	cfg := hardwareFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	arm, err := openArm(cfg, logger)
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(arm.Close)

	if err := arm.ReleaseAll(ctx); err != nil {
		return err
	}
	logger.Info("All servos released")
	return nil
}

func hardwareFlags(fs *flag.FlagSet) *hardware.Config {
	cfg := &hardware.Config{}
	fs.StringVar(&cfg.Port, "port", "", "serial port of the servo bus")
	fs.IntVar(&cfg.BaudRate, "baud", 0, "bus baud rate")
	fs.DurationVar(&cfg.Timeout, "timeout", time.Second, "servo response timeout")
	return cfg
}

func openArm(cfg *hardware.Config, logger logging.Logger) (hardware.Arm, error) {
	if err := cfg.Validate("armctl"); err != nil {
		return nil, err
	}
	return hardware.Open(*cfg, logger)
}

func parseIDs(s string) ([]int, error) {
	var ids []int
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		id, err := strconv.Atoi(field)
		if err != nil || id < 0 || id > 253 {
			return nil, errors.Errorf("invalid servo ID %q", field)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, errors.New("no servo IDs given")
	}
	return ids, nil
}

func formatIDs(found map[int]bool) string {
	ids := make([]int, 0, len(found))
	for id := range found {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return "none"
	}
	sort.Ints(ids)
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}

// Command armserver exposes the arm over the TCP command protocol.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.viam.com/rdk/logging"

	"aquarium_arm/hardware"
	"aquarium_arm/server"
)

func main() {
	if err := realMain(); err != nil {
		os.Exit(1)
	}
}

func realMain() error {
	var (
		configPath = flag.String("config", "", "path to a JSON server config")
		debug      = flag.Bool("debug", false, "enable debug logging")
		simulate   = flag.Bool("simulate", false, "run against a simulated arm instead of the serial bus")
		serialPort = flag.String("serial", "", "serial port of the servo bus, overrides the config")
		port       = flag.Int("port", 0, "TCP port to listen on, overrides the config")
	)
	flag.Parse()

	logger := logging.NewLogger("armserver")
	if *debug {
		logger = logging.NewDebugLogger("armserver")
	}

	cfg, err := server.LoadConfig(*configPath, func(c *server.Config) {
		if *simulate {
			c.Hardware.Simulate = true
		}
		if *serialPort != "" {
			c.Hardware.Port = *serialPort
		}
		if *port != 0 {
			c.Port = *port
		}
	})
	if err != nil {
		logger.Errorw("invalid configuration", "error", err)
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := server.New(*cfg, hardware.Open, logger)
	if err := srv.Start(ctx); err != nil {
		logger.Errorw("server failed to start", "error", err)
		return err
	}

	<-ctx.Done()
	logger.Info("Shutting down")
	if err := srv.Close(); err != nil {
		logger.Warnw("errors during shutdown", "error", err)
	}
	return nil
}

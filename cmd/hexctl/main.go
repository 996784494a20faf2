// Command hexctl runs the hexapod control core: it connects (or
// simulates) the six leg controllers, builds the body gait coordinator
// over them, and drives the single-threaded cooperative loop.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"github.com/viamrobotics/hexctl/body"
	"github.com/viamrobotics/hexctl/discovery"
	"github.com/viamrobotics/hexctl/legctl"
	"github.com/viamrobotics/hexctl/paramstore"
)

const usage = `usage: hexctl <program|ui|reset|backend|remote|remote_ui> [--type T] [--rig FILE]`

func main() {
	if err := realMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func realMain() error {
	if len(os.Args) < 2 {
		return errors.New(usage)
	}
	sub := os.Args[1]

	fs := flag.NewFlagSet(sub, flag.ExitOnError)
	legType := fs.String("type", "sim", "leg controller type: sim or teensy")
	rigPath := fs.String("rig", "", "rig config file (JSON)")
	if err := fs.Parse(os.Args[2:]); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	logger := logging.NewLogger("hexctl")

	switch sub {
	case "program", "backend":
		return runLoop(ctx, *legType, *rigPath, logger)
	case "reset":
		return runReset(ctx, *legType, *rigPath, logger)
	case "ui", "remote", "remote_ui":
		// operator surfaces live in their own tool; the core only
		// exposes the backend they attach to
		return errors.Errorf("hexctl: %s is served by the operator terminal, run 'hexctl backend' here", sub)
	default:
		return errors.Errorf("hexctl: unknown subcommand %q\n%s", sub, usage)
	}
}

// buildLegs constructs one controller per leg, simulated or over
// discovered serial ports.
func buildLegs(
	ctx context.Context, legType, rigPath string, latch *legctl.TickLatch, logger logging.Logger,
) (map[int]legctl.Controller, error) {
	rig, err := legctl.LoadRigConfig(rigPath, logger)
	if err != nil {
		return nil, err
	}

	legs := make(map[int]legctl.Controller)
	switch legType {
	case "sim", "fake":
		tick, ok := latch.Value()
		if !ok {
			tick, _ = latch.Observe(0.025)
		}
		for _, ln := range legctl.RealLegs {
			entry := rig.Entry(ln)
			legs[ln] = legctl.NewSimulatedController(
				ln, entry.Geom(), r3.Vector{X: 60, Z: -40}, tick, logger)
		}
	case "teensy", "hardware":
		ports := make(map[int]string)
		for _, entry := range rig.Legs {
			if entry.Port != "" {
				ports[entry.Number] = entry.Port
			}
		}
		if len(ports) == 0 {
			ports, err = discovery.DiscoverLegPorts(ctx, nil, logger)
			if err != nil {
				return nil, err
			}
		}
		if len(ports) == 0 {
			return nil, errors.New("hexctl: no leg microcontrollers found")
		}
		for ln, portPath := range ports {
			entry := rig.Entry(ln)
			leg, err := legctl.NewHardwareController(ctx, portPath, legctl.HardwareOptions{
				Geometry:    entry.Geom(),
				Calibration: rig.CalibrationByLeg(),
				Latch:       latch,
			}, logger)
			if err != nil {
				return nil, errors.Wrapf(err, "leg %d on %s", ln, portPath)
			}
			legs[leg.LegNumber()] = leg
		}
	default:
		return nil, errors.Errorf("hexctl: unknown leg type %q", legType)
	}
	return legs, nil
}

// runLoop is the cooperative control loop: poll every leg, let events
// drive the coordinator, repeat.
func runLoop(ctx context.Context, legType, rigPath string, logger logging.Logger) error {
	latch := legctl.NewTickLatch()
	legs, err := buildLegs(ctx, legType, rigPath, latch, logger)
	if err != nil {
		return err
	}
	params := paramstore.New()
	coordinator := body.NewCoordinator(legs, params, logger)
	coordinator.Enable()

	logger.Infof("hexctl: running with %d %s legs", len(legs), legType)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			coordinator.Disable()
			return nil
		case <-ticker.C:
			if err := coordinator.Update(ctx); err != nil {
				return err
			}
		}
	}
}

// runReset stops every leg and leaves it hard e-stopped.
func runReset(ctx context.Context, legType, rigPath string, logger logging.Logger) error {
	latch := legctl.NewTickLatch()
	legs, err := buildLegs(ctx, legType, rigPath, latch, logger)
	if err != nil {
		return err
	}
	for ln, leg := range legs {
		if err := leg.Stop(); err != nil {
			logger.Warnf("hexctl: stop leg %d: %v", ln, err)
		}
		if err := leg.SetEstop(legctl.Hard); err != nil {
			logger.Warnf("hexctl: estop leg %d: %v", ln, err)
		}
	}
	logger.Info("hexctl: all legs stopped and estopped")
	return nil
}

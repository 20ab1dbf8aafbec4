package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"servoctl/internal/config"
	"servoctl/internal/output"
	"servoctl/internal/pwmhw"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./servoctl.yaml", "Path to YAML config")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	drv, err := pwmhw.Open()
	if err != nil {
		log.Fatalf("pwm driver init failed: %v", err)
	}
	defer drv.Close()

	ctrl := output.NewController(drv, output.Config{
		Echo:                 cfg.Echo,
		DefaultUpdateCycleUs: cfg.DefaultUpdateCycleUs,
		ReservedChannels:     cfg.ReservedChannels,
		ClaimedPins:          cfg.Pins,
	})
	defer func() {
		if err := ctrl.Close(); err != nil {
			log.Printf("controller close: %v", err)
		}
	}()

	if err := buildActuators(ctrl, cfg); err != nil {
		log.Fatalf("%v", err)
	}

	log.Printf("servoctl starting")
	log.Printf("actuators: %d servos, %d continuous, %d leds",
		len(cfg.Servos), len(cfg.ContinuousServos), len(cfg.LEDs))

	go func() {
		runCommands(ctrl, os.Stdin)
		cancel()
	}()

	<-ctx.Done()
	log.Printf("servoctl stopping")
}

func buildActuators(ctrl *output.Controller, cfg config.Config) error {
	for _, s := range cfg.Servos {
		_, err := ctrl.NewServo(s.Name, s.Pin, output.ServoConfig{
			UpdateCycleUs: s.UpdateCycleUs,
			RangeOfMotion: s.RangeOfMotion,
			PulseMinMs:    s.PulseMinMs,
			PulseMaxMs:    s.PulseMaxMs,
			Reverse:       s.Reverse,
		})
		if err != nil {
			return fmt.Errorf("servo %s: %w", s.Name, err)
		}
	}
	for _, s := range cfg.ContinuousServos {
		_, err := ctrl.NewContinuousServo(s.Name, s.Pin, output.ContinuousServoConfig{
			UpdateCycleUs: s.UpdateCycleUs,
			PulseMinMs:    s.PulseMinMs,
			PulseMaxMs:    s.PulseMaxMs,
			Reverse:       s.Reverse,
		})
		if err != nil {
			return fmt.Errorf("continuous servo %s: %w", s.Name, err)
		}
	}
	for _, l := range cfg.LEDs {
		if _, err := ctrl.NewLED(l.Name, l.Pin); err != nil {
			return fmt.Errorf("led %s: %w", l.Name, err)
		}
	}
	return nil
}

var errQuit = errors.New("quit")

// runCommands serves a line-oriented protocol on r until EOF or quit:
//
//	set <name> <value>
//	inc <name> <delta>
//	remove <name>
//	quit
func runCommands(ctrl *output.Controller, r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := dispatch(ctrl, line); err != nil {
			if errors.Is(err, errQuit) {
				return
			}
			log.Printf("%v", err)
		}
	}
	if err := sc.Err(); err != nil {
		log.Printf("command input: %v", err)
	}
}

func dispatch(ctrl *output.Controller, line string) error {
	fields := strings.Fields(line)
	switch fields[0] {
	case "quit":
		return errQuit
	case "set", "inc":
		if len(fields) != 3 {
			return fmt.Errorf("usage: %s <name> <value>", fields[0])
		}
		value, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return fmt.Errorf("bad value %q: %v", fields[2], err)
		}
		if fields[0] == "set" {
			return ctrl.Set(fields[1], value)
		}
		return ctrl.Increment(fields[1], value)
	case "remove":
		if len(fields) != 2 {
			return fmt.Errorf("usage: remove <name>")
		}
		return ctrl.Remove(fields[1])
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
}

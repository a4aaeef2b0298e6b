package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"envfeed-go/internal/logging"
	"envfeed-go/services/config"
)

const apiKeyEnv = "ENVFEED_API_KEY"

func main() {
	device := flag.String("device", "netduino", "Device profile ("+strings.Join(config.Names(), ", ")+")")
	simulate := flag.Bool("simulate", false, "Use the simulated sensor and in-memory pins")
	logLevel := flag.String("log-level", "", "Override the profile's log level")
	configCheck := flag.Bool("config-check", false, "Validate the profile and exit")
	flag.Parse()

	dev, err := loadDevice(*device, *simulate, *logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration invalid: %v\n", err)
		os.Exit(1)
	}
	if *configCheck {
		fmt.Printf("Profile %q is valid.\n", dev.Name)
		os.Exit(0)
	}

	bootID := uuid.NewString()
	logger, cleanup, err := logging.Setup(dev.Logging, logging.Identity{Device: dev.Name, BootID: bootID})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup logger")
	}
	defer cleanup()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(dev, logger, withBootID(bootID))
	if err != nil {
		cleanup()
		logger.Fatal().Err(err).Msg("failed to wire device")
	}
	logger.Info().Bool("simulate", dev.Sensor.Simulate).Msg("starting")

	if err := a.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		cleanup()
		logger.Fatal().Err(err).Msg("stopped")
	}
	logger.Info().Msg("stopped")
}

// loadDevice resolves the profile and applies the command-line and
// environment overrides before validating it.
func loadDevice(name string, simulate bool, level string) (config.Device, error) {
	dev, err := config.Load(name)
	if err != nil {
		return config.Device{}, err
	}
	if simulate {
		dev.Sensor.Simulate = true
		if dev.Sensor.SimRawTemperature == 0 {
			dev.Sensor.SimRawTemperature = 6400
		}
		if dev.Sensor.SimRawHumidity == 0 {
			dev.Sensor.SimRawHumidity = 1500
		}
	}
	if level != "" {
		dev.Logging.Level = level
	}
	if key := os.Getenv(apiKeyEnv); key != "" {
		dev.Feed.APIKey = key
	}
	return dev, dev.Validate()
}

// Package race contains the main command: it assembles the control
// unit, the processing pipeline, the coin-box poller, the broadcast
// fan-out, the NATS mirror and the HTTP API and runs a race session
// until interrupted.
package race

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // by design
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	otlpruntime "go.opentelemetry.io/contrib/instrumentation/runtime"

	"github.com/slotracer/slotman/log"
	"github.com/slotracer/slotman/pkg/config"
	"github.com/slotracer/slotman/pkg/hardware"
	"github.com/slotracer/slotman/pkg/model"
	"github.com/slotracer/slotman/pkg/processing"
	"github.com/slotracer/slotman/pkg/publish"
	"github.com/slotracer/slotman/pkg/server"
	"github.com/slotracer/slotman/pkg/session"
	"github.com/slotracer/slotman/pkg/telemetry"
	"github.com/slotracer/slotman/pkg/utils/broadcast"
)

//nolint:gochecknoglobals // resolved race flags, same lifecycle as config
var (
	raceMode    string
	raceLaps    int
	raceTime    string
	minLapTime  string
	driverCount int
	autoCar     bool
	paceCar     bool
	slotMode    bool
	stopFinish  bool
	pauseClock  bool
)

//nolint:funlen // flag registration
func NewRaceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "race",
		Short: "runs a race session",
		RunE: func(_ *cobra.Command, _ []string) error {
			return startRace()
		},
	}
	cmd.Flags().StringVarP(&raceMode,
		"mode", "m", "practice",
		"race mode (practice, qualifying, race)")
	cmd.Flags().IntVarP(&raceLaps,
		"laps", "l", 0,
		"number of laps, 0 means unlimited")
	cmd.Flags().StringVarP(&raceTime,
		"race-time", "t", "0s",
		"session duration, 0 means untimed")
	cmd.Flags().StringVar(&minLapTime,
		"min-lap-time", "500ms",
		"crossings closer than this are ignored")
	cmd.Flags().IntVarP(&driverCount,
		"drivers", "d", 0,
		"number of participating lanes, 0 means all")
	cmd.Flags().BoolVar(&autoCar,
		"auto", false,
		"enable the autonomous car lane")
	cmd.Flags().BoolVar(&paceCar,
		"pace", false,
		"enable the pace car lane")
	cmd.Flags().BoolVar(&slotMode,
		"slotmode", false,
		"keep lanes racing after the limit until stopped manually")
	cmd.Flags().BoolVar(&stopFinish,
		"stopfin", false,
		"raise the hardware stop signal when the session completes")
	cmd.Flags().BoolVar(&pauseClock,
		"pause", false,
		"pause the race clock while the start light is up")

	cmd.Flags().StringVar(&config.HTTPServerAddr,
		"http-addr", "localhost:8090",
		"HTTP API listen address")
	cmd.Flags().StringVar(&config.NatsURL,
		"nats-url", "",
		"NATS server URL, empty disables the live mirror")
	cmd.Flags().StringVar(&config.CoinboxURL,
		"coinbox-url", "",
		"base URL of the coin-box API, empty disables payment handling")
	cmd.Flags().StringVar(&config.PollInterval,
		"poll-interval", "500ms",
		"coin-box poll interval")
	cmd.Flags().BoolVar(&config.Simulate,
		"simulate", false,
		"use the built-in control unit simulator")
	cmd.Flags().StringVar(&config.SimLapTime,
		"sim-lap-time", "5s",
		"simulator base lap time")
	cmd.Flags().IntVar(&config.SimSectors,
		"sim-sectors", 1,
		"simulator sector markers per lap")
	cmd.Flags().BoolVar(&config.EnableTelemetry,
		"enable-telemetry", false,
		"enables telemetry")
	cmd.Flags().StringVar(&config.TelemetryEndpoint,
		"telemetry-endpoint", "localhost:4317",
		"Endpoint that receives open telemetry data")
	cmd.Flags().IntVar(&config.ProfilingPort,
		"profiling-port", 0,
		"port to use for providing profiling data")
	return cmd
}

func raceOptions() (model.RaceOptions, error) {
	opts := model.DefaultRaceOptions()
	mode, err := model.ParseRaceMode(raceMode)
	if err != nil {
		return opts, err
	}
	duration, err := time.ParseDuration(raceTime)
	if err != nil {
		return opts, fmt.Errorf("invalid race-time: %w", err)
	}
	minLap, err := time.ParseDuration(minLapTime)
	if err != nil {
		return opts, fmt.Errorf("invalid min-lap-time: %w", err)
	}
	opts.Mode = mode
	opts.Laps = raceLaps
	opts.Time = duration
	opts.MinLapTime = minLap
	opts.DriverCount = driverCount
	opts.Auto = autoCar
	opts.Pace = paceCar
	opts.SlotMode = slotMode
	opts.StopFinish = stopFinish
	opts.Pause = pauseClock
	return opts, nil
}

// drivers come from the config file only; there is no sensible flag
// shape for a roster.
func driverRoster() []model.Driver {
	var drivers []model.Driver
	if err := viper.UnmarshalKey("drivers", &drivers); err != nil {
		log.Warn("could not read driver roster", log.ErrorField(err))
		return nil
	}
	return drivers
}

func setupLogger() {
	logger := log.GetFromConfig(config.LogFormat, config.LogLevel)
	if config.LogConfig != "" {
		if rules, err := os.ReadFile(config.LogConfig); err == nil {
			logger = logger.WithFilterRules(string(rules))
		} else {
			log.Warn("could not read log config", log.ErrorField(err))
		}
	}
	log.ResetDefault(logger)
}

//nolint:funlen,cyclop // composition root
func startRace() error {
	setupLogger()
	opts, err := raceOptions()
	if err != nil {
		return err
	}

	var appTelemetry *config.Telemetry
	if config.EnableTelemetry {
		log.Info("Enabling telemetry")
		if appTelemetry, err = config.SetupTelemetry(context.Background()); err != nil {
			log.Warn("Could not setup telemetry", log.ErrorField(err))
		}
		if err = otlpruntime.Start(
			otlpruntime.WithMinimumReadMemStatsInterval(time.Second)); err != nil {
			log.Warn("Could not start runtime metrics", log.ErrorField(err))
		}
	}
	if config.ProfilingPort > 0 {
		log.Info("Starting profiling server", log.Int("port", config.ProfilingPort))
		go func() {
			//nolint:gosec // by design
			if err := http.ListenAndServe(
				fmt.Sprintf("localhost:%d", config.ProfilingPort), nil); err != nil {
				log.Error("Profiling server stopped", log.ErrorField(err))
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cu, err := setupControlUnit(ctx)
	if err != nil {
		return err
	}
	coinbox := setupCoinbox(ctx)

	procOpts := []processing.Option{
		processing.WithRaceOptions(opts),
		processing.WithDrivers(driverRoster()),
	}
	if coinbox != nil {
		procOpts = append(procOpts, processing.WithCoinbox(coinbox))
	}
	proc := processing.NewProcessor(cu, procOpts...)
	go proc.Run(ctx)

	sessionKey := uuid.New().String()
	leaderboard := broadcast.NewBroadcastServer(
		"leaderboard", proc.Leaderboard(),
		broadcast.WithReplayLatest[[]model.RankedEntry](),
		broadcast.WithSessionKey[[]model.RankedEntry](sessionKey))
	currentLap := broadcast.NewBroadcastServer(
		"lap", proc.CurrentLap(),
		broadcast.WithReplayLatest[model.CurrentLap](),
		broadcast.WithSessionKey[model.CurrentLap](sessionKey))
	countdown := broadcast.NewBroadcastServer(
		"countdown", proc.CountdownStream(),
		broadcast.WithReplayLatest[time.Duration](),
		broadcast.WithSessionKey[time.Duration](sessionKey))
	raceEvents := broadcast.NewBroadcastServer(
		"events", proc.Events(),
		broadcast.WithSessionKey[model.RaceEvent](sessionKey))
	status := broadcast.NewBroadcastServer(
		"status", proc.Status(),
		broadcast.WithReplayLatest[session.Status](),
		broadcast.WithSessionKey[session.Status](sessionKey))
	defer func() {
		leaderboard.Close()
		currentLap.Close()
		countdown.Close()
		raceEvents.Close()
		status.Close()
	}()

	mirror, err := setupMirror(
		sessionKey, leaderboard, currentLap, countdown, raceEvents)
	if err != nil {
		return err
	}
	if mirror != nil {
		defer mirror.Close()
	}

	httpServer := server.NewServer(proc,
		server.WithAddr(config.HTTPServerAddr),
		server.WithSessionKey(sessionKey),
		server.WithLeaderboard(leaderboard),
		server.WithStatus(status))
	go func() {
		if srvErr := httpServer.ListenAndServe(); srvErr != nil &&
			srvErr != http.ErrServerClosed {
			log.Error("http server stopped", log.ErrorField(srvErr))
		}
	}()
	defer httpServer.Shutdown()

	log.Info("race session ready",
		log.String("mode", opts.Mode.String()),
		log.Int("laps", opts.Laps),
		log.Duration("time", opts.Time))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	v := <-sigChan
	log.Debug("Got signal", log.Any("signal", v))
	cancel()
	if appTelemetry != nil {
		appTelemetry.Shutdown()
	}
	log.Info("race session terminated")
	return nil
}

// setupControlUnit provides the track hardware. Only the simulator is
// wired here; a serial implementation plugs in behind the same
// interface.
func setupControlUnit(ctx context.Context) (hardware.ControlUnit, error) {
	if !config.Simulate {
		return nil, fmt.Errorf("no control unit configured, use --simulate")
	}
	lapTime, err := time.ParseDuration(config.SimLapTime)
	if err != nil {
		return nil, fmt.Errorf("invalid sim-lap-time: %w", err)
	}
	sim := hardware.NewSimulator(
		hardware.WithLapTime(lapTime),
		hardware.WithSectors(config.SimSectors))
	go sim.Run(ctx)
	return sim, nil
}

func setupCoinbox(ctx context.Context) telemetry.Client {
	if config.CoinboxURL == "" {
		return nil
	}
	interval, err := time.ParseDuration(config.PollInterval)
	if err != nil {
		log.Warn("invalid poll-interval, using default", log.ErrorField(err))
		interval = 500 * time.Millisecond
	}
	poller := telemetry.NewPoller(config.CoinboxURL,
		telemetry.WithPollInterval(interval))
	go poller.Run(ctx)
	return poller
}

//nolint:whitespace // can't make both editor and linter happy
func setupMirror(
	sessionKey string,
	leaderboard broadcast.BroadcastServer[[]model.RankedEntry],
	currentLap broadcast.BroadcastServer[model.CurrentLap],
	countdown broadcast.BroadcastServer[time.Duration],
	raceEvents broadcast.BroadcastServer[model.RaceEvent],
) (*publish.Mirror, error) {
	if config.NatsURL == "" {
		return nil, nil
	}
	conn, err := nats.Connect(config.NatsURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	mirror := publish.NewMirror(conn,
		publish.WithSessionKey(sessionKey),
		publish.WithLeaderboard(leaderboard),
		publish.WithCurrentLap(currentLap),
		publish.WithCountdown(countdown),
		publish.WithEvents(raceEvents))
	mirror.Start()
	return mirror, nil
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"bytemomo/armada/internal/adapter/grpcagent"
	"bytemomo/armada/internal/adapter/instrument"
	"bytemomo/armada/internal/adapter/jsonreport"
	"bytemomo/armada/internal/adapter/logger"
	"bytemomo/armada/internal/adapter/mqttevents"
	"bytemomo/armada/internal/adapter/yamlconfig"
	"bytemomo/armada/internal/api"
	"bytemomo/armada/internal/discovery"
	"bytemomo/armada/internal/domain"
	"bytemomo/armada/internal/metrics"
	"bytemomo/armada/internal/registry"
	"bytemomo/armada/internal/runner"
	"bytemomo/armada/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

const metricsFile = "metrics.prom"

type options struct {
	suitePath string
	sdkDir    string
	outDir    string
	devices   string
	all       bool
	dbPath    string
	logFile   string
}

func main() {
	var (
		suitePath = flag.String("suite", "", "Path to suite YAML (required unless -serve)")
		sdkDir    = flag.String("sdk", defaultSDK(), "Android SDK directory, adb is taken from <sdk>/platform-tools")
		outDir    = flag.String("out", "", "Output directory, overrides run.output. It is wiped before each run")
		devices   = flag.String("devices", "", "Comma-separated device serials, added to the suite's devices")
		all       = flag.Bool("all", false, "Also run on every device the discovery services can see")
		dbPath    = flag.String("db", "", "SQLite run history, overrides sinks.sqlite.path")
		serve     = flag.String("serve", "", "Serve run history from -db on this address instead of running a suite")
		logLevel  = flag.String("log-level", "info", "Log level")
		logFile   = flag.String("log-file", "", "Also write JSON logs to this file. Keep it outside the output directory")
		help      = flag.Bool("help", false, "Print program usage")
	)
	flag.Parse()

	if *help || (*suitePath == "" && *serve == "") || (*serve != "" && *dbPath == "") {
		flag.Usage()
		os.Exit(2)
	}

	closer := logger.SetLoggerToStructured(logger.ParseLevel(*logLevel), *logFile)
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *serve != "" {
		if err := serveHistory(ctx, *serve, *dbPath); err != nil {
			logrus.WithError(err).Fatal("Failed to serve run history")
		}
		return
	}

	passed, err := run(ctx, options{
		suitePath: *suitePath,
		sdkDir:    *sdkDir,
		outDir:    *outDir,
		devices:   *devices,
		all:       *all,
		dbPath:    *dbPath,
		logFile:   *logFile,
	})
	if err != nil {
		logrus.WithError(err).Fatal("Failed to run suite")
	}
	if !passed {
		stop()
		closer.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) (bool, error) {
	log := logrus.WithFields(logrus.Fields{
		"suite_path": opts.suitePath,
	})
	log.Info("Starting suite")

	suite, err := yamlconfig.LoadSuite(opts.suitePath)
	if err != nil {
		return false, fmt.Errorf("could not load suite: %w", err)
	}
	applyOverrides(suite, opts)
	if err := suite.Validate(); err != nil {
		return false, fmt.Errorf("invalid suite: %w", err)
	}
	if domain.InsideDir(suite.Run.Output, opts.logFile) {
		return false, fmt.Errorf("log file %s is inside the output directory %s, which is wiped before each run", opts.logFile, suite.Run.Output)
	}
	log = log.WithField("suite_id", suite.ID)

	devices, err := resolveDevices(ctx, log, suite)
	if err != nil {
		return false, err
	}

	executor, err := newExecutor(log, suite, opts.sdkDir)
	if err != nil {
		return false, err
	}

	jsonReporter := jsonreport.New(suite.Run.Output)
	sinks, closeSinks, err := newSinks(log, suite, jsonReporter)
	if err != nil {
		return false, err
	}
	defer closeSinks()

	reg := prometheus.NewRegistry()
	r := runner.Runner{
		Log:      log,
		Executor: executor,
		Sinks:    sinks,
		Metrics:  metrics.NewCollector(reg),
	}

	outcome, err := r.Run(ctx, devices, suite.Run)
	if err != nil {
		return false, fmt.Errorf("failed run execution: %w", err)
	}
	if outcome.Empty() {
		return true, nil
	}

	path, err := jsonReporter.Aggregate(outcome)
	if err != nil {
		return false, fmt.Errorf("cannot report results: %w", err)
	}
	if err := prometheus.WriteToTextfile(filepath.Join(suite.Run.Output, metricsFile), reg); err != nil {
		log.WithError(err).Warn("Could not write metrics file")
	}

	c := outcome.Counts()
	log.WithFields(logrus.Fields{
		"run":         outcome.RunID,
		"report_path": path,
		"total":       c.Total,
		"passed":      c.Passed,
		"failed":      c.Failed,
		"timed_out":   c.TimedOut,
		"abandoned":   c.Abandoned,
	}).Info("Report written")
	return outcome.AllPassed(), nil
}

func applyOverrides(suite *domain.Suite, opts options) {
	if opts.outDir != "" {
		suite.Run.Output = opts.outDir
	}
	suite.Devices = append(suite.Devices, splitCSV(opts.devices)...)
	if opts.all {
		suite.IncludeDiscovered = true
	}
	if opts.dbPath != "" {
		suite.Sinks.SQLite = &domain.SQLiteSinkConfig{Path: opts.dbPath}
	}
}

func resolveDevices(ctx context.Context, log *logrus.Entry, suite *domain.Suite) (domain.DeviceSet, error) {
	base := domain.ExplicitDevices(suite.Devices...)
	if !suite.IncludeDiscovered {
		return base, nil
	}

	services, err := discovery.NewServices(log, suite.Discovery.Services)
	if err != nil {
		return base, fmt.Errorf("create discovery services: %w", err)
	}

	devices, err := registry.New(log, services...).Resolve(ctx, base, true)
	if errors.Is(err, domain.ErrDiscoveryUnavailable) && suite.Discovery.EffectivePolicy() == domain.UnavailableContinue {
		log.WithError(err).Warn("Continuing with the devices that could be resolved")
		return devices, nil
	}
	if err != nil {
		return base, fmt.Errorf("failed resolving devices: %w", err)
	}
	return devices, nil
}

func newExecutor(log *logrus.Entry, suite *domain.Suite, sdkDir string) (domain.Executor, error) {
	switch suite.Executor.EffectiveType() {
	case "instrument":
		adb := instrument.ADBPath(sdkDir)
		if suite.Executor.Instrument != nil && suite.Executor.Instrument.ADB != "" {
			adb = suite.Executor.Instrument.ADB
		}
		return instrument.New(log, adb), nil
	case "grpc":
		return grpcagent.New(log, suite.Executor.GRPC.Server), nil
	default:
		return nil, fmt.Errorf("unknown executor type: %s", suite.Executor.Type)
	}
}

func newSinks(log *logrus.Entry, suite *domain.Suite, jsonReporter *jsonreport.Writer) ([]domain.ResultSink, func(), error) {
	sinks := []domain.ResultSink{jsonReporter}
	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				log.WithError(err).Warn("Closing sink failed")
			}
		}
	}

	if cfg := suite.Sinks.SQLite; cfg != nil {
		st, err := store.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open run history: %w", err)
		}
		sinks = append(sinks, st)
		closers = append(closers, st)
	}

	if cfg := suite.Sinks.MQTT; cfg != nil {
		pub, err := mqttevents.Dial(log, *cfg)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("connect mqtt sink: %w", err)
		}
		sinks = append(sinks, pub)
		closers = append(closers, pub)
	}

	return sinks, closeAll, nil
}

func serveHistory(ctx context.Context, addr, dbPath string) error {
	st, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("open run history: %w", err)
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return api.NewServer(addr, st, reg, logrus.WithField("component", "api")).Run(ctx)
}

func defaultSDK() string {
	if v := os.Getenv("ANDROID_HOME"); v != "" {
		return v
	}
	return os.Getenv("ANDROID_SDK_ROOT")
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	zaplogfmt "github.com/sykesm/zap-logfmt"
	"github.com/thecodeteam/goodbye"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/simplesurance/mergetrain/internal/cfg"
	"github.com/simplesurance/mergetrain/internal/distributor"
	"github.com/simplesurance/mergetrain/internal/event"
	"github.com/simplesurance/mergetrain/internal/githubclt"
	"github.com/simplesurance/mergetrain/internal/logfields"
	"github.com/simplesurance/mergetrain/internal/pipeline"
	"github.com/simplesurance/mergetrain/internal/provider/github"
	"github.com/simplesurance/mergetrain/internal/retryer"
	"github.com/simplesurance/mergetrain/internal/stringutils"
	"github.com/simplesurance/mergetrain/internal/supervisor"
	"github.com/simplesurance/mergetrain/internal/worker"
)

const appName = "mergetrain"

var logger *zap.Logger

// Version is set via a ldflag on compilation
var Version = "unknown"

func exitOnErr(msg string, err error) {
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "ERROR:", msg+", error:", err.Error())
	os.Exit(1)
}

func panicHandler() {
	if r := recover(); r != nil {
		logger.Info(
			"panic caught , terminating gracefully",
			zap.String("panic", fmt.Sprintf("%v", r)),
			zap.StackSkip("stacktrace", 1),
		)

		ctx, cancelFn := context.WithTimeout(context.Background(), time.Minute)
		defer cancelFn()

		goodbye.Exit(ctx, 1)
	}
}

func startHTTPServer(listenAddr string, mux *http.ServeMux, tls bool, certFile, keyFile string) {
	proto := "http"
	if tls {
		proto = "https"
	}

	srv := http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: time.Minute,
	}

	goodbye.Register(func(context.Context, os.Signal) {
		const shutdownTimeout = 30 * time.Second
		ctx, cancelFn := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelFn()

		logger.Debug(
			fmt.Sprintf("terminating %s server", proto),
			logfields.Event(proto+"_server_terminating"),
			zap.Duration("shutdown_timeout", shutdownTimeout),
		)

		err := srv.Shutdown(ctx)
		if err != nil {
			logger.Warn(
				fmt.Sprintf("shutting down %s server failed", proto),
				logfields.Event(proto+"_server_termination_failed"),
				zap.Error(err),
			)
		}
	})

	go func() {
		defer panicHandler()

		logger.Info(
			fmt.Sprintf("%s server started", proto),
			logfields.Event(proto+"_server_started"),
			zap.String("listenAddr", listenAddr),
		)

		var err error
		if tls {
			err = srv.ListenAndServeTLS(certFile, keyFile)
		} else {
			err = srv.ListenAndServe()
		}

		if errors.Is(err, http.ErrServerClosed) {
			logger.Info(
				fmt.Sprintf("%s server terminated", proto),
				logfields.Event(proto+"_server_terminated"),
			)
			return
		}

		logger.Fatal(
			fmt.Sprintf("%s server terminated unexpectedly", proto),
			logfields.Event(proto+"_server_terminated_unexpectedly"),
			zap.Error(err),
		)
	}()
}

type arguments struct {
	Verbose     *bool
	ConfigFile  *string
	EnvFile     *string
	ShowVersion *bool
}

var args arguments

const defConfigFile = "/etc/mergetrain/config.toml"

func mustParseCommandlineParams() {
	args = arguments{
		Verbose: pflag.BoolP(
			"verbose",
			"v",
			false,
			"enable verbose logging",
		),
		ConfigFile: pflag.StringP(
			"cfg-file",
			"c",
			defConfigFile,
			"path to the mergetrain configuration file",
		),
		EnvFile: pflag.StringP(
			"env-file",
			"e",
			"",
			"path to a file defining "+cfg.EnvGithubAPIToken+" and "+cfg.EnvGithubWebhookSecret+" environment variables",
		),
		ShowVersion: pflag.Bool(
			"version",
			false,
			"print the version and exit",
		),
	}

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTION]\nMerge approved GitHub pull requests one at a time after they passed CI.\n", appName)
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()
}

func mustParseCfg() *cfg.Config {
	// we use exitOnErr in this function instead of logger.Fatal() because
	// the logger is not initialized yet

	file, err := os.Open(*args.ConfigFile)
	exitOnErr("could not open configuration files", err)
	defer file.Close()

	config, err := cfg.Load(file)
	if err != nil {
		exitOnErr(fmt.Sprintf("could not load configuration file: %s", *args.ConfigFile), err)
	}

	if *args.EnvFile != "" {
		err := cfg.LoadEnvFile(*args.EnvFile)
		exitOnErr(fmt.Sprintf("could not load env file: %s", *args.EnvFile), err)
	}

	config.OverrideFromEnv()

	return config
}

func initLogFmtLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zapEncoderConfig(config)

	logger := zap.New(zapcore.NewCore(
		zaplogfmt.NewEncoder(cfg),
		os.Stdout,
		logLevel),
	)

	return logger
}

func zapEncoderConfig(config *cfg.Config) zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()

	cfg.LevelKey = "loglevel"
	cfg.TimeKey = config.LogTimeKey
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder

	return cfg
}

func mustInitZapFormatLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Sampling = nil
	cfg.EncoderConfig = zapEncoderConfig(config)
	cfg.OutputPaths = []string{"stdout"}
	cfg.Encoding = config.LogFormat
	cfg.Level = zap.NewAtomicLevelAt(logLevel)

	logger, err := cfg.Build()
	exitOnErr("could not initialize logger", err)

	return logger
}

func mustInitLogger(config *cfg.Config) {
	var logLevel zapcore.Level
	if *args.Verbose {
		logLevel = zapcore.DebugLevel
	} else {
		if err := (&logLevel).Set(config.LogLevel); err != nil {
			fmt.Fprintf(os.Stderr, "can not set log level to %q: %s \n", config.LogLevel, err)
			os.Exit(2)
		}
	}

	switch config.LogFormat {
	case "logfmt":
		logger = initLogFmtLogger(config, logLevel)
	case "console", "json":
		logger = mustInitZapFormatLogger(config, logLevel)
	default:
		fmt.Fprintf(os.Stderr, "unsupported log-format argument: %q\n", config.LogFormat)
		os.Exit(2)
	}

	logger = logger.Named("main")
	zap.ReplaceGlobals(logger)

	goodbye.Register(func(context.Context, os.Signal) {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "flushing logs failed: %s\n", err)
		}
	})
}

func repositoriesString(repos []*cfg.Repository) string {
	var result strings.Builder

	for _, repo := range repos {
		var sb strings.Builder

		sb.WriteString(fmt.Sprintf("reviewers: %s\n", strings.Join(repo.Reviewers, ", ")))
		sb.WriteString(fmt.Sprintf("default_priority: %d\n", repo.DefaultPriority))
		if repo.BuildTimeout != "" {
			sb.WriteString(fmt.Sprintf("build_timeout: %s\n", repo.BuildTimeout))
		}
		if jq := repo.StatusFilter(); jq != "" {
			sb.WriteString(fmt.Sprintf("build_status_filter: %s\n", jq))
		}
		sb.WriteString(fmt.Sprintf("worker: %s", repo.Worker["type"]))

		result.WriteString(repo.String() + ":\n")
		result.WriteString(stringutils.IndentString(sb.String(), "  "))
		result.WriteString("\n")
	}

	return result.String()
}

// stopper is implemented by workers that run background jobs.
type stopper interface {
	Stop()
}

func mustStartPipelines(
	config *cfg.Config,
	sv *supervisor.Supervisor,
	provider pipeline.Provider,
	dist *distributor.Distributor,
	ghOpts *[]github.Option,
) (stoppers []stopper) {
	for _, repo := range config.Repositories {
		repoID := event.RepositoryID{Owner: repo.Owner, Name: repo.Name}

		w, err := worker.New(repo.Branch, repo.Worker, dist)
		exitOnErr(fmt.Sprintf("repository %s: creating worker failed", repo), err)

		if s, ok := w.(stopper); ok {
			stoppers = append(stoppers, s)
		}

		buildTimeout, err := repo.BuildTimeoutDuration()
		exitOnErr(fmt.Sprintf("repository %s", repo), err)

		if jq := repo.StatusFilter(); jq != "" {
			filter, err := github.NewBuildStatusFilter(jq)
			exitOnErr(fmt.Sprintf("repository %s: build_status_filter", repo), err)

			*ghOpts = append(*ghOpts, github.WithBuildStatusFilter(repoID, filter))
		}

		err = sv.StartPipeline(supervisor.Spec{
			Config: pipeline.Config{
				Repository:   repoID,
				Branch:       repo.Branch,
				Reviewers:    repo.Reviewers,
				Commands:     pipeline.NewCommandParser(repo.CommandPrefix, repo.ApproveCommand, repo.UnapproveCommand),
				Prioritizer:  &pipeline.DefaultPrioritizer{Default: repo.DefaultPriority},
				BuildTimeout: buildTimeout,
			},
			Provider: provider,
			Worker:   w,
		})
		exitOnErr(fmt.Sprintf("repository %s: starting pipeline failed", repo), err)
	}

	return stoppers
}

func main() {
	defer panicHandler()

	defer goodbye.Exit(context.Background(), 1)
	goodbye.Notify(context.Background())

	mustParseCommandlineParams()

	if *args.ShowVersion {
		fmt.Printf("%s %s\n", appName, Version)
		os.Exit(0) // nolint:gocritic // defer functions won't run
	}

	config := mustParseCfg()

	mustInitLogger(config)

	logger.Info(
		"loaded cfg file",
		logfields.Event("cfg_loaded"),
		zap.String("cfg_file", *args.ConfigFile),
		zap.String("http_server_listen_addr", config.HTTPListenAddr),
		zap.String("https_server_listen_addr", config.HTTPSListenAddr),
		zap.String("github_webhook_endpoint", config.HTTPGithubWebhookEndpoint),
		zap.String("status_endpoint", config.HTTPStatusEndpoint),
		zap.String("prometheus_metrics_endpoint", config.HTTPMetricsEndpoint),
		zap.String("github_webhook_secret", stringutils.Hide(config.GithubWebHookSecret)),
		zap.String("github_api_token", stringutils.Hide(config.GithubAPIToken)),
		zap.String("log_format", config.LogFormat),
		zap.String("log_time_key", config.LogTimeKey),
		zap.String("log_level", config.LogLevel),
		zap.Bool("dry_run", config.DryRun),
		zap.Int("event_buffer_size", config.EventBufferSize),
		zap.String("repositories", repositoriesString(config.Repositories)),
	)

	goodbye.Register(func(_ context.Context, sig os.Signal) {
		logger.Info(fmt.Sprintf("terminating, received signal %s", sig.String()))
	})

	var provider pipeline.Provider = githubclt.New(config.GithubAPIToken)
	if config.DryRun {
		provider = pipeline.NewDryProvider(provider, logger)
	}

	dist := distributor.New(config.EventBufferSize)
	rt := retryer.New()
	sv := supervisor.New(dist, rt)

	var ghOpts []github.Option
	ghOpts = append(ghOpts, github.WithPayloadSecret(config.GithubWebHookSecret))

	workers := mustStartPipelines(config, sv, provider, dist, &ghOpts)

	goodbye.Register(func(context.Context, os.Signal) {
		logger.Debug("stopping retryer", logfields.Event("retryer_stopping"))
		rt.Stop()
		logger.Debug("stopping supervisor", logfields.Event("supervisor_stopping"))
		sv.Stop()
		logger.Debug("supervisor stopped", logfields.Event("supervisor_stopped"))
		for _, w := range workers {
			w.Stop()
		}
		logger.Debug("workers stopped", logfields.Event("workers_stopped"))
	})

	gh := github.New(dist, ghOpts...)

	mux := http.NewServeMux()

	mux.HandleFunc(config.HTTPGithubWebhookEndpoint, gh.HTTPHandler)
	logger.Info(
		"registered github webhook event http endpoint",
		logfields.Event("github_http_handler_registered"),
		zap.String("endpoint", config.HTTPGithubWebhookEndpoint),
	)

	mux.Handle(config.HTTPMetricsEndpoint, promhttp.Handler())
	logger.Info(
		"registered prometheus metrics http endpoint",
		logfields.Event("prometheus_http_handler_registered"),
		zap.String("endpoint", config.HTTPMetricsEndpoint),
	)

	mux.HandleFunc(config.HTTPStatusEndpoint, sv.HTTPHandlerList)
	logger.Info(
		"registered status http endpoint",
		logfields.Event("status_http_handler_registered"),
		zap.String("endpoint", config.HTTPStatusEndpoint),
	)

	if config.HTTPListenAddr != "" {
		startHTTPServer(config.HTTPListenAddr, mux, false, "", "")
	}

	if config.HTTPSListenAddr != "" {
		startHTTPServer(config.HTTPSListenAddr, mux, true, config.HTTPSCertFile, config.HTTPSKeyFile)
	}

	waitForever()
}

func waitForever() {
	select {}
}

package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	lua "github.com/yuin/gopher-lua"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/NetPo4ki/isothread/config"
	otelobs "github.com/NetPo4ki/isothread/observe/otel"
	"github.com/NetPo4ki/isothread/observe/prom"
	"github.com/NetPo4ki/isothread/pthread"
	"github.com/NetPo4ki/isothread/refcount"
	"github.com/NetPo4ki/isothread/thread"
)

type runOptions struct {
	configPath    string
	maxThreads    int
	logLevel      string
	metricsListen string
}

func newRunCommand() *cobra.Command {
	var o runOptions
	cmd := &cobra.Command{
		Use:   "run [flags] SCRIPT [ARG...]",
		Short: "Run a script",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.load(cmd)
			if err != nil {
				return err
			}
			return runScript(cmd.Context(), cfg, args[0], args[1:])
		},
	}
	flags := cmd.Flags()
	flags.SetInterspersed(false)
	flags.StringVarP(&o.configPath, "config", "c", "isothread.toml", "configuration file")
	flags.IntVar(&o.maxThreads, "max-threads", 0, "maximum number of live threads (0 for no limit)")
	flags.StringVar(&o.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&o.metricsListen, "metrics-listen", "", "serve Prometheus metrics on this address")
	return cmd
}

// load reads the configuration file and applies the flags the user set.
func (o *runOptions) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("max-threads") {
		if o.maxThreads < 0 {
			return nil, errors.New("--max-threads must not be negative")
		}
		cfg.Threads.Max = o.maxThreads
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if flags.Changed("metrics-listen") {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = o.metricsListen
	}
	return cfg, nil
}

func newLogger(c config.LogCfg) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if c.Level != "" {
		lvl, err := zap.ParseAtomicLevel(c.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = lvl
	}
	return zc.Build()
}

// serveMetrics starts the metrics endpoint and returns the observer feeding
// it plus a shutdown function.
func serveMetrics(c config.MetricsCfg, log *zap.Logger) (*prom.Metrics, func(), error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := prom.New(c.Namespace, reg)
	if err != nil {
		return nil, nil, err
	}
	ln, err := net.Listen("tcp", c.Listen)
	if err != nil {
		return nil, nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", ln.Addr().String()))
	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return m, shutdown, nil
}

func runScript(ctx context.Context, cfg *config.Config, script string, args []string) error {
	log, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	thread.SetLogger(log)
	refcount.SetLogger(log)

	defaults, err := cfg.Threads.Defaults.Attr()
	if err != nil {
		return err
	}
	observers := []thread.Observer{otelobs.New()}
	if cfg.Metrics.Enabled {
		m, shutdown, err := serveMetrics(cfg.Metrics, log)
		if err != nil {
			return err
		}
		defer shutdown()
		observers = append(observers, m)
	}

	sp := pthread.NewSpawner(
		thread.WithObserver(thread.Observers(observers...)),
		thread.WithMaxThreads(cfg.Threads.Max),
		thread.WithIsolateOptions(cfg.Isolate.IsolateOptions()),
		thread.WithDefaults(defaults),
	)
	root, err := sp.NewIsolate()
	if err != nil {
		return err
	}
	defer root.Close()

	ctx, span := otel.Tracer("github.com/NetPo4ki/isothread").Start(ctx, "run")
	defer span.End()

	L := root.State()
	argv := L.NewTable()
	argv.RawSetInt(0, lua.LString(script))
	for i, a := range args {
		argv.RawSetInt(i+1, lua.LString(a))
	}
	L.SetGlobal("arg", argv)

	fn, err := L.LoadFile(script)
	if err != nil {
		return err
	}
	root.SetContext(ctx)
	log.Debug("running script", zap.String("script", script), zap.Int("args", len(args)))
	return L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, luaArgs(args)...)
}

func luaArgs(args []string) []lua.LValue {
	vs := make([]lua.LValue, len(args))
	for i, a := range args {
		vs[i] = lua.LString(a)
	}
	return vs
}

package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"ringlog/config"
	"ringlog/server"
	"ringlog/storage"
)

// Flag name to config key.
var flagKeys = map[string]string{
	"addr":         "server.addr",
	"metrics-addr": "server.metrics_addr",
	"max-conns":    "server.max_conns",
	"max-line":     "server.max_line_length",
	"backend":      "store.backend",
	"path":         "store.path",
	"capacity":     "store.capacity",
	"log-level":    "log.level",
	"daemon":       "daemon",
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "ringlog",
		Short:         "Line log socket daemon",
		Long:          "ringlog appends every newline-terminated line received on its TCP port to a shared log and sends the whole log back.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := loadViper(cmd, configPath)

			if err != nil {
				return err
			}

			return run(cmd.Context(), v)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Path to a YAML config file")
	flags.String("addr", server.DefaultAddr, "Listen address")
	flags.String("metrics-addr", "", "Prometheus metrics address (empty disables)")
	flags.Int("max-conns", 0, "Maximum concurrently served connections (0 means unlimited)")
	flags.Int("max-line", server.DefaultMaxLineLength, "Maximum bytes in one received line; longer lines close the connection")
	flags.String("backend", config.BackendFile, "Store backend: file|memory")
	flags.String("path", storage.DefaultDataFile, "Data file of the file backend")
	flags.Int("capacity", storage.DefaultCapacity, "Records kept by the memory backend")
	flags.String("log-level", "info", "Log level: debug|info|warn|error")
	flags.BoolP("daemon", "d", false, "Run in the background")

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := loadViper(cmd, configPath)

			if err != nil {
				return err
			}

			cfg, err := config.Load(v)

			if err != nil {
				return err
			}

			out, err := cfg.YAML()

			if err != nil {
				return err
			}

			_, err = cmd.OutOrStdout().Write(out)

			return err
		},
	}
	rootCmd.AddCommand(configCmd)

	return rootCmd
}

func loadViper(cmd *cobra.Command, configPath string) (*viper.Viper, error) {
	// The daemon changes its working directory.
	if configPath != "" {
		abs, err := filepath.Abs(configPath)

		if err != nil {
			return nil, errors.Wrap(err, "resolve config path")
		}

		configPath = abs
	}

	v, err := config.NewViper(configPath)

	if err != nil {
		return nil, err
	}

	for name, key := range flagKeys {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return nil, errors.Wrapf(err, "bind flag %s", name)
		}
	}

	return v, nil
}

func run(ctx context.Context, v *viper.Viper) error {
	cfg, err := config.Load(v)

	if err != nil {
		return err
	}

	logger, err := newLogger(os.Stdout, cfg.Daemon, cfg.Log.Level)

	if err != nil {
		return err
	}

	if cfg.Daemon && !isDaemonChild() {
		if err := daemonize(logger, cfg.Server.Addr); err != nil {
			level.Error(logger).Log("msg", "daemonize", "err", err)
			return err
		}

		return nil
	}

	if v.ConfigFileUsed() != "" {
		config.Watch(v, logger, func(cfg *config.Config) {
			if err := logger.SetLevel(cfg.Log.Level); err != nil {
				level.Error(logger).Log("msg", "reload log level", "err", err)
			}
		})
	}

	if err := serve(ctx, logger, cfg); err != nil {
		level.Error(logger).Log("msg", "exiting", "err", err)
		return err
	}

	return nil
}

func serve(ctx context.Context, logger log.Logger, cfg *config.Config) error {
	var ln net.Listener

	if isDaemonChild() {
		inherited, err := detach(logger)

		if err != nil {
			return err
		}

		ln = inherited
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store, err := openStore(logger, registry, cfg.Store)

	if err != nil {
		if ln != nil {
			ln.Close()
		}

		return err
	}

	defer func() {
		if err := store.Close(); err != nil {
			level.Error(logger).Log("msg", "close store", "err", err)
		}
	}()

	srv := server.New(log.With(logger, "component", "server"), registry, store, server.Options{
		Addr:          cfg.Server.Addr,
		MaxConns:      cfg.Server.MaxConns,
		MaxLineLength: cfg.Server.MaxLineLength,
		ReadTimeout:   cfg.Server.ReadTimeout,
		WriteTimeout:  cfg.Server.WriteTimeout,
	})

	if ln != nil {
		srv.Attach(ln)
	} else if err := srv.Listen(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	context.AfterFunc(ctx, func() {
		level.Info(logger).Log("msg", "Caught signal, exiting")
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Serve(gctx)
	})

	if cfg.Server.MetricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, logger, cfg.Server.MetricsAddr, registry)
		})
	}

	return g.Wait()
}

func openStore(logger log.Logger, registerer prometheus.Registerer, options config.StoreOptions) (storage.Store, error) {
	logger = log.With(logger, "component", "storage")

	if options.Backend == config.BackendMemory {
		return storage.NewMemStore(logger, registerer, options.Capacity), nil
	}

	store, err := storage.NewFileStore(logger, registerer, storage.FileStoreOptions{
		Path:          options.Path,
		RemoveOnClose: true,
	})

	if err != nil {
		return nil, err
	}

	return store, nil
}

func serveMetrics(ctx context.Context, logger log.Logger, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() { srv.Close() })
	defer stop()

	level.Info(logger).Log("msg", "Serving metrics", "addr", addr)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "serve metrics")
	}

	return nil
}

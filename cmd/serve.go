package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"crimewatch/internal/anchor"
	"crimewatch/internal/api"
	"crimewatch/internal/config"
	"crimewatch/internal/core"
	"crimewatch/internal/db"
	"crimewatch/internal/events"
	"crimewatch/internal/ledger"
	"crimewatch/internal/metrics"
	"crimewatch/internal/storage"
	"crimewatch/internal/verification"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reporting API and the metrics endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

func init() {
	flags := serveCmd.Flags()
	flags.String("http-addr", ":8080", "API listen address")
	flags.String("metrics-addr", ":2112", "Prometheus listen address")
	bindFlag("http.addr", flags.Lookup("http-addr"))
	bindFlag("metrics.addr", flags.Lookup("metrics-addr"))
}

// closers run in reverse order of registration.
type closers []func()

func (c *closers) add(f func()) { *c = append(*c, f) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func serve(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	var cleanup closers
	defer cleanup.run()

	var (
		database core.Database
		store    verification.Store
	)
	switch cfg.DBDriver {
	case "postgres":
		pg, err := db.NewPostgresDB(cfg.DBDSN)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		cleanup.add(func() {
			if err := pg.Close(); err != nil {
				log.Warn("close postgres", zap.Error(err))
			}
		})
		database, store = pg, pg
	default:
		database, store = db.NewMemoryDB(), verification.NewMemoryStore()
	}

	var objects core.ObjectStorage
	switch cfg.StorageDriver {
	case "minio":
		m, err := storage.NewMinioStorage(ctx, cfg.Minio, log)
		if err != nil {
			return err
		}
		objects = m
	default:
		objects = storage.NewMemoryStorage("memory")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewRecorder(reg)

	ledgerOpts := []ledger.Option{
		ledger.WithLogger(log.Named("ledger")),
		ledger.WithSubmitObserver(recorder.Submitted),
		ledger.WithObserver(recorder.Settled),
	}
	observers := []core.Observer{recorder}

	var pub events.Publisher
	switch cfg.EventsDriver {
	case "kafka":
		pub = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	case "log":
		pub = events.NewLogPublisher(log.Named("events"))
	}
	if pub != nil {
		cleanup.add(func() {
			if err := pub.Close(); err != nil {
				log.Warn("close event publisher", zap.Error(err))
			}
		})
		notifier := events.NewNotifier(pub, log.Named("events"))
		ledgerOpts = append(ledgerOpts, ledger.WithObserver(notifier.Settled))
		observers = append(observers, notifier)
	}

	handler := &api.Handler{Log: log.Named("api")}

	var writer anchor.Writer
	switch cfg.AnchorDriver {
	case "mock":
		writer = anchor.NewMockWriter(0)
	case "fabric":
		fw, err := anchor.NewFabricWriter(cfg.Fabric)
		if err != nil {
			return err
		}
		cleanup.add(func() {
			if err := fw.Close(); err != nil {
				log.Warn("close fabric gateway", zap.Error(err))
			}
		})
		writer = fw
	}
	if writer != nil {
		batcher := anchor.NewBatcher(writer, cfg.AnchorBatchSize, cfg.AnchorMaxWait, log.Named("anchor"))
		cleanup.add(batcher.Close)
		ledgerOpts = append(ledgerOpts, ledger.WithObserver(batcher.Settled))
		handler.Anchors = batcher
	}

	sim, err := ledger.NewSimulator(cfg.Ledger, ledgerOpts...)
	if err != nil {
		return err
	}
	aggregator := verification.NewAggregator(store, log.Named("verification"))
	handler.Service = core.NewReportService(sim, aggregator, objects, database, log.Named("core"), observers...)

	apiSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, srv := range []*http.Server{apiSrv, metricsSrv} {
		if srv.Addr == "" {
			continue
		}
		g.Go(func() error {
			log.Info("listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(apiSrv.Shutdown(sctx), metricsSrv.Shutdown(sctx))
	})
	return g.Wait()
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/boyangli/homesense/action"
	"github.com/boyangli/homesense/calibration"
	"github.com/boyangli/homesense/config"
	"github.com/boyangli/homesense/ingestion"
	"github.com/boyangli/homesense/journal"
	"github.com/boyangli/homesense/metrics"
	"github.com/boyangli/homesense/pipeline"
	"github.com/boyangli/homesense/producer"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "⚠️  No .env file found, using environment variables")
	}

	pipelineName := flag.String("pipeline", pipeline.NameBody, "Pipeline: body, calibrated, ambient or co2")
	readingsPath := flag.String("readings", "body_temperature.csv", "Path to the readings CSV")
	meanPath := flag.String("mean", "bi-linear_tables.csv", "Path to the mean reference table")
	spreadPath := flag.String("spread", "bi-linear_tables_2.csv", "Path to the spread reference table")
	sensorID := flag.String("sensor", "", "Sensor id for readings files without a sensor column")
	target := flag.String("target", "", "Only process readings of this sensor")
	configPath := flag.String("config", "", "Optional YAML pipeline configuration")
	journalPath := flag.String("journal", "", "Journal CSV path (default <pipeline>_diary.csv)")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9102")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log := slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: level, TimeFormat: time.Kitchen}))
	slog.SetDefault(log)

	if err := run(log, options{
		pipeline:    *pipelineName,
		readings:    *readingsPath,
		mean:        *meanPath,
		spread:      *spreadPath,
		sensorID:    *sensorID,
		target:      *target,
		config:      *configPath,
		journal:     *journalPath,
		metricsAddr: *metricsAddr,
	}); err != nil {
		log.Error("❌ Monitor failed", "error", err)
		os.Exit(1)
	}
}

type options struct {
	pipeline    string
	readings    string
	mean        string
	spread      string
	sensorID    string
	target      string
	config      string
	journal     string
	metricsAddr string
}

func run(log *slog.Logger, opts options) error {
	cfg, err := config.LoadPipelineConfig(opts.config)
	if err != nil {
		return err
	}
	format, err := ingestion.ParseFormat(opts.pipeline)
	if err != nil {
		return err
	}
	if opts.journal == "" {
		opts.journal = opts.pipeline + "_diary.csv"
	}

	log.Info("╔═══════════════════════════════════════════════════════════╗")
	log.Info("║   HomeSense - Calibration & Anomaly Monitor               ║")
	log.Info("╚═══════════════════════════════════════════════════════════╝")
	log.Info("Configuration", "pipeline", opts.pipeline, "readings", opts.readings, "journal", opts.journal,
		"window", cfg.ReferenceWindow.Mode, "pacing_min", time.Duration(cfg.Pacing.Min), "pacing_max", time.Duration(cfg.Pacing.Max))

	var ref *calibration.Reference
	if pipeline.NeedsReference(opts.pipeline) {
		ref, err = calibration.LoadReference(opts.mean, opts.spread, cfg.SensorPatterns...)
		if err != nil {
			return fmt.Errorf("load reference tables: %w", err)
		}
		for id, ferr := range ref.Failures() {
			log.Warn("⚠️  Sensor unusable for calibration", "sensor", id, "error", ferr)
		}
		log.Info("📐 Reference tables loaded", "sensors", ref.SensorIDs())
	}

	evaluator, err := pipeline.New(opts.pipeline, cfg, ref)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if opts.metricsAddr != "" {
		srv := serveMetrics(log, opts.metricsAddr, collector)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// Journal: always the CSV diary, plus Kafka when a broker is configured
	csvJournal, err := journal.OpenCSV(opts.journal)
	if err != nil {
		return err
	}
	defer csvJournal.Close()
	sinks := journal.Multi{csvJournal}

	kafkaConfig := config.NewKafkaConfig()
	var kafkaProducer *producer.KafkaProducer
	if kafkaConfig.Enabled() {
		kafkaProducer, err = producer.NewKafkaProducer(kafkaConfig, log)
		if err != nil {
			return err
		}
		defer kafkaProducer.Close()
		sinks = append(sinks, kafkaProducer)
	}

	// Actions: always logged, published over MQTT when a broker is configured
	var actionSink action.Sink = action.NewLogSink(log)
	mqttConfig := config.NewMQTTConfig()
	if mqttConfig.Enabled() {
		client, err := action.ConnectMQTT(mqttConfig, log)
		if err != nil {
			return err
		}
		defer client.Disconnect(250)
		actionSink = action.MultiSink{actionSink, action.NewMQTTSink(client, mqttConfig, log)}
	}

	pause := action.NewRandomPause(time.Duration(cfg.Pacing.Min), time.Duration(cfg.Pacing.Max))
	dispatcher := action.NewDispatcher(actionSink, pause, log, collector)
	session := pipeline.NewSession(evaluator, dispatcher, sinks, collector, log)

	reader := ingestion.NewCSVReader(opts.readings, format,
		ingestion.WithSensorID(opts.sensorID),
		ingestion.WithTarget(opts.target),
		ingestion.WithLogger(log))

	rows := make(chan ingestion.Row, 100)
	readErr := make(chan error, 1)
	go func() {
		readErr <- reader.StreamToChannel(ctx, rows)
		close(rows)
	}()

	startTime := time.Now()
	log.Info("🌊 Session started", "session", session.ID)
	report, runErr := session.Run(ctx, rows)
	if runErr != nil {
		stop()
		// drain so the reader goroutine can exit
		for range rows {
		}
	}
	if err := <-readErr; err != nil && !errors.Is(err, context.Canceled) {
		runErr = errors.Join(runErr, err)
	}

	log.Info("═══════════════════════════════════════════════════════════")
	log.Info("                    FINAL REPORT")
	log.Info("═══════════════════════════════════════════════════════════")
	log.Info("✅ Readings classified", "processed", report.Processed)
	for label, n := range report.Labels {
		log.Info("🏷️  Band", "label", label, "count", n)
	}
	log.Info("🤖 Actions", "invoked", report.ActionsInvoked, "failed", report.ActionFailures)
	log.Info("⚠️  Readings skipped", "skipped", report.Skipped)
	for _, sk := range report.Skips {
		log.Info("   skipped row", "line", sk.Line, "sensor", sk.SensorID, "reason", sk.Reason)
	}
	if kafkaProducer != nil {
		kafkaProducer.LogMetrics()
	}
	log.Info("⏱️  Total time", "elapsed", time.Since(startTime))
	log.Info("═══════════════════════════════════════════════════════════")

	if errors.Is(runErr, context.Canceled) {
		log.Info("🛑 Received shutdown signal")
		return nil
	}
	return runErr
}

func serveMetrics(log *slog.Logger, addr string, collector *metrics.Collector) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("📈 Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}

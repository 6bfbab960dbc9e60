package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"

	"github.com/boyangli/homesense/action"
	"github.com/boyangli/homesense/calibration"
	"github.com/boyangli/homesense/config"
	"github.com/boyangli/homesense/ingestion"
	"github.com/boyangli/homesense/journal"
	"github.com/boyangli/homesense/models"
	"github.com/boyangli/homesense/pipeline"
)

// printSink writes the first limit records to stdout as JSON
type printSink struct {
	limit int
	count int
}

func (p *printSink) Append(rec models.Record) error {
	p.count++
	if p.count > p.limit {
		return nil
	}
	data, err := rec.ToJSON()
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	fmt.Println("───────────────────────────────────────────────────────────")
	return nil
}

// Lightweight run without Kafka, MQTT or pacing
func main() {
	pipelineName := flag.String("pipeline", pipeline.NameBody, "Pipeline: body, calibrated, ambient or co2")
	readingsPath := flag.String("readings", "body_temperature.csv", "Path to the readings CSV")
	meanPath := flag.String("mean", "bi-linear_tables.csv", "Path to the mean reference table")
	spreadPath := flag.String("spread", "bi-linear_tables_2.csv", "Path to the spread reference table")
	sensorID := flag.String("sensor", "", "Sensor id for readings files without a sensor column")
	configPath := flag.String("config", "", "Optional YAML pipeline configuration")
	limit := flag.Int("limit", 10, "Number of records to display")
	flag.Parse()

	log := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelWarn}))

	log.Warn("╔═══════════════════════════════════════════════════════════╗")
	log.Warn("║        DRY-RUN (no Kafka, no MQTT, no pacing)            ║")
	log.Warn("╚═══════════════════════════════════════════════════════════╝")

	cfg, err := config.LoadPipelineConfig(*configPath)
	if err != nil {
		log.Error("❌ Invalid configuration", "error", err)
		os.Exit(1)
	}
	format, err := ingestion.ParseFormat(*pipelineName)
	if err != nil {
		log.Error("❌ Unknown pipeline", "error", err)
		os.Exit(1)
	}

	var ref *calibration.Reference
	if pipeline.NeedsReference(*pipelineName) {
		ref, err = calibration.LoadReference(*meanPath, *spreadPath, cfg.SensorPatterns...)
		if err != nil {
			log.Error("❌ Failed to load reference tables", "error", err)
			os.Exit(1)
		}
		for id, ferr := range ref.Failures() {
			log.Warn("⚠️  Sensor unusable for calibration", "sensor", id, "error", ferr)
		}
	}

	evaluator, err := pipeline.New(*pipelineName, cfg, ref)
	if err != nil {
		log.Error("❌ Failed to build pipeline", "error", err)
		os.Exit(1)
	}

	out := &printSink{limit: *limit}
	var mem journal.Memory
	dispatcher := action.NewDispatcher(action.NewLogSink(log), action.NoPause{}, log, nil)
	session := pipeline.NewSession(evaluator, dispatcher, journal.Multi{out, &mem}, nil, log)

	rows, err := ingestion.NewCSVReader(*readingsPath, format,
		ingestion.WithSensorID(*sensorID),
		ingestion.WithLogger(log)).ReadAll()
	if err != nil {
		log.Error("❌ Failed to read readings", "error", err)
		os.Exit(1)
	}

	startTime := time.Now()
	for _, row := range rows {
		if err := session.Handle(context.Background(), row); err != nil {
			log.Error("❌ Session stopped", "error", err)
			os.Exit(1)
		}
	}
	elapsed := time.Since(startTime)
	report := session.Report()

	fmt.Println("\n📊 DRY-RUN STATISTICS:")
	fmt.Println("═══════════════════════════════════════════════════════════")
	fmt.Printf("✅ Records: %d\n", len(mem.Records()))
	for label, n := range report.Labels {
		fmt.Printf("🏷️  %s: %d\n", label, n)
	}
	fmt.Printf("🤖 Actions: %d\n", report.ActionsInvoked)
	fmt.Printf("⚠️  Skipped: %d\n", report.Skipped)
	for _, sk := range report.Skips {
		fmt.Printf("   line %d (%s): %s\n", sk.Line, sk.SensorID, sk.Reason)
	}
	fmt.Printf("⏱️  Time: %v\n", elapsed)
	fmt.Println("═══════════════════════════════════════════════════════════")
}

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"responder/config"
	"responder/internal/actuator"
	"responder/internal/classify"
	"responder/internal/correlate"
	"responder/internal/engine"
	"responder/internal/escalate"
	"responder/internal/indicator"
	inputredis "responder/internal/input/redis"
	"responder/internal/lifecycle"
	"responder/internal/logger"
	"responder/internal/metrics"
	"responder/internal/notify"
	"responder/internal/output/incidentclickhouse"
	"responder/internal/output/incidentjson"
	"responder/internal/output/incidentpg"
	"responder/internal/pipeline"
	"responder/internal/playbook"
	"responder/internal/rules"
	"responder/internal/store"
	"responder/pkg/models"
)

func findConfigFile(configArg string) string {
	if configArg != "" {
		path := configArg
		if _, err := os.Stat(path); err == nil {
			return path
		}
		log.Printf("Warning: config file not found at %s, trying default locations", path)
	}

	if _, err := os.Stat("responder.yml"); err == nil {
		return "responder.yml"
	}

	exePath, err := os.Executable()
	if err == nil {
		exeDir := filepath.Dir(exePath)
		path := filepath.Join(exeDir, "responder.yml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return "responder.yml"
}

func applyDefaults(cfg *config.Config) {
	if cfg.Responder.Input.Redis.Addr == "" {
		cfg.Responder.Input.Redis.Addr = "127.0.0.1:6379"
	}
	if cfg.Responder.Input.Redis.Key == "" {
		cfg.Responder.Input.Redis.Key = "security_events"
	}
	if cfg.Responder.Input.Redis.BlockTimeout == 0 {
		cfg.Responder.Input.Redis.BlockTimeout = 5 * time.Second
	}

	if cfg.Responder.Pipeline.Workers <= 0 {
		cfg.Responder.Pipeline.Workers = 8
	}
	if cfg.Responder.Pipeline.BatchSize <= 0 {
		cfg.Responder.Pipeline.BatchSize = 100
	}
	if cfg.Responder.Pipeline.FlushInterval <= 0 {
		cfg.Responder.Pipeline.FlushInterval = 2 * time.Second
	}

	if cfg.Responder.Correlation.Window <= 0 {
		cfg.Responder.Correlation.Window = 5 * time.Minute
	}

	def := escalate.DefaultThresholds()
	if cfg.Responder.Escalation.High <= 0 {
		cfg.Responder.Escalation.High = def.High
	}
	if cfg.Responder.Escalation.Medium <= 0 {
		cfg.Responder.Escalation.Medium = def.Medium
	}
	if cfg.Responder.Escalation.Low <= 0 {
		cfg.Responder.Escalation.Low = def.Low
	}

	if cfg.Responder.Archive.Mode == "" {
		cfg.Responder.Archive.Mode = "file"
	}
	if cfg.Responder.Archive.File.Path == "" {
		cfg.Responder.Archive.File.Path = "output/incidents.jsonl"
	}
	if cfg.Responder.Archive.ClickHouse.Database == "" {
		cfg.Responder.Archive.ClickHouse.Database = "responder"
	}
	if cfg.Responder.Archive.ClickHouse.Table == "" {
		cfg.Responder.Archive.ClickHouse.Table = "incidents"
	}

	if cfg.Responder.Metrics.Addr == "" {
		cfg.Responder.Metrics.Addr = ":9215"
	}

	if cfg.Responder.Logging.Level == "" {
		cfg.Responder.Logging.Level = "info"
	}
}

func runServer(args []string) {
	configArg := ""
	if len(args) > 0 {
		configArg = args[0]
	}

	configPath := findConfigFile(configArg)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyDefaults(cfg)

	if err := logger.Init(cfg.Responder.Logging.Enabled, cfg.Responder.Logging.Level, cfg.Responder.Logging.File, cfg.Responder.Logging.Console); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Infof("Responder starting")
	logger.Infof("Config loaded from: %s", configPath)

	consumer, err := inputredis.NewConsumer(inputredis.Config{
		Addr:         cfg.Responder.Input.Redis.Addr,
		Password:     cfg.Responder.Input.Redis.Password,
		DB:           cfg.Responder.Input.Redis.DB,
		Key:          cfg.Responder.Input.Redis.Key,
		BlockTimeout: cfg.Responder.Input.Redis.BlockTimeout,
	})
	if err != nil {
		logger.Errorf("Failed to create Redis consumer: %v", err)
		log.Fatalf("Failed to create Redis consumer: %v", err)
	}

	var ruleEngine rules.Engine
	if cfg.Responder.Rules.Enabled {
		if strings.TrimSpace(cfg.Responder.Rules.Path) == "" {
			logger.Warnf("Rules enabled but rules.path is empty; Sigma tagging disabled")
		} else {
			sigmaEngine, stats, err := rules.NewSigmaEngine(cfg.Responder.Rules.Path)
			if err != nil {
				logger.Errorf("Failed to load Sigma rules from %s: %v", cfg.Responder.Rules.Path, err)
				log.Fatalf("Failed to load Sigma rules: %v", err)
			}
			ruleEngine = sigmaEngine
			logger.Infof("Sigma rules loaded: loaded=%d skipped_complex=%d skipped_invalid=%d files=%d",
				stats.Loaded, stats.SkippedComplex, stats.SkippedInvalid, stats.TotalFiles)
			if stats.Loaded == 0 {
				logger.Warnf("No compatible Sigma rules loaded; Sigma tagging is effectively disabled")
			}
		}
	}

	table := classify.DefaultTable()
	if path := strings.TrimSpace(cfg.Responder.Classifier.Path); path != "" {
		table, err = classify.LoadTable(path)
		if err != nil {
			logger.Errorf("Failed to load classifier table: %v", err)
			log.Fatalf("Failed to load classifier table: %v", err)
		}
		logger.Infof("Classifier table loaded from %s (%d rules)", path, len(table.Rules()))
	}

	playbooks := playbook.DefaultLibrary()
	if path := strings.TrimSpace(cfg.Responder.Playbooks.Path); path != "" {
		playbooks, err = playbook.LoadLibrary(path)
		if err != nil {
			logger.Errorf("Failed to load playbooks: %v", err)
			log.Fatalf("Failed to load playbooks: %v", err)
		}
		logger.Infof("Playbooks loaded from %s", path)
	}

	var requester actuator.Requester = actuator.NopRequester{}
	if cfg.Responder.Actuator.URL != "" {
		requester, err = actuator.NewHTTPRequester(actuator.Config{
			URL:     cfg.Responder.Actuator.URL,
			Timeout: cfg.Responder.Actuator.Timeout,
			Headers: cfg.Responder.Actuator.Headers,
		})
		if err != nil {
			log.Fatalf("Failed to create actuator client: %v", err)
		}
		logger.Infof("Actuator endpoint: %s", cfg.Responder.Actuator.URL)
	}

	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.Responder.Notify.URL != "" {
		notifier, err = notify.NewHTTPNotifier(notify.Config{
			URL:     cfg.Responder.Notify.URL,
			Timeout: cfg.Responder.Notify.Timeout,
			Headers: cfg.Responder.Notify.Headers,
		})
		if err != nil {
			log.Fatalf("Failed to create notifier: %v", err)
		}
		logger.Infof("Notify endpoint: %s", cfg.Responder.Notify.URL)
	}

	incidents := store.NewMemory()
	manager := lifecycle.NewManager(incidents)
	correlator := correlate.NewCorrelator(incidents, cfg.Responder.Correlation.Window)
	scheduler := escalate.NewScheduler(incidents, manager, notifier, escalate.Thresholds{
		Critical: cfg.Responder.Escalation.Critical,
		High:     cfg.Responder.Escalation.High,
		Medium:   cfg.Responder.Escalation.Medium,
		Low:      cfg.Responder.Escalation.Low,
	}, cfg.Responder.Escalation.Teams)

	eng := engine.New(engine.Options{
		Store:      incidents,
		Analyzer:   indicator.NewAnalyzer(nil),
		Table:      table,
		Correlator: correlator,
		Lifecycle:  manager,
		Playbooks:  playbooks,
		Scheduler:  scheduler,
		Actuator:   requester,
		Notifier:   notifier,
		Rules:      ruleEngine,
	})

	var writer pipeline.IncidentWriter
	switch cfg.Responder.Archive.Mode {
	case "file":
		w, err := incidentjson.NewWriter(cfg.Responder.Archive.File.Path)
		if err != nil {
			logger.Errorf("Failed to create incident file writer: %v", err)
			log.Fatalf("Failed to create incident file writer: %v", err)
		}
		writer = w
		logger.Infof("Archive mode: file (%s)", cfg.Responder.Archive.File.Path)
	case "clickhouse":
		w, err := incidentclickhouse.NewWriter(incidentclickhouse.Config{
			URL:      cfg.Responder.Archive.ClickHouse.URL,
			Database: cfg.Responder.Archive.ClickHouse.Database,
			Table:    cfg.Responder.Archive.ClickHouse.Table,
			Username: cfg.Responder.Archive.ClickHouse.Username,
			Password: cfg.Responder.Archive.ClickHouse.Password,
			Timeout:  cfg.Responder.Archive.ClickHouse.Timeout,
			Headers:  cfg.Responder.Archive.ClickHouse.Headers,
		})
		if err != nil {
			logger.Errorf("Failed to create ClickHouse writer: %v", err)
			log.Fatalf("Failed to create ClickHouse writer: %v", err)
		}
		writer = w
		logger.Infof("Archive mode: clickhouse (%s/%s.%s)", cfg.Responder.Archive.ClickHouse.URL, cfg.Responder.Archive.ClickHouse.Database, cfg.Responder.Archive.ClickHouse.Table)
	case "postgres":
		w, err := incidentpg.NewWriter(incidentpg.Config{
			DSN:   cfg.Responder.Archive.Postgres.DSN,
			Table: cfg.Responder.Archive.Postgres.Table,
		})
		if err != nil {
			logger.Errorf("Failed to create Postgres writer: %v", err)
			log.Fatalf("Failed to create Postgres writer: %v", err)
		}
		writer = w
		logger.Infof("Archive mode: postgres")
	case "none":
		logger.Infof("Archive disabled")
	default:
		log.Fatalf("Unknown archive mode: %s", cfg.Responder.Archive.Mode)
	}

	if cfg.Responder.Metrics.Enabled {
		srv := metrics.Serve(cfg.Responder.Metrics.Addr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Infof("Metrics listening on %s", cfg.Responder.Metrics.Addr)
	}

	pipe := pipeline.NewRedisEventPipeline(
		consumer,
		eng,
		writer,
		cfg.Responder.Pipeline.Workers,
		cfg.Responder.Pipeline.BatchSize,
		cfg.Responder.Pipeline.FlushInterval,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := pipe.Run(ctx); err != nil && err != context.Canceled {
			logger.Errorf("Pipeline error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Infof("Shutting down")
	cancel()
	time.Sleep(1 * time.Second)

	scheduler.Stop()
	if err := pipe.Close(); err != nil {
		logger.Errorf("Error closing pipeline: %v", err)
	}

	logger.Infof("Responder stopped")
}

// runHistory exports archived incidents from a JSONL archive with optional
// filters. It reads the same files the file archive mode writes.
func runHistory(args []string) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	input := fs.String("input", "output/incidents.jsonl", "Incident JSONL archive path")
	output := fs.String("output", "", "Output path (default stdout)")
	status := fs.String("status", "", "Filter by status")
	incType := fs.String("type", "", "Filter by incident type")
	severity := fs.String("severity", "", "Filter by severity")
	limit := fs.Int("limit", 0, "Maximum incidents to emit (0 = all)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	f, err := os.Open(*input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open archive: %v\n", err)
		return 1
	}
	defer f.Close()

	out := os.Stdout
	if *output != "" {
		dir := filepath.Dir(*output)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				fmt.Fprintf(os.Stderr, "failed to create output directory: %v\n", err)
				return 1
			}
		}
		out, err = os.Create(*output)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create output file: %v\n", err)
			return 1
		}
		defer out.Close()
	}

	// The archive may hold several snapshots per incident; the last one wins.
	latest := make(map[string]*models.Incident)
	order := make([]string, 0, 256)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 8*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var inc models.Incident
		if err := json.Unmarshal([]byte(line), &inc); err != nil {
			fmt.Fprintf(os.Stderr, "skipping malformed archive line: %v\n", err)
			continue
		}
		if _, ok := latest[inc.ID]; !ok {
			order = append(order, inc.ID)
		}
		latest[inc.ID] = &inc
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to read archive: %v\n", err)
		return 1
	}

	enc := json.NewEncoder(out)
	emitted := 0
	for _, id := range order {
		inc := latest[id]
		if *status != "" && string(inc.Status) != *status {
			continue
		}
		if *incType != "" && string(inc.Type) != *incType {
			continue
		}
		if *severity != "" && string(inc.Severity) != *severity {
			continue
		}
		if err := enc.Encode(inc); err != nil {
			fmt.Fprintf(os.Stderr, "failed to encode incident: %v\n", err)
			return 1
		}
		emitted++
		if *limit > 0 && emitted >= *limit {
			break
		}
	}

	fmt.Fprintf(os.Stderr, "archived=%d emitted=%d\n", len(latest), emitted)
	return 0
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			runServer(os.Args[2:])
			return
		case "history":
			os.Exit(runHistory(os.Args[2:]))
		default:
			// Backward-compatible mode: first arg is config path.
			runServer(os.Args[1:])
			return
		}
	}

	runServer(nil)
}

package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/cenkalti/backoff/v4"
	"github.com/dkoval/ircrm/internal/company/backend"
	"github.com/dkoval/ircrm/internal/company/draftstore"
	"github.com/dkoval/ircrm/internal/company/events"
	"github.com/dkoval/ircrm/internal/company/form"
	"github.com/dkoval/ircrm/internal/company/handlers"
	"github.com/dkoval/ircrm/internal/company/workflow"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config struct for YAML configuration
type Config struct {
	HTTPPort             int      `yaml:"HTTP_PORT"`
	JWTSecret            string   `yaml:"JWT_SECRET"`
	UpstreamBaseURL      string   `yaml:"UPSTREAM_BASE_URL"`
	UpstreamToken        string   `yaml:"UPSTREAM_TOKEN"`
	KafkaBrokers         []string `yaml:"KAFKA_BROKERS"`
	Topic                string   `yaml:"TOPIC"`
	DraftDBDriver        string   `yaml:"DRAFT_DB_DRIVER"`
	DraftDBDSN           string   `yaml:"DRAFT_DB_DSN"`
	RequireWebsiteScheme bool     `yaml:"REQUIRE_WEBSITE_SCHEME"`
}

func main() {
	logger := initLogger()
	defer func(logger *zap.Logger) {
		err := logger.Sync()
		if err != nil {
			logger.Error("failed to sync logger", zap.Error(err))
		}
	}(logger)

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	client, err := backend.NewClient(backend.Config{
		BaseURL: cfg.UpstreamBaseURL,
		Token:   cfg.UpstreamToken,
	}, logger)
	if err != nil {
		logger.Fatal("failed to initialize upstream client", zap.Error(err))
	}

	drafts, err := initDraftStore(cfg)
	if err != nil {
		logger.Fatal("failed to initialize draft store", zap.Error(err))
	}
	defer func() {
		if err := drafts.Close(); err != nil {
			logger.Error("failed to close draft store", zap.Error(err))
		}
	}()

	var producer workflow.EventProducer
	if len(cfg.KafkaBrokers) > 0 {
		kafkaProducer, err := events.NewProducer(cfg.KafkaBrokers, logger, cfg.Topic)
		if err != nil {
			logger.Fatal("failed to initialize Kafka producer", zap.Error(err))
		}
		defer kafkaProducer.Close()
		producer = kafkaProducer
	}

	upsert := workflow.New(client, producer, logger)
	rules := form.RuleSet{RequireWebsiteScheme: cfg.RequireWebsiteScheme}
	handler := handlers.NewCompanyHandler(client, client, upsert, drafts, rules, logger)
	server := handlers.NewServer(cfg.HTTPPort, cfg.JWTSecret, handler, logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	waitForShutdown(server, logger)
}

// initLogger initializes a Zap production logger.
func initLogger() *zap.Logger {
	logger, _ := zap.NewProduction()
	return logger
}

// loadConfig loads configuration. Use real config tooling (e.g. Viper) in production.
func loadConfig() (*Config, error) {
	configPath := filepath.Join("internal", "company", "config", "config.yaml")
	file, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	var cfg Config
	err = yaml.Unmarshal(file, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// initDraftStore opens the draft database, retrying while it comes up.
func initDraftStore(cfg *Config) (*draftstore.Store, error) {
	var store *draftstore.Store
	err := backoff.Retry(func() error {
		var err error
		store, err = draftstore.NewStore(draftstore.Config{
			Driver: cfg.DraftDBDriver,
			DSN:    cfg.DraftDBDSN,
		})
		return err
	}, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5))
	return store, err
}

// waitForShutdown blocks until an interrupt or SIGTERM is received, then shuts down the server.
func waitForShutdown(server *handlers.Server, logger *zap.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	server.Stop()
	logger.Info("Server stopped properly")
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultHTTPListen            = ":8080"
	defaultHealthPath            = "/healthz"
	defaultReadyPath             = "/readyz"
	defaultMetricsPath           = "/metrics"
	defaultAlertsPath            = "/alerts"
	defaultMaxBodyBytes          = 1 << 20
	defaultNATSURL               = "nats://127.0.0.1:4222"
	defaultNATSSubject           = "fleetwatch.alerts"
	defaultNATSIngestStream      = "FLEETWATCH_ALERTS"
	defaultNATSIngestConsumer    = "fleetwatch-ingest"
	defaultNATSIngestGroup       = "fleetwatch-workers"
	defaultNATSAckWaitSec        = 30
	defaultNATSNackDelayMS       = 1000
	defaultNATSMaxDeliver        = -1
	defaultNATSMaxAckPending     = 2048
	defaultAlertBucket           = "fleetwatch_alerts"
	defaultRuleBucket            = "fleetwatch_rules"
	defaultHistoryStream         = "FLEETWATCH_HISTORY"
	defaultHistorySubjectPrefix  = "fleetwatch.history"
	defaultNotifySubject         = "fleetwatch.notify"
	defaultNotifyStream          = "FLEETWATCH_NOTIFY"
	defaultCacheBusSubject       = "fleetwatch.cache.invalidate"
	defaultRuleCacheTTLSec       = 300
	defaultViewCacheTTLSec       = 60
	defaultAutoCloseIntervalSec  = 300
	defaultRuleEvalIntervalSec   = 120
	defaultSweepBatchSize        = 100
	defaultAlertExpiryDays       = 30

	// ServiceModeNATS keeps NATS-backed store/ingest settings.
	ServiceModeNATS = "nats"
	// ServiceModeSingle keeps single-instance mode without NATS dependencies.
	ServiceModeSingle = "single"

	// RuleSelectionLastWriteWins retains the last same-type rule in the
	// priority-descending load order, so the lowest-priority rule wins.
	RuleSelectionLastWriteWins = "last-write-wins"
	// RuleSelectionHighestPriority retains the highest-priority rule per type.
	RuleSelectionHighestPriority = "highest-priority"
)

// Config holds service runtime settings.
// Params: TOML sections from file or merged directory snapshot.
// Returns: validated runtime configuration.
type Config struct {
	Service     ServiceConfig     `toml:"service"`
	Log         LogConfig         `toml:"log"`
	Ingest      IngestConfig      `toml:"ingest"`
	Store       StoreConfig       `toml:"store"`
	Cache       CacheConfig       `toml:"cache"`
	Sweep       SweepConfig       `toml:"sweep"`
	NotifyQueue NotifyQueueConfig `toml:"notify_queue"`
}

// ServiceConfig contains process-level settings.
// Params: name, mode, rule selection policy, and expiry horizon.
// Returns: service behavior defaults.
type ServiceConfig struct {
	Name            string `toml:"name"`
	Mode            string `toml:"mode"`
	RuleSelection   string `toml:"rule_selection"`
	AlertExpiryDays int    `toml:"alert_expiry_days"`
}

// LogConfig defines console and file log sinks.
// Params: per-sink enabled/level/format settings.
// Returns: logging runtime options.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig describes one log output sink.
// Params: enablement, level, format, and file path for file sink.
// Returns: one sink definition.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// IngestConfig defines inbound alert interfaces.
// Params: embedded HTTP and NATS subscription controls.
// Returns: ingestion runtime options.
type IngestConfig struct {
	HTTP HTTPIngestConfig `toml:"http"`
	NATS NATSIngestConfig `toml:"nats"`
}

// HTTPIngestConfig describes HTTP ingest endpoint settings.
// Params: listen address, paths, and body limit.
// Returns: HTTP server options.
type HTTPIngestConfig struct {
	Enabled      bool   `toml:"enabled"`
	Listen       string `toml:"listen"`
	HealthPath   string `toml:"health_path"`
	ReadyPath    string `toml:"ready_path"`
	MetricsPath  string `toml:"metrics_path"`
	AlertsPath   string `toml:"alerts_path"`
	MaxBodyBytes int64  `toml:"max_body_bytes"`
}

// NATSIngestConfig describes JetStream ingest consumer settings.
// Params: connection URLs and consumer/stream identifiers.
// Returns: NATS ingest options.
type NATSIngestConfig struct {
	Enabled       bool     `toml:"enabled"`
	URL           []string `toml:"url"`
	Subject       string   `toml:"subject"`
	Stream        string   `toml:"stream"`
	ConsumerName  string   `toml:"consumer_name"`
	DeliverGroup  string   `toml:"deliver_group"`
	AckWaitSec    int      `toml:"ack_wait_sec"`
	NackDelayMS   int      `toml:"nack_delay_ms"`
	MaxDeliver    int      `toml:"max_deliver"`
	MaxAckPending int      `toml:"max_ack_pending"`
}

// StoreConfig selects persistence backend settings.
// Params: NATS KV settings used in nats mode.
// Returns: store runtime options.
type StoreConfig struct {
	NATS NATSStoreConfig `toml:"nats"`
}

// NATSStoreConfig describes JetStream KV buckets and history stream.
// Params: URLs, bucket names, and history stream identifiers.
// Returns: NATS store options.
type NATSStoreConfig struct {
	URL                  []string `toml:"url"`
	AlertBucket          string   `toml:"alert_bucket"`
	RuleBucket           string   `toml:"rule_bucket"`
	HistoryStream        string   `toml:"history_stream"`
	HistorySubjectPrefix string   `toml:"history_subject_prefix"`
	AllowCreateBuckets   bool     `toml:"allow_create_buckets"`
}

// CacheConfig describes rule/view cache TTLs and invalidation bus.
// Params: TTL seconds and optional NATS invalidation settings.
// Returns: cache runtime options.
type CacheConfig struct {
	RuleTTLSec int            `toml:"rule_ttl_sec"`
	ViewTTLSec int            `toml:"view_ttl_sec"`
	Bus        CacheBusConfig `toml:"bus"`
}

// CacheBusConfig describes cross-process cache invalidation signaling.
// Params: enablement, URLs, and subject.
// Returns: invalidation bus options.
type CacheBusConfig struct {
	Enabled bool     `toml:"enabled"`
	URL     []string `toml:"url"`
	Subject string   `toml:"subject"`
}

// SweepConfig describes batch scheduler cadences and batch cap.
// Params: per-sweep interval seconds and batch size.
// Returns: scheduler runtime options.
type SweepConfig struct {
	AutoCloseIntervalSec int `toml:"auto_close_interval_sec"`
	RuleEvalIntervalSec  int `toml:"rule_eval_interval_sec"`
	BatchSize            int `toml:"batch_size"`
}

// NotifyQueueConfig describes escalated-alert handoff queue.
// Params: enablement, URLs, and subject/stream identifiers.
// Returns: notify queue options.
type NotifyQueueConfig struct {
	Enabled bool     `toml:"enabled"`
	URL     []string `toml:"url"`
	Subject string   `toml:"subject"`
	Stream  string   `toml:"stream"`
}

// ConfigSource describes file or directory config source.
// Params: exactly one of File or Dir.
// Returns: normalized source selector.
type ConfigSource struct {
	File string
	Dir  string
}

// FromCLI builds normalized source configuration from input paths.
// Params: file path and directory path flags.
// Returns: config source or flag validation error.
func FromCLI(filePath, dirPath string) (ConfigSource, error) {
	filePath = strings.TrimSpace(filePath)
	dirPath = strings.TrimSpace(dirPath)

	if filePath == "" && dirPath == "" {
		return ConfigSource{}, errors.New("either --config-file or --config-dir must be provided")
	}
	if filePath != "" && dirPath != "" {
		return ConfigSource{}, errors.New("config source must be either file or dir")
	}

	if filePath != "" {
		return ConfigSource{File: filePath}, nil
	}
	return ConfigSource{Dir: dirPath}, nil
}

// LoadSnapshot loads and validates configuration from one source.
// Params: file or directory config source.
// Returns: normalized config snapshot or load/validation error.
func LoadSnapshot(src ConfigSource) (Config, error) {
	var cfg Config
	var err error
	if src.File != "" {
		cfg, err = loadFile(src.File)
	} else {
		cfg, err = loadDir(src.Dir)
	}
	if err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadFile decodes one TOML config file.
// Params: file path.
// Returns: decoded config or read/decode error.
func loadFile(path string) (Config, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", path, err)
	}
	var cfg Config
	if err := toml.Unmarshal(body, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config file %q: %w", path, err)
	}
	return cfg, nil
}

// loadDir decodes all .toml fragments in lexical order, later files
// overriding earlier values at the TOML document level.
// Params: directory path.
// Returns: merged config or read/decode error.
func loadDir(dir string) (Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Config{}, fmt.Errorf("read config dir %q: %w", dir, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.ToLower(filepath.Ext(entry.Name())) != ".toml" {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	if len(files) == 0 {
		return Config{}, fmt.Errorf("no .toml files found in %q", dir)
	}
	sort.Strings(files)

	var merged Config
	for _, file := range files {
		body, err := os.ReadFile(file)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", file, err)
		}
		if err := toml.Unmarshal(body, &merged); err != nil {
			return Config{}, fmt.Errorf("decode config file %q: %w", file, err)
		}
	}
	return merged, nil
}

// applyDefaults fills unset fields with runtime defaults.
// Params: mutable config pointer.
// Returns: config normalized in place.
func applyDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "fleetwatch"
	}
	cfg.Service.Mode = NormalizeServiceMode(cfg.Service.Mode)
	if cfg.Service.RuleSelection == "" {
		cfg.Service.RuleSelection = RuleSelectionLastWriteWins
	}
	if cfg.Service.AlertExpiryDays == 0 {
		cfg.Service.AlertExpiryDays = defaultAlertExpiryDays
	}

	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}
	applySinkDefaults(&cfg.Log.Console, "line")
	applySinkDefaults(&cfg.Log.File, "json")

	if cfg.Ingest.HTTP.Listen == "" {
		cfg.Ingest.HTTP.Listen = defaultHTTPListen
	}
	if cfg.Ingest.HTTP.HealthPath == "" {
		cfg.Ingest.HTTP.HealthPath = defaultHealthPath
	}
	if cfg.Ingest.HTTP.ReadyPath == "" {
		cfg.Ingest.HTTP.ReadyPath = defaultReadyPath
	}
	if cfg.Ingest.HTTP.MetricsPath == "" {
		cfg.Ingest.HTTP.MetricsPath = defaultMetricsPath
	}
	if cfg.Ingest.HTTP.AlertsPath == "" {
		cfg.Ingest.HTTP.AlertsPath = defaultAlertsPath
	}
	if cfg.Ingest.HTTP.MaxBodyBytes == 0 {
		cfg.Ingest.HTTP.MaxBodyBytes = defaultMaxBodyBytes
	}

	if len(cfg.Ingest.NATS.URL) == 0 {
		cfg.Ingest.NATS.URL = []string{defaultNATSURL}
	}
	if cfg.Ingest.NATS.Subject == "" {
		cfg.Ingest.NATS.Subject = defaultNATSSubject
	}
	if cfg.Ingest.NATS.Stream == "" {
		cfg.Ingest.NATS.Stream = defaultNATSIngestStream
	}
	if cfg.Ingest.NATS.ConsumerName == "" {
		cfg.Ingest.NATS.ConsumerName = defaultNATSIngestConsumer
	}
	if cfg.Ingest.NATS.DeliverGroup == "" {
		cfg.Ingest.NATS.DeliverGroup = defaultNATSIngestGroup
	}
	if cfg.Ingest.NATS.AckWaitSec == 0 {
		cfg.Ingest.NATS.AckWaitSec = defaultNATSAckWaitSec
	}
	if cfg.Ingest.NATS.NackDelayMS == 0 {
		cfg.Ingest.NATS.NackDelayMS = defaultNATSNackDelayMS
	}
	if cfg.Ingest.NATS.MaxDeliver == 0 {
		cfg.Ingest.NATS.MaxDeliver = defaultNATSMaxDeliver
	}
	if cfg.Ingest.NATS.MaxAckPending == 0 {
		cfg.Ingest.NATS.MaxAckPending = defaultNATSMaxAckPending
	}

	if len(cfg.Store.NATS.URL) == 0 {
		cfg.Store.NATS.URL = []string{defaultNATSURL}
	}
	if cfg.Store.NATS.AlertBucket == "" {
		cfg.Store.NATS.AlertBucket = defaultAlertBucket
	}
	if cfg.Store.NATS.RuleBucket == "" {
		cfg.Store.NATS.RuleBucket = defaultRuleBucket
	}
	if cfg.Store.NATS.HistoryStream == "" {
		cfg.Store.NATS.HistoryStream = defaultHistoryStream
	}
	if cfg.Store.NATS.HistorySubjectPrefix == "" {
		cfg.Store.NATS.HistorySubjectPrefix = defaultHistorySubjectPrefix
	}

	if cfg.Cache.RuleTTLSec == 0 {
		cfg.Cache.RuleTTLSec = defaultRuleCacheTTLSec
	}
	if cfg.Cache.ViewTTLSec == 0 {
		cfg.Cache.ViewTTLSec = defaultViewCacheTTLSec
	}
	if len(cfg.Cache.Bus.URL) == 0 {
		cfg.Cache.Bus.URL = []string{defaultNATSURL}
	}
	if cfg.Cache.Bus.Subject == "" {
		cfg.Cache.Bus.Subject = defaultCacheBusSubject
	}

	if cfg.Sweep.AutoCloseIntervalSec == 0 {
		cfg.Sweep.AutoCloseIntervalSec = defaultAutoCloseIntervalSec
	}
	if cfg.Sweep.RuleEvalIntervalSec == 0 {
		cfg.Sweep.RuleEvalIntervalSec = defaultRuleEvalIntervalSec
	}
	if cfg.Sweep.BatchSize == 0 {
		cfg.Sweep.BatchSize = defaultSweepBatchSize
	}

	if len(cfg.NotifyQueue.URL) == 0 {
		cfg.NotifyQueue.URL = []string{defaultNATSURL}
	}
	if cfg.NotifyQueue.Subject == "" {
		cfg.NotifyQueue.Subject = defaultNotifySubject
	}
	if cfg.NotifyQueue.Stream == "" {
		cfg.NotifyQueue.Stream = defaultNotifyStream
	}
}

// applySinkDefaults fills unset sink level/format.
// Params: mutable sink pointer and default format.
// Returns: sink normalized in place.
func applySinkDefaults(sink *LogSinkConfig, format string) {
	if sink.Level == "" {
		sink.Level = "info"
	}
	if sink.Format == "" {
		sink.Format = format
	}
}

// NormalizeServiceMode lowercases and defaults service mode.
// Params: raw mode value from config.
// Returns: "single" or "nats".
func NormalizeServiceMode(mode string) string {
	mode = strings.TrimSpace(strings.ToLower(mode))
	if mode == "" {
		return ServiceModeSingle
	}
	return mode
}

// validateConfig validates normalized config snapshot.
// Params: normalized config value.
// Returns: first validation error.
func validateConfig(cfg Config) error {
	switch cfg.Service.Mode {
	case ServiceModeSingle, ServiceModeNATS:
	default:
		return fmt.Errorf("unsupported service.mode %q", cfg.Service.Mode)
	}
	switch cfg.Service.RuleSelection {
	case RuleSelectionLastWriteWins, RuleSelectionHighestPriority:
	default:
		return fmt.Errorf("unsupported service.rule_selection %q", cfg.Service.RuleSelection)
	}
	if cfg.Service.AlertExpiryDays < 0 {
		return errors.New("service.alert_expiry_days must be >=0")
	}
	if cfg.Sweep.AutoCloseIntervalSec < 0 || cfg.Sweep.RuleEvalIntervalSec < 0 {
		return errors.New("sweep intervals must be >=0")
	}
	if cfg.Sweep.BatchSize <= 0 {
		return errors.New("sweep.batch_size must be >0")
	}
	if cfg.Cache.RuleTTLSec < 0 || cfg.Cache.ViewTTLSec < 0 {
		return errors.New("cache TTLs must be >=0")
	}
	if cfg.Log.File.Enabled && strings.TrimSpace(cfg.Log.File.Path) == "" {
		return errors.New("log.file.path is required when file sink is enabled")
	}
	if cfg.Service.Mode == ServiceModeSingle {
		if cfg.Ingest.NATS.Enabled {
			return errors.New("ingest.nats requires service.mode = \"nats\"")
		}
		if cfg.NotifyQueue.Enabled {
			return errors.New("notify_queue requires service.mode = \"nats\"")
		}
		if cfg.Cache.Bus.Enabled {
			return errors.New("cache.bus requires service.mode = \"nats\"")
		}
	}
	return nil
}

package shared

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

//go:embed config.example.toml
var exampleConf []byte

// maxBatchSize is the largest request list the batch write endpoint accepts.
const maxBatchSize = 200

// Config represents the application configuration.
//
// TOML is the primary format; YAML and the kebab-case JSON layout are accepted by [LoadConfig]
// based on the file extension.
type Config struct {
	Source       ConnectionConfig   `toml:"source" yaml:"source" json:"source-connection"`
	Target       ConnectionConfig   `toml:"target" yaml:"target" json:"target-connection"`
	Migration    MigrationConfig    `toml:"migration" yaml:"migration" json:"migration"`
	Processors   ProcessorsConfig   `toml:"processors" yaml:"processors" json:"processors"`
	Retry        RetryConfig        `toml:"retry" yaml:"retry" json:"retry"`
	Database     DatabaseConfig     `toml:"database" yaml:"database" json:"database"`
	Notification NotificationConfig `toml:"notification" yaml:"notification" json:"notification"`
	Status       StatusConfig       `toml:"status" yaml:"status" json:"status"`
	Logging      LoggingConfig      `toml:"logging" yaml:"logging" json:"logging"`
}

// ConnectionConfig describes one work item tracking account.
type ConnectionConfig struct {
	Account           string  `toml:"account" yaml:"account" json:"account"`
	Project           string  `toml:"project" yaml:"project" json:"project"`
	Token             string  `toml:"token" yaml:"token" json:"access-token"`
	Auth              string  `toml:"auth" yaml:"auth" json:"auth"` // pat or bearer
	RequestsPerSecond float64 `toml:"requests_per_second" yaml:"requests_per_second" json:"requests-per-second"`
}

// MigrationConfig controls identification policy, paging and batch parallelism.
type MigrationConfig struct {
	Query                 string `toml:"query" yaml:"query" json:"query"`
	QueryPageSize         int    `toml:"query_page_size" yaml:"query_page_size" json:"query-page-size"`
	BatchSize             int    `toml:"batch_size" yaml:"batch_size" json:"batch-size"`
	Parallelism           int    `toml:"parallelism" yaml:"parallelism" json:"parallelism"`
	LinkParallelism       int    `toml:"link_parallelism" yaml:"link_parallelism" json:"link-parallelism"`
	CreateNew             bool   `toml:"create_new" yaml:"create_new" json:"create-new-work-items"`
	UpdateModified        bool   `toml:"update_modified" yaml:"update_modified" json:"update-modified-work-items"`
	Overwrite             bool   `toml:"overwrite" yaml:"overwrite" json:"overwrite-work-items"`
	VerifyOnFailure       bool   `toml:"verify_on_failure" yaml:"verify_on_failure" json:"verify-on-failure"`
	BypassRules           bool   `toml:"bypass_rules" yaml:"bypass_rules" json:"bypass-rules"`
	SuppressNotifications bool   `toml:"suppress_notifications" yaml:"suppress_notifications" json:"suppress-notifications"`
	HeartbeatSeconds      int    `toml:"heartbeat_seconds" yaml:"heartbeat_seconds" json:"heartbeat-frequency-in-seconds"`
}

// ProcessorsConfig enables and tunes the individual pipeline steps.
type ProcessorsConfig struct {
	MoveAttachments      bool              `toml:"move_attachments" yaml:"move_attachments" json:"move-attachments"`
	MaxAttachmentSize    int64             `toml:"max_attachment_size" yaml:"max_attachment_size" json:"max-attachment-size"`
	AttachmentChunkSize  int               `toml:"attachment_chunk_size" yaml:"attachment_chunk_size" json:"attachment-upload-chunk-size"`
	MoveComments         bool              `toml:"move_comments" yaml:"move_comments" json:"move-comments"`
	MoveHistory          bool              `toml:"move_history" yaml:"move_history" json:"move-history"`
	HistoryLimit         int               `toml:"history_limit" yaml:"history_limit" json:"move-history-limit"`
	HistoryFormat        string            `toml:"history_format" yaml:"history_format" json:"history-format"`
	MoveLinks            bool              `toml:"move_links" yaml:"move_links" json:"move-links"`
	MoveGitLinks         bool              `toml:"move_git_links" yaml:"move_git_links" json:"move-git-links"`
	ClearAllRelations    bool              `toml:"clear_all_relations" yaml:"clear_all_relations" json:"clear-all-relations"`
	SourcePostMoveTag    string            `toml:"source_post_move_tag" yaml:"source_post_move_tag" json:"source-post-move-tag"`
	TargetPostMoveTag    string            `toml:"target_post_move_tag" yaml:"target_post_move_tag" json:"target-post-move-tag"`
	DefaultAreaPath      string            `toml:"default_area_path" yaml:"default_area_path" json:"default-area-path"`
	DefaultIterationPath string            `toml:"default_iteration_path" yaml:"default_iteration_path" json:"default-iteration-path"`
	FieldMap             map[string]string `toml:"field_map" yaml:"field_map" json:"field-mappings"`
	FieldReplacements    map[string]string `toml:"field_replacements" yaml:"field_replacements" json:"field-replacements"`
}

// RetryConfig seeds the retry executor.
type RetryConfig struct {
	MaxAttempts        int      `toml:"max_attempts" yaml:"max_attempts" json:"max-attempts"`
	InitialDelay       Duration `toml:"initial_delay" yaml:"initial_delay" json:"initial-delay"`
	DelayIncrement     Duration `toml:"delay_increment" yaml:"delay_increment" json:"delay-increment"`
	UnknownMaxAttempts int      `toml:"unknown_max_attempts" yaml:"unknown_max_attempts" json:"unknown-max-attempts"`
}

// DatabaseConfig contains database connection settings for the run ledger.
type DatabaseConfig struct {
	Path         string `toml:"path" yaml:"path" json:"path"`
	MaxOpenConns int    `toml:"max_open_conns" yaml:"max_open_conns" json:"max-open-conns"`
	MaxIdleConns int    `toml:"max_idle_conns" yaml:"max_idle_conns" json:"max-idle-conns"`
}

// NotificationConfig holds shoutrrr service URLs for the summary notification.
type NotificationConfig struct {
	Enabled bool     `toml:"enabled" yaml:"enabled" json:"send-notification"`
	URLs    []string `toml:"urls" yaml:"urls" json:"urls"`
	Title   string   `toml:"title" yaml:"title" json:"title"`
	Timeout Duration `toml:"timeout" yaml:"timeout" json:"timeout"`
}

// StatusConfig contains the status HTTP server settings. An empty Addr disables it.
type StatusConfig struct {
	Addr string `toml:"addr" yaml:"addr" json:"addr"`
}

type LoggingConfig struct {
	Level string `toml:"level" yaml:"level" json:"level"`
}

// Duration decodes "1s" style strings in every supported config format.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// LoadConfig reads and parses a configuration file from the specified path.
// Keys absent from the file keep the values of [DefaultConfig].
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingConfig, path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml", "":
		err = toml.Unmarshal(data, config)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	case ".json":
		err = json.Unmarshal(data, config)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate reports every configuration problem at once, each wrapped in [ErrInvalidConfig].
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	for name, conn := range map[string]ConnectionConfig{"source": c.Source, "target": c.Target} {
		if conn.Account == "" {
			add("%s.account is required", name)
		}
		if conn.Project == "" {
			add("%s.project is required", name)
		}
		if conn.Token == "" {
			errs = append(errs, fmt.Errorf("%w: %s.token", ErrMissingCredentials, name))
		}
		if conn.Auth != "" && conn.Auth != "pat" && conn.Auth != "bearer" {
			add("%s.auth must be pat or bearer, got %q", name, conn.Auth)
		}
		if conn.RequestsPerSecond < 0 {
			add("%s.requests_per_second must not be negative", name)
		}
	}

	m := c.Migration
	if err := ValidateQuery(m.Query); err != nil {
		errs = append(errs, err)
	}
	if m.BatchSize < 1 || m.BatchSize > maxBatchSize {
		add("migration.batch_size must be between 1 and %d, got %d", maxBatchSize, m.BatchSize)
	}
	if m.Parallelism < 1 {
		add("migration.parallelism must be at least 1")
	}
	if m.LinkParallelism < 1 {
		add("migration.link_parallelism must be at least 1")
	}
	if m.QueryPageSize < 1 || m.QueryPageSize > 20000 {
		add("migration.query_page_size must be between 1 and 20000, got %d", m.QueryPageSize)
	}
	if m.HeartbeatSeconds < 0 {
		add("migration.heartbeat_seconds must not be negative")
	}

	p := c.Processors
	if p.MaxAttachmentSize <= 0 {
		add("processors.max_attachment_size must be positive")
	}
	if p.AttachmentChunkSize <= 0 {
		add("processors.attachment_chunk_size must be positive")
	}
	if p.HistoryLimit < 1 {
		add("processors.history_limit must be at least 1")
	}
	if p.HistoryFormat != "json" && p.HistoryFormat != "text" {
		add("processors.history_format must be json or text, got %q", p.HistoryFormat)
	}

	if c.Retry.MaxAttempts < 1 {
		add("retry.max_attempts must be at least 1")
	}
	if c.Retry.InitialDelay.Duration < 0 || c.Retry.DelayIncrement.Duration < 0 {
		add("retry delays must not be negative")
	}

	if c.Notification.Enabled && len(c.Notification.URLs) == 0 {
		add("notification.urls must contain at least one URL when enabled")
	}

	return errors.Join(errs...)
}

// ValidateQuery checks that a work item query is a flat WIQL query over work items.
func ValidateQuery(query string) error {
	q := strings.ToLower(strings.Join(strings.Fields(query), " "))
	switch {
	case q == "":
		return fmt.Errorf("%w: migration.query is required", ErrInvalidQuery)
	case strings.Contains(q, "from workitemlinks"):
		return fmt.Errorf("%w: link queries are not supported, use a flat query over WorkItems", ErrInvalidQuery)
	case !strings.Contains(q, "from workitems"):
		return fmt.Errorf("%w: query must select FROM WorkItems", ErrInvalidQuery)
	}
	return nil
}

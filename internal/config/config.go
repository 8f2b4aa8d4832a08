// internal/config/config.go
//
// This package handles configuration and the .greenlight directory structure.
// Every project that uses Greenlight gets a .greenlight/ folder created in
// its root, next to the vault of task documents.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// GreenlightDir is the name of the directory we create in each project
	GreenlightDir = ".greenlight"

	defaultVaultDir       = "vault"
	defaultPollInterval   = 5 * time.Second
	defaultSweepInterval  = time.Minute
	defaultStaleAfter     = 30 * time.Minute
	defaultWatchDebounce  = 500 * time.Millisecond
	defaultMaxRetries     = 3
	defaultPaymentCeiling = 100
)

const defaultProjectConfigYAML = `# greenlight project configuration
version: 1

# Identity attached to audit entries written by this instance. Leave empty
# to derive one from the hostname and pid.
actor: ""

vault:
  # Directory holding the task compartments, relative to the project root.
  dir: vault

worker:
  poll_interval: 5s
  watch_debounce: 500ms

sweeper:
  interval: 1m
  stale_after: 30m
  max_retries: 3

policy:
  # Maximum autonomous payment amount, inclusive.
  payment_ceiling: 100
  # Action types allowed to execute without a human in the loop.
  autonomous_types:
    - noop
    - archive
  # Counterparties small payments may go to autonomously.
  preapproved_counterparties: []
  # Action types that imply a new external counterparty.
  new_contact_types: []

bridge:
  # HTTP intake/read API. Empty addr disables the bridge.
  addr: ""
`

// VaultConfig locates the task vault.
type VaultConfig struct {
	Dir string `yaml:"dir"`
}

// WorkerConfig tunes the polling worker.
type WorkerConfig struct {
	PollInterval  string `yaml:"poll_interval"`
	WatchDebounce string `yaml:"watch_debounce"`
}

// SweeperConfig tunes stale-claim recovery.
type SweeperConfig struct {
	Interval   string `yaml:"interval"`
	StaleAfter string `yaml:"stale_after"`
	MaxRetries int    `yaml:"max_retries"`
}

// PolicyConfig feeds the autonomous/sensitive classification table and the
// approval gate.
type PolicyConfig struct {
	PaymentCeiling            float64  `yaml:"payment_ceiling"`
	AutonomousTypes           []string `yaml:"autonomous_types"`
	PreapprovedCounterparties []string `yaml:"preapproved_counterparties"`
	NewContactTypes           []string `yaml:"new_contact_types"`
}

// BridgeConfig configures the HTTP intake/read API.
type BridgeConfig struct {
	Addr string `yaml:"addr"`
}

// ProjectConfig models .greenlight/config.yaml.
type ProjectConfig struct {
	Version int           `yaml:"version"`
	Actor   string        `yaml:"actor"`
	Vault   VaultConfig   `yaml:"vault"`
	Worker  WorkerConfig  `yaml:"worker"`
	Sweeper SweeperConfig `yaml:"sweeper"`
	Policy  PolicyConfig  `yaml:"policy"`
	Bridge  BridgeConfig  `yaml:"bridge"`

	pollInterval  time.Duration
	watchDebounce time.Duration
	sweepInterval time.Duration
	staleAfter    time.Duration
}

// Config holds the runtime configuration for Greenlight.
type Config struct {
	// ProjectDir is the directory where the user ran `greenlight` from
	ProjectDir string

	// GreenlightProjectDir is ProjectDir/.greenlight
	GreenlightProjectDir string

	Project ProjectConfig
}

// InitGreenlightDir creates the .greenlight directory structure in the given
// project directory.
//
// Structure created:
// .greenlight/
// ├── logs/      <- worker and sweeper log files
// ├── archive/   <- bodies written by the archive handler
// └── plugins/   <- handler definitions (YAML or interpreted Go)
func InitGreenlightDir(projectDir string) error {
	greenlightDir := filepath.Join(projectDir, GreenlightDir)

	dirs := []string{
		filepath.Join(greenlightDir, "logs"),
		filepath.Join(greenlightDir, "archive"),
		filepath.Join(greenlightDir, "plugins"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return ensureProjectConfig(filepath.Join(greenlightDir, "config.yaml"))
}

// NewConfig creates a new Config instance populated with project settings.
func NewConfig(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir:           projectDir,
		GreenlightProjectDir: filepath.Join(projectDir, GreenlightDir),
		Project:              defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// VaultDir returns the directory holding the task compartments.
func (c *Config) VaultDir() string {
	return resolvePath(c.ProjectDir, c.Project.Vault.Dir)
}

// LogsDir returns the path to the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.GreenlightProjectDir, "logs")
}

// ArchiveDir returns the directory the archive handler writes into.
func (c *Config) ArchiveDir() string {
	return filepath.Join(c.GreenlightProjectDir, "archive")
}

// PluginsDir returns the directory scanned for handler definitions.
func (c *Config) PluginsDir() string {
	return filepath.Join(c.GreenlightProjectDir, "plugins")
}

// AuditLogPath returns the on-disk location of the append-only audit log.
func (c *Config) AuditLogPath() string {
	return filepath.Join(c.GreenlightProjectDir, "audit.jsonl")
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.GreenlightProjectDir, "config.yaml")
}

// Actor returns the configured audit identity, deriving one from the
// hostname and pid when unset.
func (c *Config) Actor() string {
	if actor := strings.TrimSpace(c.Project.Actor); actor != "" {
		return actor
	}
	host, err := os.Hostname()
	if err != nil {
		host = "greenlight"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// PollInterval returns how often the worker scans the shared compartments.
func (c *Config) PollInterval() time.Duration {
	return c.Project.pollInterval
}

// WatchDebounce returns how long the watcher waits for a document to settle.
func (c *Config) WatchDebounce() time.Duration {
	return c.Project.watchDebounce
}

// SweepInterval returns how often the sweeper scans transient compartments.
func (c *Config) SweepInterval() time.Duration {
	return c.Project.sweepInterval
}

// StaleAfter returns the liveness threshold for claimed documents.
func (c *Config) StaleAfter() time.Duration {
	return c.Project.staleAfter
}

// MaxRetries returns the stale-claim retry ceiling.
func (c *Config) MaxRetries() int {
	return c.Project.Sweeper.MaxRetries
}

// PaymentCeiling returns the autonomous payment ceiling.
func (c *Config) PaymentCeiling() float64 {
	return c.Project.Policy.PaymentCeiling
}

// AutonomousTypes returns the action-type allow-list as a lookup set.
func (c *Config) AutonomousTypes() map[string]bool {
	return toSet(c.Project.Policy.AutonomousTypes)
}

// PreapprovedCounterparties returns the counterparty allow-list as a set.
func (c *Config) PreapprovedCounterparties() map[string]bool {
	return toSet(c.Project.Policy.PreapprovedCounterparties)
}

// NewContactTypes returns the new-counterparty action types as a set.
func (c *Config) NewContactTypes() map[string]bool {
	return toSet(c.Project.Policy.NewContactTypes)
}

// BridgeAddr returns the HTTP bridge listen address; empty disables it.
func (c *Config) BridgeAddr() string {
	return strings.TrimSpace(c.Project.Bridge.Addr)
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return c.Project.finalize()
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed ProjectConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.applyDefaults()
	if err := parsed.finalize(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	c.Project = parsed
	return nil
}

func defaultProjectConfig() ProjectConfig {
	pc := ProjectConfig{
		Version: 1,
		Vault:   VaultConfig{Dir: defaultVaultDir},
		Worker: WorkerConfig{
			PollInterval:  defaultPollInterval.String(),
			WatchDebounce: defaultWatchDebounce.String(),
		},
		Sweeper: SweeperConfig{
			Interval:   defaultSweepInterval.String(),
			StaleAfter: defaultStaleAfter.String(),
			MaxRetries: defaultMaxRetries,
		},
		Policy: PolicyConfig{
			PaymentCeiling:  defaultPaymentCeiling,
			AutonomousTypes: []string{"noop", "archive"},
		},
	}
	return pc
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if strings.TrimSpace(pc.Vault.Dir) == "" {
		pc.Vault.Dir = defaultVaultDir
	}
	if strings.TrimSpace(pc.Worker.PollInterval) == "" {
		pc.Worker.PollInterval = defaultPollInterval.String()
	}
	if strings.TrimSpace(pc.Worker.WatchDebounce) == "" {
		pc.Worker.WatchDebounce = defaultWatchDebounce.String()
	}
	if strings.TrimSpace(pc.Sweeper.Interval) == "" {
		pc.Sweeper.Interval = defaultSweepInterval.String()
	}
	if strings.TrimSpace(pc.Sweeper.StaleAfter) == "" {
		pc.Sweeper.StaleAfter = defaultStaleAfter.String()
	}
	if pc.Sweeper.MaxRetries == 0 {
		pc.Sweeper.MaxRetries = defaultMaxRetries
	}
	if pc.Policy.PaymentCeiling == 0 {
		pc.Policy.PaymentCeiling = defaultPaymentCeiling
	}
}

// finalize parses the duration strings and validates the result.
func (pc *ProjectConfig) finalize() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	var err error
	if pc.pollInterval, err = parseDuration("worker.poll_interval", pc.Worker.PollInterval, defaultPollInterval); err != nil {
		return err
	}
	if pc.watchDebounce, err = parseDuration("worker.watch_debounce", pc.Worker.WatchDebounce, defaultWatchDebounce); err != nil {
		return err
	}
	if pc.sweepInterval, err = parseDuration("sweeper.interval", pc.Sweeper.Interval, defaultSweepInterval); err != nil {
		return err
	}
	if pc.staleAfter, err = parseDuration("sweeper.stale_after", pc.Sweeper.StaleAfter, defaultStaleAfter); err != nil {
		return err
	}
	if pc.Sweeper.MaxRetries < 1 {
		return fmt.Errorf("sweeper.max_retries must be >= 1")
	}
	if pc.Policy.PaymentCeiling < 0 {
		return fmt.Errorf("policy.payment_ceiling must be >= 0")
	}
	return nil
}

func parseDuration(field, value string, fallback time.Duration) (time.Duration, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(trimmed)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", field)
	}
	return d, nil
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		set[trimmed] = true
	}
	return set
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return base
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0644)
}

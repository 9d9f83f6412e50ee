package config

import (
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of the environment variables that override the core options.
const EnvPrefix = "NETGUARD"

// ModelTypes lists the recognized values of model_type.
var ModelTypes = []string{"logistic", "forest", "heuristic"}

// CaptureConfig controls how a single cycle's traffic is captured.
type CaptureConfig struct {
	SnapshotLen int    `yaml:"snapshot_len"`
	Promiscuous bool   `yaml:"promiscuous"`
	Duration    string `yaml:"duration"`
	MaxPackets  int    `yaml:"max_packets"`
	BPFFilter   string `yaml:"bpf_filter"`
	WorkDir     string `yaml:"work_dir"`
}

// ExtractorConfig selects and configures the feature extractor.
type ExtractorConfig struct {
	Type        string   `yaml:"type"` // "builtin" or "cicflowmeter"
	Command     string   `yaml:"command"`
	Args        []string `yaml:"args"`
	FlowTimeout string   `yaml:"flow_timeout"`
}

// ParserConfig holds the dataset acceptance rules.
type ParserConfig struct {
	MinRows int `yaml:"min_rows"`
}

// FirewallConfig holds the enforcement backend settings.
type FirewallConfig struct {
	Backend           string `yaml:"backend"` // "nftables" or "memory"
	Table             string `yaml:"table"`
	ReconcileInterval string `yaml:"reconcile_interval"`
	BlockTTL          string `yaml:"block_ttl"`
}

// FlowLogConfig describes the append-only flow log.
type FlowLogConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// ClickHouseConfig holds the connection details for the verdict store.
type ClickHouseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// NATSConfig configures the event bus and the operator control channel.
type NATSConfig struct {
	Enabled        bool   `yaml:"enabled"`
	URL            string `yaml:"url"`
	EventSubject   string `yaml:"event_subject"`
	ControlSubject string `yaml:"control_subject"`
}

// APIConfig holds the listen addresses of the operator API.
type APIConfig struct {
	Enabled        bool   `yaml:"enabled"`
	ListenAddr     string `yaml:"listen_addr"`
	GRPCListenAddr string `yaml:"grpc_listen_addr"`
}

// SMTPConfig holds the settings for email notifications.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

// AlerterConfig controls the consolidated block notifications.
type AlerterConfig struct {
	Enabled       bool   `yaml:"enabled"`
	CheckInterval string `yaml:"check_interval"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Interface       string   `yaml:"interface"`
	InterfaceData   []string `yaml:"interface_data"`
	FirewallEnabled bool     `yaml:"firewall_enabled"`
	NaughtyCount    int      `yaml:"naughty_count"`
	ModelType       string   `yaml:"model_type"`
	ModelPath       string   `yaml:"model_path"`
	LogLevel        string   `yaml:"log_level"`
	CycleDeadline   string   `yaml:"cycle_deadline"`

	Capture    CaptureConfig    `yaml:"capture"`
	Extractor  ExtractorConfig  `yaml:"extractor"`
	Parser     ParserConfig     `yaml:"parser"`
	Firewall   FirewallConfig   `yaml:"firewall"`
	FlowLog    FlowLogConfig    `yaml:"flow_log"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	NATS       NATSConfig       `yaml:"nats"`
	API        APIConfig        `yaml:"api"`
	SMTP       SMTPConfig       `yaml:"smtp"`
	Alerter    AlerterConfig    `yaml:"alerter"`
}

// Overrides are the core options that may be set from the environment.
// Unset variables leave the file value untouched.
type Overrides struct {
	Interface       string `envconfig:"INTERFACE"`
	FirewallEnabled *bool  `envconfig:"FIREWALL_ENABLED"`
	NaughtyCount    *int   `envconfig:"NAUGHTY_COUNT"`
	ModelType       string `envconfig:"MODEL_TYPE"`
	ModelPath       string `envconfig:"MODEL_PATH"`
}

// LoadConfig reads the configuration from a YAML file, applies defaults and
// then environment overrides, and validates the result. Overrides come last
// so an explicit value such as NETGUARD_NAUGHTY_COUNT=0 is validated rather
// than replaced by a default.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	var ov Overrides
	if err := envconfig.Process(EnvPrefix, &ov); err != nil {
		return nil, fmt.Errorf("failed to process environment overrides: %w", err)
	}
	cfg.ApplyDefaults()
	cfg.ApplyOverrides(ov)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML bytes into a Config without defaults or validation.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}
	return &cfg, nil
}

// ApplyOverrides copies every set override onto the config.
func (c *Config) ApplyOverrides(ov Overrides) {
	if ov.Interface != "" {
		c.Interface = ov.Interface
	}
	if ov.FirewallEnabled != nil {
		c.FirewallEnabled = *ov.FirewallEnabled
	}
	if ov.NaughtyCount != nil {
		c.NaughtyCount = *ov.NaughtyCount
	}
	if ov.ModelType != "" {
		c.ModelType = ov.ModelType
	}
	if ov.ModelPath != "" {
		c.ModelPath = ov.ModelPath
	}
}

// ApplyDefaults fills every zero-valued setting that has a sensible default.
func (c *Config) ApplyDefaults() {
	if c.NaughtyCount == 0 {
		c.NaughtyCount = 3
	}
	if c.ModelType == "" {
		c.ModelType = "heuristic"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.Capture.SnapshotLen <= 0 {
		c.Capture.SnapshotLen = 1600
	}
	if c.Capture.Duration == "" {
		c.Capture.Duration = "10s"
	}
	if c.Capture.WorkDir == "" {
		c.Capture.WorkDir = "pcap_info"
	}

	if c.Extractor.Type == "" {
		c.Extractor.Type = "builtin"
	}
	if c.Extractor.Type == "cicflowmeter" && c.Extractor.Command == "" {
		c.Extractor.Command = "cicflowmeter"
	}
	if c.Extractor.Type == "cicflowmeter" && len(c.Extractor.Args) == 0 {
		c.Extractor.Args = []string{"-f", "{pcap}", "-c", "{csv}"}
	}
	if c.Extractor.FlowTimeout == "" {
		c.Extractor.FlowTimeout = "120s"
	}

	if c.Parser.MinRows <= 0 {
		c.Parser.MinRows = 1
	}

	if c.Firewall.Backend == "" {
		c.Firewall.Backend = "nftables"
	}
	if c.Firewall.Table == "" {
		c.Firewall.Table = "netguard"
	}
	if c.Firewall.ReconcileInterval == "" {
		c.Firewall.ReconcileInterval = "30s"
	}

	if c.FlowLog.Path == "" {
		c.FlowLog.Path = "logs/flow_file.txt"
	}
	if c.FlowLog.MaxSizeMB <= 0 {
		c.FlowLog.MaxSizeMB = 100
	}

	if c.ClickHouse.Port == 0 {
		c.ClickHouse.Port = 9000
	}
	if c.ClickHouse.Database == "" {
		c.ClickHouse.Database = "default"
	}

	if c.NATS.URL == "" {
		c.NATS.URL = "nats://127.0.0.1:4222"
	}
	if c.NATS.EventSubject == "" {
		c.NATS.EventSubject = "netguard.events"
	}
	if c.NATS.ControlSubject == "" {
		c.NATS.ControlSubject = "netguard.control"
	}

	if c.API.ListenAddr == "" {
		c.API.ListenAddr = "127.0.0.1:8086"
	}

	if c.Alerter.CheckInterval == "" {
		c.Alerter.CheckInterval = "1m"
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Interface == "" {
		return fmt.Errorf("interface must be set")
	}
	if c.NaughtyCount < 1 {
		return fmt.Errorf("naughty_count must be at least 1, got %d", c.NaughtyCount)
	}
	if !isModelType(c.ModelType) {
		return fmt.Errorf("unknown model_type '%s', expected one of %s", c.ModelType, strings.Join(ModelTypes, ", "))
	}
	if c.ModelType != "heuristic" && c.ModelPath == "" {
		return fmt.Errorf("model_path is required for model_type '%s'", c.ModelType)
	}
	if _, err := c.ProtectedAddrs(); err != nil {
		return err
	}

	captureDuration, err := c.CaptureDuration()
	if err != nil {
		return err
	}
	if _, err := c.FlowTimeout(); err != nil {
		return err
	}
	if _, err := c.ReconcileInterval(); err != nil {
		return err
	}
	if _, err := c.BlockTTL(); err != nil {
		return err
	}
	deadline, err := c.CycleDeadlineDuration()
	if err != nil {
		return err
	}
	// A deadline the capture cannot finish within discards every cycle.
	if deadline > 0 && deadline <= captureDuration {
		return fmt.Errorf("cycle_deadline (%s) must be longer than capture.duration (%s)", deadline, captureDuration)
	}
	if _, err := c.AlerterInterval(); err != nil {
		return err
	}

	switch c.Extractor.Type {
	case "builtin", "cicflowmeter":
	default:
		return fmt.Errorf("unknown extractor type '%s'", c.Extractor.Type)
	}
	switch c.Firewall.Backend {
	case "nftables", "memory":
	default:
		return fmt.Errorf("unknown firewall backend '%s'", c.Firewall.Backend)
	}
	return nil
}

// ProtectedAddrs parses interface_data into addresses that must never be blocked.
func (c *Config) ProtectedAddrs() ([]netip.Addr, error) {
	addrs := make([]netip.Addr, 0, len(c.InterfaceData))
	for _, s := range c.InterfaceData {
		s = strings.TrimSpace(s)
		if prefix, err := netip.ParsePrefix(s); err == nil {
			addrs = append(addrs, prefix.Addr())
			continue
		}
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("invalid interface_data entry '%s': %w", s, err)
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// CaptureDuration returns how long each cycle captures for.
func (c *Config) CaptureDuration() (time.Duration, error) {
	return positiveDuration("capture.duration", c.Capture.Duration)
}

// FlowTimeout returns the idle timeout that splits flows in the builtin extractor.
func (c *Config) FlowTimeout() (time.Duration, error) {
	return positiveDuration("extractor.flow_timeout", c.Extractor.FlowTimeout)
}

// ReconcileInterval returns the period of the firewall reconciler.
func (c *Config) ReconcileInterval() (time.Duration, error) {
	return positiveDuration("firewall.reconcile_interval", c.Firewall.ReconcileInterval)
}

// BlockTTL returns the block expiry. Zero means blocks never expire.
func (c *Config) BlockTTL() (time.Duration, error) {
	return optionalDuration("firewall.block_ttl", c.Firewall.BlockTTL)
}

// CycleDeadlineDuration returns the per-cycle deadline. Zero means no deadline.
func (c *Config) CycleDeadlineDuration() (time.Duration, error) {
	return optionalDuration("cycle_deadline", c.CycleDeadline)
}

// AlerterInterval returns how often pending block alerts are mailed.
func (c *Config) AlerterInterval() (time.Duration, error) {
	return positiveDuration("alerter.check_interval", c.Alerter.CheckInterval)
}

func positiveDuration(name, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration", name)
	}
	return d, nil
}

func optionalDuration(name, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", name)
	}
	return d, nil
}

func isModelType(t string) bool {
	for _, m := range ModelTypes {
		if m == t {
			return true
		}
	}
	return false
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DataDir    string `yaml:"data_dir"`
	SMTPHost   string `yaml:"smtp_host"`
	SMTPPort   int    `yaml:"smtp_port"`
	Domain     string `yaml:"domain"`
	Postmaster string `yaml:"postmaster"`
	InfoURL    string `yaml:"info_url"`
	PIDFile    string `yaml:"pid_file"`
	LogFile    string `yaml:"log_file"`
	Verbose    bool   `yaml:"verbose"`

	// RelayTimeout bounds the dial and each command sent to the relay.
	RelayTimeout time.Duration `yaml:"relay_timeout"`

	MaxMembers             int           `yaml:"max_members"`
	MaxMailLength          Size          `yaml:"max_mail_length"`
	MLLifeTime             time.Duration `yaml:"ml_life_time"`
	MLAlertTime            time.Duration `yaml:"ml_alert_time"`
	SweepInterval          time.Duration `yaml:"sweep_interval"`
	AllowableErrorInterval time.Duration `yaml:"allowable_error_interval"`
	MaxThreads             int           `yaml:"max_threads"`
	Timeout                time.Duration `yaml:"timeout"`
	AutoUnsubscribeCount   int           `yaml:"auto_unsubscribe_count"`

	Port         int    `yaml:"port"`
	BindAddress  string `yaml:"bind_address"`
	UseQmailVERP bool   `yaml:"use_qmail_verp"`

	CreatorCheck     bool     `yaml:"creator_check"`
	CreatorAddresses []string `yaml:"creator_addresses"`
	MemberCheck      bool     `yaml:"member_check"`
	MemberAddresses  []string `yaml:"member_addresses"`
	SenderCheck      bool     `yaml:"sender_check"`
	SenderAddresses  []string `yaml:"sender_addresses"`

	ContentType       string `yaml:"content_type"`
	ConfirmMLCreation bool   `yaml:"confirm_ml_creation"`
	MessageCatalog    string `yaml:"message_catalog"`

	StoreDriver string `yaml:"store"`
	DBPath      string `yaml:"db_path"`
	RedisURL    string `yaml:"redis_url"`

	Transport string `yaml:"transport"`
	SESRegion string `yaml:"ses_region"`
	SESKey    string `yaml:"ses_access_key_id"`
	SESSecret string `yaml:"ses_secret_access_key"`

	HTTPPort int `yaml:"http_port"`
}

// Size is a byte count that also accepts humanized values such as "100KB".
type Size int64

func (s *Size) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := parseSize(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*s = parsed
	return nil
}

func (s Size) String() string {
	return humanize.Comma(int64(s))
}

func parseSize(value string) (Size, error) {
	trimmed := strings.TrimSpace(value)
	if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return Size(n), nil
	}
	n, err := humanize.ParseBytes(trimmed)
	if err != nil {
		return 0, fmt.Errorf("parse size %q: %w", value, err)
	}
	return Size(n), nil
}

// Default returns the stock settings. DataDir, SMTPHost and Domain have no
// defaults.
func Default() Config {
	return Config{
		SMTPPort:               25,
		RelayTimeout:           5 * time.Minute,
		InfoURL:                "http://QuickML.com/",
		PIDFile:                "/var/run/quickml.pid",
		MaxMembers:             100,
		MaxMailLength:          100 * 1024,
		MLLifeTime:             30 * 24 * time.Hour,
		MLAlertTime:            29 * 24 * time.Hour,
		SweepInterval:          time.Hour,
		AllowableErrorInterval: 8600 * time.Second,
		MaxThreads:             10,
		Timeout:                120 * time.Second,
		AutoUnsubscribeCount:   5,
		Port:                   25,
		BindAddress:            "0.0.0.0",
		ContentType:            "text/plain",
		StoreDriver:            "file",
		Transport:              "smtp",
	}
}

// Load builds the configuration from defaults, the optional YAML file named
// by CONFIG_PATH, and environment overrides.
func Load() (Config, error) {
	cfg := Default()
	if path := getEnvString("CONFIG_PATH", ""); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	cfg.applyDerived()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	data = []byte(os.ExpandEnv(string(data)))
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.DataDir = getEnvString("QUICKML_DATA_DIR", cfg.DataDir)
	cfg.SMTPHost = getEnvString("QUICKML_SMTP_HOST", cfg.SMTPHost)
	cfg.SMTPPort = getEnvInt("QUICKML_SMTP_PORT", cfg.SMTPPort)
	cfg.Domain = getEnvString("QUICKML_DOMAIN", cfg.Domain)
	cfg.Postmaster = getEnvString("QUICKML_POSTMASTER", cfg.Postmaster)
	cfg.InfoURL = getEnvString("QUICKML_INFO_URL", cfg.InfoURL)
	cfg.PIDFile = getEnvString("QUICKML_PID_FILE", cfg.PIDFile)
	cfg.LogFile = getEnvString("QUICKML_LOG_FILE", cfg.LogFile)
	cfg.Verbose = getEnvBool("QUICKML_VERBOSE", cfg.Verbose)

	cfg.MaxMembers = getEnvInt("QUICKML_MAX_MEMBERS", cfg.MaxMembers)
	cfg.MaxMailLength = getEnvSize("QUICKML_MAX_MAIL_LENGTH", cfg.MaxMailLength)
	cfg.MLLifeTime = getEnvDuration("QUICKML_ML_LIFE_TIME", cfg.MLLifeTime)
	cfg.MLAlertTime = getEnvDuration("QUICKML_ML_ALERT_TIME", cfg.MLAlertTime)
	cfg.SweepInterval = getEnvDuration("QUICKML_SWEEP_INTERVAL", cfg.SweepInterval)
	cfg.AllowableErrorInterval = getEnvDuration("QUICKML_ALLOWABLE_ERROR_INTERVAL", cfg.AllowableErrorInterval)
	cfg.MaxThreads = getEnvInt("QUICKML_MAX_THREADS", cfg.MaxThreads)
	cfg.Timeout = getEnvDuration("QUICKML_TIMEOUT", cfg.Timeout)
	cfg.RelayTimeout = getEnvDuration("QUICKML_RELAY_TIMEOUT", cfg.RelayTimeout)
	cfg.AutoUnsubscribeCount = getEnvInt("QUICKML_AUTO_UNSUBSCRIBE_COUNT", cfg.AutoUnsubscribeCount)

	cfg.Port = getEnvInt("QUICKML_PORT", cfg.Port)
	cfg.BindAddress = getEnvString("QUICKML_BIND_ADDRESS", cfg.BindAddress)
	cfg.UseQmailVERP = getEnvBool("QUICKML_USE_QMAIL_VERP", cfg.UseQmailVERP)

	cfg.CreatorCheck = getEnvBool("QUICKML_CREATOR_CHECK", cfg.CreatorCheck)
	cfg.CreatorAddresses = getEnvList("QUICKML_CREATOR_ADDRESSES", cfg.CreatorAddresses)
	cfg.MemberCheck = getEnvBool("QUICKML_MEMBER_CHECK", cfg.MemberCheck)
	cfg.MemberAddresses = getEnvList("QUICKML_MEMBER_ADDRESSES", cfg.MemberAddresses)
	cfg.SenderCheck = getEnvBool("QUICKML_SENDER_CHECK", cfg.SenderCheck)
	cfg.SenderAddresses = getEnvList("QUICKML_SENDER_ADDRESSES", cfg.SenderAddresses)

	cfg.ConfirmMLCreation = getEnvBool("QUICKML_CONFIRM_ML_CREATION", cfg.ConfirmMLCreation)
	cfg.MessageCatalog = getEnvString("QUICKML_MESSAGE_CATALOG", cfg.MessageCatalog)

	cfg.StoreDriver = getEnvString("QUICKML_STORE", cfg.StoreDriver)
	cfg.DBPath = getEnvString("QUICKML_DB_PATH", cfg.DBPath)
	cfg.RedisURL = getEnvString("QUICKML_REDIS_URL", cfg.RedisURL)

	cfg.Transport = getEnvString("QUICKML_TRANSPORT", cfg.Transport)
	cfg.SESRegion = getEnvString("AWS_REGION", cfg.SESRegion)
	cfg.SESKey = getEnvString("AWS_ACCESS_KEY_ID", cfg.SESKey)
	cfg.SESSecret = getEnvString("AWS_SECRET_ACCESS_KEY", cfg.SESSecret)

	cfg.HTTPPort = getEnvInt("QUICKML_HTTP_PORT", cfg.HTTPPort)
}

// applyDerived fills the settings whose defaults depend on other settings.
func (c *Config) applyDerived() {
	if c.Postmaster == "" && c.Domain != "" {
		c.Postmaster = "postmaster@" + c.Domain
	}
	if len(c.CreatorAddresses) == 0 {
		c.CreatorAddresses = []string{c.Domain}
	}
	if len(c.MemberAddresses) == 0 {
		c.MemberAddresses = []string{c.Domain}
	}
	if len(c.SenderAddresses) == 0 {
		c.SenderAddresses = []string{c.Domain}
	}
	if c.ContentType == "" {
		c.ContentType = "text/plain"
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.Domain == "" {
		errs = append(errs, errors.New("domain is required"))
	}
	if c.SMTPHost == "" && c.Transport == "smtp" {
		errs = append(errs, errors.New("smtp_host is required"))
	}
	if c.DataDir == "" && c.StoreDriver == "file" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if c.MaxThreads < 1 {
		errs = append(errs, fmt.Errorf("max_threads must be positive, got %d", c.MaxThreads))
	}
	if c.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	if c.RelayTimeout <= 0 {
		errs = append(errs, errors.New("relay_timeout must be positive"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("sweep_interval must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// ListenAddr is the SMTP bind address.
func (c Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}

// RelayAddr is the outbound SMTP relay address.
func (c Config) RelayAddr() string {
	return fmt.Sprintf("%s:%d", c.SMTPHost, c.SMTPPort)
}

func getEnvString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if parsed, err := time.ParseDuration(trimmed); err == nil {
			return parsed
		}
		if seconds, err := strconv.Atoi(trimmed); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

func getEnvSize(key string, fallback Size) Size {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := parseSize(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	if value, ok := os.LookupEnv(key); ok {
		var items []string
		for _, item := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				items = append(items, trimmed)
			}
		}
		if len(items) > 0 {
			return items
		}
	}
	return fallback
}

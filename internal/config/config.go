package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	dbconfig "yacs/pkg/database"
)

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	Database  *DatabaseConfig
	HTTP      *HTTPConfig
	WebSocket *WebSocketConfig
	Auth      *AuthConfig
	Captcha   *CaptchaConfig
	Upload    *UploadConfig
	Custom    *CustomConfig
	Log       *LogConfig
}

// DatabaseConfig selects the SQLite driver and file
type DatabaseConfig struct {
	Driver          string
	Path            string
	MaxConnections  int
	WriteRetryDelay time.Duration
}

// HTTPConfig is the listener configuration
type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// WebSocketConfig holds keepalive timing for realtime connections
type WebSocketConfig struct {
	PingInterval    time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxMessageBytes int64
}

// AuthConfig holds the shared passphrases and the heartbeat timeout
type AuthConfig struct {
	AdminPhrase     string
	AdminPhraseHash string
	UserPhrase      string
	UserPhraseHash  string
	Timeout         time.Duration
}

// CaptchaConfig controls challenge generation and the challenge cache
type CaptchaConfig struct {
	Length    int
	MaxCache  int
	Expire    time.Duration
	Numbers   bool
	Lowercase bool
	Uppercase bool
}

// UploadConfig bounds uploads and locates stored resources
type UploadConfig struct {
	SizeMaxBytes int64
	ResourcePath string
}

// CustomConfig is room branding sent to clients
type CustomConfig struct {
	Title     string
	MOTD      string
	Emoticons []string
}

// LogConfig configures zerolog
type LogConfig struct {
	Level  string
	Pretty bool
}

const (
	defaultAdminPhrase = "admin"
	bytesPerMB         = 1000000
)

// DefaultConfig returns the stock settings
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Driver:          dbconfig.DriverCGO,
			Path:            "./yacs.db",
			MaxConnections:  10,
			WriteRetryDelay: 5 * time.Second,
		},
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         5000,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval:    30 * time.Second,
			ReadTimeout:     60 * time.Second,
			WriteTimeout:    5 * time.Second,
			MaxMessageBytes: 1 << 20,
		},
		Auth: &AuthConfig{
			AdminPhrase: defaultAdminPhrase,
			UserPhrase:  "",
			Timeout:     5000 * time.Millisecond,
		},
		Captcha: &CaptchaConfig{
			Length:    4,
			MaxCache:  60,
			Expire:    120 * time.Second,
			Lowercase: true,
		},
		Upload: &UploadConfig{
			SizeMaxBytes: 1024 * bytesPerMB,
			ResourcePath: "./resource",
		},
		Custom: &CustomConfig{
			Title:     "YACS",
			MOTD:      "",
			Emoticons: []string{},
		},
		Log: &LogConfig{
			Level: "info",
		},
	}
}

// Validate rejects configurations the server cannot safely run with
func (c *Config) Validate() error {
	if c.Database == nil || c.HTTP == nil || c.WebSocket == nil || c.Auth == nil ||
		c.Captcha == nil || c.Upload == nil || c.Custom == nil || c.Log == nil {
		return fmt.Errorf("all configuration sections are required")
	}

	if err := c.DatabaseConfig().Validate(); err != nil {
		return err
	}

	// Port 0 asks the kernel for a free port
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}

	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.MaxMessageBytes <= 0 {
		return fmt.Errorf("WebSocket max message size must be positive")
	}

	// FUNCTIONAL DISCOVERY: Both checks are fatal at startup
	if c.Auth.AdminPhrase == "" && c.Auth.AdminPhraseHash == "" {
		return fmt.Errorf("admin_phrase cannot be empty")
	}
	if c.Auth.AdminPhraseHash == "" && c.Auth.UserPhraseHash == "" && c.Auth.AdminPhrase == c.Auth.UserPhrase {
		return fmt.Errorf("user_phrase and admin_phrase must differ")
	}
	if c.Auth.Timeout <= 0 {
		return fmt.Errorf("session timeout must be positive")
	}

	if c.Captcha.Length <= 0 {
		return fmt.Errorf("captcha length must be positive")
	}
	if c.Captcha.MaxCache <= 0 {
		return fmt.Errorf("captcha max_cache must be positive")
	}
	if c.Captcha.Expire <= 0 {
		return fmt.Errorf("captcha expire must be positive")
	}

	if c.Upload.SizeMaxBytes <= 0 {
		return fmt.Errorf("upload size_max must be positive")
	}
	if c.Upload.ResourcePath == "" {
		return fmt.Errorf("resource path cannot be empty")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level must be one of debug, info, warn, error")
	}

	return nil
}

// WarnInsecureDefaults logs when the stock passphrases are still in use
func (c *Config) WarnInsecureDefaults() bool {
	if c.Auth.AdminPhraseHash == "" && c.Auth.UserPhraseHash == "" &&
		c.Auth.AdminPhrase == defaultAdminPhrase && c.Auth.UserPhrase == "" {
		log.Warn().Msg("passphrases are the defaults: no user passphrase and \"admin\" for admin, this is not safe")
		return true
	}
	return false
}

// DatabaseConfig converts the database section for pkg/database
func (c *Config) DatabaseConfig() *dbconfig.Config {
	cfg := dbconfig.DefaultConfig()
	cfg.Driver = c.Database.Driver
	cfg.DatabasePath = c.Database.Path
	cfg.MaxConnections = c.Database.MaxConnections
	cfg.WriteRetryDelay = c.Database.WriteRetryDelay
	return cfg
}

// Address is the host:port to listen on
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// FUNCTIONAL DISCOVERY: Environment variable configuration enables deployment flexibility
func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config)
	return config
}

func applyEnv(config *Config) {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv("YACS_" + key); ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v := os.Getenv("YACS_" + key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v := os.Getenv("YACS_" + key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}
	boolean := func(key string, dst *bool) {
		if v := os.Getenv("YACS_" + key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	str("DATABASE_DRIVER", &config.Database.Driver)
	str("DATABASE_PATH", &config.Database.Path)
	duration("DATABASE_WRITE_RETRY_DELAY", &config.Database.WriteRetryDelay)

	str("HTTP_HOST", &config.HTTP.Host)
	integer("HTTP_PORT", &config.HTTP.Port)
	duration("HTTP_READ_TIMEOUT", &config.HTTP.ReadTimeout)
	duration("HTTP_WRITE_TIMEOUT", &config.HTTP.WriteTimeout)

	duration("WEBSOCKET_PING_INTERVAL", &config.WebSocket.PingInterval)
	duration("WEBSOCKET_READ_TIMEOUT", &config.WebSocket.ReadTimeout)
	duration("WEBSOCKET_WRITE_TIMEOUT", &config.WebSocket.WriteTimeout)

	str("ADMIN_PHRASE", &config.Auth.AdminPhrase)
	str("ADMIN_PHRASE_HASH", &config.Auth.AdminPhraseHash)
	str("USER_PHRASE", &config.Auth.UserPhrase)
	str("USER_PHRASE_HASH", &config.Auth.UserPhraseHash)
	duration("TIMEOUT", &config.Auth.Timeout)

	integer("CAPTCHA_LENGTH", &config.Captcha.Length)
	integer("CAPTCHA_MAX_CACHE", &config.Captcha.MaxCache)
	duration("CAPTCHA_EXPIRE", &config.Captcha.Expire)

	str("RESOURCE_PATH", &config.Upload.ResourcePath)
	str("TITLE", &config.Custom.Title)

	str("LOG_LEVEL", &config.Log.Level)
	boolean("LOG_PRETTY", &config.Log.Pretty)
}

// ConfigFile is the on-disk layout, shared by JSON and YAML.
// Pointers distinguish "absent" from zero values.
type ConfigFile struct {
	Database  *DatabaseConfigFile  `json:"database" yaml:"database"`
	HTTP      *HTTPConfigFile      `json:"http" yaml:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket" yaml:"websocket"`
	App       *AppConfigFile       `json:"app" yaml:"app"`
	Captcha   *CaptchaConfigFile   `json:"captcha" yaml:"captcha"`
	Resource  *ResourceConfigFile  `json:"res" yaml:"res"`
	Custom    *CustomConfigFile    `json:"custom" yaml:"custom"`
}

type DatabaseConfigFile struct {
	Driver          string `json:"driver" yaml:"driver"`
	Path            string `json:"path" yaml:"path"`
	MaxConnections  int    `json:"max_connections" yaml:"max_connections"`
	WriteRetryDelay string `json:"write_retry_delay" yaml:"write_retry_delay"`
}

type HTTPConfigFile struct {
	Host         string `json:"ip" yaml:"ip"`
	Port         *int   `json:"port" yaml:"port"`
	ReadTimeout  string `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout string `json:"write_timeout" yaml:"write_timeout"`
}

type WebSocketConfigFile struct {
	PingInterval string `json:"ping_interval" yaml:"ping_interval"`
	ReadTimeout  string `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout string `json:"write_timeout" yaml:"write_timeout"`
}

type AppConfigFile struct {
	AdminPhrase     *string `json:"admin_phrase" yaml:"admin_phrase"`
	AdminPhraseHash string  `json:"admin_phrase_hash" yaml:"admin_phrase_hash"`
	UserPhrase      *string `json:"user_phrase" yaml:"user_phrase"`
	UserPhraseHash  string  `json:"user_phrase_hash" yaml:"user_phrase_hash"`
	TimeoutMS       int     `json:"timeout" yaml:"timeout"`
	LogLevel        string  `json:"log_level" yaml:"log_level"`
	LogPretty       *bool   `json:"log_pretty" yaml:"log_pretty"`
}

type CaptchaConfigFile struct {
	Length        int                 `json:"length" yaml:"length"`
	MaxCache      int                 `json:"max_cache" yaml:"max_cache"`
	ExpireSeconds int                 `json:"expire" yaml:"expire"`
	Options       *CaptchaOptionsFile `json:"options" yaml:"options"`
}

type CaptchaOptionsFile struct {
	Numbers   bool `json:"numbers" yaml:"numbers"`
	Lowercase bool `json:"lowercase" yaml:"lowercase"`
	Uppercase bool `json:"uppercase" yaml:"uppercase"`
}

type ResourceConfigFile struct {
	Path      string `json:"path" yaml:"path"`
	SizeMaxMB int64  `json:"size_max" yaml:"size_max"`
}

type CustomConfigFile struct {
	Title     *string  `json:"title" yaml:"title"`
	MOTD      *string  `json:"motd" yaml:"motd"`
	Emoticons []string `json:"emoticons" yaml:"emoticons"`
}

// LoadFromFile reads a YAML (.yaml/.yml) or JSON file over the defaults
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, path); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

func applyFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file ConfigFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	default:
		err = json.Unmarshal(data, &file)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return file.apply(config)
}

func (f *ConfigFile) apply(config *Config) error {
	parse := func(name, value string, dst *time.Duration) error {
		if value == "" {
			return nil
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = d
		return nil
	}

	if db := f.Database; db != nil {
		if db.Driver != "" {
			config.Database.Driver = db.Driver
		}
		if db.Path != "" {
			config.Database.Path = db.Path
		}
		if db.MaxConnections > 0 {
			config.Database.MaxConnections = db.MaxConnections
		}
		if err := parse("database.write_retry_delay", db.WriteRetryDelay, &config.Database.WriteRetryDelay); err != nil {
			return err
		}
	}

	if h := f.HTTP; h != nil {
		if h.Host != "" {
			config.HTTP.Host = h.Host
		}
		if h.Port != nil {
			config.HTTP.Port = *h.Port
		}
		if err := parse("http.read_timeout", h.ReadTimeout, &config.HTTP.ReadTimeout); err != nil {
			return err
		}
		if err := parse("http.write_timeout", h.WriteTimeout, &config.HTTP.WriteTimeout); err != nil {
			return err
		}
	}

	if ws := f.WebSocket; ws != nil {
		if err := parse("websocket.ping_interval", ws.PingInterval, &config.WebSocket.PingInterval); err != nil {
			return err
		}
		if err := parse("websocket.read_timeout", ws.ReadTimeout, &config.WebSocket.ReadTimeout); err != nil {
			return err
		}
		if err := parse("websocket.write_timeout", ws.WriteTimeout, &config.WebSocket.WriteTimeout); err != nil {
			return err
		}
	}

	if app := f.App; app != nil {
		if app.AdminPhrase != nil {
			config.Auth.AdminPhrase = *app.AdminPhrase
		}
		if app.UserPhrase != nil {
			config.Auth.UserPhrase = *app.UserPhrase
		}
		if app.AdminPhraseHash != "" {
			config.Auth.AdminPhraseHash = app.AdminPhraseHash
		}
		if app.UserPhraseHash != "" {
			config.Auth.UserPhraseHash = app.UserPhraseHash
		}
		if app.TimeoutMS > 0 {
			config.Auth.Timeout = time.Duration(app.TimeoutMS) * time.Millisecond
		}
		if app.LogLevel != "" {
			config.Log.Level = strings.ToLower(app.LogLevel)
		}
		if app.LogPretty != nil {
			config.Log.Pretty = *app.LogPretty
		}
	}

	if c := f.Captcha; c != nil {
		if c.Length > 0 {
			config.Captcha.Length = c.Length
		}
		if c.MaxCache > 0 {
			config.Captcha.MaxCache = c.MaxCache
		}
		if c.ExpireSeconds > 0 {
			config.Captcha.Expire = time.Duration(c.ExpireSeconds) * time.Second
		}
		if o := c.Options; o != nil {
			config.Captcha.Numbers = o.Numbers
			config.Captcha.Lowercase = o.Lowercase
			config.Captcha.Uppercase = o.Uppercase
		}
	}

	if r := f.Resource; r != nil {
		if r.Path != "" {
			config.Upload.ResourcePath = r.Path
		}
		if r.SizeMaxMB > 0 {
			config.Upload.SizeMaxBytes = r.SizeMaxMB * bytesPerMB
		}
	}

	if c := f.Custom; c != nil {
		if c.Title != nil {
			config.Custom.Title = *c.Title
		}
		if c.MOTD != nil {
			config.Custom.MOTD = *c.MOTD
		}
		if c.Emoticons != nil {
			config.Custom.Emoticons = c.Emoticons
		}
	}

	return nil
}

// LoadConfigWithPrecedence layers file > environment > defaults.
// A file that cannot be read or parsed is an error; the result is validated.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	config := LoadFromEnv()

	if path != "" {
		if err := applyFile(config, path); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "STATSPACK"

type ServerConfig struct {
	Port        int      `mapstructure:"port"`
	APIPort     int      `mapstructure:"apiPort"`
	Domain      string   `mapstructure:"domain"`
	BaseURL     string   `mapstructure:"baseURL"`
	Secure      bool     `mapstructure:"secure"`
	LoginRate   float64  `mapstructure:"loginRate"`
	LoginBurst  int      `mapstructure:"loginBurst"`
	CORSOrigins []string `mapstructure:"corsOrigins"`
}

type DatabaseConfig struct {
	Type            string        `mapstructure:"type"`
	Path            string        `mapstructure:"path"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"sslMode"`
	MaxOpenConns    int           `mapstructure:"maxOpenConns"`
	MaxIdleConns    int           `mapstructure:"maxIdleConns"`
	ConnMaxLifetime time.Duration `mapstructure:"connMaxLifetime"`
}

type AuthConfig struct {
	AdminEmail        string        `mapstructure:"adminEmail"`
	LockoutThreshold  int           `mapstructure:"lockoutThreshold"`
	LockoutDuration   time.Duration `mapstructure:"lockoutDuration"`
	ResetAttemptLimit int           `mapstructure:"resetAttemptLimit"`
	MinPasswordLength int           `mapstructure:"minPasswordLength"`
	BcryptCost        int           `mapstructure:"bcryptCost"`
	SessionTTL        time.Duration `mapstructure:"sessionTTL"`
	JWTSecret         string        `mapstructure:"jwtSecret"`
	JWTTTL            time.Duration `mapstructure:"jwtTTL"`
	DecoySecret       string        `mapstructure:"decoySecret"`
}

type StripeConfig struct {
	SecretKey      string        `mapstructure:"secretKey"`
	WebhookSecret  string        `mapstructure:"webhookSecret"`
	MonthlyPriceID string        `mapstructure:"monthlyPriceID"`
	AnnualPriceID  string        `mapstructure:"annualPriceID"`
	SuccessURL     string        `mapstructure:"successURL"`
	CancelURL      string        `mapstructure:"cancelURL"`
	ReturnURL      string        `mapstructure:"returnURL"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

type ExportConfig struct {
	Endpoint   string        `mapstructure:"endpoint"`
	Region     string        `mapstructure:"region"`
	Bucket     string        `mapstructure:"bucket"`
	AccessKey  string        `mapstructure:"accessKey"`
	SecretKey  string        `mapstructure:"secretKey"`
	LinkExpiry time.Duration `mapstructure:"linkExpiry"`
}

// Enabled reports whether exports should be uploaded to object storage
// instead of streamed back to the admin.
func (e ExportConfig) Enabled() bool {
	return e.Bucket != "" && e.AccessKey != "" && e.SecretKey != ""
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	JSON       bool   `mapstructure:"json"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"maxSizeMB"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAgeDays"`
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Stripe   StripeConfig   `mapstructure:"stripe"`
	Export   ExportConfig   `mapstructure:"export"`
	Log      LogConfig      `mapstructure:"log"`
}

// IsAdmin reports whether email is the configured admin identity.
func (c *Config) IsAdmin(email string) bool {
	admin := strings.TrimSpace(c.Auth.AdminEmail)
	return admin != "" && strings.EqualFold(admin, strings.TrimSpace(email))
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.apiPort", 8081)
	v.SetDefault("server.domain", "localhost")
	v.SetDefault("server.baseURL", "http://localhost:8080")
	v.SetDefault("server.loginRate", 1.0)
	v.SetDefault("server.loginBurst", 10)
	v.SetDefault("server.corsOrigins", []string{"http://localhost:8080"})

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.path", "data/statspack.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "statspack")
	v.SetDefault("database.user", "statspack")
	v.SetDefault("database.password", "")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxOpenConns", 10)
	v.SetDefault("database.maxIdleConns", 5)
	v.SetDefault("database.connMaxLifetime", 30*time.Minute)

	v.SetDefault("auth.adminEmail", "")
	v.SetDefault("auth.lockoutThreshold", 5)
	v.SetDefault("auth.lockoutDuration", 15*time.Minute)
	v.SetDefault("auth.resetAttemptLimit", 3)
	v.SetDefault("auth.minPasswordLength", 8)
	v.SetDefault("auth.bcryptCost", 12)
	v.SetDefault("auth.sessionTTL", 24*time.Hour)
	v.SetDefault("auth.jwtSecret", "")
	v.SetDefault("auth.jwtTTL", time.Hour)
	v.SetDefault("auth.decoySecret", "")

	v.SetDefault("stripe.secretKey", "")
	v.SetDefault("stripe.webhookSecret", "")
	v.SetDefault("stripe.monthlyPriceID", "")
	v.SetDefault("stripe.annualPriceID", "")
	v.SetDefault("stripe.successURL", "http://localhost:8080/billing?message=checkout_complete")
	v.SetDefault("stripe.cancelURL", "http://localhost:8080/billing?message=checkout_canceled")
	v.SetDefault("stripe.returnURL", "http://localhost:8080/billing")
	v.SetDefault("stripe.timeout", 10*time.Second)

	v.SetDefault("export.endpoint", "")
	v.SetDefault("export.region", "us-east-1")
	v.SetDefault("export.bucket", "")
	v.SetDefault("export.accessKey", "")
	v.SetDefault("export.secretKey", "")
	v.SetDefault("export.linkExpiry", 15*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.maxSizeMB", 100)
	v.SetDefault("log.maxBackups", 5)
	v.SetDefault("log.maxAgeDays", 30)
}

// LoadConfig loads the configuration from file and environment variables.
// An empty path skips the file and relies on defaults and the environment.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
			log.Printf("Warning: Could not read config file: %s. Using defaults or environment variables.", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// Only set secure default if it wasn't specified anywhere
	if !v.IsSet("server.secure") {
		env := os.Getenv(envPrefix + "_ENV")
		cfg.Server.Secure = env == "prod"
		log.Printf("Cookie security not specified, defaulting to %v based on environment", cfg.Server.Secure)
	}

	if cfg.Auth.AdminEmail == "" {
		log.Println("Admin email not specified, admin back-office is disabled")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings that would disable a security control.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database type: %q", c.Database.Type)
	}
	if c.Auth.LockoutThreshold < 1 {
		return fmt.Errorf("auth.lockoutThreshold must be at least 1, got %d", c.Auth.LockoutThreshold)
	}
	if c.Auth.LockoutDuration <= 0 {
		return fmt.Errorf("auth.lockoutDuration must be positive, got %s", c.Auth.LockoutDuration)
	}
	if c.Auth.ResetAttemptLimit < 1 {
		return fmt.Errorf("auth.resetAttemptLimit must be at least 1, got %d", c.Auth.ResetAttemptLimit)
	}
	if c.Auth.MinPasswordLength < 8 {
		return fmt.Errorf("auth.minPasswordLength must be at least 8, got %d", c.Auth.MinPasswordLength)
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("auth.sessionTTL must be positive, got %s", c.Auth.SessionTTL)
	}
	if c.Stripe.Timeout <= 0 {
		return fmt.Errorf("stripe.timeout must be positive, got %s", c.Stripe.Timeout)
	}
	return nil
}

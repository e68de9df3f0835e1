package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const insecureJWTSecret = "supersecretkey"

type Config struct {
	Env            string           `yaml:"env"`
	Addr           string           `yaml:"addr"`
	APITimeout     time.Duration    `yaml:"timeout"`
	DatabasePath   string           `yaml:"database_path"`
	MigrateOnStart bool             `yaml:"migrate_on_start"`
	Identity       IdentityConfig   `yaml:"identity"`
	Firebase       FirebaseConfig   `yaml:"firebase"`
	Push           PushConfig       `yaml:"push"`
	Redis          RedisConfig      `yaml:"redis"`
	Mail           MailConfig       `yaml:"mail"`
	ChangeFeed     ChangeFeedConfig `yaml:"changefeed"`
	RateLimit      RateLimitConfig  `yaml:"ratelimit"`
}

// IdentityConfig selects the identity provider. "local" issues HS256 ID
// tokens from the identities table; "firebase" delegates to Firebase Auth.
type IdentityConfig struct {
	Provider            string        `yaml:"provider"`
	JWTSecret           string        `yaml:"jwt_secret"`
	Issuer              string        `yaml:"issuer"`
	TokenDuration       time.Duration `yaml:"token_duration"`
	PasswordSetupURL    string        `yaml:"password_setup_url"`
	PasswordSetupExpiry time.Duration `yaml:"password_setup_expiry"`
}

type FirebaseConfig struct {
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`
}

type PushConfig struct {
	Transport               string        `yaml:"transport"`
	Icon                    string        `yaml:"icon"`
	Timeout                 time.Duration `yaml:"timeout"`
	CircuitFailureThreshold int           `yaml:"circuit_failure_threshold"`
	CircuitReset            time.Duration `yaml:"circuit_reset"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type MailConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"smtp_host"`
	Port     int    `yaml:"smtp_port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	FromName string `yaml:"from_name"`
}

type ChangeFeedConfig struct {
	Workers         int           `yaml:"workers"`
	MaxAttempts     int           `yaml:"max_attempts"`
	Lease           time.Duration `yaml:"lease"`
	Retention       time.Duration `yaml:"retention"`
	CleanupSchedule string        `yaml:"cleanup_schedule"`
}

type RateLimitConfig struct {
	CreateAccount time.Duration `yaml:"create_account"`
}

// LoadConfig builds the configuration from defaults, the process
// environment (a .env file is loaded first when present) and, when path is
// not empty, a YAML file whose values take precedence.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:            getEnv("HOSTEL_ENV", "production"),
		Addr:           getEnv("HOSTEL_ADDR", ":8080"),
		APITimeout:     getEnvDuration("HOSTEL_TIMEOUT", 15*time.Second),
		DatabasePath:   getEnv("HOSTEL_DATABASE_PATH", "hostel.db"),
		MigrateOnStart: getEnvBool("HOSTEL_MIGRATE_ON_START", true),
		Identity: IdentityConfig{
			Provider:            getEnv("HOSTEL_IDENTITY_PROVIDER", "local"),
			JWTSecret:           getEnv("HOSTEL_JWT_SECRET", insecureJWTSecret),
			Issuer:              getEnv("HOSTEL_JWT_ISSUER", "hostel"),
			TokenDuration:       getEnvDuration("HOSTEL_TOKEN_DURATION", time.Hour),
			PasswordSetupURL:    getEnv("HOSTEL_PASSWORD_SETUP_URL", "http://localhost:3000/set-password"),
			PasswordSetupExpiry: getEnvDuration("HOSTEL_PASSWORD_SETUP_EXPIRY", 72*time.Hour),
		},
		Firebase: FirebaseConfig{
			ProjectID:       getEnv("HOSTEL_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		},
		Push: PushConfig{
			Transport:               getEnv("HOSTEL_PUSH_TRANSPORT", "log"),
			Icon:                    getEnv("HOSTEL_PUSH_ICON", "/logo192.png"),
			Timeout:                 getEnvDuration("HOSTEL_PUSH_TIMEOUT", 10*time.Second),
			CircuitFailureThreshold: 5,
			CircuitReset:            30 * time.Second,
		},
		Redis: RedisConfig{
			URL: getEnv("HOSTEL_REDIS_URL", ""),
		},
		Mail: MailConfig{
			Enabled:  getEnvBool("HOSTEL_MAIL_ENABLED", false),
			Host:     getEnv("HOSTEL_SMTP_HOST", "localhost"),
			Port:     getEnvInt("HOSTEL_SMTP_PORT", 587),
			Username: getEnv("HOSTEL_SMTP_USERNAME", ""),
			Password: getEnv("HOSTEL_SMTP_PASSWORD", ""),
			From:     getEnv("HOSTEL_MAIL_FROM", "no-reply@hostel.local"),
			FromName: getEnv("HOSTEL_MAIL_FROM_NAME", "Hostel Office"),
		},
		ChangeFeed: ChangeFeedConfig{
			Workers:         getEnvInt("HOSTEL_CHANGEFEED_WORKERS", 2),
			MaxAttempts:     5,
			Lease:           5 * time.Minute,
			Retention:       7 * 24 * time.Hour,
			CleanupSchedule: "@hourly",
		},
		RateLimit: RateLimitConfig{
			CreateAccount: getEnvDuration("HOSTEL_RATELIMIT_CREATE_ACCOUNT", 2*time.Second),
		},
	}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		if err := dec.Decode(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("database_path is required"))
	}
	if c.APITimeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}

	switch c.Identity.Provider {
	case "local":
		if c.Identity.JWTSecret == "" {
			errs = append(errs, errors.New("identity.jwt_secret is required for the local provider"))
		}
		if c.Identity.JWTSecret == insecureJWTSecret && !c.IsDevelopment() {
			errs = append(errs, errors.New("identity.jwt_secret uses the insecure default outside development"))
		}
		if c.Identity.TokenDuration <= 0 {
			errs = append(errs, errors.New("identity.token_duration must be positive"))
		}
	case "firebase":
		if c.Firebase.ProjectID == "" {
			errs = append(errs, errors.New("firebase.project_id is required for the firebase provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("identity.provider %q is not one of local, firebase", c.Identity.Provider))
	}

	switch c.Push.Transport {
	case "log":
	case "fcm":
		if c.Firebase.ProjectID == "" {
			errs = append(errs, errors.New("firebase.project_id is required for the fcm transport"))
		}
	case "redis":
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("redis.url is required for the redis transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("push.transport %q is not one of log, fcm, redis", c.Push.Transport))
	}
	if c.Push.Timeout <= 0 {
		c.Push.Timeout = 10 * time.Second
	}
	if c.Push.CircuitFailureThreshold <= 0 {
		c.Push.CircuitFailureThreshold = 5
	}
	if c.Push.CircuitReset <= 0 {
		c.Push.CircuitReset = 30 * time.Second
	}

	if c.Mail.Enabled && (c.Mail.Host == "" || c.Mail.From == "") {
		errs = append(errs, errors.New("mail.smtp_host and mail.from are required when mail is enabled"))
	}

	if c.ChangeFeed.Workers <= 0 {
		c.ChangeFeed.Workers = 2
	}
	if c.ChangeFeed.MaxAttempts <= 0 {
		c.ChangeFeed.MaxAttempts = 5
	}
	if c.ChangeFeed.Lease <= 0 {
		c.ChangeFeed.Lease = 5 * time.Minute
	}

	return errors.Join(errs...)
}

// IsDevelopment reports whether the service runs in a development
// environment. HOSTEL_ENV overrides the configured value.
func (c *Config) IsDevelopment() bool {
	env := c.Env
	if v := os.Getenv("HOSTEL_ENV"); v != "" {
		env = v
	}
	return env == "development" || env == "dev"
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

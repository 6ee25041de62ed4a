package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig holds settings of the long-running daemon.
type ServerConfig struct {
	Mode          string
	Addr          string
	AuthToken     string
	GRPCAddr      string
	Metrics       bool
	ShutdownGrace time.Duration
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string
	Format string
}

// SchedulerConfig controls how cycles are evaluated and guarded.
type SchedulerConfig struct {
	UseUTC            bool
	AllowParallel     bool
	LockDriver        string
	LockName          string
	LockTTL           time.Duration
	CacheDriver       string
	Declarations      string
	WatchDeclarations bool
	RunHistoryKeep    int
}

// NATSConfig holds the connection used by the nats lock and cache drivers.
type NATSConfig struct {
	URL          string
	BucketPrefix string
}

// BarkConfig holds Bark notification settings.
type BarkConfig struct {
	URL     string
	Enabled bool
}

// NotificationConfig holds all notification settings.
type NotificationConfig struct {
	Bark          BarkConfig
	RatePerMinute int
}

// Config holds all runtime configuration options.
type Config struct {
	StateDir     string
	Server       ServerConfig
	Log          LogConfig
	Scheduler    SchedulerConfig
	NATS         NATSConfig
	Notification NotificationConfig
}

const (
	envPrefix = "TASKCRON_"

	ModeHTTP = "http"
	ModeMCP  = "mcp"
	ModeBoth = "both"
	ModeNone = "none"

	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverNATS   = "nats"

	defaultAddr           = "127.0.0.1:7070"
	defaultLogLevel       = "info"
	defaultLogFormat      = "text"
	defaultRunHistoryKeep = 50
	defaultShutdownGrace  = 5 * time.Second
	defaultLockName       = "taskcron.cycle"
	defaultLockTTL        = 30 * time.Minute
	defaultNATSURL        = "nats://localhost:4222"
	defaultNotifyRate     = 10
)

// getEnvString returns the environment variable value or default
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(envPrefix + key); ok {
		return val
	}
	return defaultVal
}

// getEnvInt returns the environment variable as int or default
func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(envPrefix + key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvBool returns the environment variable as bool or default
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(envPrefix + key); ok {
		lower := strings.ToLower(val)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultVal
}

// getEnvDuration returns the environment variable as duration or default
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(envPrefix + key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// LoadEnvFiles loads .env from the working directory, then from the user
// config directory. Variables already set in the environment win.
func LoadEnvFiles() {
	envFiles := []string{".env"}
	if configDir, err := os.UserConfigDir(); err == nil {
		envFiles = append(envFiles, filepath.Join(configDir, "taskcron", ".env"))
	}
	for _, f := range envFiles {
		_ = godotenv.Load(f) // optional
	}
}

// FromEnv builds a config from environment variables and defaults.
func FromEnv() *Config {
	return &Config{
		StateDir: getEnvString("STATE_DIR", ""),
		Server: ServerConfig{
			Mode:          getEnvString("MODE", ModeHTTP),
			Addr:          getEnvString("ADDR", defaultAddr),
			AuthToken:     getEnvString("AUTH_TOKEN", ""),
			GRPCAddr:      getEnvString("GRPC_ADDR", ""),
			Metrics:       getEnvBool("METRICS", true),
			ShutdownGrace: getEnvDuration("SHUTDOWN_GRACE", defaultShutdownGrace),
		},
		Log: LogConfig{
			Level:  getEnvString("LOG_LEVEL", defaultLogLevel),
			Format: getEnvString("LOG_FORMAT", defaultLogFormat),
		},
		Scheduler: SchedulerConfig{
			UseUTC:            getEnvBool("USE_UTC", false),
			AllowParallel:     getEnvBool("ALLOW_PARALLEL", false),
			LockDriver:        getEnvString("LOCK_DRIVER", DriverFile),
			LockName:          getEnvString("LOCK_NAME", defaultLockName),
			LockTTL:           getEnvDuration("LOCK_TTL", defaultLockTTL),
			CacheDriver:       getEnvString("CACHE_DRIVER", DriverSQLite),
			Declarations:      getEnvString("DECLARATIONS", ""),
			WatchDeclarations: getEnvBool("WATCH_DECLARATIONS", true),
			RunHistoryKeep:    getEnvInt("RUN_HISTORY_KEEP", defaultRunHistoryKeep),
		},
		NATS: NATSConfig{
			URL:          getEnvString("NATS_URL", defaultNATSURL),
			BucketPrefix: getEnvString("NATS_BUCKET", ""),
		},
		Notification: NotificationConfig{
			Bark: BarkConfig{
				URL:     getEnvString("BARK_URL", ""),
				Enabled: getEnvBool("BARK_ENABLED", false),
			},
			RatePerMinute: getEnvInt("NOTIFY_RATE_PER_MIN", defaultNotifyRate),
		},
	}
}

// Parse parses global flags and environment variables into Config and
// returns the remaining positional arguments.
// Priority: CLI flags > Environment variables > .env file > defaults
func Parse(args []string, output io.Writer) (*Config, []string, error) {
	LoadEnvFiles()
	cfg := FromEnv()

	fs := flag.NewFlagSet("taskcrond", flag.ContinueOnError)
	if output != nil {
		fs.SetOutput(output)
	}
	fs.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "Directory holding the database and lock files")
	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.Log.Format, "log-format", cfg.Log.Format, "Log format (text, json)")
	fs.BoolVar(&cfg.Scheduler.UseUTC, "use-utc", cfg.Scheduler.UseUTC, "Use UTC for cron evaluation instead of system local time")
	fs.BoolVar(&cfg.Scheduler.AllowParallel, "allow-parallel", cfg.Scheduler.AllowParallel, "Run cycles without the advisory lock")
	fs.StringVar(&cfg.Scheduler.LockDriver, "lock-driver", cfg.Scheduler.LockDriver, "Advisory lock backend (file, nats)")
	fs.StringVar(&cfg.Scheduler.CacheDriver, "cache-driver", cfg.Scheduler.CacheDriver, "Declared-task last-run cache backend (sqlite, nats)")
	fs.StringVar(&cfg.Scheduler.Declarations, "declarations", cfg.Scheduler.Declarations, "YAML file with declared tasks")
	fs.IntVar(&cfg.Scheduler.RunHistoryKeep, "run-history-keep", cfg.Scheduler.RunHistoryKeep, "Number of recent runs to retain per task")
	fs.StringVar(&cfg.NATS.URL, "nats-url", cfg.NATS.URL, "NATS server URL")
	fs.StringVar(&cfg.Server.Mode, "mode", cfg.Server.Mode, "Serve mode (http, mcp, both, none)")
	fs.StringVar(&cfg.Server.Addr, "addr", cfg.Server.Addr, "HTTP listen address")
	fs.StringVar(&cfg.Server.GRPCAddr, "grpc-addr", cfg.Server.GRPCAddr, "gRPC health listen address (empty disables)")
	fs.DurationVar(&cfg.Server.ShutdownGrace, "shutdown-grace", cfg.Server.ShutdownGrace, "Grace period when shutting down")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	if cfg.StateDir == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return nil, nil, fmt.Errorf("resolve default state dir: %w", err)
		}
		cfg.StateDir = dir
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, fs.Args(), nil
}

// Validate checks enumerated settings and fills in defaults for empty ones.
func (c *Config) Validate() error {
	switch c.Server.Mode {
	case ModeHTTP, ModeMCP, ModeBoth, ModeNone:
	default:
		return fmt.Errorf("invalid mode %q", c.Server.Mode)
	}
	switch c.Scheduler.LockDriver {
	case DriverFile, DriverNATS:
	default:
		return fmt.Errorf("invalid lock driver %q", c.Scheduler.LockDriver)
	}
	switch c.Scheduler.CacheDriver {
	case DriverSQLite, DriverNATS:
	default:
		return fmt.Errorf("invalid cache driver %q", c.Scheduler.CacheDriver)
	}
	if c.Scheduler.LockName == "" {
		c.Scheduler.LockName = defaultLockName
	}
	if c.Scheduler.RunHistoryKeep < 1 {
		c.Scheduler.RunHistoryKeep = defaultRunHistoryKeep
	}
	return nil
}

// Location returns the time zone cron expressions are evaluated in.
func (c *Config) Location() *time.Location {
	if c.Scheduler.UseUTC {
		return time.UTC
	}
	return time.Local
}

// UsesNATS reports whether any driver needs a NATS connection.
func (c *Config) UsesNATS() bool {
	return c.Scheduler.LockDriver == DriverNATS || c.Scheduler.CacheDriver == DriverNATS
}

func defaultStateDir() (string, error) {
	baseDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(baseDir, "taskcron")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

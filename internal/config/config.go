package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/adrg/xdg"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/NamanBalaji/gdl/internal/common"
)

var ErrInvalidConfig = errors.New("invalid config")

const (
	configFileName = "gdl"

	maxConcurrentDownloads = 4
	connections            = common.DefaultConnections
	maxRetries             = common.DefaultMaxRetries
	retryDelay             = common.DefaultRetryDelay
	progressInterval       = common.DefaultProgressInterval
	groupLoopInterval      = time.Second
	saveInterval           = 30 * time.Second
	startConfirmTimeout    = common.DefaultStartConfirmTimeout
	workers                = 64
)

var validate = validator.New()

// Config holds the configuration options for the application.
type Config struct {
	MaxConcurrentDownloads int           `yaml:"maxConcurrentDownloads,omitempty" validate:"min=1"`
	DownloadDir            string        `yaml:"downloadDir,omitempty" validate:"required"`
	Connections            int           `yaml:"connections,omitempty" validate:"min=1,max=32"`
	MaxRetries             int           `yaml:"maxRetries,omitempty" validate:"min=0"`
	RetryDelay             time.Duration `yaml:"retryDelay,omitempty" validate:"min=0"`
	ExponentialBackoff     bool          `yaml:"exponentialBackoff,omitempty"`
	ProgressInterval       time.Duration `yaml:"progressInterval,omitempty" validate:"gt=0"`
	GroupLoopInterval      time.Duration `yaml:"groupLoopInterval,omitempty" validate:"gt=0"`
	SaveInterval           time.Duration `yaml:"saveInterval,omitempty" validate:"gt=0"`
	StartConfirmTimeout    time.Duration `yaml:"startConfirmTimeout,omitempty" validate:"min=0"`
	Workers                int           `yaml:"workers,omitempty" validate:"min=1"`
	RequestsPerSecond      int           `yaml:"requestsPerSecond,omitempty" validate:"min=0"`
	Burst                  int           `yaml:"burst,omitempty" validate:"min=0"`
	ReplaceExisting        bool          `yaml:"replaceExisting,omitempty"`
	DBPath                 string        `yaml:"dbPath,omitempty" validate:"required"`
	LogFile                string        `yaml:"logFile,omitempty"`
}

// DefaultConfig returns the built-in settings, with directories under the
// XDG base directories.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentDownloads: maxConcurrentDownloads,
		DownloadDir:            filepath.Join(xdg.UserDirs.Download, configFileName),
		Connections:            connections,
		MaxRetries:             maxRetries,
		RetryDelay:             retryDelay,
		ProgressInterval:       progressInterval,
		GroupLoopInterval:      groupLoopInterval,
		SaveInterval:           saveInterval,
		StartConfirmTimeout:    startConfirmTimeout,
		Workers:                workers,
		DBPath:                 filepath.Join(xdg.DataHome, configFileName, "gdl.db"),
		LogFile:                filepath.Join(xdg.StateHome, configFileName, "gdl.log"),
	}
}

// GetConfig reads the configuration file under the XDG config home, fills
// unset fields with defaults and applies every flag the user changed.
// A missing config file is not an error.
func GetConfig(flags *pflag.FlagSet) (*Config, error) {
	cfg, err := Load(filepath.Join(xdg.ConfigHome, configFileName))
	if err != nil {
		return nil, err
	}

	if flags != nil {
		if err := cfg.ApplyFlags(flags); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Load reads path and merges it over the defaults without validating.
func Load(path string) (*Config, error) {
	defaults := DefaultConfig()

	var file Config

	b, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	if len(b) > 0 {
		if err := yaml.Unmarshal(b, &file); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}

	return &Config{
		MaxConcurrentDownloads: zeroOr(file.MaxConcurrentDownloads, defaults.MaxConcurrentDownloads),
		DownloadDir:            zeroOr(file.DownloadDir, defaults.DownloadDir),
		Connections:            zeroOr(file.Connections, defaults.Connections),
		MaxRetries:             zeroOr(file.MaxRetries, defaults.MaxRetries),
		RetryDelay:             zeroOr(file.RetryDelay, defaults.RetryDelay),
		ExponentialBackoff:     file.ExponentialBackoff,
		ProgressInterval:       zeroOr(file.ProgressInterval, defaults.ProgressInterval),
		GroupLoopInterval:      zeroOr(file.GroupLoopInterval, defaults.GroupLoopInterval),
		SaveInterval:           zeroOr(file.SaveInterval, defaults.SaveInterval),
		StartConfirmTimeout:    zeroOr(file.StartConfirmTimeout, defaults.StartConfirmTimeout),
		Workers:                zeroOr(file.Workers, defaults.Workers),
		RequestsPerSecond:      file.RequestsPerSecond,
		Burst:                  file.Burst,
		ReplaceExisting:        file.ReplaceExisting,
		DBPath:                 zeroOr(file.DBPath, defaults.DBPath),
		LogFile:                zeroOr(file.LogFile, defaults.LogFile),
	}, nil
}

// zeroOr returns def if v is the zero value for its type.
func zeroOr[T any](v, def T) T {
	if reflect.ValueOf(v).IsZero() {
		return def
	}

	return v
}

// RegisterFlags defines the override flags on fs. Defaults shown in the
// help text are the built-in ones; the file still wins unless a flag is set.
func RegisterFlags(fs *pflag.FlagSet) {
	d := DefaultConfig()

	fs.IntP("max-concurrent", "m", d.MaxConcurrentDownloads, "max number of downloads that run together")
	fs.StringP("dir", "d", d.DownloadDir, "directory new downloads are written to")
	fs.IntP("connections", "c", d.Connections, "parallel connections per download")
	fs.Int("max-retries", d.MaxRetries, "retries per connection before the download fails")
	fs.Duration("retry-delay", d.RetryDelay, "wait between retries")
	fs.Bool("exponential-backoff", false, "grow the retry delay exponentially")
	fs.Duration("progress-interval", d.ProgressInterval, "how often progress is reported")
	fs.Int("workers", d.Workers, "size of the shared worker pool")
	fs.Int("rps", 0, "max HTTP requests per second, 0 disables throttling")
	fs.Int("burst", 0, "request burst allowed by the throttle")
	fs.Bool("replace", false, "overwrite existing files instead of renaming")
	fs.String("db", d.DBPath, "path to the download database")
	fs.String("log-file", d.LogFile, "path to the log file")
}

// ApplyFlags copies the value of every changed flag into c. Flags that
// were not registered on fs are ignored.
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	var errs []error

	setInt := func(name string, dst *int) {
		if f := fs.Lookup(name); f != nil && f.Changed {
			v, err := fs.GetInt(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	setString := func(name string, dst *string) {
		if f := fs.Lookup(name); f != nil && f.Changed {
			v, err := fs.GetString(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	setBool := func(name string, dst *bool) {
		if f := fs.Lookup(name); f != nil && f.Changed {
			v, err := fs.GetBool(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	setDuration := func(name string, dst *time.Duration) {
		if f := fs.Lookup(name); f != nil && f.Changed {
			v, err := fs.GetDuration(name)
			errs = append(errs, err)
			*dst = v
		}
	}

	setInt("max-concurrent", &c.MaxConcurrentDownloads)
	setString("dir", &c.DownloadDir)
	setInt("connections", &c.Connections)
	setInt("max-retries", &c.MaxRetries)
	setDuration("retry-delay", &c.RetryDelay)
	setBool("exponential-backoff", &c.ExponentialBackoff)
	setDuration("progress-interval", &c.ProgressInterval)
	setInt("workers", &c.Workers)
	setInt("rps", &c.RequestsPerSecond)
	setInt("burst", &c.Burst)
	setBool("replace", &c.ReplaceExisting)
	setString("db", &c.DBPath)
	setString("log-file", &c.LogFile)

	return errors.Join(errs...)
}

// Validate checks every field against its constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return nil
}

// Options returns per-download options seeded from the configuration.
func (c *Config) Options() *common.Options {
	opts := common.DefaultOptions()
	opts.Directory = c.DownloadDir
	opts.Connections = c.Connections
	opts.MaxRetries = c.MaxRetries
	opts.RetryDelay = c.RetryDelay
	opts.ExponentialBackoff = c.ExponentialBackoff
	opts.ProgressInterval = c.ProgressInterval
	opts.StartConfirmTimeout = c.StartConfirmTimeout
	opts.ReplaceExisting = c.ReplaceExisting

	return opts
}

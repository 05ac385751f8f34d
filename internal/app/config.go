package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/alemelgarejo/docker-database-manager/internal/domain"
	"github.com/alemelgarejo/docker-database-manager/internal/usecase/images"
	"github.com/alemelgarejo/docker-database-manager/internal/usecase/migration"
	"github.com/alemelgarejo/docker-database-manager/internal/usecase/provision"
	"github.com/alemelgarejo/docker-database-manager/internal/usecase/volumes"
)

// EnvPrefix prefixes every environment override, e.g. DDM_LOGGING_LEVEL.
const EnvPrefix = "DDM"

const (
	defaultMetricsListen  = "127.0.0.1:9464"
	defaultSampleInterval = 15 * time.Second
	defaultSourceTimeout  = 10 * time.Second
)

// Config holds the application configuration.
type Config struct {
	Logging struct {
		Level  string `mapstructure:"level" validate:"omitempty,oneof=trace debug info warn error"`
		Format string `mapstructure:"format" validate:"omitempty,oneof=console json"`
		File   struct {
			Enabled    bool   `mapstructure:"enabled"`
			Path       string `mapstructure:"path"`
			MaxSize    int    `mapstructure:"max_size" validate:"gte=0"`
			MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
			MaxAge     int    `mapstructure:"max_age" validate:"gte=0"`
		} `mapstructure:"file"`
	} `mapstructure:"logging"`

	Docker struct {
		// Host overrides DOCKER_HOST when set.
		Host string `mapstructure:"host"`
	} `mapstructure:"docker"`

	Images struct {
		PullTimeout time.Duration `mapstructure:"pull_timeout" validate:"gte=0"`
	} `mapstructure:"images"`

	Provision struct {
		StopSettleDelay time.Duration `mapstructure:"stop_settle_delay" validate:"gte=0"`
		MaxPortSearch   int           `mapstructure:"max_port_search" validate:"gte=0"`
	} `mapstructure:"provision"`

	Migration struct {
		BasePort            int           `mapstructure:"base_port" validate:"gte=1,lte=65535"`
		DefaultMajorVersion string        `mapstructure:"default_major_version" validate:"required,numeric"`
		HelperNetworkMode   string        `mapstructure:"helper_network_mode" validate:"required"`
		ReadyInterval       time.Duration `mapstructure:"ready_interval" validate:"gte=0"`
		ReadyMaxAttempts    int           `mapstructure:"ready_max_attempts" validate:"gte=1"`
		HelperSettleDelay   time.Duration `mapstructure:"helper_settle_delay" validate:"gte=0"`
		ScratchDir          string        `mapstructure:"scratch_dir"`
		SourceTimeout       time.Duration `mapstructure:"source_timeout" validate:"gte=0"`
	} `mapstructure:"migration"`

	Volumes struct {
		HelperImage string `mapstructure:"helper_image" validate:"required"`
		// BackupDir defaults to a backups directory under DefaultDataDir.
		BackupDir string `mapstructure:"backup_dir"`
	} `mapstructure:"volumes"`

	Metrics struct {
		Listen         string        `mapstructure:"listen" validate:"required,hostname_port"`
		SampleInterval time.Duration `mapstructure:"sample_interval" validate:"gt=0"`
	} `mapstructure:"metrics"`
}

var validate = newValidator()

// newValidator reports fields by their config key rather than the Go name.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("mapstructure"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// LoadConfig reads configuration from, in increasing precedence, built-in
// defaults, the config file, the optional .env file and DDM_* environment
// variables. An empty configPath searches the standard locations; an empty
// envFile selects ".env" in the working directory.
func LoadConfig(configPath, envFile string) (Config, error) {
	if err := loadDotEnv(envFile); err != nil {
		return Config{}, err
	}

	v := viper.New()
	if err := loadConfig(v, configPath); err != nil {
		return Config{}, fmt.Errorf("failed to load config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the struct constraints and reports the first violation as
// a ConfigError naming the key.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &domain.ConfigError{
			Field:  configKey(fe.Namespace()),
			Value:  fmt.Sprint(fe.Value()),
			Reason: "failed " + fe.Tag() + " constraint",
		}
	}
	return &domain.ConfigError{Field: "config", Reason: err.Error()}
}

// configKey strips the root struct name from a validator namespace, turning
// Config.migration.base_port into migration.base_port.
func configKey(namespace string) string {
	if _, key, ok := strings.Cut(namespace, "."); ok {
		return key
	}
	return namespace
}

// loadDotEnv exports the variables of envFile into the process environment
// without overriding variables already set. A missing file is not an error.
func loadDotEnv(envFile string) error {
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat env file: %w", err)
	}
	if err := godotenv.Load(envFile); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", envFile, err)
	}
	return nil
}

func loadConfig(v *viper.Viper, configPath string) error {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file.enabled", false)
	v.SetDefault("logging.file.path", "")
	v.SetDefault("logging.file.max_size", 100)
	v.SetDefault("logging.file.max_backups", 3)
	v.SetDefault("logging.file.max_age", 28)
	v.SetDefault("docker.host", "")
	v.SetDefault("images.pull_timeout", images.DefaultPullTimeout)
	v.SetDefault("provision.stop_settle_delay", provision.DefaultStopSettleDelay)
	v.SetDefault("provision.max_port_search", provision.DefaultMaxPortSearch)
	v.SetDefault("migration.base_port", migration.DefaultBasePort)
	v.SetDefault("migration.default_major_version", migration.DefaultMajorVersion)
	v.SetDefault("migration.helper_network_mode", migration.DefaultHelperNetworkMode)
	v.SetDefault("migration.ready_interval", migration.DefaultReadyInterval)
	v.SetDefault("migration.ready_max_attempts", migration.DefaultReadyMaxAttempts)
	v.SetDefault("migration.helper_settle_delay", migration.DefaultHelperSettleDelay)
	v.SetDefault("migration.scratch_dir", "")
	v.SetDefault("migration.source_timeout", defaultSourceTimeout)
	v.SetDefault("volumes.helper_image", volumes.DefaultHelperImage)
	v.SetDefault("volumes.backup_dir", "")
	v.SetDefault("metrics.listen", defaultMetricsListen)
	v.SetDefault("metrics.sample_interval", defaultSampleInterval)

	ConfigureViper(v, configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// An explicit path that does not exist surfaces as a path error.
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return nil
}

// resolveLogFilePath returns the configured log file path or a default.
func resolveLogFilePath(cfg Config) string {
	if cfg.Logging.File.Path != "" {
		return cfg.Logging.File.Path
	}
	if cfg.Logging.File.Enabled {
		return filepath.Join(DefaultDataDir(), "logs", "ddm.log")
	}
	return ""
}

func (c Config) imagesConfig() images.Config {
	return images.Config{PullTimeout: c.Images.PullTimeout}
}

func (c Config) provisionConfig() provision.Config {
	return provision.Config{StopSettleDelay: c.Provision.StopSettleDelay}
}

func (c Config) volumesConfig() volumes.Config {
	dir := c.Volumes.BackupDir
	if dir == "" {
		dir = filepath.Join(DefaultDataDir(), "backups")
	}
	return volumes.Config{HelperImage: c.Volumes.HelperImage, BackupDir: dir}
}

func (c Config) migrationConfig() migration.Config {
	return migration.Config{
		BasePort:            c.Migration.BasePort,
		DefaultMajorVersion: c.Migration.DefaultMajorVersion,
		HelperNetworkMode:   c.Migration.HelperNetworkMode,
		ReadyInterval:       c.Migration.ReadyInterval,
		ReadyMaxAttempts:    c.Migration.ReadyMaxAttempts,
		HelperSettleDelay:   c.Migration.HelperSettleDelay,
		ScratchDir:          c.Migration.ScratchDir,
	}
}

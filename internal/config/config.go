package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cozy-creator/lineage-server/internal/templates"
	"github.com/cozy-creator/lineage-server/internal/utils/pathutil"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	FilesystemLocal = "local"
	FilesystemS3    = "s3"
	FilesystemGCS   = "gcs"
)

const (
	LineageStoreDB     = "db"
	LineageStoreMemory = "memory"
)

const lineagePrefix = "LINEAGE"

type Config struct {
	Port         int              `mapstructure:"port"`
	Host         string           `mapstructure:"host"`
	PublicURL    string           `mapstructure:"public_url"`
	Environment  string           `mapstructure:"environment"`
	LineageHome  string           `mapstructure:"lineage_home"`
	AssetsDir    string           `mapstructure:"assets_dir"`
	DisableAuth  bool             `mapstructure:"disable_auth"`
	Filesystem   string           `mapstructure:"filesystem_type"`
	LineageStore string           `mapstructure:"lineage_store"`
	// RecoverUser owns pipelines rebuilt from blob names when the memory
	// store starts empty. Empty disables the startup rebuild.
	RecoverUser  string           `mapstructure:"recover_user"`
	DB           *DBConfig        `mapstructure:"db"`
	S3           *S3Config        `mapstructure:"s3"`
	GCS          *GCSConfig       `mapstructure:"gcs"`
	Fal          *FalConfig       `mapstructure:"fal"`
	OpenAI       *OpenAIConfig    `mapstructure:"openai"`
	Pulsar       *PulsarConfig    `mapstructure:"pulsar"`
	Transform    *TransformConfig `mapstructure:"transform"`
	Upload       *UploadConfig    `mapstructure:"upload"`
	Batch        *BatchConfig     `mapstructure:"batch"`
}

type DBConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	Debug  bool   `mapstructure:"debug"`
}

type S3Config struct {
	Folder      string `mapstructure:"folder"`
	Region      string `mapstructure:"region_name"`
	Bucket      string `mapstructure:"bucket_name"`
	AccessKey   string `mapstructure:"access_key"`
	SecretKey   string `mapstructure:"secret_key"`
	VanityUrl   string `mapstructure:"vanity_url"`
	EndpointUrl string `mapstructure:"endpoint_url"`
}

type GCSConfig struct {
	Bucket          string        `mapstructure:"bucket_name"`
	Folder          string        `mapstructure:"folder"`
	CredentialsFile string        `mapstructure:"credentials_file"`
	SignedURLExpiry time.Duration `mapstructure:"signed_url_expiry"`
	PublicRead      bool          `mapstructure:"public_read"`
}

type FalConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

type OpenAIConfig struct {
	APIKey        string        `mapstructure:"api_key"`
	BaseURL       string        `mapstructure:"base_url"`
	Model         string        `mapstructure:"model"`
	ScreenPrompts bool          `mapstructure:"screen_prompts"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type PulsarConfig struct {
	URL   string `mapstructure:"url"`
	Topic string `mapstructure:"topic"`
}

type TransformConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	Timeout        time.Duration `mapstructure:"timeout"`
	FetchAttempts  int           `mapstructure:"fetch_attempts"`
	FetchBaseDelay time.Duration `mapstructure:"fetch_base_delay"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
	MaxInputSide   int           `mapstructure:"max_input_side"`
}

type UploadConfig struct {
	MaxWorkers int `mapstructure:"max_workers"`
}

type BatchConfig struct {
	Delay time.Duration `mapstructure:"delay"`
}

var config *Config

// LoadEnvAndConfigFiles resolves the lineage home, writes default .env and
// config.yaml files on first run and reads them into viper.
func LoadEnvAndConfigFiles() error {
	lineageHome, err := getLineageHome()
	if err != nil {
		return err
	}

	if err := templates.CreateLineageHomeDirs(lineageHome); err != nil {
		return err
	}

	assetsDir, err := getAssetsDir(lineageHome)
	if err != nil {
		return err
	}

	viper.Set("lineage_home", lineageHome)
	viper.Set("assets_dir", assetsDir)

	envFile := viper.GetString("env_file")
	if envFile == "" {
		envFile = filepath.Join(lineageHome, ".env")
	}
	configFile := viper.GetString("config_file")
	if configFile == "" {
		configFile = filepath.Join(lineageHome, "config.yaml")
	}

	if _, err := os.Stat(envFile); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat .env file: %w", err)
		}

		if err := templates.WriteEnv(envFile); err != nil {
			return fmt.Errorf("failed to create .env file: %w", err)
		}
	}

	if _, err := os.Stat(configFile); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config.yaml file: %w", err)
		}

		if err := templates.WriteConfig(configFile); err != nil {
			return fmt.Errorf("failed to create config.yaml file: %w", err)
		}
	}

	if err := godotenv.Load(envFile); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}

	viper.SetEnvPrefix(lineagePrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(`-`, `_`, `.`, `_`))
	viper.AutomaticEnv()
	viper.SetConfigFile(configFile)
	SetDefaults(viper.GetViper())

	if err := LoadConfig(false); err != nil {
		if errors.As(err, &viper.ConfigFileNotFoundError{}) {
			fmt.Println("No config file found. Using default config.")
		} else {
			return err
		}
	}

	return nil
}

func LoadConfig(reload bool) error {
	if config != nil && !reload {
		return fmt.Errorf("config already loaded")
	}

	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config: %w", err)
	}

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("error unmarshalling config: %w", err)
	}

	config = cfg.WithDefaults()
	return nil
}

func IsLoaded() bool {
	return config != nil
}

func GetConfig() *Config {
	return config
}

func MustGetConfig() *Config {
	if config == nil {
		panic("config not loaded")
	}

	return config
}

// WithDefaults fills the nested sections viper leaves nil when the config
// file omits them.
func (c *Config) WithDefaults() *Config {
	if c.DB == nil {
		c.DB = &DBConfig{Driver: DefaultDBDriver, DSN: DefaultDBDSN}
	}
	if c.Transform == nil {
		c.Transform = &TransformConfig{}
	}
	t := c.Transform
	if t.MaxAttempts <= 0 {
		t.MaxAttempts = DefaultTransformAttempts
	}
	if t.BaseDelay <= 0 {
		t.BaseDelay = DefaultTransformBaseDelay
	}
	if t.Timeout <= 0 {
		t.Timeout = DefaultTransformTimeout
	}
	if t.FetchAttempts <= 0 {
		t.FetchAttempts = DefaultFetchAttempts
	}
	if t.FetchBaseDelay <= 0 {
		t.FetchBaseDelay = DefaultFetchBaseDelay
	}
	if t.FetchTimeout <= 0 {
		t.FetchTimeout = DefaultFetchTimeout
	}
	if c.Upload == nil || c.Upload.MaxWorkers <= 0 {
		c.Upload = &UploadConfig{MaxWorkers: DefaultUploadWorkers}
	}
	if c.Batch == nil {
		c.Batch = &BatchConfig{Delay: DefaultBatchDelay}
	}
	if c.Fal == nil {
		c.Fal = &FalConfig{}
	}
	if c.Fal.BaseURL == "" {
		c.Fal.BaseURL = DefaultFalBaseURL
	}
	if c.Filesystem == "" {
		c.Filesystem = FilesystemLocal
	}
	if c.LineageStore == "" {
		c.LineageStore = LineageStoreDB
	}

	return c
}

// Returns the lineage home directory path.
// It attempts to retrieve the lineage home directory from the following sources in order:
// 1. The `lineage_home` flag from viper.
// 2. The `LINEAGE_HOME` environment variable.
// 3. The default lineage home directory.
func getLineageHome() (string, error) {
	lineageHome := viper.GetString("lineage_home")
	if lineageHome == "" {
		lineageHome = os.Getenv("LINEAGE_HOME")
		if lineageHome == "" {
			lineageHome = DefaultLineageHome
		}
	}

	lineageHome, err := pathutil.ExpandPath(lineageHome)
	if err != nil {
		return "", fmt.Errorf("failed to expand lineage home path: %w", err)
	}

	return lineageHome, nil
}

func getAssetsDir(lineageHome string) (string, error) {
	if lineageHome == "" {
		return "", ErrLineageHomeNotSet
	}

	assetsDir := viper.GetString("assets_dir")
	if assetsDir == "" {
		assetsDir = filepath.Join(lineageHome, "assets")
	}

	assetsDir, err := pathutil.ExpandPath(assetsDir)
	if err != nil {
		return "", ErrLineageHomeExpandFailed
	}

	return assetsDir, nil
}

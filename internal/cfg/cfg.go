package cfg

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"device-classifier/internal/common"
	"device-classifier/internal/features"

	"gopkg.in/yaml.v3"
)

const defaultRequestTimeout = 5 * time.Second

type Settings struct {
	ModelPath           string
	EncoderPath         string
	BaseDir             string
	Policy              features.Policy
	TargetEncoder       string
	EnableProbabilities bool
	HTTPPort            int
	DataPath            string
	CacheSize           int
	RequestTimeout      time.Duration
	MaxBodyBytes        int64
	LogLevel            string
	LogFile             string
}

type ConfigFile struct {
	Model struct {
		Path          string `yaml:"path"`
		EncoderPath   string `yaml:"encoderPath"`
		TargetEncoder string `yaml:"targetEncoder"`
		Probabilities *bool  `yaml:"probabilities"`
	} `yaml:"model"`

	Encoding struct {
		Policy string `yaml:"policy"`
	} `yaml:"encoding"`

	Server struct {
		Port           int    `yaml:"port"`
		RequestTimeout string `yaml:"requestTimeout"`
		MaxBodyBytes   int64  `yaml:"maxBodyBytes"`
	} `yaml:"server"`

	System struct {
		BaseDir   string `yaml:"baseDir"`
		DataPath  string `yaml:"dataPath"`
		CacheSize int    `yaml:"cacheSize"`
		LogLevel  string `yaml:"logLevel"`
		LogFile   string `yaml:"logFile"`
	} `yaml:"system"`
}

func Load() (Settings, error) {
	// Try to load from YAML file first
	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}

	// Fallback to environment variables
	return loadFromEnv()
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	requestTimeout, err := time.ParseDuration(config.Server.RequestTimeout)
	if err != nil {
		requestTimeout = defaultRequestTimeout
	}

	probabilities := true
	if config.Model.Probabilities != nil {
		probabilities = *config.Model.Probabilities
	}

	policy, err := features.ParsePolicy(getEnvOrDefault(common.EnvEncodingPolicy, orDefault(config.Encoding.Policy, common.DefaultEncodingPolicy)))
	if err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	settings := Settings{
		ModelPath:           getEnvOrDefault(common.EnvModelPath, orDefault(config.Model.Path, common.DefaultModelPath)),
		EncoderPath:         getEnvOrDefault(common.EnvEncoderPath, config.Model.EncoderPath),
		BaseDir:             getEnvOrDefault(common.EnvBaseDir, config.System.BaseDir),
		Policy:              policy,
		TargetEncoder:       getEnvOrDefault(common.EnvTargetEncoder, orDefault(config.Model.TargetEncoder, common.DefaultTargetEncoder)),
		EnableProbabilities: getBoolFromEnvOrConfig(common.EnvEnableProbabilities, probabilities),
		HTTPPort:            getIntFromEnvOrConfig(common.EnvHTTPPort, config.Server.Port, common.DefaultHTTPPort),
		DataPath:            getEnvOrDefault(common.EnvDataPath, config.System.DataPath),
		CacheSize:           getIntFromEnvOrConfig(common.EnvCacheSize, config.System.CacheSize, common.DefaultCacheSize),
		RequestTimeout:      getDurationOrDefault(common.EnvRequestTimeout, requestTimeout),
		MaxBodyBytes:        int64(getIntFromEnvOrConfig(common.EnvMaxBodyBytes, int(config.Server.MaxBodyBytes), common.DefaultMaxBodyBytes)),
		LogLevel:            getEnvOrDefault(common.EnvLogLevel, orDefault(config.System.LogLevel, common.DefaultLogLevel)),
		LogFile:             getEnvOrDefault(common.EnvLogFile, config.System.LogFile),
	}

	return finalize(settings)
}

func loadFromEnv() (Settings, error) {
	policy, err := features.ParsePolicy(getEnvOrDefault(common.EnvEncodingPolicy, common.DefaultEncodingPolicy))
	if err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	settings := Settings{
		ModelPath:           getEnvOrDefault(common.EnvModelPath, common.DefaultModelPath),
		EncoderPath:         os.Getenv(common.EnvEncoderPath), // optional
		BaseDir:             os.Getenv(common.EnvBaseDir),
		Policy:              policy,
		TargetEncoder:       getEnvOrDefault(common.EnvTargetEncoder, common.DefaultTargetEncoder),
		EnableProbabilities: getBoolOrDefault(common.EnvEnableProbabilities, true),
		HTTPPort:            getIntOrDefault(common.EnvHTTPPort, common.DefaultHTTPPort),
		DataPath:            os.Getenv(common.EnvDataPath), // optional
		CacheSize:           getIntOrDefault(common.EnvCacheSize, common.DefaultCacheSize),
		RequestTimeout:      getDurationOrDefault(common.EnvRequestTimeout, defaultRequestTimeout),
		MaxBodyBytes:        int64(getIntOrDefault(common.EnvMaxBodyBytes, common.DefaultMaxBodyBytes)),
		LogLevel:            getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel),
		LogFile:             os.Getenv(common.EnvLogFile),
	}

	return finalize(settings)
}

// finalize anchors artifact paths to the base directory and validates the result.
func finalize(settings Settings) (Settings, error) {
	if settings.BaseDir == "" {
		settings.BaseDir = executableDir()
	}
	settings.ModelPath = ResolvePath(settings.BaseDir, settings.ModelPath)
	if settings.EncoderPath != "" {
		settings.EncoderPath = ResolvePath(settings.BaseDir, settings.EncoderPath)
	}
	if settings.DataPath != "" {
		settings.DataPath = ResolvePath(settings.BaseDir, settings.DataPath)
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

// ResolvePath returns p unchanged when absolute, otherwise joined onto base.
// Artifacts are located relative to the service, not the working directory.
func ResolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getBoolFromEnvOrConfig(key string, configValue bool) bool {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseBool(env); err == nil {
			return val
		}
	}
	return configValue
}

// validateSettings performs validation of configuration values
func validateSettings(settings *Settings) error {
	if settings.ModelPath == "" {
		return fmt.Errorf("model path cannot be empty")
	}

	if settings.Policy == features.PolicyLearned && settings.EncoderPath == "" {
		return fmt.Errorf("encoding policy %q requires an encoder path", settings.Policy)
	}

	if settings.HTTPPort < 1024 || settings.HTTPPort > 65535 {
		return fmt.Errorf("HTTP port must be between 1024 and 65535, got %d", settings.HTTPPort)
	}

	if settings.RequestTimeout < 100*time.Millisecond || settings.RequestTimeout > time.Minute {
		return fmt.Errorf("request timeout must be between 100ms and 1m, got %v", settings.RequestTimeout)
	}

	if settings.CacheSize < 0 || settings.CacheSize > 1_000_000 {
		return fmt.Errorf("cache size must be between 0 and 1000000, got %d", settings.CacheSize)
	}

	if settings.MaxBodyBytes < 1024 || settings.MaxBodyBytes > 64<<20 {
		return fmt.Errorf("max body bytes must be between 1KiB and 64MiB, got %d", settings.MaxBodyBytes)
	}

	return nil
}

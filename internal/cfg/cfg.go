// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cfg is the typed configuration surface: mount target, backend
// address, cache TTLs, and logging knobs, loaded from defaults and an
// optional YAML file via viper; environment variables are not read. Mirrors gcsfuse's cfg package, whose
// own LoggingConfig/LogRotateConfig shape this reuses directly.
package cfg

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Severity levels accepted by the logging.severity config key.
const (
	TRACE   = "TRACE"
	DEBUG   = "DEBUG"
	INFO    = "INFO"
	WARNING = "WARNING"
	ERROR   = "ERROR"
	OFF     = "OFF"
)

// ResolvedPath is a filesystem path that has already been through
// expansion (home directory, environment variables).
type ResolvedPath string

// LogRotateConfig controls lumberjack's rotation of the log file.
type LogRotateConfig struct {
	MaxFileSizeMB   int  `mapstructure:"maxFileSizeMB"`
	BackupFileCount int  `mapstructure:"backupFileCount"`
	Compress        bool `mapstructure:"compress"`
}

// DefaultLogRotateConfig matches gcsfuse's defaults.
func DefaultLogRotateConfig() LogRotateConfig {
	return LogRotateConfig{MaxFileSizeMB: 512, BackupFileCount: 10, Compress: false}
}

// LoggingConfig is everything internal/logger needs to (re)build the
// default logger.
type LoggingConfig struct {
	FilePath  ResolvedPath    `mapstructure:"filePath"`
	Format    string          `mapstructure:"format"`
	Severity  string          `mapstructure:"severity"`
	LogRotate LogRotateConfig `mapstructure:"logRotate"`
}

// Config is the full set of knobs the CLI builds from defaults, the config
// file and its own flags.
type Config struct {
	BackendIP   string        `mapstructure:"backendIP"`
	BackendPort int           `mapstructure:"backendPort"`
	Mountpoint  string        `mapstructure:"mountpoint"`
	TempDir     string        `mapstructure:"tempDir"`
	DirTTL      time.Duration `mapstructure:"dirTTL"`
	MetricsPort int           `mapstructure:"metricsPort"`
	Logging     LoggingConfig `mapstructure:"logging"`
}

// Default returns a Config with every ambient default filled in, before
// config-file and flag overrides are layered on top.
func Default() Config {
	return Config{
		BackendPort: 3001,
		DirTTL:      2 * time.Second,
		MetricsPort: 9090,
		Logging: LoggingConfig{
			Format:    "json",
			Severity:  INFO,
			LogRotate: DefaultLogRotateConfig(),
		},
	}
}

// Load reads configPath (if non-empty) as YAML via viper, layering it over
// Default(), and returns the decoded Config. Load binds no flags itself:
// the mount command overwrites individual fields of the returned Config
// with any flag values it was given.
func Load(v *viper.Viper, configPath string) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	v.SetConfigType("yaml")

	def := Default()
	v.SetDefault("backendPort", def.BackendPort)
	v.SetDefault("dirTTL", def.DirTTL)
	v.SetDefault("metricsPort", def.MetricsPort)
	v.SetDefault("logging.format", def.Logging.Format)
	v.SetDefault("logging.severity", def.Logging.Severity)
	v.SetDefault("logging.logRotate.maxFileSizeMB", def.Logging.LogRotate.MaxFileSizeMB)
	v.SetDefault("logging.logRotate.backupFileCount", def.Logging.LogRotate.BackupFileCount)
	v.SetDefault("logging.logRotate.compress", def.Logging.LogRotate.Compress)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", configPath, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	return c, nil
}

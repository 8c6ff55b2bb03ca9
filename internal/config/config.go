// Package config provides configuration loading and validation for Dray.
// Supports YAML files with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for a Dray broker.
type Config struct {
	Node          NodeConfig          `yaml:"node"`
	Metadata      MetadataConfig      `yaml:"metadata"`
	ObjectStore   ObjectStoreConfig   `yaml:"objectStore"`
	WAL           WALConfig           `yaml:"wal"`
	WALEngine     WALEngineConfig     `yaml:"walEngine"`
	Upload        UploadConfig        `yaml:"upload"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// WALEngineConfig tunes the block-device write-ahead log (internal/walengine).
type WALEngineConfig struct {
	Path                string `yaml:"path" env:"DRAY_WALENGINE_PATH"`
	CapacityBytes       int64  `yaml:"capacityBytes" env:"DRAY_WALENGINE_CAPACITY_BYTES"`
	HeaderFlushIntervalMs int64 `yaml:"headerFlushIntervalMs" env:"DRAY_WALENGINE_HEADER_FLUSH_INTERVAL_MS"`
	IOThreads           int    `yaml:"ioThreads" env:"DRAY_WALENGINE_IO_THREADS"`
	WindowInitialBytes  int64  `yaml:"windowInitialBytes" env:"DRAY_WALENGINE_WINDOW_INITIAL_BYTES"`
	WindowUpperLimitBytes int64 `yaml:"windowUpperLimitBytes" env:"DRAY_WALENGINE_WINDOW_UPPER_LIMIT_BYTES"`
	WindowScaleUnitBytes int64 `yaml:"windowScaleUnitBytes" env:"DRAY_WALENGINE_WINDOW_SCALE_UNIT_BYTES"`
}

// UploadConfig tunes the Upload Pipeline (internal/upload, internal/uploadfmt).
type UploadConfig struct {
	Codec               string `yaml:"codec" env:"DRAY_UPLOAD_CODEC"`
	MaxObjectSizeBytes  int64  `yaml:"maxObjectSizeBytes" env:"DRAY_UPLOAD_MAX_OBJECT_SIZE_BYTES"`
	MaxStagingAgeMs     int64  `yaml:"maxStagingAgeMs" env:"DRAY_UPLOAD_MAX_STAGING_AGE_MS"`
}

// NodeConfig identifies this node within the cluster.
type NodeConfig struct {
	ZoneID string `yaml:"zoneId" env:"DRAY_ZONE_ID"`
}

type MetadataConfig struct {
	OxiaEndpoint string `yaml:"oxiaEndpoint" env:"DRAY_OXIA_ENDPOINT"`
	Namespace    string `yaml:"namespace" env:"DRAY_OXIA_NAMESPACE"`
}

type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint" env:"DRAY_S3_ENDPOINT"`
	Bucket    string `yaml:"bucket" env:"DRAY_S3_BUCKET"`
	Region    string `yaml:"region" env:"DRAY_S3_REGION"`
	AccessKey string `yaml:"accessKey" env:"DRAY_S3_ACCESS_KEY"`
	SecretKey string `yaml:"secretKey" env:"DRAY_S3_SECRET_KEY"`
}

type WALConfig struct {
	FlushSizeBytes int64 `yaml:"flushSizeBytes" env:"DRAY_WAL_FLUSH_SIZE"`
	FlushIntervalMs int64 `yaml:"flushIntervalMs" env:"DRAY_WAL_FLUSH_INTERVAL_MS"`
	OrphanTTLMs     int64 `yaml:"orphanTTLMs" env:"DRAY_WAL_ORPHAN_TTL_MS"`
}

type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metricsAddr" env:"DRAY_METRICS_ADDR"`
	LogLevel    string `yaml:"logLevel" env:"DRAY_LOG_LEVEL"`
	LogFormat   string `yaml:"logFormat" env:"DRAY_LOG_FORMAT"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Metadata: MetadataConfig{
			OxiaEndpoint: "localhost:6648",
			Namespace:    "dray",
		},
		ObjectStore: ObjectStoreConfig{
			Region: "us-east-1",
		},
		WAL: WALConfig{
			FlushSizeBytes:  16 * 1024 * 1024, // 16MB
			FlushIntervalMs: 100,
			OrphanTTLMs:     60000, // 1 minute
		},
		WALEngine: WALEngineConfig{
			Path:                  "/var/lib/dray/wal.dat",
			CapacityBytes:         4 << 30, // 4GB
			HeaderFlushIntervalMs: 10000,
			IOThreads:             8,
			WindowInitialBytes:    1 << 20,   // 1MB
			WindowUpperLimitBytes: 512 << 20, // 512MB
			WindowScaleUnitBytes:  4 << 20,   // 4MB
		},
		Upload: UploadConfig{
			Codec:              "zstd",
			MaxObjectSizeBytes: 128 * 1024 * 1024, // 128MB
			MaxStagingAgeMs:    24 * 60 * 60 * 1000, // 24h, matches the staged-object TTL passed to PrepareObject
		},
		Observability: ObservabilityConfig{
			MetricsAddr: ":9090",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// Load reads a YAML configuration file, merges it onto Default, then
// applies any environment variable overrides named by each field's `env`
// tag. A missing path is not an error: Load falls back to Default()
// plus env overrides so the service can run from environment alone.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: reading %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(reflect.ValueOf(cfg).Elem())
	return cfg, nil
}

// applyEnvOverrides walks a config struct recursively, overwriting any
// field whose `env` tag names a set environment variable.
func applyEnvOverrides(v reflect.Value) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fv := v.Field(i)

		if fv.Kind() == reflect.Struct {
			applyEnvOverrides(fv)
			continue
		}

		envName := field.Tag.Get("env")
		if envName == "" {
			continue
		}
		raw, ok := os.LookupEnv(envName)
		if !ok {
			continue
		}
		setFieldFromString(fv, raw)
	}
}

func setFieldFromString(fv reflect.Value, raw string) {
	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Bool:
		if b, err := strconv.ParseBool(raw); err == nil {
			fv.SetBool(b)
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			fv.SetInt(n)
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if n, err := strconv.ParseUint(raw, 10, 64); err == nil {
			fv.SetUint(n)
		}
	case reflect.Float32, reflect.Float64:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			fv.SetFloat(f)
		}
	}
}

package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/levelstore/internal/flagx"
	"github.com/dmitrijs2005/levelstore/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Durations may be
// written as "15m" or as integer nanoseconds. Keys missing from the file
// leave the current value untouched.
type JsonConfig struct {
	HTTPAddr          string         `json:"http_addr"`
	HealthAddr        string         `json:"health_addr"`
	StorageBackend    string         `json:"storage_backend"`
	StoragePath       string         `json:"storage_path"`
	DatabaseDSN       string         `json:"database_dsn"`
	CompressValues    bool           `json:"compress_values"`
	S3Bucket          string         `json:"s3_bucket"`
	S3Prefix          string         `json:"s3_prefix"`
	S3Region          string         `json:"s3_region"`
	S3Endpoint        string         `json:"s3_endpoint"`
	S3AccessKey       string         `json:"s3_access_key"`
	S3SecretKey       string         `json:"s3_secret_key"`
	S3UsePathStyle    bool           `json:"s3_use_path_style"`
	BackupRetention   int            `json:"backup_retention"`
	SessionTTL        timex.Duration `json:"session_ttl"`
	MinPasswordLength int            `json:"min_password_length"`
	Metrics           bool           `json:"metrics"`
	LogLevel          string         `json:"log_level"`
}

func toJSONConfig(c *Config) *JsonConfig {
	return &JsonConfig{
		HTTPAddr:          c.HTTPAddr,
		HealthAddr:        c.HealthAddr,
		StorageBackend:    c.StorageBackend,
		StoragePath:       c.StoragePath,
		DatabaseDSN:       c.DatabaseDSN,
		CompressValues:    c.CompressValues,
		S3Bucket:          c.S3Bucket,
		S3Prefix:          c.S3Prefix,
		S3Region:          c.S3Region,
		S3Endpoint:        c.S3Endpoint,
		S3AccessKey:       c.S3AccessKey,
		S3SecretKey:       c.S3SecretKey,
		S3UsePathStyle:    c.S3UsePathStyle,
		BackupRetention:   c.BackupRetention,
		SessionTTL:        timex.Duration{Duration: c.SessionTTL},
		MinPasswordLength: c.MinPasswordLength,
		Metrics:           c.Metrics,
		LogLevel:          c.LogLevel,
	}
}

func (j *JsonConfig) apply(c *Config) {
	c.HTTPAddr = j.HTTPAddr
	c.HealthAddr = j.HealthAddr
	c.StorageBackend = j.StorageBackend
	c.StoragePath = j.StoragePath
	c.DatabaseDSN = j.DatabaseDSN
	c.CompressValues = j.CompressValues
	c.S3Bucket = j.S3Bucket
	c.S3Prefix = j.S3Prefix
	c.S3Region = j.S3Region
	c.S3Endpoint = j.S3Endpoint
	c.S3AccessKey = j.S3AccessKey
	c.S3SecretKey = j.S3SecretKey
	c.S3UsePathStyle = j.S3UsePathStyle
	c.BackupRetention = j.BackupRetention
	c.SessionTTL = j.SessionTTL.Duration
	c.MinPasswordLength = j.MinPasswordLength
	c.Metrics = j.Metrics
	c.LogLevel = j.LogLevel
}

// parseJSON overlays the file given with -c or -config, if any.
func parseJSON(config *Config, args []string) error {
	path := flagx.ConfigPath(args)
	if path == "" {
		return nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	// decoding on top of the current values keeps absent keys as they were
	c := toJSONConfig(config)
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	c.apply(config)
	return nil
}

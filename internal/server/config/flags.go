package config

import (
	"flag"
	"io"

	"github.com/dmitrijs2005/levelstore/internal/flagx"
)

var (
	valueFlags = []string{"-a", "-g", "-s", "-p", "-d", "-b", "-e", "-r", "-t", "-m", "-l"}
	boolFlags  = []string{"-z", "-metrics"}
)

// parseFlags overlays command-line flags.
//
//	-a string    HTTP listen address
//	-g string    gRPC health listen address
//	-s string    storage backend (bolt, fs, postgres, sqlite, s3, memory)
//	-p string    storage path (bolt/sqlite file, fs root)
//	-d string    PostgreSQL DSN
//	-b string    S3 bucket
//	-e string    S3 endpoint
//	-r int       backups kept per project
//	-t duration  session lifetime, 0 keeps sessions until logout
//	-m int       minimum password length
//	-l string    log level
//	-z           zstd-compress stored values
//	-metrics     expose /metrics
//
// Only the flags above are looked at; anything else in args is ignored.
func parseFlags(config *Config, args []string) error {
	args = flagx.FilterArgs(args, valueFlags, boolFlags...)

	fs := flag.NewFlagSet("levelstore", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "HTTP listen address")
	fs.StringVar(&config.HealthAddr, "g", config.HealthAddr, "gRPC health listen address")
	fs.StringVar(&config.StorageBackend, "s", config.StorageBackend, "storage backend")
	fs.StringVar(&config.StoragePath, "p", config.StoragePath, "storage path")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Endpoint, "e", config.S3Endpoint, "S3 endpoint")
	fs.IntVar(&config.BackupRetention, "r", config.BackupRetention, "backups kept per project")
	fs.DurationVar(&config.SessionTTL, "t", config.SessionTTL, "session lifetime")
	fs.IntVar(&config.MinPasswordLength, "m", config.MinPasswordLength, "minimum password length")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.BoolVar(&config.CompressValues, "z", config.CompressValues, "compress stored values")
	fs.BoolVar(&config.Metrics, "metrics", config.Metrics, "expose prometheus metrics")

	return fs.Parse(args)
}

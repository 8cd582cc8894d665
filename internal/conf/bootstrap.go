// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment
// variables, with CLI flag overrides.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"google.golang.org/protobuf/types/known/durationpb"
)

// Bootstrap is the root configuration of the service.
type Bootstrap struct {
	Server  *Server
	Data    *Data
	Breaker *Breaker
	Log     *Log
}

// Server holds transport configuration.
type Server struct {
	Http *Server_HTTP
}

// Server_HTTP configures the admin/status HTTP server.
type Server_HTTP struct {
	Network string
	Addr    string
	Timeout *durationpb.Duration
}

// Data holds data-layer configuration.
type Data struct {
	Database *Data_Database
	Redis    *Data_Redis
}

// Data_Database configures the primary and optional replica connections.
// When ReplicaSource is empty or equal to Source the service runs in
// primary-only mode.
type Data_Database struct {
	Driver            string
	Source            string
	ReplicaSource     string
	MaxReplicationLag *durationpb.Duration
}

// Data_Redis configures the Redis connection used for the status mirror.
type Data_Redis struct {
	Network      string
	Addr         string
	ReadTimeout  *durationpb.Duration
	WriteTimeout *durationpb.Duration
}

// Breaker holds the default tuning for circuit breakers created through the
// registry. Individual breakers may override these per registration.
type Breaker struct {
	Timeout                  *durationpb.Duration
	ErrorThresholdPercentage int32
	ResetTimeout             *durationpb.Duration
	VolumeThreshold          int32
	Window                   *durationpb.Duration
}

// Log configures the Zap logger.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies
// defaults, and allows overrides from environment variables prefixed with
// DATALANE_.
//
// Configuration priority: CLI flags > Environment variables > Config file > Defaults
//
// Required environment variables (unless set in the config file):
//   - MYSQL_DSN or DATALANE_DATA_DATABASE_SOURCE: primary connection string
//
// Optional:
//   - MYSQL_REPLICA_DSN or DATALANE_DATA_DATABASE_REPLICA_SOURCE: read replica
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	setDefaults(v)

	// Enable environment variable support with DATALANE_ prefix
	v.SetEnvPrefix("DATALANE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Allow direct environment variable names for the connection strings
	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "DATALANE_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.database.replica_source", "MYSQL_REPLICA_DSN", "DATALANE_DATA_DATABASE_REPLICA_SOURCE")
	_ = v.BindEnv("data.redis.addr", "DATALANE_DATA_REDIS_ADDR")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	bc := &Bootstrap{
		Server: &Server{
			Http: &Server_HTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: durationpb.New(v.GetDuration("server.http.timeout")),
			},
		},
		Data: &Data{
			Database: &Data_Database{
				Driver:            v.GetString("data.database.driver"),
				Source:            v.GetString("data.database.source"),
				ReplicaSource:     v.GetString("data.database.replica_source"),
				MaxReplicationLag: durationpb.New(v.GetDuration("data.database.max_replication_lag")),
			},
			Redis: &Data_Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				ReadTimeout:  durationpb.New(v.GetDuration("data.redis.read_timeout")),
				WriteTimeout: durationpb.New(v.GetDuration("data.redis.write_timeout")),
			},
		},
		Breaker: &Breaker{
			Timeout:                  durationpb.New(v.GetDuration("breaker.timeout")),
			ErrorThresholdPercentage: v.GetInt32("breaker.error_threshold_percentage"),
			ResetTimeout:             durationpb.New(v.GetDuration("breaker.reset_timeout")),
			VolumeThreshold:          v.GetInt32("breaker.volume_threshold"),
			Window:                   durationpb.New(v.GetDuration("breaker.window")),
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
	}

	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 1*time.Minute)

	// Data defaults
	v.SetDefault("data.database.driver", "mysql")
	// Note: data.database.source (MYSQL_DSN) is required from environment
	// Note: data.database.replica_source (MYSQL_REPLICA_DSN) is optional
	v.SetDefault("data.database.max_replication_lag", 5*time.Second)

	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	// Breaker defaults
	v.SetDefault("breaker.timeout", 10*time.Second)
	v.SetDefault("breaker.error_threshold_percentage", 50)
	v.SetDefault("breaker.reset_timeout", 30*time.Second)
	v.SetDefault("breaker.volume_threshold", 5)
	v.SetDefault("breaker.window", 10*time.Second)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks that all required configuration fields are present and
// valid. Configuration errors are fatal at startup, not recoverable at
// runtime.
func Validate(bc *Bootstrap) error {
	var missingFields []string

	if bc.Data == nil || bc.Data.Database == nil || bc.Data.Database.Source == "" {
		missingFields = append(missingFields, "data.database.source (MYSQL_DSN)")
	}

	if len(missingFields) > 0 {
		return fmt.Errorf("missing required configuration fields: %s", strings.Join(missingFields, ", "))
	}

	if bc.Breaker != nil {
		if p := bc.Breaker.ErrorThresholdPercentage; p < 0 || p > 100 {
			return fmt.Errorf("breaker.error_threshold_percentage must be in [0, 100], got %d", p)
		}
		if bc.Breaker.VolumeThreshold < 0 {
			return fmt.Errorf("breaker.volume_threshold must not be negative, got %d", bc.Breaker.VolumeThreshold)
		}
	}

	if bc.Data != nil && bc.Data.Database != nil && bc.Data.Database.MaxReplicationLag != nil {
		if bc.Data.Database.MaxReplicationLag.AsDuration() < 0 {
			return fmt.Errorf("data.database.max_replication_lag must not be negative")
		}
	}

	return nil
}

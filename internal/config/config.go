// Package config reads service settings from defaults, an optional
// config.yaml and TRANSITOPT_* environment variables, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	HTTP     HTTP
	Database Database
	Redis    Redis
	Log      Log
	Engine   Engine
	Density  Density
	Network  Network
}

type HTTP struct {
	Port              int
	ReadHeaderTimeout time.Duration
	RateRPS           float64
	RateBurst         int
	AllowOrigins      []string
}

type Database struct {
	URL     string
	Migrate bool
}

type Redis struct {
	URL string
}

type Log struct {
	Level       string
	Development bool
}

type Engine struct {
	MaxSequenceStops  int
	MaxSequenceStates int
	ParallelThreshold int
}

type Density struct {
	Base            float64
	JitterMin       float64
	JitterMax       float64
	RefreshInterval time.Duration
	Seed            int64
}

type Network struct {
	File string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_header_timeout", "5s")
	v.SetDefault("http.rate_rps", 50.0)
	v.SetDefault("http.rate_burst", 100)
	v.SetDefault("http.allow_origins", []string{"*"})
	v.SetDefault("database.url", "")
	v.SetDefault("database.migrate", true)
	v.SetDefault("redis.url", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("engine.max_sequence_stops", 16)
	v.SetDefault("engine.max_sequence_states", 1<<24)
	v.SetDefault("engine.parallel_threshold", 64)
	v.SetDefault("density.base", 100.0)
	v.SetDefault("density.jitter_min", 0.8)
	v.SetDefault("density.jitter_max", 1.2)
	v.SetDefault("density.refresh_interval", "5m")
	v.SetDefault("density.seed", 0)
	v.SetDefault("network.file", "")
}

// Load builds a Config. paths are searched for config.yaml; a missing file
// is not an error.
func Load(paths ...string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./data"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("TRANSITOPT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// conventional platform variables
	_ = v.BindEnv("http.port", "TRANSITOPT_HTTP_PORT", "PORT")
	_ = v.BindEnv("database.url", "TRANSITOPT_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("redis.url", "TRANSITOPT_REDIS_URL", "REDIS_URL")

	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	c := Config{
		HTTP: HTTP{
			Port:              v.GetInt("http.port"),
			ReadHeaderTimeout: v.GetDuration("http.read_header_timeout"),
			RateRPS:           v.GetFloat64("http.rate_rps"),
			RateBurst:         v.GetInt("http.rate_burst"),
			AllowOrigins:      v.GetStringSlice("http.allow_origins"),
		},
		Database: Database{URL: v.GetString("database.url"), Migrate: v.GetBool("database.migrate")},
		Redis:    Redis{URL: v.GetString("redis.url")},
		Log:      Log{Level: v.GetString("log.level"), Development: v.GetBool("log.development")},
		Engine: Engine{
			MaxSequenceStops:  v.GetInt("engine.max_sequence_stops"),
			MaxSequenceStates: v.GetInt("engine.max_sequence_states"),
			ParallelThreshold: v.GetInt("engine.parallel_threshold"),
		},
		Density: Density{
			Base:            v.GetFloat64("density.base"),
			JitterMin:       v.GetFloat64("density.jitter_min"),
			JitterMax:       v.GetFloat64("density.jitter_max"),
			RefreshInterval: v.GetDuration("density.refresh_interval"),
			Seed:            v.GetInt64("density.seed"),
		},
		Network: Network{File: v.GetString("network.file")},
	}
	return c, c.validate()
}

func (c Config) validate() error {
	var errs []error
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port %d out of range", c.HTTP.Port))
	}
	if c.Engine.MaxSequenceStops <= 0 || c.Engine.MaxSequenceStops > 24 {
		errs = append(errs, fmt.Errorf("engine.max_sequence_stops %d must be in 1..24", c.Engine.MaxSequenceStops))
	}
	if c.Engine.MaxSequenceStates <= 0 {
		errs = append(errs, fmt.Errorf("engine.max_sequence_states must be positive"))
	}
	if c.Density.JitterMin < 0 || c.Density.JitterMax < c.Density.JitterMin {
		errs = append(errs, fmt.Errorf("density jitter range [%v, %v] is invalid", c.Density.JitterMin, c.Density.JitterMax))
	}
	if c.Density.RefreshInterval < 0 {
		errs = append(errs, fmt.Errorf("density.refresh_interval must not be negative"))
	}
	return errors.Join(errs...)
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string { return fmt.Sprintf(":%d", c.HTTP.Port) }

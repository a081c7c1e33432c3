// Copyright 2026 The Panel Engine Authors
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// TimeWindow is an HH:MM..HH:MM span. End < Start is interpreted as an
// overnight window (wraps past midnight).
type TimeWindow struct {
	Enabled   bool   `mapstructure:"enabled"`
	StartTime string `mapstructure:"start_time"`
	EndTime   string `mapstructure:"end_time"`
}

// DaySchedule overrides a TimeWindow for one weekday.
type DaySchedule struct {
	Enabled   bool   `mapstructure:"enabled"`
	StartTime string `mapstructure:"start_time"`
	EndTime   string `mapstructure:"end_time"`
}

// ScheduleConfig is the on/off or dim window config shared by the active
// window and the dim window.
type ScheduleConfig struct {
	Enabled   bool                   `mapstructure:"enabled"`
	Mode      string                 `mapstructure:"mode"` // "global" | "per-day"
	StartTime string                 `mapstructure:"start_time"`
	EndTime   string                 `mapstructure:"end_time"`
	Days      map[string]DaySchedule `mapstructure:"days"`
}

// DimScheduleConfig is ScheduleConfig plus the brightness to use while dimmed.
type DimScheduleConfig struct {
	ScheduleConfig `mapstructure:",squash"`
	DimBrightness  int `mapstructure:"dim_brightness"`
}

type HardwareConfig struct {
	Brightness int `mapstructure:"brightness"`
}

type DynamicDurationConfig struct {
	MaxDurationSeconds int `mapstructure:"max_duration_seconds"`
}

type VegasScrollConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	ScrollSpeed     int      `mapstructure:"scroll_speed"`
	TargetFPS       int      `mapstructure:"target_fps"`
	BufferAhead     int      `mapstructure:"buffer_ahead"`
	PluginOrder     []string `mapstructure:"plugin_order"`
	ExcludedPlugins []string `mapstructure:"excluded_plugins"`
}

type DisplayConfig struct {
	Hardware        HardwareConfig        `mapstructure:"hardware"`
	DynamicDuration DynamicDurationConfig `mapstructure:"dynamic_duration"`
	VegasScroll     VegasScrollConfig     `mapstructure:"vegas_scroll"`
}

// EngineConfig tunes the Run Loop's own timing constants.
type EngineConfig struct {
	IdleSleep           time.Duration `mapstructure:"idle_sleep"`
	NormalTickInterval  time.Duration `mapstructure:"normal_tick_interval"`
	ScrollTickInterval  time.Duration `mapstructure:"scroll_tick_interval"`
	WifiBannerSleep     time.Duration `mapstructure:"wifi_banner_sleep"`
	CycleGrace          time.Duration `mapstructure:"cycle_grace"`
	DefaultSliceSeconds int           `mapstructure:"default_slice_seconds"`
	DefaultCapSeconds   int           `mapstructure:"default_cap_seconds"`
}

type PluginsConfig struct {
	Dir string `mapstructure:"dir"`
}

type RequestChannelConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	RequestTTL   time.Duration `mapstructure:"request_ttl"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	SnapshotPath string        `mapstructure:"snapshot_path"`
}

type WifiBannerConfig struct {
	StatusFilePath string `mapstructure:"status_file_path"`
}

type CircuitBreakerConfig struct {
	FailureThreshold float64       `mapstructure:"failure_threshold"`
	Window           time.Duration `mapstructure:"window"`
	CooldownPeriod   time.Duration `mapstructure:"cooldown_period"`
	MinSamples       int           `mapstructure:"min_samples"`
}

type ExecutorConfig struct {
	DisplayTimeout time.Duration `mapstructure:"display_timeout"`
	UpdateTimeout  time.Duration `mapstructure:"update_timeout"`
}

type ObservabilityConfig struct {
	MetricsPort int    `mapstructure:"metrics_port"`
	LogLevel    string `mapstructure:"log_level"`
}

type Config struct {
	Schedule       ScheduleConfig       `mapstructure:"schedule"`
	DimSchedule    DimScheduleConfig    `mapstructure:"dim_schedule"`
	Display        DisplayConfig        `mapstructure:"display"`
	Engine         EngineConfig         `mapstructure:"engine"`
	Plugins        PluginsConfig        `mapstructure:"plugins"`
	RequestChannel RequestChannelConfig `mapstructure:"request_channel"`
	WifiBanner     WifiBannerConfig     `mapstructure:"wifi_banner"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Executor       ExecutorConfig       `mapstructure:"executor"`
	Observability  ObservabilityConfig  `mapstructure:"observability"`
}

func defaultConfig() *Config {
	return &Config{
		Schedule: ScheduleConfig{Enabled: false, Mode: "global"},
		DimSchedule: DimScheduleConfig{
			ScheduleConfig: ScheduleConfig{Enabled: false, Mode: "global"},
			DimBrightness:  30,
		},
		Display: DisplayConfig{
			Hardware:        HardwareConfig{Brightness: 80},
			DynamicDuration: DynamicDurationConfig{MaxDurationSeconds: 180},
			VegasScroll: VegasScrollConfig{
				Enabled:     false,
				ScrollSpeed: 2,
				TargetFPS:   30,
				BufferAhead: 8,
			},
		},
		Engine: EngineConfig{
			IdleSleep:           60 * time.Second,
			NormalTickInterval:  1 * time.Second,
			ScrollTickInterval:  8 * time.Millisecond,
			WifiBannerSleep:     500 * time.Millisecond,
			CycleGrace:          500 * time.Millisecond,
			DefaultSliceSeconds: 15,
			DefaultCapSeconds:   180,
		},
		Plugins: PluginsConfig{Dir: "./plugins"},
		RequestChannel: RequestChannelConfig{
			Addr:         "localhost:6379",
			RequestTTL:   1 * time.Hour,
			PollInterval: 250 * time.Millisecond,
			SnapshotPath: "./data/on_demand_snapshot.db",
		},
		WifiBanner: WifiBannerConfig{StatusFilePath: "./config/wifi_status.json"},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 1.0,
			Window:           5 * time.Minute,
			CooldownPeriod:   30 * time.Second,
			MinSamples:       5,
		},
		Executor: ExecutorConfig{
			DisplayTimeout: 5 * time.Second,
			UpdateTimeout:  30 * time.Second,
		},
		Observability: ObservabilityConfig{
			MetricsPort: 9090,
			LogLevel:    "info",
		},
	}
}

// newViper builds a viper instance over path with every default set, but
// does not read the file — callers decide whether to read once (Load) or
// read-then-watch (WatchConfig).
func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("paneld")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultConfig()
	v.SetDefault("schedule.enabled", def.Schedule.Enabled)
	v.SetDefault("schedule.mode", def.Schedule.Mode)
	v.SetDefault("dim_schedule.enabled", def.DimSchedule.Enabled)
	v.SetDefault("dim_schedule.mode", def.DimSchedule.Mode)
	v.SetDefault("dim_schedule.dim_brightness", def.DimSchedule.DimBrightness)
	v.SetDefault("display.hardware.brightness", def.Display.Hardware.Brightness)
	v.SetDefault("display.dynamic_duration.max_duration_seconds", def.Display.DynamicDuration.MaxDurationSeconds)
	v.SetDefault("display.vegas_scroll.enabled", def.Display.VegasScroll.Enabled)
	v.SetDefault("display.vegas_scroll.scroll_speed", def.Display.VegasScroll.ScrollSpeed)
	v.SetDefault("display.vegas_scroll.target_fps", def.Display.VegasScroll.TargetFPS)
	v.SetDefault("display.vegas_scroll.buffer_ahead", def.Display.VegasScroll.BufferAhead)
	v.SetDefault("engine.idle_sleep", def.Engine.IdleSleep)
	v.SetDefault("engine.normal_tick_interval", def.Engine.NormalTickInterval)
	v.SetDefault("engine.scroll_tick_interval", def.Engine.ScrollTickInterval)
	v.SetDefault("engine.wifi_banner_sleep", def.Engine.WifiBannerSleep)
	v.SetDefault("engine.cycle_grace", def.Engine.CycleGrace)
	v.SetDefault("engine.default_slice_seconds", def.Engine.DefaultSliceSeconds)
	v.SetDefault("engine.default_cap_seconds", def.Engine.DefaultCapSeconds)
	v.SetDefault("plugins.dir", def.Plugins.Dir)
	v.SetDefault("request_channel.addr", def.RequestChannel.Addr)
	v.SetDefault("request_channel.request_ttl", def.RequestChannel.RequestTTL)
	v.SetDefault("request_channel.poll_interval", def.RequestChannel.PollInterval)
	v.SetDefault("request_channel.snapshot_path", def.RequestChannel.SnapshotPath)
	v.SetDefault("wifi_banner.status_file_path", def.WifiBanner.StatusFilePath)
	v.SetDefault("circuit_breaker.failure_threshold", def.CircuitBreaker.FailureThreshold)
	v.SetDefault("circuit_breaker.window", def.CircuitBreaker.Window)
	v.SetDefault("circuit_breaker.cooldown_period", def.CircuitBreaker.CooldownPeriod)
	v.SetDefault("circuit_breaker.min_samples", def.CircuitBreaker.MinSamples)
	v.SetDefault("executor.display_timeout", def.Executor.DisplayTimeout)
	v.SetDefault("executor.update_timeout", def.Executor.UpdateTimeout)
	v.SetDefault("observability.metrics_port", def.Observability.MetricsPort)
	v.SetDefault("observability.log_level", def.Observability.LogLevel)
	return v
}

// decode unmarshals v's current state into a Config and validates it.
func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads configuration from YAML file and PANELD_-prefixed env overrides.
func Load(path string) (*Config, error) {
	v := newViper(path)
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return decode(v)
}

// WatchConfig reads path once like Load, then watches the file for further
// changes, delivering each successfully reloaded and validated Config to
// onChange on its own goroutine (viper's fsnotify watcher). A reload that
// fails to parse or fails Validate is logged and discarded, leaving the
// previous config in effect — the caller never sees a broken Config.
func WatchConfig(path string, onChange func(*Config), log *zap.Logger) (*Config, error) {
	v := newViper(path)
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		next, err := decode(v)
		if err != nil {
			log.Warn("config reload rejected, keeping previous config", zap.String("path", e.Name), zap.Error(err))
			return
		}
		log.Info("config file changed, reloading", zap.String("path", e.Name))
		onChange(next)
	})
	v.WatchConfig()

	return cfg, nil
}

// Validate checks config constraints and returns an error on invalid settings.
func Validate(cfg *Config) error {
	if cfg.Display.Hardware.Brightness < 0 || cfg.Display.Hardware.Brightness > 100 {
		return fmt.Errorf("display.hardware.brightness must be 0..100")
	}
	if cfg.DimSchedule.DimBrightness < 0 || cfg.DimSchedule.DimBrightness > 100 {
		return fmt.Errorf("dim_schedule.dim_brightness must be 0..100")
	}
	if cfg.Engine.DefaultSliceSeconds <= 0 {
		return fmt.Errorf("engine.default_slice_seconds must be > 0")
	}
	if cfg.Engine.DefaultCapSeconds <= 0 {
		return fmt.Errorf("engine.default_cap_seconds must be > 0")
	}
	if cfg.Display.DynamicDuration.MaxDurationSeconds <= 0 {
		return fmt.Errorf("display.dynamic_duration.max_duration_seconds must be > 0")
	}
	if cfg.Observability.MetricsPort <= 0 || cfg.Observability.MetricsPort > 65535 {
		return fmt.Errorf("observability.metrics_port must be 1..65535")
	}
	if cfg.CircuitBreaker.MinSamples < 1 {
		return fmt.Errorf("circuit_breaker.min_samples must be >= 1")
	}
	for name, sched := range cfg.Schedule.Days {
		if sched.Enabled && (sched.StartTime == "" || sched.EndTime == "") {
			return fmt.Errorf("schedule.days[%s] enabled but missing start/end time", name)
		}
	}
	return nil
}

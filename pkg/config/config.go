package config

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"imu-sensorhub/pkg/log"
)

const (
	DefaultAppName    = "sensorhub"
	DefaultConfigName = "sensorhub"
	EnvPrefix         = "SENSORHUB"
)

// DeviceOptions selects the bus and interrupt lines of the chip.
type DeviceOptions struct {
	Bus          string `mapstructure:"bus" yaml:"bus"`
	SPIPort      string `mapstructure:"spi_port" yaml:"spi_port"`
	SPISpeedHz   int64  `mapstructure:"spi_speed_hz" yaml:"spi_speed_hz"`
	SPIMode      int    `mapstructure:"spi_mode" yaml:"spi_mode"`
	I2CBus       string `mapstructure:"i2c_bus" yaml:"i2c_bus"`
	I2CAddr      uint16 `mapstructure:"i2c_addr" yaml:"i2c_addr"`
	Int1Pin      string `mapstructure:"int1_pin" yaml:"int1_pin"`
	Int2Pin      string `mapstructure:"int2_pin" yaml:"int2_pin"`
	Magnetometer bool   `mapstructure:"magnetometer" yaml:"magnetometer"`
}

// EngineOptions tunes the sensor task.
type EngineOptions struct {
	AccRangeG          int           `mapstructure:"acc_range_g" yaml:"acc_range_g"`
	StepCountSensitive bool          `mapstructure:"step_count_sensitive" yaml:"step_count_sensitive"`
	TimeSyncPeriod     time.Duration `mapstructure:"time_sync_period" yaml:"time_sync_period"`
	IDRetries          int           `mapstructure:"id_retries" yaml:"id_retries"`
	IDRetryDelay       time.Duration `mapstructure:"id_retry_delay" yaml:"id_retry_delay"`
	CalibrationRetries int           `mapstructure:"calibration_retries" yaml:"calibration_retries"`
	SlabEvents         int           `mapstructure:"slab_events" yaml:"slab_events"`
	BootDelay          time.Duration `mapstructure:"boot_delay" yaml:"boot_delay"`
	CalibrationFile    string        `mapstructure:"calibration_file" yaml:"calibration_file"`
}

// ServerOptions configures the HTTP listener shared by the event stream
// and the metrics endpoint.
type ServerOptions struct {
	Listen      string `mapstructure:"listen" yaml:"listen"`
	StreamPath  string `mapstructure:"stream_path" yaml:"stream_path"`
	MetricsPath string `mapstructure:"metrics_path" yaml:"metrics_path"`
}

// LogOptions configures the process logger.
type LogOptions struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Options is the whole configuration file.
type Options struct {
	Device DeviceOptions `mapstructure:"device" yaml:"device"`
	Engine EngineOptions `mapstructure:"engine" yaml:"engine"`
	Server ServerOptions `mapstructure:"server" yaml:"server"`
	Log    LogOptions    `mapstructure:"log" yaml:"log"`
}

// Default returns the stock configuration.
func Default() Options {
	return Options{
		Device: DeviceOptions{
			Bus:        "spi",
			SPIPort:    "SPI0.0",
			SPISpeedHz: 8000000,
			SPIMode:    3,
			I2CBus:     "1",
			I2CAddr:    0x68,
		},
		Engine: EngineOptions{
			AccRangeG:          8,
			TimeSyncPeriod:     100 * time.Millisecond,
			IDRetries:          5,
			IDRetryDelay:       100 * time.Millisecond,
			CalibrationRetries: 10,
			SlabEvents:         20,
			BootDelay:          100 * time.Millisecond,
		},
		Server: ServerOptions{
			Listen:      ":7130",
			StreamPath:  "/events",
			MetricsPath: "/metrics",
		},
		Log: LogOptions{
			Level:  "info",
			Format: "text",
		},
	}
}

// SearchPaths lists the directories searched when no file is named.
func SearchPaths() []string {
	paths := []string{}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", DefaultAppName))
	}
	return append(paths, "/etc/"+DefaultAppName, ".")
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("device.bus", d.Device.Bus)
	v.SetDefault("device.spi_port", d.Device.SPIPort)
	v.SetDefault("device.spi_speed_hz", d.Device.SPISpeedHz)
	v.SetDefault("device.spi_mode", d.Device.SPIMode)
	v.SetDefault("device.i2c_bus", d.Device.I2CBus)
	v.SetDefault("device.i2c_addr", d.Device.I2CAddr)
	v.SetDefault("device.int1_pin", d.Device.Int1Pin)
	v.SetDefault("device.int2_pin", d.Device.Int2Pin)
	v.SetDefault("device.magnetometer", d.Device.Magnetometer)

	v.SetDefault("engine.acc_range_g", d.Engine.AccRangeG)
	v.SetDefault("engine.step_count_sensitive", d.Engine.StepCountSensitive)
	v.SetDefault("engine.time_sync_period", d.Engine.TimeSyncPeriod)
	v.SetDefault("engine.id_retries", d.Engine.IDRetries)
	v.SetDefault("engine.id_retry_delay", d.Engine.IDRetryDelay)
	v.SetDefault("engine.calibration_retries", d.Engine.CalibrationRetries)
	v.SetDefault("engine.slab_events", d.Engine.SlabEvents)
	v.SetDefault("engine.boot_delay", d.Engine.BootDelay)
	v.SetDefault("engine.calibration_file", d.Engine.CalibrationFile)

	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.stream_path", d.Server.StreamPath)
	v.SetDefault("server.metrics_path", d.Server.MetricsPath)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// flagKeys maps command line flags onto configuration keys.
var flagKeys = map[string]string{
	"listen":    "server.listen",
	"bus":       "device.bus",
	"spi-port":  "device.spi_port",
	"i2c-bus":   "device.i2c_bus",
	"int1-pin":  "device.int1_pin",
	"int2-pin":  "device.int2_pin",
	"log-level": "log.level",
}

// Load reads the configuration. path names the file explicitly; when it is
// empty the SENSORHUB_CONFIG variable and then the search paths are tried,
// and a missing file leaves the defaults in place. Environment variables
// SENSORHUB_<SECTION>_<OPTION> and the flags of cmd, when given, override
// the file.
func Load(path string, cmd *cobra.Command) (*Options, string, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
		for _, p := range SearchPaths() {
			v.AddConfigPath(p)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cmd != nil {
		for flag, key := range flagKeys {
			if f := cmd.Flags().Lookup(flag); f != nil {
				_ = v.BindPFlag(key, f)
			}
		}
	}

	logger := log.GetLogger("config")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !stderrors.As(err, &notFound) {
			return nil, "", WrapError("", "", err)
		}
		logger.Debug("no configuration file found, using defaults")
	} else {
		logger.Debug("using config file %s", v.ConfigFileUsed())
	}

	opts := Default()
	if err := v.Unmarshal(&opts); err != nil {
		return nil, "", WrapError("", "", err)
	}
	if err := opts.Validate(); err != nil {
		return nil, "", err
	}
	return &opts, v.ConfigFileUsed(), nil
}

// Marshal renders the options as YAML.
func Marshal(opts *Options) ([]byte, error) {
	data, err := yaml.Marshal(opts)
	if err != nil {
		return nil, WrapError("", "", err)
	}
	return data, nil
}

// Save writes the options as YAML, creating parent directories.
func Save(path string, opts *Options) error {
	data, err := Marshal(opts)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return WrapError("", "", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return WrapError("", "", err)
	}
	return nil
}

// Validate checks option values. The first problem found is returned as a
// *ConfigError.
func (o *Options) Validate() error {
	switch o.Device.Bus {
	case "spi":
		if o.Device.SPIPort == "" {
			return ErrMissingOption("device", "spi_port")
		}
		if o.Device.SPISpeedHz <= 0 || o.Device.SPISpeedHz > 10000000 {
			return ErrOutOfRange("device", "spi_speed_hz", float64(o.Device.SPISpeedHz), "must be in (0, 10000000]")
		}
		if o.Device.SPIMode != 0 && o.Device.SPIMode != 3 {
			return ErrOutOfRange("device", "spi_mode", float64(o.Device.SPIMode), "must be 0 or 3")
		}
	case "i2c":
		if o.Device.I2CAddr != 0x68 && o.Device.I2CAddr != 0x69 {
			return ErrOutOfRange("device", "i2c_addr", float64(o.Device.I2CAddr), "must be 0x68 or 0x69")
		}
	default:
		return ErrInvalidChoice("device", "bus", o.Device.Bus, []string{"spi", "i2c"})
	}

	e := o.Engine
	if e.AccRangeG != 8 && e.AccRangeG != 16 {
		return ErrOutOfRange("engine", "acc_range_g", float64(e.AccRangeG), "must be 8 or 16")
	}
	if e.TimeSyncPeriod < 10*time.Millisecond {
		return ErrOutOfRange("engine", "time_sync_period", e.TimeSyncPeriod.Seconds(), "must be at least 0.01s")
	}
	if e.IDRetries < 1 {
		return ErrOutOfRange("engine", "id_retries", float64(e.IDRetries), "must be at least 1")
	}
	if e.CalibrationRetries < 1 {
		return ErrOutOfRange("engine", "calibration_retries", float64(e.CalibrationRetries), "must be at least 1")
	}
	if e.SlabEvents < 2 {
		return ErrOutOfRange("engine", "slab_events", float64(e.SlabEvents), "must be at least 2")
	}
	if e.IDRetryDelay < 0 || e.BootDelay < 0 {
		return ErrOutOfRange("engine", "boot_delay", e.BootDelay.Seconds(), "must not be negative")
	}

	if !strings.HasPrefix(o.Server.StreamPath, "/") {
		return ErrInvalidChoice("server", "stream_path", o.Server.StreamPath, []string{"/<path>"})
	}
	if !strings.HasPrefix(o.Server.MetricsPath, "/") {
		return ErrInvalidChoice("server", "metrics_path", o.Server.MetricsPath, []string{"/<path>"})
	}
	if o.Server.StreamPath == o.Server.MetricsPath {
		return &ConfigError{Section: "server", Option: "metrics_path", Message: "must differ from stream_path"}
	}

	switch strings.ToLower(o.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return ErrInvalidChoice("log", "level", o.Log.Level, []string{"debug", "info", "warn", "error"})
	}
	switch o.Log.Format {
	case "text", "json":
	default:
		return ErrInvalidChoice("log", "format", o.Log.Format, []string{"text", "json"})
	}
	return nil
}

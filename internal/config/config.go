package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"fuelwatcher/internal/logging"
	"fuelwatcher/internal/model"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig       `mapstructure:"app"`
	Logging  logging.Config  `mapstructure:"logging"`
	Database DatabaseConfig  `mapstructure:"database"`
	Schedule ScheduleConfig  `mapstructure:"schedule"`
	Source   SourceConfig    `mapstructure:"source"`
	Stations []StationConfig `mapstructure:"stations"`
	MQTT     MQTTConfig      `mapstructure:"mqtt"`
	Backup   BackupConfig    `mapstructure:"backup"`
	Web      WebConfig       `mapstructure:"web"`
	Export   ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ScheduleConfig governs pass cadence. Either a fixed interval or a cron
// expression with a named timezone; cron wins when both are set.
type ScheduleConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	Cron            string        `mapstructure:"cron"`
	Timezone        string        `mapstructure:"timezone"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
}

// SourceConfig covers the upstream price API.
type SourceConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	PerStation     bool          `mapstructure:"per_station"`
	FetchWorkers   int           `mapstructure:"fetch_workers"`
}

// StationConfig declares one monitored station and its fuel types of interest.
type StationConfig struct {
	ID        int      `mapstructure:"id"`
	FuelTypes []string `mapstructure:"fuel_types"`
}

// MQTTConfig captures notifier connectivity.
type MQTTConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Broker          string        `mapstructure:"broker"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	ClientID        string        `mapstructure:"client_id"`
	TopicPrefix     string        `mapstructure:"topic_prefix"`
	DiscoveryPrefix string        `mapstructure:"discovery_prefix"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	PublishTimeout  time.Duration `mapstructure:"publish_timeout"`
}

// BackupConfig parameterises the external backup/restore tooling. All command
// line material comes from here; nothing user-supplied reaches the argv.
type BackupConfig struct {
	BackupTool  string        `mapstructure:"backup_tool"`
	RestoreTool string        `mapstructure:"restore_tool"`
	Directory   string        `mapstructure:"directory"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// WebConfig configures the optional status HTTP server.
type WebConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FUELWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "fuelwatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("schedule.interval", "60m")
	v.SetDefault("schedule.timezone", "Australia/Sydney")
	v.SetDefault("schedule.advisory_lock_key", int64(0x6675656c))
	v.SetDefault("schedule.run_on_start", true)

	v.SetDefault("source.base_url", "https://api.onegov.nsw.gov.au/FuelPriceCheck/v1")
	v.SetDefault("source.request_timeout", "30s")
	v.SetDefault("source.user_agent", "fuelwatcher/1.0")
	v.SetDefault("source.per_station", false)
	v.SetDefault("source.fetch_workers", 4)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.client_id", "fuelwatcher")
	v.SetDefault("mqtt.topic_prefix", "fuelwatcher")
	v.SetDefault("mqtt.discovery_prefix", "homeassistant")
	v.SetDefault("mqtt.connect_timeout", "10s")
	v.SetDefault("mqtt.publish_timeout", "5s")

	v.SetDefault("backup.backup_tool", "pg_dump")
	v.SetDefault("backup.restore_tool", "pg_restore")
	v.SetDefault("backup.directory", "backups")
	v.SetDefault("backup.timeout", "10m")

	v.SetDefault("web.enabled", false)
	v.SetDefault("web.addr", ":8080")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// CronParser accepts standard five-field expressions plus descriptors.
var CronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate performs sanity checks on the configuration values. Cron
// expressions and the timezone are validated here, not at fire time.
func (c *Config) Validate() error {
	if c.Schedule.Cron == "" && c.Schedule.Interval <= 0 {
		return fmt.Errorf("schedule.interval must be greater than zero when schedule.cron is unset")
	}
	if c.Schedule.Cron != "" {
		if _, err := CronParser.Parse(c.Schedule.Cron); err != nil {
			return fmt.Errorf("invalid schedule.cron %q: %w", c.Schedule.Cron, err)
		}
	}
	if c.Schedule.Timezone != "" {
		if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
			return fmt.Errorf("invalid schedule.timezone %q: %w", c.Schedule.Timezone, err)
		}
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Source.FetchWorkers <= 0 {
		return fmt.Errorf("source.fetch_workers must be greater than zero")
	}
	for i, st := range c.Stations {
		if st.ID <= 0 {
			return fmt.Errorf("stations[%d].id must be a positive station code", i)
		}
		if len(st.FuelTypes) == 0 {
			return fmt.Errorf("stations[%d] must list at least one fuel type", i)
		}
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker must be set when mqtt.enabled is true")
	}
	if c.Backup.BackupTool == "" || c.Backup.RestoreTool == "" {
		return fmt.Errorf("backup.backup_tool and backup.restore_tool must be set")
	}
	return nil
}

// Location resolves the configured timezone, defaulting to UTC.
func (c *Config) Location() *time.Location {
	if c.Schedule.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

// Snapshot is the read-only per-pass view of the monitored targets. The
// pipeline receives it by value so configuration edits take effect on the
// next pass without shared mutable state between the scheduler and readers.
type Snapshot struct {
	StationIDs []model.StationID
	Interest   map[model.Key]struct{}
}

// Contains reports whether the key is in the monitored interest set.
func (s Snapshot) Contains(key model.Key) bool {
	_, ok := s.Interest[key]
	return ok
}

// StationProvider yields the monitored station set at the start of each pass.
type StationProvider interface {
	MonitoredStations() []StationConfig
}

// MonitoredStations implements StationProvider with the configured list.
func (c *Config) MonitoredStations() []StationConfig {
	return c.Stations
}

// BuildSnapshot converts a station list into the per-pass snapshot.
func BuildSnapshot(stations []StationConfig) Snapshot {
	snap := Snapshot{
		StationIDs: make([]model.StationID, 0, len(stations)),
		Interest:   make(map[model.Key]struct{}),
	}
	for _, st := range stations {
		id := model.StationID(st.ID)
		snap.StationIDs = append(snap.StationIDs, id)
		for _, ft := range st.FuelTypes {
			key := model.Key{Station: id, Fuel: model.ParseFuelType(ft)}
			snap.Interest[key] = struct{}{}
		}
	}
	return snap
}

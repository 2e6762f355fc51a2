package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type BaaS struct {
	URL     string `mapstructure:"url" validate:"required,url"`
	AnonKey string `mapstructure:"anon_key" validate:"required"`
}

type Realtime struct {
	Heartbeat   time.Duration `mapstructure:"heartbeat" validate:"gt=0"`
	JoinTimeout time.Duration `mapstructure:"join_timeout" validate:"gt=0"`
	// EventsPerSecond caps outbound broadcasts per channel.
	EventsPerSecond int `mapstructure:"events_per_second" validate:"gt=0"`
	SendQueue       int `mapstructure:"send_queue" validate:"gt=0"`
}

type Upload struct {
	ChunkSize   int64           `mapstructure:"chunk_size" validate:"gt=0"`
	MaxBytes    int64           `mapstructure:"max_bytes" validate:"gt=0"`
	RetryDelays []time.Duration `mapstructure:"retry_delays"`
}

type Call struct {
	ICEServers []string `mapstructure:"ice_servers"`
}

// Device lists the permissions the headless host grants when asked.
type Device struct {
	Permissions []string `mapstructure:"permissions"`
}

type Features struct {
	ChatHistory    int           `mapstructure:"chat_history" validate:"gt=0"`
	CursorThrottle time.Duration `mapstructure:"cursor_throttle"`
	RefreshMargin  time.Duration `mapstructure:"refresh_margin"`
}

type Config struct {
	Mode      string `mapstructure:"mode" validate:"oneof=debug release test"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port" validate:"gt=0,lt=65536"`
	LogLevel  string `mapstructure:"log_level"`
	ReadLimit int64  `mapstructure:"read_limit"`
	// PingPeriod is the keepalive for the local events websocket.
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret" validate:"required,min=16"`
	StorePath  string        `mapstructure:"store_path" validate:"required"`

	BaaS     BaaS     `mapstructure:"baas"`
	Realtime Realtime `mapstructure:"realtime"`
	Upload   Upload   `mapstructure:"upload"`
	Call     Call     `mapstructure:"call"`
	Device   Device   `mapstructure:"device"`
	Features Features `mapstructure:"features"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("store_path", "beacon.db")

	v.SetDefault("realtime.heartbeat", "25s")
	v.SetDefault("realtime.join_timeout", "10s")
	v.SetDefault("realtime.events_per_second", 10)
	v.SetDefault("realtime.send_queue", 256)

	v.SetDefault("upload.chunk_size", 6*1024*1024)
	v.SetDefault("upload.max_bytes", 50*1024*1024)
	v.SetDefault("upload.retry_delays", []string{"0s", "3s", "5s", "10s", "20s"})

	v.SetDefault("call.ice_servers", []string{"stun:stun.l.google.com:19302"})

	v.SetDefault("device.permissions", []string{"camera", "microphone", "notifications"})

	v.SetDefault("features.chat_history", 50)
	v.SetDefault("features.cursor_throttle", "50ms")
	v.SetDefault("features.refresh_margin", "60s")
}

func newViper() (*viper.Viper, string) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("beacon")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v, fileName
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Loader keeps the viper instance alive for hot reload.
type Loader struct {
	v    *viper.Viper
	file string
}

func Load() (*Config, *Loader, error) {
	v, fileName := newViper()
	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("baas", cfg.BaaS.URL).Msg("config ready")
	return cfg, &Loader{v: v, file: fileName}, nil
}

// Watch calls fn with every valid reloaded config. Invalid edits are logged and skipped.
func (l *Loader) Watch(fn func(*Config)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(l.v)
		if err != nil {
			log.Error().Err(err).Str("module", "config").Str("file", e.Name).Msg("reload rejected")
			return
		}
		log.Info().Str("module", "config").Str("file", e.Name).Msg("config reloaded")
		fn(cfg)
	})
	l.v.WatchConfig()
}

// ApplyLogLevel sets the zerolog global level, defaulting to info.
func ApplyLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

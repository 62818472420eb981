package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dkeye/Lobby/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	LogLevel   string        `mapstructure:"log_level"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	SendBuffer int           `mapstructure:"send_buffer"`
	Secret     string        `mapstructure:"secret"`

	JoinRate  float64 `mapstructure:"join_rate"`
	JoinBurst int     `mapstructure:"join_burst"`

	// Room is applied to rooms created without a caller-supplied config.
	Room domain.RoomConfig `mapstructure:"room"`
}

// Load reads config/config.<CONFIG_ENV>.yaml, or CONFIG_FILE when set, on
// top of defaults. LOBBY_* environment variables override both.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	fileName := os.Getenv("CONFIG_FILE")
	if fileName == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		fileName = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(fileName)

	v.SetEnvPrefix("lobby")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := domain.DefaultRoomConfig()
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("secret", "change-me")
	v.SetDefault("join_rate", 2.0)
	v.SetDefault("join_burst", 5)
	v.SetDefault("room.capacity", def.Capacity)
	v.SetDefault("room.spectators_allowed", def.SpectatorsAllowed)
	v.SetDefault("room.kick_quorum", def.KickQuorum)
	v.SetDefault("room.kick_min_votes", def.KickMinVotes)
	v.SetDefault("room.min_members_to_start", def.MinMembersToStart)
	v.SetDefault("room.release_on_disconnect", string(def.ReleaseOnDisconnect))

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Room.Validate(); err != nil {
		return nil, fmt.Errorf("default room config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Int("capacity", cfg.Room.Capacity).Msg("config ready")
	return &cfg, nil
}

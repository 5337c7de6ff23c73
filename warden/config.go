package warden

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/ellavondegurechaff/warden/warden/database"
	"github.com/pelletier/go-toml/v2"
)

func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err = toml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type Config struct {
	Log   LogConfig         `toml:"log"`
	Bot   BotConfig         `toml:"bot"`
	DB    database.DBConfig `toml:"db"`
	Mutes MutesConfig       `toml:"mutes"`
}

type BotConfig struct {
	DevGuilds []snowflake.ID `toml:"dev_guilds"`
	Owners    []snowflake.ID `toml:"owners"`
	Token     string         `toml:"token"`
}

type LogConfig struct {
	Level     slog.Level `toml:"level"`
	Format    string     `toml:"format"`
	AddSource bool       `toml:"add_source"`
}

type MutesConfig struct {
	PollSeconds      int `toml:"poll_seconds"`
	LookaheadSeconds int `toml:"lookahead_seconds"`
	FanOutWorkers    int `toml:"fan_out_workers"`
}

func (c MutesConfig) PollInterval() time.Duration {
	return time.Duration(c.PollSeconds) * time.Second
}

func (c MutesConfig) Lookahead() time.Duration {
	return time.Duration(c.LookaheadSeconds) * time.Second
}

// /internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DiscordToken    string `env:"DISCORD_TOKEN"`
	MonitoredRoleID string `env:"MONITORED_ROLE_ID"`

	// Channels joined once the gateway is ready; empty or "0" disables.
	VoiceChannelID string `env:"VOICE_CHANNEL_ID"`
	MoldaChannelID string `env:"MOLDA_CHANNEL_ID"`

	RejoinIntervalSeconds int     `env:"REJOIN_INTERVAL_SECONDS" envDefault:"3600"`
	JoinAudioDelaySeconds float64 `env:"JOIN_AUDIO_DELAY_SECONDS" envDefault:"3.0"`

	Audio

	CommandPrefix string `env:"COMMAND_PREFIX" envDefault:"!"`
	HTTPAddr      string `env:"HTTP_ADDR" envDefault:":9090"`
}

// Audio is the part of the configuration the offline CLI needs.
type Audio struct {
	FFmpegPath       string `env:"FFMPEG_PATH"`
	AudioDir         string `env:"AUDIO_DIR" envDefault:"Molda Voice"`
	DefaultJoinAudio string `env:"DEFAULT_JOIN_AUDIO" envDefault:"New_comers_molda.mp3"`
	EncodeOnStartup  bool   `env:"ENCODE_ON_STARTUP" envDefault:"true"`
	EncodeWorkers    int    `env:"ENCODE_WORKERS" envDefault:"2"`
}

// LoadAudio reads .env (if present) and the audio settings only. It needs no
// token.
func LoadAudio() (*Audio, error) {
	_ = godotenv.Load()

	var a Audio
	if err := env.Parse(&a); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if a.EncodeWorkers < 1 {
		a.EncodeWorkers = 1
	}
	return &a, nil
}

// New loads .env (if present) and the environment, and exits the process on
// invalid configuration.
func New() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[INFO] No .env file found, falling back to system environment variables")
	}

	cfg, err := Load()
	if err != nil {
		log.Fatalf("[ERR] Invalid configuration: %v", err)
	}
	return cfg
}

// Load parses the process environment into a validated Config.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg.MonitoredRoleID = normalizeID(cfg.MonitoredRoleID)
	cfg.VoiceChannelID = normalizeID(cfg.VoiceChannelID)
	cfg.MoldaChannelID = normalizeID(cfg.MoldaChannelID)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values the bot cannot start without.
func (c *Config) Validate() error {
	var errs []error

	if c.DiscordToken == "" {
		errs = append(errs, errors.New("DISCORD_TOKEN is not set"))
	}
	if c.MonitoredRoleID == "" {
		errs = append(errs, errors.New("MONITORED_ROLE_ID is not set"))
	}
	for name, id := range map[string]string{
		"MONITORED_ROLE_ID": c.MonitoredRoleID,
		"VOICE_CHANNEL_ID":  c.VoiceChannelID,
		"MOLDA_CHANNEL_ID":  c.MoldaChannelID,
	} {
		if id != "" && !IsSnowflake(id) {
			errs = append(errs, fmt.Errorf("%s must be a numeric id, got %q", name, id))
		}
	}
	if c.RejoinIntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("REJOIN_INTERVAL_SECONDS must be positive, got %d", c.RejoinIntervalSeconds))
	}
	if c.JoinAudioDelaySeconds < 0 {
		errs = append(errs, fmt.Errorf("JOIN_AUDIO_DELAY_SECONDS must not be negative, got %v", c.JoinAudioDelaySeconds))
	}
	if c.CommandPrefix == "" {
		errs = append(errs, errors.New("COMMAND_PREFIX must not be empty"))
	}

	return errors.Join(errs...)
}

func (c *Config) RejoinInterval() time.Duration {
	return time.Duration(c.RejoinIntervalSeconds) * time.Second
}

func (c *Config) JoinAudioDelay() time.Duration {
	return time.Duration(c.JoinAudioDelaySeconds * float64(time.Second))
}

// IsSnowflake reports whether s looks like a Discord id.
func IsSnowflake(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.ParseUint(s, 10, 64)
	return err == nil
}

// normalizeID maps the "0 means unset" convention to the empty string.
func normalizeID(id string) string {
	id = strings.TrimSpace(id)
	if id == "0" {
		return ""
	}
	return id
}

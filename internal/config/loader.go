package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default returns a Config populated with sane defaults for everything
// except secrets.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			OpsAddr:  ":9090",
			LogLevel: LogInfo,
		},
		Voicevox: VoicevoxConfig{
			BaseURL:          "http://127.0.0.1:50021",
			Timeout:          10 * time.Second,
			CacheSize:        64,
			CacheTTL:         30 * time.Second,
			BreakerThreshold: 5,
			BreakerCooldown:  30 * time.Second,
		},
		Database: DatabaseConfig{
			SettingsCacheSize: 256,
			SettingsCacheTTL:  time.Minute,
		},
		Engine: EngineConfig{
			QueueDepth:     20,
			LeaveGrace:     10 * time.Second,
			IdleRetention:  5 * time.Minute,
			ConnectTimeout: 10 * time.Second,
		},
	}
}

// Load reads the YAML config file at path, overlays environment variables,
// and validates the result. A missing file is not an error; the defaults
// plus environment are used.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("config file not found, using defaults", "path", path)
		cfg := Default()
		cfg.ApplyEnv()
		return cfg, cfg.Validate()
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.ApplyEnv()
	return cfg, cfg.Validate()
}

// LoadFromReader decodes YAML from r on top of the defaults. Unknown fields
// are rejected so typos surface immediately. The result is not validated;
// callers should run [Config.Validate] after any environment overlay.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return cfg, nil
		}
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays secrets from the environment. Set variables always win
// over file values so deployments never need credentials on disk.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("DISCORD_TOKEN"); v != "" {
		c.Discord.Token = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.PostgresDSN = v
	}
	if v := os.Getenv("ADMIN_PASSWORD"); v != "" {
		c.Admin.Password = v
	}
}

// Validate checks the configuration for hard errors and logs warnings for
// soft problems. All errors are collected and joined so a broken config
// reports everything wrong at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Discord.Token == "" {
		errs = append(errs, errors.New("discord.token is required (or set DISCORD_TOKEN)"))
	}
	if !c.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is not one of debug, info, warn, error", c.Server.LogLevel))
	}
	if c.Voicevox.BaseURL == "" {
		errs = append(errs, errors.New("voicevox.base_url is required"))
	}
	if c.Voicevox.Timeout <= 0 {
		errs = append(errs, errors.New("voicevox.timeout must be positive"))
	}
	if c.Voicevox.CacheSize < 0 {
		errs = append(errs, errors.New("voicevox.cache_size must not be negative"))
	}
	if c.Engine.QueueDepth <= 0 {
		errs = append(errs, errors.New("engine.queue_depth must be positive"))
	}
	if c.Engine.LeaveGrace < 0 {
		errs = append(errs, errors.New("engine.leave_grace must not be negative"))
	}
	if c.Engine.IdleRetention <= 0 {
		errs = append(errs, errors.New("engine.idle_retention must be positive"))
	}
	if c.Engine.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("engine.connect_timeout must be positive"))
	}
	if c.Admin.ListenAddr != "" && (c.Admin.Username == "" || c.Admin.Password == "") {
		errs = append(errs, errors.New("admin.username and admin.password are required when admin.listen_addr is set"))
	}

	if c.Database.PostgresDSN == "" {
		slog.Warn("database.postgres_dsn not set, running on in-memory store")
	}
	if c.Discord.OwnerID == "" {
		slog.Warn("discord.owner_id not set, owner-only commands disabled")
	}

	return errors.Join(errs...)
}

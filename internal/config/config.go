package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"

	"tunelink/internal/models"
)

// ErrConfigurationInsufficient means no provider has a complete credential
// set, so the service could never resolve anything.
var ErrConfigurationInsufficient = errors.New("no provider is fully configured")

// Config holds all configuration for the application. A provider is enabled
// only when every credential in its set is present; a partial set is a
// startup error rather than a silently disabled provider.
type Config struct {
	Port    string `envconfig:"PORT" default:"8080"`
	GinMode string `envconfig:"GIN_MODE" default:"release"`

	// NodeNumber distinguishes instances sharing one durable store.
	NodeNumber int `envconfig:"NODE_NUMBER" default:"0"`

	// Apple Music (developer token signing key)
	AppleTeamID  string `envconfig:"APPLE_TEAM_ID"`
	AppleKeyID   string `envconfig:"APPLE_KEY_ID"`
	AppleKeyPath string `envconfig:"APPLE_KEY_PATH"`

	// Spotify (client credentials)
	SpotifyClientID     string `envconfig:"SPOTIFY_CLIENT_ID"`
	SpotifyClientSecret string `envconfig:"SPOTIFY_CLIENT_SECRET"`

	// Tidal (client credentials)
	TidalClientID     string `envconfig:"TIDAL_CLIENT_ID"`
	TidalClientSecret string `envconfig:"TIDAL_CLIENT_SECRET"`

	// Durable record store (app password auth)
	BlueskyPDSURL     string `envconfig:"BLUESKY_PDS_URL"`
	BlueskyIdentifier string `envconfig:"BLUESKY_IDENTIFIER"`
	BlueskyPassword   string `envconfig:"BLUESKY_PASSWORD"`

	// Cache behavior
	CacheDays   int    `envconfig:"CACHE_DAYS" default:"30"`
	CacheDBPath string `envconfig:"CACHE_DB_PATH" default:"data/tunelink.db"`
	ValkeyURL   string `envconfig:"VALKEY_URL"`

	// Chat integration
	DiscordToken string `envconfig:"DISCORD_TOKEN"`

	// ParallelIdentifierLookup queries all providers at once for ISRC, UPC,
	// and title/artist lookups instead of walking them in order.
	ParallelIdentifierLookup bool `envconfig:"PARALLEL_IDENTIFIER_LOOKUP" default:"false"`
}

// Load reads configuration from environment variables and validates the
// credential sets.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if err := checkSet("apple music", map[string]string{
		"APPLE_TEAM_ID":  c.AppleTeamID,
		"APPLE_KEY_ID":   c.AppleKeyID,
		"APPLE_KEY_PATH": c.AppleKeyPath,
	}); err != nil {
		return err
	}
	if err := checkSet("spotify", map[string]string{
		"SPOTIFY_CLIENT_ID":     c.SpotifyClientID,
		"SPOTIFY_CLIENT_SECRET": c.SpotifyClientSecret,
	}); err != nil {
		return err
	}
	if err := checkSet("tidal", map[string]string{
		"TIDAL_CLIENT_ID":     c.TidalClientID,
		"TIDAL_CLIENT_SECRET": c.TidalClientSecret,
	}); err != nil {
		return err
	}
	if err := checkSet("bluesky", map[string]string{
		"BLUESKY_PDS_URL":    c.BlueskyPDSURL,
		"BLUESKY_IDENTIFIER": c.BlueskyIdentifier,
		"BLUESKY_PASSWORD":   c.BlueskyPassword,
	}); err != nil {
		return err
	}

	if c.AppleMusicEnabled() {
		if err := checkKeyFile(c.AppleKeyPath); err != nil {
			return err
		}
	}

	if len(c.EnabledProviders()) == 0 {
		return ErrConfigurationInsufficient
	}

	if c.CacheDays <= 0 {
		return fmt.Errorf("CACHE_DAYS must be positive, got %d", c.CacheDays)
	}
	return nil
}

// checkSet enforces all-or-nothing on one credential set.
func checkSet(name string, vars map[string]string) error {
	var present, missing []string
	for key, val := range vars {
		if val == "" {
			missing = append(missing, key)
		} else {
			present = append(present, key)
		}
	}
	if len(present) > 0 && len(missing) > 0 {
		return fmt.Errorf("partial %s credentials: %v set but %v missing", name, present, missing)
	}
	return nil
}

// checkKeyFile fails fast on a missing or empty signing key so the first
// lookup is not the first time anyone learns the path is wrong.
func checkKeyFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("apple music signing key %s: %w", path, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("apple music signing key %s is empty", path)
	}
	return nil
}

func (c *Config) AppleMusicEnabled() bool {
	return c.AppleTeamID != "" && c.AppleKeyID != "" && c.AppleKeyPath != ""
}

func (c *Config) SpotifyEnabled() bool {
	return c.SpotifyClientID != "" && c.SpotifyClientSecret != ""
}

func (c *Config) TidalEnabled() bool {
	return c.TidalClientID != "" && c.TidalClientSecret != ""
}

// CacheEnabled reports whether the durable cache tier is configured.
func (c *Config) CacheEnabled() bool {
	return c.BlueskyPDSURL != "" && c.BlueskyIdentifier != "" && c.BlueskyPassword != ""
}

func (c *Config) DiscordEnabled() bool {
	return c.DiscordToken != ""
}

// EnabledProviders lists the configured providers in presentation order.
func (c *Config) EnabledProviders() []models.ProviderID {
	var out []models.ProviderID
	for _, p := range models.AllProviders {
		switch p {
		case models.ProviderAppleMusic:
			if c.AppleMusicEnabled() {
				out = append(out, p)
			}
		case models.ProviderSpotify:
			if c.SpotifyEnabled() {
				out = append(out, p)
			}
		case models.ProviderTidal:
			if c.TidalEnabled() {
				out = append(out, p)
			}
		}
	}
	return out
}

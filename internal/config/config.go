// ABOUTME: Process configuration loaded from .env, environment, and defaults
// ABOUTME: viper-backed; env vars override file values
package config

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the resolved runtime configuration.
type Config struct {
	Port        int
	FrontendURL string

	// DatabaseURL is a sqlite path or DSN. Empty disables persistence;
	// every store call site degrades to memory-only.
	DatabaseURL string

	SongsPath string
	CoversDir string

	DashboardUser string
	DashboardPass string
	// DashboardPassGenerated is true when the password was auto-generated
	// at startup and should be logged once.
	DashboardPassGenerated bool

	ServerName string
	LogLevel   string
	EnableMDNS bool

	SpotifyClientID     string
	SpotifyClientSecret string
}

// Load resolves configuration. A missing .env is not an error.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetDefault("port", 3000)
	v.SetDefault("frontend_url", "http://localhost:5173")
	v.SetDefault("database_url", "")
	v.SetDefault("songs_path", "./data/songs")
	v.SetDefault("covers_dir", "./data/covers")
	v.SetDefault("dashboard_user", "admin")
	v.SetDefault("dashboard_pass", "")
	v.SetDefault("server_name", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("mdns", false)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := Config{
		Port:                v.GetInt("port"),
		FrontendURL:         v.GetString("frontend_url"),
		DatabaseURL:         v.GetString("database_url"),
		SongsPath:           v.GetString("songs_path"),
		CoversDir:           v.GetString("covers_dir"),
		DashboardUser:       v.GetString("dashboard_user"),
		DashboardPass:       v.GetString("dashboard_pass"),
		ServerName:          v.GetString("server_name"),
		LogLevel:            v.GetString("log_level"),
		EnableMDNS:          v.GetBool("mdns"),
		SpotifyClientID:     v.GetString("spotify_client_id"),
		SpotifyClientSecret: v.GetString("spotify_client_secret"),
	}

	if cfg.DashboardPass == "" {
		cfg.DashboardPass = randomToken(12)
		cfg.DashboardPassGenerated = true
	}

	return cfg, nil
}

func randomToken(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// rand.Read only fails when the OS entropy source is broken
		return "chorus-fallback-secret"
	}
	return hex.EncodeToString(buf)[:n*2]
}

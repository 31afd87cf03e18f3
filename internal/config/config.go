// Package config loads settings from defaults, an optional YAML file and the
// environment, in that order. Environment variables win so containerized
// deployments can override a checked-in file.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"teamchat/internal/utils"
)

var ErrBadConfigFile = utils.NewTeamChatError("unreadable config file")

type Config struct {
	// Env selects log output: "dev" gets the console writer.
	Env string `yaml:"env"`

	// ServerURL is the REST base, SocketURL the websocket endpoint. When
	// SocketURL is empty it is derived from ServerURL.
	ServerURL string `yaml:"serverUrl"`
	SocketURL string `yaml:"socketUrl"`

	// Token is the bearer access token presented on REST and socket auth.
	Token string `yaml:"token"`

	// CachePath is the bbolt cache file; empty disables the local cache.
	CachePath string `yaml:"cachePath"`

	AudioOnly bool `yaml:"audioOnly"`

	Hub Hub `yaml:"hub"`
}

// Hub configures the development signaling hub.
type Hub struct {
	Listen    string `yaml:"listen"`
	JWTSecret string `yaml:"jwtSecret"`
}

func Default() Config {
	cacheDir, _ := os.UserCacheDir()
	var cachePath string
	if cacheDir != "" {
		cachePath = filepath.Join(cacheDir, "teamchat", "cache.db")
	}
	return Config{
		Env:       "dev",
		ServerURL: "http://localhost:8090",
		CachePath: cachePath,
		Hub: Hub{
			Listen:    ":8090",
			JWTSecret: "dev-secret-change-me",
		},
	}
}

// Load builds the effective config. path may be empty; a missing file at an
// explicit path is an error, a missing default file is not.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = "teamchat.yaml"
	}
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, ErrBadConfigFile.WithDetails(err)
		}
	case explicit:
		return Config{}, ErrBadConfigFile.WithDetails(err)
	}

	cfg.applyEnv()
	if cfg.SocketURL == "" {
		cfg.SocketURL = deriveSocketURL(cfg.ServerURL)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Env, "TEAMCHAT_ENV")
	setString(&c.ServerURL, "TEAMCHAT_SERVER_URL")
	setString(&c.SocketURL, "TEAMCHAT_SOCKET_URL")
	setString(&c.Token, "TEAMCHAT_TOKEN")
	setString(&c.CachePath, "TEAMCHAT_CACHE_PATH")
	setBool(&c.AudioOnly, "TEAMCHAT_AUDIO_ONLY")
	setString(&c.Hub.Listen, "TEAMCHAT_HUB_LISTEN")
	setString(&c.Hub.JWTSecret, "TEAMCHAT_HUB_JWT_SECRET")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// deriveSocketURL rewrites the REST base into the websocket endpoint.
func deriveSocketURL(serverURL string) string {
	switch {
	case len(serverURL) > 8 && serverURL[:8] == "https://":
		return "wss://" + serverURL[8:] + "/ws"
	case len(serverURL) > 7 && serverURL[:7] == "http://":
		return "ws://" + serverURL[7:] + "/ws"
	default:
		return serverURL + "/ws"
	}
}

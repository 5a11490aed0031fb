package config

import (
	"encoding/json"
	"os"
	"strings"
)

// Settings are process-level options, separate from the runtime config file.
// Precedence: defaults, then an optional JSON settings file, then DATAGATE_*
// environment variables, then command-line flags bound by the caller.
type Settings struct {
	Port       string `json:"port"`
	ConfigFile string `json:"configFile"`
	LogLevel   string `json:"logLevel"`
	LogFormat  string `json:"logFormat"` // "text" | "json"; empty picks by host mode
	HotReload  bool   `json:"hotReload"`
	// ConfigEndpoint enables POST /configuration when no config file exists.
	ConfigEndpoint bool `json:"configEndpoint"`
}

func def() Settings {
	return Settings{
		Port:           "5000",
		ConfigFile:     "dab-config.json",
		LogLevel:       "info",
		LogFormat:      "",
		HotReload:      true,
		ConfigEndpoint: false,
	}
}

func loadJSON(path string) (Settings, error) {
	s := def()
	b, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(b, &s); err != nil {
		return s, err
	}
	return s, nil
}

func getenv(k, fallback string) string {
	if v, ok := os.LookupEnv(k); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func getenvBool(k string, fallback bool) bool {
	if v, ok := os.LookupEnv(k); ok {
		v = strings.TrimSpace(strings.ToLower(v))
		if v == "1" || v == "true" || v == "yes" {
			return true
		}
		if v == "0" || v == "false" || v == "no" {
			return false
		}
	}
	return fallback
}

// LoadSettings reads an optional settings JSON file and applies env overrides.
func LoadSettings(settingsPath string) Settings {
	s := def()

	if settingsPath != "" {
		if st, err := os.Stat(settingsPath); err == nil && !st.IsDir() {
			if s2, err := loadJSON(settingsPath); err == nil {
				s = s2
			}
		}
	}

	s.Port = getenv("DATAGATE_PORT", s.Port)
	s.ConfigFile = getenv("DATAGATE_CONFIG", s.ConfigFile)
	s.LogLevel = getenv("DATAGATE_LOG_LEVEL", s.LogLevel)
	s.LogFormat = getenv("DATAGATE_LOG_FORMAT", s.LogFormat)
	s.HotReload = getenvBool("DATAGATE_HOT_RELOAD", s.HotReload)
	s.ConfigEndpoint = getenvBool("DATAGATE_CONFIG_ENDPOINT", s.ConfigEndpoint)

	s.Port = strings.TrimSpace(s.Port)
	s.ConfigFile = strings.TrimSpace(s.ConfigFile)
	return s
}

package config

import (
	"os"
	"sort"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Env holds settings read from the process environment.
type Env struct {
	TargetURL string `env:"TARGET_URL"`
	LogLevel  string `env:"STAMPEDE_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"STAMPEDE_LOG_FORMAT" envDefault:"text"`
}

// LoadEnv loads the .env files that exist and returns how many were found.
// Variables already set in the environment win.
func LoadEnv(files []string) (int, error) {
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

// ParseEnv reads Env from the environment.
func ParseEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, err
	}
	return e, nil
}

// ResolveBaseURL picks the target in order: override, TARGET_URL, the
// file's baseURL, DefaultBaseURL. The result never has a trailing slash.
func (c *Config) ResolveBaseURL(override string, e Env) string {
	for _, candidate := range []string{override, e.TargetURL, c.BaseURL, DefaultBaseURL} {
		if candidate = strings.TrimSpace(candidate); candidate != "" {
			c.BaseURL = strings.TrimRight(candidate, "/")
			break
		}
	}
	return c.BaseURL
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

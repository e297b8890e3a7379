package common

import (
	"os"
)

var defaultEnvironment = map[string][]string{
	"RUNNER_TOOL_CACHE": {"$XDG_CACHE_HOME/hostedtoolcache", "$HOME/.cache/hostedtoolcache", "/opt/hostedtoolcache"},
	"RUNNER_TEMP":       {"$XDG_CACHE_HOME", "/tmp"},
}

// LookupDefaultEnv returns the value of envKey, or the first existing
// directory among its defaults.
func LookupDefaultEnv(envKey string) string {
	envValue := os.Getenv(envKey)
	if envValue != "" {
		return envValue
	}

	// Expand environment variables, and return it if it's a valid (existing) path;
	// defaulting to the last element in the list
	env := ""
	for _, v := range defaultEnvironment[envKey] {
		unset := false
		env = os.Expand(v, func(name string) string {
			val := os.Getenv(name)
			if val == "" {
				unset = true
			}
			return val
		})
		if unset {
			continue
		}
		if _, err := os.Stat(env); err == nil {
			return env
		}
	}
	return env
}

// IsActions reports whether the process runs inside a GitHub Actions job.
func IsActions() bool {
	return os.Getenv("GITHUB_ACTIONS") == "true"
}

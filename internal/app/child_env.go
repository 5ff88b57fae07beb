package app

import (
	"os"
	"path/filepath"
	"strings"
)

// RunIDEnv carries the per-launch run ID into the child.
const RunIDEnv = "TAKOPI_SMITHERS_RUN_ID"

// childEnv builds a child's environment from the supervisor's: filtered by
// inherit, overlaid with extra, plus the run ID.
func childEnv(inherit []string, extra map[string]string, runID string) []string {
	parentEnv := os.Environ()
	parentMap := make(map[string]string, len(parentEnv))
	for _, e := range parentEnv {
		if k, v, ok := strings.Cut(e, "="); ok {
			parentMap[k] = v
		}
	}

	var base []string
	switch {
	case len(inherit) == 1 && strings.ToLower(inherit[0]) == "none":
		base = nil
	case len(inherit) > 0:
		for _, e := range parentEnv {
			k, _, ok := strings.Cut(e, "=")
			if !ok {
				continue
			}
			for _, pattern := range inherit {
				if matchEnvGlob(pattern, k) {
					base = append(base, e)
					break
				}
			}
		}
	default:
		base = append([]string(nil), parentEnv...)
	}

	for k, v := range extra {
		expanded := os.Expand(v, func(key string) string { return parentMap[key] })
		base = setEnvVar(base, k, expanded)
	}
	if runID != "" {
		base = setEnvVar(base, RunIDEnv, runID)
	}
	return base
}

// setEnvVar sets or replaces an env var in a []string env slice.
func setEnvVar(env []string, key, value string) []string {
	prefix := key + "="
	for i, e := range env {
		if strings.HasPrefix(e, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}

// matchEnvGlob matches an env var name against a glob pattern.
func matchEnvGlob(pattern, name string) bool {
	matched, _ := filepath.Match(pattern, name)
	return matched
}

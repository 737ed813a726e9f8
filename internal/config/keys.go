package config

import (
	"os"
	"sort"
	"strconv"
	"strings"
)

const credentialPrefix = "GEMINI_API_KEY_"

// Credential is one named API key parsed from the environment.
type Credential struct {
	Alias string
	Key   string
}

// loadCredentials collects the rotation pool from the environment.
// Each key lives in its own variable, GEMINI_API_KEY_<alias>=value, so
// keys can be added or revoked without renumbering the rest. Aliases
// are sorted to give the pool a stable rotation order. The legacy
// comma-separated GEMINI_API_KEYS form is still accepted and gets
// synthetic key_N aliases.
func loadCredentials() []Credential {
	var creds []Credential
	for _, entry := range os.Environ() {
		name, value, ok := strings.Cut(entry, "=")
		if !ok || value == "" {
			continue
		}
		if !strings.HasPrefix(name, credentialPrefix) {
			continue
		}
		alias := strings.ToLower(strings.TrimPrefix(name, credentialPrefix))
		if alias == "" {
			continue
		}
		creds = append(creds, Credential{Alias: alias, Key: value})
	}
	sort.Slice(creds, func(i, j int) bool { return creds[i].Alias < creds[j].Alias })

	if len(creds) > 0 {
		return creds
	}

	// Legacy single-variable form.
	legacy := os.Getenv("GEMINI_API_KEYS")
	if legacy == "" {
		legacy = os.Getenv("GEMINI_API_KEY")
	}
	for i, key := range strings.Split(legacy, ",") {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		creds = append(creds, Credential{Alias: "key_" + strconv.Itoa(i+1), Key: key})
	}
	return creds
}

package env

import (
	"os"
	"strings"
)

// Prefix namespaces every variable the services read.
const Prefix = "GREENBASKET_"

// Get returns GREENBASKET_<key>, then the bare key, then fallback.
func Get(key, fallback string) string {
	if val, ok := Lookup(key); ok {
		return val
	}
	return fallback
}

// Lookup reports the first non-blank value among the prefixed and bare key.
func Lookup(key string) (string, bool) {
	key = strings.TrimPrefix(strings.TrimSpace(key), Prefix)
	for _, name := range []string{Prefix + key, key} {
		if val := strings.TrimSpace(os.Getenv(name)); val != "" {
			return val, true
		}
	}
	return "", false
}

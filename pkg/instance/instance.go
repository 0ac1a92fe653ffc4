package instance

import (
	"os"
	"strings"
)

// GetID returns the worker identity used for outbox leases: WORKER_ID when
// set, else the hostname, else a static default.
func GetID() string {
	if id := strings.TrimSpace(os.Getenv("WORKER_ID")); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-0"
}

package env

import (
	"fmt"
	"os"
)

// NatsUrl assembles the connection string from the standard lockd env vars.
func NatsUrl() string {
	username := os.Getenv("NATS_USERNAME")
	password := os.Getenv("NATS_PASSWORD")
	hostname := os.Getenv("NATS_HOSTNAME")
	port := os.Getenv("NATS_PORT")

	return fmt.Sprintf("nats://%s:%s@%s:%s", username, password, hostname, port)
}

// EnsurePrefixed prepends the NATS_PREFIX env var (if any) to a subject,
// so multiple lockd deployments can share one NATS cluster.
func EnsurePrefixed(subject string) string {
	prefix := os.Getenv("NATS_PREFIX")
	if prefix == "" {
		return subject
	}
	return fmt.Sprintf("%s.%s", prefix, subject)
}

// MetricsAddr is the listen address for the Prometheus endpoint.
func MetricsAddr() string {
	addr := os.Getenv("METRICS_ADDR")
	if addr == "" {
		return ":8081"
	}
	return addr
}

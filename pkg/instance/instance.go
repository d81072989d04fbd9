package instance

import "os"

// GetID identifies this process in logs. WORKER_ID wins, then the Cloud Run
// revision, then the host name.
func GetID() string {
	for _, key := range []string{"WORKER_ID", "K_REVISION"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-0"
}

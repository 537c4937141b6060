package instance

import "os"

// GetID names this process for event-origin tagging. Deployments set
// WORKER_ID per replica; a bare local run gets a stable default.
func GetID() string {
	if id := os.Getenv("WORKER_ID"); id != "" {
		return id
	}
	return "zammer-0"
}

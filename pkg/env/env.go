package env

import "os"

// Get reads key from the process environment, falling back when the variable
// is unset or empty.
func Get(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

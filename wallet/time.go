package wallet

import "time"

// nowISO8601 returns the current instant in UTC, RFC3339 (a profile of
// ISO-8601 the wallet object's created/last_modified fields use throughout).
func nowISO8601() string {
	return time.Now().UTC().Format(time.RFC3339)
}

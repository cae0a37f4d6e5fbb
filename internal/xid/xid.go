package xid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns prefix-<uuid v4>.
func New(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// Short returns the first eight hex digits of a random uuid, enough to
// correlate log lines of one request.
func Short() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

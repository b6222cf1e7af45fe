package id

import (
	"crypto/rand"

	"github.com/oklog/ulid/v2"
)

// New generates a new ULID string. ULIDs sort by creation time, so they double
// as a stable newest-first tiebreaker in both store backends.
func New() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

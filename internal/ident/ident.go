// Package ident generates sortable, collision-resistant identifiers for
// sessions, rounds, and messages.
package ident

import (
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// New returns a ULID string seeded from t.
func New(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Package id defines the opaque binary identifiers shared by every
// entity kind the GCS tracks. IDs are content-free: equality and
// hashing are the only operations callers may rely on.
package id

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// ID is a fixed-width opaque identifier.
type ID [16]byte

// Nil is the zero-value ID, used to represent "unassigned" (e.g. an
// actor with no assigned node yet).
var Nil ID

// New generates a fresh random ID. Callers on the main loop are the
// only legitimate callers: entity creation always happens there.
func New() ID {
	var out ID
	u := uuid.New()
	copy(out[:], u[:])
	return out
}

// String renders the ID as hex, used only for logging and table keys.
func (i ID) String() string {
	return hex.EncodeToString(i[:])
}

// IsNil reports whether the ID is the zero value.
func (i ID) IsNil() bool {
	return i == Nil
}

// Bytes returns the raw id bytes, used as table/KV store keys.
func (i ID) Bytes() []byte {
	return i[:]
}

// Parse decodes a hex string produced by String back into an ID.
func Parse(s string) (ID, error) {
	var out ID
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}

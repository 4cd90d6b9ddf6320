package odp

import (
	"encoding/binary"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// UFID is the 128-bit unique identifier of a datapath flow. It is
// formatted and parsed in UUID notation.
type UFID = uuid.UUID

// KeyHash hashes a flow key's attribute bytes with the given basis.
// Keys that differ only in attribute order hash differently; callers
// who need order independence must encode canonically first.
func KeyHash(key []byte, basis uint32) uint64 {
	var seed [4]byte
	binary.BigEndian.PutUint32(seed[:], basis)
	d := xxhash.New()
	d.Write(seed[:])
	d.Write(key)
	return d.Sum64()
}

// FlowUFID derives a stable identifier from a flow key.
func FlowUFID(key []byte) UFID {
	var u UFID
	binary.BigEndian.PutUint64(u[0:8], KeyHash(key, 0))
	binary.BigEndian.PutUint64(u[8:16], KeyHash(key, 1))
	return u
}

// FormatUFID renders a UFID with its text-codec prefix.
func FormatUFID(u UFID) string {
	return "ufid:" + u.String()
}

// ParseUFID parses a "ufid:" prefixed identifier at the start of s and
// returns it with the number of bytes consumed. ok is false when s does
// not begin with a well-formed UFID.
func ParseUFID(s string) (u UFID, n int, ok bool) {
	const prefix = "ufid:"
	if !strings.HasPrefix(s, prefix) {
		return UFID{}, 0, false
	}
	rest := s[len(prefix):]
	// UUID notation is fixed width.
	const uuidLen = 36
	if len(rest) < uuidLen {
		return UFID{}, 0, false
	}
	parsed, err := uuid.Parse(rest[:uuidLen])
	if err != nil {
		return UFID{}, 0, false
	}
	return parsed, len(prefix) + uuidLen, true
}

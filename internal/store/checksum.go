package store

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// checksum computes a tamper-evidence digest over a stored message's
// fields. A mismatch on read means the row was corrupted on disk and
// must be treated the same as an unreadable row (spec: get_next_backlog
// treats an unreadable row as empty).
func checksum(uid, method, data string) string {
	sum := blake2b.Sum256([]byte(uid + "|" + method + "|" + data))
	return hex.EncodeToString(sum[:])
}

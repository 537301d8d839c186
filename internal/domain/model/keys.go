package model

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/zeebo/blake3"
)

const (
	participationPrefix = "p_"
	backingPrefix       = "b_"
)

// ParticipationKey is the store id of the participation (eventID, userID).
func ParticipationKey(eventID, userID string) string {
	return participationPrefix + compositeKey(eventID, userID)
}

// BackingKey is the store id of the backing (eventID, backerID, targetUserID).
func BackingKey(eventID, backerID, targetUserID string) string {
	return backingPrefix + compositeKey(eventID, backerID, targetUserID)
}

// compositeKey hashes length-prefixed parts so that ("a_b","c") and
// ("a","b_c") never collide.
func compositeKey(parts ...string) string {
	h := blake3.New()
	var lenBuf [binary.MaxVarintLen64]byte
	for _, p := range parts {
		n := binary.PutUvarint(lenBuf[:], uint64(len(p)))
		_, _ = h.Write(lenBuf[:n])
		_, _ = h.Write([]byte(p))
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

package queue

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// WorkID derives the deterministic identity of a logical message, so duplicate
// receptions of the same message collapse onto one work item.
func WorkID(sender string, receivedAt time.Time) string {
	sum := sha256.Sum256([]byte(sender + "|" + strconv.FormatInt(receivedAt.UnixMilli(), 10)))
	return "sms_" + hex.EncodeToString(sum[:])[:32]
}

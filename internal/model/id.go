package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// WU IDs have the form wu_<unix-timestamp>_<8 hex chars>,
// e.g. wu_1761900300_9f2ab441. The timestamp segment makes IDs
// sortable by creation time without consulting the log.
var wuIDRegex = regexp.MustCompile(`^wu_[0-9]{10}_[0-9a-f]{8}$`)

// wuIDExtractRegex matches a WU ID embedded in a larger string,
// such as the trailing segment of a lane branch name.
var wuIDExtractRegex = regexp.MustCompile(`wu_[0-9]{10}_[0-9a-f]{8}`)

func GenerateWUID() (string, error) {
	timestamp := time.Now().Unix()
	randomBytes := make([]byte, 4)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return fmt.Sprintf("wu_%010d_%s", timestamp, hex.EncodeToString(randomBytes)), nil
}

func ValidateWUID(id string) bool {
	return wuIDRegex.MatchString(id)
}

// ExtractWUID returns the WU ID embedded in s (typically a branch name),
// or "" if none is present.
func ExtractWUID(s string) string {
	return wuIDExtractRegex.FindString(s)
}

func ParseWUIDTimestamp(id string) (time.Time, error) {
	if !ValidateWUID(id) {
		return time.Time{}, fmt.Errorf("invalid WU ID format: %s", id)
	}
	tsStr := id[3:13]
	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp from WU ID %s: %w", id, err)
	}
	return time.Unix(ts, 0), nil
}

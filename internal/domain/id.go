package domain

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
)

// StableID derives a content-addressed identifier so the same logical setup
// re-identifies itself across detection cycles.
func StableID(prefix string, parts ...string) string {
	sum := sha1.Sum([]byte(strings.Join(parts, "|")))
	return fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(sum[:])[:16])
}

// SetupSeed builds the identity seed for a zone-derived setup. Price bounds
// are rounded so float jitter between cycles cannot fork identities.
func SetupSeed(sessionDate string, setupType SetupType, zoneID string, priceLow, priceHigh float64) []string {
	return []string{
		sessionDate,
		string(setupType),
		zoneID,
		fmt.Sprintf("%.2f", priceLow),
		fmt.Sprintf("%.2f", priceHigh),
	}
}

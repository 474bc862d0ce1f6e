package records

import (
	"crypto/sha1" //nolint:gosec // non-cryptographic file naming
	"encoding/hex"
	"regexp"
	"strings"
	"unicode"
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	illegalChars  = regexp.MustCompile(`[\\/*?:"<>|]`)
)

// SanitizeFilename maps an item identifier to a safe file stem: whitespace
// runs become "_", path and shell metacharacters and control characters are
// dropped. Identifiers that sanitize to nothing usable fall back to a hash.
func SanitizeFilename(id string) string {
	name := strings.TrimSpace(id)
	name = whitespaceRun.ReplaceAllString(name, "_")
	name = illegalChars.ReplaceAllString(name, "")
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	if strings.Trim(name, "._") == "" {
		return "id-" + hashID(id)
	}
	return name
}

func hashID(id string) string {
	sum := sha1.Sum([]byte(id))
	return hex.EncodeToString(sum[:])
}

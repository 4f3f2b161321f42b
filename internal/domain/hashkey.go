package domain

import (
	"crypto/sha256"
	"fmt"
	"strconv"
	"strings"
)

// accessCodeAlphabet is the z-base-32 alphabet access codes are issued
// in. Any other character in a user-entered code is a transcription
// artifact and is dropped before hashing.
const accessCodeAlphabet = "ybndrfg8ejkmcpqxot1uwisza345h769"

// HashKey derives the non-reversible patient key used when registering
// and querying the clearinghouse: SHA-256 over the lowercased email,
// the normalized birth date, and the cleaned access code, hex encoded.
func HashKey(email, dateOfBirth, accessCode string) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(email)))
	h.Write([]byte(NormalizeDate(dateOfBirth)))
	h.Write([]byte(cleanAccessCode(accessCode)))
	return fmt.Sprintf("%064x", h.Sum(nil))
}

func cleanAccessCode(code string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(code) {
		if strings.ContainsRune(accessCodeAlphabet, r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeDate converts slash- or dot-separated dates to compact
// YYYYMMDD form. The year is recognized by magnitude, so both
// YYYY/MM/DD and MM/DD/YYYY normalize identically. Dates in any other
// shape pass through unchanged.
func NormalizeDate(date string) string {
	parts := strings.FieldsFunc(date, func(r rune) bool {
		return r == '/' || r == '.'
	})
	if len(parts) != 3 {
		return date
	}
	x0 := atoi(parts[0])
	x1 := atoi(parts[1])
	x2 := atoi(parts[2])

	var y, m, d int
	if x0 > 1000 {
		y, m, d = x0, x1, x2
	} else {
		m, d, y = x0, x1, x2
	}
	return fmt.Sprintf("%04d%02d%02d", y, m, d)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}

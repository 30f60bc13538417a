package container

import (
	"strconv"
	"strings"

	"github.com/lmdudester/garcon/internal/apperrors"
)

// binary multiples, matching the "NNN[KMGT]" memory-limit syntax of design
// §4.3.1 ("512M", "2G", ...).
const (
	kibi = 1024
	mebi = kibi * 1024
	gibi = mebi * 1024
	tebi = gibi * 1024
)

// ParseMemory parses a "NNN[KMGT]" memory limit into bytes. A bare number is
// treated as already being in bytes.
func ParseMemory(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, apperrors.New(apperrors.Validation, "empty memory limit")
	}

	suffix := s[len(s)-1:]
	var multiplier int64 = 1
	numPart := s

	switch strings.ToUpper(suffix) {
	case "K":
		multiplier = kibi
		numPart = s[:len(s)-1]
	case "M":
		multiplier = mebi
		numPart = s[:len(s)-1]
	case "G":
		multiplier = gibi
		numPart = s[:len(s)-1]
	case "T":
		multiplier = tebi
		numPart = s[:len(s)-1]
	}

	n, err := strconv.ParseInt(strings.TrimSpace(numPart), 10, 64)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.Validation, "invalid memory limit "+s, err)
	}
	return n * multiplier, nil
}

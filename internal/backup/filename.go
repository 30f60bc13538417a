// Package backup implements the backup/restore subsystem of design §4.4:
// tar.gz archives of a server's data directory, a per-type retention cap,
// and filename-encoded timestamps.
package backup

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lmdudester/garcon/internal/apperrors"
)

// Type is the backup-record type discriminator of design §3.
type Type string

const (
	TypeManual     Type = "manual"
	TypeAuto       Type = "auto"
	TypePreUpdate  Type = "pre-update"
	TypePreRestore Type = "pre-restore"
)

var filenamePattern = regexp.MustCompile(`^backup-(\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}-\d{3}Z)-(manual|auto|pre-update|pre-restore)\.tar\.gz$`)
var timestampPattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}T\d{2})-(\d{2})-(\d{2})-(\d{3}Z)$`)

// sanitiseTimestamp replaces ':' and '.' with '-' so the ISO-8601 timestamp
// is valid on every filesystem (design §4.4, §6).
func sanitiseTimestamp(iso string) string {
	s := strings.ReplaceAll(iso, ":", "-")
	s = strings.ReplaceAll(s, ".", "-")
	return s
}

// desanitiseTimestamp reverses sanitiseTimestamp via the grammar of §6.
func desanitiseTimestamp(sanitised string) (string, error) {
	m := timestampPattern.FindStringSubmatch(sanitised)
	if m == nil {
		return "", apperrors.Newf(apperrors.Validation, "malformed backup timestamp %q", sanitised)
	}
	return fmt.Sprintf("%s:%s:%s.%s", m[1], m[2], m[3], m[4]), nil
}

// filename builds the on-disk name for a backup of the given ISO-8601 UTC
// timestamp and type.
func filename(iso string, t Type) string {
	return fmt.Sprintf("backup-%s-%s.tar.gz", sanitiseTimestamp(iso), t)
}

// parseFilename reverses filename, rejecting names that don't match the
// grammar (design §4.4: "filenames that do not match the grammar are
// ignored during listing").
func parseFilename(name string) (iso string, t Type, ok bool) {
	m := filenamePattern.FindStringSubmatch(name)
	if m == nil {
		return "", "", false
	}
	ts, err := desanitiseTimestamp(m[1])
	if err != nil {
		return "", "", false
	}
	return ts, Type(m[2]), true
}

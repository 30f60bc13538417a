package backup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilenameRoundTrip(t *testing.T) {
	ts := "2026-03-14T09:26:53.589Z"
	name := filename(ts, TypeManual)
	assert.Equal(t, "backup-2026-03-14T09-26-53-589Z-manual.tar.gz", name)

	got, typ, ok := parseFilename(name)
	assert.True(t, ok)
	assert.Equal(t, ts, got)
	assert.Equal(t, TypeManual, typ)
}

func TestParseFilename_RejectsMalformed(t *testing.T) {
	_, _, ok := parseFilename("not-a-backup.tar.gz")
	assert.False(t, ok)

	_, _, ok = parseFilename("backup-2026-03-14T09-26-53-589Z-unknowntype.tar.gz")
	assert.False(t, ok)
}

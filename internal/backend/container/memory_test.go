package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMemory(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"512", 512, false},
		{"1K", 1024, false},
		{"512M", 512 * mebi, false},
		{"2G", 2 * gibi, false},
		{"1T", tebi, false},
		{"", 0, true},
		{"abcM", 0, true},
	}

	for _, c := range cases {
		got, err := ParseMemory(c.in)
		if c.wantErr {
			assert.Error(t, err, c.in)
			continue
		}
		assert.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}

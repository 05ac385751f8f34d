package migration

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMajorVersion(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{raw: "PostgreSQL 16.2 (Debian 16.2-1.pgdg120+2) on x86_64-pc-linux-gnu, compiled by gcc", want: "16"},
		{raw: "PostgreSQL 17.0 on aarch64-apple-darwin", want: "17"},
		{raw: "PostgreSQL 13.14", want: "13"},
		{raw: "PostgreSQL 9.6.24 on x86_64-pc-linux-gnu", want: "9.6"},
		{raw: "PostgreSQL 18beta1 on x86_64", want: "18"},
		{raw: "  15.4  ", want: "15"},
		{raw: "", want: DefaultMajorVersion},
		{raw: "not a version", want: DefaultMajorVersion},
		{raw: "PostgreSQL 0.1", want: DefaultMajorVersion},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseMajorVersion(tt.raw, DefaultMajorVersion))
		})
	}
}

func TestParseMajorVersion_CustomFallback(t *testing.T) {
	assert.Equal(t, "14", ParseMajorVersion("garbage", "14"))
}

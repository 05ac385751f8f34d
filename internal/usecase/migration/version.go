package migration

import (
	"regexp"
	"strconv"

	"github.com/Masterminds/semver/v3"
)

// DefaultMajorVersion is used when the server version cannot be parsed.
const DefaultMajorVersion = "16"

var versionToken = regexp.MustCompile(`\d+(?:\.\d+){0,2}`)

// ParseMajorVersion extracts the image major version from the output of
// SELECT version(), e.g. "PostgreSQL 16.2 (Debian ...) on x86_64" gives "16".
// Servers before 10 use two-part majors, so "PostgreSQL 9.6.24" gives "9.6".
// It returns fallback when no version can be found.
func ParseMajorVersion(raw, fallback string) string {
	token := versionToken.FindString(raw)
	if token == "" {
		return fallback
	}
	v, err := semver.NewVersion(token)
	if err != nil || v.Major() == 0 {
		return fallback
	}
	if v.Major() < 10 {
		return strconv.FormatUint(v.Major(), 10) + "." + strconv.FormatUint(v.Minor(), 10)
	}
	return strconv.FormatUint(v.Major(), 10)
}

package validation

import "strings"

// ParseImageReference splits an image reference into its name and its tag or
// digest. A reference without either gets the "latest" tag. A colon before
// the last slash belongs to a registry port, not a tag:
//
//	postgres:16                -> postgres, 16
//	mongo@sha256:abc           -> mongo, sha256:abc
//	localhost:5000/mysql       -> localhost:5000/mysql, latest
func ParseImageReference(imageRef string) (string, string) {
	if name, digest, ok := strings.Cut(imageRef, "@"); ok && strings.HasPrefix(digest, "sha256:") {
		return name, digest
	}

	lastSlash := strings.LastIndex(imageRef, "/")
	if colon := strings.LastIndex(imageRef, ":"); colon > lastSlash {
		return imageRef[:colon], imageRef[colon+1:]
	}
	return imageRef, "latest"
}

// NormalizeImageReference returns imageRef in "name:tag" form, adding the
// implicit "latest" tag. Digest references are returned unchanged.
func NormalizeImageReference(imageRef string) string {
	name, ref := ParseImageReference(imageRef)
	if strings.HasPrefix(ref, "sha256:") {
		return name + "@" + ref
	}
	return name + ":" + ref
}

// SameImage reports whether two references name the same image, treating a
// missing tag and an explicit "docker.io/library/" prefix as equivalent.
func SameImage(a, b string) bool {
	return stripDefaultRegistry(NormalizeImageReference(a)) == stripDefaultRegistry(NormalizeImageReference(b))
}

func stripDefaultRegistry(ref string) string {
	ref = strings.TrimPrefix(ref, "docker.io/")
	return strings.TrimPrefix(ref, "library/")
}

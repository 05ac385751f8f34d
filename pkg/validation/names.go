// Package validation provides input validation for names and references
// that end up in container runtime calls.
package validation

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Container names accepted by the Docker daemon.
var containerNameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// Compose project names: lowercase alphanumerics, dashes and underscores.
var projectNameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// MaxContainerNameLength is the longest name accepted for a database.
const MaxContainerNameLength = 63

// ValidateContainerName checks that name can be used as a container name.
func ValidateContainerName(name string) error {
	if name == "" {
		return fmt.Errorf("container name cannot be empty")
	}
	if len(name) > MaxContainerNameLength {
		return fmt.Errorf("container name exceeds maximum length of %d", MaxContainerNameLength)
	}
	if !containerNameRegex.MatchString(name) {
		return fmt.Errorf("invalid container name %q: only [a-zA-Z0-9_.-] allowed, must start with alphanumeric", name)
	}
	return nil
}

// ValidateProjectName checks a compose project name.
func ValidateProjectName(name string) error {
	if name == "" {
		return fmt.Errorf("project name cannot be empty")
	}
	if !projectNameRegex.MatchString(name) {
		return fmt.Errorf("invalid project name %q: only lowercase [a-z0-9_-] allowed", name)
	}
	return nil
}

// ValidatePathWithinRoot validates that a constructed path stays within the root directory.
func ValidatePathWithinRoot(rootDir, fullPath string) error {
	cleanRoot := filepath.Clean(rootDir)
	cleanPath := filepath.Clean(fullPath)

	if !strings.HasPrefix(cleanPath, cleanRoot+string(filepath.Separator)) && cleanPath != cleanRoot {
		return fmt.Errorf("path escapes root directory")
	}

	return nil
}

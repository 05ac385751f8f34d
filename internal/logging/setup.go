// Package logging holds the log field names and file setup the application
// adds on top of zerowrap.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bnema/zerowrap"
)

// Field names zerowrap does not define.
const (
	FieldStep    = "step"
	FieldProject = "project"
)

// NewWithFile is zerowrap.NewWithFile with the log directory created first.
// The returned cleanup is never nil.
func NewWithFile(cfg zerowrap.Config, fileCfg zerowrap.FileConfig) (zerowrap.Logger, func(), error) {
	if fileCfg.Enabled && fileCfg.Path != "" {
		// Owner-only permissions on the log directory
		if err := os.MkdirAll(filepath.Dir(fileCfg.Path), 0o700); err != nil {
			return zerowrap.Default(), func() {}, fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	return zerowrap.NewWithFile(cfg, fileCfg)
}

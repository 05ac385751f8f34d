package volumes

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bnema/zerowrap"

	"github.com/alemelgarejo/docker-database-manager/internal/domain"
	"github.com/alemelgarejo/docker-database-manager/pkg/validation"
)

const (
	// DefaultHelperImage only needs a filesystem; the helper is never started.
	DefaultHelperImage = "alpine:3.20"

	helperPrefix   = "dbm-volume-"
	mountPoint     = "/volume"
	cleanupTimeout = 30 * time.Second
)

// Backup writes the contents of volume name to a tar archive in destDir and
// returns the archive path. An empty destDir selects the configured backup
// directory. The volume is mounted read-only into a helper container that is
// removed on every exit path.
func (s *Service) Backup(ctx context.Context, name, destDir string) (string, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:    "usecase",
		zerowrap.FieldUseCase:  "BackupVolume",
		zerowrap.FieldEntityID: name,
	})
	log := zerowrap.FromCtx(ctx)

	if destDir == "" {
		destDir = s.config.BackupDir
	}
	if strings.TrimSpace(name) == "" {
		return "", &domain.ConfigError{Field: "volume", Reason: "name is required"}
	}
	if destDir == "" {
		return "", &domain.ConfigError{Field: "backup dir", Reason: "is required"}
	}
	if err := s.requireVolume(ctx, name); err != nil {
		return "", err
	}

	helperID, err := s.createHelper(ctx, name+":"+mountPoint+":ro")
	if err != nil {
		return "", err
	}
	defer s.removeHelper(ctx, helperID)

	if err := os.MkdirAll(destDir, 0o700); err != nil {
		return "", log.WrapErr(err, "failed to create backup directory")
	}
	path := filepath.Join(destDir, fmt.Sprintf("%s_%s.tar", name, s.now().UTC().Format("20060102-150405")))
	if err := validation.ValidatePathWithinRoot(destDir, path); err != nil {
		return "", &domain.ConfigError{Field: "volume", Value: name, Reason: err.Error()}
	}

	archive, err := s.runtime.CopyFromContainer(ctx, helperID, mountPoint)
	if err != nil {
		return "", log.WrapErr(err, "failed to read volume contents")
	}
	defer archive.Close()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", log.WrapErr(err, "failed to create backup file")
	}
	written, err := io.Copy(f, archive)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			log.Warn().Err(rmErr).Str("path", path).Msg("failed to remove partial backup")
		}
		return "", log.WrapErr(err, "failed to write backup file")
	}

	log.Info().Str("path", path).Int64("bytes", written).Msg("volume backed up")
	return path, nil
}

// Restore extracts an archive written by Backup into volume name, creating
// the volume when it does not exist. Files already in the volume and absent
// from the archive are kept.
func (s *Service) Restore(ctx context.Context, name, archivePath string) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:    "usecase",
		zerowrap.FieldUseCase:  "RestoreVolume",
		zerowrap.FieldEntityID: name,
		"archive":             archivePath,
	})
	log := zerowrap.FromCtx(ctx)

	if strings.TrimSpace(name) == "" {
		return &domain.ConfigError{Field: "volume", Reason: "name is required"}
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return log.WrapErr(err, "failed to open backup file")
	}
	defer f.Close()

	if err := checkArchive(f); err != nil {
		return &domain.ConfigError{Field: "backup file", Value: archivePath, Reason: err.Error()}
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return log.WrapErr(err, "failed to rewind backup file")
	}

	err = s.runtime.CreateVolume(ctx, name, nil)
	if err != nil && !errors.Is(err, domain.ErrVolumeExists) {
		return log.WrapErr(err, "failed to create volume")
	}

	helperID, err := s.createHelper(ctx, name+":"+mountPoint)
	if err != nil {
		return err
	}
	defer s.removeHelper(ctx, helperID)

	// Entries are rooted at the mount point's base name.
	if err := s.runtime.CopyToContainer(ctx, helperID, filepath.Dir(mountPoint), f); err != nil {
		return log.WrapErr(err, "failed to write volume contents")
	}

	log.Info().Msg("volume restored")
	return nil
}

// checkArchive accepts a tar whose first entry is the volume root.
func checkArchive(r io.Reader) error {
	hdr, err := tar.NewReader(r).Next()
	if err != nil {
		return fmt.Errorf("not a tar archive: %w", err)
	}
	root := strings.TrimPrefix(hdr.Name, "./")
	base := filepath.Base(mountPoint)
	if root != base && !strings.HasPrefix(root, base+"/") {
		return fmt.Errorf("archive is not a volume backup (first entry %q)", hdr.Name)
	}
	return nil
}

func (s *Service) requireVolume(ctx context.Context, name string) error {
	vols, err := s.runtime.ListVolumes(ctx)
	if err != nil {
		return zerowrap.FromCtx(ctx).WrapErr(err, "failed to list volumes")
	}
	for _, v := range vols {
		if v.Name == name {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", domain.ErrVolumeNotFound, name)
}

// createHelper creates, without starting, a container that mounts bind.
func (s *Service) createHelper(ctx context.Context, bind string) (string, error) {
	log := zerowrap.FromCtx(ctx)

	image := s.config.HelperImage
	if image == "" {
		image = DefaultHelperImage
	}
	if err := s.images.Ensure(ctx, image); err != nil {
		return "", err
	}

	spec := &domain.ContainerSpec{
		Name:   helperPrefix + s.newID()[:8],
		Image:  image,
		Cmd:    []string{"true"},
		Binds:  []string{bind},
		Labels: map[string]string{domain.LabelManaged: "volume-helper"},
	}
	helper, err := s.runtime.CreateContainer(ctx, spec)
	if err != nil {
		return "", log.WrapErr(err, "failed to create volume helper")
	}
	log.Debug().Str("helper", helper.ID).Msg("volume helper created")
	return helper.ID, nil
}

func (s *Service) removeHelper(ctx context.Context, helperID string) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if err := s.runtime.RemoveContainer(cleanupCtx, helperID, true, false); err != nil {
		log := zerowrap.FromCtx(ctx)
		log.Warn().Err(err).Str("helper", helperID).Msg("failed to remove volume helper")
	}
}

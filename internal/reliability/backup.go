// Package reliability backs up the price cache to object storage.
package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	backupPrefix     = "alphapulse-backup-"
	backupSuffix     = ".tar.gz"
	backupTimeLayout = "2006-01-02-150405"
	metadataFilename = "backup-metadata.json"
	minBackupsToKeep = 3
)

// Snapshotter writes a consistent copy of a database to dest.
type Snapshotter interface {
	Name() string
	SnapshotTo(ctx context.Context, dest string) error
}

// BackupMetadata is stored next to the database inside every archive
type BackupMetadata struct {
	Timestamp time.Time        `json:"timestamp"`
	Databases []DatabaseBackup `json:"databases"`
}

// DatabaseBackup describes one database file in an archive
type DatabaseBackup struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// BackupInfo describes a stored backup
type BackupInfo struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  int64     `json:"age_hours"`
}

// BackupService snapshots databases and ships them to an ObjectStore
type BackupService struct {
	databases     []Snapshotter
	store         ObjectStore
	stagingDir    string
	retentionDays int
	now           func() time.Time
	log           zerolog.Logger
}

// NewBackupService creates a backup service. retentionDays of 0 keeps every backup.
func NewBackupService(store ObjectStore, stagingDir string, retentionDays int, log zerolog.Logger, databases ...Snapshotter) *BackupService {
	return &BackupService{
		databases:     databases,
		store:         store,
		stagingDir:    stagingDir,
		retentionDays: retentionDays,
		now:           time.Now,
		log:           log.With().Str("service", "backup").Logger(),
	}
}

// BackupKey names the archive taken at t.
func BackupKey(t time.Time) string {
	return backupPrefix + t.UTC().Format(backupTimeLayout) + backupSuffix
}

func parseBackupKey(key string) (time.Time, bool) {
	if !strings.HasPrefix(key, backupPrefix) || !strings.HasSuffix(key, backupSuffix) {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(key, backupPrefix), backupSuffix)
	t, err := time.Parse(backupTimeLayout, stamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// CreateAndUpload snapshots every database into a tar.gz archive and uploads it.
func (s *BackupService) CreateAndUpload(ctx context.Context) (string, error) {
	s.log.Info().Msg("Starting backup")
	startTime := time.Now()

	if err := os.MkdirAll(s.stagingDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	workDir, err := os.MkdirTemp(s.stagingDir, "run-")
	if err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	taken := s.now().UTC()
	metadata := BackupMetadata{
		Timestamp: taken,
		Databases: make([]DatabaseBackup, 0, len(s.databases)),
	}

	files := make([]string, 0, len(s.databases)+1)
	for _, db := range s.databases {
		filename := db.Name() + ".db"
		path := filepath.Join(workDir, filename)

		if err := db.SnapshotTo(ctx, path); err != nil {
			return "", fmt.Errorf("failed to snapshot %s: %w", db.Name(), err)
		}

		info, err := os.Stat(path)
		if err != nil {
			return "", fmt.Errorf("failed to stat %s snapshot: %w", db.Name(), err)
		}
		checksum, err := fileChecksum(path)
		if err != nil {
			return "", fmt.Errorf("failed to checksum %s snapshot: %w", db.Name(), err)
		}

		metadata.Databases = append(metadata.Databases, DatabaseBackup{
			Name:      db.Name(),
			Filename:  filename,
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
		files = append(files, filename)
	}

	if err := writeMetadata(filepath.Join(workDir, metadataFilename), metadata); err != nil {
		return "", fmt.Errorf("failed to write metadata: %w", err)
	}
	files = append(files, metadataFilename)

	key := BackupKey(taken)
	archivePath := filepath.Join(workDir, key)
	if err := createArchive(archivePath, workDir, files); err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}

	archive, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer archive.Close()

	if err := s.store.Upload(ctx, key, archive); err != nil {
		return "", fmt.Errorf("failed to upload backup: %w", err)
	}

	s.log.Info().
		Str("key", key).
		Dur("duration_ms", time.Since(startTime)).
		Msg("Backup completed")

	return key, nil
}

// ListBackups returns stored backups, newest first.
func (s *BackupService) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	objects, err := s.store.List(ctx, backupPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	now := s.now()
	backups := make([]BackupInfo, 0, len(objects))
	for _, obj := range objects {
		ts, ok := parseBackupKey(obj.Key)
		if !ok {
			s.log.Warn().Str("key", obj.Key).Msg("Skipping object with unexpected name")
			continue
		}
		backups = append(backups, BackupInfo{
			Key:       obj.Key,
			Timestamp: ts,
			SizeBytes: obj.Size,
			AgeHours:  int64(now.Sub(ts).Hours()),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})

	return backups, nil
}

// RotateOldBackups deletes backups older than the retention period. The
// newest minBackupsToKeep always survive. It returns how many were deleted.
func (s *BackupService) RotateOldBackups(ctx context.Context) (int, error) {
	if s.retentionDays == 0 {
		return 0, nil
	}

	backups, err := s.ListBackups(ctx)
	if err != nil {
		return 0, err
	}
	if len(backups) <= minBackupsToKeep {
		return 0, nil
	}

	cutoff := s.now().AddDate(0, 0, -s.retentionDays)
	deleted := 0
	for _, backup := range backups[minBackupsToKeep:] {
		if !backup.Timestamp.Before(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, backup.Key); err != nil {
			s.log.Error().Err(err).Str("key", backup.Key).Msg("Failed to delete old backup")
			continue
		}
		deleted++
	}

	s.log.Info().
		Int("deleted", deleted).
		Int("remaining", len(backups)-deleted).
		Msg("Backup rotation completed")

	return deleted, nil
}

func fileChecksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}

func writeMetadata(path string, metadata BackupMetadata) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(metadata)
}

func createArchive(archivePath, sourceDir string, filenames []string) error {
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer archiveFile.Close()

	gz := gzip.NewWriter(archiveFile)
	tw := tar.NewWriter(gz)

	for _, name := range filenames {
		if err := addFileToArchive(tw, filepath.Join(sourceDir, name), name); err != nil {
			return fmt.Errorf("failed to add %s: %w", name, err)
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return archiveFile.Sync()
}

func addFileToArchive(tw *tar.Writer, path, nameInArchive string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Name:    nameInArchive,
		Size:    info.Size(),
		Mode:    int64(info.Mode().Perm()),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	_, err = io.Copy(tw, file)
	return err
}

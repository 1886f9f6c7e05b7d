// Package reliability ships the database off-site: a consistent snapshot
// is staged with VACUUM INTO, archived with a checksum manifest, uploaded
// to an S3-compatible bucket, and old archives are rotated out.
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

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/aristath/slimwatch/internal/database"
	"github.com/aristath/slimwatch/internal/events"
	"github.com/aristath/slimwatch/internal/version"
)

// archivePrefix keys every backup object so listing and rotation only
// ever touch our own archives.
const archivePrefix = "slimwatch-backup-"

// archiveTimeFormat is embedded in the object key and parsed back out
// during rotation.
const archiveTimeFormat = "2006-01-02-150405"

// minBackupsToKeep is the rotation floor: these many newest archives
// survive regardless of age.
const minBackupsToKeep = 3

// ObjectStorage is the slice of the object store the backup service
// needs. *ObjectStore satisfies it.
type ObjectStorage interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64) error
	List(ctx context.Context, prefix string) ([]types.Object, error)
	Delete(ctx context.Context, key string) error
}

// Manifest travels inside each archive and lets a restore verify what it
// unpacked.
type Manifest struct {
	Timestamp  time.Time      `json:"timestamp"`
	AppVersion string         `json:"app_version"`
	Files      []FileManifest `json:"files"`
}

// FileManifest describes one file in the archive.
type FileManifest struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// BackupInfo summarizes one archive in the bucket.
type BackupInfo struct {
	Filename  string    `json:"filename"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  int64     `json:"age_hours"`
}

// BackupService creates, uploads, lists, and rotates database backups.
type BackupService struct {
	store         ObjectStorage
	db            *database.DB
	dataDir       string
	retentionDays int
	log           zerolog.Logger
	bus           *events.Bus
	now           func() time.Time
}

// NewBackupService creates the service. retentionDays of zero means age
// never deletes an archive; the rotation floor still applies.
func NewBackupService(store ObjectStorage, db *database.DB, dataDir string, retentionDays int, log zerolog.Logger) *BackupService {
	return &BackupService{
		store:         store,
		db:            db,
		dataDir:       dataDir,
		retentionDays: retentionDays,
		log:           log.With().Str("service", "backup").Logger(),
		now:           time.Now,
	}
}

// SetEventBus wires the bus that receives BackupCompleted events.
// Optional; without a bus uploads simply do not publish.
func (s *BackupService) SetEventBus(bus *events.Bus) {
	s.bus = bus
}

// Run executes one full backup cycle: create and upload an archive, then
// rotate old ones. Rotation failures are logged, not returned; the
// archive is already safe at that point.
func (s *BackupService) Run(ctx context.Context) error {
	if err := s.CreateAndUpload(ctx); err != nil {
		return err
	}
	if err := s.RotateOldBackups(ctx); err != nil {
		s.log.Error().Err(err).Msg("Backup rotation failed")
	}
	return nil
}

// CreateAndUpload stages a consistent snapshot of the database, wraps it
// in a tar.gz with a checksum manifest, and uploads the archive.
func (s *BackupService) CreateAndUpload(ctx context.Context) error {
	start := s.now()
	s.log.Info().Msg("Starting backup")

	staging := filepath.Join(s.dataDir, "backup-staging")
	// A leftover from a crashed run would make VACUUM INTO fail.
	if err := os.RemoveAll(staging); err != nil {
		return fmt.Errorf("failed to clear staging directory: %w", err)
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	dbFilename := s.db.Name() + ".db"
	dbPath := filepath.Join(staging, dbFilename)
	if err := s.db.BackupTo(dbPath); err != nil {
		return fmt.Errorf("failed to snapshot database: %w", err)
	}

	info, err := os.Stat(dbPath)
	if err != nil {
		return fmt.Errorf("failed to stat snapshot: %w", err)
	}
	checksum, err := checksumFile(dbPath)
	if err != nil {
		return fmt.Errorf("failed to checksum snapshot: %w", err)
	}

	manifest := Manifest{
		Timestamp:  s.now().UTC(),
		AppVersion: version.Version,
		Files: []FileManifest{{
			Name:      dbFilename,
			SizeBytes: info.Size(),
			Checksum:  checksum,
		}},
	}
	manifestPath := filepath.Join(staging, "backup-manifest.json")
	if err := writeManifest(manifestPath, manifest); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	archiveName := archivePrefix + s.now().Format(archiveTimeFormat) + ".tar.gz"
	archivePath := filepath.Join(staging, archiveName)
	if err := createArchive(archivePath, []string{dbPath, manifestPath}); err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}

	archiveInfo, err := os.Stat(archivePath)
	if err != nil {
		return fmt.Errorf("failed to stat archive: %w", err)
	}
	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer archiveFile.Close()

	if err := s.store.Upload(ctx, archiveName, archiveFile, archiveInfo.Size()); err != nil {
		return fmt.Errorf("failed to upload archive: %w", err)
	}

	took := time.Since(start)
	s.log.Info().
		Str("archive", archiveName).
		Int64("size_bytes", archiveInfo.Size()).
		Dur("took", took).
		Msg("Backup completed")
	if s.bus != nil {
		s.bus.EmitData("backup", &events.BackupCompletedData{
			Archive:   archiveName,
			SizeBytes: archiveInfo.Size(),
			Duration:  took.Round(time.Millisecond).String(),
		})
	}
	return nil
}

// ListBackups returns our archives in the bucket, newest first.
func (s *BackupService) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	objects, err := s.store.List(ctx, archivePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	now := s.now()
	backups := make([]BackupInfo, 0, len(objects))
	for _, obj := range objects {
		if obj.Key == nil {
			continue
		}
		filename := *obj.Key
		if !strings.HasPrefix(filename, archivePrefix) || !strings.HasSuffix(filename, ".tar.gz") {
			continue
		}

		stamp := strings.TrimSuffix(strings.TrimPrefix(filename, archivePrefix), ".tar.gz")
		ts, err := time.Parse(archiveTimeFormat, stamp)
		if err != nil {
			s.log.Warn().Str("filename", filename).Msg("Unparseable backup timestamp, skipping")
			continue
		}

		var size int64
		if obj.Size != nil {
			size = *obj.Size
		}
		backups = append(backups, BackupInfo{
			Filename:  filename,
			Timestamp: ts,
			SizeBytes: size,
			AgeHours:  int64(now.Sub(ts).Hours()),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// RotateOldBackups deletes archives older than the retention window,
// always keeping the newest minBackupsToKeep.
func (s *BackupService) RotateOldBackups(ctx context.Context) error {
	backups, err := s.ListBackups(ctx)
	if err != nil {
		return err
	}
	if len(backups) <= minBackupsToKeep {
		return nil
	}

	var cutoff time.Time
	if s.retentionDays > 0 {
		cutoff = s.now().AddDate(0, 0, -s.retentionDays)
	}

	deleted := 0
	for i, b := range backups {
		if i < minBackupsToKeep {
			continue
		}
		if s.retentionDays == 0 || b.Timestamp.After(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, b.Filename); err != nil {
			s.log.Error().Err(err).Str("filename", b.Filename).Msg("Failed to delete old backup")
			continue
		}
		s.log.Info().Str("filename", b.Filename).Time("timestamp", b.Timestamp).Msg("Deleted old backup")
		deleted++
	}

	if deleted > 0 {
		s.log.Info().
			Int("deleted", deleted).
			Int("remaining", len(backups)-deleted).
			Msg("Backup rotation completed")
	}
	return nil
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}

func writeManifest(path string, m Manifest) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}

// createArchive writes a tar.gz holding the given files at their
// basenames.
func createArchive(archivePath string, files []string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	for _, path := range files {
		if err := addFileToArchive(tw, path); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", filepath.Base(path), err)
		}
	}
	return nil
}

func addFileToArchive(tw *tar.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Name:    filepath.Base(path),
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

// Package backup periodically uploads the persisted cache state (the
// bar database file and the calendar snapshot file) to an S3-compatible
// bucket for disaster recovery, using aws-sdk-go-v2's
// feature/s3/manager uploader — the same local-SQLite-snapshot-to-
// object-storage pattern the ecosystem already carries in its go.mod
// for its own embedded stores, now given a concrete home. Disabled
// unless a bucket is configured.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/quantdb/internal/config"
)

// Uploader is the minimal surface backup needs from the S3 manager,
// satisfied by *manager.Uploader; declared as an interface so tests can
// substitute a fake without touching real object storage.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Backup is the optional snapshot-backup component.
type Backup struct {
	cfg      config.BackupConfig
	dbPath   string
	snapPath string
	uploader Uploader
	log      zerolog.Logger
}

// New constructs a Backup from cfg. If cfg.Enabled is false, Run is a
// no-op and no AWS client is built.
func New(ctx context.Context, cfg config.BackupConfig, dbPath, snapshotPath string, log zerolog.Logger) (*Backup, error) {
	b := &Backup{cfg: cfg, dbPath: dbPath, snapPath: snapshotPath, log: log.With().Str("component", "backup").Logger()}
	if !cfg.Enabled {
		return b, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config for backup: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	b.uploader = manager.NewUploader(client)
	return b, nil
}

// Run uploads the bar database and calendar snapshot file, if present,
// under cfg.Prefix/<UTC timestamp>-<run id>-<filename>. A missing snapshot file (calendar never
// refreshed yet) is not an error.
func (b *Backup) Run(ctx context.Context) error {
	if !b.cfg.Enabled {
		return nil
	}

	// runID disambiguates backups that land in the same second (a manual
	// RunNow racing the scheduled job) so neither upload overwrites the
	// other's key.
	runID := uuid.New().String()[:8]

	if err := b.uploadFile(ctx, runID, b.dbPath); err != nil {
		return fmt.Errorf("backup bar database: %w", err)
	}
	if _, err := os.Stat(b.snapPath); err == nil {
		if err := b.uploadFile(ctx, runID, b.snapPath); err != nil {
			return fmt.Errorf("backup calendar snapshot: %w", err)
		}
	}

	b.log.Info().Str("bucket", b.cfg.Bucket).Str("run_id", runID).Msg("backup completed")
	return nil
}

func (b *Backup) uploadFile(ctx context.Context, runID, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	key := fmt.Sprintf("%s/%s-%s-%s", b.cfg.Prefix, time.Now().UTC().Format("20060102T150405Z"), runID, filepath.Base(path))
	_, err = b.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("upload %s to s3://%s/%s: %w", path, b.cfg.Bucket, key, err)
	}
	return nil
}

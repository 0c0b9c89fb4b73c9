package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dukerupert/stride/internal/model"
	"github.com/dukerupert/stride/internal/store"
	"github.com/dukerupert/stride/internal/tracker"
)

var (
	ErrNotConfigured = errors.New("archives not configured: S3 credentials missing")
	ErrNotFound      = errors.New("archive not found")
	ErrNotReady      = errors.New("archive not completed")
)

// DefaultRetentionDays is used when Config.RetentionDays is not positive.
const DefaultRetentionDays = 30

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

// complete reports whether a bucket is set. Without static keys the client
// falls back to the default AWS credential chain.
func (c S3Config) complete() bool {
	return c.Bucket != ""
}

// Config holds archive manager configuration.
type Config struct {
	S3            S3Config
	RetentionDays int
}

// Snapshotter is the tracker surface archives are built from and restored into.
type Snapshotter interface {
	ExportSnapshot(ctx context.Context, ownerID int64, kind model.Kind) ([]byte, error)
	ImportSnapshot(ctx context.Context, owner tracker.Owner, blob []byte) (int, error)
}

// State represents the archive manager state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
	StateError    State = "error"
)

// Status holds the current archive manager status.
type Status struct {
	State       State      `json:"state"`
	LastArchive *time.Time `json:"last_archive,omitempty"`
	Error       string     `json:"error,omitempty"`
	InProgress  bool       `json:"in_progress"`
}

// Manager writes encrypted snapshots of an owner's collection to
// S3-compatible storage and restores them.
type Manager struct {
	mu       sync.RWMutex
	cfg      Config
	status   Status
	client   s3Client
	archives *store.ArchiveStore
	snaps    Snapshotter
	logger   *slog.Logger
	now      func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates an archive manager. Without complete S3 credentials
// the manager is disabled and every operation returns ErrNotConfigured.
func NewManager(cfg Config, archives *store.ArchiveStore, snaps Snapshotter, logger *slog.Logger) *Manager {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}
	m := &Manager{
		cfg:      cfg,
		archives: archives,
		snaps:    snaps,
		logger:   logger.With("component", "archive"),
		now:      time.Now,
		status:   Status{State: StateDisabled},
	}

	if cfg.S3.complete() {
		client, err := newS3Client(context.Background(), cfg.S3)
		if err != nil {
			m.logger.Error("archive storage disabled", "error", err)
			return m
		}
		m.client = client
		m.status.State = StateIdle
	}

	return m
}

func newS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// Enabled reports whether S3 storage is configured.
func (m *Manager) Enabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client != nil
}

// Start begins the hourly retention sweep.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.status.State == StateDisabled {
		m.mu.Unlock()
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.mu.Unlock()

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep(ctx)
			}
		}
	}()
}

// Stop gracefully stops the archive manager.
func (m *Manager) Stop() {
	m.mu.RLock()
	cancel := m.cancel
	done := m.done
	m.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Status returns the current archive status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

func (m *Manager) bucketClient() (s3Client, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil {
		return nil, "", ErrNotConfigured
	}
	return m.client, m.cfg.S3.Bucket, nil
}

func (m *Manager) sweep(ctx context.Context) {
	owners, err := m.archives.ListOwnerIDs()
	if err != nil {
		m.logger.Error("list archive owners", "error", err)
		return
	}
	for _, id := range owners {
		if err := m.Cleanup(ctx, id); err != nil {
			m.logger.Error("archive cleanup failed", "owner_id", id, "error", err)
		}
	}
}

// Create exports the owner's full collection, encrypts it under passphrase
// and uploads it.
func (m *Manager) Create(ctx context.Context, ownerID int64, passphrase string) (*model.Archive, error) {
	client, bucket, err := m.bucketClient()
	if err != nil {
		return nil, err
	}

	m.setStatus(Status{State: StateRunning, InProgress: true})

	timestamp := m.now().UTC().Format("2006-01-02T150405Z")
	filename := fmt.Sprintf("stride-%s.json.enc", timestamp)
	s3Key := fmt.Sprintf("%d/%s", ownerID, filename)

	record, err := m.archives.Create(ownerID, filename, s3Key)
	if err != nil {
		m.setStatus(Status{State: StateError, Error: err.Error()})
		return nil, fmt.Errorf("create archive record: %w", err)
	}

	fail := func(step string, err error) (*model.Archive, error) {
		if uerr := m.archives.UpdateStatus(record.ID, model.ArchiveStatusFailed, err.Error()); uerr != nil {
			m.logger.Error("mark archive failed", "archive_id", record.ID, "error", uerr)
		}
		m.setStatus(Status{State: StateError, Error: err.Error()})
		return nil, fmt.Errorf("%s: %w", step, err)
	}

	snapshot, err := m.snaps.ExportSnapshot(ctx, ownerID, "")
	if err != nil {
		return fail("export snapshot", err)
	}

	sealed, err := Encrypt(snapshot, passphrase)
	if err != nil {
		return fail("encrypt", err)
	}

	if err := m.archives.UpdateStatus(record.ID, model.ArchiveStatusUploading, ""); err != nil {
		return fail("update archive status", err)
	}

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(s3Key),
		Body:          bytes.NewReader(sealed),
		ContentLength: aws.Int64(int64(len(sealed))),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return fail("upload to s3", err)
	}

	if err := m.archives.MarkCompleted(record.ID, int64(len(sealed))); err != nil {
		return fail("mark completed", err)
	}

	now := m.now().UTC()
	m.setStatus(Status{State: StateIdle, LastArchive: &now})
	m.logger.Info("archive uploaded", "owner_id", ownerID, "archive_id", record.ID, "bytes", len(sealed))

	return m.archives.GetByID(record.ID, ownerID)
}

// List returns the owner's most recent archives.
func (m *Manager) List(ownerID int64, limit int) ([]model.Archive, error) {
	return m.archives.List(ownerID, limit)
}

func (m *Manager) fetch(ctx context.Context, archiveID, ownerID int64) (io.ReadCloser, *model.Archive, error) {
	client, bucket, err := m.bucketClient()
	if err != nil {
		return nil, nil, err
	}

	record, err := m.archives.GetByID(archiveID, ownerID)
	if err != nil {
		return nil, nil, fmt.Errorf("get archive: %w", err)
	}
	if record == nil {
		return nil, nil, ErrNotFound
	}
	if record.Status != model.ArchiveStatusCompleted {
		return nil, nil, ErrNotReady
	}

	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(record.S3Key),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("download from s3: %w", err)
	}
	return result.Body, record, nil
}

// Restore downloads and decrypts an archive and imports it into the owner's
// collection. The import replaces the collection all-or-nothing.
func (m *Manager) Restore(ctx context.Context, owner tracker.Owner, archiveID int64, passphrase string) (int, error) {
	body, _, err := m.fetch(ctx, archiveID, owner.ID)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	sealed, err := io.ReadAll(body)
	if err != nil {
		return 0, fmt.Errorf("read archive: %w", err)
	}

	snapshot, err := Decrypt(sealed, passphrase)
	if err != nil {
		return 0, err
	}

	n, err := m.snaps.ImportSnapshot(ctx, owner, snapshot)
	if err != nil {
		return 0, fmt.Errorf("import archive: %w", err)
	}
	m.logger.Info("archive restored", "owner_id", owner.ID, "archive_id", archiveID, "items", n)
	return n, nil
}

// Download streams an encrypted archive from S3.
func (m *Manager) Download(ctx context.Context, archiveID, ownerID int64) (io.ReadCloser, *model.Archive, error) {
	return m.fetch(ctx, archiveID, ownerID)
}

// Cleanup deletes the owner's archives older than the retention period.
func (m *Manager) Cleanup(ctx context.Context, ownerID int64) error {
	client, bucket, err := m.bucketClient()
	if err != nil {
		return nil
	}

	before := m.now().UTC().AddDate(0, 0, -m.cfg.RetentionDays)
	keys, err := m.archives.DeleteOlderThan(ownerID, before)
	if err != nil {
		return fmt.Errorf("delete old archives: %w", err)
	}

	for _, key := range keys {
		if _, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		}); err != nil {
			m.logger.Warn("delete S3 object", "key", key, "error", err)
		}
	}

	return nil
}

// Package backup copies a user's verifier and encrypted records to
// S3-compatible storage and back. Snapshots are CBOR; nothing in them is
// plaintext.
package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/logging"
	"github.com/dmitrijs2005/medvault/internal/models"
)

const (
	SnapshotVersion = 1
	contentType     = "application/cbor"
	keyTimeLayout   = "20060102T150405.000000000Z"
)

var (
	ErrNoSnapshot      = errors.New("no snapshot found")
	ErrSnapshotInvalid = errors.New("invalid snapshot")
	ErrVaultNotEmpty   = errors.New("vault must be empty to restore")
)

// Snapshot is the unit written to the bucket.
type Snapshot struct {
	Version  int             `cbor:"1,keyasint"`
	UserID   string          `cbor:"2,keyasint"`
	TakenAt  time.Time       `cbor:"3,keyasint"`
	Verifier models.Verifier `cbor:"4,keyasint"`
	Blobs    []models.Blob   `cbor:"5,keyasint"`
}

// Store is the vault storage the snapshots are taken from and restored to.
type Store interface {
	Snapshot(ctx context.Context, userID string) (*models.Verifier, []models.Blob, error)
	Restore(ctx context.Context, v *models.Verifier, blobs []models.Blob) error
}

type Service struct {
	s3     ObjectStore
	store  Store
	bucket string
	prefix string
	log    logging.Logger
	enc    cbor.EncMode
	now    func() time.Time
}

func NewService(client ObjectStore, store Store, bucket, prefix string, log logging.Logger) (*Service, error) {
	if bucket == "" {
		return nil, errors.New("backup: bucket is not configured")
	}
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	enc, err := opts.EncMode()
	if err != nil {
		return nil, err
	}
	return &Service{
		s3:     client,
		store:  store,
		bucket: bucket,
		prefix: prefix,
		log:    log,
		enc:    enc,
		now:    time.Now,
	}, nil
}

func (s *Service) userPrefix(userID string) string {
	return path.Join(s.prefix, userID) + "/"
}

// Backup uploads a snapshot of userID and returns its object key.
func (s *Service) Backup(ctx context.Context, userID string) (string, error) {
	v, blobs, err := s.store.Snapshot(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("read vault: %w", err)
	}

	snap := Snapshot{
		Version:  SnapshotVersion,
		UserID:   userID,
		TakenAt:  s.now().UTC(),
		Verifier: *v,
		Blobs:    blobs,
	}
	data, err := s.enc.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	key := s.userPrefix(userID) + snap.TakenAt.Format(keyTimeLayout) + ".cbor"
	_, err = s.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("S3 PutObject failed: %w", err)
	}

	s.log.Info(ctx, "vault backed up", "user_id", userID, "object_key", key, "records", len(blobs), "size", len(data))
	return key, nil
}

// List returns the snapshot keys of userID, oldest first.
func (s *Service) List(ctx context.Context, userID string) ([]string, error) {
	var keys []string
	p := s3.NewListObjectsV2Paginator(s.s3, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.userPrefix(userID)),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("S3 ListObjects failed: %w", err)
		}
		for _, o := range page.Contents {
			keys = append(keys, aws.ToString(o.Key))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Fetch downloads and decodes one snapshot. An empty key selects the latest.
func (s *Service) Fetch(ctx context.Context, userID, key string) (*Snapshot, error) {
	if key == "" {
		keys, err := s.List(ctx, userID)
		if err != nil {
			return nil, err
		}
		if len(keys) == 0 {
			return nil, ErrNoSnapshot
		}
		key = keys[len(keys)-1]
	}

	out, err := s.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("S3 GetObject failed: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read S3 object: %w", err)
	}

	var snap Snapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSnapshotInvalid, err)
	}
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrSnapshotInvalid, snap.Version)
	}
	if snap.UserID != userID || snap.Verifier.UserID != userID {
		return nil, fmt.Errorf("%w: snapshot belongs to another user", ErrSnapshotInvalid)
	}
	return &snap, nil
}

// Restore writes a snapshot into an empty vault in one store transaction.
// The key salt includes the user id, which is why snapshots only restore
// to the user that took them.
func (s *Service) Restore(ctx context.Context, userID, key string) (*Snapshot, error) {
	snap, err := s.Fetch(ctx, userID, key)
	if err != nil {
		return nil, err
	}

	v := snap.Verifier
	if v.KeyID == "" {
		v.KeyID = uuid.NewString()
	}
	blobs := make([]models.Blob, len(snap.Blobs))
	for i := range snap.Blobs {
		blobs[i] = snap.Blobs[i]
		blobs[i].UserID = userID
	}

	if err := s.store.Restore(ctx, &v, blobs); err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, ErrVaultNotEmpty
		}
		return nil, fmt.Errorf("restore vault: %w", err)
	}

	s.log.Info(ctx, "vault restored", "user_id", userID, "records", len(blobs))
	return snap, nil
}

package keystore

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/dephy-io/dephy-sensor-node/interfaces"
)

// s3KeyObject is the object name under the configured prefix.
const s3KeyObject = "device.key"

// S3KeyStore implements a key store on Amazon S3 or a compatible service.
// The key object is written only after a HeadObject confirms it is absent.
//
// S3 offers no one-time slot. HeadObject and PutObject are separate requests
// and the SDK's PutObjectInput has no If-None-Match precondition, so two
// writers racing on the same object can both pass the check. The later PUT
// wins. Write reads the object back and reports ErrAlreadyProvisioned to a
// writer whose key was overwritten, which narrows the window without closing
// it. Use the file or Vault backend where a strict single write matters.
type S3KeyStore struct {
	client      *s3.S3
	bucketName  string
	key         string
	log         *slog.Logger
	locationURI string
}

// NewS3KeyStore creates a new S3 key store. Static credentials are used when
// accessKey and secretKey are set, otherwise the default AWS credential chain.
// A non-empty endpoint selects path-style addressing for S3-compatible services.
func NewS3KeyStore(bucketName, prefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3KeyStore, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("%w: empty bucket name", interfaces.ErrInvalidLocationURI)
	}

	// Format the URI for tracking
	uri := fmt.Sprintf("s3://%s/%s?region=%s", bucketName, prefix, region)
	if endpoint != "" {
		uri += fmt.Sprintf("&endpoint=%s", endpoint)
	}

	cfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	if accessKey != "" && secretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &S3KeyStore{
		client:      s3.New(sess),
		bucketName:  bucketName,
		key:         path.Join(strings.Trim(prefix, "/"), s3KeyObject),
		log:         log,
		locationURI: uri,
	}, nil
}

// isNotFound reports whether err is an S3 404.
func isNotFound(err error) bool {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return true
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}

// IsProvisioned reports whether the key object exists.
func (b *S3KeyStore) IsProvisioned(ctx context.Context) (bool, error) {
	_, err := b.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(b.key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
}

// Read fetches the key object.
func (b *S3KeyStore) Read(ctx context.Context) ([interfaces.KeyLength]byte, bool, error) {
	var key [interfaces.KeyLength]byte

	result, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(b.key),
	})
	if err != nil {
		if isNotFound(err) {
			return key, false, nil
		}
		return key, false, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	defer result.Body.Close()

	body, err := io.ReadAll(io.LimitReader(result.Body, 2*interfaces.KeyLength+2))
	if err != nil {
		return key, false, fmt.Errorf("failed to read key object: %w", err)
	}

	raw, err := hex.DecodeString(strings.TrimSpace(string(body)))
	if err != nil || len(raw) != interfaces.KeyLength {
		return key, false, fmt.Errorf("malformed key object s3://%s/%s", b.bucketName, b.key)
	}
	copy(key[:], raw)
	zeroBytes(raw)
	return key, true, nil
}

// Write uploads the key object if it does not exist yet.
func (b *S3KeyStore) Write(ctx context.Context, key [interfaces.KeyLength]byte) error {
	start := time.Now()

	provisioned, err := b.IsProvisioned(ctx)
	if err != nil {
		return err
	}
	if provisioned {
		return interfaces.ErrAlreadyProvisioned
	}

	_, err = b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucketName),
		Key:         aws.String(b.key),
		Body:        bytes.NewReader([]byte(hex.EncodeToString(key[:]))),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		b.log.Error("Failed to put key object",
			slog.String("bucket", b.bucketName),
			slog.String("key", b.key),
			"err", err)
		return fmt.Errorf("%w: %v", interfaces.ErrKeyStoreWriteFailed, err)
	}

	stored, ok, err := b.Read(ctx)
	if err != nil {
		return fmt.Errorf("%w: read back: %v", interfaces.ErrKeyStoreWriteFailed, err)
	}
	same := ok && stored == key
	zeroBytes(stored[:])
	if !same {
		b.log.Warn("Key object overwritten by a concurrent writer",
			slog.String("bucket", b.bucketName),
			slog.String("key", b.key))
		return fmt.Errorf("%w: concurrent write to s3://%s/%s", interfaces.ErrAlreadyProvisioned, b.bucketName, b.key)
	}

	b.log.Info("Key written to S3",
		slog.String("bucket", b.bucketName),
		slog.String("key", b.key),
		slog.Duration("duration", time.Since(start)))

	return nil
}

// Name returns a unique identifier for this key store.
func (b *S3KeyStore) Name() string {
	return fmt.Sprintf("s3-%s-%s", b.bucketName, b.key)
}

// LocationURI returns the URI that identifies this key store.
func (b *S3KeyStore) LocationURI() string {
	return b.locationURI
}

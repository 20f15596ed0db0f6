package verifier

import (
	"cmp"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	groth16_bn254 "github.com/consensys/gnark/backend/groth16/bn254"
	"github.com/vocdoni/anonvote-node/log"
	"github.com/vocdoni/anonvote-node/util"
	"golang.org/x/sync/singleflight"
)

// maxArtifactSize bounds the size of a downloaded verifying key.
const maxArtifactSize = 64 << 20

var (
	// ErrArtifactNotFound is returned when the artifact does not exist at
	// the given location.
	ErrArtifactNotFound = errors.New("artifact not found")
	// ErrArtifactHashMismatch is returned when the content of an artifact
	// does not match its expected sha256 hash.
	ErrArtifactHashMismatch = errors.New("artifact hash mismatch")
)

// Fetcher retrieves artifacts from one kind of location.
type Fetcher interface {
	// ValidURI reports whether the fetcher handles uri.
	ValidURI(uri string) bool
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// Loader fetches artifacts through the first Fetcher that accepts their
// location. Concurrent loads of the same location share one fetch.
type Loader struct {
	fetchers []Fetcher
	group    singleflight.Group
}

// NewLoader returns a loader with the local file and HTTP fetchers plus the
// extra ones given.
func NewLoader(extra ...Fetcher) *Loader {
	return &Loader{
		fetchers: append([]Fetcher{FileFetcher{}, &HTTPFetcher{}}, extra...),
	}
}

// Load returns the content at uri. If expectedHash is not empty, the hex
// sha256 of the content must match it.
func (l *Loader) Load(ctx context.Context, uri, expectedHash string) ([]byte, error) {
	v, err, shared := l.group.Do(uri, func() (any, error) {
		for _, f := range l.fetchers {
			if f.ValidURI(uri) {
				return f.Fetch(ctx, uri)
			}
		}
		return nil, fmt.Errorf("no fetcher for %q", uri)
	})
	if err != nil {
		return nil, err
	}
	data := v.([]byte)
	log.Debugw("artifact loaded", "uri", uri, "size", len(data), "shared", shared)
	if expectedHash != "" {
		sum := sha256.Sum256(data)
		if got := hex.EncodeToString(sum[:]); !strings.EqualFold(got, util.TrimHex(expectedHash)) {
			return nil, fmt.Errorf("%w: %s has hash %s, expected %s", ErrArtifactHashMismatch, uri, got, expectedHash)
		}
	}
	return data, nil
}

// LoadVerifyingKey loads and parses a verifying key, in gnark binary or
// snarkjs JSON form.
func (l *Loader) LoadVerifyingKey(ctx context.Context, uri, expectedHash string) (*groth16_bn254.VerifyingKey, error) {
	data, err := l.Load(ctx, uri, expectedHash)
	if err != nil {
		return nil, err
	}
	return ParseVerifyingKey(data)
}

// FileFetcher reads artifacts from the local filesystem. It accepts plain
// paths and file:// URLs.
type FileFetcher struct{}

func (FileFetcher) ValidURI(uri string) bool {
	return strings.HasPrefix(uri, "file://") || !strings.Contains(uri, "://")
}

func (FileFetcher) Fetch(_ context.Context, uri string) ([]byte, error) {
	data, err := os.ReadFile(strings.TrimPrefix(uri, "file://"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, uri)
	}
	return data, err
}

// HTTPFetcher downloads artifacts over HTTP or HTTPS.
type HTTPFetcher struct {
	Client *http.Client
}

func (*HTTPFetcher) ValidURI(uri string) bool {
	return strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://")
}

func (f *HTTPFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request for %s: %w", uri, err)
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", uri, err)
	}
	defer func() {
		if err := res.Body.Close(); err != nil {
			log.Warnw("failed to close artifact response body", "uri", uri, "error", err)
		}
	}()
	switch {
	case res.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, uri)
	case res.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("failed to download %s: status code %d", uri, res.StatusCode)
	}
	return readLimited(res.Body)
}

// S3Config holds the settings of an S3 compatible object storage.
type S3Config struct {
	// Endpoint overrides the AWS endpoint, e.g. for DigitalOcean Spaces
	// or MinIO. Empty means AWS.
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// S3Fetcher downloads artifacts from s3://bucket/key locations.
type S3Fetcher struct {
	client *s3.Client
}

// NewS3Fetcher creates a fetcher from cfg. Without static credentials the
// default AWS credential chain is used.
func NewS3Fetcher(ctx context.Context, cfg S3Config) (*S3Fetcher, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cmp.Or(cfg.Region, "us-east-1")),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	sdkConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS SDK config: %w", err)
	}
	client := s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Fetcher{client: client}, nil
}

func (*S3Fetcher) ValidURI(uri string) bool {
	return strings.HasPrefix(uri, "s3://")
}

func (f *S3Fetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	bucket, key, err := ParseS3URI(uri)
	if err != nil {
		return nil, err
	}
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NoSuchBucket") {
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, uri)
		}
		return nil, fmt.Errorf("failed to get %s: %w", uri, err)
	}
	defer func() {
		if err := out.Body.Close(); err != nil {
			log.Warnw("failed to close s3 object body", "uri", uri, "error", err)
		}
	}()
	return readLimited(out.Body)
}

// ParseS3URI splits s3://bucket/key into its bucket and key.
func ParseS3URI(uri string) (string, string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("invalid s3 uri %q: %w", uri, err)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if u.Scheme != "s3" || u.Host == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 uri %q, expected s3://bucket/key", uri)
	}
	return u.Host, key, nil
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxArtifactSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxArtifactSize {
		return nil, fmt.Errorf("artifact exceeds %d bytes", maxArtifactSize)
	}
	return data, nil
}

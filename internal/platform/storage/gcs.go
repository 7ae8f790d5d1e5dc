package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCS stores objects in a Google Cloud Storage bucket.
type GCS struct {
	client *gcs.Client
	bucket string
}

// NewGCSClient builds a client from explicit credentials JSON, or from application
// default credentials when credentialsJSON is empty.
func NewGCSClient(ctx context.Context, credentialsJSON string) (*gcs.Client, error) {
	if strings.TrimSpace(credentialsJSON) != "" {
		return gcs.NewClient(ctx, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}
	return gcs.NewClient(ctx)
}

// NewGCS wraps a client bound to bucket.
func NewGCS(client *gcs.Client, bucket string) (*GCS, error) {
	if client == nil {
		return nil, fmt.Errorf("storage: gcs client required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("storage: GCS_BUCKET is required")
	}
	return &GCS{client: client, bucket: bucket}, nil
}

// Put uploads body to key.
func (g *GCS) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	cleaned, err := CleanKey(key)
	if err != nil {
		return err
	}
	wc := g.client.Bucket(g.bucket).Object(cleaned).NewWriter(ctx)
	wc.ContentType = contentType
	if _, err := io.Copy(wc, body); err != nil {
		_ = wc.Close()
		return fmt.Errorf("storage: gcs upload: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("storage: gcs close writer: %w", err)
	}
	return nil
}

// Open returns a reader for key.
func (g *GCS) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return nil, err
	}
	rc, err := g.client.Bucket(g.bucket).Object(cleaned).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: gcs open: %w", err)
	}
	return rc, nil
}

// Exists reports whether key holds an object.
func (g *GCS) Exists(ctx context.Context, key string) (bool, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return false, err
	}
	_, err = g.client.Bucket(g.bucket).Object(cleaned).Attrs(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: gcs attrs: %w", err)
	}
	return true, nil
}

// Delete removes key; deleting a missing object is not an error.
func (g *GCS) Delete(ctx context.Context, key string) error {
	cleaned, err := CleanKey(key)
	if err != nil {
		return err
	}
	err = g.client.Bucket(g.bucket).Object(cleaned).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("storage: gcs delete: %w", err)
	}
	return nil
}

// GCSSigner issues V4 signed GET URLs with a service account key.
type GCSSigner struct {
	bucket     string
	accessID   string
	privateKey []byte
	now        func() time.Time
}

type serviceAccountJSON struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
}

// NewGCSSigner resolves signing credentials from the service account JSON, falling back to
// an explicit email and PEM key.
func NewGCSSigner(bucket, credentialsJSON, signerEmail, signerKey string) (*GCSSigner, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("storage: GCS_BUCKET is required")
	}
	email, key := strings.TrimSpace(signerEmail), strings.TrimSpace(signerKey)
	if strings.TrimSpace(credentialsJSON) != "" {
		var account serviceAccountJSON
		if err := json.Unmarshal([]byte(credentialsJSON), &account); err != nil {
			return nil, fmt.Errorf("storage: invalid GCS_CREDENTIALS_JSON: %w", err)
		}
		if account.ClientEmail != "" && account.PrivateKey != "" {
			email, key = account.ClientEmail, account.PrivateKey
		}
	}
	if email == "" || key == "" {
		return nil, errors.New("storage: GCS signer requires client_email and private_key")
	}
	return &GCSSigner{
		bucket:     bucket,
		accessID:   email,
		privateKey: []byte(strings.ReplaceAll(key, "\\n", "\n")),
		now:        time.Now,
	}, nil
}

// SignedURL returns a V4 signed GET URL for req.Key.
func (s *GCSSigner) SignedURL(ctx context.Context, req SignRequest) (string, error) {
	cleaned, err := CleanKey(req.Key)
	if err != nil {
		return "", err
	}
	if req.TTL <= 0 {
		return "", fmt.Errorf("storage: signed url ttl must be positive")
	}
	return gcs.SignedURL(s.bucket, cleaned, &gcs.SignedURLOptions{
		Scheme:         gcs.SigningSchemeV4,
		Method:         http.MethodGet,
		Expires:        s.now().Add(req.TTL),
		GoogleAccessID: s.accessID,
		PrivateKey:     s.privateKey,
	})
}

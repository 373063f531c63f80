package Storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"AcesFuel/Config"

	gcs "cloud.google.com/go/storage"
	firebase "firebase.google.com/go/v4"
)

var ErrInvalidPath = errors.New("invalid object path")

// Uploader stores an object at path, replacing any existing object, and
// returns a publicly resolvable URL for it.
type Uploader interface {
	Upload(ctx context.Context, objectPath, contentType string, body io.Reader) (string, error)
}

// New picks the configured backend. The Firebase app is only needed for the firebase backend.
func New(ctx context.Context, cfg Config.StorageConfig, app *firebase.App) (Uploader, error) {
	switch cfg.Backend {
	case "firebase":
		if app == nil {
			return nil, errors.New("firebase storage backend needs an initialized firebase app")
		}
		return NewFirebase(ctx, app, cfg.Bucket)
	default:
		return NewLocal(cfg.LocalDir, cfg.PublicBaseURL)
	}
}

func cleanObjectPath(objectPath string) (string, error) {
	cleaned := path.Clean("/" + strings.ReplaceAll(objectPath, "\\", "/"))
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." {
		return "", ErrInvalidPath
	}
	return cleaned, nil
}

func escapeObjectPath(objectPath string) string {
	segments := strings.Split(objectPath, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}

// Local writes objects under Dir. The directory is served statically at BaseURL.
type Local struct {
	Dir     string
	BaseURL string
}

func NewLocal(dir, baseURL string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Local{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (l *Local) Upload(ctx context.Context, objectPath, contentType string, body io.Reader) (string, error) {
	cleaned, err := cleanObjectPath(objectPath)
	if err != nil {
		return "", err
	}
	target := filepath.Join(l.Dir, filepath.FromSlash(cleaned))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create object dir: %w", err)
	}

	file, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("open object: %w", err)
	}
	if _, err := io.Copy(file, body); err != nil {
		file.Close()
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("close object: %w", err)
	}
	return l.BaseURL + "/" + escapeObjectPath(cleaned), nil
}

// Firebase writes objects to a Cloud Storage bucket through the Firebase Admin SDK.
type Firebase struct {
	bucketName string
	bucket     *gcs.BucketHandle
}

func NewFirebase(ctx context.Context, app *firebase.App, bucketName string) (*Firebase, error) {
	client, err := app.Storage(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting Storage client: %w", err)
	}
	bucket, err := client.Bucket(bucketName)
	if err != nil {
		return nil, fmt.Errorf("error opening bucket %s: %w", bucketName, err)
	}
	return &Firebase{bucketName: bucketName, bucket: bucket}, nil
}

func (f *Firebase) Upload(ctx context.Context, objectPath, contentType string, body io.Reader) (string, error) {
	cleaned, err := cleanObjectPath(objectPath)
	if err != nil {
		return "", err
	}

	// Writers replace existing objects unless preconditions are set.
	writer := f.bucket.Object(cleaned).NewWriter(ctx)
	writer.ContentType = contentType
	if _, err := io.Copy(writer, body); err != nil {
		writer.Close()
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalize object: %w", err)
	}
	return PublicURL(f.bucketName, cleaned), nil
}

// PublicURL is the public address of an object in a Cloud Storage bucket.
func PublicURL(bucket, objectPath string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bucket, escapeObjectPath(objectPath))
}

// Package mirror pushes and pulls a capsule set's files to a secondary
// object-storage backend, entirely outside the create/extract consensus
// core: a failed mirror push never fails a seal, and a missing mirror copy
// never blocks a local extract that already has its files.
package mirror

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/iterator"
)

// Mirror pushes every local file of a set to a remote bucket under its
// id16, or pulls every remote file under that id16 back to a local
// directory. Implementations are best-effort: Push/Pull log each failed
// object and go on with the rest rather than aborting the whole set, then
// return the first error, since mirroring is never required for create or
// extract to succeed locally.
type Mirror interface {
	Push(ctx context.Context, dir string, id16 string) error
	Pull(ctx context.Context, id16 string, dir string) error
}

// S3Mirror mirrors a set's files to an S3 bucket under a fixed prefix.
type S3Mirror struct {
	Client *s3.Client
	Bucket string
	Prefix string
}

func (m *S3Mirror) key(name string) string {
	if m.Prefix == "" {
		return name
	}
	return m.Prefix + "/" + name
}

func (m *S3Mirror) localName(key string) string {
	if m.Prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, m.Prefix+"/")
}

func (m *S3Mirror) Push(ctx context.Context, dir string, id16 string) error {
	names, err := localFilesWithPrefix(dir, id16)
	if err != nil {
		return err
	}

	var firstErr error
	for _, name := range names {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			log.WithError(err).WithField("file", name).Warn("mirror: skipping unreadable file")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		_, err = m.Client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(m.Bucket),
			Key:    aws.String(m.key(name)),
			Body:   f,
		})
		f.Close()
		if err != nil {
			log.WithError(err).WithField("file", name).Warn("mirror: S3 push failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (m *S3Mirror) Pull(ctx context.Context, id16 string, dir string) error {
	var firstErr error
	listInput := &s3.ListObjectsV2Input{
		Bucket: aws.String(m.Bucket),
		Prefix: aws.String(m.key(id16)),
	}
	for {
		page, err := m.Client.ListObjectsV2(ctx, listInput)
		if err != nil {
			return fmt.Errorf("mirror: listing %s: %w", id16, err)
		}
		for _, obj := range page.Contents {
			name := m.localName(*obj.Key)
			out, err := m.Client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(m.Bucket), Key: obj.Key})
			if err != nil {
				log.WithError(err).WithField("file", name).Warn("mirror: S3 pull failed")
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			err = writeLocal(dir, name, out.Body)
			out.Body.Close()
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if page.IsTruncated == nil || !*page.IsTruncated {
			break
		}
		listInput.ContinuationToken = page.NextContinuationToken
	}
	return firstErr
}

// GCSMirror mirrors a set's files to a Google Cloud Storage bucket under a
// fixed prefix.
type GCSMirror struct {
	Client *storage.Client
	Bucket string
	Prefix string
}

func (m *GCSMirror) key(name string) string {
	if m.Prefix == "" {
		return name
	}
	return m.Prefix + "/" + name
}

func (m *GCSMirror) localName(key string) string {
	if m.Prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, m.Prefix+"/")
}

func (m *GCSMirror) Push(ctx context.Context, dir string, id16 string) error {
	names, err := localFilesWithPrefix(dir, id16)
	if err != nil {
		return err
	}

	bkt := m.Client.Bucket(m.Bucket)
	var firstErr error
	for _, name := range names {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			log.WithError(err).WithField("file", name).Warn("mirror: skipping unreadable file")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		w := bkt.Object(m.key(name)).NewWriter(ctx)
		if _, err := io.Copy(w, f); err != nil {
			w.Close()
			f.Close()
			log.WithError(err).WithField("file", name).Warn("mirror: GCS push failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := w.Close(); err != nil {
			log.WithError(err).WithField("file", name).Warn("mirror: GCS push failed")
			if firstErr == nil {
				firstErr = err
			}
		}
		f.Close()
	}
	return firstErr
}

func (m *GCSMirror) Pull(ctx context.Context, id16 string, dir string) error {
	bkt := m.Client.Bucket(m.Bucket)
	it := bkt.Objects(ctx, &storage.Query{Prefix: m.key(id16)})

	var firstErr error
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("mirror: listing %s: %w", id16, err)
		}
		name := m.localName(attrs.Name)
		r, err := bkt.Object(attrs.Name).NewReader(ctx)
		if err != nil {
			log.WithError(err).WithField("file", name).Warn("mirror: GCS pull failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		err = writeLocal(dir, name, r)
		r.Close()
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func localFilesWithPrefix(dir, id16 string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("mirror: reading %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), id16) {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

func writeLocal(dir, name string, r io.Reader) error {
	tmp, err := os.CreateTemp(dir, ".mirror-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, filepath.Join(dir, name))
}

var _ Mirror = (*S3Mirror)(nil)
var _ Mirror = (*GCSMirror)(nil)

// ErrNoBackend is returned by NewFromPlatform for an unrecognized platform string.
var ErrNoBackend = fmt.Errorf("mirror: unsupported platform")

// NewFromPlatform builds a Mirror backed by the named platform ("s3" or
// "gcs"), reusing clients the caller already constructed.
func NewFromPlatform(platform string, s3Client *s3.Client, gcsClient *storage.Client, bucket, prefix string) (Mirror, error) {
	switch platform {
	case "s3":
		if s3Client == nil {
			return nil, fmt.Errorf("mirror: no S3 client configured")
		}
		return &S3Mirror{Client: s3Client, Bucket: bucket, Prefix: prefix}, nil
	case "gcs":
		if gcsClient == nil {
			return nil, fmt.Errorf("mirror: no GCS client configured")
		}
		return &GCSMirror{Client: gcsClient, Bucket: bucket, Prefix: prefix}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrNoBackend, platform)
	}
}

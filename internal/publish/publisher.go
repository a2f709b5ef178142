package publish

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
)

const contentType = "application/x-netcdf"

// Publisher copies verified artifacts to a blob bucket.
type Publisher struct {
	bucket *blob.Bucket
	prefix string
	logger *slog.Logger
}

// Open opens the bucket at url (file://, mem://, s3://, gs://). prefix is
// prepended to every object key.
func Open(ctx context.Context, url, prefix string, logger *slog.Logger) (*Publisher, error) {
	bkt, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open bucket: %w", err)
	}
	return New(bkt, prefix, logger), nil
}

// New wraps an open bucket. Close closes it.
func New(bucket *blob.Bucket, prefix string, logger *slog.Logger) *Publisher {
	return &Publisher{bucket: bucket, prefix: prefix, logger: logger}
}

// Key is the object key for a local file.
func (p *Publisher) Key(localPath string) string {
	return path.Join(p.prefix, filepath.Base(localPath))
}

// Publish uploads localPath unless an object of the same size already exists.
// It reports whether an upload happened.
func (p *Publisher) Publish(ctx context.Context, localPath string) (bool, error) {
	key := p.Key(localPath)

	info, err := os.Stat(localPath)
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", localPath, err)
	}

	attrs, err := p.bucket.Attributes(ctx, key)
	switch {
	case err == nil && attrs.Size == info.Size():
		p.logger.Debug("object up to date", "key", key)
		return false, nil
	case err != nil && !isNotExist(err):
		return false, fmt.Errorf("stat object %s: %w", key, err)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	w, err := p.bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: contentType})
	if err != nil {
		return false, fmt.Errorf("create object %s: %w", key, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return false, fmt.Errorf("upload %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return false, fmt.Errorf("finalize %s: %w", key, err)
	}

	p.logger.Info("artifact published", "key", key, "bytes", info.Size())
	return true, nil
}

// PublishAll uploads every path, stopping at the first error.
func (p *Publisher) PublishAll(ctx context.Context, paths []string) (int, error) {
	uploaded := 0
	for _, lp := range paths {
		ok, err := p.Publish(ctx, lp)
		if err != nil {
			return uploaded, err
		}
		if ok {
			uploaded++
		}
	}
	return uploaded, nil
}

func (p *Publisher) Close() error {
	return p.bucket.Close()
}

func isNotExist(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}

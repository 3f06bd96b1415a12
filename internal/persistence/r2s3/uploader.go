package r2s3

import (
	"context"
	"errors"
	"io"
	"path"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// Putter stores one local file under an object key.
type Putter interface {
	PutFile(ctx context.Context, objectKey, localPath string) error
}

// Uploader archives finished match recordings. Failed puts are retried
// with a quadratic backoff; client errors (4xx) are not retried.
type Uploader struct {
	put      Putter
	prefix   string
	log      logrus.FieldLogger
	attempts int
	backoff  time.Duration
}

func NewUploader(put Putter, prefix string, logger logrus.FieldLogger) *Uploader {
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &Uploader{
		put:      put,
		prefix:   ObjectKey(prefix),
		log:      logger.WithField("component", "archive"),
		attempts: 4,
		backoff:  200 * time.Millisecond,
	}
}

// Key is the object key a recording is stored under: the prefix, the day
// the match ended, and the file name.
func (u *Uploader) Key(localPath string, ended time.Time) string {
	return ObjectKey(path.Join(u.prefix, ended.UTC().Format("2006/01/02"), filepath.Base(localPath)))
}

// Upload stores localPath and returns its key. It gives up early when ctx
// is done.
func (u *Uploader) Upload(ctx context.Context, localPath string, ended time.Time) (string, error) {
	key := u.Key(localPath, ended)
	log := u.log.WithField("key", key)
	var err error
	for attempt := 1; attempt <= u.attempts; attempt++ {
		if err = u.put.PutFile(ctx, key, localPath); err == nil {
			log.WithField("attempt", attempt).Info("recording archived")
			return key, nil
		}
		var se *StatusError
		if errors.As(err, &se) && !se.Temporary() {
			break
		}
		if attempt == u.attempts {
			break
		}
		log.WithError(err).WithField("attempt", attempt).Warn("archive upload failed, retrying")
		select {
		case <-ctx.Done():
			return key, ctx.Err()
		case <-time.After(time.Duration(attempt*attempt) * u.backoff):
		}
	}
	return key, err
}

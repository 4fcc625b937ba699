// Package objectstore adapts S3-style key/value storage to the drive's
// object-store contract. Backends expose primitive single-request
// operations; Store builds pagination, batching, rename emulation and error
// classification on top of them.
package objectstore

import (
	"context"
	"errors"
	"io"
	"time"
)

// MaxDeleteBatch is the most keys a single batch-delete request may carry.
const MaxDeleteBatch = 1000

var (
	// ErrObjectNotFound marks a backend error for a missing key.
	ErrObjectNotFound = errors.New("object not found")
	// ErrMisconfigured marks credential, bucket or permission failures that
	// no retry will fix.
	ErrMisconfigured = errors.New("object store misconfigured")
	// ErrInvalidRequest marks malformed parameters.
	ErrInvalidRequest = errors.New("invalid object store request")
)

// Backend is one S3-compatible storage service. Each method maps to a single
// provider request.
type Backend interface {
	PutObject(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)

	// HeadObject reports whether key exists. A missing key is (false, nil).
	HeadObject(ctx context.Context, key string) (bool, error)

	// ListObjects returns one page of keys under prefix in lexical order,
	// starting after token. next is "" on the last page.
	ListObjects(ctx context.Context, prefix, token string) (keys []string, next string, err error)

	CopyObject(ctx context.Context, srcKey, dstKey string) error
	DeleteObject(ctx context.Context, key string) error

	// DeleteObjects removes up to MaxDeleteBatch keys in one request and
	// returns the keys the provider refused. A request-level failure is
	// returned as err.
	DeleteObjects(ctx context.Context, keys []string) (failed map[string]error, err error)

	PresignGetObject(ctx context.Context, key, filename string, ttl time.Duration) (string, error)
}

// Observer receives request-level measurements from a Store.
type Observer interface {
	ObserveRequest(op string, err error)
	AddKeys(op string, n int)
	AddRenameFailures(n int)
}

type nopObserver struct{}

func (nopObserver) ObserveRequest(string, error) {}
func (nopObserver) AddKeys(string, int)          {}
func (nopObserver) AddRenameFailures(int)        {}

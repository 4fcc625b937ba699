package drive

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zip"
)

// ArchiveStreamer writes a directory subtree as a zip stream without holding
// the archive or any whole file in memory.
type ArchiveStreamer struct {
	store     ObjectStore
	logger    Logger
	chunkSize int
}

func NewArchiveStreamer(store ObjectStore, logger Logger, chunkSize int) *ArchiveStreamer {
	if chunkSize <= 0 {
		chunkSize = DefaultArchiveChunkSize
	}
	return &ArchiveStreamer{store: store, logger: logger, chunkSize: chunkSize}
}

// Open returns a reader producing the archive as it is read. Closing the
// reader early stops the producer.
func (a *ArchiveStreamer) Open(ctx context.Context, root *Entry, entries []*Entry) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(a.Stream(ctx, root, entries, pw))
	}()
	return pr
}

// Stream writes the zip for root to w. entries is root's subtree ordered by
// path; each lands at "<root name>/<path relative to root>". The caller is
// expected to have checked that every file exists; a file vanishing mid-way
// fails the stream after earlier entries were already written.
func (a *ArchiveStreamer) Stream(ctx context.Context, root *Entry, entries []*Entry, w io.Writer) error {
	zw := zip.NewWriter(w)
	buf := make([]byte, a.chunkSize)

	for _, e := range entries {
		if !strings.HasPrefix(e.Path, root.Path) {
			a.logger.Warn("skipping entry outside archive root", "root", root.Path, "path", e.Path)
			continue
		}
		name := root.Name + Separator + strings.TrimPrefix(e.Path, root.Path)

		if e.IsDir() {
			if !strings.HasSuffix(name, Separator) {
				name += Separator
			}
			if _, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store, Modified: e.UpdatedAt}); err != nil {
				return fmt.Errorf("adding directory %s: %w", name, err)
			}
			continue
		}

		if err := a.addFile(ctx, zw, name, e, buf); err != nil {
			a.logger.Error("archive stream aborted", "root", root.Path, "key", e.ContentRef, "err", err)
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finishing archive: %w", err)
	}
	return nil
}

func (a *ArchiveStreamer) addFile(ctx context.Context, zw *zip.Writer, name string, e *Entry, buf []byte) error {
	fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: e.UpdatedAt})
	if err != nil {
		return fmt.Errorf("adding file %s: %w", name, err)
	}
	rc, err := a.store.Open(ctx, e.ContentRef)
	if err != nil {
		return err
	}
	defer rc.Close()

	for {
		n, rerr := rc.Read(buf)
		if n > 0 {
			if _, werr := fw.Write(buf[:n]); werr != nil {
				return fmt.Errorf("writing %s: %w", name, werr)
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return &StorageError{Op: "read", Key: e.ContentRef, Kind: StorageTransient, Err: rerr}
		}
	}
}

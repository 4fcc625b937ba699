package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"clouddrive/internal/config"
	"clouddrive/internal/database"
	"clouddrive/internal/drive"
	"clouddrive/internal/fs"
	"clouddrive/internal/metrics"
	"clouddrive/internal/objectstore"
)

// ErrRootOperation is returned for operations that cannot target the root.
var ErrRootOperation = errors.New("operation not allowed on the root directory")

// Options adjust how a DriveApp is built from its config.
type Options struct {
	// Owner overrides cfg.Owner when set.
	Owner string
	// MetricsFile, when set, receives a Prometheus textfile on Close.
	MetricsFile string
	// Stderr mirrors the log file. Nil logs to the file only.
	Stderr io.Writer
	Level  slog.Leveler
}

type migrationChecker interface {
	CheckMigrations() error
}

type migrator interface {
	Migrate() error
}

type setupValidator interface {
	ValidateSetup() error
}

// DriveApp is the application layer between the CLI and the drive services.
// It builds every dependency from config, exposes operations that accept
// logical paths, and releases resources on Close.
type DriveApp struct {
	cfg         *config.Config
	owner       string
	catalog     drive.Catalog
	store       *objectstore.Store
	dirs        *drive.DirectoryService
	uploads     *drive.UploadService
	scanner     *fs.Scanner
	registry    *prometheus.Registry
	logger      *slog.Logger
	op          *Operation
	logFile     *os.File
	metricsFile string
}

// NewDriveApp creates a fully wired DriveApp. The caller must call Close.
func NewDriveApp(ctx context.Context, cfg *config.Config, op *Operation, opts Options) (*DriveApp, error) {
	owner := cfg.Owner
	if opts.Owner != "" {
		owner = opts.Owner
	}
	if owner == "" || strings.Contains(owner, drive.Separator) {
		return nil, fmt.Errorf("invalid owner %q", owner)
	}

	level := opts.Level
	if level == nil {
		level = slog.LevelInfo
	}
	base, logFile, err := newLogger(cfg.LogDir, op.ID, level, opts.Stderr)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := base.With("owner", owner)
	adapter := &slogAdapter{l: logger}

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)

	catalog, err := database.NewCatalogFromConfig(ctx, cfg.Catalog)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	if c, ok := catalog.(migrationChecker); ok {
		if err := c.CheckMigrations(); err != nil {
			catalog.Close()
			logFile.Close()
			return nil, fmt.Errorf("catalog schema out of date: %w", err)
		}
	}

	store, err := objectstore.NewStoreFromConfig(ctx, cfg.ObjectStore, adapter, m)
	if err != nil {
		catalog.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating object store: %w", err)
	}
	if v, ok := store.Backend().(setupValidator); ok {
		if err := v.ValidateSetup(); err != nil {
			catalog.Close()
			logFile.Close()
			return nil, fmt.Errorf("object store not ready: %w", err)
		}
	}

	deps := drive.Dependencies{
		Catalog:          catalog,
		Store:            store,
		Logger:           adapter,
		Clock:            drive.RealClock{},
		IDs:              drive.UUIDGenerator{},
		Recorder:         m,
		MarkerName:       cfg.Tree.MarkerName,
		ArchiveChunkSize: cfg.Tree.ArchiveChunkSize,
		Limits: drive.UploadLimits{
			MaxFileSize:  cfg.Tree.MaxFileSize,
			MaxBatchSize: cfg.Tree.MaxBatchSize,
			MaxFiles:     cfg.Tree.MaxFiles,
		},
	}

	logger.Debug("operation started", "operation", op.Name, "params", op.Parameters)

	return &DriveApp{
		cfg:         cfg,
		owner:       owner,
		catalog:     catalog,
		store:       store,
		dirs:        drive.NewDirectoryService(owner, deps),
		uploads:     drive.NewUploadService(owner, deps),
		scanner:     fs.NewScanner(cfg.Filesystem.Ignore),
		registry:    registry,
		logger:      logger,
		op:          op,
		logFile:     logFile,
		metricsFile: opts.MetricsFile,
	}, nil
}

// Owner returns the owner every operation is scoped to.
func (a *DriveApp) Owner() string { return a.owner }

func isRoot(logicalPath string) bool {
	return len(drive.SplitLogicalPath(logicalPath)) == 0
}

// resolveDir resolves a directory path to its id; nil is the root.
func (a *DriveApp) resolveDir(ctx context.Context, logicalPath string) (*string, error) {
	dir, err := a.dirs.Resolve(ctx, logicalPath)
	if err != nil {
		return nil, err
	}
	return drive.IDRef(dir), nil
}

// resolveItem resolves a non-root file or directory path.
func (a *DriveApp) resolveItem(ctx context.Context, logicalPath string) (*drive.Entry, error) {
	if isRoot(logicalPath) {
		return nil, ErrRootOperation
	}
	return a.dirs.ResolveEntry(ctx, logicalPath)
}

// List returns the children of the directory at logicalPath.
func (a *DriveApp) List(ctx context.Context, logicalPath string) ([]*drive.Entry, error) {
	id, err := a.resolveDir(ctx, logicalPath)
	if err != nil {
		return nil, a.op.Record(err)
	}
	entries, err := a.dirs.ListChildren(ctx, id)
	return entries, a.op.Record(err)
}

// Mkdir creates the directory at logicalPath. With parents, missing
// ancestors are created and an existing directory is returned as is.
func (a *DriveApp) Mkdir(ctx context.Context, logicalPath string, parents bool) (*drive.Entry, error) {
	parts := drive.SplitLogicalPath(logicalPath)
	if len(parts) == 0 {
		return nil, a.op.Record(ErrRootOperation)
	}
	if parents {
		dir, err := a.dirs.BuildDirectoryPath(ctx, nil, parts)
		return dir, a.op.Record(err)
	}

	parentID, err := a.resolveDir(ctx, strings.Join(parts[:len(parts)-1], drive.Separator))
	if err != nil {
		return nil, a.op.Record(err)
	}
	dir, err := a.dirs.Create(ctx, parts[len(parts)-1], parentID)
	return dir, a.op.Record(err)
}

// Upload collects local files from srcs and uploads them as one batch
// under the directory at to. Directories in srcs require recursive.
func (a *DriveApp) Upload(ctx context.Context, srcs []string, to string, recursive bool) (*drive.BatchResult, error) {
	parentID, err := a.resolveDir(ctx, to)
	if err != nil {
		return nil, a.op.Record(err)
	}
	files, err := a.scanner.Collect(srcs, recursive)
	if err != nil {
		return nil, a.op.Record(fmt.Errorf("collecting upload sources: %w", err))
	}

	items := make([]drive.UploadItem, 0, len(files))
	readers := make([]*fs.LazyFile, 0, len(files))
	defer func() {
		for _, r := range readers {
			r.Close()
		}
	}()
	for _, f := range files {
		r := fs.OpenLazy(f.LocalPath)
		readers = append(readers, r)
		items = append(items, drive.UploadItem{
			Name:         path.Base(f.RelativePath),
			RelativePath: f.RelativePath,
			Content:      r,
			Size:         f.Size,
		})
	}

	result, err := a.uploads.UploadBatch(ctx, parentID, items)
	if err != nil {
		return nil, a.op.Record(err)
	}
	if result.Status != drive.BatchSuccess {
		a.op.Status = "error"
	}
	return result, nil
}

// Move moves the entry at src into the directory at destDir.
func (a *DriveApp) Move(ctx context.Context, src, destDir string) (*drive.Entry, *drive.RenameReport, error) {
	item, err := a.resolveItem(ctx, src)
	if err != nil {
		return nil, nil, a.op.Record(err)
	}
	destID, err := a.resolveDir(ctx, destDir)
	if err != nil {
		return nil, nil, a.op.Record(err)
	}
	entry, report, err := a.dirs.Move(ctx, item.ID, destID)
	return entry, report, a.op.Record(err)
}

// Rename gives the entry at logicalPath a new name in place.
func (a *DriveApp) Rename(ctx context.Context, logicalPath, newName string) (*drive.Entry, *drive.RenameReport, error) {
	item, err := a.resolveItem(ctx, logicalPath)
	if err != nil {
		return nil, nil, a.op.Record(err)
	}
	entry, report, err := a.dirs.Rename(ctx, item.ID, newName)
	return entry, report, a.op.Record(err)
}

// Remove deletes the entry at logicalPath, with its subtree for directories.
func (a *DriveApp) Remove(ctx context.Context, logicalPath string) (*drive.Entry, error) {
	item, err := a.resolveItem(ctx, logicalPath)
	if err != nil {
		return nil, a.op.Record(err)
	}
	return item, a.op.Record(a.dirs.Delete(ctx, item.ID))
}

// Archive writes a zip of the directory at logicalPath to w and returns
// the archive's suggested file name.
func (a *DriveApp) Archive(ctx context.Context, logicalPath string, w io.Writer) (string, error) {
	item, err := a.resolveItem(ctx, logicalPath)
	if err != nil {
		return "", a.op.Record(err)
	}
	rc, name, err := a.dirs.Archive(ctx, item.ID)
	if err != nil {
		return "", a.op.Record(err)
	}
	defer rc.Close()
	if _, err := io.Copy(w, rc); err != nil {
		return "", a.op.Record(fmt.Errorf("writing archive: %w", err))
	}
	return name, nil
}

// DownloadURL returns a time-limited link to the file at logicalPath. A zero
// ttl uses the configured default.
func (a *DriveApp) DownloadURL(ctx context.Context, logicalPath string, ttl time.Duration) (string, error) {
	item, err := a.resolveItem(ctx, logicalPath)
	if err != nil {
		return "", a.op.Record(err)
	}
	if ttl <= 0 {
		ttl = time.Duration(a.cfg.Tree.DownloadTTL)
	}
	url, err := a.dirs.DownloadURL(ctx, item.ID, ttl)
	return url, a.op.Record(err)
}

// Find lists every entry whose name contains query, ignoring case.
func (a *DriveApp) Find(ctx context.Context, query string) ([]*drive.Entry, error) {
	entries, err := a.dirs.Search(ctx, query)
	return entries, a.op.Record(err)
}

// MoveTargets lists the directories the entry at logicalPath may move into.
func (a *DriveApp) MoveTargets(ctx context.Context, logicalPath string) ([]*drive.Entry, error) {
	item, err := a.resolveItem(ctx, logicalPath)
	if err != nil {
		return nil, a.op.Record(err)
	}
	targets, err := a.dirs.AvailableMoveTargets(ctx, item.ID)
	return targets, a.op.Record(err)
}

// Migrate applies pending catalog migrations. Catalogs that migrate when
// opened have nothing left to do here.
func (a *DriveApp) Migrate() error {
	if m, ok := a.catalog.(migrator); ok {
		return a.op.Record(m.Migrate())
	}
	return nil
}

// SchemaStatus reports whether the catalog schema is current.
func (a *DriveApp) SchemaStatus() error {
	if c, ok := a.catalog.(migrationChecker); ok {
		return c.CheckMigrations()
	}
	return nil
}

// Close logs the operation summary, writes the metrics textfile when one
// was requested, and closes the catalog and log file.
func (a *DriveApp) Close() error {
	var firstErr error

	a.logger.Info("operation finished",
		"operation", a.op.Name, "status", a.op.Status, "elapsed", a.op.Elapsed().Round(time.Millisecond))

	if a.metricsFile != "" {
		if err := metrics.WriteTextfile(a.registry, a.metricsFile); err != nil {
			firstErr = fmt.Errorf("writing metrics: %w", err)
		}
	}

	if err := a.catalog.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing catalog: %w", err)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

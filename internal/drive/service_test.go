package drive_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"testing"
	"time"

	"clouddrive/internal/drive"
	"clouddrive/internal/objectstore"
	"clouddrive/internal/testutil"
)

const owner = "U"

func setup(t *testing.T) (*testutil.Harness, *drive.DirectoryService) {
	t.Helper()
	h := testutil.NewHarness(t)
	return h, h.Directories(owner)
}

func mustCreate(t *testing.T, svc *drive.DirectoryService, name string, parent *drive.Entry) *drive.Entry {
	t.Helper()
	dir, err := svc.Create(context.Background(), name, drive.IDRef(parent))
	if err != nil {
		t.Fatalf("Create(%s) error = %v", name, err)
	}
	return dir
}

func mustFile(t *testing.T, svc *drive.DirectoryService, parent *drive.Entry, name, data string) *drive.Entry {
	t.Helper()
	f, err := svc.CreateFile(context.Background(), drive.IDRef(parent), drive.UploadItem{
		Name:        name,
		Content:     strings.NewReader(data),
		Size:        int64(len(data)),
		ContentType: "text/plain",
	})
	if err != nil {
		t.Fatalf("CreateFile(%s) error = %v", name, err)
	}
	return f
}

func assertKeys(t *testing.T, b *objectstore.MemoryBackend, want ...string) {
	t.Helper()
	slices.Sort(want)
	if got := b.Keys(); !slices.Equal(got, want) {
		t.Errorf("object keys = %v, want %v", got, want)
	}
}

// checkTree walks the owner's tree and verifies that every stored path
// matches the path derived from the parent chain, that file content refs
// equal their paths, and that every directory marker and file object exists.
func checkTree(t *testing.T, h *testutil.Harness, svc *drive.DirectoryService) {
	t.Helper()
	ctx := context.Background()
	resolver := drive.NewPathResolver(h.Catalog)

	var walk func(parentID *string)
	walk = func(parentID *string) {
		children, err := svc.ListChildren(ctx, parentID)
		if err != nil {
			t.Fatalf("ListChildren() error = %v", err)
		}
		for _, e := range children {
			want, err := resolver.Materialize(ctx, e)
			if err != nil {
				t.Fatalf("Materialize(%s) error = %v", e.Name, err)
			}
			if e.Path != want {
				t.Errorf("entry %s path = %q, want %q", e.ID, e.Path, want)
			}
			if e.IsDir() {
				if !h.Backend.Has(e.MarkerKey(drive.DefaultMarkerName)) {
					t.Errorf("marker missing for %s", e.Path)
				}
				walk(&e.ID)
				continue
			}
			if e.ContentRef != e.Path {
				t.Errorf("file %s content ref = %q, want %q", e.ID, e.ContentRef, e.Path)
			}
			if !h.Backend.Has(e.ContentRef) {
				t.Errorf("object missing for %s", e.Path)
			}
		}
	}
	walk(nil)
}

func TestCreate(t *testing.T) {
	h, svc := setup(t)
	ctx := context.Background()

	docs, err := svc.Create(ctx, "docs", nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if docs.Path != "user_U/docs/" || docs.ParentID != nil || !docs.IsDir() {
		t.Errorf("Create() = %+v", docs)
	}
	if !docs.CreatedAt.Equal(h.Clock.Now()) {
		t.Errorf("CreatedAt = %v", docs.CreatedAt)
	}
	assertKeys(t, h.Backend, "user_U/docs/.marker")
	if ct := h.Backend.ContentType("user_U/docs/.marker"); ct != "application/x-directory" {
		t.Errorf("marker content type = %q", ct)
	}

	sub := mustCreate(t, svc, "2024", docs)
	if sub.Path != "user_U/docs/2024/" || *sub.ParentID != docs.ID {
		t.Errorf("nested Create() = %+v", sub)
	}

	got, err := svc.Get(ctx, sub.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Path != sub.Path {
		t.Errorf("Get().Path = %q", got.Path)
	}
	if !h.Logger.Contains("INFO", "directory created") {
		t.Error("expected a directory created log")
	}
}

func TestCreate_Rejections(t *testing.T) {
	h, svc := setup(t)
	ctx := context.Background()
	docs := mustCreate(t, svc, "docs", nil)
	mustFile(t, svc, docs, "notes", "x")
	h.Backend.ResetCalls()

	tests := []struct {
		name    string
		dirName string
		parent  *string
		want    error
	}{
		{"duplicate at root", "docs", nil, drive.ErrNameConflict},
		{"same name as file", "notes", drive.IDRef(docs), drive.ErrNameConflict},
		{"invalid name", "a/b", nil, drive.ErrInvalidPath},
		{"reserved name", ".marker", nil, drive.ErrInvalidPath},
		{"missing parent", "x", strPtr("nope"), drive.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.dirName, tt.parent)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Create() error = %v, want %v", err, tt.want)
			}
		})
	}

	if n := h.Backend.CallCount("put"); n != 0 {
		t.Errorf("rejected creates wrote %d objects", n)
	}
}

func TestCreate_ParentMustBeDirectory(t *testing.T) {
	_, svc := setup(t)
	f := mustFile(t, svc, nil, "a.txt", "x")

	_, err := svc.Create(context.Background(), "sub", &f.ID)
	if !errors.Is(err, drive.ErrNotFound) {
		t.Errorf("Create() under a file error = %v, want ErrNotFound", err)
	}
}

func TestCreate_MarkerFailureRollsBack(t *testing.T) {
	h, svc := setup(t)
	ctx := context.Background()
	h.Backend.FailOn("put", "user_U/docs/.marker", errors.New("connection reset"))

	_, err := svc.Create(ctx, "docs", nil)
	if !errors.Is(err, drive.ErrStorage) {
		t.Fatalf("Create() error = %v, want ErrStorage", err)
	}
	if _, err := svc.Resolve(ctx, "docs"); !errors.Is(err, drive.ErrNotFound) {
		t.Errorf("Resolve(docs) after failed create error = %v, want ErrNotFound", err)
	}

	h.Backend.FailOn("put", "user_U/docs/.marker", nil)
	if _, err := svc.Create(ctx, "docs", nil); err != nil {
		t.Errorf("Create() retry error = %v", err)
	}
}

// staleCatalog answers every ExistsWithName with false, as a concurrent
// writer would see before the other insert commits. Only the catalog's
// unique index is left to catch the duplicate.
type staleCatalog struct {
	drive.Catalog
}

func (c staleCatalog) ExistsWithName(context.Context, string, string, *string) (bool, error) {
	return false, nil
}

func (c staleCatalog) RunInTx(ctx context.Context, fn func(ctx context.Context, tx drive.Catalog) error) error {
	return c.Catalog.RunInTx(ctx, func(ctx context.Context, tx drive.Catalog) error {
		return fn(ctx, staleCatalog{tx})
	})
}

func TestNameConflictFromUniqueIndex(t *testing.T) {
	h, svc := setup(t)
	ctx := context.Background()
	docs := mustCreate(t, svc, "docs", nil)
	mustFile(t, svc, nil, "a.txt", "root")
	nested := mustFile(t, svc, docs, "a.txt", "nested")

	deps := h.Deps()
	deps.Catalog = staleCatalog{h.Catalog}
	stale := drive.NewDirectoryService(owner, deps)
	before := h.Backend.Keys()

	tests := []struct {
		name string
		run  func() error
	}{
		{"create directory", func() error {
			_, err := stale.Create(ctx, "docs", nil)
			return err
		}},
		{"create file", func() error {
			_, err := stale.CreateFile(ctx, nil, drive.UploadItem{
				Name:    "docs",
				Content: strings.NewReader("x"),
				Size:    1,
			})
			return err
		}},
		{"move file", func() error {
			_, _, err := stale.Move(ctx, nested.ID, nil)
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			if !errors.Is(err, drive.ErrNameConflict) {
				t.Fatalf("error = %v, want ErrNameConflict", err)
			}
			if !errors.Is(err, drive.ErrDatabase) || !drive.IsIntegrityViolation(err) {
				t.Errorf("error = %v, want it to wrap the integrity violation", err)
			}
			var conflict *drive.NameConflictError
			if !errors.As(err, &conflict) || conflict.Err == nil {
				t.Errorf("error = %#v, want a NameConflictError carrying the cause", err)
			}
		})
	}

	if got := h.Backend.Keys(); !slices.Equal(got, before) {
		t.Errorf("object keys = %v, want %v", got, before)
	}
	entries, err := svc.ListChildren(ctx, nil)
	if err != nil {
		t.Fatalf("ListChildren() error = %v", err)
	}
	var got []string
	for _, e := range entries {
		got = append(got, e.Name)
	}
	if want := []string{"docs", "a.txt"}; !slices.Equal(got, want) {
		t.Errorf("ListChildren() = %v, want %v", got, want)
	}
	checkTree(t, h, svc)
}

func TestOwnerIsolation(t *testing.T) {
	h, svc := setup(t)
	ctx := context.Background()
	docs := mustCreate(t, svc, "docs", nil)

	other := h.Directories("V")
	if _, err := other.Get(ctx, docs.ID); !errors.Is(err, drive.ErrNotFound) {
		t.Errorf("Get() across owners error = %v, want ErrNotFound", err)
	}
	if _, err := other.Create(ctx, "x", &docs.ID); !errors.Is(err, drive.ErrNotFound) {
		t.Errorf("Create() under another owner's directory error = %v, want ErrNotFound", err)
	}
	if err := other.Delete(ctx, docs.ID); !errors.Is(err, drive.ErrNotFound) {
		t.Errorf("Delete() across owners error = %v, want ErrNotFound", err)
	}

	theirs, err := other.Create(ctx, "docs", nil)
	if err != nil {
		t.Fatalf("Create() same name for another owner error = %v", err)
	}
	if theirs.Path != "user_V/docs/" {
		t.Errorf("other owner's path = %q", theirs.Path)
	}
}

func TestResolve(t *testing.T) {
	_, svc := setup(t)
	ctx := context.Background()
	docs := mustCreate(t, svc, "docs", nil)
	sub := mustCreate(t, svc, "2024", docs)
	file := mustFile(t, svc, sub, "a.txt", "x")

	root, err := svc.Resolve(ctx, "/")
	if err != nil || root != nil {
		t.Errorf("Resolve(/) = %v, %v, want root", root, err)
	}

	got, err := svc.Resolve(ctx, "docs/2024/")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.ID != sub.ID {
		t.Errorf("Resolve() = %s, want %s", got.ID, sub.ID)
	}

	if _, err := svc.Resolve(ctx, "docs/2024/a.txt"); !errors.Is(err, drive.ErrNotFound) {
		t.Errorf("Resolve(file) error = %v, want ErrNotFound", err)
	}
	entry, err := svc.ResolveEntry(ctx, "docs/2024/a.txt")
	if err != nil {
		t.Fatalf("ResolveEntry() error = %v", err)
	}
	if entry.ID != file.ID {
		t.Errorf("ResolveEntry() = %s, want %s", entry.ID, file.ID)
	}
	if _, err := svc.ResolveEntry(ctx, "docs/missing"); !errors.Is(err, drive.ErrNotFound) {
		t.Errorf("ResolveEntry(missing) error = %v, want ErrNotFound", err)
	}

	t.Run("whitespace is part of the name", func(t *testing.T) {
		padded := mustCreate(t, svc, " docs", nil)
		blank := mustCreate(t, svc, "  ", nil)

		tests := []struct {
			path string
			want *drive.Entry
		}{
			{"docs", docs},
			{" docs", padded},
			{"/ docs/", padded},
			{"  ", blank},
			{"/  /", blank},
		}
		for _, tt := range tests {
			got, err := svc.Resolve(ctx, tt.path)
			if err != nil {
				t.Fatalf("Resolve(%q) error = %v", tt.path, err)
			}
			if got == nil || got.ID != tt.want.ID {
				t.Errorf("Resolve(%q) = %v, want %s", tt.path, got, tt.want.ID)
			}
		}
		if _, err := svc.Resolve(ctx, "docs "); !errors.Is(err, drive.ErrNotFound) {
			t.Errorf("Resolve(%q) error = %v, want ErrNotFound", "docs ", err)
		}
	})
}

func TestBuildDirectoryPath(t *testing.T) {
	h, svc := setup(t)
	ctx := context.Background()
	projects := mustCreate(t, svc, "projects", nil)
	h.Backend.ResetCalls()

	dir, err := svc.BuildDirectoryPath(ctx, nil, []string{"projects", "2024", "q1"})
	if err != nil {
		t.Fatalf("BuildDirectoryPath() error = %v", err)
	}
	if dir.Path != "user_U/projects/2024/q1/" {
		t.Errorf("BuildDirectoryPath() path = %q", dir.Path)
	}
	// Only the two new directories get markers; projects already had one.
	if n := h.Backend.CallCount("put"); n != 2 {
		t.Errorf("put calls = %d, want 2", n)
	}

	again, err := svc.BuildDirectoryPath(ctx, projects, []string{"2024", "q1"})
	if err != nil {
		t.Fatalf("BuildDirectoryPath() again error = %v", err)
	}
	if again.ID != dir.ID {
		t.Errorf("BuildDirectoryPath() created a duplicate: %s vs %s", again.ID, dir.ID)
	}

	mustFile(t, svc, nil, "notes", "x")
	if _, err := svc.BuildDirectoryPath(ctx, nil, []string{"notes", "sub"}); !errors.Is(err, drive.ErrNameConflict) {
		t.Errorf("BuildDirectoryPath() through a file error = %v, want ErrNameConflict", err)
	}
	if _, err := svc.BuildDirectoryPath(ctx, nil, []string{"ok", ".."}); !errors.Is(err, drive.ErrInvalidPath) {
		t.Errorf("BuildDirectoryPath(..) error = %v, want ErrInvalidPath", err)
	}
	if _, err := svc.Resolve(ctx, "ok"); !errors.Is(err, drive.ErrNotFound) {
		t.Errorf("failed BuildDirectoryPath left a directory behind: %v", err)
	}
	if h.Backend.Has("user_U/ok/.marker") {
		t.Error("failed BuildDirectoryPath left a marker behind")
	}
	checkTree(t, h, svc)
}

func TestRename_Directory(t *testing.T) {
	h, svc := setup(t)
	ctx := context.Background()
	docs := mustCreate(t, svc, "docs", nil)
	sub := mustCreate(t, svc, "sub", docs)
	a := mustFile(t, svc, docs, "a.txt", "alpha")
	b := mustFile(t, svc, sub, "b.txt", "beta")
	docs2 := mustCreate(t, svc, "docs2", nil)

	h.Clock.Advance(time.Hour)
	renamed, report, err := svc.Rename(ctx, docs.ID, "archive")
	if err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if renamed.Path != "user_U/archive/" || renamed.Name != "archive" {
		t.Errorf("Rename() = %+v", renamed)
	}
	if report == nil || !report.Complete() || report.Renamed != 4 {
		t.Errorf("report = %+v, want 4 keys renamed", report)
	}

	wantPaths := map[string]string{
		sub.ID:   "user_U/archive/sub/",
		a.ID:     "user_U/archive/a.txt",
		b.ID:     "user_U/archive/sub/b.txt",
		docs2.ID: "user_U/docs2/",
	}
	for id, want := range wantPaths {
		e, err := svc.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get(%s) error = %v", id, err)
		}
		if e.Path != want {
			t.Errorf("entry %s path = %q, want %q", id, e.Path, want)
		}
	}
	moved, _ := svc.Get(ctx, b.ID)
	if !moved.UpdatedAt.After(b.UpdatedAt) {
		t.Errorf("descendant UpdatedAt = %v, want after %v", moved.UpdatedAt, b.UpdatedAt)
	}

	assertKeys(t, h.Backend,
		"user_U/archive/.marker",
		"user_U/archive/a.txt",
		"user_U/archive/sub/.marker",
		"user_U/archive/sub/b.txt",
		"user_U/docs2/.marker",
	)
	if data, _ := h.Backend.Content("user_U/archive/sub/b.txt"); string(data) != "beta" {
		t.Errorf("renamed content = %q", data)
	}
	checkTree(t, h, svc)
}

func TestRename_File(t *testing.T) {
	h, svc := setup(t)
	ctx := context.Background()
	docs := mustCreate(t, svc, "docs", nil)
	f := mustFile(t, svc, docs, "draft.txt", "text")

	renamed, report, err := svc.Rename(ctx, f.ID, "final.txt")
	if err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if report != nil {
		t.Errorf("file rename report = %+v, want nil", report)
	}
	if renamed.Path != "user_U/docs/final.txt" || renamed.ContentRef != renamed.Path {
		t.Errorf("Rename() = %+v", renamed)
	}
	assertKeys(t, h.Backend, "user_U/docs/.marker", "user_U/docs/final.txt")
}

func TestRename_NoOp(t *testing.T) {
	h, svc := setup(t)
	docs := mustCreate(t, svc, "docs", nil)
	h.Backend.ResetCalls()

	got, report, err := svc.Rename(context.Background(), docs.ID, "docs")
	if err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if got.ID != docs.ID || report != nil {
		t.Errorf("Rename() = %+v, %+v", got, report)
	}
	if calls := h.Backend.Calls(); len(calls) != 0 {
		t.Errorf("no-op rename touched the object store: %v", calls)
	}
}

func TestRename_Rejections(t *testing.T) {
	h, svc := setup(t)
	ctx := context.Background()
	docs := mustCreate(t, svc, "docs", nil)
	mustCreate(t, svc, "other", nil)
	h.Backend.ResetCalls()

	tests := []struct {
		name    string
		id      string
		newName string
		want    error
	}{
		{"sibling exists", docs.ID, "other", drive.ErrNameConflict},
		{"invalid name", docs.ID, "a/b", drive.ErrInvalidPath},
		{"empty name", docs.ID, "", drive.ErrInvalidPath},
		{"missing entry", "nope", "x", drive.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := svc.Rename(ctx, tt.id, tt.newName); !errors.Is(err, tt.want) {
				t.Errorf("Rename() error = %v, want %v", err, tt.want)
			}
		})
	}
	if n := len(h.Backend.Calls()); n != 0 {
		t.Errorf("rejected renames made %d store calls", n)
	}
}

func TestRename_CopyFailureRollsBack(t *testing.T) {
	h, svc := setup(t)
	ctx := context.Background()
	f := mustFile(t, svc, nil, "a.txt", "x")
	h.Backend.FailOn("copy", "user_U/b.txt", errors.New("timeout"))

	if _, _, err := svc.Rename(ctx, f.ID, "b.txt"); !errors.Is(err, drive.ErrStorage) {
		t.Fatalf("Rename() error = %v, want ErrStorage", err)
	}
	got, err := svc.Get(ctx, f.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Name != "a.txt" || got.Path != "user_U/a.txt" {
		t.Errorf("row after failed rename = %+v", got)
	}
	assertKeys(t, h.Backend, "user_U/a.txt")
}

func TestRename_PartialPrefixFailureIsReported(t *testing.T) {
	h, svc := setup(t)
	ctx := context.Background()
	docs := mustCreate(t, svc, "docs", nil)
	mustFile(t, svc, docs, "a.txt", "a")
	mustFile(t, svc, docs, "b.txt", "b")
	h.Backend.FailOn("copy", "user_U/archive/b.txt", errors.New("slow down"))

	renamed, report, err := svc.Rename(ctx, docs.ID, "archive")
	if err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if renamed.Path != "user_U/archive/" {
		t.Errorf("Rename() path = %q", renamed.Path)
	}
	if report.Complete() {
		t.Fatalf("report = %+v, want a failure", report)
	}
	if _, ok := report.Failed["user_U/docs/b.txt"]; !ok {
		t.Errorf("report.Failed = %v, want user_U/docs/b.txt", report.Failed)
	}
	if !h.Backend.Has("user_U/docs/b.txt") {
		t.Error("failed key should stay under the old prefix")
	}
	if !h.Logger.Contains("WARN", "prefix rename incomplete") {
		t.Error("expected an incomplete rename warning")
	}
}

func TestMove(t *testing.T) {
	h, svc := setup(t)
	ctx := context.Background()
	a := mustCreate(t, svc, "a", nil)
	b := mustCreate(t, svc, "b", nil)
	sub := mustCreate(t, svc, "sub", a)
	x := mustFile(t, svc, a, "x.txt", "x")
	y := mustFile(t, svc, sub, "y.txt", "y")

	moved, report, err := svc.Move(ctx, a.ID, &b.ID)
	if err != nil {
		t.Fatalf("Move() error = %v", err)
	}
	if moved.Path != "user_U/b/a/" || *moved.ParentID != b.ID {
		t.Errorf("Move() = %+v", moved)
	}
	if !report.Complete() || report.Renamed != 4 {
		t.Errorf("report = %+v", report)
	}
	for id, want := range map[string]string{
		sub.ID: "user_U/b/a/sub/",
		x.ID:   "user_U/b/a/x.txt",
		y.ID:   "user_U/b/a/sub/y.txt",
	} {
		e, _ := svc.Get(ctx, id)
		if e.Path != want {
			t.Errorf("entry %s path = %q, want %q", id, e.Path, want)
		}
	}
	checkTree(t, h, svc)

	back, _, err := svc.Move(ctx, a.ID, nil)
	if err != nil {
		t.Fatalf("Move() to root error = %v", err)
	}
	if back.Path != "user_U/a/" || back.ParentID != nil {
		t.Errorf("Move() to root = %+v", back)
	}
	assertKeys(t, h.Backend,
		"user_U/a/.marker",
		"user_U/a/sub/.marker",
		"user_U/a/sub/y.txt",
		"user_U/a/x.txt",
		"user_U/b/.marker",
	)
	checkTree(t, h, svc)
}

func TestMove_File(t *testing.T) {
	h, svc := setup(t)
	ctx := context.Background()
	docs := mustCreate(t, svc, "docs", nil)
	f := mustFile(t, svc, nil, "a.txt", "payload")

	moved, report, err := svc.Move(ctx, f.ID, &docs.ID)
	if err != nil {
		t.Fatalf("Move() error = %v", err)
	}
	if report != nil {
		t.Errorf("file move report = %+v, want nil", report)
	}
	if moved.ContentRef != "user_U/docs/a.txt" {
		t.Errorf("ContentRef = %q", moved.ContentRef)
	}
	if data, _ := h.Backend.Content("user_U/docs/a.txt"); string(data) != "payload" {
		t.Errorf("moved content = %q", data)
	}
	assertKeys(t, h.Backend, "user_U/docs/.marker", "user_U/docs/a.txt")
}

func TestMove_Rejections(t *testing.T) {
	h, svc := setup(t)
	ctx := context.Background()
	a := mustCreate(t, svc, "a", nil)
	sub := mustCreate(t, svc, "sub", a)
	b := mustCreate(t, svc, "b", nil)
	mustCreate(t, svc, "a", b)
	f := mustFile(t, svc, nil, "f.txt", "x")
	h.Backend.ResetCalls()

	tests := []struct {
		name string
		id   string
		dest *string
		want error
	}{
		{"into itself", a.ID, &a.ID, drive.ErrInvalidPath},
		{"into own descendant", a.ID, &sub.ID, drive.ErrInvalidPath},
		{"into current parent", sub.ID, &a.ID, drive.ErrInvalidPath},
		{"root entry to root", b.ID, nil, drive.ErrInvalidPath},
		{"name taken at destination", a.ID, &b.ID, drive.ErrNameConflict},
		{"into a file", a.ID, &f.ID, drive.ErrNotFound},
		{"missing destination", a.ID, strPtr("nope"), drive.ErrNotFound},
		{"missing item", "nope", nil, drive.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := svc.Move(ctx, tt.id, tt.dest); !errors.Is(err, tt.want) {
				t.Errorf("Move() error = %v, want %v", err, tt.want)
			}
		})
	}
	if n := len(h.Backend.Calls()); n != 0 {
		t.Errorf("rejected moves made %d store calls", n)
	}
	checkTree(t, h, svc)
}

func TestSearch(t *testing.T) {
	h, svc := setup(t)
	ctx := context.Background()
	plans := mustCreate(t, svc, "Plans", nil)
	mustFile(t, svc, plans, "plan_2024.txt", "x")
	mustFile(t, svc, nil, "planxb.txt", "x")
	mustFile(t, svc, nil, "notes.txt", "x")
	mustCreate(t, h.Directories("V"), "plans", nil)

	tests := []struct {
		query string
		want  []string
	}{
		{"plan", []string{"user_U/Plans/", "user_U/Plans/plan_2024.txt", "user_U/planxb.txt"}},
		{"PLAN_", []string{"user_U/Plans/plan_2024.txt"}},
		{"missing", nil},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := svc.Search(ctx, tt.query)
			if err != nil {
				t.Fatalf("Search() error = %v", err)
			}
			var paths []string
			for _, e := range got {
				paths = append(paths, e.Path)
			}
			if !slices.Equal(paths, tt.want) {
				t.Errorf("Search(%q) = %v, want %v", tt.query, paths, tt.want)
			}
		})
	}

	for _, q := range []string{"", "   "} {
		if _, err := svc.Search(ctx, q); !errors.Is(err, drive.ErrInvalidPath) {
			t.Errorf("Search(%q) error = %v, want ErrInvalidPath", q, err)
		}
	}
}

func TestAvailableMoveTargets(t *testing.T) {
	_, svc := setup(t)
	ctx := context.Background()
	a := mustCreate(t, svc, "a", nil)
	sub := mustCreate(t, svc, "sub", a)
	mustCreate(t, svc, "deep", sub)
	mustCreate(t, svc, "b", nil)
	f := mustFile(t, svc, a, "f.txt", "x")

	names := func(entries []*drive.Entry) []string {
		var out []string
		for _, e := range entries {
			out = append(out, drive.DisplayPath(e))
		}
		slices.Sort(out)
		return out
	}

	targets, err := svc.AvailableMoveTargets(ctx, a.ID)
	if err != nil {
		t.Fatalf("AvailableMoveTargets() error = %v", err)
	}
	if got := names(targets); !slices.Equal(got, []string{"b/"}) {
		t.Errorf("targets for a = %v, want [b/]", got)
	}

	// Every listed target must be accepted by Move.
	for _, target := range targets {
		if target.ID == a.ID || a.Contains(target) {
			t.Errorf("target %s would create a cycle", target.Path)
		}
	}

	targets, err = svc.AvailableMoveTargets(ctx, f.ID)
	if err != nil {
		t.Fatalf("AvailableMoveTargets() error = %v", err)
	}
	if got := names(targets); !slices.Equal(got, []string{"a/sub/", "a/sub/deep/", "b/"}) {
		t.Errorf("targets for f.txt = %v", got)
	}
}

func TestDelete_Directory(t *testing.T) {
	h, svc := setup(t)
	ctx := context.Background()
	docs := mustCreate(t, svc, "docs", nil)
	sub := mustCreate(t, svc, "sub", docs)
	f := mustFile(t, svc, sub, "a.txt", "x")
	keep := mustCreate(t, svc, "docs2", nil)

	if err := svc.Delete(ctx, docs.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	for _, id := range []string{docs.ID, sub.ID, f.ID} {
		if _, err := svc.Get(ctx, id); !errors.Is(err, drive.ErrNotFound) {
			t.Errorf("Get(%s) after delete error = %v, want ErrNotFound", id, err)
		}
	}
	if _, err := svc.Get(ctx, keep.ID); err != nil {
		t.Errorf("sibling with shared name prefix was deleted: %v", err)
	}
	assertKeys(t, h.Backend, "user_U/docs2/.marker")
}

func TestDelete_LargeDirectory(t *testing.T) {
	h, svc := setup(t)
	ctx := context.Background()
	big := mustCreate(t, svc, "big", nil)
	for i := 0; i < 1500; i++ {
		key := fmt.Sprintf("user_U/big/obj-%04d", i)
		if err := h.Backend.PutObject(ctx, key, strings.NewReader(""), 0, ""); err != nil {
			t.Fatalf("PutObject() error = %v", err)
		}
	}
	h.Backend.ResetCalls()

	if err := svc.Delete(ctx, big.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	var sizes []int
	for _, c := range h.Backend.Calls() {
		if c.Op == "delete_batch" {
			sizes = append(sizes, len(c.Keys))
		}
	}
	if !slices.Equal(sizes, []int{1000, 501}) {
		t.Errorf("delete batches = %v, want [1000 501]", sizes)
	}
	assertKeys(t, h.Backend)
}

func TestDelete_MisconfiguredStoreRollsBack(t *testing.T) {
	h, svc := setup(t)
	ctx := context.Background()
	docs := mustCreate(t, svc, "docs", nil)
	mustFile(t, svc, docs, "a.txt", "x")
	h.Backend.FailOn("delete_batch", "", fmt.Errorf("%w: AccessDenied", objectstore.ErrMisconfigured))

	err := svc.Delete(ctx, docs.ID)
	var se *drive.StorageError
	if !errors.As(err, &se) || se.Kind != drive.StorageConfig {
		t.Fatalf("Delete() error = %v, want a config storage error", err)
	}
	if _, err := svc.Get(ctx, docs.ID); err != nil {
		t.Errorf("directory row gone after failed delete: %v", err)
	}
	if !h.Logger.Contains("ERROR", "delete failed") {
		t.Error("expected the failure to be logged at error level")
	}
	checkTree(t, h, svc)
}

func TestDelete_File(t *testing.T) {
	h, svc := setup(t)
	ctx := context.Background()
	docs := mustCreate(t, svc, "docs", nil)
	f := mustFile(t, svc, docs, "a.txt", "x")

	if err := svc.Delete(ctx, f.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	assertKeys(t, h.Backend, "user_U/docs/.marker")

	g := mustFile(t, svc, docs, "b.txt", "y")
	h.Backend.FailOn("delete", g.ContentRef, errors.New("unavailable"))
	if err := svc.Delete(ctx, g.ID); err != nil {
		t.Fatalf("Delete() with failing object delete error = %v", err)
	}
	if _, err := svc.Get(ctx, g.ID); !errors.Is(err, drive.ErrNotFound) {
		t.Errorf("file row survived delete: %v", err)
	}
	if !h.Logger.Contains("ERROR", "deleting file content failed") {
		t.Error("expected orphaned content to be logged")
	}
}

func TestDownloadURL(t *testing.T) {
	_, svc := setup(t)
	ctx := context.Background()
	docs := mustCreate(t, svc, "docs", nil)
	f := mustFile(t, svc, docs, "a.txt", "x")

	url, err := svc.DownloadURL(ctx, f.ID, 15*time.Minute)
	if err != nil {
		t.Fatalf("DownloadURL() error = %v", err)
	}
	if !strings.Contains(url, "user_U/docs/a.txt") || !strings.Contains(url, "filename=a.txt") {
		t.Errorf("DownloadURL() = %q", url)
	}

	if _, err := svc.DownloadURL(ctx, docs.ID, time.Minute); !errors.Is(err, drive.ErrNotFound) {
		t.Errorf("DownloadURL(directory) error = %v, want ErrNotFound", err)
	}
	if _, err := svc.DownloadURL(ctx, f.ID, 30*24*time.Hour); !errors.Is(err, drive.ErrStorage) {
		t.Errorf("DownloadURL(30d) error = %v, want ErrStorage", err)
	}
}

func TestListChildren(t *testing.T) {
	_, svc := setup(t)
	ctx := context.Background()
	mustFile(t, svc, nil, "a.txt", "x")
	mustCreate(t, svc, "zeta", nil)
	mustCreate(t, svc, "alpha", nil)

	children, err := svc.ListChildren(ctx, nil)
	if err != nil {
		t.Fatalf("ListChildren() error = %v", err)
	}
	var got []string
	for _, c := range children {
		got = append(got, c.Name)
	}
	if !slices.Equal(got, []string{"alpha", "zeta", "a.txt"}) {
		t.Errorf("ListChildren() = %v", got)
	}

	if _, err := svc.ListChildren(ctx, strPtr("nope")); !errors.Is(err, drive.ErrNotFound) {
		t.Errorf("ListChildren(missing) error = %v, want ErrNotFound", err)
	}
}

func TestTreeConsistencyAfterMutations(t *testing.T) {
	h, svc := setup(t)
	ctx := context.Background()
	h.Clock.Tick(time.Second)

	a := mustCreate(t, svc, "a", nil)
	b := mustCreate(t, svc, "b", a)
	c := mustCreate(t, svc, "c", b)
	mustFile(t, svc, c, "deep.txt", "deep")
	mustFile(t, svc, b, "mid.txt", "mid")
	d := mustCreate(t, svc, "d", nil)

	steps := []struct {
		name string
		run  func() error
	}{
		{"rename b", func() error { _, _, err := svc.Rename(ctx, b.ID, "bee"); return err }},
		{"move c to d", func() error { _, _, err := svc.Move(ctx, c.ID, &d.ID); return err }},
		{"move a under d/c", func() error { _, _, err := svc.Move(ctx, a.ID, &c.ID); return err }},
		{"rename d", func() error { _, _, err := svc.Rename(ctx, d.ID, "dee"); return err }},
		{"move bee to root", func() error { _, _, err := svc.Move(ctx, b.ID, nil); return err }},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		checkTree(t, h, svc)
	}

	got, err := svc.ResolveEntry(ctx, "bee/mid.txt")
	if err != nil {
		t.Fatalf("ResolveEntry() error = %v", err)
	}
	rc, err := h.Store.Open(ctx, got.ContentRef)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()
	if data, _ := io.ReadAll(rc); string(data) != "mid" {
		t.Errorf("content = %q", data)
	}
	if _, err := svc.ResolveEntry(ctx, "dee/c/a/"); err != nil {
		t.Errorf("ResolveEntry(dee/c/a) error = %v", err)
	}
}

func strPtr(s string) *string { return &s }

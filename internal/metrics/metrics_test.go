package metrics

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"clouddrive/internal/drive"
)

func TestMetrics_ObserveOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveOperation("create", nil, 10*time.Millisecond)
	m.ObserveOperation("create", &drive.NameConflictError{Name: "docs"}, time.Millisecond)
	m.ObserveOperation("create", fmt.Errorf("wrapped: %w", &drive.NameConflictError{Name: "docs"}), time.Millisecond)
	m.ObserveOperation("delete", &drive.NotFoundError{Resource: "entry", ID: "x"}, time.Millisecond)

	tests := []struct {
		op, status string
		want       float64
	}{
		{"create", "ok", 1},
		{"create", "conflict", 2},
		{"delete", "not_found", 1},
		{"delete", "ok", 0},
	}
	for _, tt := range tests {
		got := testutil.ToFloat64(m.OperationsTotal.WithLabelValues(tt.op, tt.status))
		if got != tt.want {
			t.Errorf("operations_total{%s,%s} = %v, want %v", tt.op, tt.status, got, tt.want)
		}
	}

	if n := testutil.CollectAndCount(m.OperationDuration); n != 2 {
		t.Errorf("duration series = %d, want 2", n)
	}
}

func TestMetrics_ObjectStore(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveRequest("put", nil)
	m.ObserveRequest("put", &drive.StorageError{Op: "put", Kind: drive.StorageTransient, Err: errors.New("reset")})
	m.ObserveRequest("head", errors.New("raw"))
	m.AddKeys("delete", 1500)
	m.AddKeys("delete", 0)
	m.AddRenameFailures(2)
	m.AddRenameFailures(0)

	if got := testutil.ToFloat64(m.ObjectStoreRequests.WithLabelValues("put", "ok")); got != 1 {
		t.Errorf("requests{put,ok} = %v", got)
	}
	if got := testutil.ToFloat64(m.ObjectStoreRequests.WithLabelValues("put", "transient")); got != 1 {
		t.Errorf("requests{put,transient} = %v", got)
	}
	if got := testutil.ToFloat64(m.ObjectStoreRequests.WithLabelValues("head", "error")); got != 1 {
		t.Errorf("requests{head,error} = %v", got)
	}
	if got := testutil.ToFloat64(m.ObjectStoreKeys.WithLabelValues("delete")); got != 1500 {
		t.Errorf("keys{delete} = %v", got)
	}

	expected := `
# HELP clouddrive_objectstore_rename_failures_total Keys left under their old prefix by a best-effort rename
# TYPE clouddrive_objectstore_rename_failures_total counter
clouddrive_objectstore_rename_failures_total 2
`
	if err := testutil.CollectAndCompare(m.RenameFailures, strings.NewReader(expected)); err != nil {
		t.Errorf("rename failures mismatch: %v", err)
	}
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	// Each registry gets its own collectors, so constructing twice is safe.
	NewMetrics(prometheus.NewRegistry())
	NewMetrics(prometheus.NewRegistry())
}

func TestOperationStatus(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{&drive.InvalidPathError{Path: "a/b", Reason: "bad"}, "invalid"},
		{&drive.LimitError{Limit: "max_files"}, "invalid"},
		{&drive.StorageError{Kind: drive.StorageConfig, Err: errors.New("denied")}, "storage_error"},
		{&drive.DatabaseError{Op: "insert", Err: errors.New("locked")}, "database_error"},
		{errors.New("other"), "error"},
	}
	for _, tt := range tests {
		if got := operationStatus(tt.err); got != tt.want {
			t.Errorf("operationStatus(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestWriteTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.ObserveOperation("upload", nil, time.Second)

	path := filepath.Join(t.TempDir(), "drive.prom")
	if err := WriteTextfile(reg, path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}
}

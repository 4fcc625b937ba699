package drive

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"plain", "report.txt", false},
		{"spaces and unicode", "Über Bericht 2024", false},
		{"hidden file", ".profile", false},
		{"empty", "", true},
		{"dot", ".", true},
		{"dot dot", "..", true},
		{"marker", ".marker", true},
		{"separator", "a/b", true},
		{"nul", "a\x00b", true},
		{"max length", strings.Repeat("a", MaxNameLength), false},
		{"too long", strings.Repeat("a", MaxNameLength+1), true},
		{"multibyte within bytes", strings.Repeat("é", 127), false},
		{"multibyte over bytes", strings.Repeat("é", 128), true},
		{"spaces only", "  ", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input, DefaultMarkerName)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidPath) {
				t.Errorf("ValidateName(%q) error = %v, want ErrInvalidPath", tt.input, err)
			}
		})
	}

	t.Run("custom marker name", func(t *testing.T) {
		if err := ValidateName(".marker", ".keep"); err != nil {
			t.Errorf("ValidateName(.marker) with .keep marker error = %v", err)
		}
		if err := ValidateName(".keep", ".keep"); err == nil {
			t.Error("ValidateName(.keep) with .keep marker expected error")
		}
	})
}

func TestSplitLogicalPath(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"", nil},
		{"/", nil},
		{"docs", []string{"docs"}},
		{"/docs/2024/", []string{"docs", "2024"}},
		{"docs//./2024/../x", []string{"docs", "2024", "x"}},
		{" docs / notes ", []string{" docs ", " notes "}},
		{"a/  /b", []string{"a", "  ", "b"}},
	}
	for _, tt := range tests {
		got := SplitLogicalPath(tt.input)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") {
			t.Errorf("SplitLogicalPath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestSplitRelativePath(t *testing.T) {
	tests := []struct {
		input    string
		wantDirs []string
		wantLeaf string
		wantErr  bool
	}{
		{"report.txt", nil, "report.txt", false},
		{"projects/2024/report.txt", []string{"projects", "2024"}, "report.txt", false},
		{"/projects//report.txt", []string{"projects"}, "report.txt", false},
		{"", nil, "", true},
		{"///", nil, "", true},
		{"projects/../report.txt", nil, "", true},
		{"projects/./report.txt", nil, "", true},
		{"projects/.marker", nil, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			dirs, leaf, err := SplitRelativePath(tt.input, DefaultMarkerName)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPath) {
					t.Fatalf("SplitRelativePath() error = %v, want ErrInvalidPath", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("SplitRelativePath() error = %v", err)
			}
			if strings.Join(dirs, "|") != strings.Join(tt.wantDirs, "|") || leaf != tt.wantLeaf {
				t.Errorf("SplitRelativePath() = %q, %q, want %q, %q", dirs, leaf, tt.wantDirs, tt.wantLeaf)
			}
		})
	}
}

func TestChildPathAndDisplayPath(t *testing.T) {
	root := OwnerRoot("42")
	if root != "user_42/" {
		t.Fatalf("OwnerRoot() = %q", root)
	}

	dir := ChildPath(root, "docs", KindDirectory)
	file := ChildPath(dir, "a.txt", KindFile)
	if dir != "user_42/docs/" || file != "user_42/docs/a.txt" {
		t.Errorf("ChildPath() = %q, %q", dir, file)
	}

	if got := DisplayPath(&Entry{Path: file}); got != "docs/a.txt" {
		t.Errorf("DisplayPath() = %q", got)
	}
	if got := DisplayPath(&Entry{Path: "orphan"}); got != "orphan" {
		t.Errorf("DisplayPath(no separator) = %q", got)
	}
}

func TestEntry(t *testing.T) {
	parentID := "p1"
	dir := &Entry{ID: "d1", Kind: KindDirectory, Path: "user_U/docs/"}
	file := &Entry{ID: "f1", Kind: KindFile, ParentID: &parentID, Path: "user_U/docs/a.txt", ContentRef: "user_U/docs/a.txt"}
	sibling := &Entry{ID: "d2", Kind: KindDirectory, Path: "user_U/docs2/"}

	if dir.ObjectKey() != "user_U/docs/" || file.ObjectKey() != "user_U/docs/a.txt" {
		t.Errorf("ObjectKey() = %q, %q", dir.ObjectKey(), file.ObjectKey())
	}
	if got := dir.MarkerKey(".marker"); got != "user_U/docs/.marker" {
		t.Errorf("MarkerKey() = %q", got)
	}

	if !dir.Contains(dir) || !dir.Contains(file) {
		t.Error("directory should contain itself and its files")
	}
	if dir.Contains(sibling) {
		t.Error("docs/ must not contain docs2/")
	}
	if file.Contains(file) {
		t.Error("a file contains nothing")
	}

	other := "p2"
	if !dir.ParentIs(nil) || dir.ParentIs(&parentID) {
		t.Error("ParentIs() wrong for root entry")
	}
	if !file.ParentIs(&parentID) || file.ParentIs(&other) || file.ParentIs(nil) {
		t.Error("ParentIs() wrong for nested entry")
	}

	if IDRef(nil) != nil {
		t.Error("IDRef(nil) should be nil")
	}
	if ref := IDRef(dir); ref == nil || *ref != "d1" {
		t.Errorf("IDRef() = %v", ref)
	}
}

package drive

import (
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	// MaxNameLength bounds a single path component, in bytes.
	MaxNameLength = 255
	// MaxPathLength bounds a materialized path, in bytes.
	MaxPathLength = 1024
)

var (
	errSeparatorInName = errors.New("must not contain '/' or NUL")
	errNameTooLong     = errors.New("name is too long")
)

func noSeparator(value interface{}) error {
	s, _ := value.(string)
	if strings.ContainsAny(s, Separator+"\x00") {
		return errSeparatorInName
	}
	return nil
}

// maxBytes checks the encoded length; validation.Length counts runes.
func maxBytes(value interface{}) error {
	s, _ := value.(string)
	if len(s) > MaxNameLength {
		return errNameTooLong
	}
	return nil
}

// ValidateName checks a single entry name. The marker name is reserved so a
// file key can never shadow a directory placeholder.
func ValidateName(name, markerName string) error {
	err := validation.Validate(name,
		validation.Required.Error("name is required"),
		validation.By(maxBytes),
		validation.NotIn(".", "..", markerName).Error("name is reserved"),
		validation.By(noSeparator),
	)
	if err != nil {
		return &InvalidPathError{Path: name, Reason: err.Error()}
	}
	return nil
}

// SplitLogicalPath splits a user-facing path into its components, dropping
// empty, "." and ".." segments. Whitespace is significant: " docs" and
// "docs" are different names.
func SplitLogicalPath(p string) []string {
	var parts []string
	for _, c := range strings.Split(p, Separator) {
		if c == "" || c == "." || c == ".." {
			continue
		}
		parts = append(parts, c)
	}
	return parts
}

// SplitRelativePath splits an upload relative path into directory components
// and the leaf name. Empty segments are dropped; "." and ".." are rejected.
func SplitRelativePath(rel, markerName string) (dirs []string, leaf string, err error) {
	var parts []string
	for _, c := range strings.Split(rel, Separator) {
		if c == "" {
			continue
		}
		if err := ValidateName(c, markerName); err != nil {
			return nil, "", &InvalidPathError{Path: rel, Reason: err.(*InvalidPathError).Reason}
		}
		parts = append(parts, c)
	}
	if len(parts) == 0 {
		return nil, "", &InvalidPathError{Path: rel, Reason: "no path components"}
	}
	return parts[:len(parts)-1], parts[len(parts)-1], nil
}

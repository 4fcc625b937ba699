package objectstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

func TestClassifyS3Error(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"typed no such key", &types.NoSuchKey{}, ErrObjectNotFound},
		{"typed head not found", fmt.Errorf("head: %w", &types.NotFound{}), ErrObjectNotFound},
		{"generic not found code", &smithy.GenericAPIError{Code: "NotFound"}, ErrObjectNotFound},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, ErrMisconfigured},
		{"missing bucket", &smithy.GenericAPIError{Code: "NoSuchBucket"}, ErrMisconfigured},
		{"bad signature", &smithy.GenericAPIError{Code: "SignatureDoesNotMatch"}, ErrMisconfigured},
		{"key too long", &smithy.GenericAPIError{Code: "KeyTooLongError"}, ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyS3Error(tt.err); !errors.Is(got, tt.want) {
				t.Errorf("classifyS3Error() = %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("unknown errors pass through", func(t *testing.T) {
		orig := &smithy.GenericAPIError{Code: "SlowDown"}
		got := classifyS3Error(orig)
		if got != error(orig) {
			t.Errorf("classifyS3Error() = %v, want original", got)
		}
		if storageKind(storageErr("put", "k", got)) != "transient" {
			t.Errorf("SlowDown should classify as transient")
		}
	})

	if classifyS3Error(nil) != nil {
		t.Error("classifyS3Error(nil) != nil")
	}
}

func TestCopySource(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"user_U/docs/a.txt", "bucket/user_U/docs/a.txt"},
		{"user_U/my docs/a b.txt", "bucket/user_U/my%20docs/a%20b.txt"},
		{"user_U/100%/x?y", "bucket/user_U/100%25/x%3Fy"},
	}
	for _, tt := range tests {
		if got := copySource("bucket", tt.key); got != tt.want {
			t.Errorf("copySource(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestContentDisposition(t *testing.T) {
	got := contentDisposition(`report "final".pdf`)
	want := `attachment; filename="report \"final\".pdf"; filename*=UTF-8''report%20%22final%22.pdf`
	if got != want {
		t.Errorf("contentDisposition() = %q, want %q", got, want)
	}
}

func TestNewS3Backend_RequiresBucket(t *testing.T) {
	_, err := NewS3Backend(context.Background(), S3Config{Region: "us-east-1"})
	if !errors.Is(err, ErrMisconfigured) {
		t.Errorf("NewS3Backend() error = %v, want ErrMisconfigured", err)
	}
}

func TestNewS3Backend_StaticCredentials(t *testing.T) {
	b, err := NewS3Backend(context.Background(), S3Config{
		Bucket:          "drive",
		Region:          "us-east-1",
		Endpoint:        "http://localhost:9000",
		AccessKeyID:     "minio",
		SecretAccessKey: "minio123",
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("NewS3Backend() error = %v", err)
	}
	if b.bucket != "drive" || b.client == nil || b.uploader == nil || b.presigner == nil {
		t.Errorf("backend not fully initialized: %+v", b)
	}
}

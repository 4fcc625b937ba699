package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// maxPresignTTL is the longest lifetime S3 accepts for a presigned URL.
const maxPresignTTL = Duration(7 * 24 * time.Hour)

// Validate checks struct tags and the rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	if cfg.Catalog.Type == "postgres" && cfg.Catalog.PostgresDSN() == "" {
		return fmt.Errorf("catalog: postgres requires dsn or POSTGRES_DB")
	}
	if cfg.ObjectStore.Type == "s3" && (cfg.ObjectStore.AccessKeyID == "") != (cfg.ObjectStore.SecretAccessKey == "") {
		return fmt.Errorf("object_store: access_key_id and secret_access_key must be set together")
	}
	if cfg.ObjectStore.Type == "filesystem" && !filepath.IsAbs(cfg.ObjectStore.Root) {
		return fmt.Errorf("object_store: root must be an absolute path, got %q", cfg.ObjectStore.Root)
	}
	if cfg.Tree.DownloadTTL < 0 || cfg.Tree.DownloadTTL > maxPresignTTL {
		return fmt.Errorf("tree: download_ttl must be between 0 and 168h")
	}
	if cfg.Tree.MaxFileSize > 0 && cfg.Tree.MaxBatchSize > 0 && cfg.Tree.MaxFileSize > cfg.Tree.MaxBatchSize {
		return fmt.Errorf("tree: max_file_size exceeds max_batch_size")
	}
	for i, pattern := range cfg.Filesystem.Ignore {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("filesystem.ignore[%d]: bad pattern %q: %w", i, pattern, err)
		}
	}
	return nil
}

func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return err
}

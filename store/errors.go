package store

import (
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeStoreRead  = "SESSION_STORE_READ_FAILED"
	TextCodeStoreWrite = "SESSION_STORE_WRITE_FAILED"
	TextCodeCorrupt    = "SESSION_STORE_CORRUPT"
)

func readError(err error, backend string) error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load session").
		WithTextCode(TextCodeStoreRead).
		WithMetadata(map[string]any{"backend": backend})
}

func writeError(err error, backend string) error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to save session").
		WithTextCode(TextCodeStoreWrite).
		WithMetadata(map[string]any{"backend": backend})
}

func corruptError(err error, backend string) error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, "stored session is not valid JSON").
		WithTextCode(TextCodeCorrupt).
		WithMetadata(map[string]any{"backend": backend})
}

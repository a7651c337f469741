package offers

import (
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeOfferNotFound = "OFFER_NOT_FOUND"
	TextCodeInvalidOffer  = "INVALID_OFFER"
	TextCodeStorage       = "OFFER_STORAGE_FAILED"
)

// MsgInvalidOffer mirrors the form level message shown to editors.
const MsgInvalidOffer = "Title, Instructions, and all three Warnings are required."

var ErrOfferNotFound = goerrors.New("offer not found", goerrors.CategoryNotFound).
	WithCode(goerrors.CodeNotFound).
	WithTextCode(TextCodeOfferNotFound)

func storageError(err error, message string) error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, message).
		WithCode(goerrors.CodeInternal).
		WithTextCode(TextCodeStorage)
}

package repository

import (
	"errors"

	"github.com/okian/backr/internal/domain/model"
)

// Sentinel errors of the store layer.
var (
	ErrClosed           = errors.New("store closed")
	ErrUnsupportedValue = errors.New("unsupported field value")
	ErrInvalidArgument  = errors.New("collection and id are required")
)

// NotFound reports a missing document as model.ErrNotFound.
func NotFound(op, collection, id string) error {
	return model.NewError(op, model.ErrNotFound, "%s/%s", collection, id)
}

// Transport reports a failed round trip as model.ErrTransport.
func Transport(op string, err error) error {
	return model.WrapError(op, model.ErrTransport, err)
}

// Invalid reports a malformed request as model.ErrValidation.
func Invalid(op string, err error) error {
	return model.WrapError(op, model.ErrValidation, err)
}

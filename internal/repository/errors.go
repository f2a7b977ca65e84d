package repository

import (
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/noteduco342/OMChat-backend/internal/apperr"
)

// wrap annotates driver errors with the failing operation. Missing rows become
// NotFound so services can pass them straight through.
func wrap(err error, op, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(what + " not found")
	}
	return errors.Wrap(err, op)
}

package repository

import (
	"database/sql"
	"errors"
)

// HandleNotFound converts sql.ErrNoRows into a nil result without error.
// Find* lookups use it so callers can distinguish "no merchant registered"
// from a real database failure with a plain nil check.
//
// Usage:
//
//	var m model.Merchant
//	err := r.db.GetContext(ctx, &m, query, args...)
//	return HandleNotFound(&m, err)
func HandleNotFound[T any](result *T, err error) (*T, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicateReference is returned by TransactionRepository.Insert when the
// (user_id, external_reference) pair already exists.
var ErrDuplicateReference = errors.New("duplicate external reference")

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

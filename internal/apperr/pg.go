package apperr

// Postgres SQLSTATE mapping for the pgx store

import (
	stderrs "errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
	pgErrNotNullViolation    = "23502"
	pgErrCheckViolation      = "23514"
	pgErrInvalidText         = "22P02"
	pgErrReadOnly            = "25006"
	pgErrCannotConnectNow    = "57P03"
	pgErrTooManyConnections  = "53300"
)

// PgKind maps a Postgres error to a Kind; ok is false when err carries no *pgconn.PgError
func PgKind(err error) (Kind, bool) {
	var pgErr *pgconn.PgError
	if !stderrs.As(err, &pgErr) {
		return KindUnknown, false
	}
	switch pgErr.Code {
	case pgErrUniqueViolation, pgErrForeignKeyViolation, pgErrNotNullViolation,
		pgErrCheckViolation, pgErrInvalidText:
		return KindValidation, true
	case pgErrReadOnly, pgErrCannotConnectNow, pgErrTooManyConnections:
		return KindUnavailable, true
	}
	return KindStore, true
}

// FromPostgres classifies a pgx error. pgx.ErrNoRows becomes KindNotFound.
func FromPostgres(err error, msg string) error {
	if err == nil {
		return nil
	}
	if stderrs.Is(err, pgx.ErrNoRows) {
		return Wrap(err, KindNotFound, msg)
	}
	if k, ok := PgKind(err); ok {
		return Wrap(err, k, msg)
	}
	return Wrap(err, KindStore, msg)
}

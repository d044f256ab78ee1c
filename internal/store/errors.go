package store

import (
	"context"
	"errors"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/neighborwatch/incident-server/internal/apperr"
)

// Postgres SQLSTATE codes we translate
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
	pgSerialization       = "40001"
	pgDeadlock            = "40P01"
)

// translate converts driver errors into apperr kinds
func translate(err error, what string) error {
	if err == nil {
		return nil
	}

	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.Newf(apperr.KindNotFound, "%s not found", what)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return apperr.Wrap(apperr.KindConflict, what+" already exists", err)
		case pgForeignKeyViolation:
			return apperr.Wrap(apperr.KindValidation, what+" references a missing record", err)
		case pgCheckViolation:
			return apperr.Wrap(apperr.KindValidation, what+" violates a constraint", err)
		case pgSerialization, pgDeadlock:
			return apperr.Wrap(apperr.KindConflict, "concurrent update on "+what, err)
		}
		return apperr.Wrap(apperr.KindInternal, "query "+what, err)
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || errors.As(err, &netErr) {
		return apperr.Wrap(apperr.KindUnavailable, "database unavailable", err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return apperr.Wrap(apperr.KindUnavailable, "database unavailable", err)
	}

	return apperr.Wrap(apperr.KindInternal, "query "+what, err)
}

package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"parking-service/internal/domain/parking"
)

// IsTransient reports whether err looks like a lost or unusable database
// connection, as opposed to a query or constraint failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, parking.ErrTransientStore) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08":
			return true
		case pgErr.Code == "57P01", pgErr.Code == "40001", pgErr.Code == "40P01":
			return true
		}
		return false
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	if pgconn.SafeToRetry(err) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func withRetry(ctx context.Context, log zerolog.Logger, op string, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	if err == nil || !IsTransient(err) || ctx.Err() != nil {
		return err
	}

	log.Warn().Err(err).Str("op", op).Msg("lost store connection; retrying once")
	err = fn(ctx)
	if err == nil {
		return nil
	}
	if IsTransient(err) && !errors.Is(err, parking.ErrTransientStore) {
		return fmt.Errorf("%w: %s: %v", parking.ErrTransientStore, op, err)
	}
	return err
}

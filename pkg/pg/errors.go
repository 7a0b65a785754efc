package pg

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrFailedToOpenDBConnection = errors.New("failed to open db connection")
	ErrEmptyConnectionString    = errors.New("empty postgres connection string, use PG_CONN_URL env var")
	ErrHealthcheckFailed        = errors.New("healthcheck failed, connection is not available")
	ErrFailedToParseDBConfig    = errors.New("failed to parse db config")
)

// SQLSTATE codes the tenancy drivers react to.
const (
	codeDuplicateSchema   = "42P06"
	codeInvalidSchemaName = "3F000"
	codeDuplicateDatabase = "42P04"
	codeInvalidCatalog    = "3D000"
	classConnection       = "08"
)

// IsNotFoundError detects pgx.ErrNoRows.
func IsNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, pgx.ErrNoRows)
}

// IsDuplicateSchemaError detects CREATE SCHEMA on an existing schema (42P06).
func IsDuplicateSchemaError(err error) bool {
	return hasCode(err, codeDuplicateSchema)
}

// IsInvalidSchemaNameError detects references to a missing schema (3F000).
func IsInvalidSchemaNameError(err error) bool {
	return hasCode(err, codeInvalidSchemaName)
}

// IsDuplicateDatabaseError detects CREATE DATABASE on an existing database (42P04).
func IsDuplicateDatabaseError(err error) bool {
	return hasCode(err, codeDuplicateDatabase)
}

// IsInvalidCatalogNameError detects connections to or drops of a missing database (3D000).
func IsInvalidCatalogNameError(err error) bool {
	return hasCode(err, codeInvalidCatalog)
}

// IsConnectionError reports failures to reach the server: dial errors,
// timeouts and SQLSTATE class 08.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, classConnection)
	}
	return pgconn.Timeout(err)
}

func hasCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

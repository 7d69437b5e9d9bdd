package repository

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/lib/pq"
)

// HandleNotFound converts sql.ErrNoRows into a nil result without error,
// the convention every Find* method follows.
//
// Usage:
//
//	var chat model.Chat
//	err := r.db.GetContext(ctx, &chat, query, args...)
//	return HandleNotFound(&chat, err)
func HandleNotFound[T any](result *T, err error) (*T, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

const pqUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a Postgres unique constraint
// violation.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern builds an ILIKE pattern matching q anywhere, with q's own
// wildcards escaped.
func containsPattern(q string) string {
	return "%" + likeEscaper.Replace(q) + "%"
}

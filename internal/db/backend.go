package db

import (
	"context"
	"strconv"
	"strings"
)

type rowScanner interface {
	Scan(dest ...any) error
}

type rowsIter interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// execer is the query surface shared by a pool, a connection and a transaction
// of either backend. Queries use ? placeholders.
type execer interface {
	exec(ctx context.Context, query string, args ...any) (int64, error)
	queryRow(ctx context.Context, query string, args ...any) rowScanner
	query(ctx context.Context, query string, args ...any) (rowsIter, error)
}

type backend interface {
	execer
	inTx(ctx context.Context, fn func(execer) error) error
	ping(ctx context.Context) error
	close()
	ensureSchema(ctx context.Context) error
	// lockClause is appended to SELECTs that claim rows.
	lockClause(skipLocked bool) string
	isUnique(err error) bool
	isCheck(err error) bool
	isNoRows(err error) bool
}

// rebind rewrites ? placeholders to $1, $2, ... for Postgres.
func rebind(query string) string {
	if !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

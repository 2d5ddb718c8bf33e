package postgresql

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/shopmonkeyus/entitydb/internal"
	"github.com/shopmonkeyus/entitydb/internal/drivers/sqldriver"
	"github.com/shopmonkeyus/entitydb/internal/util"
	"github.com/shopmonkeyus/go-common/logger"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

var needsQuote = regexp.MustCompile(`[A-Z0-9_\s]`)
var keywords = regexp.MustCompile(`(?i)\b(USER|SELECT|INSERT|UPDATE|DELETE|FROM|WHERE|JOIN|LEFT|RIGHT|INNER|GROUP BY|ORDER BY|HAVING|AND|OR|CREATE|DROP|ALTER|TABLE|INDEX|ON|INTO|VALUES|SET|AS|DISTINCT|TYPE|DEFAULT|ORDER|GROUP|LIMIT|SUM|TOTAL|START|END|BEGIN|COMMIT|ROLLBACK|PRIMARY|AUTHORIZATION)\b`)

// detail looks like: Key (email)=(u1@test.com) already exists.
var uniqueDetail = regexp.MustCompile(`Key \((.+?)\)=\((.*)\) already exists`)

func quoteIdentifier(val string) string {
	if needsQuote.MatchString(val) || keywords.MatchString(val) {
		return pq.QuoteIdentifier(val)
	}
	return val
}

type dialect struct {
	logger logger.Logger
}

var _ sqldriver.Dialect = (*dialect)(nil)

func (d *dialect) Builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

func (d *dialect) QuoteIdentifier(name string) string {
	return quoteIdentifier(name)
}

func (d *dialect) Insert(ctx context.Context, q sqldriver.Querier, entity *internal.EntityType, values map[string]any) (any, error) {
	keys, err := sqldriver.InsertReturning(ctx, q, d, d.logger, entity, []map[string]any{values}, "")
	if err != nil {
		return nil, err
	}
	if len(keys) != 1 {
		return nil, fmt.Errorf("expected 1 key from insert into %s, got %d", entity.TableName(), len(keys))
	}
	return keys[0], nil
}

func (d *dialect) InsertBatch(ctx context.Context, q sqldriver.Querier, entity *internal.EntityType, rows []map[string]any, onConflict internal.OnConflict) ([]any, error) {
	var suffix string
	if onConflict == internal.OnConflictSkip {
		suffix = "ON CONFLICT DO NOTHING"
	}
	return sqldriver.InsertReturning(ctx, q, d, d.logger, entity, rows, suffix)
}

func sqlState(err error) (string, string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), pqErr.Detail, true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.Detail, true
	}
	return "", "", false
}

func (d *dialect) UniqueViolation(err error) (sqldriver.Violation, bool) {
	code, detail, ok := sqlState(err)
	if ok && code != pgUniqueViolation {
		return sqldriver.Violation{}, false
	}
	if !ok && !strings.Contains(err.Error(), "violates unique constraint") {
		return sqldriver.Violation{}, false
	}
	var v sqldriver.Violation
	if m := uniqueDetail.FindStringSubmatch(detail); m != nil {
		v.Column = m[1]
		v.Value = m[2]
	}
	return v, true
}

func (d *dialect) ForeignKeyViolation(err error) bool {
	if code, _, ok := sqlState(err); ok {
		return code == pgForeignKeyViolation
	}
	return strings.Contains(err.Error(), "violates foreign key constraint")
}

func (d *dialect) ConnectionError(err error) bool {
	// class 08 is connection exception, 57P01 is admin shutdown
	if code, _, ok := sqlState(err); ok {
		return strings.HasPrefix(code, "08") || code == "57P01"
	}
	return false
}

// a failed statement aborts the whole transaction
func (d *dialect) CanProbe() bool {
	return false
}

func getConnectionStringFromURL(urlstr string) (string, error) {
	u, err := url.Parse(urlstr)
	if err != nil {
		return "", fmt.Errorf("error parsing postgres db url: %w", err)
	}
	u.Scheme = "postgresql"
	if u.Port() == "" {
		u.Host = u.Host + ":5432"
	}
	var reencode bool
	q := u.Query()
	if !u.Query().Has("application_name") {
		q.Set("application_name", "entitydb")
		reencode = true
	}
	if util.IsLocalhost(u.Host) && !u.Query().Has("sslmode") {
		q.Set("sslmode", "disable")
		reencode = true
	}
	if reencode {
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

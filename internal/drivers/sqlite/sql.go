package sqlite

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/shopmonkeyus/entitydb/internal"
	"github.com/shopmonkeyus/entitydb/internal/drivers/sqldriver"
	"github.com/shopmonkeyus/go-common/logger"
)

var needsQuote = regexp.MustCompile(`[A-Z0-9_\s]`)
var keywords = regexp.MustCompile(`(?i)\b(USER|SELECT|INSERT|UPDATE|DELETE|FROM|WHERE|JOIN|LEFT|RIGHT|INNER|GROUP BY|ORDER BY|HAVING|AND|OR|CREATE|DROP|ALTER|TABLE|INDEX|ON|INTO|VALUES|SET|AS|DISTINCT|TYPE|DEFAULT|ORDER|GROUP|LIMIT|BEGIN|COMMIT|ROLLBACK|PRIMARY|KEY|REFERENCES)\b`)

// message looks like: UNIQUE constraint failed: users.email (2067)
var uniqueFailed = regexp.MustCompile(`UNIQUE constraint failed: ([\w.]+)`)

func quoteIdentifier(val string) string {
	if needsQuote.MatchString(val) || keywords.MatchString(val) {
		return `"` + strings.ReplaceAll(val, `"`, `""`) + `"`
	}
	return val
}

type dialect struct {
	logger logger.Logger
}

var _ sqldriver.Dialect = (*dialect)(nil)

func (d *dialect) Builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)
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

func (d *dialect) UniqueViolation(err error) (sqldriver.Violation, bool) {
	msg := err.Error()
	if m := uniqueFailed.FindStringSubmatch(msg); m != nil {
		// a composite index reports every column, the first one is enough to find the field
		return sqldriver.Violation{Column: strings.Split(m[1], ",")[0]}, true
	}
	if strings.Contains(msg, "PRIMARY KEY constraint failed") {
		return sqldriver.Violation{}, true
	}
	return sqldriver.Violation{}, false
}

func (d *dialect) ForeignKeyViolation(err error) bool {
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func (d *dialect) ConnectionError(err error) bool {
	return sqldriver.ContainsAny(err.Error(), "database is locked", "unable to open database file")
}

func (d *dialect) CanProbe() bool {
	return true
}

// getDSNFromURL converts sqlite:///path/to/file.db or sqlite://:memory: into a modernc dsn with
// foreign keys turned on.
func getDSNFromURL(urlstr string) (string, error) {
	u, err := url.Parse(urlstr)
	if err != nil {
		return "", fmt.Errorf("error parsing sqlite url: %w", err)
	}
	path := u.Host + u.Path
	if u.Scheme == "file" {
		path = u.Opaque + path
	}
	if path == "" {
		return "", fmt.Errorf("missing database path in url: %s", urlstr)
	}
	q := u.Query()
	q.Add("_pragma", "foreign_keys(1)")
	if path == ":memory:" {
		q.Set("cache", "shared")
	}
	return "file:" + path + "?" + q.Encode(), nil
}

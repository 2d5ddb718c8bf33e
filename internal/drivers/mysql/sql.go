package mysql

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/cockroachdb/errors"
	"github.com/go-sql-driver/mysql"
	"github.com/shopmonkeyus/entitydb/internal"
	"github.com/shopmonkeyus/entitydb/internal/drivers/sqldriver"
	"github.com/shopmonkeyus/entitydb/internal/util"
	"github.com/shopmonkeyus/go-common/logger"
)

const (
	mysqlDuplicateEntry   = 1062
	mysqlForeignKeyParent = 1451
	mysqlForeignKeyChild  = 1452
)

var needsQuote = regexp.MustCompile(`[A-Z0-9_\s]`)
var keywords = regexp.MustCompile(`(?i)\b(USER|SELECT|INSERT|UPDATE|DELETE|FROM|WHERE|JOIN|LEFT|RIGHT|INNER|GROUP BY|ORDER BY|HAVING|AND|OR|CREATE|DROP|ALTER|TABLE|INDEX|ON|INTO|VALUES|SET|AS|DISTINCT|TYPE|DEFAULT|ORDER|GROUP|LIMIT|SUM|TOTAL|START|END|BEGIN|COMMIT|ROLLBACK|PRIMARY|AUTHORIZATION)\b`)

// message looks like: Duplicate entry 'u1@test.com' for key 'users.email'
var duplicateEntry = regexp.MustCompile(`Duplicate entry '(.*)' for key '([^']+)'`)

func quoteIdentifier(val string) string {
	if needsQuote.MatchString(val) || keywords.MatchString(val) {
		return "`" + val + "`"
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

// insertBuilder returns the INSERT for the row. When skip is true the values are selected from DUAL
// guarded by a NOT EXISTS per supplied unique value, so only duplicates are skipped and every other
// error, a missing foreign key parent included, still fails the statement.
func (d *dialect) insertBuilder(entity *internal.EntityType, fields []*internal.ScalarField, values map[string]any, skip bool) (squirrel.InsertBuilder, error) {
	table := quoteIdentifier(entity.TableName())
	columns, vals, err := sqldriver.Bind(d, fields, values)
	if err != nil {
		return squirrel.InsertBuilder{}, err
	}
	builder := d.Builder().Insert(table).Columns(columns...)
	var guards []squirrel.Sqlizer
	if skip {
		for _, f := range entity.UniqueFields() {
			v, ok := values[f.Name]
			if !ok || v == nil {
				continue
			}
			bound, err := sqldriver.BindValue(f, v)
			if err != nil {
				return squirrel.InsertBuilder{}, err
			}
			guards = append(guards, squirrel.Expr("NOT EXISTS (SELECT 1 FROM "+table+" WHERE "+quoteIdentifier(f.ColumnName())+" = ?)", bound))
		}
	}
	if len(guards) == 0 {
		return builder.Values(vals...), nil
	}
	sel := squirrel.Select().From("DUAL")
	for _, v := range vals {
		sel = sel.Column(squirrel.Expr("?", v))
	}
	for _, guard := range guards {
		sel = sel.Where(guard)
	}
	return builder.Select(sel), nil
}

// insert runs a single INSERT and returns the key and whether a row was written. MySQL has no
// RETURNING so the key is either the supplied primary key or the auto increment id.
func (d *dialect) insert(ctx context.Context, q sqldriver.Querier, entity *internal.EntityType, values map[string]any, skip bool) (any, bool, error) {
	fields := sqldriver.Columns(entity, values)
	var sql string
	var args []any
	if len(fields) == 0 {
		sql = "INSERT INTO " + quoteIdentifier(entity.TableName()) + " () VALUES ()"
	} else {
		builder, err := d.insertBuilder(entity, fields, values, skip)
		if err != nil {
			return nil, false, err
		}
		sql, args, err = builder.ToSql()
		if err != nil {
			return nil, false, fmt.Errorf("error building insert: %w", err)
		}
	}
	d.logger.Trace("sql: %s", sql)
	res, err := q.ExecContext(ctx, sql, args...)
	if err != nil {
		if _, ok := d.UniqueViolation(err); ok && skip {
			// a concurrent writer stored the value after the guard was evaluated
			return nil, false, nil
		}
		return nil, false, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("error reading rows affected: %w", err)
	}
	if count == 0 {
		return nil, false, nil
	}
	pk := entity.PrimaryKey()
	if v, ok := values[pk.Name]; ok && v != nil {
		return v, true, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, false, fmt.Errorf("error reading last insert id: %w", err)
	}
	return id, true, nil
}

func (d *dialect) Insert(ctx context.Context, q sqldriver.Querier, entity *internal.EntityType, values map[string]any) (any, error) {
	pk, _, err := d.insert(ctx, q, entity, values, false)
	return pk, err
}

func (d *dialect) InsertBatch(ctx context.Context, q sqldriver.Querier, entity *internal.EntityType, rows []map[string]any, onConflict internal.OnConflict) ([]any, error) {
	keys := make([]any, 0, len(rows))
	for _, row := range rows {
		pk, inserted, err := d.insert(ctx, q, entity, row, onConflict == internal.OnConflictSkip)
		if err != nil {
			return nil, err
		}
		if inserted {
			keys = append(keys, pk)
		}
	}
	return keys, nil
}

func mysqlError(err error) (*mysql.MySQLError, bool) {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr, true
	}
	return nil, false
}

func (d *dialect) UniqueViolation(err error) (sqldriver.Violation, bool) {
	myErr, ok := mysqlError(err)
	if ok && myErr.Number != mysqlDuplicateEntry {
		return sqldriver.Violation{}, false
	}
	msg := err.Error()
	if ok {
		msg = myErr.Message
	} else if !strings.Contains(msg, "Error 1062") {
		return sqldriver.Violation{}, false
	}
	var v sqldriver.Violation
	if m := duplicateEntry.FindStringSubmatch(msg); m != nil {
		v.Value = m[1]
		v.Column = m[2]
	}
	return v, true
}

func (d *dialect) ForeignKeyViolation(err error) bool {
	if myErr, ok := mysqlError(err); ok {
		return myErr.Number == mysqlForeignKeyChild || myErr.Number == mysqlForeignKeyParent
	}
	return sqldriver.ContainsAny(err.Error(), "Error 1451", "Error 1452")
}

func (d *dialect) ConnectionError(err error) bool {
	return errors.Is(err, mysql.ErrInvalidConn)
}

func (d *dialect) CanProbe() bool {
	return true
}

func parseURLToDSN(urlstr string) (string, error) {
	//username:password@protocol(address)/dbname?param=value
	u, err := url.Parse(urlstr)
	if err != nil {
		return "", fmt.Errorf("error parsing url: %w", err)
	}
	vals := u.Query()
	vals.Set("parseTime", "true")
	// report matched rather than changed rows so a no-op foreign key update still counts
	vals.Set("clientFoundRows", "true")
	var dsn strings.Builder
	if u.User != nil {
		dsn.WriteString(util.ToUserPass(u))
		dsn.WriteString("@")
	}
	dsn.WriteString("tcp(")
	dsn.WriteString(u.Host)
	dsn.WriteString(")")
	dsn.WriteString(u.Path)
	dsn.WriteString("?")
	dsn.WriteString(vals.Encode())
	return dsn.String(), nil
}

package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopmonkeyus/entitydb/internal"
	"github.com/shopmonkeyus/entitydb/internal/projection"
	"github.com/shopmonkeyus/entitydb/internal/service"
	"github.com/shopmonkeyus/entitydb/schema"
	"github.com/shopmonkeyus/go-common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const demoTables = `
CREATE TABLE users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	email TEXT NOT NULL UNIQUE,
	name TEXT
);
CREATE TABLE posts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	content TEXT,
	published BOOLEAN NOT NULL DEFAULT 0,
	"authorId" INTEGER REFERENCES users (id)
);`

func newTestService(t *testing.T) (*service.Service, *sqliteBackend) {
	db, err := connectToDB(context.Background(), "sqlite://"+filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	_, err = db.Exec(demoTables)
	require.NoError(t, err)
	backend := newBackend(db, logger.NewTestLogger())
	t.Cleanup(func() { backend.Stop() })
	s, err := schema.Demo()
	require.NoError(t, err)
	return service.New(service.Config{Registry: s, Backend: backend, Logger: logger.NewTestLogger()}), backend
}

func count(t *testing.T, backend *sqliteBackend, table string) int {
	var n int
	require.NoError(t, backend.DB.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestNewBackend(t *testing.T) {
	ctx := context.Background()
	for _, scheme := range []string{"sqlite", "file"} {
		backend, err := internal.NewBackend(ctx, logger.NewTestLogger(), scheme+"://"+filepath.Join(t.TempDir(), "test.db"))
		require.NoError(t, err)
		txn, err := backend.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, txn.Rollback())
		require.NoError(t, backend.Stop())
		_, err = backend.Begin(ctx)
		assert.ErrorIs(t, err, internal.ErrBackendStopped)
	}
}

func TestGetDSNFromURL(t *testing.T) {
	dsn, err := getDSNFromURL("sqlite:///var/lib/entitydb/data.db")
	require.NoError(t, err)
	assert.Equal(t, "file:/var/lib/entitydb/data.db?_pragma=foreign_keys%281%29", dsn)

	dsn, err = getDSNFromURL("file:data.db")
	require.NoError(t, err)
	assert.Equal(t, "file:data.db?_pragma=foreign_keys%281%29", dsn)

	_, err = getDSNFromURL("sqlite://")
	assert.Error(t, err)
}

func TestQuoteIdentifier(t *testing.T) {
	assert.Equal(t, "users", quoteIdentifier("users"))
	assert.Equal(t, `"authorId"`, quoteIdentifier("authorId"))
	assert.Equal(t, `"key"`, quoteIdentifier("key"))
}

func TestCreateNested(t *testing.T) {
	svc, backend := newTestService(t)
	user, err := svc.Create(context.Background(), "User", service.CreateArgs{
		Data: map[string]any{
			"email": "u1@test.com",
			"posts": map[string]any{"create": []any{
				map[string]any{"title": "Post1", "content": "My first post"},
				map[string]any{"title": "Post2", "published": true},
			}},
		},
		Include: map[string]any{"posts": true},
	})
	require.NoError(t, err)
	id, _ := user.Get("id")
	assert.Equal(t, int64(1), id)
	val, _ := user.Get("posts")
	posts := val.([]*projection.Object)
	require.Len(t, posts, 2)
	published, _ := posts[0].Get("published")
	assert.Equal(t, false, published)
	published, _ = posts[1].Get("published")
	assert.Equal(t, true, published)
	author, _ := posts[1].Get("authorId")
	assert.Equal(t, int64(1), author)
	assert.Equal(t, 2, count(t, backend, "posts"))
}

func TestCreateConnectAndAuthor(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	post, err := svc.Create(ctx, "Post", service.CreateArgs{Data: map[string]any{"title": "Post3", "content": ""}})
	require.NoError(t, err)
	postID, _ := post.Get("id")

	user, err := svc.Create(ctx, "User", service.CreateArgs{
		Data:   map[string]any{"email": "u3@test.com", "posts": map[string]any{"connect": map[string]any{"id": postID}}},
		Select: map[string]any{"id": true, "posts": true},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "posts"}, user.Keys())

	post, err = svc.Create(ctx, "Post", service.CreateArgs{
		Data:    map[string]any{"title": "Post4", "author": map[string]any{"connect": map[string]any{"id": 1}}},
		Include: map[string]any{"author": true},
	})
	require.NoError(t, err)
	val, _ := post.Get("author")
	email, _ := val.(*projection.Object).Get("email")
	assert.Equal(t, "u3@test.com", email)
}

func TestDanglingConnectRollsBack(t *testing.T) {
	svc, backend := newTestService(t)
	_, err := svc.Create(context.Background(), "User", service.CreateArgs{
		Data: map[string]any{"email": "u3@test.com", "posts": map[string]any{"connect": map[string]any{"id": 99}}},
	})
	assert.True(t, internal.IsDanglingReferenceError(err))
	assert.Equal(t, 0, count(t, backend, "users"))
}

func TestForeignKeyViolation(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Create(context.Background(), "Post", service.CreateArgs{Data: map[string]any{"title": "Post1", "authorId": 42}})
	var dangling *internal.DanglingReferenceError
	require.ErrorAs(t, err, &dangling)
	assert.Equal(t, "User", dangling.Entity)
	assert.Equal(t, int64(42), dangling.Key)
}

func TestUniqueViolation(t *testing.T) {
	svc, backend := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, "User", service.CreateArgs{Data: map[string]any{"email": "a@test.com"}})
	require.NoError(t, err)

	_, err = svc.Create(ctx, "User", service.CreateArgs{Data: map[string]any{"email": "a@test.com"}})
	var unique *internal.UniqueConstraintError
	require.ErrorAs(t, err, &unique)
	assert.Equal(t, "email", unique.Field)
	assert.Equal(t, "a@test.com", unique.Value)

	_, err = svc.CreateMany(ctx, "User", service.CreateManyArgs{Data: []map[string]any{{"email": "b@test.com"}, {"email": "a@test.com"}}})
	require.ErrorAs(t, err, &unique)
	assert.Equal(t, "email", unique.Field)
	assert.Equal(t, 1, count(t, backend, "users"))
}

func TestCreateManySkipDuplicates(t *testing.T) {
	svc, backend := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, "User", service.CreateArgs{Data: map[string]any{"email": "a@test.com"}})
	require.NoError(t, err)

	rows, err := svc.CreateManyAndReturn(ctx, "User", service.CreateManyArgs{
		Data:           []map[string]any{{"email": "a@test.com"}, {"email": "b@test.com"}, {"email": "b@test.com"}, {"email": "c@test.com", "name": "C"}},
		SkipDuplicates: true,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	email, _ := rows[0].Get("email")
	assert.Equal(t, "b@test.com", email)
	name, _ := rows[1].Get("name")
	assert.Equal(t, "C", name)
	assert.Equal(t, 3, count(t, backend, "users"))

	result, err := svc.CreateMany(ctx, "User", service.CreateManyArgs{
		Data:           []map[string]any{{"email": "c@test.com"}, {"email": "d@test.com"}},
		SkipDuplicates: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Count)
}

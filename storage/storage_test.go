package storage_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/osr-alliance/backend-lead-intake/storage"
)

type Contact struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

const (
	contactGetByID    = "ContactGetByID"
	contactsGetAll    = "ContactsGetAll"
	contactGetByEmail = "ContactGetByEmail"
)

const (
	keyContact1    = "service:test|contact|id=1"
	keyContactsAll = "service:test|contact|all"
	keyContactsGen = keyContactsAll + "|gen"
)

// contactsAllAt is where the list of all contacts is cached for a generation
func contactsAllAt(gen int) string {
	return fmt.Sprintf("%s|gen=%d", keyContactsAll, gen)
}

// newContactTable builds a fresh table per test; storage.New parses into the Table and Query values
func newContactTable() *storage.Table {
	return &storage.Table{
		Struct:           Contact{},
		PrimaryQueryName: contactGetByID,
		PrimaryKeyField:  "id",
		InsertQuery:      `INSERT INTO contact (name, email) VALUES (:name, :email) RETURNING *`,
		Queries: []*storage.Query{
			{
				Name:         contactGetByID,
				CacheKey:     "id=%v",
				Query:        `SELECT id, name, email FROM contact WHERE id = :id`,
				InsertAction: storage.CacheSet,
				SelectAction: storage.CacheSet,
			},
			{
				Name:         contactsGetAll,
				CacheKey:     "all",
				Query:        `SELECT id, name, email FROM contact ORDER BY id`,
				InsertAction: storage.CacheDel,
				SelectAction: storage.CacheSet,
			},
			{
				Name:         contactGetByEmail,
				Query:        `SELECT id, name, email FROM contact WHERE email = :email`,
				InsertAction: storage.CacheNoAction,
				SelectAction: storage.CacheNoAction,
			},
		},
	}
}

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := sqlx.Connect("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	// every connection to :memory: is its own database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
		CREATE TABLE contact (
			id    INTEGER PRIMARY KEY AUTOINCREMENT,
			name  TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE
		)`)
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	return db
}

func newTestConfig(db *sqlx.DB, rdb *redis.Client) *storage.Config {
	log := logrus.New()
	log.SetLevel(logrus.DebugLevel)

	return &storage.Config{
		ReadOnlyDbConn:  db,
		WriteOnlyDbConn: db,
		Redis:           rdb,
		Tables:          []*storage.Table{newContactTable()},
		ServiceName:     "test",
		Debugger:        true,
		Logger:          log,
	}
}

func newTestStorage(t *testing.T) (storage.Storage, *sqlx.DB, *miniredis.Miniredis) {
	t.Helper()

	db := newTestDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s, err := storage.New(newTestConfig(db, rdb))
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	return s, db, mr
}

func TestNew_Validation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *storage.Config)
		want   string
	}{
		{"no service name", func(c *storage.Config) { c.ServiceName = "" }, "serviceName must be set"},
		{"service name with pipe", func(c *storage.Config) { c.ServiceName = "a|b" }, "must not contain"},
		{"no struct", func(c *storage.Config) { c.Tables[0].Struct = nil }, "Struct must be set"},
		{"insert without returning", func(c *storage.Config) {
			c.Tables[0].InsertQuery = `INSERT INTO contact (name, email) VALUES (:name, :email)`
		}, "returning *"},
		{"unknown primary key", func(c *storage.Config) { c.Tables[0].PrimaryKeyField = "contact_id" }, "not a column"},
		{"primary query not registered", func(c *storage.Config) { c.Tables[0].PrimaryQueryName = "Nope" }, "PrimaryQueryName"},
		{"cache key field not a column", func(c *storage.Config) { c.Tables[0].Queries[0].CacheKey = "contact_id=%v" }, "not a column"},
		{"malformed cache key", func(c *storage.Config) { c.Tables[0].Queries[0].CacheKey = "id:%v" }, "invalid CacheKey"},
		{"cache action without key", func(c *storage.Config) { c.Tables[0].Queries[1].CacheKey = "" }, "CacheKey is required"},
		{"duplicate query name", func(c *storage.Config) { c.Tables[0].Queries[2].Name = contactGetByID }, "registered twice"},
		{"delete on select", func(c *storage.Config) { c.Tables[0].Queries[0].SelectAction = storage.CacheDel }, "SelectAction"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conf := newTestConfig(newTestDB(t), nil)
			tc.mutate(conf)

			_, err := storage.New(conf)
			if err == nil {
				t.Fatalf("expected error containing %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error = %q, want it to contain %q", err.Error(), tc.want)
			}
		})
	}
}

func TestNew_ValidateQueries(t *testing.T) {
	db := newTestDB(t)

	conf := newTestConfig(db, nil)
	conf.ValidateQueries = true
	if _, err := storage.New(conf); err != nil {
		t.Fatalf("valid queries rejected: %v", err)
	}

	conf = newTestConfig(db, nil)
	conf.ValidateQueries = true
	conf.Tables[0].Queries[2].Query = `SELECT nope FROM contact WHERE email = :email`
	_, err := storage.New(conf)
	if err == nil || !strings.Contains(err.Error(), contactGetByEmail) {
		t.Fatalf("expected EXPLAIN failure for %s, got %v", contactGetByEmail, err)
	}
}

func TestInsert_FillsReturnedRow(t *testing.T) {
	s, _, _ := newTestStorage(t)
	ctx := context.Background()

	a := &Contact{Name: "Ann", Email: "ann@x.com"}
	if err := s.Insert(ctx, a); err != nil {
		t.Fatalf("insert: %v", err)
	}
	b := &Contact{Name: "Bob", Email: "bob@x.com"}
	if err := s.Insert(ctx, b); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if a.ID != 1 || b.ID != 2 {
		t.Fatalf("ids = %d, %d, want 1, 2", a.ID, b.ID)
	}
	if b.Name != "Bob" || b.Email != "bob@x.com" {
		t.Fatalf("unexpected row: %+v", b)
	}
}

func TestInsert_DuplicateKey(t *testing.T) {
	s, _, mr := newTestStorage(t)
	ctx := context.Background()

	if err := s.Insert(ctx, &Contact{Name: "Ann", Email: "dup@x.com"}); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	err := s.Insert(ctx, &Contact{Name: "Ann again", Email: "dup@x.com"})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}

	var se *storage.Error
	if !errors.As(err, &se) {
		t.Fatalf("expected *storage.Error, got %T", err)
	}
	// the driver's message is passed through unchanged
	if !strings.Contains(err.Error(), "UNIQUE constraint failed: contact.email") {
		t.Fatalf("error = %q", err.Error())
	}

	if mr.Exists("service:test|contact|id=2") {
		t.Fatal("failed insert must not write to the cache")
	}
}

func TestSelect_NotFound(t *testing.T) {
	s, _, _ := newTestStorage(t)

	err := s.Select(context.Background(), &Contact{ID: 42}, contactGetByID)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSelect_UnknownQuery(t *testing.T) {
	s, _, _ := newTestStorage(t)

	err := s.Select(context.Background(), &Contact{ID: 1}, "Nope")
	if err == nil || !strings.Contains(err.Error(), "Nope") {
		t.Fatalf("expected unknown query error, got %v", err)
	}
}

func TestSelect_ReadsThroughCache(t *testing.T) {
	s, db, mr := newTestStorage(t)
	ctx := context.Background()

	if err := s.Insert(ctx, &Contact{Name: "Ann", Email: "ann@x.com"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !mr.Exists(keyContact1) {
		t.Fatalf("insert should have cached %s; keys: %v", keyContact1, mr.Keys())
	}

	// change the row behind the cache's back; the cached copy wins
	if _, err := db.Exec(`UPDATE contact SET name = 'Changed' WHERE id = 1`); err != nil {
		t.Fatalf("update: %v", err)
	}

	got := &Contact{ID: 1}
	if err := s.Select(ctx, got, contactGetByID); err != nil {
		t.Fatalf("select: %v", err)
	}
	if got.Name != "Ann" {
		t.Fatalf("name = %q, want cached %q", got.Name, "Ann")
	}

	if err := s.DeleteKeys(ctx, got); err != nil {
		t.Fatalf("delete keys: %v", err)
	}
	got = &Contact{ID: 1}
	if err := s.Select(ctx, got, contactGetByID); err != nil {
		t.Fatalf("select: %v", err)
	}
	if got.Name != "Changed" {
		t.Fatalf("name = %q, want %q after DeleteKeys", got.Name, "Changed")
	}
}

func TestSelect_NoCacheAction(t *testing.T) {
	s, _, mr := newTestStorage(t)
	ctx := context.Background()

	if err := s.Insert(ctx, &Contact{Name: "Ann", Email: "ann@x.com"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got := &Contact{Email: "ann@x.com"}
	if err := s.Select(ctx, got, contactGetByEmail); err != nil {
		t.Fatalf("select: %v", err)
	}
	if got.ID != 1 || got.Name != "Ann" {
		t.Fatalf("unexpected row: %+v", got)
	}
	for _, k := range mr.Keys() {
		if strings.Contains(k, "email") {
			t.Fatalf("query without cache action wrote %s", k)
		}
	}
}

func TestSelectAll_EmptyIsNonNil(t *testing.T) {
	s, _, _ := newTestStorage(t)

	var contacts []Contact
	if err := s.SelectAll(context.Background(), &Contact{}, &contacts, contactsGetAll); err != nil {
		t.Fatalf("select all: %v", err)
	}
	if contacts == nil || len(contacts) != 0 {
		t.Fatalf("contacts = %#v, want empty non-nil slice", contacts)
	}
}

func TestSelectAll_InsertInvalidatesList(t *testing.T) {
	s, _, mr := newTestStorage(t)
	ctx := context.Background()

	if err := s.Insert(ctx, &Contact{Name: "Ann", Email: "ann@x.com"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	contacts := []Contact{}
	if err := s.SelectAll(ctx, &Contact{}, &contacts, contactsGetAll); err != nil {
		t.Fatalf("select all: %v", err)
	}
	if len(contacts) != 1 {
		t.Fatalf("len = %d, want 1", len(contacts))
	}
	// Ann's insert bumped the list to generation 1
	if !mr.Exists(contactsAllAt(1)) {
		t.Fatalf("list not cached; keys: %v", mr.Keys())
	}

	// served from the cache this time
	cached := []Contact{}
	if err := s.SelectAll(ctx, &Contact{}, &cached, contactsGetAll); err != nil {
		t.Fatalf("select all: %v", err)
	}
	if len(cached) != 1 || cached[0] != contacts[0] {
		t.Fatalf("cached = %+v, want %+v", cached, contacts)
	}

	if err := s.Insert(ctx, &Contact{Name: "Bob", Email: "bob@x.com"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if gen, err := mr.Get(keyContactsGen); err != nil || gen != "2" {
		t.Fatalf("insert should have bumped the list generation; gen = %q, err = %v", gen, err)
	}

	contacts = []Contact{}
	if err := s.SelectAll(ctx, &Contact{}, &contacts, contactsGetAll); err != nil {
		t.Fatalf("select all: %v", err)
	}
	if len(contacts) != 2 || contacts[1].Name != "Bob" {
		t.Fatalf("contacts = %+v", contacts)
	}
}

func TestSelectAll_DestMustBeSlicePointer(t *testing.T) {
	s, _, _ := newTestStorage(t)

	var c Contact
	err := s.SelectAll(context.Background(), &Contact{}, &c, contactsGetAll)
	if err == nil {
		t.Fatal("expected error for non-slice dest")
	}
}

func TestTx_RollbackWritesNothing(t *testing.T) {
	s, _, mr := newTestStorage(t)
	ctx := context.Background()

	tx, err := s.TXBegin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	c := &Contact{Name: "Ann", Email: "ann@x.com"}
	if err := tx.TXInsert(ctx, c); err != nil {
		t.Fatalf("tx insert: %v", err)
	}
	if c.ID == 0 {
		t.Fatal("expected id from RETURNING inside the transaction")
	}

	// visible inside the transaction
	inTx := &Contact{Email: "ann@x.com"}
	if err := tx.TxSelect(ctx, inTx, contactGetByEmail); err != nil {
		t.Fatalf("tx select: %v", err)
	}

	if err := tx.TXRollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	// a second rollback is a no-op
	if err := tx.TXRollback(ctx); err != nil {
		t.Fatalf("second rollback: %v", err)
	}

	contacts := []Contact{}
	if err := s.SelectAll(ctx, &Contact{}, &contacts, contactsGetAll); err != nil {
		t.Fatalf("select all: %v", err)
	}
	if len(contacts) != 0 {
		t.Fatalf("rolled back row visible: %+v", contacts)
	}
	if mr.Exists(keyContact1) {
		t.Fatal("rolled back row cached")
	}
}

func TestTx_EndCommitsAndCaches(t *testing.T) {
	s, _, mr := newTestStorage(t)
	ctx := context.Background()

	tx, err := s.TXBegin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	c := &Contact{Name: "Ann", Email: "ann@x.com"}
	if err := tx.TXInsert(ctx, c); err != nil {
		t.Fatalf("tx insert: %v", err)
	}
	if mr.Exists(keyContact1) {
		t.Fatal("cache written before commit")
	}

	// caller changes after TXInsert don't reach the cache
	c.Name = "Mutated"

	if err := tx.TXEnd(ctx); err != nil {
		t.Fatalf("end: %v", err)
	}

	cached, err := mr.Get(keyContact1)
	if err != nil {
		t.Fatalf("cached row missing: %v", err)
	}
	if !strings.Contains(cached, `"name":"Ann"`) {
		t.Fatalf("cached = %s", cached)
	}
}

func TestCacheDown_FallsBackToDB(t *testing.T) {
	s, _, mr := newTestStorage(t)
	ctx := context.Background()

	mr.Close()

	c := &Contact{Name: "Ann", Email: "ann@x.com"}
	if err := s.Insert(ctx, c); err != nil {
		t.Fatalf("insert must succeed once committed, got %v", err)
	}

	got := &Contact{ID: c.ID}
	if err := s.Select(ctx, got, contactGetByID); err != nil {
		t.Fatalf("select: %v", err)
	}
	if got.Email != "ann@x.com" {
		t.Fatalf("unexpected row: %+v", got)
	}
}

func TestNoRedis(t *testing.T) {
	db := newTestDB(t)
	s, err := storage.New(newTestConfig(db, nil))
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	ctx := context.Background()

	if err := s.Insert(ctx, &Contact{Name: "Ann", Email: "ann@x.com"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	contacts := []Contact{}
	if err := s.SelectAll(ctx, &Contact{}, &contacts, contactsGetAll); err != nil {
		t.Fatalf("select all: %v", err)
	}
	if len(contacts) != 1 {
		t.Fatalf("len = %d, want 1", len(contacts))
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("clear without redis: %v", err)
	}
}

func TestClear_OnlyThisService(t *testing.T) {
	s, _, mr := newTestStorage(t)
	ctx := context.Background()

	if err := s.Insert(ctx, &Contact{Name: "Ann", Email: "ann@x.com"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := mr.Set("service:other|contact|id=1", "{}"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}

	if mr.Exists(keyContact1) {
		t.Fatal("this service's key survived Clear")
	}
	if !mr.Exists("service:other|contact|id=1") {
		t.Fatal("Clear removed another service's key")
	}
}

func TestSelectAll_LateListWriteIsNotServed(t *testing.T) {
	s, _, mr := newTestStorage(t)
	ctx := context.Background()

	contacts := []Contact{}
	if err := s.SelectAll(ctx, &Contact{}, &contacts, contactsGetAll); err != nil {
		t.Fatalf("select all: %v", err)
	}
	if !mr.Exists(contactsAllAt(0)) {
		t.Fatalf("list not cached; keys: %v", mr.Keys())
	}

	if err := s.Insert(ctx, &Contact{Name: "Ann", Email: "ann@x.com"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// a reader that queried the db before the insert committed stores its empty list afterwards
	if err := mr.Set(contactsAllAt(0), "[]"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	contacts = []Contact{}
	if err := s.SelectAll(ctx, &Contact{}, &contacts, contactsGetAll); err != nil {
		t.Fatalf("select all: %v", err)
	}
	if len(contacts) != 1 || contacts[0].Name != "Ann" {
		t.Fatalf("contacts = %+v, want the committed row", contacts)
	}
}

// newFileDB is a WAL database so a reader's snapshot and a writer can be open at once
func newFileDB(t *testing.T) *sqlx.DB {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "contacts.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.SetMaxOpenConns(2)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
		CREATE TABLE contact (
			id    INTEGER PRIMARY KEY AUTOINCREMENT,
			name  TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE
		)`)
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	return db
}

func TestTx_SnapshotReadsDoNotReachCache(t *testing.T) {
	db := newFileDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s, err := storage.New(newTestConfig(db, rdb))
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	ctx := context.Background()

	reader, err := s.TXBegin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer reader.TXRollback(ctx)

	// the first read pins the reader's snapshot
	before := []Contact{}
	if err := reader.TxSelectAll(ctx, &Contact{}, &before, contactsGetAll); err != nil {
		t.Fatalf("tx select all: %v", err)
	}

	if err := s.Insert(ctx, &Contact{Name: "Ann", Email: "ann@x.com"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	stale := []Contact{}
	if err := reader.TxSelectAll(ctx, &Contact{}, &stale, contactsGetAll); err != nil {
		t.Fatalf("tx select all: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("snapshot saw %d rows, want 0", len(stale))
	}
	for _, k := range mr.Keys() {
		if strings.HasPrefix(k, keyContactsAll+"|gen=") {
			t.Fatalf("tx read wrote %s to the cache", k)
		}
	}

	contacts := []Contact{}
	if err := s.SelectAll(ctx, &Contact{}, &contacts, contactsGetAll); err != nil {
		t.Fatalf("select all: %v", err)
	}
	if len(contacts) != 1 {
		t.Fatalf("listed %d contacts after a committed insert, want 1", len(contacts))
	}
}

func TestDoNotUseCache(t *testing.T) {
	db := newTestDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	conf := newTestConfig(db, rdb)
	conf.DoNotUseCache = true
	s, err := storage.New(conf)
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	ctx := context.Background()

	c := &Contact{Name: "Ann", Email: "ann@x.com"}
	if err := s.Insert(ctx, c); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.Select(ctx, &Contact{ID: c.ID}, contactGetByID); err != nil {
		t.Fatalf("select: %v", err)
	}
	contacts := []Contact{}
	if err := s.SelectAll(ctx, &Contact{}, &contacts, contactsGetAll); err != nil {
		t.Fatalf("select all: %v", err)
	}

	if keys := mr.Keys(); len(keys) != 0 {
		t.Fatalf("cache written with DoNotUseCache: %v", keys)
	}
}

package migrate

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"tenantgate.io/migrations"
)

var fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"sql/0001_a.up.sql":   {Data: []byte("create table a (id text); -- trailing; comment\ninsert into a values ('x;y');")},
		"sql/0001_a.down.sql": {Data: []byte("drop table a;")},
		"sql/0002_b.up.sql":   {Data: []byte("create table b (id text);")},
		"seeds/0001_s.sql":    {Data: []byte("insert into a values ('seed');")},
	}
}

func expectEnsure(mock sqlmock.Sqlmock) {
	mock.ExpectExec(`create table if not exists schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`create table if not exists schema_seeds`).WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestUpAppliesPendingInOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectEnsure(mock)
	mock.ExpectQuery(`select name from schema_migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(`create table b`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`insert into schema_migrations`).
		WithArgs("0002_b.up.sql", fixedNow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	m := NewManager(db, testFS(), "sql", "seeds", WithClock(func() time.Time { return fixedNow }))
	applied, err := m.Up(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"0002_b.up.sql"}, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpRollsBackFailedMigration(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectEnsure(mock)
	mock.ExpectQuery(`select name from schema_migrations`).WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec(`create table a`).WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	m := NewManager(db, testFS(), "sql", "")
	applied, err := m.Up(context.Background())
	require.ErrorContains(t, err, "0001_a.up.sql")
	require.Empty(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDownRevertsLatest(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectEnsure(mock)
	mock.ExpectQuery(`select name from schema_migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(`drop table a`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`delete from schema_migrations where name = \$1`).
		WithArgs("0001_a.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	m := NewManager(db, testFS(), "sql", "seeds")
	name, err := m.Down(context.Background())
	require.NoError(t, err)
	require.Equal(t, "0001_a.up.sql", name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDownWithNothingApplied(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectEnsure(mock)
	mock.ExpectQuery(`select name from schema_migrations`).WillReturnRows(sqlmock.NewRows([]string{"name"}))

	_, err = NewManager(db, testFS(), "sql", "seeds").Down(context.Background())
	require.ErrorIs(t, err, ErrNothingApplied)
}

func TestSeedAndPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectEnsure(mock)
	mock.ExpectQuery(`select name from schema_seeds`).WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec(`insert into a values`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`insert into schema_seeds`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	expectEnsure(mock)
	mock.ExpectQuery(`select name from schema_migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))

	m := NewManager(db, testFS(), "sql", "seeds")
	seeded, err := m.Seed(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"0001_s.sql"}, seeded)

	pending, err := m.Pending(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"0002_b.up.sql"}, pending)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("select ';'; -- note; here\nselect 2;")
	require.Len(t, stmts, 2)
	require.Equal(t, "select ';';", stmts[0])
	require.Contains(t, stmts[1], "select 2;")
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	files, err := collectSQL(migrations.FS, migrations.SQLDir, ".up.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files)
	downs, err := collectSQL(migrations.FS, migrations.SQLDir, ".down.sql")
	require.NoError(t, err)
	require.Len(t, downs, len(files))

	seeds, err := collectSQL(migrations.FS, migrations.SeedsDir, ".sql")
	require.NoError(t, err)
	require.NotEmpty(t, seeds)
}

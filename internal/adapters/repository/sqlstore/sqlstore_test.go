package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/okian/backr/internal/adapters/repository"
	"github.com/okian/backr/internal/adapters/repository/storetest"
	"github.com/okian/backr/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

func openSQLite(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(context.Background(), DriverSQLite, path, WithPollInterval(0))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return s
}

func TestSQLiteStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) repository.Store {
		return openSQLite(t, filepath.Join(t.TempDir(), "backr.db"))
	})
}

func TestPostgresStoreContract(t *testing.T) {
	dsn := os.Getenv("BACKR_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("BACKR_TEST_POSTGRES_DSN not set")
	}
	storetest.Run(t, func(t *testing.T) repository.Store {
		s, err := Open(context.Background(), DriverPostgres, dsn, WithPollInterval(0))
		if err != nil {
			t.Fatalf("open postgres: %v", err)
		}
		if _, err := s.db.Exec("DELETE FROM documents"); err != nil {
			t.Fatalf("reset documents: %v", err)
		}
		return s
	})
}

func TestSQLiteReopen(t *testing.T) {
	Convey("Given a SQLite file with documents", t, func() {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "backr.db")
		s := openSQLite(t, path)
		_, _, err := s.Create(ctx, repository.CollectionEvents, "ev-1", map[string]any{"title": "Final", "quota": 2})
		So(err, ShouldBeNil)
		So(s.Close(), ShouldBeNil)

		Convey("When it is opened again", func() {
			reopened := openSQLite(t, path)
			Reset(func() { _ = reopened.Close() })

			Convey("Then migrations are not re-applied and data is intact", func() {
				var applied int
				So(reopened.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&applied), ShouldBeNil)
				So(applied, ShouldEqual, 1)

				doc, err := reopened.Get(ctx, repository.CollectionEvents, "ev-1")
				So(err, ShouldBeNil)
				So(doc.Int("quota"), ShouldEqual, 2)
			})
		})
	})
}

func TestOpenErrors(t *testing.T) {
	Convey("Given bad open arguments", t, func() {
		_, err := Open(context.Background(), "mysql", "x")
		So(errors.Is(err, ErrUnknownDriver), ShouldBeTrue)

		_, err = Open(context.Background(), DriverSQLite, " ")
		So(errors.Is(err, ErrMissingDSN), ShouldBeTrue)
	})
}

func TestDialect(t *testing.T) {
	Convey("Given the dialects", t, func() {
		Convey("When rebinding placeholders", func() {
			q := "SELECT 1 FROM documents WHERE collection = ? AND id = ?"
			So(dialects[DriverSQLite].rebind(q), ShouldEqual, q)
			So(dialects[DriverPostgres].rebind(q), ShouldEqual, "SELECT 1 FROM documents WHERE collection = $1 AND id = $2")
		})

		Convey("When extracting the up section", func() {
			up := extractUpMigration("-- +migrate Up\nCREATE TABLE t (x INT);\n-- +migrate Down\nDROP TABLE t;\n")
			So(up, ShouldContainSubstring, "CREATE TABLE t")
			So(up, ShouldNotContainSubstring, "DROP TABLE")
			So(extractUpMigration("SELECT 1;"), ShouldEqual, "SELECT 1;")
		})

		Convey("When building a SQLite dsn", func() {
			So(sqliteDSN("/tmp/x.db"), ShouldStartWith, "/tmp/x.db?_pragma=busy_timeout(5000)")
			So(sqliteDSN("file:x.db?mode=memory"), ShouldEqual, "file:x.db?mode=memory")
		})

		Convey("When classifying errors", func() {
			So(isPostgresUniqueViolation(sql.ErrNoRows), ShouldBeFalse)
			So(isSQLiteUniqueViolation(errors.New("UNIQUE constraint failed: documents.collection, documents.id")), ShouldBeTrue)
		})
	})
}

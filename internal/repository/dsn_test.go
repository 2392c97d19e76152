package repository

import (
	"net/url"
	"strings"
	"testing"

	"github.com/opensource-finance/fiscal/internal/domain"
)

func TestSQLiteDSN(t *testing.T) {
	dsn := sqliteDSN("/var/lib/fiscal/fiscal.db")
	if !strings.HasPrefix(dsn, "file:/var/lib/fiscal/fiscal.db?") {
		t.Fatalf("unexpected dsn %q", dsn)
	}

	q, err := url.ParseQuery(dsn[strings.Index(dsn, "?")+1:])
	if err != nil {
		t.Fatalf("dsn query does not parse: %v", err)
	}
	got := q["_pragma"]
	if len(got) != len(sqlitePragmas) {
		t.Fatalf("expected %d pragmas, got %v", len(sqlitePragmas), got)
	}
	for i, p := range sqlitePragmas {
		if got[i] != p {
			t.Errorf("pragma %d: expected %q, got %q", i, p, got[i])
		}
	}
}

func TestPostgresDSN(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		got := postgresDSN(domain.RepositoryConfig{})
		want := "postgres://localhost:5432/fiscal?sslmode=disable"
		if got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	})

	t.Run("credentials are escaped", func(t *testing.T) {
		dsn := postgresDSN(domain.RepositoryConfig{
			PostgresHost:     "db.internal",
			PostgresPort:     6432,
			PostgresUser:     "fiscal",
			PostgresPassword: "p@ss w/rd",
			PostgresDB:       "ledger",
			PostgresSSLMode:  "require",
		})

		u, err := url.Parse(dsn)
		if err != nil {
			t.Fatalf("dsn does not parse: %v", err)
		}
		if pw, _ := u.User.Password(); pw != "p@ss w/rd" {
			t.Errorf("password did not round trip, got %q", pw)
		}
		if u.Host != "db.internal:6432" || u.Path != "/ledger" {
			t.Errorf("unexpected target %s%s", u.Host, u.Path)
		}
		if u.Query().Get("sslmode") != "require" {
			t.Errorf("expected sslmode=require, got %q", u.Query().Get("sslmode"))
		}
	})
}

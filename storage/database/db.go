package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/trezcool/goose"

	"github.com/trezcool/academy/core"
	appfs "github.com/trezcool/academy/fs"
)

// MigrationsDir is the directory of the migrations in appfs.FS.
const MigrationsDir = "migrations"

// open connects to dbName, as the admin role when admin is set and one is configured.
func open(dbName string, admin bool, conf *core.Config) (*sql.DB, error) {
	user := url.UserPassword(conf.Database.User, conf.Database.Password)
	if admin && conf.Database.AdminUser != "" {
		user = url.UserPassword(conf.Database.AdminUser, conf.Database.AdminPassword)
	}

	q := url.Values{"sslmode": {"require"}, "timezone": {"utc"}}
	if conf.Database.DisableTLS {
		q.Set("sslmode", "disable")
	}

	u := url.URL{
		Scheme:   conf.Database.Engine,
		User:     user,
		Host:     conf.Database.Address(),
		Path:     dbName,
		RawQuery: q.Encode(),
	}
	return sql.Open(conf.Database.Engine, u.String())
}

// Open opens the application database as the app user.
func Open(conf *core.Config) (*sql.DB, error) {
	return open(conf.Database.Name, false, conf)
}

// Sqlx wraps db for the sqlx repositories.
func Sqlx(db *sql.DB, conf *core.Config) *sqlx.DB {
	return sqlx.NewDb(db, conf.Database.Engine)
}

// StatusCheck returns nil if the database is reachable.
func StatusCheck(ctx context.Context, db *sql.DB) error {
	var ok bool
	return db.QueryRowContext(ctx, "SELECT true").Scan(&ok)
}

// waitReady pings db until it answers, backing off 100ms more after each failed attempt.
func waitReady(ctx context.Context, db *sql.DB, attempts int) error {
	var err error
	for n := 1; n <= attempts; n++ {
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "waiting for the database")
		case <-time.After(time.Duration(n) * 100 * time.Millisecond):
		}
	}
	return errors.Wrapf(err, "database not ready after %d attempts", attempts)
}

// exists runs a `SELECT true ... WHERE x = $1` query.
func exists(ctx context.Context, db *sql.DB, q string, arg string) (bool, error) {
	var found bool
	err := db.QueryRowContext(ctx, q, arg).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return found, err
}

// ensureAppRole creates the login role the API connects with.
func ensureAppRole(ctx context.Context, db *sql.DB, conf *core.Config) error {
	if conf.Database.User == "" {
		return nil
	}
	found, err := exists(ctx, db, "SELECT true FROM pg_roles WHERE rolname = $1", conf.Database.User)
	if err != nil || found {
		return errors.Wrap(err, "looking up app role")
	}
	q := fmt.Sprintf("CREATE ROLE %s LOGIN CREATEDB PASSWORD %s",
		pq.QuoteIdentifier(conf.Database.User), pq.QuoteLiteral(conf.Database.Password))
	_, err = db.ExecContext(ctx, q)
	return errors.Wrap(err, "creating app role")
}

// ensureDatabase creates the training database, owned by the connected role.
func ensureDatabase(ctx context.Context, db *sql.DB, conf *core.Config) error {
	found, err := exists(ctx, db, "SELECT true FROM pg_database WHERE datname = $1", conf.Database.Name)
	if err != nil || found {
		return errors.Wrap(err, "looking up database")
	}
	_, err = db.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(conf.Database.Name))
	return errors.Wrap(err, "creating database")
}

// CreateIfNotExist prepares a fresh Postgres server: the app role (as admin), then the database
// (as the app role, so that it owns it).
func CreateIfNotExist(conf *core.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	adminDB, err := open("postgres", true, conf)
	if err != nil {
		return errors.Wrap(err, "connecting as admin")
	}
	defer func() { _ = adminDB.Close() }()
	if err = waitReady(ctx, adminDB, 30); err != nil {
		return err
	}
	if err = ensureAppRole(ctx, adminDB, conf); err != nil {
		return err
	}

	appDB, err := open("postgres", false, conf)
	if err != nil {
		return errors.Wrap(err, "connecting as app role")
	}
	defer func() { _ = appDB.Close() }()
	return ensureDatabase(ctx, appDB, conf)
}

// Migrate runs the goose command (up, down, status, redo...) on the embedded migrations.
func Migrate(db *sql.DB, command string, args ...string) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Wrap(err, "setting migrations dialect")
	}
	if err := goose.RunFS(command, db, appfs.FS, MigrationsDir, args...); err != nil {
		return errors.Wrapf(err, "migrating database (%s)", command)
	}
	return nil
}

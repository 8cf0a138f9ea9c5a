package pgstore

import (
	"context"
	"embed"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrymomot/notifykit/pkg/delivery"
)

// Migrations holds the goose migrations for the store's schema.
// Apply them with pg.Migrate(ctx, pool, pgstore.Migrations, MigrationsDir, cfg, log).
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations.
const MigrationsDir = "migrations"

// DB is the subset of *pgxpool.Pool (and pgx.Tx) the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements every delivery storage interface on PostgreSQL.
// Claims rely on the version column; rate windows and dedup keys rely on
// single-statement upserts, so any number of dispatcher processes may share it.
type Store struct {
	db          DB
	sb          squirrel.StatementBuilderType
	selectLease time.Duration
}

// DefaultSelectLease is how long a selected batch stays hidden from other
// dispatchers unless its records are moved first.
const DefaultSelectLease = time.Minute

// Option configures a Store.
type Option func(*Store)

// WithSelectLease sets how long ListDue hides selected records from other
// callers. It should cover a full poll cycle.
func WithSelectLease(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.selectLease = d
		}
	}
}

// New creates a store over db.
func New(db DB, opts ...Option) *Store {
	s := &Store{
		db:          db,
		sb:          squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		selectLease: DefaultSelectLease,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stores returns the store as a delivery.Stores bundle.
func (s *Store) Stores() delivery.Stores {
	return delivery.Stores{
		Notifications: s,
		Events:        s,
		Preferences:   s,
		Windows:       s,
		Dedup:         s,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

var (
	_ delivery.NotificationStore = (*Store)(nil)
	_ delivery.EventStore        = (*Store)(nil)
	_ delivery.PreferenceStore   = (*Store)(nil)
	_ delivery.OptOutWriter      = (*Store)(nil)
	_ delivery.WindowStore       = (*Store)(nil)
	_ delivery.DedupStore        = (*Store)(nil)
	_ delivery.Directory         = (*Directory)(nil)
)

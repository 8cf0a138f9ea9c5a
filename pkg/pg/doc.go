// Package pg bootstraps PostgreSQL access on top of pgx/v5.
//
// Connect opens a *pgxpool.Pool from Config (populated from PG_* environment
// variables) and retries until the server answers a ping. Migrate applies
// goose migrations from an fs.FS, usually an embed.FS owned by the package
// that defines the schema:
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, pgstore.Migrations, "migrations", cfg, log); err != nil {
//	    return err
//	}
//
// Healthcheck returns a check function for readiness endpoints. The Is* helpers
// classify *pgconn.PgError values by SQLSTATE.
package pg

package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"transitopt/internal/model"
)

//go:embed migrations/*.sql
var migrations embed.FS

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// pgForeignKeyViolation is the SQLSTATE for foreign_key_violation.
const pgForeignKeyViolation = "23503"

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// Migrate applies the embedded schema files in name order. Every statement
// is idempotent, so it is safe on each start.
func (p *Postgres) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		body, err := migrations.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := p.db.ExecContext(ctx, string(body)); err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
	}
	return nil
}

func (p *Postgres) CreateStop(ctx context.Context, s model.Stop) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO stops (id, name, lat, lon, base_demand, current_density) VALUES ($1,$2,$3,$4,$5,$6)`,
		int64(s.ID), s.Name, s.Position.Lat, s.Position.Lon, s.BaseDemand, s.CurrentDensity)
	if isPgCode(err, pgUniqueViolation) {
		return fmt.Errorf("create stop %d: %w", s.ID, model.ErrDuplicateStop)
	}
	return err
}

func (p *Postgres) ListStops(ctx context.Context) ([]model.Stop, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, name, lat, lon, base_demand, current_density FROM stops ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Stop{}
	for rows.Next() {
		var s model.Stop
		var id int64
		if err := rows.Scan(&id, &s.Name, &s.Position.Lat, &s.Position.Lon, &s.BaseDemand, &s.CurrentDensity); err != nil {
			return nil, err
		}
		s.ID = model.StopID(id)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateStopDemand(ctx context.Context, id model.StopID, value float64) error {
	return p.updateStop(ctx, `UPDATE stops SET base_demand=$2, updated_at=now() WHERE id=$1`, id, value)
}

func (p *Postgres) UpdateStopDensity(ctx context.Context, id model.StopID, value float64) error {
	return p.updateStop(ctx, `UPDATE stops SET current_density=$2, updated_at=now() WHERE id=$1`, id, value)
}

func (p *Postgres) updateStop(ctx context.Context, q string, id model.StopID, value float64) error {
	res, err := p.db.ExecContext(ctx, q, int64(id), value)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("stop %d: %w", id, model.ErrUnknownStop)
	}
	return nil
}

func (p *Postgres) UpsertConnection(ctx context.Context, c model.Connection) error {
	c = normalizePair(c)
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO connections (stop_a, stop_b, weight) VALUES ($1,$2,$3)
		 ON CONFLICT (stop_a, stop_b) DO UPDATE SET weight = EXCLUDED.weight`,
		int64(c.A), int64(c.B), c.Weight)
	if isPgCode(err, pgForeignKeyViolation) {
		return fmt.Errorf("connection %d-%d: %w", c.A, c.B, model.ErrUnknownStop)
	}
	return err
}

func (p *Postgres) ListConnections(ctx context.Context) ([]model.Connection, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT stop_a, stop_b, weight FROM connections ORDER BY stop_a, stop_b`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Connection{}
	for rows.Next() {
		var a, b int64
		var c model.Connection
		if err := rows.Scan(&a, &b, &c.Weight); err != nil {
			return nil, err
		}
		c.A, c.B = model.StopID(a), model.StopID(b)
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateRoute inserts the route and its ordered stops in one transaction.
func (p *Postgres) CreateRoute(ctx context.Context, r model.CandidateRoute) (model.CandidateRoute, error) {
	id := uuid.New()
	if r.ID != "" {
		parsed, err := uuid.Parse(r.ID)
		if err != nil {
			return model.CandidateRoute{}, fmt.Errorf("route id %q: %w", r.ID, model.ErrInvalidInput)
		}
		id = parsed
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return model.CandidateRoute{}, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO candidate_routes (id, name, total_distance, estimated_time, active) VALUES ($1,$2,$3,$4,$5)`,
		id, r.Name, r.TotalDistance, r.EstimatedTime, r.Active)
	if isPgCode(err, pgUniqueViolation) {
		return model.CandidateRoute{}, fmt.Errorf("create route %s: %w", id, ErrConflict)
	}
	if err != nil {
		return model.CandidateRoute{}, err
	}
	for pos, sid := range r.Stops {
		_, err = tx.ExecContext(ctx, `INSERT INTO route_stops (route_id, position, stop_id) VALUES ($1,$2,$3)`, id, pos, int64(sid))
		if isPgCode(err, pgForeignKeyViolation) {
			return model.CandidateRoute{}, fmt.Errorf("route stop %d: %w", sid, model.ErrUnknownStop)
		}
		if err != nil {
			return model.CandidateRoute{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return model.CandidateRoute{}, err
	}
	r.ID = id.String()
	return r, nil
}

func (p *Postgres) GetRoute(ctx context.Context, id string) (model.CandidateRoute, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.CandidateRoute{}, ErrNotFound
	}
	routes, err := p.queryRoutes(ctx, `WHERE r.id = $1`, id)
	if err != nil {
		return model.CandidateRoute{}, err
	}
	if len(routes) == 0 {
		return model.CandidateRoute{}, ErrNotFound
	}
	return routes[0], nil
}

func (p *Postgres) ListRoutes(ctx context.Context, activeOnly bool) ([]model.CandidateRoute, error) {
	if activeOnly {
		return p.queryRoutes(ctx, `WHERE r.active`)
	}
	return p.queryRoutes(ctx, ``)
}

// queryRoutes joins routes with their stops and folds rows into routes in seq order.
func (p *Postgres) queryRoutes(ctx context.Context, where string, args ...any) ([]model.CandidateRoute, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT r.id::text, r.name, r.total_distance, r.estimated_time, r.active, rs.stop_id
		FROM candidate_routes r LEFT JOIN route_stops rs ON rs.route_id = r.id `+where+`
		ORDER BY r.seq, rs.position`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.CandidateRoute{}
	for rows.Next() {
		var r model.CandidateRoute
		var sid sql.NullInt64
		if err := rows.Scan(&r.ID, &r.Name, &r.TotalDistance, &r.EstimatedTime, &r.Active, &sid); err != nil {
			return nil, err
		}
		if n := len(out); n == 0 || out[n-1].ID != r.ID {
			out = append(out, r)
		}
		if sid.Valid {
			last := &out[len(out)-1]
			last.Stops = append(last.Stops, model.StopID(sid.Int64))
		}
	}
	return out, rows.Err()
}

func (p *Postgres) RecordDensity(ctx context.Context, readings []model.DensityReading) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, r := range readings {
		ts, err := parseTS(r.TS)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO density_readings (stop_id, density, recorded_at) VALUES ($1,$2,$3)`,
			int64(r.StopID), r.Density, ts); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *Postgres) DensityHistory(ctx context.Context, id model.StopID, limit int) ([]model.DensityReading, error) {
	limit = historyWindow(limit)
	rows, err := p.db.QueryContext(ctx,
		`SELECT density, recorded_at FROM density_readings WHERE stop_id=$1 ORDER BY recorded_at DESC, id DESC LIMIT $2`,
		int64(id), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.DensityReading{}
	for rows.Next() {
		var d float64
		var at time.Time
		if err := rows.Scan(&d, &at); err != nil {
			return nil, err
		}
		out = append(out, model.DensityReading{StopID: id, Density: d, TS: at.UTC().Format(time.RFC3339)})
	}
	return out, rows.Err()
}

// parseTS accepts RFC3339 timestamps; an empty value means now.
func parseTS(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: %w", s, model.ErrInvalidInput)
	}
	return t, nil
}

func isPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

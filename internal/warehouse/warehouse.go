// Package warehouse runs layer transformations and metadata queries against a
// PostgreSQL warehouse.
package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/ShayCichocki/medallion/pkg/models"
)

// ErrTableNotFound is returned when a reference names no visible table.
var ErrTableNotFound = errors.New("table not found")

// Result is the outcome of a single statement.
type Result struct {
	Columns      []string
	Rows         [][]any
	RowsAffected int64
}

// Records returns the rows keyed by column name.
func (r Result) Records() []map[string]any {
	out := make([]map[string]any, 0, len(r.Rows))
	for _, row := range r.Rows {
		rec := make(map[string]any, len(r.Columns))
		for i, col := range r.Columns {
			if i < len(row) {
				rec[col] = row[i]
			}
		}
		out = append(out, rec)
	}
	return out
}

// Schema lists the columns of a table in ordinal order.
type Schema struct {
	Reference string
	Columns   []models.Column
}

// Has reports whether the schema has a column with the given name.
func (s Schema) Has(name string) bool {
	for _, c := range s.Columns {
		if strings.EqualFold(c.Name, name) {
			return true
		}
	}
	return false
}

// Config holds connection settings.
type Config struct {
	DSN             string
	PingTimeout     time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Validate checks the connection settings.
func (c Config) Validate() error {
	if c.DSN == "" {
		return errors.New("warehouse DSN is required")
	}
	if c.PingTimeout <= 0 {
		return errors.New("warehouse ping timeout must be positive")
	}
	if c.MaxOpenConns < 1 {
		return errors.New("warehouse max open conns must be >= 1")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("warehouse max idle conns must be <= max open conns")
	}
	return nil
}

// DefaultConfig returns settings for dsn with conservative pool limits.
func DefaultConfig(dsn string) Config {
	return Config{
		DSN:             dsn,
		PingTimeout:     5 * time.Second,
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// Postgres is a warehouse backed by PostgreSQL through the pgx driver.
type Postgres struct {
	db *sql.DB
}

// Open connects to the warehouse and verifies the connection.
func Open(ctx context.Context, cfg Config) (*Postgres, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open warehouse: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping warehouse: %w", err)
	}

	return &Postgres{db: db}, nil
}

// New wraps an existing connection pool.
func New(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// ExecuteQuery runs one statement. Statements that produce rows return them;
// others report the number of affected rows.
func (p *Postgres) ExecuteQuery(ctx context.Context, query string) (Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Result{}, errors.New("execute query: empty statement")
	}

	if !returnsRows(query) {
		res, err := p.db.ExecContext(ctx, query)
		if err != nil {
			return Result{}, fmt.Errorf("execute query: %w", describe(err))
		}
		n, _ := res.RowsAffected()
		return Result{RowsAffected: n}, nil
	}

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return Result{}, fmt.Errorf("execute query: %w", describe(err))
	}
	defer rows.Close()

	out, err := scanRows(rows)
	if err != nil {
		return Result{}, fmt.Errorf("execute query: %w", describe(err))
	}
	return out, nil
}

// GetSchema returns the columns of the referenced table.
func (p *Postgres) GetSchema(ctx context.Context, ref string) (Schema, error) {
	r, err := ParseRef(ref)
	if err != nil {
		return Schema{}, err
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT column_name, data_type, is_nullable = 'YES'
		FROM information_schema.columns
		WHERE table_schema = COALESCE(NULLIF($1, ''), current_schema()) AND table_name = $2
		ORDER BY ordinal_position`, r.Schema, r.Table)
	if err != nil {
		return Schema{}, fmt.Errorf("get schema of %s: %w", ref, describe(err))
	}
	defer rows.Close()

	schema := Schema{Reference: ref}
	for rows.Next() {
		var c models.Column
		if err := rows.Scan(&c.Name, &c.Type, &c.Nullable); err != nil {
			return Schema{}, fmt.Errorf("scan column of %s: %w", ref, err)
		}
		schema.Columns = append(schema.Columns, c)
	}
	if err := rows.Err(); err != nil {
		return Schema{}, fmt.Errorf("get schema of %s: %w", ref, describe(err))
	}
	if len(schema.Columns) == 0 {
		return Schema{}, fmt.Errorf("get schema of %s: %w", ref, ErrTableNotFound)
	}
	return schema, nil
}

// GetRowCount counts the rows of the referenced table.
func (p *Postgres) GetRowCount(ctx context.Context, ref string) (int64, error) {
	r, err := ParseRef(ref)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := p.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+r.Sanitize()).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows of %s: %w", ref, describe(err))
	}
	return n, nil
}

// ValidateSyntax asks the planner to explain a statement without running it.
// Statement kinds EXPLAIN cannot describe are accepted unchecked.
func (p *Postgres) ValidateSyntax(ctx context.Context, query string) error {
	query = strings.TrimRight(strings.TrimSpace(query), ";")
	if query == "" {
		return errors.New("empty statement")
	}
	if !explainable(query) {
		log.Printf("[warehouse] skipping syntax check for %q", firstKeyword(query))
		return nil
	}
	rows, err := p.db.QueryContext(ctx, "EXPLAIN "+query)
	if err != nil {
		return describe(err)
	}
	return rows.Close()
}

// Ref is a table reference split into schema and table. A leading catalog
// component is accepted and ignored.
type Ref struct {
	Schema string
	Table  string
}

// ParseRef splits "table", "schema.table" or "catalog.schema.table".
func ParseRef(ref string) (Ref, error) {
	parts := strings.Split(strings.TrimSpace(ref), ".")
	for _, p := range parts {
		if p == "" {
			return Ref{}, fmt.Errorf("invalid table reference %q", ref)
		}
	}
	switch len(parts) {
	case 1:
		return Ref{Table: parts[0]}, nil
	case 2:
		return Ref{Schema: parts[0], Table: parts[1]}, nil
	case 3:
		return Ref{Schema: parts[1], Table: parts[2]}, nil
	default:
		return Ref{}, fmt.Errorf("invalid table reference %q", ref)
	}
}

// Sanitize returns the reference quoted for use in SQL text.
func (r Ref) Sanitize() string {
	if r.Schema == "" {
		return pgx.Identifier{r.Table}.Sanitize()
	}
	return pgx.Identifier{r.Schema, r.Table}.Sanitize()
}

// QuoteIdent quotes a single column or table name.
func QuoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func scanRows(rows *sql.Rows) (Result, error) {
	cols, err := rows.Columns()
	if err != nil {
		return Result{}, err
	}
	out := Result{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Result{}, err
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		out.Rows = append(out.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return Result{}, err
	}
	out.RowsAffected = int64(len(out.Rows))
	return out, nil
}

// describe flattens a server error into its message and SQLSTATE.
func describe(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%s (SQLSTATE %s): %w", pgErr.Message, pgErr.Code, err)
	}
	return err
}

func firstKeyword(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(strings.Trim(fields[0], "("))
}

func returnsRows(query string) bool {
	switch firstKeyword(query) {
	case "SELECT", "WITH", "VALUES", "TABLE", "SHOW", "EXPLAIN":
		return true
	}
	return false
}

func explainable(query string) bool {
	switch firstKeyword(query) {
	case "SELECT", "WITH", "VALUES", "TABLE", "INSERT", "UPDATE", "DELETE", "MERGE":
		return true
	case "CREATE":
		upper := strings.ToUpper(query)
		return strings.Contains(upper, " AS SELECT") || strings.Contains(upper, " AS\nSELECT") ||
			strings.Contains(upper, " AS (") || strings.Contains(upper, " AS WITH")
	}
	return false
}

// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package sink

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/microsoft/go-mssqldb"

	"github.com/casparianhq/flow/internal/catalog"
)

// relationalEngine writes batches into a staged table on a Postgres or
// SQL Server target, promoting it into the topic's table on commit.
// Postgres uses a bulk COPY; SQL Server falls back to parameterized
// INSERTs since go-mssqldb has no COPY-equivalent bulk path through
// database/sql alone.
type relationalEngine struct {
	cfg       Config
	dialect   catalog.SinkType
	stageName string
	schema    *arrow.Schema

	pgPool *pgxpool.Pool
	pgConn *pgxpool.Conn

	msDB   *sql.DB
	msConn *sql.Conn
}

func newRelationalEngine(cfg Config) (*relationalEngine, error) {
	e := &relationalEngine{cfg: cfg, dialect: cfg.Topic.SinkType, stageName: stageTableName(cfg)}

	switch cfg.Topic.SinkType {
	case catalog.SinkTypePostgres:
		pool, err := pgxpool.New(context.Background(), cfg.Topic.URI)
		if err != nil {
			return nil, fmt.Errorf("sink/relational: pgx pool %s: %w", cfg.Topic.URI, err)
		}
		e.pgPool = pool
	case catalog.SinkTypeSQLServer:
		db, err := sql.Open("sqlserver", cfg.Topic.URI)
		if err != nil {
			return nil, fmt.Errorf("sink/relational: open sqlserver %s: %w", cfg.Topic.URI, err)
		}
		e.msDB = db
	default:
		return nil, fmt.Errorf("sink/relational: unsupported sink type %q", cfg.Topic.SinkType)
	}
	return e, nil
}

func (e *relationalEngine) Init(ctx context.Context, schema *arrow.Schema) error {
	e.schema = schema
	cols, err := relationalColumns(schema, e.dialect)
	if err != nil {
		return err
	}

	switch e.dialect {
	case catalog.SinkTypePostgres:
		conn, err := e.pgPool.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("sink/relational: acquire: %w", err)
		}
		e.pgConn = conn
		if _, err := conn.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, e.stageName)); err != nil {
			return fmt.Errorf("sink/relational: drop stale stage: %w", err)
		}
		if _, err := conn.Exec(ctx, fmt.Sprintf(`CREATE TABLE %s (%s)`, e.stageName, cols)); err != nil {
			return fmt.Errorf("sink/relational: create stage %s: %w", e.stageName, err)
		}
	case catalog.SinkTypeSQLServer:
		conn, err := e.msDB.Conn(ctx)
		if err != nil {
			return fmt.Errorf("sink/relational: conn: %w", err)
		}
		e.msConn = conn
		if _, err := conn.ExecContext(ctx, fmt.Sprintf(`IF OBJECT_ID('%s', 'U') IS NOT NULL DROP TABLE %s`, e.stageName, e.stageName)); err != nil {
			return fmt.Errorf("sink/relational: drop stale stage: %w", err)
		}
		if _, err := conn.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE %s (%s)`, e.stageName, cols)); err != nil {
			return fmt.Errorf("sink/relational: create stage %s: %w", e.stageName, err)
		}
	}
	return nil
}

func (e *relationalEngine) WriteBatch(ctx context.Context, rec arrow.Record) error {
	nRows := int(rec.NumRows())
	nCols := int(rec.NumCols())
	fieldNames := make([]string, nCols)
	for i, f := range e.schema.Fields() {
		fieldNames[i] = f.Name
	}

	switch e.dialect {
	case catalog.SinkTypePostgres:
		rowsSrc := &arrowCopyRows{rec: rec, nRows: nRows, nCols: nCols}
		_, err := e.pgConn.CopyFrom(ctx, pgx.Identifier{e.stageName}, fieldNames, rowsSrc)
		if err != nil {
			return fmt.Errorf("sink/relational: copy into %s: %w", e.stageName, err)
		}
		return nil

	case catalog.SinkTypeSQLServer:
		placeholders := make([]string, nCols)
		for i := range placeholders {
			placeholders[i] = fmt.Sprintf("@p%d", i+1)
		}
		stmt := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, e.stageName,
			strings.Join(quoteIdentifiers(fieldNames), ", "), strings.Join(placeholders, ", "))
		for r := 0; r < nRows; r++ {
			args := make([]any, nCols)
			for c := 0; c < nCols; c++ {
				v, err := arrowCellValue(rec.Column(c), r)
				if err != nil {
					return fmt.Errorf("sink/relational: row %d col %d: %w", r, c, err)
				}
				args[c] = v
			}
			if _, err := e.msConn.ExecContext(ctx, stmt, args...); err != nil {
				return fmt.Errorf("sink/relational: insert row %d: %w", r, err)
			}
		}
		return nil
	}
	return fmt.Errorf("sink/relational: unsupported dialect %q", e.dialect)
}

func (e *relationalEngine) Prepare(ctx context.Context) error {
	return nil
}

// Commit promotes the staged table into the topic's target according
// to WriteMode, mirroring the DuckDB engine's contract.
func (e *relationalEngine) Commit(ctx context.Context) error {
	target := e.cfg.Topic.TopicName

	switch e.dialect {
	case catalog.SinkTypePostgres:
		switch e.cfg.Topic.Mode {
		case catalog.WriteModeReplace:
			if _, err := e.pgConn.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, target)); err != nil {
				return fmt.Errorf("sink/relational: drop target for replace: %w", err)
			}
			if _, err := e.pgConn.Exec(ctx, fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`, e.stageName, target)); err != nil {
				return fmt.Errorf("sink/relational: promote stage: %w", err)
			}
		case catalog.WriteModeError:
			var exists bool
			if err := e.pgConn.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, target).Scan(&exists); err != nil {
				return fmt.Errorf("sink/relational: check existing target: %w", err)
			}
			if exists {
				return fmt.Errorf("sink/relational: target table %s already exists and write mode is %q", target, e.cfg.Topic.Mode)
			}
			if _, err := e.pgConn.Exec(ctx, fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`, e.stageName, target)); err != nil {
				return fmt.Errorf("sink/relational: promote stage: %w", err)
			}
		default: // append
			cols, err := relationalColumns(e.schema, e.dialect)
			if err != nil {
				return err
			}
			if _, err := e.pgConn.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s)`, target, cols)); err != nil {
				return fmt.Errorf("sink/relational: ensure append target: %w", err)
			}
			if _, err := e.pgConn.Exec(ctx, fmt.Sprintf(`INSERT INTO %s SELECT * FROM %s`, target, e.stageName)); err != nil {
				return fmt.Errorf("sink/relational: append from stage: %w", err)
			}
			if _, err := e.pgConn.Exec(ctx, fmt.Sprintf(`DROP TABLE %s`, e.stageName)); err != nil {
				return fmt.Errorf("sink/relational: drop stage after append: %w", err)
			}
		}
		return nil

	case catalog.SinkTypeSQLServer:
		switch e.cfg.Topic.Mode {
		case catalog.WriteModeReplace:
			if _, err := e.msConn.ExecContext(ctx, fmt.Sprintf(`IF OBJECT_ID('%s', 'U') IS NOT NULL DROP TABLE %s`, target, target)); err != nil {
				return fmt.Errorf("sink/relational: drop target for replace: %w", err)
			}
			if _, err := e.msConn.ExecContext(ctx, fmt.Sprintf(`EXEC sp_rename '%s', '%s'`, e.stageName, target)); err != nil {
				return fmt.Errorf("sink/relational: promote stage: %w", err)
			}
		case catalog.WriteModeError:
			var exists sql.NullInt64
			row := e.msConn.QueryRowContext(ctx, `SELECT OBJECT_ID(@p1, 'U')`, target)
			if err := row.Scan(&exists); err != nil && err != sql.ErrNoRows {
				return fmt.Errorf("sink/relational: check existing target: %w", err)
			}
			if exists.Valid {
				return fmt.Errorf("sink/relational: target table %s already exists and write mode is %q", target, e.cfg.Topic.Mode)
			}
			if _, err := e.msConn.ExecContext(ctx, fmt.Sprintf(`EXEC sp_rename '%s', '%s'`, e.stageName, target)); err != nil {
				return fmt.Errorf("sink/relational: promote stage: %w", err)
			}
		default: // append
			cols, err := relationalColumns(e.schema, e.dialect)
			if err != nil {
				return err
			}
			if _, err := e.msConn.ExecContext(ctx, fmt.Sprintf(`IF OBJECT_ID('%s', 'U') IS NULL CREATE TABLE %s (%s)`, target, target, cols)); err != nil {
				return fmt.Errorf("sink/relational: ensure append target: %w", err)
			}
			if _, err := e.msConn.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s SELECT * FROM %s`, target, e.stageName)); err != nil {
				return fmt.Errorf("sink/relational: append from stage: %w", err)
			}
			if _, err := e.msConn.ExecContext(ctx, fmt.Sprintf(`DROP TABLE %s`, e.stageName)); err != nil {
				return fmt.Errorf("sink/relational: drop stage after append: %w", err)
			}
		}
		return nil
	}
	return fmt.Errorf("sink/relational: unsupported dialect %q", e.dialect)
}

func (e *relationalEngine) Rollback(ctx context.Context) error {
	switch e.dialect {
	case catalog.SinkTypePostgres:
		if e.pgConn == nil {
			return nil
		}
		_, err := e.pgConn.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, e.stageName))
		if err != nil {
			return fmt.Errorf("sink/relational: rollback drop stage: %w", err)
		}
		return nil
	case catalog.SinkTypeSQLServer:
		if e.msConn == nil {
			return nil
		}
		_, err := e.msConn.ExecContext(ctx, fmt.Sprintf(`IF OBJECT_ID('%s', 'U') IS NOT NULL DROP TABLE %s`, e.stageName, e.stageName))
		if err != nil {
			return fmt.Errorf("sink/relational: rollback drop stage: %w", err)
		}
		return nil
	}
	return nil
}

func (e *relationalEngine) Close() error {
	switch e.dialect {
	case catalog.SinkTypePostgres:
		if e.pgConn != nil {
			e.pgConn.Release()
		}
		if e.pgPool != nil {
			e.pgPool.Close()
		}
	case catalog.SinkTypeSQLServer:
		var firstErr error
		if e.msConn != nil {
			firstErr = e.msConn.Close()
		}
		if e.msDB != nil {
			if err := e.msDB.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}
	return nil
}

// relationalColumns renders a CREATE TABLE column list for the given
// dialect from an Arrow schema.
func relationalColumns(schema *arrow.Schema, dialect catalog.SinkType) (string, error) {
	out := make([]string, 0, len(schema.Fields()))
	for _, f := range schema.Fields() {
		sqlType, err := relationalTypeFor(f.Type, dialect)
		if err != nil {
			return "", err
		}
		out = append(out, fmt.Sprintf(`"%s" %s`, f.Name, sqlType))
	}
	return strings.Join(out, ", "), nil
}

func relationalTypeFor(t arrow.DataType, dialect catalog.SinkType) (string, error) {
	mssql := dialect == catalog.SinkTypeSQLServer
	switch t.ID() {
	case arrow.BOOL:
		if mssql {
			return "BIT", nil
		}
		return "BOOLEAN", nil
	case arrow.INT8, arrow.INT16:
		return "SMALLINT", nil
	case arrow.INT32:
		return "INTEGER", nil
	case arrow.INT64, arrow.UINT32, arrow.UINT64:
		return "BIGINT", nil
	case arrow.UINT8, arrow.UINT16:
		return "SMALLINT", nil
	case arrow.FLOAT32:
		return "REAL", nil
	case arrow.FLOAT64:
		if mssql {
			return "FLOAT", nil
		}
		return "DOUBLE PRECISION", nil
	case arrow.STRING, arrow.LARGE_STRING:
		if mssql {
			return "NVARCHAR(MAX)", nil
		}
		return "TEXT", nil
	case arrow.BINARY, arrow.LARGE_BINARY:
		if mssql {
			return "VARBINARY(MAX)", nil
		}
		return "BYTEA", nil
	case arrow.TIMESTAMP:
		if mssql {
			return "DATETIME2", nil
		}
		return "TIMESTAMP", nil
	case arrow.DATE32, arrow.DATE64:
		return "DATE", nil
	default:
		return "", fmt.Errorf("sink/relational: unsupported arrow type %s", t)
	}
}

// arrowCopyRows adapts one Arrow record into pgx's CopyFromSource so
// WriteBatch can stream it through a single COPY round trip.
type arrowCopyRows struct {
	rec   arrow.Record
	nRows int
	nCols int
	pos   int
	err   error
}

func (a *arrowCopyRows) Next() bool {
	a.pos++
	return a.pos <= a.nRows
}

func (a *arrowCopyRows) Values() ([]any, error) {
	row := make([]any, a.nCols)
	for c := 0; c < a.nCols; c++ {
		v, err := arrowCellValue(a.rec.Column(c), a.pos-1)
		if err != nil {
			a.err = err
			return nil, err
		}
		row[c] = v
	}
	return row, nil
}

func (a *arrowCopyRows) Err() error {
	return a.err
}

func quoteIdentifiers(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = `"` + n + `"`
	}
	return out
}

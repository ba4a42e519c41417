// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package sink

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"path/filepath"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/marcboeker/go-duckdb"
	"github.com/zeebo/blake3"

	"github.com/casparianhq/flow/internal/catalog"
)

// duckdbEngine appends Arrow batches into a staged table and promotes
// it into the topic's target table on commit, per the topic's
// WriteMode. Staging keeps a failed or aborted job from ever exposing
// a partial table to readers.
type duckdbEngine struct {
	cfg Config

	db        *sql.DB
	conn      *sql.Conn
	stageName string
	schema    *arrow.Schema
}

func newDuckDBEngine(cfg Config) (*duckdbEngine, error) {
	dbPath, err := filepath.Abs(cfg.Topic.URI)
	if err != nil {
		return nil, fmt.Errorf("sink/duckdb: resolve %s: %w", cfg.Topic.URI, err)
	}
	if cfg.ControlPlaneDB != "" && dbPath == filepath.Clean(cfg.ControlPlaneDB) {
		return nil, fmt.Errorf("sink/duckdb: refusing to sink into the control-plane catalog database %s", dbPath)
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sink/duckdb: open %s: %w", dbPath, err)
	}
	return &duckdbEngine{cfg: cfg, db: db, stageName: stageTableName(cfg)}, nil
}

// stageTableName derives a collision-resistant staging table name from
// the job and topic, so concurrent jobs writing the same topic never
// share a staging table.
func stageTableName(cfg Config) string {
	h := blake3.Sum256([]byte(fmt.Sprintf("%d:%s", cfg.JobID, cfg.Topic.TopicName)))
	return fmt.Sprintf("__cf_stage_%x", h[:8])
}

func (e *duckdbEngine) Init(ctx context.Context, schema *arrow.Schema) error {
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("sink/duckdb: conn: %w", err)
	}
	e.conn = conn
	e.schema = schema

	cols, err := arrowSchemaToDuckDBColumns(schema)
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, e.stageName)); err != nil {
		return fmt.Errorf("sink/duckdb: drop stale stage: %w", err)
	}
	if _, err := conn.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE %s (%s)`, e.stageName, cols)); err != nil {
		return fmt.Errorf("sink/duckdb: create stage %s: %w", e.stageName, err)
	}
	return nil
}

// WriteBatch appends rec row by row through a DuckDB appender. The
// go-duckdb appender API takes Go values per row rather than whole
// Arrow batches, so each cell is converted with arrowCellValue inside
// the row loop.
func (e *duckdbEngine) WriteBatch(ctx context.Context, rec arrow.Record) error {
	var appendErr error
	err := e.conn.Raw(func(raw any) error {
		driverConn, ok := raw.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("sink/duckdb: unexpected driver connection type %T", raw)
		}
		appender, err := duckdb.NewAppenderFromConn(driverConn, "", e.stageName)
		if err != nil {
			return fmt.Errorf("sink/duckdb: new appender: %w", err)
		}
		defer appender.Close()

		nRows := int(rec.NumRows())
		nCols := int(rec.NumCols())
		row := make([]driver.Value, nCols)
		for r := 0; r < nRows; r++ {
			for c := 0; c < nCols; c++ {
				v, err := arrowCellValue(rec.Column(c), r)
				if err != nil {
					appendErr = fmt.Errorf("sink/duckdb: row %d col %d: %w", r, c, err)
					return nil
				}
				row[c] = v
			}
			if err := appender.AppendRow(row...); err != nil {
				appendErr = fmt.Errorf("sink/duckdb: append row %d: %w", r, err)
				return nil
			}
		}
		return appender.Flush()
	})
	if err != nil {
		return err
	}
	return appendErr
}

func (e *duckdbEngine) Prepare(ctx context.Context) error {
	return nil
}

// Commit promotes the staged table into the topic's target name
// according to the topic's WriteMode, then checkpoints so readers see
// a durable, uncorrupted result.
func (e *duckdbEngine) Commit(ctx context.Context) error {
	target := e.cfg.Topic.TopicName

	switch e.cfg.Topic.Mode {
	case catalog.WriteModeReplace:
		if _, err := e.conn.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, target)); err != nil {
			return fmt.Errorf("sink/duckdb: drop target for replace: %w", err)
		}
		if _, err := e.conn.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`, e.stageName, target)); err != nil {
			return fmt.Errorf("sink/duckdb: promote stage: %w", err)
		}

	case catalog.WriteModeError:
		var exists int
		row := e.conn.QueryRowContext(ctx, `SELECT count(*) FROM information_schema.tables WHERE table_name = ?`, target)
		if err := row.Scan(&exists); err != nil {
			return fmt.Errorf("sink/duckdb: check existing target: %w", err)
		}
		if exists > 0 {
			return fmt.Errorf("sink/duckdb: target table %s already exists and write mode is %q", target, e.cfg.Topic.Mode)
		}
		if _, err := e.conn.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`, e.stageName, target)); err != nil {
			return fmt.Errorf("sink/duckdb: promote stage: %w", err)
		}

	default: // WriteModeAppend
		if _, err := e.conn.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s AS SELECT * FROM %s WHERE 1=0`, target, e.stageName)); err != nil {
			return fmt.Errorf("sink/duckdb: ensure append target: %w", err)
		}
		if _, err := e.conn.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s SELECT * FROM %s`, target, e.stageName)); err != nil {
			return fmt.Errorf("sink/duckdb: append from stage: %w", err)
		}
		if _, err := e.conn.ExecContext(ctx, fmt.Sprintf(`DROP TABLE %s`, e.stageName)); err != nil {
			return fmt.Errorf("sink/duckdb: drop stage after append: %w", err)
		}
	}

	if _, err := e.conn.ExecContext(ctx, `CHECKPOINT`); err != nil {
		return fmt.Errorf("sink/duckdb: checkpoint: %w", err)
	}
	return nil
}

func (e *duckdbEngine) Rollback(ctx context.Context) error {
	if e.conn == nil {
		return nil
	}
	_, err := e.conn.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, e.stageName))
	if err != nil {
		return fmt.Errorf("sink/duckdb: rollback drop stage: %w", err)
	}
	return nil
}

func (e *duckdbEngine) Close() error {
	var firstErr error
	if e.conn != nil {
		if err := e.conn.Close(); err != nil {
			firstErr = err
		}
	}
	if err := e.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// arrowSchemaToDuckDBColumns renders a DuckDB CREATE TABLE column list
// from an Arrow schema's field types.
func arrowSchemaToDuckDBColumns(schema *arrow.Schema) (string, error) {
	out := ""
	for i, f := range schema.Fields() {
		if i > 0 {
			out += ", "
		}
		sqlType, err := duckDBTypeFor(f.Type)
		if err != nil {
			return "", err
		}
		out += fmt.Sprintf(`"%s" %s`, f.Name, sqlType)
	}
	return out, nil
}

func duckDBTypeFor(t arrow.DataType) (string, error) {
	switch t.ID() {
	case arrow.BOOL:
		return "BOOLEAN", nil
	case arrow.INT8:
		return "TINYINT", nil
	case arrow.INT16:
		return "SMALLINT", nil
	case arrow.INT32:
		return "INTEGER", nil
	case arrow.INT64:
		return "BIGINT", nil
	case arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64:
		return "UBIGINT", nil
	case arrow.FLOAT32:
		return "FLOAT", nil
	case arrow.FLOAT64:
		return "DOUBLE", nil
	case arrow.STRING, arrow.LARGE_STRING:
		return "VARCHAR", nil
	case arrow.BINARY, arrow.LARGE_BINARY:
		return "BLOB", nil
	case arrow.TIMESTAMP:
		return "TIMESTAMP", nil
	case arrow.DATE32, arrow.DATE64:
		return "DATE", nil
	default:
		return "", fmt.Errorf("sink/duckdb: unsupported arrow type %s", t)
	}
}

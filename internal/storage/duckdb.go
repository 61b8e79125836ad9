package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marcboeker/go-duckdb/v2"

	"github.com/johnayoung/go-ohlcv-history/internal/models"
)

// ParquetStore writes and reads Parquet files through an embedded in-memory
// DuckDB instance. Rows are staged in a scratch table with the DuckDB Appender
// API and exported with COPY.
type ParquetStore struct {
	db     *sql.DB
	logger *slog.Logger
	mu     sync.Mutex
	closed bool
}

// NewParquetStore opens the embedded database.
func NewParquetStore(logger *slog.Logger) (*ParquetStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, NewStorageError("open", "", fmt.Errorf("failed to open DuckDB database: %w", err))
	}

	// DuckDB is used with a single writer connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return &ParquetStore{
		db:     db,
		logger: logger.With("component", "parquet_store"),
	}, nil
}

// Write exports rows to dest as Parquet, replacing any existing file.
func (p *ParquetStore) Write(ctx context.Context, dest string, rows []models.Candle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return NewWriteError(dest, fmt.Errorf("store is closed"))
	}

	start := time.Now()
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return NewWriteError(dest, err)
	}

	conn, err := p.db.Conn(ctx)
	if err != nil {
		return NewWriteError(dest, fmt.Errorf("failed to get connection: %w", err))
	}
	defer conn.Close()

	table := "series_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	create := fmt.Sprintf(`CREATE TABLE %s (
		time TIMESTAMP NOT NULL,
		open DOUBLE NOT NULL,
		high DOUBLE NOT NULL,
		low DOUBLE NOT NULL,
		close DOUBLE NOT NULL,
		volume DOUBLE NOT NULL
	)`, table)
	if _, err := conn.ExecContext(ctx, create); err != nil {
		return NewWriteError(dest, fmt.Errorf("failed to create scratch table: %w", err))
	}
	defer func() {
		if _, err := conn.ExecContext(context.Background(), "DROP TABLE IF EXISTS "+table); err != nil {
			p.logger.Warn("failed to drop scratch table", "table", table, "error", err)
		}
	}()

	if err := appendRows(conn, table, rows); err != nil {
		return NewWriteError(dest, err)
	}

	if err := exportParquet(ctx, conn, "SELECT * FROM "+table+" ORDER BY time", dest); err != nil {
		return NewWriteError(dest, err)
	}

	p.logger.Debug("wrote parquet series",
		"path", dest,
		"rows", len(rows),
		"duration", time.Since(start))
	return nil
}

// ConvertCSV writes the series in the CSV file src to dest as Parquet. DuckDB
// scans the file itself, so the rows never pass through Go.
func (p *ParquetStore) ConvertCSV(ctx context.Context, src, dest string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return NewWriteError(dest, fmt.Errorf("store is closed"))
	}
	if _, err := os.Stat(src); err != nil {
		return NewReadError(src, err)
	}

	start := time.Now()
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return NewWriteError(dest, err)
	}

	conn, err := p.db.Conn(ctx)
	if err != nil {
		return NewWriteError(dest, fmt.Errorf("failed to get connection: %w", err))
	}
	defer conn.Close()

	// Times are written as UTC with a trailing Z
	query := fmt.Sprintf(`SELECT CAST(replace(time, 'Z', '') AS TIMESTAMP) AS time,
		open, high, low, close, volume
		FROM read_csv(%s, header = true, delim = ',', columns = {
			'time': 'VARCHAR',
			'open': 'DOUBLE',
			'high': 'DOUBLE',
			'low': 'DOUBLE',
			'close': 'DOUBLE',
			'volume': 'DOUBLE'
		})
		ORDER BY time`, quoteLiteral(src))
	if err := exportParquet(ctx, conn, query, dest); err != nil {
		return NewWriteError(dest, err)
	}

	p.logger.Debug("converted csv series to parquet",
		"source", src,
		"path", dest,
		"duration", time.Since(start))
	return nil
}

// exportParquet copies the result of query to a temp file next to dest and
// renames it into place.
func exportParquet(ctx context.Context, conn *sql.Conn, query, dest string) error {
	tmp := filepath.Join(filepath.Dir(dest), "."+filepath.Base(dest)+".tmp-"+uuid.NewString())
	copyStmt := fmt.Sprintf("COPY (%s) TO %s (FORMAT PARQUET)", query, quoteLiteral(tmp))
	if _, err := conn.ExecContext(ctx, copyStmt); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to export parquet: %w", err)
	}
	if err := os.Chmod(tmp, outputFileMode); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func appendRows(conn *sql.Conn, table string, rows []models.Candle) error {
	var driverConn *duckdb.Conn
	err := conn.Raw(func(dc any) error {
		var ok bool
		driverConn, ok = dc.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("underlying connection is not a DuckDB connection")
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to get DuckDB connection: %w", err)
	}

	appender, err := duckdb.NewAppenderFromConn(driverConn, "", table)
	if err != nil {
		return fmt.Errorf("failed to create appender: %w", err)
	}

	for _, row := range rows {
		if err := appender.AppendRow(
			row.Time(),
			row.Open,
			row.High,
			row.Low,
			row.Close,
			row.Volume,
		); err != nil {
			appender.Close()
			return fmt.Errorf("failed to append candle %s: %w", row.String(), err)
		}
	}

	// Close flushes the remaining rows
	if err := appender.Close(); err != nil {
		return fmt.Errorf("failed to flush appender: %w", err)
	}
	return nil
}

// Read loads src ordered by time.
func (p *ParquetStore) Read(ctx context.Context, src string) ([]models.Candle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, NewReadError(src, fmt.Errorf("store is closed"))
	}
	if _, err := os.Stat(src); err != nil {
		return nil, NewReadError(src, err)
	}

	query := fmt.Sprintf(`SELECT epoch_ms(time), open, high, low, close, volume
		FROM read_parquet(%s)
		ORDER BY time`, quoteLiteral(src))

	result, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, NewReadError(src, fmt.Errorf("failed to query parquet: %w", err))
	}
	defer result.Close()

	var rows []models.Candle
	for result.Next() {
		var c models.Candle
		if err := result.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, NewReadError(src, fmt.Errorf("failed to scan row: %w", err))
		}
		rows = append(rows, c)
	}
	if err := result.Err(); err != nil {
		return nil, NewReadError(src, fmt.Errorf("row iteration error: %w", err))
	}

	return rows, nil
}

// Close releases the embedded database.
func (p *ParquetStore) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.db.Close()
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rag

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// OpenSource opens a relational ingestion source. Supported drivers:
// sqlite3, mysql, postgres.
func OpenSource(driver, dsn string) (*sql.DB, error) {
	switch driver {
	case "sqlite3", "sqlite":
		driver = "sqlite3"
	case "mysql", "postgres":
	default:
		return nil, fmt.Errorf("unsupported source driver: %s", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s source: %w", driver, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach %s source: %w", driver, err)
	}
	return db, nil
}

// SQLTableConfig defines which table and columns feed ingestion.
type SQLTableConfig struct {
	Table string
	// TextColumns are concatenated into the record body; empty selects
	// every column.
	TextColumns []string
	// MetadataColumns ride along as record metadata.
	MetadataColumns []string
	// Where optionally filters rows; appended verbatim after WHERE.
	Where   string
	MaxRows int
}

// SQLSource reads relational rows into table records for ingestion.
type SQLSource struct {
	db     *sql.DB
	driver string
}

// NewSQLSource wraps an open database connection. The connection
// lifecycle stays with the caller.
func NewSQLSource(db *sql.DB, driver string) (*SQLSource, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &SQLSource{db: db, driver: driver}, nil
}

// ReadTable materializes the configured rows as TableRows.
func (s *SQLSource) ReadTable(ctx context.Context, cfg SQLTableConfig) ([]TableRow, error) {
	if cfg.Table == "" {
		return nil, fmt.Errorf("table name is required")
	}

	selected := "*"
	if len(cfg.TextColumns) > 0 {
		cols := append(append([]string{}, cfg.TextColumns...), cfg.MetadataColumns...)
		selected = strings.Join(cols, ", ")
	}
	query := fmt.Sprintf("SELECT %s FROM %s", selected, cfg.Table)
	if cfg.Where != "" {
		query += " WHERE " + cfg.Where
	}
	if cfg.MaxRows > 0 {
		query += fmt.Sprintf(" LIMIT %d", cfg.MaxRows)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("table query failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	var records []TableRow
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return records, err
		}

		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return records, fmt.Errorf("row scan failed: %w", err)
		}

		rendered := make(map[string]string, len(columns))
		for i, v := range values {
			rendered[columns[i]] = renderValue(v)
		}
		records = append(records, TableRow{
			Index:   len(records),
			Columns: append([]string{}, columns...),
			Values:  rendered,
		})
	}
	if err := rows.Err(); err != nil {
		return records, fmt.Errorf("row iteration failed: %w", err)
	}
	return records, nil
}

func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

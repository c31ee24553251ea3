// Package lake mounts parquet snapshots from object storage as DuckDB views so the
// executor can query a bucket the same way it queries a database file.
package lake

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pitwall/pitwall/internal/schema"
	"github.com/pitwall/pitwall/internal/storage"
)

type TableSnapshot struct {
	Name    string
	Objects []string
	Bytes   int64
}

// Snapshot is the set of views created by Mount. Close removes the local copies.
type Snapshot struct {
	WorkDir string
	Tables  []TableSnapshot

	ownsDir bool
}

func (s *Snapshot) Close() error {
	if s == nil || !s.ownsDir || s.WorkDir == "" {
		return nil
	}
	return os.RemoveAll(s.WorkDir)
}

type Mounter struct {
	Objects storage.ObjectStore
	WorkDir string
	Logger  *slog.Logger
}

// Mount downloads every table's snapshot objects and replaces the table's view on db.
// Tables without a source are skipped; a registry with no sources at all is an error.
func (m *Mounter) Mount(ctx context.Context, db *sql.DB, registry *schema.Registry) (*Snapshot, error) {
	if m.Objects == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}

	snapshot := &Snapshot{WorkDir: m.WorkDir}
	if snapshot.WorkDir == "" {
		dir, err := os.MkdirTemp("", "pitwall-lake-")
		if err != nil {
			return nil, fmt.Errorf("create lake work dir: %w", err)
		}
		snapshot.WorkDir = dir
		snapshot.ownsDir = true
	} else if err := os.MkdirAll(snapshot.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("create lake work dir: %w", err)
	}

	for _, table := range registry.Describe().Tables {
		if strings.TrimSpace(table.Source) == "" {
			logger.Debug("lake table has no source", "table", table.Name)
			continue
		}
		mounted, err := m.mountTable(ctx, db, snapshot.WorkDir, table)
		if err != nil {
			_ = snapshot.Close()
			return nil, err
		}
		snapshot.Tables = append(snapshot.Tables, mounted)
		logger.Info("lake table mounted", "table", mounted.Name, "objects", len(mounted.Objects), "bytes", mounted.Bytes)
	}
	if len(snapshot.Tables) == 0 {
		_ = snapshot.Close()
		return nil, fmt.Errorf("no schema table declares a lake source")
	}
	return snapshot, nil
}

func (m *Mounter) mountTable(ctx context.Context, db *sql.DB, workDir string, table schema.Table) (TableSnapshot, error) {
	keys, err := m.resolveSource(ctx, table.Source)
	if err != nil {
		return TableSnapshot{}, fmt.Errorf("resolve source for table %q: %w", table.Name, err)
	}
	if len(keys) == 0 {
		return TableSnapshot{}, fmt.Errorf("source %q for table %q holds no parquet objects", table.Source, table.Name)
	}

	mounted := TableSnapshot{Name: table.Name, Objects: keys}
	localPaths := make([]string, 0, len(keys))
	for index, key := range keys {
		reader, err := m.Objects.Get(ctx, key)
		if err != nil {
			return TableSnapshot{}, fmt.Errorf("get object %q: %w", key, err)
		}

		fileName, err := storage.SnapshotFileName(table.Name, index)
		if err != nil {
			_ = reader.Close()
			return TableSnapshot{}, err
		}
		localPath := filepath.Join(workDir, fileName)
		written, err := writeFile(localPath, reader)
		if err != nil {
			_ = reader.Close()
			return TableSnapshot{}, fmt.Errorf("write local parquet file %q: %w", localPath, err)
		}
		if err := reader.Close(); err != nil {
			return TableSnapshot{}, fmt.Errorf("close object %q: %w", key, err)
		}
		mounted.Bytes += written
		localPaths = append(localPaths, localPath)
	}

	viewSQL := fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet(%s)`, quoteIdent(table.Name), quoteStringArray(localPaths))
	if _, err := db.ExecContext(ctx, viewSQL); err != nil {
		return TableSnapshot{}, fmt.Errorf("create view for table %q: %w", table.Name, err)
	}
	return mounted, nil
}

// resolveSource expands a prefix source (trailing '/') into its parquet objects.
func (m *Mounter) resolveSource(ctx context.Context, source string) ([]string, error) {
	source = strings.TrimSpace(source)
	if !storage.IsPrefix(source) {
		return []string{source}, nil
	}

	objects, err := m.Objects.List(ctx, source)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(objects))
	for _, object := range objects {
		if storage.IsParquetKey(object.Key) {
			keys = append(keys, object.Key)
		}
	}
	return keys, nil
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteStringArray(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, `'`+strings.ReplaceAll(value, `'`, `''`)+`'`)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

func writeFile(path string, reader io.Reader) (int64, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = file.Close() }()

	written, err := io.Copy(file, reader)
	if err != nil {
		return written, err
	}
	return written, file.Sync()
}

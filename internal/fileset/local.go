package fileset

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fsnotify/fsnotify"

	"github.com/graknol/declarative-sqlite-go/internal/migrate"
	"github.com/graknol/declarative-sqlite-go/internal/sqlconn"
)

// LocalRepository is the on-disk Repository implementation: file bytes
// live under baseDir/<fileset_id>/<file_id>, and metadata lives in the
// engine's per-instance "__fileset_files_<name>" table. An fsnotify
// watcher on baseDir records files created or written directly in baseDir
// with no metadata row as anomalies, which GC removes. The watch is not
// recursive: files inside a fileset's own subdirectory are not observed
// by the watcher.
type LocalRepository struct {
	conn      *sqlconn.Conn
	tableName string
	baseDir   string

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	anomalies map[string]struct{}
}

// NewLocalRepository opens (creating if needed) a directory-backed file
// repository for the named engine instance.
func NewLocalRepository(conn *sqlconn.Conn, engineName, baseDir string) (*LocalRepository, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("fileset: create base dir: %w", err)
	}

	r := &LocalRepository{
		conn:      conn,
		tableName: migrate.FilesetMetaTableName(engineName),
		baseDir:   baseDir,
		anomalies: map[string]struct{}{},
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fileset: start watcher: %w", err)
	}
	if err := w.Add(baseDir); err != nil {
		w.Close()
		return nil, fmt.Errorf("fileset: watch base dir: %w", err)
	}
	r.watcher = w
	go r.watchLoop()

	return r, nil
}

func (r *LocalRepository) watchLoop() {
	for {
		select {
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			r.noteIfUntracked(ev.Name)
		case _, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// noteIfUntracked records path as an anomaly if it names a file under
// baseDir/<fileset>/<file> with no matching metadata row.
func (r *LocalRepository) noteIfUntracked(path string) {
	if _, err := filepath.Rel(r.baseDir, path); err != nil {
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}

	fileID := filepath.Base(path)
	rows, err := r.conn.RawQuery(fmt.Sprintf(`SELECT 1 FROM %s WHERE file_id = ?`, quoteIdent(r.tableName)), fileID)
	if err != nil || len(rows) > 0 {
		return
	}

	r.mu.Lock()
	r.anomalies[path] = struct{}{}
	r.mu.Unlock()
}

// Anomalies returns disk paths observed by the watcher that have no
// corresponding metadata row, used by fileset.GC to surface orphan files
// written outside the repository's own API.
func (r *LocalRepository) Anomalies() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.anomalies))
	for p := range r.anomalies {
		out = append(out, p)
	}
	return out, nil
}

// RemoveAnomaly deletes an orphan file previously surfaced by Anomalies and
// clears it from the tracked set. Used by fileset.GC to actually remove
// orphan files, not merely report them.
func (r *LocalRepository) RemoveAnomaly(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("fileset: remove orphan file: %w", err)
	}
	r.mu.Lock()
	delete(r.anomalies, path)
	r.mu.Unlock()
	return nil
}

// Close stops the watcher goroutine.
func (r *LocalRepository) Close() error {
	return r.watcher.Close()
}

func (r *LocalRepository) filePath(filesetID, fileID string) string {
	return filepath.Join(r.baseDir, filesetID, fileID)
}

func (r *LocalRepository) AddFile(filesetID, name, mime string, content []byte) (FileMetadata, error) {
	dir := filepath.Join(r.baseDir, filesetID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return FileMetadata{}, fmt.Errorf("fileset: create fileset dir: %w", err)
	}

	fileID := uuid.New().String()
	path := r.filePath(filesetID, fileID)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return FileMetadata{}, fmt.Errorf("fileset: write file: %w", err)
	}

	createdAt := time.Now().UTC()
	_, err := r.conn.RawInsert(fmt.Sprintf(
		`INSERT INTO %s (file_id, fileset_id, name, size, mime, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		quoteIdent(r.tableName)),
		fileID, filesetID, name, int64(len(content)), mime, createdAt.Format(time.RFC3339Nano))
	if err != nil {
		os.Remove(path)
		return FileMetadata{}, fmt.Errorf("fileset: record metadata: %w", err)
	}

	return FileMetadata{ID: fileID, Name: name, Size: int64(len(content)), Mime: mime, CreatedAt: createdAt}, nil
}

func (r *LocalRepository) GetFileContent(filesetID, fileID string) ([]byte, error) {
	content, err := os.ReadFile(r.filePath(filesetID, fileID))
	if err != nil {
		return nil, fmt.Errorf("fileset: read file: %w", err)
	}
	return content, nil
}

func (r *LocalRepository) DeleteFile(filesetID, fileID string) error {
	if err := os.Remove(r.filePath(filesetID, fileID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("fileset: delete file: %w", err)
	}
	_, err := r.conn.RawDelete(fmt.Sprintf(`DELETE FROM %s WHERE file_id = ?`, quoteIdent(r.tableName)), fileID)
	if err != nil {
		return fmt.Errorf("fileset: delete metadata: %w", err)
	}
	return nil
}

func (r *LocalRepository) GetFiles(filesetID string) ([]FileMetadata, error) {
	rows, err := r.conn.RawQuery(fmt.Sprintf(
		`SELECT file_id, name, size, mime, created_at FROM %s WHERE fileset_id = ? ORDER BY created_at ASC`,
		quoteIdent(r.tableName)), filesetID)
	if err != nil {
		return nil, fmt.Errorf("fileset: list files: %w", err)
	}
	return rowsToMetadata(rows)
}

func (r *LocalRepository) GetFileCount(filesetID string) (int, error) {
	rows, err := r.conn.RawQuery(fmt.Sprintf(
		`SELECT COUNT(*) AS n FROM %s WHERE fileset_id = ?`, quoteIdent(r.tableName)), filesetID)
	if err != nil {
		return 0, fmt.Errorf("fileset: count files: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return int(toInt64(rows[0]["n"])), nil
}

func (r *LocalRepository) GetFileMetadata(filesetID, fileID string) (FileMetadata, error) {
	rows, err := r.conn.RawQuery(fmt.Sprintf(
		`SELECT file_id, name, size, mime, created_at FROM %s WHERE fileset_id = ? AND file_id = ?`,
		quoteIdent(r.tableName)), filesetID, fileID)
	if err != nil {
		return FileMetadata{}, fmt.Errorf("fileset: get metadata: %w", err)
	}
	if len(rows) == 0 {
		return FileMetadata{}, fmt.Errorf("fileset: file %s not found in fileset %s", fileID, filesetID)
	}
	out, err := rowsToMetadata(rows)
	if err != nil {
		return FileMetadata{}, err
	}
	return out[0], nil
}

func (r *LocalRepository) DeleteFileset(filesetID string) error {
	if _, err := r.conn.RawDelete(fmt.Sprintf(`DELETE FROM %s WHERE fileset_id = ?`, quoteIdent(r.tableName)), filesetID); err != nil {
		return fmt.Errorf("fileset: delete metadata for fileset %s: %w", filesetID, err)
	}
	if err := os.RemoveAll(filepath.Join(r.baseDir, filesetID)); err != nil {
		return fmt.Errorf("fileset: delete fileset dir %s: %w", filesetID, err)
	}
	return nil
}

func (r *LocalRepository) AllFilesetIDs() ([]string, error) {
	rows, err := r.conn.RawQuery(fmt.Sprintf(`SELECT DISTINCT fileset_id FROM %s`, quoteIdent(r.tableName)))
	if err != nil {
		return nil, fmt.Errorf("fileset: list fileset ids: %w", err)
	}
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, row["fileset_id"].(string))
	}
	return out, nil
}

func rowsToMetadata(rows []sqlconn.Row) ([]FileMetadata, error) {
	out := make([]FileMetadata, 0, len(rows))
	for _, row := range rows {
		createdAt, err := time.Parse(time.RFC3339Nano, row["created_at"].(string))
		if err != nil {
			return nil, fmt.Errorf("fileset: parse created_at: %w", err)
		}
		mime, _ := row["mime"].(string)
		out = append(out, FileMetadata{
			ID:        row["file_id"].(string),
			Name:      row["name"].(string),
			Size:      toInt64(row["size"]),
			Mime:      mime,
			CreatedAt: createdAt,
		})
	}
	return out, nil
}

func toInt64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	case float64:
		return int64(x)
	default:
		return 0
	}
}

func quoteIdent(name string) string { return `"` + name + `"` }

// Package fileset implements the logical "fileset" column type: an opaque
// identifier resolving, via an abstract file repository, to a bag of
// files with metadata and bytes.
package fileset

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/graknol/declarative-sqlite-go/internal/ddberr"
)

// FileMetadata describes one file within a fileset.
type FileMetadata struct {
	ID        string
	Name      string
	Size      int64
	Mime      string
	CreatedAt time.Time
}

// Repository is the abstract file repository the fileset subsystem
// depends on; platform file I/O is out of scope for the core and is
// assumed to implement this interface (LocalRepository is the one
// concrete implementation this module ships, grounded on fsnotify-backed
// directory storage).
type Repository interface {
	AddFile(filesetID, name, mime string, content []byte) (FileMetadata, error)
	GetFileContent(filesetID, fileID string) ([]byte, error)
	DeleteFile(filesetID, fileID string) error
	GetFiles(filesetID string) ([]FileMetadata, error)
	GetFileCount(filesetID string) (int, error)
	GetFileMetadata(filesetID, fileID string) (FileMetadata, error)
	// DeleteFileset removes every file belonging to filesetID, used by GC
	// once a fileset is confirmed orphaned.
	DeleteFileset(filesetID string) error
	// AllFilesetIDs enumerates every fileset id known to the repository's
	// metadata, used by GC to find filesets referenced by no row.
	AllFilesetIDs() ([]string, error)
}

// Field wraps one fileset column value (a fileset id) bound to a
// repository, giving DbRecord's getFilesetField() a handle with the
// per-row id already curried in.
type Field struct {
	FilesetID string
	repo      Repository
}

// NewField binds a fileset id to the repository that resolves it. An
// empty filesetID denotes a column that has never been assigned files;
// AddFile lazily mints one.
func NewField(filesetID string, repo Repository) *Field {
	return &Field{FilesetID: filesetID, repo: repo}
}

// AddFile adds a file to the fileset, minting a fileset id on first use.
func (f *Field) AddFile(name, mime string, content []byte) (FileMetadata, error) {
	if f.FilesetID == "" {
		f.FilesetID = uuid.New().String()
	}
	md, err := f.repo.AddFile(f.FilesetID, name, mime, content)
	if err != nil {
		return FileMetadata{}, ddberr.New(ddberr.FilesetError, "Field.AddFile", err)
	}
	return md, nil
}

func (f *Field) GetFileContent(fileID string) ([]byte, error) {
	if f.FilesetID == "" {
		return nil, ddberr.New(ddberr.NotFound, "Field.GetFileContent", fmt.Errorf("fileset is empty"))
	}
	content, err := f.repo.GetFileContent(f.FilesetID, fileID)
	if err != nil {
		return nil, ddberr.New(ddberr.FilesetError, "Field.GetFileContent", err)
	}
	return content, nil
}

func (f *Field) DeleteFile(fileID string) error {
	if f.FilesetID == "" {
		return ddberr.New(ddberr.NotFound, "Field.DeleteFile", fmt.Errorf("fileset is empty"))
	}
	if err := f.repo.DeleteFile(f.FilesetID, fileID); err != nil {
		return ddberr.New(ddberr.FilesetError, "Field.DeleteFile", err)
	}
	return nil
}

func (f *Field) GetFiles() ([]FileMetadata, error) {
	if f.FilesetID == "" {
		return nil, nil
	}
	files, err := f.repo.GetFiles(f.FilesetID)
	if err != nil {
		return nil, ddberr.New(ddberr.FilesetError, "Field.GetFiles", err)
	}
	return files, nil
}

func (f *Field) GetFileCount() (int, error) {
	if f.FilesetID == "" {
		return 0, nil
	}
	n, err := f.repo.GetFileCount(f.FilesetID)
	if err != nil {
		return 0, ddberr.New(ddberr.FilesetError, "Field.GetFileCount", err)
	}
	return n, nil
}

func (f *Field) GetFileMetadata(fileID string) (FileMetadata, error) {
	if f.FilesetID == "" {
		return FileMetadata{}, ddberr.New(ddberr.NotFound, "Field.GetFileMetadata", fmt.Errorf("fileset is empty"))
	}
	md, err := f.repo.GetFileMetadata(f.FilesetID, fileID)
	if err != nil {
		return FileMetadata{}, ddberr.New(ddberr.FilesetError, "Field.GetFileMetadata", err)
	}
	return md, nil
}

// ReferencedFilesetIDs is implemented in production by
// ddbengine.Engine.ReferencedFilesetIDs, which scans every fileset-typed
// column of every user table and returns the distinct fileset ids still
// referenced by a live row, used by GC to compute orphan filesets.
type ReferencedFilesetIDs func() (map[string]struct{}, error)

// GCReport summarizes one garbage collection pass.
type GCReport struct {
	OrphanFilesetsRemoved int
	OrphanFilesRemoved    int
}

// GC removes filesets referenced by no row. Deletion of a row whose column
// held the only reference to a fileset marks that fileset orphan but does
// not immediately delete it — GC is the scheduled maintenance task that
// performs the actual removal.
func GC(repo Repository, referenced ReferencedFilesetIDs) (GCReport, error) {
	live, err := referenced()
	if err != nil {
		return GCReport{}, ddberr.New(ddberr.FilesetError, "GC", err)
	}

	allIDs, err := repo.AllFilesetIDs()
	if err != nil {
		return GCReport{}, ddberr.New(ddberr.FilesetError, "GC", err)
	}

	report := GCReport{}
	for _, id := range allIDs {
		if _, ok := live[id]; ok {
			continue
		}
		if err := repo.DeleteFileset(id); err != nil {
			return report, ddberr.New(ddberr.FilesetError, "GC", err)
		}
		report.OrphanFilesetsRemoved++
	}

	if anomalyRepo, ok := repo.(interface {
		Anomalies() ([]string, error)
		RemoveAnomaly(path string) error
	}); ok {
		anomalies, err := anomalyRepo.Anomalies()
		if err != nil {
			return report, ddberr.New(ddberr.FilesetError, "GC", err)
		}
		for _, path := range anomalies {
			if err := anomalyRepo.RemoveAnomaly(path); err != nil {
				return report, ddberr.New(ddberr.FilesetError, "GC", err)
			}
			report.OrphanFilesRemoved++
		}
	}

	return report, nil
}

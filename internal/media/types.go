package media

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// File is a tracked asset (spec §3 "MediaFile"). Fields mirror the
// attributes spec.md enumerates exactly; BatchID and CompressionRatio are
// nullable per the invariants ("batch_id is set iff status ∈ {batched,
// uploaded, verified}").
type File struct {
	ID                uuid.UUID
	Filename          string
	Path              string
	SourcePath        string
	Size              int64
	Hash              string // empty until status >= deduplicated
	CompressionRatio  *float64
	IsDuplicate       bool
	SourceKind        IngestKind
	Status            FileStatus
	BatchID           *uuid.UUID
	CreatedAt         time.Time
	LastProcessedAt   time.Time
	LastUpdatedAt     time.Time
	MirrorSynced      bool
}

// NewFile constructs a File at its initial status (downloaded), validating
// the fields an IngestAdapter is responsible for supplying. hash is left
// unset, matching spec §4.5 ("registered ... at status downloaded with
// hash unset").
func NewFile(filename, path, sourcePath string, size int64, kind IngestKind, now time.Time) (*File, error) {
	if filename == "" {
		return nil, fmt.Errorf("%w: filename is required", ErrConfig)
	}

	if path == "" {
		return nil, fmt.Errorf("%w: path is required", ErrConfig)
	}

	if size < 0 {
		return nil, fmt.Errorf("%w: size must be non-negative", ErrConfig)
	}

	return &File{
		ID:              uuid.New(),
		Filename:        filename,
		Path:            path,
		SourcePath:      sourcePath,
		Size:            size,
		SourceKind:      kind,
		Status:          FileDownloaded,
		CreatedAt:       now,
		LastProcessedAt: now,
		LastUpdatedAt:   now,
	}, nil
}

// Batch is a shipment to one destination (spec §3 "Batch").
type Batch struct {
	ID          uuid.UUID
	Destination UploadKind
	Status      BatchStatus
	TotalSize   int64
	FileCount   int
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// NewBatch constructs a Batch at status created from its member files'
// aggregate size/count, enforcing the invariant that total_size and
// file_count always equal the member sums (spec §3).
func NewBatch(dest UploadKind, members []*File, now time.Time) (*Batch, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("%w: batch must have at least one member", ErrConfig)
	}

	var total int64
	for _, f := range members {
		total += f.Size
	}

	return &Batch{
		ID:          uuid.New(),
		Destination: dest,
		Status:      BatchCreated,
		TotalSize:   total,
		FileCount:   len(members),
		CreatedAt:   now,
	}, nil
}

// Duplicate is an equivalence link (spec §3 "Duplicate"). Never mutated
// after creation.
type Duplicate struct {
	ID              uuid.UUID
	OriginalFileID  uuid.UUID
	DuplicateFileID uuid.UUID
	Hash            string
	CreatedAt       time.Time
}

// NewDuplicate links a duplicate file to its surviving original, both of
// which must share hash (spec §3 invariant).
func NewDuplicate(original, duplicate uuid.UUID, hash string, now time.Time) (*Duplicate, error) {
	if hash == "" {
		return nil, fmt.Errorf("%w: hash is required", ErrConfig)
	}

	if original == duplicate {
		return nil, fmt.Errorf("%w: a file cannot duplicate itself", ErrConfig)
	}

	return &Duplicate{
		ID:              uuid.New(),
		OriginalFileID:  original,
		DuplicateFileID: duplicate,
		Hash:            hash,
		CreatedAt:       now,
	}, nil
}

// LogEntry is an append-only structured event (spec §3 "LogEntry").
type LogEntry struct {
	ID        int64
	Step      Step
	Message   string
	Severity  Severity
	CreatedAt time.Time
}

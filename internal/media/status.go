package media

import (
	"database/sql/driver"
	"fmt"
)

// FileStatus is the lifecycle state of a MediaFile (spec §4.13). Modeled as
// a validated, stringable, sql.Scanner/driver.Valuer wrapper type rather
// than a bare string, so an invalid status can never reach the database.
type FileStatus string

const (
	FileDownloaded   FileStatus = "downloaded"
	FileDeduplicated FileStatus = "deduplicated"
	FileCompressed   FileStatus = "compressed"
	FileBatched      FileStatus = "batched"
	FileUploaded     FileStatus = "uploaded"
	FileVerified     FileStatus = "verified"
	FileError        FileStatus = "error"
)

// fileOrder assigns each main-line status (every status except error) a
// rank so callers can compare
// "has this file reached at least X" without a long switch statement.
var fileOrder = map[FileStatus]int{
	FileDownloaded:   0,
	FileDeduplicated: 1,
	FileCompressed:   2,
	FileBatched:      3,
	FileUploaded:     4,
	FileVerified:     5,
}

// fileTransitions enumerates the only legal forward moves (spec §4.13's
// state diagram). error is reachable from every non-terminal state and is
// cleared only by explicit operator action (ResetFile), never listed here.
var fileTransitions = map[FileStatus][]FileStatus{
	FileDownloaded:   {FileDeduplicated, FileError},
	FileDeduplicated: {FileCompressed, FileError},
	FileCompressed:   {FileBatched, FileError},
	FileBatched:      {FileUploaded, FileError},
	FileUploaded:     {FileVerified, FileError},
	FileVerified:     {},
	FileError:        {},
}

// CanTransition reports whether moving from s to next is a legal one-way
// step in the file state machine. Always false for same-state (callers that
// want idempotent re-application should special-case it themselves).
func (s FileStatus) CanTransition(next FileStatus) bool {
	for _, allowed := range fileTransitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}

// AtLeast reports whether s is at or past other in the forward ordering.
// error never compares AtLeast anything but itself — it is a side branch,
// not a point on the main line.
func (s FileStatus) AtLeast(other FileStatus) bool {
	so, ok1 := fileOrder[s]
	oo, ok2 := fileOrder[other]

	if !ok1 || !ok2 {
		return s == other
	}

	return so >= oo
}

func (s FileStatus) String() string { return string(s) }

// Valid reports whether s is one of the known statuses.
func (s FileStatus) Valid() bool {
	switch s {
	case FileDownloaded, FileDeduplicated, FileCompressed, FileBatched, FileUploaded, FileVerified, FileError:
		return true
	default:
		return false
	}
}

// Scan implements sql.Scanner.
func (s *FileStatus) Scan(src any) error {
	switch v := src.(type) {
	case string:
		*s = FileStatus(v)
	case []byte:
		*s = FileStatus(v)
	case nil:
		*s = ""
	default:
		return fmt.Errorf("media: FileStatus.Scan: unsupported type %T", src)
	}

	if *s != "" && !s.Valid() {
		return fmt.Errorf("media: FileStatus.Scan: unknown status %q", string(*s))
	}

	return nil
}

// Value implements driver.Valuer.
func (s FileStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// BatchStatus is the lifecycle state of a Batch (spec §4.13).
type BatchStatus string

const (
	BatchCreated   BatchStatus = "created"
	BatchUploading BatchStatus = "uploading"
	BatchUploaded  BatchStatus = "uploaded"
	BatchVerified  BatchStatus = "verified"
	BatchError     BatchStatus = "error"
)

var batchTransitions = map[BatchStatus][]BatchStatus{
	BatchCreated:   {BatchUploading, BatchError},
	BatchUploading: {BatchUploaded, BatchError},
	BatchUploaded:  {BatchVerified, BatchError},
	BatchVerified:  {},
	BatchError:     {},
}

func (s BatchStatus) CanTransition(next BatchStatus) bool {
	for _, allowed := range batchTransitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}

func (s BatchStatus) String() string { return string(s) }

func (s BatchStatus) Valid() bool {
	switch s {
	case BatchCreated, BatchUploading, BatchUploaded, BatchVerified, BatchError:
		return true
	default:
		return false
	}
}

func (s *BatchStatus) Scan(src any) error {
	switch v := src.(type) {
	case string:
		*s = BatchStatus(v)
	case []byte:
		*s = BatchStatus(v)
	case nil:
		*s = ""
	default:
		return fmt.Errorf("media: BatchStatus.Scan: unsupported type %T", src)
	}

	if *s != "" && !s.Valid() {
		return fmt.Errorf("media: BatchStatus.Scan: unknown status %q", string(*s))
	}

	return nil
}

func (s BatchStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// Severity is the log severity enum for LogEntry (spec §3).
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

func (s Severity) String() string { return string(s) }

// IngestKind tags the variant of IngestAdapter that produced a MediaFile.
type IngestKind string

const (
	IngestCloudPhoto  IngestKind = "cloud-photo-source"
	IngestLocalFolder IngestKind = "local-folder-scan"
)

func (k IngestKind) String() string { return string(k) }

// UploadKind tags a Batch's destination.
type UploadKind string

const (
	UploadICloud UploadKind = "icloud"
	UploadPixel  UploadKind = "pixel"
)

func (k UploadKind) String() string { return string(k) }

// Step names the orchestrator phase that produced a LogEntry (spec §3).
type Step string

const (
	StepIngest    Step = "ingest"
	StepDedupe    Step = "dedupe"
	StepCompress  Step = "compress"
	StepStage     Step = "stage"
	StepUpload    Step = "upload"
	StepVerify    Step = "verify"
	StepSort      Step = "sort"
	StepOrchestra Step = "orchestrator"
)

func (s Step) String() string { return string(s) }

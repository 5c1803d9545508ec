package archive

import "github.com/sfdcai/media-pipeline/internal/capturedate"

// DateFromCaptureDate adapts capturedate.Of's fallback chain (EXIF ->
// container creation date -> mtime) to the yyyy/mm/dd bucketing shape
// Engine needs. capturedate.Of only fails to produce any date at all
// when the file itself can't be opened or stat'd — that failure is this
// package's one path into the unknown/ bucket (spec §4.12 step 5).
func DateFromCaptureDate(path string) (yyyy, mm, dd string, ok bool) {
	t, err := capturedate.Of(path)
	if err != nil {
		return "", "", "", false
	}

	return t.Format("2006"), t.Format("01"), t.Format("02"), true
}

// Package capturedate implements the date-extraction fallback chain shared
// by Compressor (C7, age-tiered policy) and Sorter (C12, archive layout):
// EXIF DateTimeOriginal/DateTime, then container creation-date metadata,
// then filesystem mtime, in that order (spec §4.12).
package capturedate

import (
	"encoding/binary"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
)

// exifTimeLayout is the literal format EXIF DateTime fields use.
const exifTimeLayout = "2006:01:02 15:04:05"

// Of resolves path's capture date via the chain: EXIF DateTimeOriginal,
// EXIF DateTime, container creation-date atom (QuickTime/MP4's mvhd box),
// then filesystem mtime. Grounded on perkeep's pkg/schema/schema.go
// FileTime/exifDateTimeInLocation (the GPS-timezone correction there is
// not reused: this pipeline only needs a date for bucketing and age
// comparison, not a precise instant).
func Of(path string) (time.Time, error) {
	f, err := os.Open(path)
	if err != nil {
		return time.Time{}, err
	}
	defer f.Close()

	if t, ok := fromEXIF(f); ok {
		return t, nil
	}

	if t, ok := fromContainer(f); ok {
		return t, nil
	}

	info, err := f.Stat()
	if err != nil {
		return time.Time{}, err
	}

	return info.ModTime(), nil
}

func fromEXIF(f *os.File) (time.Time, bool) {
	if _, err := f.Seek(0, 0); err != nil {
		return time.Time{}, false
	}

	x, err := exif.Decode(f)
	if err != nil {
		return time.Time{}, false
	}

	if tag, err := x.Get(exif.DateTimeOriginal); err == nil {
		if t, ok := parseEXIFTag(tag); ok {
			return t, true
		}
	}

	if tag, err := x.Get(exif.DateTime); err == nil {
		if t, ok := parseEXIFTag(tag); ok {
			return t, true
		}
	}

	return time.Time{}, false
}

func parseEXIFTag(tag *tiff.Tag) (time.Time, bool) {
	s, err := tag.StringVal()
	if err != nil {
		return time.Time{}, false
	}

	s = strings.TrimRight(s, "\x00")

	t, err := time.Parse(exifTimeLayout, s)
	if err != nil {
		return time.Time{}, false
	}

	return t, true
}

// macEpoch is QuickTime/MP4's creation-time epoch: seconds are counted from
// 1904-01-01 rather than the Unix epoch.
var macEpoch = time.Date(1904, 1, 1, 0, 0, 0, 0, time.UTC)

// fromContainer walks a QuickTime/MP4 box tree looking for moov/mvhd and
// reads its creation-time field. Deliberately tolerant: any malformed or
// unrecognized box structure falls through to the mtime fallback rather
// than erroring, matching the EXIF reader's own tolerant-error style. No
// pack dependency parses ISO-BMFF/QuickTime boxes, so this is a documented
// stdlib leaf (spec §1 scopes "arbitrary media transforms" out, and reading
// four bytes out of a creation-time field is not a transform).
func fromContainer(f *os.File) (time.Time, bool) {
	if _, err := f.Seek(0, 0); err != nil {
		return time.Time{}, false
	}

	moov, ok := findBox(f, "moov", 1<<30)
	if !ok {
		return time.Time{}, false
	}

	mvhdOff, mvhdSize, ok := findBoxWithin(f, moov.contentOffset, moov.contentOffset+moov.contentSize, "mvhd")
	if !ok {
		return time.Time{}, false
	}

	if mvhdSize < 12 {
		return time.Time{}, false
	}

	if _, err := f.Seek(mvhdOff, io.SeekStart); err != nil {
		return time.Time{}, false
	}

	header := make([]byte, 12)
	if _, err := io.ReadFull(f, header); err != nil {
		return time.Time{}, false
	}

	version := header[0]

	var creationSeconds uint64

	if version == 1 {
		creationSeconds = binary.BigEndian.Uint64(header[4:12])
	} else {
		creationSeconds = uint64(binary.BigEndian.Uint32(header[4:8]))
	}

	if creationSeconds == 0 {
		return time.Time{}, false
	}

	return macEpoch.Add(time.Duration(creationSeconds) * time.Second), true
}

type box struct {
	name          string
	contentOffset int64
	contentSize   int64
}

// findBox scans top-level boxes from the start of the file up to limit
// bytes, returning the first box matching name.
func findBox(f *os.File, name string, limit int64) (box, bool) {
	var pos int64

	header := make([]byte, 8)

	for pos < limit {
		if _, err := f.Seek(pos, io.SeekStart); err != nil {
			return box{}, false
		}

		if _, err := io.ReadFull(f, header); err != nil {
			return box{}, false
		}

		size := int64(binary.BigEndian.Uint32(header[0:4]))
		boxName := string(header[4:8])

		if size < 8 {
			return box{}, false
		}

		if boxName == name {
			return box{name: name, contentOffset: pos + 8, contentSize: size - 8}, true
		}

		pos += size
	}

	return box{}, false
}

// findBoxWithin scans sibling boxes in [start, end) for the first one
// matching name, returning its content offset and size.
func findBoxWithin(f *os.File, start, end int64, name string) (int64, int64, bool) {
	pos := start

	header := make([]byte, 8)

	for pos < end {
		if _, err := f.Seek(pos, io.SeekStart); err != nil {
			return 0, 0, false
		}

		if _, err := io.ReadFull(f, header); err != nil {
			return 0, 0, false
		}

		size := int64(binary.BigEndian.Uint32(header[0:4]))
		boxName := string(header[4:8])

		if size < 8 {
			return 0, 0, false
		}

		if boxName == name {
			return pos + 8, size - 8, true
		}

		pos += size
	}

	return 0, 0, false
}

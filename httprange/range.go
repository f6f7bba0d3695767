// Package httprange parses the single byte-range form of the HTTP Range
// header used by media players and download managers.
package httprange

import (
	"fmt"
	"strconv"
	"strings"

	"telegram-filestream/apperrors"
)

// Range is an inclusive byte interval.
type Range struct {
	Start int64
	End   int64
}

// Full returns the range covering a whole resource of size bytes. For an
// empty resource the range has zero length.
func Full(size int64) Range {
	return Range{Start: 0, End: size - 1}
}

func (r Range) Length() int64 {
	return r.End - r.Start + 1
}

// ContentRange formats the Content-Range value of a partial response.
func (r Range) ContentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

// UnsatisfiedContentRange formats the Content-Range value sent with 416.
func UnsatisfiedContentRange(size int64) string {
	return fmt.Sprintf("bytes */%d", size)
}

// Parse interprets header against a resource of size bytes.
//
// Only "bytes=start-end" and "bytes=start-" are understood. An absent or
// malformed header yields the full range with partial false and no error:
// the whole file is served instead of failing the request. An end past
// the last byte is clamped. When start is beyond end after clamping the
// error is apperrors.ErrUnsatisfiableRange.
func Parse(header string, size int64) (Range, bool, error) {
	full := Full(size)

	spec, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok || strings.Contains(spec, ",") {
		return full, false, nil
	}
	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok {
		return full, false, nil
	}

	start, ok := parseOffset(startStr)
	if !ok {
		// also rejects the suffix form "bytes=-N"
		return full, false, nil
	}
	end := size - 1
	if strings.TrimSpace(endStr) != "" {
		if end, ok = parseOffset(endStr); !ok {
			return full, false, nil
		}
	}

	if end >= size {
		end = size - 1
	}
	if size <= 0 || start > end {
		return Range{}, false, apperrors.ErrUnsatisfiableRange
	}
	return Range{Start: start, End: end}, true, nil
}

func parseOffset(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

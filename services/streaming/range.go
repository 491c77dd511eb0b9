package streaming

import (
	"fmt"
	"strconv"
	"strings"

	"rossoflix/internal/upstream"
)

// ByteRange is an inclusive span of a resource of known size.
type ByteRange struct {
	Start int64
	End   int64
	// Partial is false when no usable Range header was supplied and the whole
	// resource is served with 200.
	Partial bool
}

func (r ByteRange) Length() int64 { return r.End - r.Start + 1 }

// ContentRange renders the Content-Range header value for a partial response.
func (r ByteRange) ContentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

// UnsatisfiableRangeError reports a range that lies outside the resource. It
// matches upstream.ErrRangeNotSatisfiable.
type UnsatisfiableRangeError struct {
	Header string
	Size   int64
}

func (e *UnsatisfiableRangeError) Error() string {
	return fmt.Sprintf("range %q not satisfiable for %d bytes", e.Header, e.Size)
}

func (e *UnsatisfiableRangeError) Unwrap() error { return upstream.ErrRangeNotSatisfiable }

// ParseRange resolves a Range header against a resource of size bytes.
//
// Only the first range of a multi-range list is honoured. Headers that are not
// syntactically valid byte ranges are ignored and the full resource is served,
// like net/http does. A syntactically valid range that starts at or beyond
// size fails with *UnsatisfiableRangeError.
func ParseRange(header string, size int64) (ByteRange, error) {
	full := ByteRange{Start: 0, End: size - 1}
	header = strings.TrimSpace(header)
	if header == "" {
		return full, nil
	}

	byteSpec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return full, nil
	}
	byteSpec, _, _ = strings.Cut(byteSpec, ",")
	byteSpec = strings.TrimSpace(byteSpec)

	startStr, endStr, ok := strings.Cut(byteSpec, "-")
	if !ok {
		return full, nil
	}
	startStr = strings.TrimSpace(startStr)
	endStr = strings.TrimSpace(endStr)

	if startStr == "" {
		// suffix range: the last N bytes
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n < 0 {
			return full, nil
		}
		if n == 0 || size == 0 {
			return ByteRange{}, &UnsatisfiableRangeError{Header: header, Size: size}
		}
		if n > size {
			n = size
		}
		return ByteRange{Start: size - n, End: size - 1, Partial: true}, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return full, nil
	}
	end := size - 1
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return full, nil
		}
	}

	if start >= size {
		return ByteRange{}, &UnsatisfiableRangeError{Header: header, Size: size}
	}
	if end >= size {
		end = size - 1
	}
	return ByteRange{Start: start, End: end, Partial: true}, nil
}

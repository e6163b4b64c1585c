package upload

import (
	"regexp"
	"strconv"
)

var contentRangePattern = regexp.MustCompile(`^bytes (\d+)-(\d+)/(\d+)$`)

// ByteRange is the position of one chunk inside the whole file
type ByteRange struct {
	Start int64
	End   int64
	Total int64
}

// Size is the number of bytes the range covers
func (r ByteRange) Size() int64 {
	return r.End - r.Start + 1
}

// ParseContentRange reads a "bytes <start>-<end>/<total>" header. Without a
// header the chunk is taken to be the whole file unless one is required.
func ParseContentRange(header string, chunkSize int64, required bool) (ByteRange, error) {
	if header == "" {
		if required {
			return ByteRange{}, NewError(KindMissingRangeHeader, "Content-Range header is required")
		}
		return ByteRange{Start: 0, End: chunkSize - 1, Total: chunkSize}, nil
	}

	match := contentRangePattern.FindStringSubmatch(header)
	if match == nil {
		return ByteRange{}, NewError(KindMalformedRequest, "Error in request headers: %q", header)
	}

	var values [3]int64
	for i, raw := range match[1:] {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return ByteRange{}, NewError(KindMalformedRequest, "Content-Range value out of range: %s", raw)
		}
		values[i] = value
	}

	r := ByteRange{Start: values[0], End: values[1], Total: values[2]}
	if r.Start > r.End || r.End >= r.Total {
		return ByteRange{}, NewError(KindMalformedRequest, "Invalid Content-Range %q", header)
	}
	return r, nil
}

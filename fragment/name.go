package fragment

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/google/uuid"
)

// nameRe matches the fragment directory name format written by Name:
// __<timestamp_lo>_<timestamp_hi>_<uuid>_<format_version>, generalizing
// pamutil.ParsePath's basename regexp from a record-range shard name to
// a timestamp-range fragment name.
var nameRe = regexp.MustCompile(`^__(-?\d+)_(-?\d+)_([0-9a-fA-F-]+)_(\d+)$`)

// ParsedName is Name's inverse.
type ParsedName struct {
	TimestampLo, TimestampHi int64
	ID                       uuid.UUID
	FormatVersion            int
}

// ParseName parses a fragment directory's base name, used by the query
// processor to order concurrently-written fragments by timestamp_hi
// when they logically overlap (spec §5: "the fragment with the larger
// timestamp_hi logically overwrites overlaps in the earlier fragment").
func ParseName(name string) (ParsedName, error) {
	const op = "fragment.ParseName"
	m := nameRe.FindStringSubmatch(name)
	if m == nil {
		return ParsedName{}, fmt.Errorf("%s: %q does not match fragment name format", op, name)
	}
	lo, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return ParsedName{}, fmt.Errorf("%s: %q: %v", op, name, err)
	}
	hi, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return ParsedName{}, fmt.Errorf("%s: %q: %v", op, name, err)
	}
	id, err := uuid.Parse(m[3])
	if err != nil {
		return ParsedName{}, fmt.Errorf("%s: %q: %v", op, name, err)
	}
	ver, err := strconv.Atoi(m[4])
	if err != nil {
		return ParsedName{}, fmt.Errorf("%s: %q: %v", op, name, err)
	}
	return ParsedName{TimestampLo: lo, TimestampHi: hi, ID: id, FormatVersion: ver}, nil
}

package filter

import (
	"crypto/md5"
	"crypto/sha256"

	"github.com/tdb-core/tdb/xerrors"
)

// checksumMD5Filter and checksumSHA256Filter append a digest of the
// input after the raw bytes on encode, and verify+strip it on decode.
// These use the standard library directly: spec §4.4 names the exact
// algorithms (CHECKSUM_MD5, CHECKSUM_SHA256), so there is no degree of
// freedom a third-party library would add — md5/sha256 are named
// primitives, not a swappable concern.
type checksumMD5Filter struct{}

func (checksumMD5Filter) Tag() string { return TagChecksumMD5 }

func (checksumMD5Filter) Encode(data []byte) ([]byte, error) {
	sum := md5.Sum(data)
	out := make([]byte, 0, len(data)+len(sum))
	out = append(out, data...)
	out = append(out, sum[:]...)
	return out, nil
}

func (checksumMD5Filter) Decode(data []byte) ([]byte, error) {
	const op = "checksumMD5Filter.Decode"
	if len(data) < md5.Size {
		return nil, xerrors.E(op, xerrors.Corrupted, "stream too short to carry an MD5 digest")
	}
	body, digest := data[:len(data)-md5.Size], data[len(data)-md5.Size:]
	want := md5.Sum(body)
	if string(want[:]) != string(digest) {
		return nil, xerrors.E(op, xerrors.Corrupted, "MD5 checksum mismatch")
	}
	return body, nil
}

type checksumSHA256Filter struct{}

func (checksumSHA256Filter) Tag() string { return TagChecksumSHA256 }

func (checksumSHA256Filter) Encode(data []byte) ([]byte, error) {
	sum := sha256.Sum256(data)
	out := make([]byte, 0, len(data)+len(sum))
	out = append(out, data...)
	out = append(out, sum[:]...)
	return out, nil
}

func (checksumSHA256Filter) Decode(data []byte) ([]byte, error) {
	const op = "checksumSHA256Filter.Decode"
	if len(data) < sha256.Size {
		return nil, xerrors.E(op, xerrors.Corrupted, "stream too short to carry a SHA-256 digest")
	}
	body, digest := data[:len(data)-sha256.Size], data[len(data)-sha256.Size:]
	want := sha256.Sum256(body)
	if string(want[:]) != string(digest) {
		return nil, xerrors.E(op, xerrors.Corrupted, "SHA-256 checksum mismatch")
	}
	return body, nil
}

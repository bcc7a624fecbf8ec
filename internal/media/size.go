package media

import "fmt"

const bytesPerMB = 1024 * 1024

// SizeEstimate is the result of estimating an artifact's size from a probe.
// The zero value is Unknown.
type SizeEstimate struct {
	Known bool
	Bytes int64
}

// UnknownSize is returned when no usable size is available.
var UnknownSize = SizeEstimate{}

// KnownSize wraps a concrete byte count.
func KnownSize(n int64) SizeEstimate {
	return SizeEstimate{Known: true, Bytes: n}
}

// Exceeds reports whether the estimate is known and larger than limit.
func (s SizeEstimate) Exceeds(limit int64) bool {
	return s.Known && s.Bytes > limit
}

// EstimateSize picks a byte size from probe metadata. A top-level estimate wins;
// otherwise the first mp4 format with a known size is used, then the first
// format with any known size.
func EstimateSize(info ProbeInfo) SizeEstimate {
	if info.EstimatedBytes > 0 {
		return KnownSize(info.EstimatedBytes)
	}
	var best *Format
	for i := range info.Formats {
		f := &info.Formats[i]
		if f.Filesize <= 0 {
			continue
		}
		if f.Ext == "mp4" {
			best = f
			break
		}
		if best == nil {
			best = f
		}
	}
	if best == nil {
		return UnknownSize
	}
	return KnownSize(best.Filesize)
}

// MegabytesToBytes converts a whole-megabyte limit into bytes.
func MegabytesToBytes(mb int) int64 {
	return int64(mb) * bytesPerMB
}

// FormatMB renders n bytes as megabytes with one decimal.
func FormatMB(n int64) string {
	return fmt.Sprintf("%.1f", float64(n)/bytesPerMB)
}

// SizeError reports an artifact found to exceed the limit while it was being
// fetched. Bytes is the best known size.
type SizeError struct {
	Bytes int64
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("%s: %d bytes", ErrTooLarge, e.Bytes)
}

// Unwrap lets errors.Is match ErrTooLarge.
func (e *SizeError) Unwrap() error {
	return ErrTooLarge
}

package protocol

import (
	"sort"
	"strings"
	"time"

	"susm/internal/domain"
)

// NoObjectsLabel describes a record that names no objects.
const NoObjectsLabel = "No objects available"

// GeneratedTime parses the record timestamp. ok is false when it is missing
// or malformed.
func GeneratedTime(r domain.ProtocolRecord) (ts time.Time, ok bool) {
	if r.GeneratedAt == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, r.GeneratedAt)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// SortForDisplay returns the records newest first. Records without a usable
// timestamp count as earliest and go after every dated record, whatever its
// year; ties keep their input order.
func SortForDisplay(records []domain.ProtocolRecord) []domain.ProtocolRecord {
	out := make([]domain.ProtocolRecord, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		ti, iok := GeneratedTime(out[i])
		tj, jok := GeneratedTime(out[j])
		if iok != jok {
			return iok
		}
		return iok && ti.UnixMilli() > tj.UnixMilli()
	})
	return out
}

// Describe lists the object names of a record.
func Describe(r domain.ProtocolRecord) string {
	if len(r.ObjectNames) > 0 {
		return strings.Join(r.ObjectNames, ", ")
	}
	return NoObjectsLabel
}

// FormatGeneratedAt renders the record timestamp in loc, or "" when unset.
func FormatGeneratedAt(r domain.ProtocolRecord, loc *time.Location) string {
	if r.GeneratedAt == "" {
		return ""
	}
	ts, err := time.Parse(time.RFC3339Nano, r.GeneratedAt)
	if err != nil {
		return r.GeneratedAt
	}
	if loc != nil {
		ts = ts.In(loc)
	}
	return ts.Format("2006-01-02 15:04:05")
}

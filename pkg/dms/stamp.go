package dms

import (
	"strings"
	"time"
)

// stampLayouts are tried in order when parsing server timestamps. The DMS
// emits ISO 8601 with an optional fractional part; some firmware versions use
// a comma as the decimal mark, which parseStamp normalizes to a dot first.
var stampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Stamp is a nullable protocol timestamp. Datapoints without a stamp (after a
// DMS restart, or nodes of type "none") carry the null sentinel: Valid is
// false and Time is the zero value.
type Stamp struct {
	Time  time.Time
	Valid bool
}

// StampOf wraps a concrete time in a valid Stamp.
func StampOf(t time.Time) Stamp {
	return Stamp{Time: t, Valid: true}
}

// parseStamp converts a wire timestamp to a Stamp. Absent, null or
// unparseable values map to the null sentinel; the caller decides whether
// that is worth a log line.
func parseStamp(raw any) (Stamp, bool) {
	if raw == nil {
		return Stamp{}, true
	}
	s, ok := raw.(string)
	if !ok {
		return Stamp{}, false
	}
	if s == "" {
		return Stamp{}, true
	}
	normalized := strings.Replace(s, ",", ".", 1)
	for _, layout := range stampLayouts {
		if t, err := time.Parse(layout, normalized); err == nil {
			return Stamp{Time: t, Valid: true}, true
		}
	}
	return Stamp{}, false
}

// String renders the stamp as ISO 8601, or "null" for the sentinel.
func (s Stamp) String() string {
	if !s.Valid {
		return "null"
	}
	return s.Time.Format(time.RFC3339Nano)
}

// StampArg is a timestamp argument in a request. Callers either pass a
// pre-formatted ISO 8601 string verbatim via Timestring, or let Timestamp
// render a time.Time for them.
type StampArg string

// Timestamp renders t as ISO 8601 for use in a request.
func Timestamp(t time.Time) StampArg {
	return StampArg(t.Format(time.RFC3339Nano))
}

// Timestring passes a pre-formatted timestamp through verbatim.
func Timestring(s string) StampArg {
	return StampArg(s)
}

package durable

import (
	"encoding/json"
	"time"
)

// TimeLayout is the on-disk timestamp format.
const TimeLayout = "2006-01-02 15:04:05"

// Timestamp is a local wall-clock time stored as TimeLayout. Unparseable or
// empty values decode to the zero time, which callers treat as "unknown".
type Timestamp struct {
	time.Time
}

// At wraps t, truncated to the second so it survives a round trip.
func At(t time.Time) Timestamp {
	return Timestamp{t.Truncate(time.Second)}
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(ts.Local().Format(TimeLayout))
}

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil || s == "" {
		ts.Time = time.Time{}
		return nil
	}
	t, err := time.ParseInLocation(TimeLayout, s, time.Local)
	if err != nil {
		ts.Time = time.Time{}
		return nil
	}
	ts.Time = t
	return nil
}

func (ts Timestamp) String() string {
	if ts.IsZero() {
		return "unknown"
	}
	return ts.Local().Format(TimeLayout)
}

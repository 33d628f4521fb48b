package tracker

import (
	"net/url"
	"strings"
	"time"

	"jobwatch/pkg/jobs"
)

// Layouts accepted for timestamps in query strings and patch bodies. Zone-less values
// are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

const dateLayout = "2006-01-02"

// parseTimestamp parses s. A plain date is the first instant of that day, or the last one
// when upper is set, so that date-only ranges stay inclusive.
func parseTimestamp(name, s string, upper bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	if d, err := time.Parse(dateLayout, s); err == nil {
		if upper {
			return d.Add(24*time.Hour - time.Microsecond), nil
		}
		return d, nil
	}
	return time.Time{}, jobs.Invalidf("%s: invalid timestamp %q", name, s)
}

func parseCriteria(q url.Values) (jobs.Criteria, error) {
	c := jobs.Criteria{
		JobName: q.Get("jobName"),
		RunID:   q.Get("runId"),
	}

	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status, err := jobs.ParseStatus(raw)
		if err != nil {
			return jobs.Criteria{}, err
		}
		c.Status = status
	}

	bounds := []struct {
		name  string
		upper bool
		dest  **time.Time
	}{
		{"startTimeFrom", false, &c.StartTimeFrom},
		{"startTimeTo", true, &c.StartTimeTo},
		{"endTimeFrom", false, &c.EndTimeFrom},
		{"endTimeTo", true, &c.EndTimeTo},
	}
	for _, b := range bounds {
		raw := q.Get(b.name)
		if strings.TrimSpace(raw) == "" {
			continue
		}
		t, err := parseTimestamp(b.name, raw, b.upper)
		if err != nil {
			return jobs.Criteria{}, err
		}
		*b.dest = &t
	}

	return c, nil
}

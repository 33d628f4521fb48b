package jobs

import (
	"strings"
	"time"
)

// Criteria holds the optional listing filters. Zero values impose no constraint;
// blank strings count as absent.
type Criteria struct {
	JobName       string
	RunID         string
	Status        Status
	StartTimeFrom *time.Time
	StartTimeTo   *time.Time
	EndTimeFrom   *time.Time
	EndTimeTo     *time.Time
}

// Field names a filterable attribute of an execution. Values match the store's column names.
type Field string

const (
	FieldJobName   Field = "job_name"
	FieldRunID     Field = "run_id"
	FieldStatus    Field = "status"
	FieldStartTime Field = "start_time"
	FieldEndTime   Field = "end_time"
)

// Op is the comparison a predicate applies to its field.
type Op int

const (
	// OpContainsFold matches a case-insensitive substring.
	OpContainsFold Op = iota
	// OpEquals matches an exact value.
	OpEquals
	// OpAtLeast matches values greater than or equal to the operand.
	OpAtLeast
	// OpAtMost matches values less than or equal to the operand.
	OpAtMost
)

func (o Op) String() string {
	switch o {
	case OpContainsFold:
		return "contains"
	case OpEquals:
		return "equals"
	case OpAtLeast:
		return "at-least"
	case OpAtMost:
		return "at-most"
	default:
		return "unknown"
	}
}

// Predicate is one independent constraint. String fields carry a string Value,
// time fields a time.Time.
type Predicate struct {
	Field Field
	Op    Op
	Value any
}

// Match reports whether e satisfies the predicate. A time predicate never matches a
// record whose time is unset.
func (p Predicate) Match(e Execution) bool {
	switch p.Field {
	case FieldJobName:
		return matchString(p.Op, e.JobName, p.Value)
	case FieldRunID:
		return matchString(p.Op, e.RunID, p.Value)
	case FieldStatus:
		return matchString(p.Op, string(e.Status), p.Value)
	case FieldStartTime:
		return matchTime(p.Op, &e.StartTime, p.Value)
	case FieldEndTime:
		return matchTime(p.Op, e.EndTime, p.Value)
	default:
		return false
	}
}

func matchString(op Op, have string, operand any) bool {
	want, ok := operand.(string)
	if !ok {
		return false
	}
	switch op {
	case OpContainsFold:
		return strings.Contains(strings.ToLower(have), strings.ToLower(want))
	case OpEquals:
		return have == want
	default:
		return false
	}
}

func matchTime(op Op, have *time.Time, operand any) bool {
	want, ok := operand.(time.Time)
	if !ok || have == nil {
		return false
	}
	switch op {
	case OpAtLeast:
		return !have.Before(want)
	case OpAtMost:
		return !have.After(want)
	case OpEquals:
		return have.Equal(want)
	default:
		return false
	}
}

// Filter is the conjunction of its predicates. An empty Filter matches every record.
type Filter []Predicate

// Match reports whether e satisfies every predicate.
func (f Filter) Match(e Execution) bool {
	for _, p := range f {
		if !p.Match(e) {
			return false
		}
	}
	return true
}

// BuildFilter turns criteria into the list of predicates they imply. Blank strings are
// treated as absent; other values are matched as given.
func BuildFilter(c Criteria) Filter {
	var f Filter
	if strings.TrimSpace(c.JobName) != "" {
		f = append(f, Predicate{Field: FieldJobName, Op: OpContainsFold, Value: c.JobName})
	}
	if strings.TrimSpace(c.RunID) != "" {
		f = append(f, Predicate{Field: FieldRunID, Op: OpEquals, Value: c.RunID})
	}
	if c.Status != "" {
		f = append(f, Predicate{Field: FieldStatus, Op: OpEquals, Value: string(c.Status)})
	}
	f = appendRange(f, FieldStartTime, c.StartTimeFrom, c.StartTimeTo)
	f = appendRange(f, FieldEndTime, c.EndTimeFrom, c.EndTimeTo)
	return f
}

func appendRange(f Filter, field Field, from, to *time.Time) Filter {
	if from != nil {
		f = append(f, Predicate{Field: field, Op: OpAtLeast, Value: from.UTC()})
	}
	if to != nil {
		f = append(f, Predicate{Field: field, Op: OpAtMost, Value: to.UTC()})
	}
	return f
}

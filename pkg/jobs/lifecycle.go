package jobs

import (
	"strings"
	"time"
)

// ValidateStart checks that both natural key fields are present and non-blank.
func ValidateStart(req StartRequest) error {
	var missing []string
	if strings.TrimSpace(req.JobName) == "" {
		missing = append(missing, "jobName")
	}
	if strings.TrimSpace(req.RunID) == "" {
		missing = append(missing, "runId")
	}
	switch len(missing) {
	case 0:
		return nil
	case 1:
		return validationErrorf("%s is mandatory", missing[0])
	default:
		return validationErrorf("both jobName and runId are mandatory")
	}
}

// ValidateKey checks a natural key used to address an update.
func ValidateKey(key NaturalKey) error {
	return ValidateStart(StartRequest{JobName: key.JobName, RunID: key.RunID})
}

// NewExecution builds the record created for req. Status is forced to RUNNING and the
// start time to now, whatever the request carried.
func NewExecution(req StartRequest, now time.Time) Execution {
	return Execution{
		JobName:   req.JobName,
		RunID:     req.RunID,
		Status:    StatusRunning,
		StartTime: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NormalizePatch validates the status carried by p, if any, and canonicalises its case.
func NormalizePatch(p Patch) (Patch, error) {
	if p.Status == nil {
		return p, nil
	}
	status, err := ParseStatus(string(*p.Status))
	if err != nil {
		return Patch{}, err
	}
	p.Status = &status
	return p, nil
}

// ApplyUpdate merges patch into existing and returns the result without persisting it.
//
// Present fields overwrite, absent fields are kept. Reaching SUCCESS or FAILED without an
// explicit end time stamps now as the end time, unless one is already recorded. An
// explicit end time always wins. An error message overwrites whatever was stored,
// regardless of status.
func ApplyUpdate(existing Execution, patch Patch, now time.Time) (Execution, error) {
	merged := existing

	if patch.Status != nil {
		next := *patch.Status
		if !next.Valid() {
			return existing, validationErrorf("unknown status %q", string(next))
		}
		if existing.Status.Terminal() && next != existing.Status {
			return existing, transitionErrorf(existing.Status, next)
		}
		merged.Status = next
	}

	switch {
	case patch.EndTime != nil:
		end := *patch.EndTime
		merged.EndTime = &end
	case patch.Status != nil && patch.Status.Terminal() && merged.EndTime == nil:
		end := now
		if end.Before(merged.StartTime) {
			end = merged.StartTime
		}
		merged.EndTime = &end
	}

	if merged.EndTime != nil && merged.EndTime.Before(merged.StartTime) {
		return existing, validationErrorf("endTime %s is before startTime %s",
			merged.EndTime.Format(time.RFC3339Nano), merged.StartTime.Format(time.RFC3339Nano))
	}

	if patch.ErrorMessage != nil {
		merged.ErrorMessage = *patch.ErrorMessage
	}

	merged.UpdatedAt = now
	return merged, nil
}

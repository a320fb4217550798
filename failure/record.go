package failure

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
)

// ErrorInfo carries the caller-side context of a failure.
type ErrorInfo struct {
	// Function and Module name the code that failed.
	Function string
	Module   string

	// Metadata is copied into the record. Values JSON cannot encode are
	// stored as their fmt.Sprint form.
	Metadata map[string]any

	// Free-form correlation fields.
	WorkflowID  string
	SubjectName string
	SubjectURL  string
}

// Record describes one terminal failure. Records are immutable; accessors on
// Handler hand out copies.
type Record struct {
	ErrorID       string         `json:"error_id"`
	Timestamp     time.Time      `json:"timestamp"`
	Severity      Severity       `json:"severity"`
	Category      Category       `json:"category"`
	Message       string         `json:"message"`
	ExceptionType string         `json:"exception_type"`
	Traceback     string         `json:"traceback_str"`
	Function      string         `json:"function_name"`
	Module        string         `json:"module_name"`
	Metadata      map[string]any `json:"metadata"`
	WorkflowID    string         `json:"workflow_id,omitempty"`
	SubjectName   string         `json:"database_name,omitempty"`
	SubjectURL    string         `json:"repository_url,omitempty"`
}

func newRecord(err error, info ErrorInfo, severity Severity, category Category, now time.Time) Record {
	if err == nil {
		err = ErrNilError
	}
	md := encodableMetadata(info.Metadata)
	return Record{
		ErrorID:       uuid.NewString(),
		Timestamp:     now.UTC(),
		Severity:      severity,
		Category:      category,
		Message:       err.Error(),
		ExceptionType: errorType(err),
		Traceback:     string(debug.Stack()),
		Function:      info.Function,
		Module:        info.Module,
		Metadata:      md,
		WorkflowID:    info.WorkflowID,
		SubjectName:   info.SubjectName,
		SubjectURL:    info.SubjectURL,
	}
}

// encodableMetadata copies md, replacing values json.Marshal rejects
// (NaN, infinities, channels, funcs) with their fmt.Sprint form.
func encodableMetadata(md map[string]any) map[string]any {
	out := make(map[string]any, len(md))
	for k, v := range md {
		if _, err := json.Marshal(v); err != nil {
			v = fmt.Sprint(v)
		}
		out[k] = v
	}
	return out
}

// errorType returns the dynamic type of the innermost error in a single
// Unwrap chain. Joined errors stop the walk.
func errorType(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return fmt.Sprintf("%T", err)
		}
		err = next
	}
}

func (r Record) clone() Record {
	r.Metadata = maps.Clone(r.Metadata)
	return r
}

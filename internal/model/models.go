// Package model holds the TestRail wire types shared by the client, the relay
// and the delivery recorders.
package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Status is a TestRail result status id. Custom statuses configured on a
// TestRail instance start at 6.
type Status int

const (
	StatusPassed   Status = 1
	StatusBlocked  Status = 2
	StatusUntested Status = 3
	StatusRetest   Status = 4
	StatusFailed   Status = 5
)

var statusNames = map[Status]string{
	StatusPassed:   "passed",
	StatusBlocked:  "blocked",
	StatusUntested: "untested",
	StatusRetest:   "retest",
	StatusFailed:   "failed",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}

	return fmt.Sprintf("custom(%d)", int(s))
}

// ParseStatus accepts either a status name ("passed") or its numeric id.
func ParseStatus(v string) (Status, error) {
	for s, name := range statusNames {
		if strings.EqualFold(name, v) {
			return s, nil
		}
	}

	id, err := strconv.Atoi(v)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("unknown status %q", v)
	}

	return Status(id), nil
}

// Result is the outcome recorded against a case within a run. The fields
// are forwarded verbatim, the response only fields are filled in by TestRail.
type Result struct {
	// CaseID is required when results are added in bulk via add_results_for_cases.
	CaseID   int    `json:"case_id,omitempty"`
	StatusID Status `json:"status_id,omitempty"`
	Comment  string `json:"comment,omitempty"`
	// Elapsed is a TestRail timespan such as "30s" or "1m 45s", see Elapsed.
	Elapsed    string `json:"elapsed,omitempty"`
	Version    string `json:"version,omitempty"`
	Defects    string `json:"defects,omitempty"`
	AssignedTo int    `json:"assignedto_id,omitempty"`

	ID        int   `json:"id,omitempty"`
	TestID    int   `json:"test_id,omitempty"`
	CreatedOn int64 `json:"created_on,omitempty"`
}

// Elapsed formats d as a TestRail timespan. TestRail rejects "0s" so
// anything below a second is reported as one second.
func Elapsed(d time.Duration) string {
	if d <= 0 {
		return ""
	}

	secs := int64((d + time.Second - 1) / time.Second)

	h := secs / 3600
	m := (secs % 3600) / 60
	s := secs % 60

	parts := []string{}
	if h > 0 {
		parts = append(parts, fmt.Sprintf("%dh", h))
	}
	if m > 0 {
		parts = append(parts, fmt.Sprintf("%dm", m))
	}
	if s > 0 {
		parts = append(parts, fmt.Sprintf("%ds", s))
	}

	return strings.Join(parts, " ")
}

// Run is a named collection of test cases tracked together.
type Run struct {
	ID          int    `json:"id"`
	SuiteID     int    `json:"suite_id"`
	ProjectID   int    `json:"project_id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IncludeAll  bool   `json:"include_all"`
	CaseIDs     []int  `json:"case_ids,omitempty"`
	IsCompleted bool   `json:"is_completed"`
	// CreatedOn is a unix timestamp in seconds.
	CreatedOn int64  `json:"created_on"`
	URL       string `json:"url,omitempty"`
}

// NewRun is the payload of add_run.
type NewRun struct {
	SuiteID     int    `json:"suite_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IncludeAll  *bool  `json:"include_all,omitempty"`
	CaseIDs     []int  `json:"case_ids,omitempty"`
}

// Test is an instance of a case inside a run.
type Test struct {
	ID       int    `json:"id"`
	CaseID   int    `json:"case_id"`
	RunID    int    `json:"run_id"`
	StatusID Status `json:"status_id"`
	Title    string `json:"title"`
}

// Delivery describes the outcome of a single forwarded call.
type Delivery struct {
	ID        int    `json:"id"`
	Operation string `json:"operation"`
	RunID     int    `json:"runId"`
	// Items counts the results or case ids that were sent.
	Items      int       `json:"items"`
	Success    bool      `json:"success"`
	StatusCode int       `json:"statusCode,omitempty"`
	Error      string    `json:"error,omitempty"`
	Time       time.Time `json:"time"`
}

// Package client forwards test results to the TestRail REST API.
//
// Every operation reports failures twice: once as a log entry carrying the
// error text and once as the returned error, so callers that only care about
// best-effort delivery may ignore the error.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/raphi011/testrail/internal/metric"
	"github.com/raphi011/testrail/internal/model"
	"golang.org/x/exp/slices"
)

type (
	Result = model.Result
	Run    = model.Run
	NewRun = model.NewRun
	Test   = model.Test
)

// Config is the connection configuration of a Client. It is copied on
// construction and cannot be changed afterwards.
type Config struct {
	// Domain is the host of the TestRail instance, e.g. "example.testrail.io".
	Domain    string `yaml:"domain"`
	ProjectID int    `yaml:"projectId"`
	Username  string `yaml:"username"`
	APIToken  string `yaml:"apiToken"`
	// IncludeAll is the default for new runs: include every case of the suite
	// instead of the selected case ids only.
	IncludeAll bool `yaml:"includeAll"`
}

// DeliveryRecorder receives the outcome of every forwarded write.
type DeliveryRecorder interface {
	RecordDelivery(ctx context.Context, d model.Delivery)
}

type Client struct {
	http       *http.Client
	baseURL    string
	projectID  int
	username   string
	apiToken   string
	includeAll bool

	log       *slog.Logger
	recorders []DeliveryRecorder
}

type Option func(c *Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// WithRecorder adds a recorder that is notified after every write. Can be
// passed multiple times.
func WithRecorder(r DeliveryRecorder) Option {
	return func(c *Client) {
		c.recorders = append(c.recorders, r)
	}
}

type RequestError struct {
	ResponseCode int
	// Message is the error text TestRail sent along, if any.
	Message string
}

func (e RequestError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("request failed with status %d: %s", e.ResponseCode, e.Message)
	}

	return fmt.Sprintf("request failed with status %d", e.ResponseCode)
}

// RunUpdate is the outcome of UpdateTestRun.
type RunUpdate struct {
	Run Run
	// CaseIDs is the merged list that was sent: the caller's ids followed
	// by the ids of the tests already part of the run.
	CaseIDs []int
}

func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		http:       http.DefaultClient,
		baseURL:    BaseURL(cfg.Domain),
		projectID:  cfg.ProjectID,
		username:   cfg.Username,
		apiToken:   cfg.APIToken,
		includeAll: cfg.IncludeAll,
		log:        slog.Default(),
	}

	for _, o := range opts {
		o(c)
	}

	return c
}

// BaseURL returns the API root of the TestRail instance at domain.
func BaseURL(domain string) string {
	return "https://" + domain + "/index.php?/api/v2"
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) ProjectID() int {
	return c.projectID
}

func (c *Client) IncludeAll() bool {
	return c.includeAll
}

// UpdateTestRunResults adds results for multiple cases of a run at once.
func (c *Client) UpdateTestRunResults(ctx context.Context, runID int, results []Result) ([]Result, error) {
	if results == nil {
		results = []Result{}
	}

	var added []Result

	status, err := c.do(ctx, "add_results_for_cases", http.MethodPost,
		c.url("/add_results_for_cases/%d", runID), model.ResultsRequest{Results: results}, &added)

	c.deliver(ctx, model.Delivery{Operation: "add_results_for_cases", RunID: runID, Items: len(results)}, status, err)

	if err != nil {
		c.log.Error("failed to update test run results", "run-id", runID, "error", err)
		return nil, err
	}

	return added, nil
}

// UpdateTestRun sets the case selection of a run to caseIDs plus every case
// that already has a test in the run. If the existing tests cannot be
// fetched the update is still sent with caseIDs only. caseIDs is not
// modified.
//
// Each failed step is logged on its own, so a call where both the fetch and
// the update fail produces two log entries rather than one.
func (c *Client) UpdateTestRun(ctx context.Context, runID int, caseIDs []int) (RunUpdate, error) {
	merged := slices.Clone(caseIDs)
	if merged == nil {
		merged = []int{}
	}

	tests, err := c.getTests(ctx, runID)
	if err != nil {
		c.log.Error("error getting test run", "run-id", runID, "error", err)
	}

	for _, t := range tests {
		merged = append(merged, t.CaseID)
	}

	var run Run

	status, err := c.do(ctx, "update_run", http.MethodPost,
		c.url("/update_run/%d", runID), model.CaseIDsRequest{CaseIDs: merged}, &run)

	c.deliver(ctx, model.Delivery{Operation: "update_run", RunID: runID, Items: len(merged)}, status, err)

	if err != nil {
		c.log.Error("failed to update test run", "run-id", runID, "error", err)
		return RunUpdate{CaseIDs: merged}, err
	}

	return RunUpdate{Run: run, CaseIDs: merged}, nil
}

// PushResult adds a single result for a case of a run and waits for
// TestRail to acknowledge it.
func (c *Client) PushResult(ctx context.Context, runID, caseID int, result Result) (Result, error) {
	var added Result

	status, err := c.do(ctx, "add_result_for_case", http.MethodPost,
		c.url("/add_result_for_case/%d/%d", runID, caseID), result, &added)

	c.deliver(ctx, model.Delivery{Operation: "add_result_for_case", RunID: runID, Items: 1}, status, err)

	if err != nil {
		c.log.Error("failed to push results", "run-id", runID, "case-id", caseID, "error", err)
		return Result{}, err
	}

	return added, nil
}

// FindRunsMatchingName returns all runs of the suite whose name matches the
// regular expression pattern, in the order TestRail lists them.
func (c *Client) FindRunsMatchingName(ctx context.Context, suiteID int, pattern string) ([]Run, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		err = fmt.Errorf("invalid run name pattern %q: %w", pattern, err)
		c.log.Error("failed to get test run id", "suite-id", suiteID, "error", err)
		return nil, err
	}

	runs, err := c.getRuns(ctx, suiteID)
	if err != nil {
		c.log.Error("failed to get test run id", "suite-id", suiteID, "error", err)
		return nil, err
	}

	matches := []Run{}

	for _, r := range runs {
		if re.MatchString(r.Name) {
			matches = append(matches, r)
		}
	}

	return matches, nil
}

// LatestRunMatchingName returns the most recently created run whose name
// matches pattern.
func (c *Client) LatestRunMatchingName(ctx context.Context, suiteID int, pattern string) (Run, error) {
	runs, err := c.FindRunsMatchingName(ctx, suiteID, pattern)
	if err != nil {
		return Run{}, err
	}

	if len(runs) == 0 {
		return Run{}, model.NotFoundError{}
	}

	latest := runs[0]

	for _, r := range runs[1:] {
		if r.CreatedOn > latest.CreatedOn {
			latest = r
		}
	}

	return latest, nil
}

// AddRun creates a new run in the configured project. If run.IncludeAll is
// unset the client's include-all default is used.
func (c *Client) AddRun(ctx context.Context, run NewRun) (Run, error) {
	if run.IncludeAll == nil {
		includeAll := c.includeAll
		run.IncludeAll = &includeAll
	}

	var created Run

	status, err := c.do(ctx, "add_run", http.MethodPost, c.url("/add_run/%d", c.projectID), run, &created)

	c.deliver(ctx, model.Delivery{Operation: "add_run", RunID: created.ID, Items: len(run.CaseIDs)}, status, err)

	if err != nil {
		c.log.Error("failed to add test run", "suite-id", run.SuiteID, "name", run.Name, "error", err)
		return Run{}, err
	}

	return created, nil
}

// GetTests lists the tests of a run.
func (c *Client) GetTests(ctx context.Context, runID int) ([]Test, error) {
	tests, err := c.getTests(ctx, runID)
	if err != nil {
		c.log.Error("failed to get tests", "run-id", runID, "error", err)
		return nil, err
	}

	return tests, nil
}

// GetRuns lists the runs of a suite in the configured project.
func (c *Client) GetRuns(ctx context.Context, suiteID int) ([]Run, error) {
	runs, err := c.getRuns(ctx, suiteID)
	if err != nil {
		c.log.Error("failed to get test runs", "suite-id", suiteID, "error", err)
		return nil, err
	}

	return runs, nil
}

func (c *Client) getTests(ctx context.Context, runID int) ([]Test, error) {
	var res model.TestsResponse

	if _, err := c.do(ctx, "get_tests", http.MethodGet, c.url("/get_tests/%d", runID), nil, &res); err != nil {
		return nil, err
	}

	return res.Tests, nil
}

func (c *Client) getRuns(ctx context.Context, suiteID int) ([]Run, error) {
	var res model.RunsResponse

	if _, err := c.do(ctx, "get_runs", http.MethodGet,
		c.url("/get_runs/%d&suite_id=%d", c.projectID, suiteID), nil, &res); err != nil {
		return nil, err
	}

	return res.Runs, nil
}

func (c *Client) deliver(ctx context.Context, d model.Delivery, status int, err error) {
	d.Time = time.Now()
	d.StatusCode = status
	d.Success = err == nil
	if err != nil {
		d.Error = err.Error()
	}

	for _, r := range c.recorders {
		r.RecordDelivery(ctx, d)
	}
}

func (c *Client) url(path string, args ...any) string {
	return c.baseURL + fmt.Sprintf(path, args...)
}

// do sends payload (if any) as JSON and decodes the response into body (if
// any). The returned status code is 0 if no response was received.
func (c *Client) do(ctx context.Context, endpoint, method, url string, payload, body any) (int, error) {
	start := time.Now()

	status, err := c.roundTrip(ctx, method, url, payload, body)

	metric.RequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

	result := "success"
	if err != nil {
		result = "failure"
	}
	metric.RequestsTotal.WithLabelValues(endpoint, result).Inc()

	return status, err
}

func (c *Client) roundTrip(ctx context.Context, method, url string, payload, body any) (int, error) {
	var reqBody io.Reader

	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("encoding request body: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return 0, err
	}

	req.SetBasicAuth(c.username, c.apiToken)
	req.Header.Add("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		reqErr := RequestError{ResponseCode: res.StatusCode}

		var e model.ErrorResponse
		if json.NewDecoder(io.LimitReader(res.Body, 1<<16)).Decode(&e) == nil {
			reqErr.Message = e.Error
		}

		return res.StatusCode, reqErr
	}

	if body != nil {
		d := json.NewDecoder(res.Body)

		if err = d.Decode(body); err != nil && !errors.Is(err, io.EOF) {
			return res.StatusCode, fmt.Errorf("decoding response: %w", err)
		}
	}

	return res.StatusCode, nil
}

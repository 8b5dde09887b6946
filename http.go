package testrail

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/raphi011/testrail/internal/model"
)

const defaultDeliveriesLimit = 100

type MalformedRequestError struct {
	param string
	err   error
}

func (e MalformedRequestError) Error() string {
	if e.err != nil {
		return "malformed request param " + e.param + ": " + e.err.Error()
	}

	return "malformed request param: " + e.param
}

func (r *Relay) router() http.Handler {
	router := httprouter.New()

	router.POST("/runs/:run-id/results", r.AddResults)
	router.POST("/runs/:run-id/cases/:case-id/result", r.AddResult)
	router.PUT("/runs/:run-id/cases", r.UpdateRunCases)
	router.POST("/suites/:suite-id/runs", r.AddRun)
	router.GET("/suites/:suite-id/runs", r.FindRuns)
	router.GET("/deliveries", r.GetDeliveries)
	router.Handler(http.MethodGet, "/metrics", promhttp.Handler())

	return router
}

// httpError maps err to a status code. Anything that is not the caller's
// fault is reported as a bad gateway since the relay itself keeps no state.
func (r *Relay) httpError(w http.ResponseWriter, err error) {
	var notFound model.NotFoundError
	var malformedRequest MalformedRequestError

	status := http.StatusBadGateway

	if errors.As(err, &notFound) {
		status = http.StatusNotFound
	} else if errors.As(err, &malformedRequest) {
		status = http.StatusBadRequest
	}

	r.writeJSON(w, status, model.ErrorResponse{Error: err.Error()})
}

func (r *Relay) writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err = w.Write(body); err != nil {
		r.log.Warn("error writing body", "error", err)
	}
}

func (r *Relay) AddResults(w http.ResponseWriter, req *http.Request, p httprouter.Params) {
	runID, err := intParam(p, "run-id")
	if err != nil {
		r.httpError(w, err)
		return
	}

	var body model.ResultsRequest
	if err = decodeBody(req, &body); err != nil {
		r.httpError(w, err)
		return
	}

	added, err := r.client.UpdateTestRunResults(req.Context(), runID, body.Results)
	if err != nil {
		r.httpError(w, err)
		return
	}

	r.writeJSON(w, http.StatusOK, added)
}

func (r *Relay) AddResult(w http.ResponseWriter, req *http.Request, p httprouter.Params) {
	runID, err := intParam(p, "run-id")
	if err != nil {
		r.httpError(w, err)
		return
	}

	caseID, err := intParam(p, "case-id")
	if err != nil {
		r.httpError(w, err)
		return
	}

	var result model.Result
	if err = decodeBody(req, &result); err != nil {
		r.httpError(w, err)
		return
	}

	added, err := r.client.PushResult(req.Context(), runID, caseID, result)
	if err != nil {
		r.httpError(w, err)
		return
	}

	r.writeJSON(w, http.StatusOK, added)
}

func (r *Relay) UpdateRunCases(w http.ResponseWriter, req *http.Request, p httprouter.Params) {
	runID, err := intParam(p, "run-id")
	if err != nil {
		r.httpError(w, err)
		return
	}

	var body model.CaseIDsRequest
	if err = decodeBody(req, &body); err != nil {
		r.httpError(w, err)
		return
	}

	update, err := r.client.UpdateTestRun(req.Context(), runID, body.CaseIDs)
	if err != nil {
		r.httpError(w, err)
		return
	}

	r.writeJSON(w, http.StatusOK, model.CaseIDsRequest{CaseIDs: update.CaseIDs})
}

func (r *Relay) AddRun(w http.ResponseWriter, req *http.Request, p httprouter.Params) {
	suiteID, err := intParam(p, "suite-id")
	if err != nil {
		r.httpError(w, err)
		return
	}

	var run model.NewRun
	if err = decodeBody(req, &run); err != nil {
		r.httpError(w, err)
		return
	}

	run.SuiteID = suiteID

	created, err := r.client.AddRun(req.Context(), run)
	if err != nil {
		r.httpError(w, err)
		return
	}

	r.writeJSON(w, http.StatusCreated, created)
}

// FindRuns lists the runs whose name matches the `name` query param. With
// `latest=true` only the most recently created match is returned.
func (r *Relay) FindRuns(w http.ResponseWriter, req *http.Request, p httprouter.Params) {
	suiteID, err := intParam(p, "suite-id")
	if err != nil {
		r.httpError(w, err)
		return
	}

	q := req.URL.Query()
	pattern := q.Get("name")

	if _, err = regexp.Compile(pattern); err != nil {
		r.httpError(w, MalformedRequestError{param: "name", err: err})
		return
	}

	if latest, _ := strconv.ParseBool(q.Get("latest")); latest {
		run, err := r.client.LatestRunMatchingName(req.Context(), suiteID, pattern)
		if err != nil {
			r.httpError(w, err)
			return
		}

		r.writeJSON(w, http.StatusOK, run)
		return
	}

	runs, err := r.client.FindRunsMatchingName(req.Context(), suiteID, pattern)
	if err != nil {
		r.httpError(w, err)
		return
	}

	r.writeJSON(w, http.StatusOK, model.RunsResponse{Runs: runs})
}

func (r *Relay) GetDeliveries(w http.ResponseWriter, req *http.Request, p httprouter.Params) {
	if r.journal == nil {
		r.httpError(w, model.NotFoundError{})
		return
	}

	limit := defaultDeliveriesLimit

	if l := req.URL.Query().Get("limit"); l != "" {
		var err error
		if limit, err = strconv.Atoi(l); err != nil || limit <= 0 {
			r.httpError(w, MalformedRequestError{param: "limit"})
			return
		}
	}

	deliveries, err := r.journal.LoadDeliveries(req.Context(), limit)
	if err != nil {
		r.log.Error("unable to load deliveries", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	r.writeJSON(w, http.StatusOK, deliveries)
}

func intParam(p httprouter.Params, name string) (int, error) {
	v, err := strconv.Atoi(p.ByName(name))
	if err != nil || v <= 0 {
		return 0, MalformedRequestError{param: name}
	}

	return v, nil
}

func decodeBody(req *http.Request, v any) error {
	if err := json.NewDecoder(req.Body).Decode(v); err != nil {
		return MalformedRequestError{param: "body", err: err}
	}

	return nil
}

package model

// ResultsRequest is the body of add_results_for_cases and of the relay's
// bulk result endpoint.
type ResultsRequest struct {
	Results []Result `json:"results"`
}

// CaseIDsRequest is the body of update_run and of the relay's case endpoint.
type CaseIDsRequest struct {
	CaseIDs []int `json:"case_ids"`
}

type TestsResponse struct {
	Tests []Test `json:"tests"`
}

type RunsResponse struct {
	Runs []Run `json:"runs"`
}

// ErrorResponse is the body TestRail sends along with non 2xx responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

package testrail_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/launchdarkly/go-test-helpers/v2/httphelpers"
	"github.com/raphi011/testrail"
	"github.com/raphi011/testrail/client"
	"github.com/raphi011/testrail/internal/storage"
	"github.com/stretchr/testify/require"
)

const defaultTimeout = 3 * time.Second

// fakeTestRail routes requests by the endpoint encoded in the query string.
type fakeTestRail map[string]http.Handler

func (f fakeTestRail) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h, ok := f[strings.TrimPrefix(r.URL.RawQuery, "/api/v2/")]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	h.ServeHTTP(w, r)
}

type test struct {
	relay    *testrail.Relay
	journal  *storage.Journal
	baseURL  string
	upstream <-chan httphelpers.HTTPRequestInfo
}

func acceptanceTest(t *testing.T, upstream fakeTestRail, opts ...testrail.Option) *test {
	t.Helper()

	rh, requests := httphelpers.RecordingHandler(upstream)

	srv := httptest.NewTLSServer(rh)
	t.Cleanup(srv.Close)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	j := newTestJournal(t)

	c := client.New(client.Config{
		Domain:    strings.TrimPrefix(srv.URL, "https://"),
		ProjectID: 7,
		Username:  "reporter@example.com",
		APIToken:  "secret",
	}, client.WithHTTPClient(srv.Client()), client.WithLogger(log), client.WithRecorder(j))

	opts = append([]testrail.Option{testrail.WithPort(0), testrail.WithJournal(j), testrail.WithLogger(log)}, opts...)

	r := testrail.New(c, opts...)

	go func() {
		_ = r.Run()
	}()

	require.NoError(t, r.WaitForStartup(), "relay should start")

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
		defer cancel()
		_ = r.Shutdown(ctx)
	})

	return &test{
		relay:    r,
		journal:  j,
		baseURL:  fmt.Sprintf("http://localhost:%d", r.ServerPort()),
		upstream: requests,
	}
}

func (ti *test) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()

	var reqBody io.Reader

	switch b := body.(type) {
	case nil:
	case string:
		reqBody = strings.NewReader(b)
	default:
		encoded, err := json.Marshal(b)
		require.NoError(t, err)
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, ti.baseURL+path, reqBody)
	require.NoError(t, err)

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	resBody, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	return res.StatusCode, resBody
}

func newTestJournal(t *testing.T) *storage.Journal {
	t.Helper()

	j, err := storage.NewJournal("", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	return j
}

package integration_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/awmpietro/golang-declarative-debugger/internal/app"
	"github.com/awmpietro/golang-declarative-debugger/internal/cache"
	"github.com/awmpietro/golang-declarative-debugger/internal/collect"
	"github.com/awmpietro/golang-declarative-debugger/internal/transport/httptransport"
	"github.com/awmpietro/golang-declarative-debugger/internal/transport/sessiondto"
)

// r answers 7 where the caller expected something else; pick passes it on.
const wrongSeven = `name in ["r", "pick"] && args[0] == 7`

func readLog(t *testing.T) json.RawMessage {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", "pick.json"))
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func newDiagnoseServer(reg prometheus.Registerer) *httptest.Server {
	opts := []app.ServiceOption{}
	if reg != nil {
		metrics := collect.NewPrometheusObserver(reg)
		opts = append(opts, app.WithEventObserver(metrics), app.WithSessionObserver(metrics))
	}
	svc := app.NewService(cache.NewInMemory(16), opts...)
	h := httptransport.NewHandler(svc)

	mux := http.NewServeMux()
	mux.HandleFunc("/diagnose", h.Diagnose)
	return httptest.NewServer(mux)
}

func postDiagnose(t *testing.T, srv *httptest.Server, payload any) (int, sessiondto.DiagnoseResponse, string) {
	t.Helper()
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload failed: %v", err)
	}
	resp, err := http.Post(srv.URL+"/diagnose", "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("post /diagnose failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response failed: %v", err)
	}
	var out sessiondto.DiagnoseResponse
	_ = json.Unmarshal(body, &out)
	return resp.StatusCode, out, string(body)
}

func verdictStrings(res sessiondto.DiagnoseResponse) []string {
	out := make([]string, len(res.Verdicts))
	for i, v := range res.Verdicts {
		out[i] = v.String()
	}
	return out
}

func TestHTTPDiagnose_FindsBugInsideDisjunction(t *testing.T) {
	srv := newDiagnoseServer(nil)
	defer srv.Close()

	status, out, body := postDiagnose(t, srv, sessiondto.DiagnoseRequest{
		Log:        readLog(t),
		At:         16,
		Assertions: []string{wrongSeven},
	})
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	if got := strings.Join(verdictStrings(out), ","); got != "bug_found(event=8)" {
		t.Fatalf("unexpected verdicts %s", got)
	}
	if out.Stop.At != 8 || out.Stop.Breakpoint == nil {
		t.Fatalf("expected breakpoint stop at 8, got %+v", out.Stop)
	}
	if out.Tree == nil || len(out.Tree.Nodes) == 0 {
		t.Fatalf("expected the collected tree in the response")
	}
	kinds := strings.Join(out.Tree.Kinds(), ",")
	for _, k := range []string{"first_disj", "later_disj", "cond", "then"} {
		if !strings.Contains(kinds, k) {
			t.Fatalf("expected a %s node in %s", k, kinds)
		}
	}
}

func TestHTTPDiagnose_RestartsUntilTheBugIsMaterialized(t *testing.T) {
	reg := prometheus.NewRegistry()
	srv := newDiagnoseServer(reg)
	defer srv.Close()

	status, out, body := postDiagnose(t, srv, sessiondto.DiagnoseRequest{
		Log:        readLog(t),
		At:         16,
		Assertions: []string{wrongSeven},
		DepthStep:  1,
	})
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}

	want := "require_subtree(event=9, seqno=2),require_subtree(event=8, seqno=4),bug_found(event=8)"
	if got := strings.Join(verdictStrings(out), ","); got != want {
		t.Fatalf("verdicts = %s, want %s", got, want)
	}
	if out.Restarts != 2 || out.Retries != 4 {
		t.Fatalf("expected 2 restarts and 4 retries, got %d and %d", out.Restarts, out.Retries)
	}
	if out.Stop.At != 8 {
		t.Fatalf("expected stop at 8, got %+v", out.Stop)
	}

	expected := `
# HELP decldebug_restarts_total Collections restarted to materialize a subtree.
# TYPE decldebug_restarts_total counter
decldebug_restarts_total 2
# HELP decldebug_verdicts_total Front end verdicts by kind.
# TYPE decldebug_verdicts_total counter
decldebug_verdicts_total{kind="bug_found"} 1
decldebug_verdicts_total{kind="require_subtree"} 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "decldebug_restarts_total", "decldebug_verdicts_total"); err != nil {
		t.Fatal(err)
	}
	if n := testutil.CollectAndCount(reg, "decldebug_events_total"); n == 0 {
		t.Fatalf("expected event counters")
	}
}

func TestHTTPDiagnose_RenderReturnsDOT(t *testing.T) {
	srv := newDiagnoseServer(nil)
	defer srv.Close()

	status, out, body := postDiagnose(t, srv, sessiondto.DiagnoseRequest{Log: readLog(t), At: 9, Render: true})
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	if !strings.HasPrefix(out.DOT, "digraph") {
		t.Fatalf("expected DOT output, got %q", out.DOT)
	}
	if len(out.Verdicts) != 0 {
		t.Fatalf("render does not diagnose")
	}
}

func TestHTTPDiagnose_InputErrors(t *testing.T) {
	srv := newDiagnoseServer(nil)
	defer srv.Close()

	tests := []struct {
		name    string
		payload any
		want    int
		details string
	}{
		{name: "invalid_json", payload: json.RawMessage(`"x"`), want: http.StatusBadRequest},
		{name: "missing_event", payload: map[string]any{"log": readLog(t), "at": 99, "assertions": []string{"true"}}, want: http.StatusBadRequest, details: "event 99 is not in the log"},
		{name: "bad_assertion", payload: map[string]any{"log": readLog(t), "at": 16, "assertions": []string{"exec(1)"}}, want: http.StatusBadRequest},
		{name: "bad_log", payload: map[string]any{"log": map[string]any{"events": []any{}}, "at": 1, "assertions": []string{"true"}}, want: http.StatusBadRequest, details: "event log is empty"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, _, body := postDiagnose(t, srv, tc.payload)
			if status != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, status, body)
			}
			if tc.details != "" && !strings.Contains(body, tc.details) {
				t.Fatalf("expected %q in %s", tc.details, body)
			}
		})
	}
}

func TestHTTPDiagnose_ConcurrentRequests(t *testing.T) {
	srv := newDiagnoseServer(prometheus.NewRegistry())
	defer srv.Close()
	log := readLog(t)

	const n = 40
	var wg sync.WaitGroup
	errs := make(chan string, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := sessiondto.DiagnoseRequest{Log: log, At: 16, Assertions: []string{wrongSeven}}
			want := "bug_found(event=8)"
			if i%2 == 1 {
				req.DepthStep = 1
				want = "require_subtree(event=9, seqno=2),require_subtree(event=8, seqno=4),bug_found(event=8)"
			}
			b, _ := json.Marshal(req)
			resp, err := http.Post(srv.URL+"/diagnose", "application/json", bytes.NewReader(b))
			if err != nil {
				errs <- err.Error()
				return
			}
			defer resp.Body.Close()
			var out sessiondto.DiagnoseResponse
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				errs <- err.Error()
				return
			}
			if got := strings.Join(verdictStrings(out), ","); got != want {
				errs <- "request " + got
			}
		}(i)
	}

	wg.Wait()
	close(errs)
	for msg := range errs {
		t.Fatal(msg)
	}
}

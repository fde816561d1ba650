package main

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
)

// upstreams fakes the three lookup services behind one server.
func upstreams(t *testing.T, coordsBody string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ip", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ip":"162.245.144.188"}`))
	})
	mux.HandleFunc("GET /geo/162.245.144.188", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(coordsBody))
	})
	mux.HandleFunc("GET /iss/json/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("lat") != "49.27670" || r.URL.Query().Get("lon") != "-123.13000" {
			http.Error(w, "bad coordinates", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"message":"success","response":[{"risetime":1560219104,"duration":468},{"risetime":1560224735,"duration":642},{"risetime":1560230593,"duration":601}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func pointAt(t *testing.T, base string) {
	t.Setenv("ISSPASS_CONFIG", "")
	t.Setenv("ISSPASS_UPSTREAM_IP_URL", base+"/ip")
	t.Setenv("ISSPASS_UPSTREAM_GEO_URL", base+"/geo")
	t.Setenv("ISSPASS_UPSTREAM_FLYOVER_URL", base+"/iss")
	t.Setenv("ISSPASS_LOG_LEVEL", "error")
}

func TestRunPrintsPasses(t *testing.T) {
	srv := upstreams(t, `{"ip":"162.245.144.188","success":true,"latitude":"49.27670","longitude":"-123.13000"}`)
	pointAt(t, srv.URL)

	var stdout, stderr bytes.Buffer
	if code := run(nil, &stdout, &stderr); code != 0 {
		t.Fatalf("exit %d, stdout %q, stderr %q", code, stdout.String(), stderr.String())
	}

	lines := strings.Split(strings.TrimRight(stdout.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3: %q", len(lines), stdout.String())
	}
	re := regexp.MustCompile(`^Next pass at \w{3} \w{3} \d{2} \d{4} \d{2}:\d{2}:\d{2} GMT[+-]\d{4} \(.+\) for 468 seconds!$`)
	if !re.MatchString(lines[0]) {
		t.Errorf("first line = %q", lines[0])
	}
}

func TestRunLimitsPassCount(t *testing.T) {
	srv := upstreams(t, `{"ip":"162.245.144.188","success":true,"latitude":"49.27670","longitude":"-123.13000"}`)
	pointAt(t, srv.URL)

	var stdout, stderr bytes.Buffer
	if code := run([]string{"-n", "2"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit %d, stderr %q", code, stderr.String())
	}
	lines := strings.Split(strings.TrimRight(stdout.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), stdout.String())
	}
	if !strings.HasSuffix(lines[0], "for 468 seconds!") || !strings.HasSuffix(lines[1], "for 642 seconds!") {
		t.Errorf("lines = %q", lines)
	}
}

// failingWriter rejects every write.
type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, errors.New("stdout closed") }

func TestRunReportsWriteFailure(t *testing.T) {
	srv := upstreams(t, `{}`)
	pointAt(t, srv.URL)

	var stderr bytes.Buffer
	if code := run([]string{"-ip"}, failingWriter{}, &stderr); code != 1 {
		t.Fatalf("exit %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "stdout closed") {
		t.Errorf("stderr = %q, want the write error logged", stderr.String())
	}
}

func TestRunReportsInBodyFailure(t *testing.T) {
	srv := upstreams(t, `{"ip":"162.245.144.188","success":false,"message":"Reserved range"}`)
	pointAt(t, srv.URL)

	var stdout, stderr bytes.Buffer
	if code := run(nil, &stdout, &stderr); code != 1 {
		t.Fatalf("exit %d, want 1", code)
	}
	out := stdout.String()
	if !strings.HasPrefix(out, "It didn't work: ") || !strings.Contains(out, "Reserved range") {
		t.Errorf("output = %q", out)
	}
}

func TestRunIPOnly(t *testing.T) {
	srv := upstreams(t, `{}`)
	pointAt(t, srv.URL)

	var stdout, stderr bytes.Buffer
	if code := run([]string{"-ip"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit %d, stderr %q", code, stderr.String())
	}
	if got := stdout.String(); got != "It worked! Returned IP: 162.245.144.188\n" {
		t.Errorf("output = %q", got)
	}
}

func TestRunBadConfig(t *testing.T) {
	t.Setenv("ISSPASS_CONFIG", "")
	t.Setenv("ISSPASS_FLYOVER_PROVIDER", "teleport")

	var stdout, stderr bytes.Buffer
	if code := run(nil, &stdout, &stderr); code != 1 {
		t.Fatalf("exit %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "invalid configuration") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestRunBadFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"-nope"}, &stdout, &stderr); code != 2 {
		t.Errorf("exit %d, want 2", code)
	}
}

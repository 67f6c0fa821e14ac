package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestODAClient(baseURL string) (*ODAClient, *[]time.Duration) {
	c := NewODAClient(baseURL)
	c.Jitter = 0
	var slept []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return c, &slept
}

func TestGetJSONRetriesTransientStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"value":[{"id":1}]}`)
	}))
	defer srv.Close()

	c, slept := newTestODAClient(srv.URL)
	payload, err := c.GetJSON(context.Background(), srv.URL+"/Sag", nil, 3)
	if err != nil {
		t.Fatalf("GetJSON returned error: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 4 {
		t.Errorf("calls = %d, want 4", got)
	}
	if _, ok := payload["value"].([]any); !ok {
		t.Errorf("payload value = %#v, want list", payload["value"])
	}

	want := []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("slept %v, want %v", *slept, want)
	}
	for i, d := range want {
		if (*slept)[i] != d {
			t.Errorf("sleep %d = %v, want %v", i, (*slept)[i], d)
		}
	}
}

func TestGetJSONGivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, _ := newTestODAClient(srv.URL)
	_, err := c.GetJSON(context.Background(), srv.URL+"/Sag", nil, 2)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrTransient) {
		t.Errorf("error %v does not wrap ErrTransient", err)
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("error %v does not carry the 429 status", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestGetJSONDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, slept := newTestODAClient(srv.URL)
	_, err := c.GetJSON(context.Background(), srv.URL+"/Dokument", nil, 5)

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Fatalf("error = %v, want 404 StatusError", err)
	}
	if errors.Is(err, ErrTransient) {
		t.Error("404 should not be transient")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
	if len(*slept) != 0 {
		t.Errorf("slept %v, want no sleeps", *slept)
	}
}

func TestGetJSONWrapsNonObjectBodies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[1, 2, 3]`)
	}))
	defer srv.Close()

	c, _ := newTestODAClient(srv.URL)
	payload, err := c.GetJSON(context.Background(), srv.URL, nil, 0)
	if err != nil {
		t.Fatalf("GetJSON returned error: %v", err)
	}
	list, ok := payload["value"].([]any)
	if !ok || len(list) != 3 {
		t.Errorf("payload = %#v, want value list of 3", payload)
	}
	if n, ok := list[0].(json.Number); !ok || n.String() != "1" {
		t.Errorf("number decoded as %T %v, want json.Number 1", list[0], list[0])
	}
}

func TestGetJSONAddsFormatAndEncodesSpaces(t *testing.T) {
	var rawQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawQuery = r.URL.RawQuery
		if got := r.URL.Query().Get("$format"); got != "json" {
			t.Errorf("$format = %q, want json", got)
		}
		if got := r.URL.Query().Get("$filter"); got != "sagid eq 7" {
			t.Errorf("$filter = %q", got)
		}
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	c, _ := newTestODAClient(srv.URL)
	params := map[string][]string{"$filter": {"sagid eq 7"}}
	if _, err := c.GetJSON(context.Background(), srv.URL, params, 0); err != nil {
		t.Fatalf("GetJSON returned error: %v", err)
	}
	if strings.Contains(rawQuery, "+") {
		t.Errorf("raw query %q contains +", rawQuery)
	}
}

func TestGetJSONStopsOnCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewODAClient(srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	c.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	_, err := c.GetJSON(ctx, srv.URL, nil, 5)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestFetchProposalsSincePagesUntilEmpty(t *testing.T) {
	var filters []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Sag" {
			t.Errorf("path = %s, want /Sag", r.URL.Path)
		}
		q := r.URL.Query()
		filters = append(filters, q.Get("$filter"))
		if got := q.Get("$orderby"); got != "opdateringsdato desc" {
			t.Errorf("$orderby = %q", got)
		}

		skip, _ := strconv.Atoi(q.Get("$skip"))
		switch skip {
		case 0:
			rows := make([]string, PageSize)
			for i := range rows {
				rows[i] = fmt.Sprintf(`{"id":%d}`, i+1)
			}
			fmt.Fprintf(w, `{"value":[%s]}`, strings.Join(rows, ","))
		case PageSize:
			fmt.Fprint(w, `{"value":[{"id":101}]}`)
		default:
			fmt.Fprint(w, `{"value":[]}`)
		}
	}))
	defer srv.Close()

	c, _ := newTestODAClient(srv.URL)
	since := time.Date(2024, 3, 1, 10, 30, 0, 123456789, time.FixedZone("CET", 3600))
	rows, err := c.FetchProposalsSince(context.Background(), &since, 0)
	if err != nil {
		t.Fatalf("FetchProposalsSince returned error: %v", err)
	}
	if len(rows) != PageSize+1 {
		t.Errorf("rows = %d, want %d", len(rows), PageSize+1)
	}
	if len(filters) != 3 {
		t.Fatalf("requests = %d, want 3", len(filters))
	}
	want := "typeid eq 3 and opdateringsdato gt datetime'2024-03-01T09:30:00.123'"
	if filters[0] != want {
		t.Errorf("$filter = %q, want %q", filters[0], want)
	}
}

func TestBuildProposalFilterWithoutWatermark(t *testing.T) {
	if got := BuildProposalFilter(nil); got != "typeid eq 3" {
		t.Errorf("BuildProposalFilter(nil) = %q", got)
	}
}

func TestFetchDocumentWithFilesMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("$expand"); got != "Fil" {
			t.Errorf("$expand = %q, want Fil", got)
		}
		fmt.Fprint(w, `{"value":[]}`)
	}))
	defer srv.Close()

	c, _ := newTestODAClient(srv.URL)
	doc, err := c.FetchDocumentWithFiles(context.Background(), 42, 0)
	if err != nil {
		t.Fatalf("FetchDocumentWithFiles returned error: %v", err)
	}
	if doc != nil {
		t.Errorf("doc = %#v, want nil", doc)
	}
}

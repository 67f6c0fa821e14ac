package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultODABaseURL = "https://oda.ft.dk/api"
	PageSize          = 100
	defaultTimeout    = 30 * time.Second
	initialBackoff    = 500 * time.Millisecond
	backoffJitter     = 250 * time.Millisecond
)

// ErrTransient marks failures worth retrying: timeouts, transport errors, 429 and 5xx
var ErrTransient = errors.New("transient upstream error")

// StatusError is a non-2xx response from ODA
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d from %s", e.StatusCode, e.URL)
}

// Transient reports whether the status is retryable
func (e *StatusError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ODAClient handles communication with Folketingets ODA API. It is the only
// component that performs outbound requests to ODA.
type ODAClient struct {
	client  *http.Client
	baseURL string

	// Backoff is base * 2^attempt plus up to Jitter
	Backoff time.Duration
	Jitter  time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewODAClient creates a new ODA API client
func NewODAClient(baseURL string) *ODAClient {
	if baseURL == "" {
		baseURL = DefaultODABaseURL
	}
	return &ODAClient{
		client: &http.Client{
			Timeout: defaultTimeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		Backoff: initialBackoff,
		Jitter:  backoffJitter,
		sleep:   sleepContext,
	}
}

// BaseURL returns the API root the client talks to
func (c *ODAClient) BaseURL() string {
	return c.baseURL
}

// GetJSON performs a GET with up to maxRetries extra attempts on transient
// failures. Non-object bodies are wrapped as {"value": body}.
func (c *ODAClient) GetJSON(ctx context.Context, endpoint string, params url.Values, maxRetries int) (map[string]any, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}
	full := endpoint
	if encoded := encodeParams(params); encoded != "" {
		full = endpoint + "?" + encoded
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		body, err := c.get(ctx, full)
		if err == nil {
			return decodeObject(body, full)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(err, ErrTransient) {
			return nil, err
		}

		lastErr = err
		if attempt >= maxRetries {
			break
		}

		delay := c.Backoff * time.Duration(1<<attempt)
		if c.Jitter > 0 {
			delay += time.Duration(rand.Int63n(int64(c.Jitter)))
		}
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", maxRetries+1, lastErr)
}

// get performs a single request; transient failures wrap ErrTransient
func (c *ODAClient) get(ctx context.Context, full string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("%w: request timeout: %v", ErrTransient, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read body: %v", ErrTransient, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{StatusCode: resp.StatusCode, URL: full}
		if statusErr.Transient() {
			return nil, fmt.Errorf("%w: %w", ErrTransient, statusErr)
		}
		return nil, statusErr
	}

	return body, nil
}

func decodeObject(body []byte, full string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to parse response from %s: %w", full, err)
	}
	if obj, ok := payload.(map[string]any); ok {
		return obj, nil
	}
	return map[string]any{"value": payload}, nil
}

// fetchPages walks $skip in steps of PageSize until an empty page comes back
func (c *ODAClient) fetchPages(ctx context.Context, path string, params url.Values, maxRetries int) ([]map[string]any, error) {
	endpoint := c.baseURL + path

	var rows []map[string]any
	for skip := 0; ; skip += PageSize {
		page := cloneParams(params)
		page.Set("$top", fmt.Sprint(PageSize))
		page.Set("$skip", fmt.Sprint(skip))

		payload, err := c.GetJSON(ctx, endpoint, page, maxRetries)
		if err != nil {
			return nil, err
		}

		list, _ := payload["value"].([]any)
		if len(list) == 0 {
			break
		}
		rows = append(rows, objectRows(list)...)
	}

	return rows, nil
}

// FetchCaseDocumentLinks returns all SagDokument rows for a Sag in listing order
func (c *ODAClient) FetchCaseDocumentLinks(ctx context.Context, sagID, maxRetries int) ([]map[string]any, error) {
	params := url.Values{}
	params.Set("$filter", fmt.Sprintf("sagid eq %d", sagID))

	rows, err := c.fetchPages(ctx, "/SagDokument", params, maxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch SagDokument rows for Sag %d: %w", sagID, err)
	}
	return rows, nil
}

// FetchDocumentWithFiles fetches one Dokument with its Fil list expanded.
// A missing document returns nil, nil.
func (c *ODAClient) FetchDocumentWithFiles(ctx context.Context, documentID, maxRetries int) (map[string]any, error) {
	params := url.Values{}
	params.Set("$filter", fmt.Sprintf("id eq %d", documentID))
	params.Set("$expand", "Fil")

	payload, err := c.GetJSON(ctx, c.baseURL+"/Dokument", params, maxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch Dokument %d: %w", documentID, err)
	}

	values := objectRows(payload["value"])
	if len(values) == 0 {
		return nil, nil
	}
	return values[0], nil
}

// FetchFilesForDocument queries /Fil directly. ODA's filter on this endpoint
// is unreliable, so it is only used when the expanded Dokument has no files.
func (c *ODAClient) FetchFilesForDocument(ctx context.Context, documentID, maxRetries int) ([]map[string]any, error) {
	params := url.Values{}
	params.Set("$filter", fmt.Sprintf("dokumentid eq %d", documentID))

	rows, err := c.fetchPages(ctx, "/Fil", params, maxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch Fil rows for Dokument %d: %w", documentID, err)
	}
	return rows, nil
}

// FetchProposalsSince lists bills updated after since (all bills when nil),
// newest first.
func (c *ODAClient) FetchProposalsSince(ctx context.Context, since *time.Time, maxRetries int) ([]map[string]any, error) {
	params := url.Values{}
	params.Set("$orderby", "opdateringsdato desc")
	params.Set("$filter", BuildProposalFilter(since))

	rows, err := c.fetchPages(ctx, "/Sag", params, maxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch from ODA API: %w", err)
	}
	return rows, nil
}

// BuildProposalFilter returns the OData $filter for bills updated after since
func BuildProposalFilter(since *time.Time) string {
	filters := []string{fmt.Sprintf("typeid eq %d", BillTypeID)}
	if since != nil {
		filters = append(filters, fmt.Sprintf("opdateringsdato gt datetime'%s'", FormatODataTime(*since)))
	}
	return strings.Join(filters, " and ")
}

// FormatODataTime renders t in UTC with millisecond precision and no zone suffix
func FormatODataTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000")
}

func encodeParams(params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	if params.Get("$format") == "" {
		params = cloneParams(params)
		params.Set("$format", "json")
	}
	// ODA expects %20 rather than + for spaces inside $filter expressions
	return strings.ReplaceAll(params.Encode(), "+", "%20")
}

func cloneParams(params url.Values) url.Values {
	out := url.Values{}
	for k, v := range params {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func objectRows(v any) []map[string]any {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	rows := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if obj, ok := item.(map[string]any); ok {
			rows = append(rows, obj)
		}
	}
	return rows
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// NomadOptions tune the HTTP client.
type NomadOptions struct {
	Token     string // sent as X-Nomad-Token when set
	Namespace string
	Region    string
	Timeout   time.Duration
	Client    *http.Client
}

// NomadGateway implements Gateway over Nomad's HTTP API.
type NomadGateway struct {
	base *url.URL
	opts NomadOptions
	http *http.Client
}

// jobStub is the subset of /v1/jobs list entries we read.
type jobStub struct {
	ID       string `json:"ID"`
	ParentID string `json:"ParentID"`
	Status   string `json:"Status"`
}

// NewNomadGateway creates a gateway for the agent at addr ("host:port" or a
// full URL).
func NewNomadGateway(addr string, opts NomadOptions) (*NomadGateway, error) {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	base, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("parse nomad address %q: %w", addr, err)
	}

	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &NomadGateway{base: base, opts: opts, http: client}, nil
}

// Addr returns the agent base URL.
func (g *NomadGateway) Addr() string {
	return g.base.String()
}

// DeregisterJob stops and deregisters jobID. A 404 maps to ErrJobNotFound.
func (g *NomadGateway) DeregisterJob(ctx context.Context, jobID string) error {
	resp, err := g.do(ctx, http.MethodDelete, nil, "v1", "job", jobID)
	if err != nil {
		return &TransientError{Op: "deregister", JobID: jobID, Cause: err}
	}
	defer drain(resp)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("deregister %s: %w", jobID, ErrJobNotFound)
	case resp.StatusCode/100 == 2:
		return nil
	default:
		return &TransientError{Op: "deregister", JobID: jobID, Status: resp.StatusCode, Cause: errorBody(resp)}
	}
}

// ListDeployments returns the IDs of live jobs dispatched from jobClass. The
// class job itself is the dispatch template and never listed.
func (g *NomadGateway) ListDeployments(ctx context.Context, jobClass string) ([]string, error) {
	q := url.Values{}
	q.Set("prefix", jobClass)
	resp, err := g.do(ctx, http.MethodGet, q, "v1", "jobs")
	if err != nil {
		return nil, &TransientError{Op: "list", Cause: err}
	}
	defer drain(resp)

	if resp.StatusCode/100 != 2 {
		return nil, &TransientError{Op: "list", Status: resp.StatusCode, Cause: errorBody(resp)}
	}

	var stubs []jobStub
	if err := json.NewDecoder(resp.Body).Decode(&stubs); err != nil {
		return nil, &TransientError{Op: "list", Status: resp.StatusCode, Cause: fmt.Errorf("decode jobs: %w", err)}
	}

	seen := make(map[string]bool, len(stubs))
	ids := make([]string, 0, len(stubs))
	for _, s := range stubs {
		if s.Status == "dead" || seen[s.ID] {
			continue
		}
		if s.ID == jobClass || (s.ParentID != jobClass && !strings.HasPrefix(s.ID, jobClass+"/")) {
			continue
		}
		seen[s.ID] = true
		ids = append(ids, s.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

// do sends a request to the path made of segments, each one escaped on its
// own so job IDs containing "/" stay a single segment.
func (g *NomadGateway) do(ctx context.Context, method string, q url.Values, segments ...string) (*http.Response, error) {
	u := *g.base
	base := strings.TrimSuffix(u.Path, "/")
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	u.Path = base + "/" + strings.Join(segments, "/")
	u.RawPath = base + "/" + strings.Join(escaped, "/")
	if q == nil {
		q = url.Values{}
	}
	if g.opts.Namespace != "" {
		q.Set("namespace", g.opts.Namespace)
	}
	if g.opts.Region != "" {
		q.Set("region", g.opts.Region)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if g.opts.Token != "" {
		req.Header.Set("X-Nomad-Token", g.opts.Token)
	}
	return g.http.Do(req)
}

func errorBody(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(b))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return fmt.Errorf("nomad: %s", msg)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

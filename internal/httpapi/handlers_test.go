package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"kioskvote.org/internal/audit"
	"kioskvote.org/internal/ballot"
	"kioskvote.org/internal/eligibility"
	"kioskvote.org/internal/kiosk"
)

const (
	secretA = "hall-a-secret-0001"
	secretB = "hall-b-secret-0002"
)

var txFormat = regexp.MustCompile(`^[0-9a-f]{32}$`)

type apiClient struct {
	baseURL string
	client  *http.Client
	audit   *audit.MemoryStore
	t       *testing.T
}

type testOptions struct {
	repo  ballot.Repository
	elig  eligibility.Client
	ready readinessChecker
	debug bool
}

func newTestAPI(t *testing.T) *apiClient {
	return newTestAPIWith(t, testOptions{})
}

func newTestAPIWith(t *testing.T, opts testOptions) *apiClient {
	t.Helper()
	ctx := context.Background()

	if opts.repo == nil {
		opts.repo = ballot.NewInMemory()
	}
	if opts.elig == nil {
		opts.elig = eligibility.NewStatic(
			eligibility.Student{UID: "a12345678", Serial: "0", OnCampus: true, WebEnabled: true, Unit: "EE"},
			eligibility.Student{UID: "b01234567", Serial: "7", OnCampus: true, WebEnabled: true, Category: "B", Unit: "ME"},
			eligibility.Student{UID: "c00000001", Serial: "0", OnCampus: false, WebEnabled: true},
		)
	}
	if opts.ready == nil {
		opts.ready = ReadyProbe{}
	}

	authn := kiosk.NewAuthenticator(kiosk.NewInMemory(), "test-salt", time.Minute)
	for name, secret := range map[string]string{"Hall A": secretA, "Hall B": secretB} {
		if _, err := authn.Register(ctx, name, "", secret); err != nil {
			t.Fatalf("register kiosk: %v", err)
		}
	}

	store := audit.NewMemoryStore(100)
	rec := audit.NewRecorder(store)
	svc := ballot.NewService(opts.repo, opts.elig, ballot.WithRecorder(rec))

	api := New(opts.ready, "test", svc, authn, rec)
	api.SetRateLimit(100, 100)
	api.SetDebug(opts.debug)

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{baseURL: srv.URL, client: srv.Client(), audit: store, t: t}
}

func (c *apiClient) do(req *http.Request) *http.Response {
	c.t.Helper()
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string, params url.Values) *http.Response {
	c.t.Helper()
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	return c.do(req)
}

func (c *apiClient) commitJSON(secret string, body any) *http.Response {
	c.t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		c.t.Fatalf("marshal body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/commit?token="+url.QueryEscape(secret), bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *apiClient) commitForm(secret string, form url.Values) *http.Response {
	c.t.Helper()
	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/commit?token="+url.QueryEscape(secret), strings.NewReader(form.Encode()))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *apiClient) query(secret string, extra url.Values) *http.Response {
	c.t.Helper()
	params := url.Values{"token": []string{secret}}
	for k, v := range extra {
		params[k] = v
	}
	return c.get("/query", params)
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, code int, msg string) map[string]any {
	t.Helper()
	if resp.StatusCode != code {
		t.Fatalf("expected status %d, got %d", code, resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if msg != "" && body["msg"] != msg {
		t.Fatalf("expected msg %q, got %v", msg, body["msg"])
	}
	return body
}

func TestQueryIssueAndCommitFlow(t *testing.T) {
	api := newTestAPI(t)
	params := url.Values{"stuid": {"A12345678"}, "serial": {"0"}, "card_sec": {"s1"}}

	resp := api.query(secretA, params)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	first := decode[queryResponse](t, resp)
	if !first.OK || !first.CanVote || first.Tx == nil || !txFormat.MatchString(*first.Tx) {
		t.Fatalf("unexpected first response: %+v", first)
	}
	if first.Msg != nil || first.Serial == nil || *first.Serial != "0" {
		t.Fatalf("unexpected msg/serial: %+v", first)
	}
	if first.Result == nil || first.Result.Unit != "EE" {
		t.Fatalf("expected eligibility result, got %+v", first.Result)
	}

	// Asking again before committing returns the same token.
	second := decode[queryResponse](t, api.query(secretA, params))
	if second.Tx == nil || *second.Tx != *first.Tx {
		t.Fatalf("token rotated: %v vs %v", second.Tx, first.Tx)
	}

	resp = api.commitJSON(secretA, map[string]string{"tx": *first.Tx})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected commit status: %d", resp.StatusCode)
	}
	committed := decode[statusResponse](t, resp)
	if !committed.OK || committed.Msg != nil {
		t.Fatalf("unexpected commit body: %+v", committed)
	}

	expectStatus(t, api.commitJSON(secretA, map[string]string{"tx": *first.Tx}), http.StatusForbidden, "TX_NOT_FOUND")
	expectStatus(t, api.query(secretA, params), http.StatusBadRequest, "ALREADY_VOTED")
}

func TestQueryBypassSerialProbesAndFlagsOtherKiosk(t *testing.T) {
	api := newTestAPI(t)
	params := url.Values{"stuid": {"b01234567"}, "bypass_serial": {"1"}}

	out := decode[queryResponse](t, api.query(secretA, params))
	if !out.CanVote || out.Serial == nil || *out.Serial != "7" {
		t.Fatalf("unexpected bypass response: %+v", out)
	}

	expectStatus(t, api.query(secretB, params), http.StatusBadRequest, "BALLOT_INFO_INCONSISTENT")

	var tags []string
	for _, e := range api.audit.Entries() {
		tags = append(tags, e.Tag)
		if e.RequestID == "" || e.KioskID == "" {
			t.Fatalf("audit entry missing request context: %+v", e)
		}
	}
	if !contains(tags, "ballot.serial.bypass") || !contains(tags, "ballot.token.issued") {
		t.Fatalf("unexpected audit tags: %v", tags)
	}
}

func TestQueryNotEligible(t *testing.T) {
	api := newTestAPI(t)

	out := decode[queryResponse](t, api.query(secretA, url.Values{"stuid": {"c00000001"}, "serial": {"0"}}))
	if !out.OK || out.CanVote || out.Tx != nil {
		t.Fatalf("unexpected response: %+v", out)
	}
	if out.Msg == nil || *out.Msg != "NOT_ELIGIBLE" {
		t.Fatalf("unexpected msg: %v", out.Msg)
	}

	// A wrong serial is rejected upstream with a hint that must not leak.
	resp := api.query(secretA, url.Values{"stuid": {"a12345678"}, "serial": {"5"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	out = decode[queryResponse](t, resp)
	if out.CanVote || out.Msg == nil || *out.Msg != "card serial mismatch:***" {
		t.Fatalf("hint not redacted: %+v", out)
	}
	if out.Result == nil || out.Result.Error != "card serial mismatch:***" {
		t.Fatalf("result error not redacted: %+v", out.Result)
	}
}

func TestQueryRejectsMalformedInput(t *testing.T) {
	api := newTestAPI(t)
	cases := map[string]url.Values{
		"missing stuid":      {"serial": {"0"}},
		"short stuid":        {"stuid": {"a1234567"}, "serial": {"0"}},
		"no serial":          {"stuid": {"a12345678"}},
		"bypass not set":     {"stuid": {"a12345678"}, "bypass_serial": {"0"}},
		"non-numeric serial": {"stuid": {"a12345678"}, "serial": {"x"}},
	}
	for name, params := range cases {
		t.Run(name, func(t *testing.T) {
			expectStatus(t, api.query(secretA, params), http.StatusBadRequest, "INVALID_REQUEST")
		})
	}
}

func TestKioskAuthentication(t *testing.T) {
	api := newTestAPI(t)

	expectStatus(t, api.get("/query", url.Values{"stuid": {"a12345678"}}), http.StatusUnauthorized, "UNAUTHORIZED")
	expectStatus(t, api.query("not-a-kiosk", url.Values{"stuid": {"a12345678"}}), http.StatusUnauthorized, "INVALID_TOKEN")
	expectStatus(t, api.commitJSON("not-a-kiosk", map[string]string{"tx": "x"}), http.StatusUnauthorized, "INVALID_TOKEN")
	expectStatus(t, api.get("/ping", nil), http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestCommitVariants(t *testing.T) {
	api := newTestAPI(t)

	expectStatus(t, api.commitJSON(secretA, map[string]string{}), http.StatusBadRequest, "MISSING_TX")
	expectStatus(t, api.commitForm(secretA, url.Values{}), http.StatusBadRequest, "MISSING_TX")
	expectStatus(t, api.commitJSON(secretA, map[string]string{"tx": "nope"}), http.StatusForbidden, "TX_NOT_FOUND")
	expectStatus(t, api.commitJSON(secretA, map[string]any{"tx": "x", "extra": 1}), http.StatusBadRequest, "INVALID_REQUEST")

	out := decode[queryResponse](t, api.query(secretA, url.Values{"stuid": {"a12345678"}, "serial": {"0"}}))
	if out.Tx == nil {
		t.Fatalf("expected token: %+v", out)
	}
	// Another kiosk cannot redeem the token.
	expectStatus(t, api.commitForm(secretB, url.Values{"tx": {*out.Tx}}), http.StatusForbidden, "TX_NOT_FOUND")
	resp := api.commitForm(secretA, url.Values{"tx": {*out.Tx}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodGet, api.baseURL+"/commit?token="+secretA, nil)
	resp = api.do(req)
	expectStatus(t, resp, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED")
}

func TestPingTouchesKiosk(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/ping", url.Values{"token": {secretA}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["ok"] != true || body["msg"] != nil {
		t.Fatalf("unexpected body: %v", body)
	}
	k, ok := body["kiosk"].(map[string]any)
	if !ok || k["name"] != "Hall A" || k["last_ping"] == nil {
		t.Fatalf("unexpected kiosk: %v", body["kiosk"])
	}
	if _, leaked := k["auth_code"]; leaked {
		t.Fatal("auth code must not be serialised")
	}

	entries := api.audit.Entries()
	if len(entries) != 1 || entries[0].Tag != "kiosk.ping" {
		t.Fatalf("unexpected audit entries: %+v", entries)
	}
}

func TestEligibilityUnavailable(t *testing.T) {
	api := newTestAPIWith(t, testOptions{
		elig: eligibility.ClientFunc(func(ctx context.Context, uid, serial string) (eligibility.Result, error) {
			return eligibility.Result{}, eligibility.ErrUnavailable
		}),
	})
	expectStatus(t, api.query(secretA, url.Values{"stuid": {"a12345678"}, "serial": {"0"}}), http.StatusBadRequest, "ELIGIBILITY_UNAVAILABLE")
}

type brokenRepo struct {
	ballot.Repository
}

func (brokenRepo) FindOrCreateBallot(context.Context, ballot.Record) (ballot.Record, bool, error) {
	return ballot.Record{}, false, errors.New("disk on fire")
}

func TestInternalErrorDetailIsGatedByDebug(t *testing.T) {
	params := url.Values{"stuid": {"a12345678"}, "serial": {"0"}}

	quiet := newTestAPIWith(t, testOptions{repo: brokenRepo{}})
	body := expectStatus(t, quiet.query(secretA, params), http.StatusInternalServerError, "INTERNAL")
	if _, ok := body["detail"]; ok {
		t.Fatalf("detail leaked without debug: %v", body)
	}
	if body["request_id"] == "" {
		t.Fatal("expected request_id in body")
	}

	loud := newTestAPIWith(t, testOptions{repo: brokenRepo{}, debug: true})
	body = expectStatus(t, loud.query(secretA, params), http.StatusInternalServerError, "INTERNAL")
	if detail, _ := body["detail"].(string); !strings.Contains(detail, "disk on fire") {
		t.Fatalf("expected detail with debug, got %v", body["detail"])
	}
}

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthAndReadiness(t *testing.T) {
	api := newTestAPI(t)
	resp := api.get("/healthz", nil)
	health := decode[map[string]any](t, resp)
	if resp.StatusCode != http.StatusOK || health["status"] != "ok" || health["service"] != serviceName {
		t.Fatalf("unexpected health: %d %v", resp.StatusCode, health)
	}
	if resp.Header.Get("X-Request-ID") == "" || resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing middleware headers: %v", resp.Header)
	}

	down := newTestAPIWith(t, testOptions{ready: ReadyProbe{Store: pingerFunc(func(context.Context) error {
		return errors.New("db down")
	})}})
	resp = down.get("/readyz", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.get("/nowhere", nil)
	expectStatus(t, resp, http.StatusNotFound, "NOT_FOUND")
}

func TestParseBypass(t *testing.T) {
	for raw, want := range map[string]bool{
		"true": true, "TRUE": true, "1": true, "2.5": true,
		"": false, "0": false, "-1": false, "false": false, "yes": false,
	} {
		if got := parseBypass(raw); got != want {
			t.Errorf("parseBypass(%q) = %v, want %v", raw, got, want)
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

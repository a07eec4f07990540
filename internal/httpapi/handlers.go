package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/justinas/alice"

	"kioskvote.org/internal/audit"
	"kioskvote.org/internal/ballot"
	"kioskvote.org/internal/kiosk"
	"kioskvote.org/internal/obs"
)

const (
	serviceName  = "kioskvote"
	maxBodyBytes = 64 << 10
)

// Pinger is implemented by every storage backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe reports whether the storage backend answers.
type ReadyProbe struct {
	Store Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return rp.Store.Ping(ctx)
}

// API is the kiosk-facing HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe readinessChecker
	version    string

	ballots *ballot.Service
	kiosks  *kiosk.Authenticator
	audit   *audit.Recorder

	debug      bool
	rateBurst  int
	ratePerSec float64
}

func New(rp readinessChecker, version string, ballots *ballot.Service, kiosks *kiosk.Authenticator, rec *audit.Recorder) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		ballots:    ballots,
		kiosks:     kiosks,
		audit:      rec,
		rateBurst:  20,
		ratePerSec: 10,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/query", a.withKiosk(a.handleQuery))
	a.mux.HandleFunc("/commit", a.withKiosk(a.handleCommit))
	a.mux.HandleFunc("/ping", a.withKiosk(a.handlePing))

	a.mux.HandleFunc("/", a.Root)

	return a
}

// SetDebug exposes internal error detail in 500 responses.
func (a *API) SetDebug(debug bool) { a.debug = debug }

// SetRateLimit configures the per-client token bucket. A non-positive rate
// disables limiting.
func (a *API) SetRateLimit(burst int, perSecond float64) {
	a.rateBurst, a.ratePerSec = burst, perSecond
}

// Handler returns the mux wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	return alice.New(
		RequestID,
		LoggingJSON,
		SecurityHeaders,
		func(next http.Handler) http.Handler { return RateLimit(next, a.rateBurst, a.ratePerSec) },
		func(next http.Handler) http.Handler { return MaxBodyBytes(next, maxBodyBytes) },
		obs.Instrument,
	).Then(a.mux)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Root(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"version": a.version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

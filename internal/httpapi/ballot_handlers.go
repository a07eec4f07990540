package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"kioskvote.org/internal/audit"
	"kioskvote.org/internal/ballot"
	"kioskvote.org/internal/eligibility"
	"kioskvote.org/internal/kiosk"
	"kioskvote.org/internal/obs"
)

var errEmptyBody = errors.New("request body is required")

// queryResponse keeps the field set kiosks already parse. Msg is null on
// success.
type queryResponse struct {
	OK      bool                `json:"ok"`
	Msg     *string             `json:"msg"`
	CanVote bool                `json:"can_vote"`
	Tx      *string             `json:"tx"`
	Serial  *string             `json:"serial"`
	Result  *eligibility.Result `json:"result,omitempty"`
}

type commitRequest struct {
	Tx string `json:"tx"`
}

type statusResponse struct {
	OK  bool    `json:"ok"`
	Msg *string `json:"msg"`
}

type pingResponse struct {
	OK    bool        `json:"ok"`
	Msg   *string     `json:"msg"`
	Kiosk kiosk.Kiosk `json:"kiosk"`
}

func (a *API) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	k, _ := kiosk.FromContext(r.Context())
	q := r.URL.Query()

	out, err := a.ballots.RequestToken(r.Context(), ballot.Request{
		UID:     q.Get("stuid"),
		Serial:  strings.TrimSpace(q.Get("serial")),
		Bypass:  parseBypass(q.Get("bypass_serial")),
		KioskID: k.ID,
		CardSec: q.Get("card_sec"),
	})
	if err != nil {
		a.handleBallotError(w, r, err)
		return
	}

	resp := queryResponse{OK: true, CanVote: out.CanVote, Serial: out.Serial, Result: &out.Result}
	if out.CanVote {
		resp.Tx = &out.Tx
	} else {
		resp.Msg = &out.Message
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCommit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	tx, err := commitTx(w, r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, string(ballot.CodeInvalidRequest))
		return
	}
	k, _ := kiosk.FromContext(r.Context())
	if err := a.ballots.Commit(r.Context(), tx, k.ID); err != nil {
		a.handleBallotError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{OK: true})
}

func (a *API) handlePing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	k, _ := kiosk.FromContext(r.Context())
	updated, err := a.kiosks.Ping(r.Context(), k)
	if err != nil {
		a.handleBallotError(w, r, err)
		return
	}
	a.audit.Record(r.Context(), audit.LevelInfo, "kiosk.ping", map[string]any{"name": updated.Name})
	writeJSON(w, http.StatusOK, pingResponse{OK: true, Kiosk: updated})
}

// commitTx reads tx from a JSON body or a urlencoded form. An empty body
// yields an empty tx.
func commitTx(w http.ResponseWriter, r *http.Request) (string, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		var req commitRequest
		if err := decodeJSON(w, r, &req); err != nil {
			if errors.Is(err, errEmptyBody) {
				return "", nil
			}
			return "", err
		}
		return req.Tx, nil
	}
	if err := r.ParseForm(); err != nil {
		return "", err
	}
	return r.PostForm.Get("tx"), nil
}

// parseBypass accepts "true" or any positive number.
func parseBypass(raw string) bool {
	raw = strings.TrimSpace(raw)
	if strings.EqualFold(raw, "true") {
		return true
	}
	n, err := strconv.ParseFloat(raw, 64)
	return err == nil && n > 0
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func (a *API) handleBallotError(w http.ResponseWriter, r *http.Request, err error) {
	code := ballot.CodeOf(err)
	status := http.StatusBadRequest
	switch code {
	case ballot.CodeTxNotFound:
		status = http.StatusForbidden
	case ballot.CodeInternal:
		status = http.StatusInternalServerError
	}

	fields := map[string]any{
		"request_id": RequestIDFromContext(r.Context()),
		"path":       r.URL.Path,
		"code":       string(code),
		"error":      err.Error(),
	}
	switch status {
	case http.StatusInternalServerError:
		obs.Error("request failed", fields)
	default:
		if code == ballot.CodeEligibilityUnavailable {
			obs.Warn("eligibility lookup failed", fields)
		}
	}

	payload := map[string]any{
		"ok":  false,
		"msg": string(code),
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	if a.debug && status == http.StatusInternalServerError {
		payload["detail"] = err.Error()
	}
	writeJSON(w, status, payload)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"ok":  false,
		"msg": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED")
}

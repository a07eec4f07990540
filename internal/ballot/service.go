package ballot

import (
	"context"
	"regexp"
	"strings"
	"time"

	"kioskvote.org/internal/audit"
	"kioskvote.org/internal/eligibility"
	"kioskvote.org/internal/ids"
	"kioskvote.org/internal/obs"
)

const tokenBytes = 16

var (
	uidPattern    = regexp.MustCompile(`^[a-z][0-9]{8}$`)
	serialPattern = regexp.MustCompile(`^[0-9]{1,4}$`)
	txPattern     = regexp.MustCompile(`^[0-9a-f]{32}$`)
)

// Request asks for a ballot token. Serial is ignored when Bypass is set.
type Request struct {
	UID     string
	Serial  string
	Bypass  bool
	KioskID string
	CardSec string
}

// Outcome is the result of a token request that did not fail. When CanVote
// is false, Message holds the sanitized eligibility error.
type Outcome struct {
	CanVote bool
	Tx      string
	Serial  *string
	Result  eligibility.Result
	Message string
	Created bool
}

// Service runs the ballot protocol on top of a Repository.
type Service struct {
	repo      Repository
	elig      eligibility.Client
	overrides Overrides
	audit     *audit.Recorder
	newToken  func() (string, error)
	now       func() time.Time
}

type Option func(*Service)

func WithOverrides(o Overrides) Option { return func(s *Service) { s.overrides = o } }

func WithRecorder(r *audit.Recorder) Option { return func(s *Service) { s.audit = r } }

func NewService(repo Repository, elig eligibility.Client, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		elig:     elig,
		newToken: func() (string, error) { return ids.Secret(tokenBytes) },
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NormalizeUID lower-cases uid and checks its format.
func NormalizeUID(uid string) (string, error) {
	uid = strings.ToLower(strings.TrimSpace(uid))
	if !uidPattern.MatchString(uid) {
		return "", invalid("stuid must be one letter followed by 8 digits")
	}
	return uid, nil
}

// RequestToken checks eligibility and returns the voter's one redeemable
// token, creating the ballot on first use.
func (s *Service) RequestToken(ctx context.Context, req Request) (Outcome, error) {
	out, err := s.requestToken(ctx, req)
	switch {
	case err != nil:
		obs.ObserveTokenRequest(strings.ToLower(string(CodeOf(err))))
	case !out.CanVote:
		obs.ObserveTokenRequest("not_eligible")
	case out.Created:
		obs.ObserveTokenRequest("issued")
	default:
		obs.ObserveTokenRequest("reissued")
	}
	return out, err
}

func (s *Service) requestToken(ctx context.Context, req Request) (Outcome, error) {
	uid, err := NormalizeUID(req.UID)
	if err != nil {
		return Outcome{}, err
	}
	if !req.Bypass {
		if req.Serial == "" {
			return Outcome{}, invalid("serial is required unless bypass_serial is set")
		}
		if !serialPattern.MatchString(req.Serial) {
			return Outcome{}, invalid("serial must be 1 to 4 digits")
		}
	}
	if req.KioskID == "" {
		return Outcome{}, internal("request has no kiosk", nil)
	}

	res, serial, err := s.lookup(ctx, uid, req)
	if err != nil {
		return Outcome{}, &Error{Code: CodeEligibilityUnavailable, Detail: uid, Err: err}
	}

	out := Outcome{Serial: serial, Result: res.Sanitized()}
	if !res.Eligible() {
		out.Message = out.Result.Error
		if out.Message == "" {
			out.Message = "NOT_ELIGIBLE"
		}
		s.audit.Record(ctx, audit.LevelInfo, "ballot.token.rejected", map[string]any{
			"uid":    uid,
			"reason": out.Message,
		})
		return out, nil
	}

	// A probed serial is a guess, so only a kiosk-supplied one is recorded.
	var recorded *string
	if !req.Bypass {
		recorded = strPtr(req.Serial)
	}
	unit := res.Unit
	override, overridden := s.overrides.Unit(uid)
	if overridden {
		unit = override
	}

	tx, err := s.newToken()
	if err != nil {
		return Outcome{}, internal("generate token", err)
	}
	rec, created, err := s.repo.FindOrCreateBallot(ctx, Record{
		ID:        ids.New(),
		UID:       uid,
		Serial:    recorded,
		KioskID:   req.KioskID,
		Tx:        tx,
		CardSec:   req.CardSec,
		Category:  res.Category,
		Unit:      unit,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return Outcome{}, internal("find or create ballot", err)
	}
	out.Result.Unit = rec.Unit

	if created {
		out.CanVote, out.Tx, out.Created = true, rec.Tx, true
		s.audit.Record(ctx, audit.LevelInfo, "ballot.token.issued", map[string]any{
			"uid":    uid,
			"bypass": req.Bypass,
		})
		return out, nil
	}

	// Ownership is checked before commit state so a record that is both
	// foreign and committed always reports the inconsistency.
	if !sameSerial(rec.Serial, recorded) || rec.KioskID != req.KioskID {
		s.audit.Record(ctx, audit.LevelWarn, "ballot.token.rejected", map[string]any{
			"uid":    uid,
			"reason": string(CodeInconsistent),
		})
		return Outcome{}, &Error{Code: CodeInconsistent, Detail: uid}
	}
	if rec.Committed {
		s.audit.Record(ctx, audit.LevelWarn, "ballot.token.rejected", map[string]any{
			"uid":    uid,
			"reason": string(CodeAlreadyVoted),
		})
		return Outcome{}, &Error{Code: CodeAlreadyVoted, Detail: uid}
	}
	if overridden && rec.Unit != override {
		fields := map[string]any{"uid": uid, "stored_unit": rec.Unit, "override_unit": override}
		obs.Warn("override differs from stored ballot", fields)
		s.audit.Record(ctx, audit.LevelWarn, "ballot.override.stale", fields)
	}

	out.CanVote, out.Tx = true, rec.Tx
	s.audit.Record(ctx, audit.LevelInfo, "ballot.token.reissued", map[string]any{"uid": uid})
	return out, nil
}

func (s *Service) lookup(ctx context.Context, uid string, req Request) (eligibility.Result, *string, error) {
	if !req.Bypass {
		res, err := s.elig.Lookup(ctx, uid, req.Serial)
		return res, strPtr(req.Serial), err
	}
	s.audit.Record(ctx, audit.LevelWarn, "ballot.serial.bypass", map[string]any{"uid": uid})
	r, err := ResolveSerial(ctx, s.elig, uid)
	return r.Result, r.Serial, err
}

// Commit redeems tx for the kiosk. Unknown, foreign and already redeemed
// tokens are indistinguishable to the caller.
func (s *Service) Commit(ctx context.Context, tx, kioskID string) error {
	err := s.commit(ctx, strings.TrimSpace(tx), kioskID)
	if err != nil {
		obs.ObserveCommit(strings.ToLower(string(CodeOf(err))))
		return err
	}
	obs.ObserveCommit("ok")
	return nil
}

func (s *Service) commit(ctx context.Context, tx, kioskID string) error {
	if tx == "" {
		return ErrMissingTx
	}
	if !txPattern.MatchString(tx) {
		s.audit.Record(ctx, audit.LevelWarn, "ballot.commit.rejected", map[string]any{"reason": "malformed"})
		return &Error{Code: CodeTxNotFound, Detail: "malformed tx"}
	}
	ok, err := s.repo.CommitBallot(ctx, tx, kioskID, s.now())
	if err != nil {
		return internal("commit ballot", err)
	}
	if !ok {
		s.audit.Record(ctx, audit.LevelWarn, "ballot.commit.rejected", map[string]any{"reason": "no open ballot"})
		return &Error{Code: CodeTxNotFound}
	}
	s.audit.Record(ctx, audit.LevelInfo, "ballot.commit", nil)
	return nil
}

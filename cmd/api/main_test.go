package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"stakecourt/auth"
	"stakecourt/dispute"
	"stakecourt/escrow"
	"stakecourt/ledger"
	"stakecourt/metrics"
	"stakecourt/reputation"
	"stakecourt/treasury"
)

type stubAuth struct {
	principals map[string]auth.Principal
	registered auth.RegisterRequest
	granter    auth.Principal
	err        error
}

func (s *stubAuth) Register(_ context.Context, granter auth.Principal, req auth.RegisterRequest) (*auth.User, error) {
	s.registered = req
	s.granter = granter
	if s.err != nil {
		return nil, s.err
	}
	return &auth.User{ID: "u-new", Email: req.Email, DisplayName: req.DisplayName, Role: auth.RoleParticipant}, nil
}

func (s *stubAuth) Login(_ context.Context, _ auth.LoginRequest) (auth.LoginResult, error) {
	if s.err != nil {
		return auth.LoginResult{}, s.err
	}
	return auth.LoginResult{Token: "tok", User: auth.User{ID: "alice"}}, nil
}

func (s *stubAuth) VerifyToken(token string) (auth.Principal, error) {
	p, ok := s.principals[token]
	if !ok {
		return auth.Principal{}, auth.ErrInvalidToken
	}
	return p, nil
}

type stubDisputes struct {
	record    dispute.Dispute
	records   []dispute.Dispute
	err       error
	initiate  dispute.InitiateParams
	counter   dispute.CounterParams
	caller    string
	proposal  []byte
	windowOK  bool
	timeoutOK bool
}

func (s *stubDisputes) Initiate(_ context.Context, p dispute.InitiateParams) (dispute.Dispute, error) {
	s.initiate = p
	return s.record, s.err
}

func (s *stubDisputes) DepositStake(_ context.Context, _ int64, caller string) (dispute.Dispute, error) {
	s.caller = caller
	return s.record, s.err
}

func (s *stubDisputes) SubmitProposal(_ context.Context, _ int64, _ string, proposal []byte) (dispute.Dispute, error) {
	s.proposal = proposal
	return s.record, s.err
}

func (s *stubDisputes) AcceptProposal(_ context.Context, _ int64, caller string) (dispute.Dispute, error) {
	s.caller = caller
	return s.record, s.err
}

func (s *stubDisputes) CounterPropose(_ context.Context, p dispute.CounterParams) (dispute.Dispute, error) {
	s.counter = p
	return s.record, s.err
}

func (s *stubDisputes) EnforceTimeout(_ context.Context, _ int64, caller string) (dispute.Dispute, error) {
	s.caller = caller
	return s.record, s.err
}

func (s *stubDisputes) Get(_ context.Context, _ int64) (dispute.Dispute, error) {
	return s.record, s.err
}

func (s *stubDisputes) List(_ context.Context, _ string) ([]dispute.Dispute, error) {
	return s.records, s.err
}

func (s *stubDisputes) StakeWindowOpen(_ context.Context, _ int64) (bool, error) {
	return s.windowOK, s.err
}

func (s *stubDisputes) TimeoutDue(_ context.Context, _ int64) (bool, error) {
	return s.timeoutOK, s.err
}

type stubTreasury struct {
	req treasury.SubsidyRequest
	err error
}

func (s *stubTreasury) Deposit(context.Context, string, int64) error { return s.err }

func (s *stubTreasury) RequestSubsidy(_ context.Context, req treasury.SubsidyRequest) (treasury.Grant, error) {
	s.req = req
	if s.err != nil {
		return treasury.Grant{}, s.err
	}
	return treasury.Grant{DisputeID: req.DisputeID, Participant: req.Participant, Amount: 75}, nil
}

func (s *stubTreasury) Status(context.Context) (treasury.Status, error) {
	return treasury.Status{Denom: "STK", Balance: 1000}, s.err
}

type stubReputation struct {
	err error
}

func (s *stubReputation) Score(context.Context, string) (int64, error) { return 12, s.err }

func (s *stubReputation) SetScore(_ context.Context, caller auth.Principal, participant string, score int64, _ string) (reputation.ScoreDelta, error) {
	if !caller.CanScore() {
		return reputation.ScoreDelta{}, reputation.ErrNotAuthorized
	}
	return reputation.ScoreDelta{Participant: participant, After: score, Actor: caller.UserID}, s.err
}

func (s *stubReputation) Decay(context.Context, auth.Principal, int64) ([]reputation.ScoreDelta, error) {
	return nil, s.err
}

type stubLedger struct {
	funded int64
	err    error
}

func (s *stubLedger) Fund(_ context.Context, _ string, _ ledger.Denomination, amount int64) error {
	s.funded += amount
	return s.err
}

func (s *stubLedger) Withdraw(context.Context, string, ledger.Denomination, int64) error {
	return s.err
}

func (s *stubLedger) Balance(context.Context, ledger.Account) (int64, error) { return 500, s.err }

func newTestServer(d *stubDisputes) (*Server, *stubAuth) {
	a := &stubAuth{principals: map[string]auth.Principal{
		"alice-token": {UserID: "alice", Role: auth.RoleParticipant},
		"oracle":      {UserID: "oracle-1", Role: auth.RoleProposer},
		"admin":       {UserID: "root", Role: auth.RoleAdmin},
	}}
	return &Server{
		authService:       a,
		disputeService:    d,
		treasuryService:   &stubTreasury{},
		reputationService: &stubReputation{},
		ledgerService:     &stubLedger{},
		denom:             "STK",
		metrics:           metrics.New(),
	}, a
}

func do(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func sampleDispute() dispute.Dispute {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return dispute.Dispute{
		ID:             7,
		Initiator:      "alice",
		Counterparty:   "bob",
		InitiatorStake: 150,
		StartTime:      start,
		Deadline:       start.Add(168 * time.Hour),
		EvidenceRef:    "ipfs://evidence",
		Outcome:        dispute.OutcomePending,
		FallbackTerms:  dispute.FallbackTerms{TermsRef: "ipfs://terms", Duration: time.Hour, RoyaltyCapBps: 500},
	}
}

func TestInitiateUsesCallerAsInitiator(t *testing.T) {
	d := &stubDisputes{record: sampleDispute()}
	srv, _ := newTestServer(d)

	body := `{"counterparty":"bob","stake":100,"evidence_ref":"ipfs://evidence",
		"fallback_terms":{"terms_ref":"ipfs://terms","duration_secs":3600,"royalty_cap_bps":500}}`
	rec := do(t, srv.Routes(), http.MethodPost, "/v1/disputes", "alice-token", body)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}
	if d.initiate.Initiator != "alice" || d.initiate.Stake != 100 || d.initiate.FallbackTerms.Duration != time.Hour {
		t.Fatalf("unexpected params: %+v", d.initiate)
	}

	var resp disputeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != 7 || resp.Status != string(dispute.StatusInitiated) || resp.InitiatorStake != 150 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.FallbackTerms.DurationSecs != 3600 {
		t.Fatalf("expected duration 3600s, got %d", resp.FallbackTerms.DurationSecs)
	}
}

func TestInitiateValidation(t *testing.T) {
	srv, _ := newTestServer(&stubDisputes{})
	h := srv.Routes()

	cases := map[string]string{
		"zero stake":     `{"counterparty":"bob","stake":0,"evidence_ref":"e","fallback_terms":{"terms_ref":"t","duration_secs":1}}`,
		"no evidence":    `{"counterparty":"bob","stake":10,"fallback_terms":{"terms_ref":"t","duration_secs":1}}`,
		"unknown field":  `{"counterparty":"bob","stake":10,"evidence_ref":"e","bogus":1}`,
		"malformed json": `{"counterparty":`,
		"royalty > 100%": `{"counterparty":"bob","stake":10,"evidence_ref":"e","fallback_terms":{"terms_ref":"t","duration_secs":1,"royalty_cap_bps":20000}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/v1/disputes", "alice-token", body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body)
			}
		})
	}
}

func TestRequiresBearerToken(t *testing.T) {
	srv, _ := newTestServer(&stubDisputes{})
	h := srv.Routes()

	if rec := do(t, h, http.MethodGet, "/v1/disputes", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/v1/disputes", "forged", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with unknown token, got %d", rec.Code)
	}
}

func TestRejectionKindsMapToStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{dispute.ErrZeroStake, http.StatusBadRequest},
		{dispute.ErrNotCounterparty, http.StatusForbidden},
		{dispute.ErrNotFound, http.StatusNotFound},
		{dispute.ErrNotDue, http.StatusConflict},
		{dispute.ErrStakeWindowClosed, http.StatusBadRequest},
		{dispute.ErrDeadlinePassed, http.StatusBadRequest},
		{ledger.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{treasury.ErrScoreUnavailable, http.StatusServiceUnavailable},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		d := &stubDisputes{err: tc.err}
		srv, _ := newTestServer(d)
		rec := do(t, srv.Routes(), http.MethodPost, "/v1/disputes/7/timeout", "alice-token", "")
		if rec.Code != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, rec.Code)
		}
		if tc.want == http.StatusInternalServerError && strings.Contains(rec.Body.String(), "connection reset") {
			t.Fatalf("internal error leaked: %s", rec.Body)
		}
	}
}

func TestPartyActionsPassCaller(t *testing.T) {
	d := &stubDisputes{record: sampleDispute()}
	srv, _ := newTestServer(d)
	h := srv.Routes()

	for _, path := range []string{"/v1/disputes/7/stake", "/v1/disputes/7/accept", "/v1/disputes/7/timeout"} {
		d.caller = ""
		rec := do(t, h, http.MethodPost, path, "alice-token", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
		if d.caller != "alice" {
			t.Fatalf("%s: caller = %q", path, d.caller)
		}
	}

	if rec := do(t, h, http.MethodPost, "/v1/disputes/abc/stake", "alice-token", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", rec.Code)
	}
}

func TestSubmitProposalRequiresProposerRole(t *testing.T) {
	d := &stubDisputes{record: sampleDispute()}
	srv, _ := newTestServer(d)
	h := srv.Routes()
	body := `{"proposal":"c3BsaXQgNjAvNDA=","credential":"signed"}`

	if rec := do(t, h, http.MethodPost, "/v1/disputes/7/proposal", "alice-token", body); rec.Code != http.StatusForbidden {
		t.Fatalf("participant: expected 403, got %d", rec.Code)
	}
	rec := do(t, h, http.MethodPost, "/v1/disputes/7/proposal", "oracle", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("proposer: expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if string(d.proposal) != "split 60/40" {
		t.Fatalf("proposal = %q", d.proposal)
	}
	if rec := do(t, h, http.MethodPost, "/v1/disputes/7/proposal", "oracle", `{"proposal":"eA=="}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing credential: expected 400, got %d", rec.Code)
	}
}

func TestCounterPassesFee(t *testing.T) {
	d := &stubDisputes{record: sampleDispute()}
	srv, _ := newTestServer(d)

	rec := do(t, srv.Routes(), http.MethodPost, "/v1/disputes/7/counter", "alice-token", `{"evidence_ref":"ipfs://v2","fee":1500}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if d.counter.DisputeID != 7 || d.counter.Caller != "alice" || d.counter.FeePaid != 1500 || d.counter.EvidenceRef != "ipfs://v2" {
		t.Fatalf("unexpected params: %+v", d.counter)
	}
}

func TestResolvedDisputeCarriesSettlement(t *testing.T) {
	rec := sampleDispute()
	resolvedAt := rec.Deadline
	rec.Resolved = true
	rec.Outcome = dispute.OutcomeTimeoutWithBurn
	rec.Settlement = &escrow.Settlement{InitiatorRefund: 50, CounterpartyRefund: 50, Burn: 100}
	rec.ResolvedAt = &resolvedAt

	srv, _ := newTestServer(&stubDisputes{record: rec})
	res := do(t, srv.Routes(), http.MethodGet, "/v1/disputes/7", "alice-token", "")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var resp disputeResponse
	if err := json.Unmarshal(res.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != string(dispute.StatusResolved) || resp.Settlement == nil || resp.Settlement.Burn != 100 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestPollingEndpoints(t *testing.T) {
	d := &stubDisputes{windowOK: true}
	srv, _ := newTestServer(d)
	h := srv.Routes()

	for i := 0; i < 2; i++ {
		rec := do(t, h, http.MethodGet, "/v1/disputes/7/stake-window", "alice-token", "")
		var body struct {
			Open bool `json:"open"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || !body.Open {
			t.Fatalf("stake window poll %d: %s", i, rec.Body)
		}
	}
	rec := do(t, h, http.MethodGet, "/v1/disputes/7/timeout-due", "alice-token", "")
	if !strings.Contains(rec.Body.String(), `"due":false`) {
		t.Fatalf("timeout-due body: %s", rec.Body)
	}
}

func TestSubsidyUsesCallerAsParticipant(t *testing.T) {
	srv, _ := newTestServer(&stubDisputes{})
	tr := &stubTreasury{}
	srv.treasuryService = tr

	rec := do(t, srv.Routes(), http.MethodPost, "/v1/treasury/subsidies", "alice-token", `{"dispute_id":7,"amount_needed":100}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}
	if tr.req.Caller != "alice" || tr.req.Participant != "alice" || tr.req.DisputeID != 7 {
		t.Fatalf("unexpected request: %+v", tr.req)
	}

	tr.err = treasury.ErrBlocked
	rec = do(t, srv.Routes(), http.MethodPost, "/v1/treasury/subsidies", "alice-token", `{"dispute_id":7,"amount_needed":100}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("blocked: expected 422, got %d", rec.Code)
	}
}

func TestFundRequiresAdmin(t *testing.T) {
	srv, _ := newTestServer(&stubDisputes{})
	l := &stubLedger{}
	srv.ledgerService = l
	h := srv.Routes()
	body := `{"participant":"bob","amount":1000}`

	if rec := do(t, h, http.MethodPost, "/v1/ledger/fund", "alice-token", body); rec.Code != http.StatusForbidden {
		t.Fatalf("participant fund: expected 403, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/v1/ledger/fund", "admin", body); rec.Code != http.StatusAccepted {
		t.Fatalf("admin fund: expected 202, got %d", rec.Code)
	}
	if l.funded != 1000 {
		t.Fatalf("funded = %d", l.funded)
	}
}

func TestSetScoreForbiddenForParticipant(t *testing.T) {
	srv, _ := newTestServer(&stubDisputes{})
	rec := do(t, srv.Routes(), http.MethodPut, "/v1/reputation/bob", "alice-token", `{"score":55,"reason":"spam"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	rec = do(t, srv.Routes(), http.MethodPut, "/v1/reputation/bob", "admin", `{"score":55}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin: expected 200, got %d", rec.Code)
	}
}

func TestRegisterPassesAdminGranter(t *testing.T) {
	srv, a := newTestServer(&stubDisputes{})
	h := srv.Routes()
	body := `{"email":"oracle@example.com","password":"longenough","display_name":"Oracle","role":"proposer"}`

	rec := do(t, h, http.MethodPost, "/v1/auth/register", "admin", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}
	if !a.granter.IsAdmin() || a.registered.Role != auth.RoleProposer {
		t.Fatalf("granter %+v role %q", a.granter, a.registered.Role)
	}

	if rec := do(t, h, http.MethodPost, "/v1/auth/register", "", `{"email":"not-an-email","password":"longenough","display_name":"x"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad email: expected 400, got %d", rec.Code)
	}

	a.err = auth.ErrInvalidCredentials
	if rec := do(t, h, http.MethodPost, "/v1/auth/login", "", `{"email":"a@example.com","password":"x"}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("login: expected 401, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(&stubDisputes{})
	h := srv.Routes()
	do(t, h, http.MethodGet, "/healthz", "", "")

	rec := do(t, h, http.MethodGet, "/metrics", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "stakecourt_http_requests_total") {
		t.Fatalf("metrics: %d %s", rec.Code, rec.Body)
	}
}

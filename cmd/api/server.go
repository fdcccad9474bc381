package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"stakecourt/auth"
	"stakecourt/dispute"
	"stakecourt/fault"
	"stakecourt/ledger"
	"stakecourt/metrics"
	"stakecourt/reputation"
	"stakecourt/treasury"
)

type ctxKey string

const ctxKeyPrincipal ctxKey = "principal"

type authService interface {
	Register(ctx context.Context, granter auth.Principal, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (auth.Principal, error)
}

type disputeService interface {
	Initiate(ctx context.Context, p dispute.InitiateParams) (dispute.Dispute, error)
	DepositStake(ctx context.Context, id int64, caller string) (dispute.Dispute, error)
	SubmitProposal(ctx context.Context, id int64, credential string, proposal []byte) (dispute.Dispute, error)
	AcceptProposal(ctx context.Context, id int64, caller string) (dispute.Dispute, error)
	CounterPropose(ctx context.Context, p dispute.CounterParams) (dispute.Dispute, error)
	EnforceTimeout(ctx context.Context, id int64, caller string) (dispute.Dispute, error)
	Get(ctx context.Context, id int64) (dispute.Dispute, error)
	List(ctx context.Context, participant string) ([]dispute.Dispute, error)
	StakeWindowOpen(ctx context.Context, id int64) (bool, error)
	TimeoutDue(ctx context.Context, id int64) (bool, error)
}

type treasuryService interface {
	Deposit(ctx context.Context, from string, amount int64) error
	RequestSubsidy(ctx context.Context, req treasury.SubsidyRequest) (treasury.Grant, error)
	Status(ctx context.Context) (treasury.Status, error)
}

type reputationService interface {
	Score(ctx context.Context, participant string) (int64, error)
	SetScore(ctx context.Context, caller auth.Principal, participant string, score int64, reason string) (reputation.ScoreDelta, error)
	Decay(ctx context.Context, caller auth.Principal, points int64) ([]reputation.ScoreDelta, error)
}

type ledgerService interface {
	Fund(ctx context.Context, participant string, denom ledger.Denomination, amount int64) error
	Withdraw(ctx context.Context, participant string, denom ledger.Denomination, amount int64) error
	Balance(ctx context.Context, acct ledger.Account) (int64, error)
}

// Server is the HTTP surface over every stakecourt operation.
type Server struct {
	authService       authService
	disputeService    disputeService
	treasuryService   treasuryService
	reputationService reputationService
	ledgerService     ledgerService
	denom             ledger.Denomination
	metrics           *metrics.Collector
	log               *slog.Logger
	validate          *validator.Validate
}

func (s *Server) logger() *slog.Logger {
	if s.log == nil {
		return slog.Default()
	}
	return s.log
}

func (s *Server) validator() *validator.Validate {
	if s.validate == nil {
		s.validate = validator.New()
	}
	return s.validate
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Route("/disputes", func(r chi.Router) {
				r.Get("/", s.handleListDisputes)
				r.Post("/", s.handleInitiate)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDispute)
					r.Post("/stake", s.handleDepositStake)
					r.Post("/proposal", s.handleSubmitProposal)
					r.Post("/accept", s.handleAccept)
					r.Post("/counter", s.handleCounter)
					r.Post("/timeout", s.handleEnforceTimeout)
					r.Get("/stake-window", s.handleStakeWindow)
					r.Get("/timeout-due", s.handleTimeoutDue)
				})
			})

			r.Get("/treasury", s.handleTreasuryStatus)
			r.Post("/treasury/deposits", s.handleTreasuryDeposit)
			r.Post("/treasury/subsidies", s.handleRequestSubsidy)

			r.Get("/reputation/{participant}", s.handleGetScore)
			r.Put("/reputation/{participant}", s.handleSetScore)
			r.Post("/reputation/decay", s.handleDecay)

			r.Get("/ledger/balance", s.handleBalance)
			r.Post("/ledger/fund", s.handleFund)
			r.Post("/ledger/withdraw", s.handleWithdraw)
		})
	})
	return r
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.ObserveHTTP(route, status, time.Since(start))
	})
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		p, err := s.authService.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyPrincipal, p)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	token = strings.TrimSpace(token)
	return token, ok && token != ""
}

func principalFrom(r *http.Request) (auth.Principal, bool) {
	p, ok := r.Context().Value(ctxKeyPrincipal).(auth.Principal)
	return p, ok && p.UserID != ""
}

// Auth

type registerRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8"`
	DisplayName string `json:"display_name" validate:"required,max=120"`
	Role        string `json:"role" validate:"omitempty,oneof=participant proposer scorer admin"`
}

type userResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	CreatedAt   string `json:"created_at"`
}

func toUserResponse(u auth.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        string(u.Role),
		CreatedAt:   u.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.decode(w, r, &req) {
		return
	}

	// An admin token on the request lets the caller grant privileged roles.
	var granter auth.Principal
	if token, ok := bearerToken(r); ok {
		p, err := s.authService.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		granter = p
	}

	user, err := s.authService.Register(r.Context(), granter, auth.RegisterRequest{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		Role:        auth.Role(req.Role),
	})
	if err != nil {
		s.writeFault(w, r, "register", err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(*user))
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.authService.Login(r.Context(), auth.LoginRequest{Email: req.Email, Password: req.Password})
	if err != nil {
		s.writeFault(w, r, "login", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": res.Token,
		"user":  toUserResponse(res.User),
	})
}

// Disputes

type fallbackTermsRequest struct {
	TermsRef      string `json:"terms_ref" validate:"required"`
	DurationSecs  int64  `json:"duration_secs" validate:"gt=0"`
	RoyaltyCapBps int64  `json:"royalty_cap_bps" validate:"gte=0,lte=10000"`
}

type initiateRequest struct {
	Counterparty  string               `json:"counterparty" validate:"required"`
	Stake         int64                `json:"stake" validate:"gt=0"`
	EvidenceRef   string               `json:"evidence_ref" validate:"required"`
	FallbackTerms fallbackTermsRequest `json:"fallback_terms"`
}

type settlementResponse struct {
	InitiatorRefund    int64 `json:"initiator_refund"`
	CounterpartyRefund int64 `json:"counterparty_refund"`
	Burn               int64 `json:"burn"`
	Dust               int64 `json:"dust"`
	Incentive          int64 `json:"incentive"`
	SubsidyReturn      int64 `json:"subsidy_return"`
	SubsidyReclaimed   int64 `json:"subsidy_reclaimed"`
}

type disputeResponse struct {
	ID                   int64               `json:"id"`
	Status               string              `json:"status"`
	Initiator            string              `json:"initiator"`
	Counterparty         string              `json:"counterparty"`
	InitiatorStake       int64               `json:"initiator_stake"`
	CounterpartyStake    int64               `json:"counterparty_stake"`
	CounterpartySubsidy  int64               `json:"counterparty_subsidy"`
	StartTime            string              `json:"start_time"`
	Deadline             string              `json:"deadline"`
	EvidenceRef          string              `json:"evidence_ref"`
	CurrentProposal      []byte              `json:"current_proposal,omitempty"`
	InitiatorAccepted    bool                `json:"initiator_accepted"`
	CounterpartyAccepted bool                `json:"counterparty_accepted"`
	Resolved             bool                `json:"resolved"`
	Outcome              string              `json:"outcome"`
	FallbackTerms        fallbackTermsReply  `json:"fallback_terms"`
	CounterCount         int                 `json:"counter_count"`
	FeesBurned           int64               `json:"fees_burned"`
	FeesSwept            int64               `json:"fees_swept"`
	Settlement           *settlementResponse `json:"settlement,omitempty"`
	ResolvedAt           string              `json:"resolved_at,omitempty"`
}

type fallbackTermsReply struct {
	TermsRef      string `json:"terms_ref"`
	DurationSecs  int64  `json:"duration_secs"`
	RoyaltyCapBps int64  `json:"royalty_cap_bps"`
}

func toDisputeResponse(d dispute.Dispute) disputeResponse {
	resp := disputeResponse{
		ID:                   d.ID,
		Status:               string(d.Status()),
		Initiator:            d.Initiator,
		Counterparty:         d.Counterparty,
		InitiatorStake:       d.InitiatorStake,
		CounterpartyStake:    d.CounterpartyStake,
		CounterpartySubsidy:  d.CounterpartySubsidy,
		StartTime:            d.StartTime.UTC().Format(time.RFC3339),
		Deadline:             d.Deadline.UTC().Format(time.RFC3339),
		EvidenceRef:          d.EvidenceRef,
		CurrentProposal:      d.CurrentProposal,
		InitiatorAccepted:    d.InitiatorAccepted,
		CounterpartyAccepted: d.CounterpartyAccepted,
		Resolved:             d.Resolved,
		Outcome:              string(d.Outcome),
		FallbackTerms: fallbackTermsReply{
			TermsRef:      d.FallbackTerms.TermsRef,
			DurationSecs:  int64(d.FallbackTerms.Duration / time.Second),
			RoyaltyCapBps: d.FallbackTerms.RoyaltyCapBps,
		},
		CounterCount: d.CounterCount,
		FeesBurned:   d.FeesBurned,
		FeesSwept:    d.FeesSwept,
	}
	if d.Settlement != nil {
		resp.Settlement = &settlementResponse{
			InitiatorRefund:    d.Settlement.InitiatorRefund,
			CounterpartyRefund: d.Settlement.CounterpartyRefund,
			Burn:               d.Settlement.Burn,
			Dust:               d.Settlement.Dust,
			Incentive:          d.Settlement.Incentive,
			SubsidyReturn:      d.Settlement.SubsidyReturn,
			SubsidyReclaimed:   d.Settlement.SubsidyReclaimed,
		}
	}
	if d.ResolvedAt != nil {
		resp.ResolvedAt = d.ResolvedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req initiateRequest
	if !s.decode(w, r, &req) {
		return
	}
	d, err := s.disputeService.Initiate(r.Context(), dispute.InitiateParams{
		Initiator:    p.UserID,
		Counterparty: req.Counterparty,
		Stake:        req.Stake,
		EvidenceRef:  req.EvidenceRef,
		FallbackTerms: dispute.FallbackTerms{
			TermsRef:      req.FallbackTerms.TermsRef,
			Duration:      time.Duration(req.FallbackTerms.DurationSecs) * time.Second,
			RoyaltyCapBps: req.FallbackTerms.RoyaltyCapBps,
		},
	})
	if err != nil {
		s.writeFault(w, r, "initiate", err)
		return
	}
	writeJSON(w, http.StatusCreated, toDisputeResponse(d))
}

func (s *Server) handleListDisputes(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	records, err := s.disputeService.List(r.Context(), p.UserID)
	if err != nil {
		s.writeFault(w, r, "list disputes", err)
		return
	}
	items := make([]disputeResponse, 0, len(records))
	for _, d := range records {
		items = append(items, toDisputeResponse(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleGetDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := disputeID(w, r)
	if !ok {
		return
	}
	d, err := s.disputeService.Get(r.Context(), id)
	if err != nil {
		s.writeFault(w, r, "get dispute", err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(d))
}

// partyAction runs a dispute transition that only needs the caller's id.
func (s *Server) partyAction(op string, fn func(ctx context.Context, id int64, caller string) (dispute.Dispute, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principalFrom(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		id, ok := disputeID(w, r)
		if !ok {
			return
		}
		d, err := fn(r.Context(), id, p.UserID)
		if err != nil {
			s.writeFault(w, r, op, err)
			return
		}
		writeJSON(w, http.StatusOK, toDisputeResponse(d))
	}
}

func (s *Server) handleDepositStake(w http.ResponseWriter, r *http.Request) {
	s.partyAction("deposit stake", s.disputeService.DepositStake)(w, r)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	s.partyAction("accept proposal", s.disputeService.AcceptProposal)(w, r)
}

func (s *Server) handleEnforceTimeout(w http.ResponseWriter, r *http.Request) {
	s.partyAction("enforce timeout", s.disputeService.EnforceTimeout)(w, r)
}

type proposalRequest struct {
	Proposal   []byte `json:"proposal" validate:"required"`
	Credential string `json:"credential" validate:"required"`
}

func (s *Server) handleSubmitProposal(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if p.Role != auth.RoleProposer && p.Role != auth.RoleAdmin {
		writeError(w, http.StatusForbidden, "proposer role required")
		return
	}
	id, ok := disputeID(w, r)
	if !ok {
		return
	}
	var req proposalRequest
	if !s.decode(w, r, &req) {
		return
	}
	d, err := s.disputeService.SubmitProposal(r.Context(), id, req.Credential, req.Proposal)
	if err != nil {
		s.writeFault(w, r, "submit proposal", err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(d))
}

type counterRequest struct {
	EvidenceRef string `json:"evidence_ref" validate:"required"`
	Fee         int64  `json:"fee" validate:"gt=0"`
}

func (s *Server) handleCounter(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, ok := disputeID(w, r)
	if !ok {
		return
	}
	var req counterRequest
	if !s.decode(w, r, &req) {
		return
	}
	d, err := s.disputeService.CounterPropose(r.Context(), dispute.CounterParams{
		DisputeID:   id,
		Caller:      p.UserID,
		EvidenceRef: req.EvidenceRef,
		FeePaid:     req.Fee,
	})
	if err != nil {
		s.writeFault(w, r, "counter propose", err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(d))
}

func (s *Server) handleStakeWindow(w http.ResponseWriter, r *http.Request) {
	id, ok := disputeID(w, r)
	if !ok {
		return
	}
	open, err := s.disputeService.StakeWindowOpen(r.Context(), id)
	if err != nil {
		s.writeFault(w, r, "stake window", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dispute_id": id, "open": open})
}

func (s *Server) handleTimeoutDue(w http.ResponseWriter, r *http.Request) {
	id, ok := disputeID(w, r)
	if !ok {
		return
	}
	due, err := s.disputeService.TimeoutDue(r.Context(), id)
	if err != nil {
		s.writeFault(w, r, "timeout due", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dispute_id": id, "due": due})
}

// Treasury

func (s *Server) handleTreasuryStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.treasuryService.Status(r.Context())
	if err != nil {
		s.writeFault(w, r, "treasury status", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type amountRequest struct {
	Amount int64 `json:"amount" validate:"gt=0"`
}

func (s *Server) handleTreasuryDeposit(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req amountRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.treasuryService.Deposit(r.Context(), p.UserID, req.Amount); err != nil {
		s.writeFault(w, r, "treasury deposit", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"deposited": req.Amount})
}

type subsidyRequest struct {
	DisputeID    int64 `json:"dispute_id" validate:"gt=0"`
	AmountNeeded int64 `json:"amount_needed" validate:"gt=0"`
}

func (s *Server) handleRequestSubsidy(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req subsidyRequest
	if !s.decode(w, r, &req) {
		return
	}
	g, err := s.treasuryService.RequestSubsidy(r.Context(), treasury.SubsidyRequest{
		Caller:       p.UserID,
		DisputeID:    req.DisputeID,
		Participant:  p.UserID,
		AmountNeeded: req.AmountNeeded,
	})
	if err != nil {
		s.writeFault(w, r, "request subsidy", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"dispute_id":  g.DisputeID,
		"participant": g.Participant,
		"amount":      g.Amount,
		"granted_at":  g.GrantedAt.UTC().Format(time.RFC3339),
	})
}

// Reputation

func (s *Server) handleGetScore(w http.ResponseWriter, r *http.Request) {
	participant := chi.URLParam(r, "participant")
	score, err := s.reputationService.Score(r.Context(), participant)
	if err != nil {
		s.writeFault(w, r, "get score", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"participant": participant, "score": score})
}

type setScoreRequest struct {
	Score  int64  `json:"score" validate:"gte=0"`
	Reason string `json:"reason" validate:"max=500"`
}

func (s *Server) handleSetScore(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req setScoreRequest
	if !s.decode(w, r, &req) {
		return
	}
	delta, err := s.reputationService.SetScore(r.Context(), p, chi.URLParam(r, "participant"), req.Score, req.Reason)
	if err != nil {
		s.writeFault(w, r, "set score", err)
		return
	}
	writeJSON(w, http.StatusOK, delta)
}

type decayRequest struct {
	Points int64 `json:"points" validate:"gt=0"`
}

func (s *Server) handleDecay(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req decayRequest
	if !s.decode(w, r, &req) {
		return
	}
	deltas, err := s.reputationService.Decay(r.Context(), p, req.Points)
	if err != nil {
		s.writeFault(w, r, "decay", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": deltas})
}

// Ledger

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	bal, err := s.ledgerService.Balance(r.Context(), ledger.Participant(p.UserID, s.denom))
	if err != nil {
		s.writeFault(w, r, "balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"participant": p.UserID, "denom": s.denom, "balance": bal})
}

type fundRequest struct {
	Participant string `json:"participant" validate:"required"`
	Amount      int64  `json:"amount" validate:"gt=0"`
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !p.IsAdmin() {
		writeError(w, http.StatusForbidden, "admin role required")
		return
	}
	var req fundRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.ledgerService.Fund(r.Context(), req.Participant, s.denom, req.Amount); err != nil {
		s.writeFault(w, r, "fund", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"participant": req.Participant, "funded": req.Amount})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req amountRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.ledgerService.Withdraw(r.Context(), p.UserID, s.denom, req.Amount); err != nil {
		s.writeFault(w, r, "withdraw", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"withdrawn": req.Amount})
}

// Helpers

func disputeID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid dispute id")
		return 0, false
	}
	return id, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload")
		return false
	}
	if err := s.validator().Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeError(w, http.StatusBadRequest, "invalid field "+strings.ToLower(verrs[0].Field()))
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request payload")
		return false
	}
	return true
}

// statusFor maps a rejection class to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	}
	switch fault.KindOf(err) {
	case fault.Validation:
		return http.StatusBadRequest
	case fault.Authorization:
		return http.StatusForbidden
	case fault.NotFound:
		return http.StatusNotFound
	case fault.Timing:
		return http.StatusConflict
	case fault.Economic:
		return http.StatusUnprocessableEntity
	case fault.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeFault(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger().ErrorContext(r.Context(), "request failed", "op", op, "error", err)
		writeError(w, status, "internal error")
		return
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  fault.KindOf(err).String(),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

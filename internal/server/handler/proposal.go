package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/fateprotocol/fate-engine/internal/domain"
	"github.com/fateprotocol/fate-engine/internal/service"
)

// ProposalAPI defines the methods that the proposal handler requires from the
// service layer.
type ProposalAPI interface {
	CreateProposal(ctx context.Context, req service.ProposeRequest) (*domain.Proposal, error)
	GetProposal(ctx context.Context, id uint64) (*domain.Proposal, error)
	ListProposals(ctx context.Context, status domain.ProposalStatus, opts domain.ListOpts) ([]*domain.Proposal, error)
	Vote(ctx context.Context, id uint64, voter string, outcome domain.Outcome, amount uint64) (*domain.Proposal, error)
	ResolveProposal(ctx context.Context, id uint64) (*domain.Proposal, error)
	ClaimTokens(ctx context.Context, id uint64, voter string) (uint64, error)
	ExecuteProposal(ctx context.Context, id uint64) (*domain.Proposal, error)
	CancelProposal(ctx context.Context, id uint64, by string) (*domain.Proposal, error)
}

// ProposalHandler serves governance proposal HTTP endpoints.
type ProposalHandler struct {
	proposals ProposalAPI
	logger    *slog.Logger
}

// NewProposalHandler creates a ProposalHandler with the given service and
// logger.
func NewProposalHandler(proposals ProposalAPI, logger *slog.Logger) *ProposalHandler {
	return &ProposalHandler{
		proposals: proposals,
		logger:    logger,
	}
}

// positionView is the API shape of one voter's position.
type positionView struct {
	Voter     string `json:"voter"`
	PassStake uint64 `json:"pass_stake"`
	FailStake uint64 `json:"fail_stake"`
	Claimed   bool   `json:"claimed"`
}

// proposalView is the API shape of a proposal, including the implied market
// prices of both sides.
type proposalView struct {
	ID                uint64         `json:"id"`
	Proposer          string         `json:"proposer"`
	ProposerStake     uint64         `json:"proposer_stake"`
	ProposerStakeSOL  string         `json:"proposer_stake_sol"`
	MarketName        string         `json:"market_name"`
	MarketDescription string         `json:"market_description"`
	FeedID            string         `json:"feed_id"`
	Status            string         `json:"status"`
	FeeBps            uint16         `json:"fee_bps"`
	PassPool          uint64         `json:"pass_pool"`
	FailPool          uint64         `json:"fail_pool"`
	PassPrice         uint32         `json:"pass_price"`
	FailPrice         uint32         `json:"fail_price"`
	TotalVolume       uint64         `json:"total_volume"`
	TotalVolumeSOL    string         `json:"total_volume_sol"`
	Refund            bool           `json:"refund"`
	Positions         []positionView `json:"positions"`
	VotingEndsAt      time.Time      `json:"voting_ends_at"`
	CreatedAt         time.Time      `json:"created_at"`
	ResolvedAt        *time.Time     `json:"resolved_at,omitempty"`
	ExecutedAt        *time.Time     `json:"executed_at,omitempty"`
}

func newProposalView(p *domain.Proposal) proposalView {
	v := proposalView{
		ID:                p.ID,
		Proposer:          p.Proposer,
		ProposerStake:     p.ProposerStake,
		ProposerStakeSOL:  sol(p.ProposerStake),
		MarketName:        p.MarketName,
		MarketDescription: p.MarketDescription,
		FeedID:            p.FeedID,
		Status:            string(p.Status),
		FeeBps:            p.FeeBps,
		PassPool:          p.Pool.Stake(domain.SideA),
		FailPool:          p.Pool.Stake(domain.SideB),
		PassPrice:         p.Pool.Price(domain.SideA),
		FailPrice:         p.Pool.Price(domain.SideB),
		TotalVolume:       p.TotalVolume,
		TotalVolumeSOL:    sol(p.TotalVolume),
		Refund:            p.Refund,
		Positions:         make([]positionView, 0, len(p.Positions)),
		VotingEndsAt:      p.VotingEndsAt,
		CreatedAt:         p.CreatedAt,
		ResolvedAt:        p.ResolvedAt,
		ExecutedAt:        p.ExecutedAt,
	}
	for _, pos := range p.Positions {
		v.Positions = append(v.Positions, positionView{
			Voter:     pos.Voter,
			PassStake: pos.PassStake,
			FailStake: pos.FailStake,
			Claimed:   pos.Claimed,
		})
	}
	return v
}

// createProposalRequest is the JSON body for POST /api/proposals.
type createProposalRequest struct {
	Proposer          string `json:"proposer"`
	Stake             uint64 `json:"stake"`
	MarketName        string `json:"market_name"`
	MarketDescription string `json:"market_description"`
	FeedID            string `json:"feed_id"`
	VotingPeriod      string `json:"voting_period"`
}

// CreateProposal creates a new governance proposal with the proposer's stake
// escrowed.
// POST /api/proposals
func (h *ProposalHandler) CreateProposal(w http.ResponseWriter, r *http.Request) {
	var body createProposalRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	period, err := time.ParseDuration(body.VotingPeriod)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid voting_period")
		return
	}

	p, err := h.proposals.CreateProposal(r.Context(), service.ProposeRequest{
		Proposer:          body.Proposer,
		Stake:             body.Stake,
		MarketName:        body.MarketName,
		MarketDescription: body.MarketDescription,
		FeedID:            body.FeedID,
		VotingPeriod:      period,
	})
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: create proposal failed",
			slog.String("proposer", body.Proposer),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, newProposalView(p))
}

// listProposalsResponse wraps the list endpoint output with metadata.
type listProposalsResponse struct {
	Proposals []proposalView `json:"proposals"`
	Limit     int            `json:"limit"`
	Offset    int            `json:"offset"`
}

// ListProposals returns proposals filtered by status with pagination.
// GET /api/proposals?status=voting&limit=50&offset=0
func (h *ProposalHandler) ListProposals(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	status := domain.ProposalStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = domain.ProposalStatusVoting
	}

	proposals, err := h.proposals.ListProposals(r.Context(), status, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list proposals failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	views := make([]proposalView, 0, len(proposals))
	for _, p := range proposals {
		views = append(views, newProposalView(p))
	}

	writeJSON(w, http.StatusOK, listProposalsResponse{
		Proposals: views,
		Limit:     opts.Limit,
		Offset:    opts.Offset,
	})
}

// GetProposal returns a single proposal by id.
// GET /api/proposals/{id}
func (h *ProposalHandler) GetProposal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := h.proposals.GetProposal(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newProposalView(p))
}

// voteRequest is the JSON body for POST /api/proposals/{id}/vote.
type voteRequest struct {
	Voter   string `json:"voter"`
	Outcome string `json:"outcome"`
	Amount  uint64 `json:"amount"`
}

// Vote stakes an amount on one side of a proposal market.
// POST /api/proposals/{id}/vote
func (h *ProposalHandler) Vote(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var body voteRequest
	if err := decodeBody(r, &body); err != nil || body.Voter == "" {
		writeError(w, http.StatusBadRequest, "voter is required")
		return
	}

	outcome := domain.Outcome(body.Outcome)
	if !outcome.Valid() {
		writeError(w, http.StatusBadRequest, "outcome must be \"pass\" or \"fail\"")
		return
	}

	p, err := h.proposals.Vote(r.Context(), id, body.Voter, outcome, body.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newProposalView(p))
}

// ResolveProposal settles a proposal after the voting deadline. Resolution
// is permissionless.
// POST /api/proposals/{id}/resolve
func (h *ProposalHandler) ResolveProposal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := h.proposals.ResolveProposal(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newProposalView(p))
}

// voterRequest is the JSON body for voter-scoped proposal operations.
type voterRequest struct {
	Voter string `json:"voter"`
}

// ClaimTokens pays out a voter's settled winnings or refund, once.
// POST /api/proposals/{id}/claim
func (h *ProposalHandler) ClaimTokens(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var body voterRequest
	if err := decodeBody(r, &body); err != nil || body.Voter == "" {
		writeError(w, http.StatusBadRequest, "voter is required")
		return
	}

	amount, err := h.proposals.ClaimTokens(r.Context(), id, body.Voter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, claimResponse{
		Amount:    amount,
		AmountSOL: sol(amount),
	})
}

// ExecuteProposal executes a passed proposal, creating its market and
// returning the proposer's stake plus bonus.
// POST /api/proposals/{id}/execute
func (h *ProposalHandler) ExecuteProposal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := h.proposals.ExecuteProposal(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newProposalView(p))
}

// CancelProposal cancels a voting proposal with empty pools. Only the
// proposer may cancel.
// POST /api/proposals/{id}/cancel
func (h *ProposalHandler) CancelProposal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var body voterRequest
	if err := decodeBody(r, &body); err != nil || body.Voter == "" {
		writeError(w, http.StatusBadRequest, "voter is required")
		return
	}

	p, err := h.proposals.CancelProposal(r.Context(), id, body.Voter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newProposalView(p))
}

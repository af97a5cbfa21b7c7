package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/fateprotocol/fate-engine/internal/domain"
	"github.com/fateprotocol/fate-engine/internal/service"
)

// MatchAPI defines the methods that the match handler requires from the
// service layer. It is declared locally so the handler package does not
// depend on the concrete service implementation.
type MatchAPI interface {
	CreateMatch(ctx context.Context, req service.CreateRequest) (*domain.Match, error)
	GetMatch(ctx context.Context, id uint64) (*domain.Match, error)
	ListMatches(ctx context.Context, status domain.MatchStatus, opts domain.ListOpts) ([]*domain.Match, error)
	JoinMatch(ctx context.Context, id uint64, player string) (*domain.Match, error)
	SubmitPrediction(ctx context.Context, id uint64, player string, pred domain.Prediction) (*domain.Match, error)
	ResolveMatch(ctx context.Context, id uint64) (*domain.Match, error)
	ClaimWinnings(ctx context.Context, id uint64, player string) (uint64, error)
	CancelMatch(ctx context.Context, id uint64, by string) (*domain.Match, error)
}

// MatchHandler serves match lifecycle HTTP endpoints.
type MatchHandler struct {
	matches MatchAPI
	logger  *slog.Logger
}

// NewMatchHandler creates a MatchHandler with the given service and logger.
func NewMatchHandler(matches MatchAPI, logger *slog.Logger) *MatchHandler {
	return &MatchHandler{
		matches: matches,
		logger:  logger,
	}
}

// entryView is the API shape of a single player entry.
type entryView struct {
	Player     string `json:"player"`
	Prediction string `json:"prediction,omitempty"`
	Claimed    bool   `json:"claimed"`
	JoinedAt   string `json:"joined_at"`
}

// matchView is the API shape of a match. Lamport amounts are rendered both
// raw and as decimal SOL strings.
type matchView struct {
	ID                 uint64      `json:"id"`
	FeedID             string      `json:"feed_id"`
	Creator            string      `json:"creator"`
	Type               string      `json:"type"`
	Status             string      `json:"status"`
	Phase              string      `json:"phase"`
	EntryFee           uint64      `json:"entry_fee"`
	EntryFeeSOL        string      `json:"entry_fee_sol"`
	MaxPlayers         int         `json:"max_players"`
	PlayerCount        int         `json:"player_count"`
	FeeBps             uint16      `json:"fee_bps"`
	StartingPrice      string      `json:"starting_price"`
	FinalPrice         *string     `json:"final_price,omitempty"`
	WinningPrediction  *string     `json:"winning_prediction,omitempty"`
	Refund             bool        `json:"refund"`
	HigherPool         uint64      `json:"higher_pool"`
	LowerPool          uint64      `json:"lower_pool"`
	TotalPot           uint64      `json:"total_pot"`
	TotalPotSOL        string      `json:"total_pot_sol"`
	Entries            []entryView `json:"entries"`
	PredictionDeadline time.Time   `json:"prediction_deadline"`
	ResolutionTime     time.Time   `json:"resolution_time"`
	CreatedAt          time.Time   `json:"created_at"`
	ResolvedAt         *time.Time  `json:"resolved_at,omitempty"`
}

func newMatchView(m *domain.Match) matchView {
	v := matchView{
		ID:                 m.ID,
		FeedID:             m.FeedID,
		Creator:            m.Creator,
		Type:               string(m.Type),
		Status:             string(m.Status),
		Phase:              string(m.Phase(time.Now())),
		EntryFee:           m.EntryFee,
		EntryFeeSOL:        sol(m.EntryFee),
		MaxPlayers:         m.MaxPlayers,
		PlayerCount:        len(m.Entries),
		FeeBps:             m.FeeBps,
		StartingPrice:      oraclePrice(m.StartingPrice),
		Refund:             m.Refund,
		HigherPool:         m.Pool.Stake(domain.SideA),
		LowerPool:          m.Pool.Stake(domain.SideB),
		TotalPot:           m.TotalPot,
		TotalPotSOL:        sol(m.TotalPot),
		Entries:            make([]entryView, 0, len(m.Entries)),
		PredictionDeadline: m.PredictionDeadline,
		ResolutionTime:     m.ResolutionTime,
		CreatedAt:          m.CreatedAt,
		ResolvedAt:         m.ResolvedAt,
	}
	if m.FinalPrice != nil {
		fp := oraclePrice(*m.FinalPrice)
		v.FinalPrice = &fp
	}
	if m.WinningPrediction != nil {
		wp := string(*m.WinningPrediction)
		v.WinningPrediction = &wp
	}
	for _, e := range m.Entries {
		v.Entries = append(v.Entries, entryView{
			Player:     e.Player,
			Prediction: string(e.Prediction),
			Claimed:    e.Claimed,
			JoinedAt:   e.JoinedAt.UTC().Format(time.RFC3339),
		})
	}
	return v
}

// createMatchRequest is the JSON body for POST /api/matches.
type createMatchRequest struct {
	Creator          string `json:"creator"`
	FeedID           string `json:"feed_id"`
	Type             string `json:"type"`
	EntryFee         uint64 `json:"entry_fee"`
	MaxPlayers       int    `json:"max_players"`
	PredictionWindow string `json:"prediction_window"`
	MatchDuration    string `json:"match_duration"`
}

// CreateMatch creates a new match with the creator auto-joined.
// POST /api/matches
func (h *MatchHandler) CreateMatch(w http.ResponseWriter, r *http.Request) {
	var body createMatchRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	window, err := time.ParseDuration(body.PredictionWindow)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid prediction_window")
		return
	}
	dur, err := time.ParseDuration(body.MatchDuration)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid match_duration")
		return
	}

	m, err := h.matches.CreateMatch(r.Context(), service.CreateRequest{
		Creator:          body.Creator,
		FeedID:           body.FeedID,
		Type:             domain.MatchType(body.Type),
		EntryFee:         body.EntryFee,
		MaxPlayers:       body.MaxPlayers,
		PredictionWindow: window,
		MatchDuration:    dur,
	})
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: create match failed",
			slog.String("creator", body.Creator),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, newMatchView(m))
}

// listMatchesResponse wraps the list endpoint output with metadata.
type listMatchesResponse struct {
	Matches []matchView `json:"matches"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
}

// ListMatches returns matches filtered by status with pagination.
// GET /api/matches?status=open&limit=50&offset=0
func (h *MatchHandler) ListMatches(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	status := domain.MatchStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = domain.MatchStatusOpen
	}

	matches, err := h.matches.ListMatches(r.Context(), status, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list matches failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	views := make([]matchView, 0, len(matches))
	for _, m := range matches {
		views = append(views, newMatchView(m))
	}

	writeJSON(w, http.StatusOK, listMatchesResponse{
		Matches: views,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMatch returns a single match by id.
// GET /api/matches/{id}
func (h *MatchHandler) GetMatch(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	m, err := h.matches.GetMatch(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newMatchView(m))
}

// playerRequest is the JSON body for player-scoped match operations.
type playerRequest struct {
	Player string `json:"player"`
}

// JoinMatch adds a player to an open match, collecting the entry fee.
// POST /api/matches/{id}/join
func (h *MatchHandler) JoinMatch(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var body playerRequest
	if err := decodeBody(r, &body); err != nil || body.Player == "" {
		writeError(w, http.StatusBadRequest, "player is required")
		return
	}

	m, err := h.matches.JoinMatch(r.Context(), id, body.Player)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newMatchView(m))
}

// predictRequest is the JSON body for submitting a prediction.
type predictRequest struct {
	Player     string `json:"player"`
	Prediction string `json:"prediction"`
}

// SubmitPrediction locks a player's directional call on an open match.
// POST /api/matches/{id}/predict
func (h *MatchHandler) SubmitPrediction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var body predictRequest
	if err := decodeBody(r, &body); err != nil || body.Player == "" {
		writeError(w, http.StatusBadRequest, "player is required")
		return
	}

	pred := domain.Prediction(body.Prediction)
	if !pred.Valid() {
		writeError(w, http.StatusBadRequest, "prediction must be \"higher\" or \"lower\"")
		return
	}

	m, err := h.matches.SubmitPrediction(r.Context(), id, body.Player, pred)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newMatchView(m))
}

// ResolveMatch settles a match against the current oracle price. Resolution
// is permissionless once the resolution time has passed.
// POST /api/matches/{id}/resolve
func (h *MatchHandler) ResolveMatch(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	m, err := h.matches.ResolveMatch(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newMatchView(m))
}

// claimResponse reports the amount paid out by a claim.
type claimResponse struct {
	Amount    uint64 `json:"amount"`
	AmountSOL string `json:"amount_sol"`
}

// ClaimWinnings pays out a player's settled winnings or refund, once.
// POST /api/matches/{id}/claim
func (h *MatchHandler) ClaimWinnings(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var body playerRequest
	if err := decodeBody(r, &body); err != nil || body.Player == "" {
		writeError(w, http.StatusBadRequest, "player is required")
		return
	}

	amount, err := h.matches.ClaimWinnings(r.Context(), id, body.Player)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, claimResponse{
		Amount:    amount,
		AmountSOL: sol(amount),
	})
}

// CancelMatch cancels an open match. Only the creator may cancel.
// POST /api/matches/{id}/cancel
func (h *MatchHandler) CancelMatch(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var body playerRequest
	if err := decodeBody(r, &body); err != nil || body.Player == "" {
		writeError(w, http.StatusBadRequest, "player is required")
		return
	}

	m, err := h.matches.CancelMatch(r.Context(), id, body.Player)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newMatchView(m))
}

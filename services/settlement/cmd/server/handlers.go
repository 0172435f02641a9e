package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"wagerlane/pkg/domain"
	"wagerlane/pkg/httpx"
	"wagerlane/services/settlement/internal/engine"
	"wagerlane/services/settlement/internal/idempotency"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type app struct {
	engine *engine.Engine
	idem   idempotency.Store
	log    logrus.FieldLogger
}

func newRouter(a *app) *chi.Mux {
	r := chi.NewRouter()
	r.Use(metricsMiddleware)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/settlement/challenges", func(api chi.Router) {
		api.Post("/", a.registerChallenge)
		api.Get("/{challenge_id}", a.getChallenge)
		api.Post("/{challenge_id}/proofs", a.submitProof)
		api.Get("/{challenge_id}/proofs", a.listProofs)
		api.Post("/{challenge_id}/votes", a.castVote)
		api.Get("/{challenge_id}/votes", a.listVotes)
		api.Post("/{challenge_id}/dispute", a.openDispute)
		api.Post("/{challenge_id}/dispute:resolve", a.resolveDispute)
		api.Get("/{challenge_id}/dispute/evidence-pack", a.evidencePack)
		api.Get("/{challenge_id}/settlement", a.settlement)
		api.Get("/{challenge_id}/events", a.listEvents)
	})
	return r
}

func callerFrom(r *http.Request, participantID string) idempotency.Caller {
	return idempotency.Caller{
		ParticipantID:  participantID,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	}
}

// replayOrProceed writes a previously saved response for a repeated
// idempotency key. Returns true when the request was already answered.
func (a *app) replayOrProceed(w http.ResponseWriter, r *http.Request, caller idempotency.Caller, endpoint string) bool {
	status, body, found, err := idempotency.Replay(r.Context(), a.idem, caller, endpoint)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return true
	}
	if found {
		httpx.WriteJSON(w, status, body)
		return true
	}
	return false
}

func (a *app) respond(w http.ResponseWriter, r *http.Request, caller idempotency.Caller, endpoint string, status int, resp map[string]any) {
	if err := idempotency.Save(r.Context(), a.idem, caller, endpoint, status, resp); err != nil {
		a.log.WithError(err).Warn("save idempotency record")
	}
	httpx.WriteJSON(w, status, resp)
}

func toMap(v any) map[string]any {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out map[string]any
	_ = json.Unmarshal(b, &out)
	return out
}

func (a *app) registerChallenge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChallengeID  string    `json:"challenge_id"`
		ChallengerID string    `json:"challenger_id"`
		ChallengedID string    `json:"challenged_id"`
		Stake        string    `json:"stake"`
		DueAt        time.Time `json:"due_at"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
		return
	}
	caller := callerFrom(r, req.ChallengerID)
	endpoint := "POST /settlement/challenges"
	if a.replayOrProceed(w, r, caller, endpoint) {
		return
	}

	c, err := a.engine.RegisterChallenge(r.Context(), domain.Challenge{
		ChallengeID: req.ChallengeID,
		Challenger:  domain.ParticipantID(req.ChallengerID),
		Challenged:  domain.ParticipantID(req.ChallengedID),
		Stake:       req.Stake,
		DueAt:       req.DueAt,
	})
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	challengesRegisteredTotal.Inc()
	a.respond(w, r, caller, endpoint, 201, map[string]any{
		"request_id": httpx.NewRequestID(),
		"challenge":  toMap(c),
	})
}

func (a *app) getChallenge(w http.ResponseWriter, r *http.Request) {
	c, err := a.engine.GetChallenge(r.Context(), chi.URLParam(r, "challenge_id"))
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "challenge": c})
}

func (a *app) submitProof(w http.ResponseWriter, r *http.Request) {
	challengeID := chi.URLParam(r, "challenge_id")
	var req struct {
		SubmitterID string `json:"submitter_id"`
		ContentURI  string `json:"content_uri"`
		ContentHash string `json:"content_hash"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
		return
	}
	caller := callerFrom(r, req.SubmitterID)
	endpoint := "POST /settlement/challenges/" + challengeID + "/proofs"
	if a.replayOrProceed(w, r, caller, endpoint) {
		return
	}

	p, err := a.engine.SubmitProof(r.Context(), challengeID, domain.ParticipantID(req.SubmitterID), req.ContentURI, req.ContentHash)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	proofsSubmittedTotal.Inc()
	a.respond(w, r, caller, endpoint, 201, map[string]any{
		"request_id": httpx.NewRequestID(),
		"proof":      toMap(p),
	})
}

func (a *app) listProofs(w http.ResponseWriter, r *http.Request) {
	proofs, err := a.engine.ListProofs(r.Context(), chi.URLParam(r, "challenge_id"))
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	if proofs == nil {
		proofs = []domain.ProofSubmission{}
	}
	httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "proofs": proofs})
}

func (a *app) castVote(w http.ResponseWriter, r *http.Request) {
	challengeID := chi.URLParam(r, "challenge_id")
	var req struct {
		VoterID             string `json:"voter_id"`
		Choice              string `json:"choice"`
		ReferencedProofHash string `json:"referenced_proof_hash"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
		return
	}
	caller := callerFrom(r, req.VoterID)
	endpoint := "POST /settlement/challenges/" + challengeID + "/votes"
	if a.replayOrProceed(w, r, caller, endpoint) {
		return
	}

	v, err := a.engine.CastVote(r.Context(), challengeID, domain.ParticipantID(req.VoterID), req.Choice, req.ReferencedProofHash)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	votesCastTotal.Inc()
	a.respond(w, r, caller, endpoint, 201, map[string]any{
		"request_id": httpx.NewRequestID(),
		"vote":       toMap(v),
	})
}

func (a *app) listVotes(w http.ResponseWriter, r *http.Request) {
	votes, err := a.engine.ListVotes(r.Context(), chi.URLParam(r, "challenge_id"))
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	if votes == nil {
		votes = []domain.Vote{}
	}
	httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "votes": votes})
}

func (a *app) openDispute(w http.ResponseWriter, r *http.Request) {
	challengeID := chi.URLParam(r, "challenge_id")
	var req struct {
		OpenedBy string `json:"opened_by"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
		return
	}
	caller := callerFrom(r, req.OpenedBy)
	endpoint := "POST /settlement/challenges/" + challengeID + "/dispute"
	if a.replayOrProceed(w, r, caller, endpoint) {
		return
	}

	rec, created, err := a.engine.OpenDispute(r.Context(), challengeID, domain.ParticipantID(req.OpenedBy))
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	status := 200
	if created {
		status = 201
		disputesOpenedTotal.WithLabelValues(string(rec.Reason)).Inc()
	}
	a.respond(w, r, caller, endpoint, status, map[string]any{
		"request_id": httpx.NewRequestID(),
		"dispute":    toMap(rec),
	})
}

func (a *app) resolveDispute(w http.ResponseWriter, r *http.Request) {
	challengeID := chi.URLParam(r, "challenge_id")
	var req struct {
		WinnerID string `json:"winner_id"`
		Split    bool   `json:"split"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
		return
	}
	caller := callerFrom(r, "arbiter")
	endpoint := "POST /settlement/challenges/" + challengeID + "/dispute:resolve"
	if a.replayOrProceed(w, r, caller, endpoint) {
		return
	}

	var winner *domain.ParticipantID
	if strings.TrimSpace(req.WinnerID) != "" {
		id := domain.ParticipantID(req.WinnerID)
		winner = &id
	}
	d, err := a.engine.Resolve(r.Context(), challengeID, winner, req.Split)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	resolutionsTotal.Inc()
	a.respond(w, r, caller, endpoint, 201, map[string]any{
		"request_id": httpx.NewRequestID(),
		"resolution": toMap(d),
	})
}

func (a *app) evidencePack(w http.ResponseWriter, r *http.Request) {
	pack, err := a.engine.EvidencePack(r.Context(), chi.URLParam(r, "challenge_id"), httpx.NewRequestID())
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, pack)
}

func (a *app) settlement(w http.ResponseWriter, r *http.Request) {
	view, err := a.engine.Settlement(r.Context(), chi.URLParam(r, "challenge_id"))
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "settlement": view})
}

func (a *app) listEvents(w http.ResponseWriter, r *http.Request) {
	events, err := a.engine.ListEvents(r.Context(), chi.URLParam(r, "challenge_id"))
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "events": events})
}

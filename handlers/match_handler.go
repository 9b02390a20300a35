package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/volleylive/scoreboard/models"
	"github.com/volleylive/scoreboard/services"
)

type MatchHandler struct {
	matchService services.MatchService
}

func NewMatchHandler(matchService services.MatchService) *MatchHandler {
	return &MatchHandler{matchService: matchService}
}

func (h *MatchHandler) ListMatchesHandler(w http.ResponseWriter, r *http.Request) {
	matches, err := h.matchService.ListMatches(r.Context())
	if err != nil {
		mapServiceErrorToHTTP(w, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"matches": matches}); err != nil {
		serverErrorResponse(w, err)
	}
}

func (h *MatchHandler) GetMatchHandler(w http.ResponseWriter, r *http.Request) {
	id, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, err)
		return
	}

	match, err := h.matchService.GetMatch(r.Context(), id)
	if err != nil {
		mapServiceErrorToHTTP(w, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"match": match}); err != nil {
		serverErrorResponse(w, err)
	}
}

func (h *MatchHandler) CreateMatchHandler(w http.ResponseWriter, r *http.Request) {
	var input services.CreateMatchInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, err)
		return
	}

	match, err := h.matchService.CreateMatch(r.Context(), input)
	if err != nil {
		mapServiceErrorToHTTP(w, err)
		return
	}
	if err := writeJSON(w, http.StatusCreated, jsonResponse{"match": match}); err != nil {
		serverErrorResponse(w, err)
	}
}

func (h *MatchHandler) DeleteMatchHandler(w http.ResponseWriter, r *http.Request) {
	id, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, err)
		return
	}

	if err := h.matchService.RemoveMatch(r.Context(), id); err != nil {
		mapServiceErrorToHTTP(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MatchHandler) AddPointHandler(w http.ResponseWriter, r *http.Request) {
	h.pointHandler(w, r, h.matchService.AddPoint)
}

func (h *MatchHandler) RemovePointHandler(w http.ResponseWriter, r *http.Request) {
	h.pointHandler(w, r, h.matchService.RemovePoint)
}

func (h *MatchHandler) pointHandler(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id int, side models.Side) (bool, error)) {
	id, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, err)
		return
	}
	side, ok := models.ParseSide(chi.URLParam(r, "side"))
	if !ok {
		badRequestResponse(w, fmt.Errorf("invalid side parameter: %q, must be %q or %q", chi.URLParam(r, "side"), models.SideA, models.SideB))
		return
	}

	applied, err := op(r.Context(), id, side)
	if err != nil {
		mapServiceErrorToHTTP(w, err)
		return
	}
	if !applied {
		notAppliedResponse(w)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MatchHandler) SwapTeamsHandler(w http.ResponseWriter, r *http.Request) {
	h.transitionHandler(w, r, h.matchService.SwapTeams)
}

func (h *MatchHandler) EndSetHandler(w http.ResponseWriter, r *http.Request) {
	h.transitionHandler(w, r, h.matchService.EndSet)
}

func (h *MatchHandler) transitionHandler(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id int) (bool, error)) {
	id, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, err)
		return
	}

	applied, err := op(r.Context(), id)
	if err != nil {
		mapServiceErrorToHTTP(w, err)
		return
	}
	if !applied {
		notAppliedResponse(w)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

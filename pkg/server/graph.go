package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/card"
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/log"
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/types"
)

// writeCardError maps errors of the card runtime to responses.
func writeCardError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, card.ErrInvalidSelection):
		writeJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, card.ErrStopped):
		writeJSONError(w, "card is not running", http.StatusServiceUnavailable)
	default:
		log.Ctx(ctx).ErrorContext(ctx, "card request failed", slog.Any("error", err))
		writeJSONError(w, "internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) handleGetGraph(w http.ResponseWriter, r *http.Request) {
	g, err := s.card.Snapshot(r.Context())
	if err != nil {
		writeCardError(w, r, err)
		return
	}
	writeJSON(w, g)
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	v, ok, err := s.card.Node(r.Context(), id)
	if err != nil {
		writeCardError(w, r, err)
		return
	}
	if !ok {
		writeJSONError(w, "node not found", http.StatusNotFound)
		return
	}
	writeJSON(w, v)
}

func (s *Server) handleGetSelection(w http.ResponseWriter, r *http.Request) {
	sel, err := s.card.Selection(r.Context())
	if err != nil {
		writeCardError(w, r, err)
		return
	}
	writeJSON(w, sel)
}

func (s *Server) handleSetSelection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)

	var sel types.Selection
	if err := json.NewDecoder(r.Body).Decode(&sel); err != nil {
		writeJSONError(w, "invalid request", http.StatusBadRequest)
		return
	}
	if err := s.card.SetSelection(ctx, sel); err != nil {
		writeCardError(w, r, err)
		return
	}
	log.Ctx(ctx).InfoContext(ctx, "selection changed", slog.Time("start", sel.Start), slog.Time("end", sel.End), slog.String("by", getEmail(r)))
	writeJSON(w, sel)
}

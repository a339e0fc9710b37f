package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/Enkidu/internal/messaging"
	"github.com/BTreeMap/Enkidu/internal/models"
	"github.com/go-chi/chi/v5"
)

// userIDParam canonicalizes the {userID} path parameter, writing a 400 when it is not a phone number.
func userIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := chi.URLParam(r, "userID")
	userID, err := messaging.ValidateAndCanonicalizeRecipient(raw)
	if err != nil {
		slog.Warn("Server.userIDParam: invalid user id", "userID", raw, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return "", false
	}
	return userID, true
}

// getContextHandler returns the stored conversation context of a user.
func (s *Server) getContextHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	uc, found, err := s.conv.LookupContext(r.Context(), userID)
	if err != nil {
		slog.Error("Server.getContextHandler: lookup failed", "userID", userID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load user context"))
		return
	}
	if !found {
		writeJSONResponse(w, http.StatusNotFound, models.Error("User not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(uc))
}

// sendMessageHandler sends an operator check-in to a user and records it in their history.
func (s *Server) sendMessageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	var req models.OutboundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.sendMessageHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	turn, err := s.conv.RecordOutbound(r.Context(), userID, req.Body)
	if err != nil {
		if turn.ID != "" {
			slog.Error("Server.sendMessageHandler: check-in recorded but not delivered", "userID", userID, "turnID", turn.ID, "error", err)
			writeJSONResponse(w, http.StatusBadGateway, models.Error("Message recorded but delivery failed"))
			return
		}
		if errors.Is(err, models.ErrEmptyBody) || errors.Is(err, models.ErrBodyTooLong) {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		slog.Error("Server.sendMessageHandler: check-in failed", "userID", userID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to send message"))
		return
	}
	slog.Info("Server.sendMessageHandler: check-in sent", "userID", userID, "turnID", turn.ID)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Message sent successfully", turn))
}

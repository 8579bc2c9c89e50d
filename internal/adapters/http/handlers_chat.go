package httpadapter

import (
	"encoding/json"
	"net/http"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

type chatTurnPayload struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequestPayload struct {
	Message string `json:"message"`
	// History is a pointer so an absent field (use the stored session) is
	// distinguishable from an explicit empty list.
	History *[]chatTurnPayload `json:"history"`
}

func (rt *Router) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "decode chat request", err))
		return
	}

	chatReq := domain.ChatRequest{
		UserID:  userIDFromContext(r.Context()),
		Message: req.Message,
	}
	if req.History != nil {
		chatReq.History = make([]domain.ChatTurn, 0, len(*req.History))
		for _, turn := range *req.History {
			chatReq.History = append(chatReq.History, domain.ChatTurn{
				Role:    domain.Role(turn.Role),
				Content: turn.Content,
			})
		}
	}

	reply, err := rt.svc.Chat.ProcessMessage(r.Context(), chatReq)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if reply.Sources == nil {
		reply.Sources = []domain.Source{}
	}
	writeJSON(w, http.StatusOK, reply)
}

func (rt *Router) chatHistory(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	turns, err := rt.svc.Chat.History(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if turns == nil {
		turns = []domain.ChatTurn{}
	}
	writeJSON(w, http.StatusOK, turns)
}

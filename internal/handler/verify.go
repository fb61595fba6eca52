package handler

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/trustcore/internal/notify"
	"github.com/mmeshcher/trustcore/internal/replay"
	"github.com/mmeshcher/trustcore/internal/validation"
	"github.com/mmeshcher/trustcore/internal/verification"
)

// Общий ответ на любую неудачную проверку, чтобы не раскрывать причину.
const msgInvalidCode = "invalid or expired code"

type issueRequest struct {
	Identifier string `json:"identifier"`
}

type issueResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Code      string    `json:"code,omitempty"`
}

// IssueChallenge выдаёт код подтверждения и отправляет его на указанный адрес.
func (h *Handler) IssueChallenge(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	identifier := validation.NormalizeIdentifier(req.Identifier)
	if !validation.IsValidIdentifier(identifier) {
		writeError(w, http.StatusBadRequest, "identifier must be an email address or E.164 phone number")
		return
	}

	ch, err := h.verifier.IssueChallenge(identifier)
	if err != nil {
		if errors.Is(err, verification.ErrEmptyIdentifier) {
			writeError(w, http.StatusBadRequest, "identifier is required")
			return
		}
		if errors.Is(err, verification.ErrInvalidIdentifier) {
			writeError(w, http.StatusBadRequest, "identifier must be valid UTF-8")
			return
		}
		h.logger.Error("issue challenge error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	msg, err := notify.VerificationCode(ch.Code, ch.ExpiresAt.Sub(h.clock.Now()).Round(time.Minute))
	if err != nil {
		h.logger.Error("render verification message", zap.Error(err))
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	if err := h.sender.Send(r.Context(), identifier, msg); err != nil {
		h.metrics.Challenge("delivery_failed")
		h.logger.Warn("verification code not delivered", zap.Error(err))
		writeError(w, http.StatusBadGateway, "could not deliver code")
		return
	}
	h.metrics.Challenge("sent")

	resp := issueResponse{Token: ch.Token, ExpiresAt: ch.ExpiresAt}
	if h.devMode {
		resp.Code = ch.Code
	}
	writeJSON(w, http.StatusOK, resp)
}

type confirmRequest struct {
	Token string `json:"token"`
	Code  string `json:"code"`
}

type confirmResponse struct {
	Identifier string `json:"identifier"`
	Verified   bool   `json:"verified"`
}

// ConfirmChallenge проверяет код и возвращает подтверждённый адрес.
func (h *Handler) ConfirmChallenge(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Token == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "token and code are required")
		return
	}

	identifier, err := h.verifier.VerifyChallenge(req.Token, req.Code)
	if err != nil {
		if verification.IsVerificationError(err) {
			h.metrics.Verification(verificationResult(err))
			writeError(w, http.StatusBadRequest, msgInvalidCode)
			return
		}
		h.logger.Error("verify challenge error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	if h.guard != nil {
		claims, err := verification.DecodeToken(req.Token)
		if err != nil {
			writeError(w, http.StatusBadRequest, msgInvalidCode)
			return
		}
		err = h.guard.Consume(r.Context(), claims.Signature, time.UnixMilli(claims.ExpiresAt))
		if errors.Is(err, replay.ErrConsumed) {
			h.metrics.Verification("replayed")
			writeError(w, http.StatusBadRequest, msgInvalidCode)
			return
		}
		if err != nil {
			h.logger.Error("consume token error", zap.Error(err))
			writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
			return
		}
	}

	h.metrics.Verification("ok")
	writeJSON(w, http.StatusOK, confirmResponse{Identifier: identifier, Verified: true})
}

func verificationResult(err error) string {
	switch {
	case errors.Is(err, verification.ErrExpired):
		return "expired"
	case errors.Is(err, verification.ErrInvalidCode):
		return "invalid_code"
	default:
		return "malformed"
	}
}

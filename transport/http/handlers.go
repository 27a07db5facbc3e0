package http

import (
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/layer-3/sessionauth"
	"github.com/layer-3/sessionauth/core"
	"github.com/layer-3/sessionauth/internal/eth"
	"github.com/rs/zerolog/log"
)

// SessionHandlers contains HTTP handlers for session endpoints
type SessionHandlers struct {
	client sessionauth.Client
}

// NewSessionHandlers creates new session handlers
func NewSessionHandlers(client sessionauth.Client) *SessionHandlers {
	return &SessionHandlers{
		client: client,
	}
}

type requestBody struct {
	Provider  string `json:"provider" binding:"required"`
	Owner     string `json:"owner" binding:"required"`
	Source    string `json:"source" binding:"required"`
	Type      string `json:"type" binding:"required"`
	Expiry    uint64 `json:"expiry" binding:"required"`
	Signature string `json:"signature" binding:"required"`
	Context   string `json:"context"`
}

type confirmBody struct {
	Provider           string `json:"provider" binding:"required"`
	Owner              string `json:"owner" binding:"required"`
	SessionRequestHash string `json:"session_request_hash" binding:"required"`
	SessionHash        string `json:"session_hash" binding:"required"`
	Signature          string `json:"signature" binding:"required"`
}

// Request handles a session request
func (h *SessionHandlers) Request(c *gin.Context) {
	var req requestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "code": core.KindValidation.String()})
		return
	}

	sessionType, err := core.ParseSessionType(req.Type)
	if err != nil {
		h.fail(c, err)
		return
	}
	provider, owner, err := parseParties(req.Provider, req.Owner)
	if err != nil {
		h.fail(c, err)
		return
	}
	signature, err := parseBytes("signature", req.Signature)
	if err != nil {
		h.fail(c, err)
		return
	}

	result, err := h.client.Request(c.Request.Context(), core.RequestParams{
		Alias:          c.Param("alias"),
		Provider:       provider,
		Owner:          owner,
		Source:         req.Source,
		Type:           sessionType,
		Expiry:         req.Expiry,
		OwnerSignature: signature,
		Context:        req.Context,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	resp := gin.H{
		"tx_id":                result.TxID,
		"session_salt":         result.Salt.Hex(),
		"session_request_hash": result.RequestHash.Hex(),
		"challenge_expiry":     result.ChallengeExpiry,
		"state":                result.State,
	}
	if result.Challenge != "" {
		resp["challenge"] = result.Challenge
	}
	c.JSON(http.StatusOK, resp)
}

// Confirm handles a session confirmation
func (h *SessionHandlers) Confirm(c *gin.Context) {
	var req confirmBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "code": core.KindValidation.String()})
		return
	}

	provider, owner, err := parseParties(req.Provider, req.Owner)
	if err != nil {
		h.fail(c, err)
		return
	}
	requestHash, err := parseHash("session_request_hash", req.SessionRequestHash)
	if err != nil {
		h.fail(c, err)
		return
	}
	sessionHash, err := parseHash("session_hash", req.SessionHash)
	if err != nil {
		h.fail(c, err)
		return
	}
	signature, err := parseBytes("signature", req.Signature)
	if err != nil {
		h.fail(c, err)
		return
	}

	txID, err := h.client.Confirm(c.Request.Context(), core.ConfirmParams{
		Alias:          c.Param("alias"),
		Provider:       provider,
		Owner:          owner,
		RequestHash:    requestHash,
		SessionHash:    sessionHash,
		OwnerSignature: signature,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"tx_id": txID, "state": core.StateConfirmed})
}

// Status returns the lifecycle state of a session request
func (h *SessionHandlers) Status(c *gin.Context) {
	provider, err := eth.ParseAddress(c.Param("provider"))
	if err != nil {
		h.fail(c, core.Wrap(core.KindValidation, "invalid provider address", err))
		return
	}
	requestHash, err := parseHash("session_request_hash", c.Param("hash"))
	if err != nil {
		h.fail(c, err)
		return
	}

	state, err := h.client.Status(c.Request.Context(), c.Param("alias"), provider, requestHash)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"state": state})
}

// Health reports that the process is serving
func (h *SessionHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// fail maps an error kind to a status code. Dependency failures get a generic message
// and are logged with their cause.
func (h *SessionHandlers) fail(c *gin.Context, err error) {
	kind := core.KindOf(err)
	status, msg := statusOf(kind)

	if kind.Dependency() || kind == core.KindUnknown {
		log.Error().Err(err).Str("request_id", c.GetString(requestIDKey)).Str("kind", kind.String()).Msg("session request failed")
	} else {
		var e *core.Error
		if errors.As(err, &e) && e.Msg != "" {
			msg = e.Msg
		}
	}

	c.JSON(status, gin.H{"error": msg, "code": kind.String()})
}

func statusOf(kind core.Kind) (int, string) {
	switch kind {
	case core.KindValidation, core.KindInvalidProvider:
		return http.StatusBadRequest, "Invalid request"
	case core.KindInvalidSignature, core.KindInvalidConfirmation, core.KindHashMismatch:
		return http.StatusUnauthorized, "Invalid signature"
	case core.KindNotFound:
		return http.StatusNotFound, "Not found"
	case core.KindSessionExpired, core.KindChallengeExpired:
		return http.StatusGone, "Expired"
	case core.KindAlreadyConfirmed:
		return http.StatusConflict, "Session already confirmed"
	case core.KindRateLimited:
		return http.StatusTooManyRequests, "Too many requests"
	case core.KindOracleUnavailable:
		return http.StatusServiceUnavailable, "Session state unavailable"
	case core.KindRelay:
		return http.StatusBadGateway, "Ledger submission failed"
	}
	return http.StatusInternalServerError, "Internal server error"
}

func parseParties(providerHex, ownerHex string) (common.Address, common.Address, error) {
	provider, err := eth.ParseAddress(providerHex)
	if err != nil {
		return common.Address{}, common.Address{}, core.Wrap(core.KindValidation, "invalid provider address", err)
	}
	owner, err := eth.ParseAddress(ownerHex)
	if err != nil {
		return common.Address{}, common.Address{}, core.Wrap(core.KindValidation, "invalid owner address", err)
	}
	return provider, owner, nil
}

func parseBytes(field, s string) ([]byte, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, core.Wrap(core.KindValidation, "invalid "+field, err)
	}
	return b, nil
}

func parseHash(field, s string) (common.Hash, error) {
	b, err := parseBytes(field, s)
	if err != nil {
		return common.Hash{}, err
	}
	if len(b) != common.HashLength {
		return common.Hash{}, core.NewError(core.KindValidation, "invalid "+field)
	}
	return common.BytesToHash(b), nil
}

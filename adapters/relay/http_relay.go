package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/layer-3/sessionauth/internal/eth"
	"github.com/layer-3/sessionauth/ports"
)

// DefaultTokenTTL bounds how long a relay bearer token can be replayed
const DefaultTokenTTL = time.Minute

// SubmitRequest is the JSON body posted to the relay
type SubmitRequest struct {
	ChainID    int64  `json:"chain_id"`
	To         string `json:"to"`
	OnBehalfOf string `json:"on_behalf_of"`
	Data       string `json:"data"`
	Signature  string `json:"signature"`
}

// SubmitResponse is the relay's answer
type SubmitResponse struct {
	TxHash string `json:"tx_hash"`
	Error  string `json:"error,omitempty"`
}

// HTTPRelay submits signed calls to a relay service over HTTP
type HTTPRelay struct {
	endpoint string
	issuer   string
	secret   []byte
	client   *http.Client
	tokenTTL time.Duration
}

// NewHTTPRelay creates a relay client. issuer identifies this service in bearer tokens.
func NewHTTPRelay(endpoint, issuer string, secret []byte, client *http.Client) *HTTPRelay {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPRelay{
		endpoint: endpoint,
		issuer:   issuer,
		secret:   secret,
		client:   client,
		tokenTTL: DefaultTokenTTL,
	}
}

var _ ports.Relay = (*HTTPRelay)(nil)

// Submit posts the call once. Retrying is left to the relay, which dedupes on the idempotency key.
func (r *HTTPRelay) Submit(ctx context.Context, call ports.SignedCall) (string, error) {
	body, err := json.Marshal(SubmitRequest{
		ChainID:    call.ChainID,
		To:         call.Target.Hex(),
		OnBehalfOf: call.OnBehalfOf.Hex(),
		Data:       hexutil.Encode(call.Data),
		Signature:  hexutil.Encode(call.Signature),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal relay request: %w", err)
	}

	token, err := r.bearer(call)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Idempotency-Key", IdempotencyKey(call))

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to reach relay: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read relay response: %w", err)
	}

	var out SubmitResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil && resp.StatusCode < 300 {
			return "", fmt.Errorf("failed to decode relay response: %w", err)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if out.Error != "" {
			return "", fmt.Errorf("relay returned %d: %s", resp.StatusCode, out.Error)
		}
		return "", fmt.Errorf("relay returned %d", resp.StatusCode)
	}
	if out.TxHash == "" {
		return "", errors.New("relay response has no transaction hash")
	}
	return out.TxHash, nil
}

// IdempotencyKey identifies a call by its digest, so resubmitting the same call maps to one key.
func IdempotencyKey(call ports.SignedCall) string {
	return eth.CallDigest(call.ChainID, call.Target, call.OnBehalfOf, call.Data).Hex()
}

func (r *HTTPRelay) bearer(call ports.SignedCall) (string, error) {
	now := time.Now()
	claims := SubmitClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    r.issuer,
			Subject:   call.OnBehalfOf.Hex(),
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(r.tokenTTL)),
			ID:        uuid.NewString(),
		},
		ChainID: call.ChainID,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign relay token: %w", err)
	}
	return token, nil
}

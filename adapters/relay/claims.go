package relay

import "github.com/golang-jwt/jwt/v5"

// Audience is the audience of relay bearer tokens
const Audience = "relay:submit"

// SubmitClaims authenticate one submission. The JWT ID is unique per token.
type SubmitClaims struct {
	jwt.RegisteredClaims
	ChainID int64 `json:"chain_id"`
}

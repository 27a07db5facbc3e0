package relay_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/sessionauth/adapters/relay"
	"github.com/layer-3/sessionauth/internal/eth"
	"github.com/layer-3/sessionauth/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("relay-secret")

func signedCall(t *testing.T) (ports.SignedCall, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := eth.NewKeySigner(key)

	call := ports.SignedCall{
		ChainID:    100,
		Target:     common.HexToAddress("0x3333333333333333333333333333333333333333"),
		OnBehalfOf: common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Data:       []byte{0xde, 0xad, 0xbe, 0xef},
	}
	call.Signature, err = signer.SignHash(eth.CallDigest(call.ChainID, call.Target, call.OnBehalfOf, call.Data))
	require.NoError(t, err)
	return call, signer.Address()
}

func TestHTTPRelaySubmit(t *testing.T) {
	call, service := signedCall(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)

		claims := &relay.SubmitClaims{}
		_, err := jwt.ParseWithClaims(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "), claims,
			func(*jwt.Token) (any, error) { return secret, nil },
			jwt.WithAudience(relay.Audience), jwt.WithValidMethods([]string{"HS256"}))
		if !assert.NoError(t, err) {
			return
		}
		assert.Equal(t, service.Hex(), claims.Issuer)
		assert.NotEmpty(t, claims.ID)
		assert.Equal(t, relay.IdempotencyKey(call), r.Header.Get("Idempotency-Key"))
		assert.Equal(t, int64(100), claims.ChainID)

		var body relay.SubmitRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&body)) {
			return
		}
		data, err := hexutil.Decode(body.Data)
		if !assert.NoError(t, err) {
			return
		}
		sig, err := hexutil.Decode(body.Signature)
		if !assert.NoError(t, err) {
			return
		}
		digest := eth.CallDigest(body.ChainID, common.HexToAddress(body.To), common.HexToAddress(body.OnBehalfOf), data)
		assert.True(t, eth.Verify(digest, sig, service))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(relay.SubmitResponse{TxHash: "0xabc"})
	}))
	defer srv.Close()

	r := relay.NewHTTPRelay(srv.URL, service.Hex(), secret, srv.Client())
	txID, err := r.Submit(context.Background(), call)
	require.NoError(t, err)
	assert.Equal(t, "0xabc", txID)
}

func TestHTTPRelaySurfacesFailures(t *testing.T) {
	call, service := signedCall(t)

	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{
			name: "error status with message",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				_ = json.NewEncoder(w).Encode(relay.SubmitResponse{Error: "bundler down"})
			},
			want: "relay returned 502: bundler down",
		},
		{
			name: "error status without body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			},
			want: "relay returned 401",
		},
		{
			name: "missing transaction hash",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{}`))
			},
			want: "no transaction hash",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := relay.NewHTTPRelay(srv.URL, service.Hex(), secret, srv.Client()).Submit(context.Background(), call)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestHTTPRelayHonoursContext(t *testing.T) {
	call, service := signedCall(t)

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := relay.NewHTTPRelay(srv.URL, service.Hex(), secret, srv.Client()).Submit(ctx, call)
	close(release)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHTTPRelayIdempotencyKeyFollowsCall(t *testing.T) {
	call, service := signedCall(t)

	var keys, ids []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := &relay.SubmitClaims{}
		_, err := jwt.ParseWithClaims(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "), claims,
			func(*jwt.Token) (any, error) { return secret, nil }, jwt.WithAudience(relay.Audience))
		if !assert.NoError(t, err) {
			return
		}
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		ids = append(ids, claims.ID)
		_ = json.NewEncoder(w).Encode(relay.SubmitResponse{TxHash: "0xabc"})
	}))
	defer srv.Close()

	r := relay.NewHTTPRelay(srv.URL, service.Hex(), secret, srv.Client())
	for i := 0; i < 2; i++ {
		_, err := r.Submit(context.Background(), call)
		require.NoError(t, err)
	}
	other := call
	other.Data = []byte{0x01}
	_, err := r.Submit(context.Background(), other)
	require.NoError(t, err)

	require.Len(t, keys, 3)
	assert.Equal(t, keys[0], keys[1])
	assert.NotEqual(t, keys[0], keys[2])
	assert.NotEqual(t, ids[0], ids[1])
}

package service_test

import (
	"context"
	"errors"
	"math/big"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/sessionauth/adapters/community"
	"github.com/layer-3/sessionauth/adapters/ledger"
	"github.com/layer-3/sessionauth/adapters/store"
	"github.com/layer-3/sessionauth/core"
	"github.com/layer-3/sessionauth/internal/challenge"
	"github.com/layer-3/sessionauth/internal/eth"
	"github.com/layer-3/sessionauth/ports"
	"github.com/layer-3/sessionauth/service"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const serviceKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var testCommunity = &core.Community{
	Alias:           "gratitude",
	ChainID:         100,
	PrimaryProvider: common.HexToAddress("0x1111111111111111111111111111111111111111"),
	SessionManager:  common.HexToAddress("0x3333333333333333333333333333333333333333"),
	RPCURL:          "http://rpc.invalid",
}

type recordingNotifier struct {
	deliveries chan ports.ChallengeDelivery
	err        error
}

func (n *recordingNotifier) SendChallenge(ctx context.Context, delivery ports.ChallengeDelivery) error {
	n.deliveries <- delivery
	return n.err
}

func (n *recordingNotifier) next(t *testing.T) ports.ChallengeDelivery {
	t.Helper()
	select {
	case d := <-n.deliveries:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("challenge was not delivered")
		return ports.ChallengeDelivery{}
	}
}

type recordingRelay struct {
	next  ports.Relay
	calls []ports.SignedCall
	err   error
}

func (r *recordingRelay) Submit(ctx context.Context, call ports.SignedCall) (string, error) {
	r.calls = append(r.calls, call)
	if r.err != nil {
		return "", r.err
	}
	return r.next.Submit(ctx, call)
}

type fixture struct {
	protocol *service.SessionProtocol
	ledger   *ledger.MemoryLedger
	relay    *recordingRelay
	notifier *recordingNotifier
	signer   *eth.KeySigner
	owner    *eth.KeySigner
	now      time.Time
}

func newFixture(t *testing.T, configure ...func(*service.Deps)) *fixture {
	t.Helper()

	signer, err := eth.NewKeySignerFromHex(serviceKeyHex)
	require.NoError(t, err)
	ownerKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	f := &fixture{
		signer:   signer,
		owner:    eth.NewKeySigner(ownerKey),
		notifier: &recordingNotifier{deliveries: make(chan ports.ChallengeDelivery, 8)},
		now:      time.Unix(1700000000, 0),
	}
	clock := func() time.Time { return f.now }
	f.ledger = ledger.NewMemoryLedger().WithClock(clock)
	f.relay = &recordingRelay{next: f.ledger}

	logger := zerolog.Nop()
	deps := service.Deps{
		Communities: community.NewStaticConfigs(*testCommunity),
		Signer:      signer,
		Ledger:      f.ledger,
		Relay:       f.relay,
		Notifier:    f.notifier,
		Logger:      &logger,
		Now:         clock,
	}
	for _, c := range configure {
		c(&deps)
	}

	f.protocol, err = service.NewSessionProtocol(deps, service.DefaultConfig())
	require.NoError(t, err)
	return f
}

func (f *fixture) requestParams(t *testing.T, sessionType core.SessionType, source string) core.RequestParams {
	t.Helper()
	expiry := uint64(f.now.Add(time.Hour).Unix())
	salt := eth.DeriveSalt(sessionType.Normalize(source), sessionType)
	requestHash, err := eth.DeriveSessionRequestHash(testCommunity.PrimaryProvider, f.owner.Address(), salt, expiry)
	require.NoError(t, err)
	sig, err := f.owner.SignHash(requestHash)
	require.NoError(t, err)

	return core.RequestParams{
		Alias:          testCommunity.Alias,
		Provider:       testCommunity.PrimaryProvider,
		Owner:          f.owner.Address(),
		Source:         source,
		Type:           sessionType,
		Expiry:         expiry,
		OwnerSignature: sig,
	}
}

func (f *fixture) confirmParams(t *testing.T, by *eth.KeySigner, requestHash common.Hash, value *big.Int) core.ConfirmParams {
	t.Helper()
	sessionHash, err := eth.DeriveSessionHash(requestHash, value)
	require.NoError(t, err)
	sig, err := by.SignHash(sessionHash)
	require.NoError(t, err)

	return core.ConfirmParams{
		Alias:          testCommunity.Alias,
		Provider:       testCommunity.PrimaryProvider,
		Owner:          f.owner.Address(),
		RequestHash:    requestHash,
		SessionHash:    sessionHash,
		OwnerSignature: sig,
	}
}

func deliveredCode(t *testing.T, d ports.ChallengeDelivery) *big.Int {
	t.Helper()
	code, err := strconv.ParseUint(d.Challenge, 10, 64)
	require.NoError(t, err)
	return new(big.Int).SetUint64(code)
}

func TestEmailSessionEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	params := f.requestParams(t, core.SessionTypeEmail, "  User@Example.com ")
	result, err := f.protocol.Request(ctx, params)
	require.NoError(t, err)

	assert.NotEmpty(t, result.TxID)
	assert.Equal(t, core.StateChallenged, result.State)
	assert.Empty(t, result.Challenge)
	assert.Equal(t, eth.DeriveSalt("user@example.com", core.SessionTypeEmail), result.Salt)
	assert.Equal(t, uint64(f.now.Add(5*time.Minute).Unix()), result.ChallengeExpiry)

	delivery := f.notifier.next(t)
	assert.Equal(t, "gratitude", delivery.Alias)
	assert.Equal(t, core.SessionTypeEmail, delivery.Channel)
	assert.Equal(t, "user@example.com", delivery.Destination)
	assert.Len(t, delivery.Challenge, challenge.DefaultDigits)

	state, err := f.protocol.Status(ctx, params.Alias, params.Provider, result.RequestHash)
	require.NoError(t, err)
	assert.Equal(t, result.State, state)

	f.now = f.now.Add(time.Minute)
	confirm := f.confirmParams(t, f.owner, result.RequestHash, deliveredCode(t, delivery))
	txID, err := f.protocol.Confirm(ctx, confirm)
	require.NoError(t, err)
	assert.NotEmpty(t, txID)

	state, err = f.protocol.Status(ctx, params.Alias, params.Provider, result.RequestHash)
	require.NoError(t, err)
	assert.Equal(t, core.StateConfirmed, state)

	_, err = f.protocol.Confirm(ctx, confirm)
	assert.ErrorIs(t, err, core.ErrAlreadyConfirmed)
	assert.Len(t, f.relay.calls, 2)
}

func TestRequestSubmitsSignedCall(t *testing.T) {
	f := newFixture(t)

	params := f.requestParams(t, core.SessionTypeSMS, "+32478123456")
	result, err := f.protocol.Request(context.Background(), params)
	require.NoError(t, err)
	delivery := f.notifier.next(t)

	require.Len(t, f.relay.calls, 1)
	call := f.relay.calls[0]
	assert.Equal(t, testCommunity.ChainID, call.ChainID)
	assert.Equal(t, testCommunity.SessionManager, call.Target)
	assert.Equal(t, testCommunity.PrimaryProvider, call.OnBehalfOf)
	assert.True(t, eth.Verify(eth.CallDigest(call.ChainID, call.Target, call.OnBehalfOf, call.Data), call.Signature, f.signer.Address()))

	decoded, err := eth.UnpackCall(call.Data)
	require.NoError(t, err)
	request, ok := decoded.(eth.RequestCall)
	require.True(t, ok)
	assert.Equal(t, result.Salt, request.Salt)
	assert.Equal(t, result.RequestHash, request.RequestHash)
	assert.Equal(t, params.OwnerSignature, request.OwnerSignature)
	assert.Equal(t, params.Expiry, request.Expiry)
	assert.Equal(t, result.ChallengeExpiry, request.ChallengeExpiry)

	sessionHash, err := eth.DeriveSessionHash(result.RequestHash, deliveredCode(t, delivery))
	require.NoError(t, err)
	assert.True(t, eth.Verify(sessionHash, request.ServiceSignature, f.signer.Address()))
}

func TestPasskeySessionReturnsChallenge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	params := f.requestParams(t, core.SessionTypePasskey, "credential-1")
	params.Context = "https://app.example.com/cb"
	result, err := f.protocol.Request(ctx, params)
	require.NoError(t, err)

	assert.Equal(t, challenge.GeneratePasskeyChallenge(params.Owner, params.Expiry, params.Context), result.Challenge)
	select {
	case d := <-f.notifier.deliveries:
		t.Fatalf("passkey challenge must not be delivered, got %+v", d)
	case <-time.After(50 * time.Millisecond):
	}

	confirm := f.confirmParams(t, f.owner, result.RequestHash, eth.MessageChallenge(result.Challenge))
	_, err = f.protocol.Confirm(ctx, confirm)
	assert.NoError(t, err)
}

func TestRequestRejectsProviderBeforeHashing(t *testing.T) {
	f := newFixture(t)

	params := f.requestParams(t, core.SessionTypeEmail, "user@example.com")
	params.Provider = common.HexToAddress("0x9999999999999999999999999999999999999999")
	// An expiry that cannot be encoded and a bogus signature would both fail later.
	params.Expiry = eth.MaxUint48 + 1
	params.OwnerSignature = []byte{0x01}

	_, err := f.protocol.Request(context.Background(), params)
	assert.ErrorIs(t, err, core.ErrInvalidProvider)
	assert.Empty(t, f.relay.calls)
}

func TestRequestValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		mutate func(*core.RequestParams)
		kind   core.Kind
	}{
		{"missing alias", func(p *core.RequestParams) { p.Alias = "" }, core.KindValidation},
		{"blank source", func(p *core.RequestParams) { p.Source = "   " }, core.KindValidation},
		{"unknown type", func(p *core.RequestParams) { p.Type = "carrier-pigeon" }, core.KindValidation},
		{"non canonical type", func(p *core.RequestParams) { p.Type = "EMAIL" }, core.KindValidation},
		{"missing signature", func(p *core.RequestParams) { p.OwnerSignature = nil }, core.KindValidation},
		{"unknown community", func(p *core.RequestParams) { p.Alias = "nope" }, core.KindNotFound},
		{"expiry now", func(p *core.RequestParams) { p.Expiry = uint64(f.now.Unix()) }, core.KindValidation},
		{"expiry overflow", func(p *core.RequestParams) { p.Expiry = eth.MaxUint48 + 1 }, core.KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := f.requestParams(t, core.SessionTypeEmail, "user@example.com")
			tt.mutate(&params)

			_, err := f.protocol.Request(context.Background(), params)
			require.Error(t, err)
			assert.Equal(t, tt.kind, core.KindOf(err))
		})
	}
	assert.Empty(t, f.relay.calls)
}

func TestRequestNonCanonicalTypeKeepsRateLimit(t *testing.T) {
	f := newFixture(t, func(d *service.Deps) {
		s := store.NewMemoryStore().WithClock(func() time.Time { return time.Unix(1700000000, 0) })
		d.RateLimiter = service.NewRateLimiter(s, []service.RateLimit{{Window: 30 * time.Second, Max: 1}}, zerolog.Nop())
	})

	params := f.requestParams(t, "EMAIL", "User@Example.com")
	_, err := f.protocol.Request(context.Background(), params)
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = f.protocol.Request(context.Background(), f.requestParams(t, core.SessionTypeEmail, "user@example.com"))
	assert.NoError(t, err)
}

func TestNewSessionProtocolCapsChallengeTTL(t *testing.T) {
	signer, err := eth.NewKeySignerFromHex(serviceKeyHex)
	require.NoError(t, err)
	memory := ledger.NewMemoryLedger()
	deps := service.Deps{
		Communities: community.NewStaticConfigs(*testCommunity),
		Signer:      signer,
		Ledger:      memory,
		Relay:       memory,
		Notifier:    &recordingNotifier{},
	}

	cfg := service.DefaultConfig()
	cfg.ChallengeTTL = 48 * time.Hour
	_, err = service.NewSessionProtocol(deps, cfg)
	assert.ErrorIs(t, err, core.ErrConfiguration)

	cfg.ChallengeTTL = service.MaxChallengeTTL
	_, err = service.NewSessionProtocol(deps, cfg)
	assert.NoError(t, err)
}

func TestRequestInvalidSignature(t *testing.T) {
	f := newFixture(t)
	params := f.requestParams(t, core.SessionTypeEmail, "user@example.com")

	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	params.Owner = crypto.PubkeyToAddress(otherKey.PublicKey)

	_, err = f.protocol.Request(context.Background(), params)
	assert.ErrorIs(t, err, core.ErrInvalidSignature)
	assert.Empty(t, f.relay.calls)
}

func TestRequestRateLimited(t *testing.T) {
	f := newFixture(t, func(d *service.Deps) {
		s := store.NewMemoryStore().WithClock(func() time.Time { return time.Unix(1700000000, 0) })
		d.RateLimiter = service.NewRateLimiter(s, []service.RateLimit{{Window: 30 * time.Second, Max: 3}}, zerolog.Nop())
	})

	for i := 0; i < 3; i++ {
		_, err := f.protocol.Request(context.Background(), f.requestParams(t, core.SessionTypeEmail, "user@example.com"))
		require.NoError(t, err)
	}

	_, err := f.protocol.Request(context.Background(), f.requestParams(t, core.SessionTypeEmail, "USER@example.com"))
	assert.ErrorIs(t, err, core.ErrRateLimited)
	assert.Len(t, f.relay.calls, 3)
}

func TestRequestNotifierFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("smtp: 421 service not available")

	result, err := f.protocol.Request(context.Background(), f.requestParams(t, core.SessionTypeEmail, "user@example.com"))
	require.NoError(t, err)
	assert.NotEmpty(t, result.TxID)
	f.notifier.next(t)
}

func TestRequestRelayError(t *testing.T) {
	f := newFixture(t)
	f.relay.err = errors.New("relay: 502 bad gateway")

	_, err := f.protocol.Request(context.Background(), f.requestParams(t, core.SessionTypeEmail, "user@example.com"))
	require.Error(t, err)
	assert.Equal(t, core.KindRelay, core.KindOf(err))
	assert.Len(t, f.relay.calls, 1)
}

func TestConfirmHashMismatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	result, err := f.protocol.Request(ctx, f.requestParams(t, core.SessionTypeEmail, "user@example.com"))
	require.NoError(t, err)
	code := deliveredCode(t, f.notifier.next(t))

	// The owner signature is valid, but over a hash built from the wrong code.
	wrong := new(big.Int).Add(code, big.NewInt(1))
	_, err = f.protocol.Confirm(ctx, f.confirmParams(t, f.owner, result.RequestHash, wrong))
	assert.ErrorIs(t, err, core.ErrHashMismatch)
	assert.Len(t, f.relay.calls, 1)
}

func TestConfirmInvalidConfirmation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	result, err := f.protocol.Request(ctx, f.requestParams(t, core.SessionTypeEmail, "user@example.com"))
	require.NoError(t, err)
	code := deliveredCode(t, f.notifier.next(t))

	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	_, err = f.protocol.Confirm(ctx, f.confirmParams(t, eth.NewKeySigner(otherKey), result.RequestHash, code))
	assert.ErrorIs(t, err, core.ErrInvalidConfirmation)
}

func TestConfirmChallengeExpiryBoundary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	result, err := f.protocol.Request(ctx, f.requestParams(t, core.SessionTypeEmail, "user@example.com"))
	require.NoError(t, err)
	code := deliveredCode(t, f.notifier.next(t))
	confirm := f.confirmParams(t, f.owner, result.RequestHash, code)

	f.now = time.Unix(int64(result.ChallengeExpiry), 0)
	_, err = f.protocol.Confirm(ctx, confirm)
	assert.ErrorIs(t, err, core.ErrChallengeExpired)

	state, err := f.protocol.Status(ctx, testCommunity.Alias, testCommunity.PrimaryProvider, result.RequestHash)
	require.NoError(t, err)
	assert.Equal(t, core.StateExpired, state)

	f.now = time.Unix(int64(result.ChallengeExpiry)-1, 0)
	_, err = f.protocol.Confirm(ctx, confirm)
	assert.NoError(t, err)
}

func TestConfirmNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.protocol.Confirm(context.Background(), f.confirmParams(t, f.owner, common.HexToHash("0x0123"), big.NewInt(123456)))
	require.Error(t, err)
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
}

func TestConfirmOracleUnavailable(t *testing.T) {
	f := newFixture(t, func(d *service.Deps) {
		d.Ledger = failingReader{err: errors.New("dial tcp: i/o timeout")}
	})

	_, err := f.protocol.Confirm(context.Background(), f.confirmParams(t, f.owner, common.HexToHash("0x0123"), big.NewInt(123456)))
	require.Error(t, err)
	assert.Equal(t, core.KindOracleUnavailable, core.KindOf(err))
}

func TestConfirmRejectsProvider(t *testing.T) {
	f := newFixture(t)

	params := f.confirmParams(t, f.owner, common.HexToHash("0x0123"), big.NewInt(123456))
	params.Provider = common.HexToAddress("0x9999999999999999999999999999999999999999")

	_, err := f.protocol.Confirm(context.Background(), params)
	assert.ErrorIs(t, err, core.ErrInvalidProvider)
}

func TestNewSessionProtocolRequiresSigner(t *testing.T) {
	_, err := service.NewSessionProtocol(service.Deps{
		Communities: community.NewStaticConfigs(*testCommunity),
		Ledger:      ledger.NewMemoryLedger(),
		Relay:       ledger.NewMemoryLedger(),
		Notifier:    &recordingNotifier{},
	}, service.DefaultConfig())
	require.Error(t, err)
	assert.Equal(t, core.KindConfiguration, core.KindOf(err))
}

package service

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/layer-3/sessionauth/core"
	"github.com/layer-3/sessionauth/internal/challenge"
	"github.com/layer-3/sessionauth/internal/eth"
	"github.com/layer-3/sessionauth/ports"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds protocol timing and challenge policy
type Config struct {
	ChallengeTTL    time.Duration
	ChallengeDigits int
	OracleTimeout   time.Duration
	RelayTimeout    time.Duration
	NotifyTimeout   time.Duration
}

// MaxChallengeTTL caps how long an issued challenge stays valid
const MaxChallengeTTL = 15 * time.Minute

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		ChallengeTTL:    5 * time.Minute,
		ChallengeDigits: challenge.DefaultDigits,
		OracleTimeout:   DefaultOracleTimeout,
		RelayTimeout:    15 * time.Second,
		NotifyTimeout:   10 * time.Second,
	}
}

// Deps are the collaborators of the session protocol
type Deps struct {
	Communities ports.CommunityConfigs
	Signer      eth.Signer
	Ledger      ports.LedgerReader
	Relay       ports.Relay
	Notifier    ports.Notifier
	// RateLimiter is optional.
	RateLimiter *RateLimiter
	Logger      *zerolog.Logger
	Now         func() time.Time
}

// SessionProtocol runs the two-phase request/confirm handshake.
// It keeps no session state; the session manager contract is the source of truth.
type SessionProtocol struct {
	communities ports.CommunityConfigs
	signer      eth.Signer
	oracle      *Oracle
	relay       ports.Relay
	notifier    ports.Notifier
	limiter     *RateLimiter
	logger      zerolog.Logger
	now         func() time.Time
	cfg         Config
}

// NewSessionProtocol creates a new session protocol
func NewSessionProtocol(deps Deps, cfg Config) (*SessionProtocol, error) {
	if deps.Signer == nil {
		return nil, core.Wrap(core.KindConfiguration, "server misconfigured", errors.New("service signer is required"))
	}
	if deps.Communities == nil || deps.Ledger == nil || deps.Relay == nil {
		return nil, core.Wrap(core.KindConfiguration, "server misconfigured", errors.New("communities, ledger and relay are required"))
	}
	if deps.Notifier == nil {
		return nil, core.Wrap(core.KindConfiguration, "server misconfigured", errors.New("notifier is required"))
	}

	if cfg.ChallengeTTL > MaxChallengeTTL {
		return nil, core.Wrap(core.KindConfiguration, "server misconfigured", errors.New("challenge ttl exceeds "+MaxChallengeTTL.String()))
	}

	defaults := DefaultConfig()
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = defaults.ChallengeTTL
	}
	if cfg.ChallengeDigits <= 0 {
		cfg.ChallengeDigits = defaults.ChallengeDigits
	}
	if cfg.RelayTimeout <= 0 {
		cfg.RelayTimeout = defaults.RelayTimeout
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = defaults.NotifyTimeout
	}

	logger := log.Logger
	if deps.Logger != nil {
		logger = *deps.Logger
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &SessionProtocol{
		communities: deps.Communities,
		signer:      deps.Signer,
		oracle:      NewOracle(deps.Ledger, cfg.OracleTimeout),
		relay:       deps.Relay,
		notifier:    deps.Notifier,
		limiter:     deps.RateLimiter,
		logger:      logger.With().Str("component", "session_protocol").Logger(),
		now:         now,
		cfg:         cfg,
	}, nil
}

// Request issues a challenge for a new session and records the request on the ledger.
// Email and SMS challenges are delivered asynchronously; passkey challenges are returned.
func (p *SessionProtocol) Request(ctx context.Context, params core.RequestParams) (core.RequestResult, error) {
	if err := validateRequest(params); err != nil {
		return core.RequestResult{}, err
	}

	community, err := p.community(ctx, params.Alias)
	if err != nil {
		return core.RequestResult{}, err
	}
	if params.Provider != community.PrimaryProvider {
		return core.RequestResult{}, core.ErrInvalidProvider
	}

	now := p.now()
	if params.Expiry <= unixSeconds(now) {
		return core.RequestResult{}, core.NewError(core.KindValidation, "session expiry must be in the future")
	}

	source := params.Type.Normalize(params.Source)
	salt := eth.DeriveSalt(source, params.Type)
	requestHash, err := eth.DeriveSessionRequestHash(params.Provider, params.Owner, salt, params.Expiry)
	if err != nil {
		return core.RequestResult{}, core.Wrap(core.KindValidation, "invalid session request", err)
	}

	if !eth.Verify(requestHash, params.OwnerSignature, params.Owner) {
		return core.RequestResult{}, core.ErrInvalidSignature
	}

	if p.limiter != nil {
		if err := p.limiter.Check(ctx, salt, community.Alias); err != nil {
			return core.RequestResult{}, err
		}
	}

	generator, err := challenge.ForType(params.Type, p.cfg.ChallengeDigits)
	if err != nil {
		return core.RequestResult{}, err
	}
	issued, err := generator.Generate(challenge.Params{Owner: params.Owner, Expiry: params.Expiry, Context: params.Context})
	if err != nil {
		return core.RequestResult{}, core.Wrap(core.KindConfiguration, "server misconfigured", err)
	}

	sessionHash, err := eth.DeriveSessionHash(requestHash, issued.Value())
	if err != nil {
		return core.RequestResult{}, core.Wrap(core.KindConfiguration, "server misconfigured", err)
	}
	serviceSignature, err := p.signer.SignHash(sessionHash)
	if err != nil {
		return core.RequestResult{}, core.Wrap(core.KindConfiguration, "server misconfigured", err)
	}

	challengeExpiresAt := now.Add(p.cfg.ChallengeTTL)
	data, err := eth.PackRequest(eth.RequestCall{
		Salt:             salt,
		RequestHash:      requestHash,
		OwnerSignature:   params.OwnerSignature,
		ServiceSignature: serviceSignature,
		Expiry:           params.Expiry,
		ChallengeExpiry:  unixSeconds(challengeExpiresAt),
	})
	if err != nil {
		return core.RequestResult{}, core.Wrap(core.KindValidation, "invalid session request", err)
	}

	txID, err := p.submit(ctx, community, data)
	if err != nil {
		return core.RequestResult{}, err
	}

	p.logger.Info().
		Str("alias", community.Alias).
		Str("type", string(params.Type)).
		Str("request_hash", requestHash.Hex()).
		Str("tx", txID).
		Msg("session requested")

	result := core.RequestResult{
		TxID:            txID,
		Salt:            salt,
		RequestHash:     requestHash,
		ChallengeExpiry: unixSeconds(challengeExpiresAt),
		State:           core.StateChallenged,
	}

	if params.Type.Delivered() {
		p.deliver(ports.ChallengeDelivery{
			Alias:       community.Alias,
			Channel:     params.Type,
			Destination: source,
			Challenge:   issued.String(),
			ExpiresAt:   challengeExpiresAt,
		})
	} else {
		result.Challenge = issued.String()
	}

	return result, nil
}

// Confirm proves possession of the challenge and confirms the session on the ledger.
func (p *SessionProtocol) Confirm(ctx context.Context, params core.ConfirmParams) (string, error) {
	if err := validateConfirm(params); err != nil {
		return "", err
	}

	community, err := p.community(ctx, params.Alias)
	if err != nil {
		return "", err
	}
	if params.Provider != community.PrimaryProvider {
		return "", core.ErrInvalidProvider
	}

	if !eth.Verify(params.SessionHash, params.OwnerSignature, params.Owner) {
		return "", core.ErrInvalidConfirmation
	}

	record, err := p.oracle.FetchSessionRecord(ctx, community, params.Provider, params.RequestHash)
	if err != nil {
		return "", err
	}
	if record.Status == core.StatusConfirmed {
		return "", core.ErrAlreadyConfirmed
	}
	if err := ValidateNotExpired(record, p.now()); err != nil {
		return "", err
	}

	resigned, err := p.signer.SignHash(params.SessionHash)
	if err != nil {
		return "", core.Wrap(core.KindConfiguration, "server misconfigured", err)
	}
	if !MatchesStoredSignature(record, resigned) {
		return "", core.ErrHashMismatch
	}

	data, err := eth.PackConfirm(eth.ConfirmCall{
		RequestHash:    params.RequestHash,
		SessionHash:    params.SessionHash,
		OwnerSignature: params.OwnerSignature,
	})
	if err != nil {
		return "", core.Wrap(core.KindValidation, "invalid confirmation", err)
	}

	txID, err := p.submit(ctx, community, data)
	if err != nil {
		return "", err
	}

	p.logger.Info().
		Str("alias", community.Alias).
		Str("request_hash", params.RequestHash.Hex()).
		Str("tx", txID).
		Msg("session confirmed")

	return txID, nil
}

// Status reports the lifecycle state of a session request.
func (p *SessionProtocol) Status(ctx context.Context, alias string, provider common.Address, requestHash common.Hash) (core.State, error) {
	community, err := p.community(ctx, alias)
	if err != nil {
		return "", err
	}
	record, err := p.oracle.FetchSessionRecord(ctx, community, provider, requestHash)
	if err != nil {
		return "", err
	}
	return StateOf(record, p.now()), nil
}

func (p *SessionProtocol) community(ctx context.Context, alias string) (*core.Community, error) {
	community, err := p.communities.Get(ctx, alias)
	if errors.Is(err, ports.ErrCommunityNotFound) {
		return nil, core.Wrap(core.KindNotFound, "community not found", err)
	}
	if err != nil {
		return nil, core.Wrap(core.KindConfiguration, "server misconfigured", err)
	}
	return community, nil
}

// submit hands call data to the relay once. Relay errors are never retried here.
func (p *SessionProtocol) submit(ctx context.Context, community *core.Community, data []byte) (string, error) {
	call := ports.SignedCall{
		ChainID:    community.ChainID,
		Target:     community.SessionManager,
		OnBehalfOf: community.PrimaryProvider,
		Data:       data,
	}

	signature, err := p.signer.SignHash(eth.CallDigest(call.ChainID, call.Target, call.OnBehalfOf, call.Data))
	if err != nil {
		return "", core.Wrap(core.KindConfiguration, "server misconfigured", err)
	}
	call.Signature = signature

	ctx, cancel := context.WithTimeout(ctx, p.cfg.RelayTimeout)
	defer cancel()

	txID, err := p.relay.Submit(ctx, call)
	if err != nil {
		return "", core.Wrap(core.KindRelay, "relay submission failed", err)
	}
	return txID, nil
}

// deliver sends the challenge in the background. Failures only get logged.
func (p *SessionProtocol) deliver(delivery ports.ChallengeDelivery) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.NotifyTimeout)
		defer cancel()

		if err := p.notifier.SendChallenge(ctx, delivery); err != nil {
			p.logger.Warn().
				Err(core.Wrap(core.KindDelivery, "challenge delivery failed", err)).
				Str("alias", delivery.Alias).
				Str("channel", string(delivery.Channel)).
				Msg("failed to deliver challenge")
		}
	}()
}

func validateRequest(params core.RequestParams) error {
	switch {
	case !params.Type.Valid():
		return core.NewError(core.KindValidation, "unsupported session type")
	case params.Alias == "":
		return core.NewError(core.KindValidation, "alias is required")
	case params.Owner == (common.Address{}):
		return core.NewError(core.KindValidation, "owner is required")
	case params.Type.Normalize(params.Source) == "":
		return core.NewError(core.KindValidation, "source is required")
	case len(params.OwnerSignature) == 0:
		return core.NewError(core.KindValidation, "signature is required")
	}
	return nil
}

func validateConfirm(params core.ConfirmParams) error {
	switch {
	case params.Alias == "":
		return core.NewError(core.KindValidation, "alias is required")
	case params.Owner == (common.Address{}):
		return core.NewError(core.KindValidation, "owner is required")
	case params.RequestHash == (common.Hash{}):
		return core.NewError(core.KindValidation, "session request hash is required")
	case params.SessionHash == (common.Hash{}):
		return core.NewError(core.KindValidation, "session hash is required")
	case len(params.OwnerSignature) == 0:
		return core.NewError(core.KindValidation, "signature is required")
	}
	return nil
}

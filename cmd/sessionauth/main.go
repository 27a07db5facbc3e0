package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/layer-3/clearsync/pkg/userop"
	"github.com/layer-3/sessionauth/adapters/community"
	"github.com/layer-3/sessionauth/adapters/events"
	"github.com/layer-3/sessionauth/adapters/ledger"
	"github.com/layer-3/sessionauth/adapters/relay"
	"github.com/layer-3/sessionauth/adapters/store"
	"github.com/layer-3/sessionauth/internal/config"
	"github.com/layer-3/sessionauth/internal/eth"
	"github.com/layer-3/sessionauth/ports"
	"github.com/layer-3/sessionauth/service"
	transport "github.com/layer-3/sessionauth/transport/http"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const relayIssuer = "sessionauth"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	zerolog.SetGlobalLevel(cfg.LogLevel)
	if cfg.Dev() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run(cfg *config.Config) error {
	signer, err := eth.NewKeySignerFromHex(cfg.ServicePrivateKey)
	if err != nil {
		return err
	}

	communities, err := community.LoadFile(cfg.CommunitiesFile)
	if err != nil {
		return err
	}

	// Parse Redis URL and create client
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return err
	}
	redisClient := redis.NewClient(opts)
	defer redisClient.Close()

	// Initialize Watermill Redis publisher
	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: redisClient,
		},
		watermill.NewStdLogger(cfg.LogLevel == zerolog.DebugLevel, false),
	)
	if err != nil {
		return err
	}
	defer publisher.Close()

	var (
		reader    *ledger.ContractReader
		submitter ports.Relay
	)
	switch {
	case cfg.UserOpConfigFile != "":
		conf, err := relay.LoadUserOpConfig(cfg.UserOpConfigFile)
		if err != nil {
			return err
		}
		client, err := userop.NewClient(conf)
		if err != nil {
			return err
		}
		opSigner, err := relay.UserOpSigner(conf.SmartWallet.Type, signer)
		if err != nil {
			return err
		}
		reader = ledger.NewContractReader(nil)
		submitter = relay.NewUserOpRelay(client, opSigner, signer.Address(), cfg.UserOpWalletIndex)
		paymaster := userop.PaymasterDisabled
		if conf.Paymaster.Type != nil {
			paymaster = *conf.Paymaster.Type
		}
		log.Info().Str("paymaster", paymaster.String()).Str("owner", signer.Address().Hex()).Msg("Submitting through user operations")
	case cfg.RelayURL != "":
		reader = ledger.NewContractReader(nil)
		submitter = relay.NewHTTPRelay(cfg.RelayURL, relayIssuer, []byte(cfg.RelaySecret), &http.Client{Timeout: cfg.RelayTimeout})
	default:
		// DEV only: the in-memory ledger answers eth_call and applies submissions.
		memory := ledger.NewMemoryLedger()
		reader = ledger.NewContractReader(func(context.Context, string) (ledger.Caller, error) {
			return memory, nil
		})
		submitter = memory
		log.Warn().Msg("No relay configured, using in-memory ledger")
	}
	defer reader.Close()

	limiter := service.NewRateLimiter(store.NewRedisStore(redisClient), []service.RateLimit{
		{Window: 30 * time.Second, Max: cfg.RateLimit30s},
		{Window: 10 * time.Minute, Max: cfg.RateLimit10m},
		{Window: 24 * time.Hour, Max: cfg.RateLimit24h},
	}, log.Logger)

	protocol, err := service.NewSessionProtocol(service.Deps{
		Communities: communities,
		Signer:      signer,
		Ledger:      reader,
		Relay:       submitter,
		Notifier:    events.NewWatermillNotifier(publisher),
		RateLimiter: limiter,
		Logger:      &log.Logger,
	}, service.Config{
		ChallengeTTL:    cfg.ChallengeTTL,
		ChallengeDigits: cfg.ChallengeDigits,
		OracleTimeout:   cfg.OracleTimeout,
		RelayTimeout:    cfg.RelayTimeout,
		NotifyTimeout:   cfg.NotifyTimeout,
	})
	if err != nil {
		return err
	}

	// Setup Gin router
	router := transport.SetupRouter(protocol)

	log.Info().Str("port", cfg.Port).Str("signer", signer.Address().Hex()).Msg("Starting session service")
	return router.Run(":" + cfg.Port)
}

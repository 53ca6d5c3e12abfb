package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/paygate/adapters/chain"
	"github.com/layer-3/paygate/adapters/events"
	"github.com/layer-3/paygate/adapters/signer"
	"github.com/layer-3/paygate/adapters/store"
	"github.com/layer-3/paygate/adapters/tokenizer"
	"github.com/layer-3/paygate/internal/config"
	"github.com/layer-3/paygate/internal/logging"
	"github.com/layer-3/paygate/internal/telemetry"
	"github.com/layer-3/paygate/ports"
	"github.com/layer-3/paygate/service"
	transport "github.com/layer-3/paygate/transport/http"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "paygate: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(logging.Init(cfg.LogLevel))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("paygate stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "paygate", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	keySigner, err := signer.NewKeySignerFromHex(cfg.SigningKey)
	if err != nil {
		return err
	}
	verifier := signer.NewEIP712Verifier(cfg.EIP712Name, cfg.EIP712Version, cfg.ChainID, cfg.EIP712Contract)

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	kv, closeStore, err := openStore(cfg, redisClient)
	if err != nil {
		return err
	}
	defer closeStore()

	publisher, err := newPublisher(redisClient)
	if err != nil {
		return err
	}
	defer publisher.Close()

	opts := []service.Option{
		service.WithLogger(logger),
		service.WithEventPublisher(events.NewWatermillPublisher(publisher)),
	}

	if cfg.RPCURL != "" {
		reader, client, err := chain.Dial(ctx, cfg.RPCURL)
		if err != nil {
			return err
		}
		defer client.Close()
		opts = append(opts, service.WithChainReader(reader))
	} else {
		logger.Warn("no chain rpc configured, transaction proofs will be rejected")
	}

	registry := service.NewRegistry()
	if cfg.PricingFile != "" {
		if err := registry.LoadFile(cfg.PricingFile); err != nil {
			return err
		}
		logger.Info("pricing loaded", "resources", len(registry.List()))
	}
	opts = append(opts, service.WithPricing(registry))

	price, err := cfg.Price()
	if err != nil {
		return err
	}

	svc := service.NewPaymentService(kv, keySigner, verifier, service.Config{
		Recipient:      cfg.Recipient,
		ChainID:        cfg.ChainID,
		ChallengeTTL:   cfg.ChallengeTTL,
		AccessDuration: cfg.AccessDuration,
		DefaultPrice:   price,
		Retention:      cfg.Retention,
		ChainTimeout:   cfg.ChainTimeout,
		SweepInterval:  cfg.SweepInterval,
	}, opts...)
	svc.Start(ctx)
	defer svc.Stop()

	attestKey, err := attestationKey(cfg.AttestationKey, logger)
	if err != nil {
		return err
	}

	upstream, err := upstreamHandler(cfg.Upstream)
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	router := transport.SetupRouter(svc, transport.RouterConfig{
		Attestor:  tokenizer.NewJWTTokenizer(attestKey, "paygate"),
		Logger:    logger,
		Protected: cfg.Protected,
		Excluded:  cfg.Excluded,
		Upstream:  upstream,
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("paygate listening", "addr", cfg.Addr, "store", cfg.Store, "signer", keySigner.Address())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func openStore(cfg *config.Config, redisClient *redis.Client) (ports.Store, func(), error) {
	switch cfg.Store {
	case config.StoreRedis:
		return store.NewRedisStore(redisClient), func() {}, nil
	case config.StoreBolt:
		s, err := store.NewBoltStore(cfg.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return store.NewMemoryStore(), func() {}, nil
	}
}

// newPublisher publishes to Redis streams when Redis is configured and
// in-process otherwise.
func newPublisher(redisClient *redis.Client) (message.Publisher, error) {
	logger := watermill.NewStdLogger(false, false)
	if redisClient == nil {
		return gochannel.NewGoChannel(gochannel.Config{}, logger), nil
	}

	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: redisClient,
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis publisher: %w", err)
	}
	return publisher, nil
}

func attestationKey(pemKey string, logger *slog.Logger) (*ecdsa.PrivateKey, error) {
	if pemKey != "" {
		key, err := jwt.ParseECPrivateKeyFromPEM([]byte(pemKey))
		if err != nil {
			return nil, fmt.Errorf("invalid attestation key: %w", err)
		}
		return key, nil
	}

	logger.Warn("no attestation key configured, generating an ephemeral one")
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

func upstreamHandler(rawURL string) (gin.HandlerFunc, error) {
	if rawURL == "" {
		return nil, nil
	}
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream: %w", err)
	}
	proxy := httputil.NewSingleHostReverseProxy(target)
	return gin.WrapH(proxy), nil
}

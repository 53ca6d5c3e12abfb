package service

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/layer-3/paygate"
	"github.com/layer-3/paygate/core"
	"github.com/layer-3/paygate/internal/telemetry"
	"github.com/layer-3/paygate/ports"
	"go.opentelemetry.io/otel/trace"
)

// Store key prefixes.
const (
	challengePrefix = "challenge:"
	receiptPrefix   = "receipt:"
	tokenPrefix     = "token:"
	txRefPrefix     = "txref:"
)

func challengeKey(id string) string { return challengePrefix + id }
func receiptKey(id string) string   { return receiptPrefix + id }
func tokenKey(token string) string  { return tokenPrefix + token }
func txRefKey(ref string) string    { return txRefPrefix + canonicalTxRef(ref) }

// canonicalTxRef maps every accepted spelling of a transaction hash to the
// lowercase 0x-prefixed form used for replay claims.
func canonicalTxRef(ref string) string {
	ref = strings.ToLower(strings.TrimSpace(ref))
	if !strings.HasPrefix(ref, "0x") {
		ref = "0x" + ref
	}
	return ref
}

// Config holds the protocol parameters of a PaymentService.
type Config struct {
	// Recipient is the address payments must be sent to.
	Recipient string
	ChainID   int64

	ChallengeTTL   time.Duration
	AccessDuration time.Duration
	DefaultPrice   *big.Int
	// Retention keeps expired challenges and tokens readable for a while so
	// callers see "expired" instead of "not found".
	Retention     time.Duration
	ChainTimeout  time.Duration
	SweepInterval time.Duration
}

// DefaultConfig returns the defaults used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		ChainID:        1,
		ChallengeTTL:   5 * time.Minute,
		AccessDuration: time.Hour,
		DefaultPrice:   big.NewInt(1000),
		Retention:      5 * time.Minute,
		ChainTimeout:   10 * time.Second,
		SweepInterval:  time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ChainID == 0 {
		c.ChainID = def.ChainID
	}
	if c.ChallengeTTL <= 0 {
		c.ChallengeTTL = def.ChallengeTTL
	}
	if c.AccessDuration <= 0 {
		c.AccessDuration = def.AccessDuration
	}
	if c.DefaultPrice == nil {
		c.DefaultPrice = def.DefaultPrice
	}
	if c.Retention < 0 {
		c.Retention = 0
	}
	if c.ChainTimeout <= 0 {
		c.ChainTimeout = def.ChainTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = def.SweepInterval
	}
	return c
}

// PaymentService handles the payment gate business logic
type PaymentService struct {
	store    ports.Store
	signer   ports.Signer
	verifier ports.AuthorizationVerifier
	chain    ports.ChainReader
	eventPub ports.EventPublisher
	pricing  *Registry

	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time

	sweepMu     sync.Mutex
	sweepCancel func()
	sweepDone   chan struct{}
}

var _ paygate.Gate = (*PaymentService)(nil)

// Option configures optional collaborators of a PaymentService.
type Option func(*PaymentService)

// WithChainReader enables transaction proofs.
func WithChainReader(chain ports.ChainReader) Option {
	return func(s *PaymentService) { s.chain = chain }
}

// WithEventPublisher publishes receipt and revocation events.
func WithEventPublisher(pub ports.EventPublisher) Option {
	return func(s *PaymentService) { s.eventPub = pub }
}

// WithPricing sets the pricing registry challenges are priced from.
func WithPricing(registry *Registry) Option {
	return func(s *PaymentService) { s.pricing = registry }
}

// WithLogger sets the logger; slog.Default is used otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(s *PaymentService) { s.logger = logger }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *PaymentService) { s.now = now }
}

// NewPaymentService creates a new payment service. Challenges are priced from
// an empty registry unless WithPricing is given.
func NewPaymentService(
	store ports.Store,
	signer ports.Signer,
	verifier ports.AuthorizationVerifier,
	cfg Config,
	opts ...Option,
) *PaymentService {
	s := &PaymentService{
		store:    store,
		signer:   signer,
		verifier: verifier,
		pricing:  NewRegistry(),
		cfg:      cfg.withDefaults(),
		logger:   slog.Default(),
		tracer:   telemetry.Tracer(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Pricing returns the registry the service prices challenges from.
func (s *PaymentService) Pricing() *Registry {
	return s.pricing
}

// Config returns the effective configuration.
func (s *PaymentService) Config() Config {
	return s.cfg
}

func decode(key string, raw []byte, target any) error {
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("%w: corrupt entry %s: %v", core.ErrStoreOperationFailed, key, err)
	}
	return nil
}

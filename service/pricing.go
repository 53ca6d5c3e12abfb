package service

import (
	"fmt"
	"math/big"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/layer-3/paygate/core"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Registry holds at most one pricing per resource. The last Set wins.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]core.ResourcePricing
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]core.ResourcePricing)}
}

// Set validates and stores p, replacing any existing pricing for the resource.
func (r *Registry) Set(p core.ResourcePricing) error {
	if p.ResourceID == "" {
		return fmt.Errorf("%w: pricing without resource id", core.ErrConfiguration)
	}
	if p.Price == nil || p.Price.Sign() < 0 {
		return fmt.Errorf("%w: %s: price must be a non-negative integer", core.ErrConfiguration, p.ResourceID)
	}
	if len(p.Methods) == 0 {
		p.Methods = []core.PaymentMethod{core.MethodTransaction, core.MethodSignature}
	}
	for _, m := range p.Methods {
		if m != core.MethodTransaction && m != core.MethodSignature {
			return fmt.Errorf("%w: %s: unknown payment method %q", core.ErrConfiguration, p.ResourceID, m)
		}
	}
	if d := p.SubscriptionDiscount; d != nil && (d.IsNegative() || d.GreaterThan(decimal.NewFromInt(1))) {
		return fmt.Errorf("%w: %s: subscription discount must be within [0, 1]", core.ErrConfiguration, p.ResourceID)
	}
	if p.AccessDuration < 0 {
		return fmt.Errorf("%w: %s: negative access duration", core.ErrConfiguration, p.ResourceID)
	}

	p.Price = new(big.Int).Set(p.Price)
	p.Methods = slices.Clone(p.Methods)

	r.mu.Lock()
	r.entries[p.ResourceID] = p
	r.mu.Unlock()
	return nil
}

// Get returns the pricing of a resource.
func (r *Registry) Get(resourceID string) (core.ResourcePricing, bool) {
	r.mu.RLock()
	p, ok := r.entries[resourceID]
	r.mu.RUnlock()
	if !ok {
		return core.ResourcePricing{}, false
	}
	p.Price = new(big.Int).Set(p.Price)
	p.Methods = slices.Clone(p.Methods)
	return p, true
}

// List returns all pricings ordered by resource id.
func (r *Registry) List() []core.ResourcePricing {
	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	out := make([]core.ResourcePricing, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.Get(id); ok {
			out = append(out, p)
		}
	}
	return out
}

type pricingFile struct {
	Resources []pricingEntry `yaml:"resources"`
}

type pricingEntry struct {
	ID                   string   `yaml:"id"`
	Price                string   `yaml:"price"`
	Currency             string   `yaml:"currency"`
	Decimals             int32    `yaml:"decimals"`
	Methods              []string `yaml:"methods"`
	AccessDuration       string   `yaml:"accessDuration"`
	SubscriptionDiscount string   `yaml:"subscriptionDiscount"`
}

func (e pricingEntry) toPricing() (core.ResourcePricing, error) {
	price, ok := new(big.Int).SetString(strings.TrimSpace(e.Price), 10)
	if !ok {
		return core.ResourcePricing{}, fmt.Errorf("%w: %s: price %q is not an integer", core.ErrConfiguration, e.ID, e.Price)
	}

	p := core.ResourcePricing{
		ResourceID: e.ID,
		Price:      price,
		Currency:   e.Currency,
		Decimals:   e.Decimals,
	}
	for _, m := range e.Methods {
		p.Methods = append(p.Methods, core.PaymentMethod(m))
	}
	if e.AccessDuration != "" {
		d, err := time.ParseDuration(e.AccessDuration)
		if err != nil {
			return core.ResourcePricing{}, fmt.Errorf("%w: %s: access duration: %v", core.ErrConfiguration, e.ID, err)
		}
		p.AccessDuration = d
	}
	if e.SubscriptionDiscount != "" {
		d, err := decimal.NewFromString(e.SubscriptionDiscount)
		if err != nil {
			return core.ResourcePricing{}, fmt.Errorf("%w: %s: subscription discount: %v", core.ErrConfiguration, e.ID, err)
		}
		p.SubscriptionDiscount = &d
	}
	return p, nil
}

// ParsePricing decodes a YAML pricing catalogue.
//
//	resources:
//	  - id: premium-report
//	    price: "1000000"
//	    decimals: 6
//	    methods: [transaction, signature]
//	    accessDuration: 1h
func ParsePricing(data []byte) ([]core.ResourcePricing, error) {
	var file pricingFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: pricing file: %v", core.ErrConfiguration, err)
	}

	out := make([]core.ResourcePricing, 0, len(file.Resources))
	for _, e := range file.Resources {
		p, err := e.toPricing()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// LoadFile reads a pricing catalogue from path into the registry.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read pricing file: %w", err)
	}
	pricings, err := ParsePricing(data)
	if err != nil {
		return err
	}
	for _, p := range pricings {
		if err := r.Set(p); err != nil {
			return err
		}
	}
	return nil
}

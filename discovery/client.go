// Package discovery resolves services published in Consul's DNS interface.
//
// A lookup sends an SRV query for the service under each configured search
// domain to one pinned resolver, keeps the preferred priority tier of the
// answer and hands it to a load balancing Selector:
//
//	nomad → nomad.service.city.consul. SRV → [{10.0.0.1 4646 p10 w5} ...]
//	      → tier filter → weighted random draw → 10.0.0.1:4646
//
// Nothing is cached between calls; every Resolve re-queries the resolver.
package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"tunnel-reaper/loadbalance"
)

// DefaultSearchDomains are the Consul domains services are published under.
var DefaultSearchDomains = []string{"service.city.consul", "service.consul"}

// Config is built once at process start and handed to NewClient.
type Config struct {
	// Resolver is the DNS server address, "host" or "host:port".
	Resolver string

	// SearchDomains are tried in order for names that are not fully qualified.
	SearchDomains []string

	// Timeout bounds each query.
	Timeout time.Duration

	// Order picks the preferred priority tier.
	Order PriorityOrder

	// Balancer draws from the tier. Nil means weighted random.
	Balancer loadbalance.Balancer

	// OnLookup, when set, is told the outcome of every lookup.
	OnLookup func(service string, err error)
}

// Client queries the configured resolver for SRV records.
type Client struct {
	cfg Config
	dns *dns.Client
	log *zap.Logger
}

// NewClient creates a client bound to cfg.
func NewClient(cfg Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if _, _, err := net.SplitHostPort(cfg.Resolver); err != nil {
		cfg.Resolver = net.JoinHostPort(cfg.Resolver, "53")
	}
	if cfg.Balancer == nil {
		cfg.Balancer = &loadbalance.WeightedRandomBalancer{}
	}
	return &Client{
		cfg: cfg,
		dns: &dns.Client{Net: "udp", Timeout: cfg.Timeout},
		log: log,
	}
}

// Lookup queries the service and returns its parsed preferred tier.
func (c *Client) Lookup(ctx context.Context, service string) (*Service, error) {
	svc, err := c.lookup(ctx, service)
	if c.cfg.OnLookup != nil {
		c.cfg.OnLookup(service, err)
	}
	return svc, err
}

func (c *Client) lookup(ctx context.Context, service string) (*Service, error) {
	var lastErr error
	for _, name := range c.queryNames(service) {
		msg, err := c.exchange(ctx, name)
		if err != nil {
			c.log.Debug("srv query failed", zap.String("name", name), zap.Error(err))
			lastErr = err
			continue
		}
		if !hasSRV(msg) {
			lastErr = fmt.Errorf("%s: no SRV answer", name)
			continue
		}

		candidates, err := ParseResponse(msg, c.cfg.Order)
		if err != nil {
			return nil, fmt.Errorf("discover %s: %w", service, err)
		}
		selector, err := loadbalance.NewSelector(candidates, c.cfg.Balancer)
		if err != nil {
			return nil, fmt.Errorf("discover %s: %w", service, err)
		}

		c.log.Debug("srv resolved",
			zap.String("service", service),
			zap.String("name", name),
			zap.Int("candidates", len(candidates)))
		return &Service{Name: service, selector: selector}, nil
	}
	return nil, &LookupError{Service: service, Cause: lastErr}
}

// exchange sends one SRV query, falling back to TCP on truncation.
func (c *Client) exchange(ctx context.Context, name string) (*dns.Msg, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	m := new(dns.Msg)
	m.SetQuestion(name, dns.TypeSRV)
	m.RecursionDesired = true

	in, _, err := c.dns.ExchangeContext(ctx, m, c.cfg.Resolver)
	if err != nil {
		return nil, err
	}
	if in.Truncated {
		tcp := &dns.Client{Net: "tcp", Timeout: c.cfg.Timeout}
		in, _, err = tcp.ExchangeContext(ctx, m, c.cfg.Resolver)
		if err != nil {
			return nil, err
		}
	}
	if in.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("%s: %s", name, dns.RcodeToString[in.Rcode])
	}
	return in, nil
}

// queryNames expands service over the search domains. Fully qualified names
// are queried as-is.
func (c *Client) queryNames(service string) []string {
	if dns.IsFqdn(service) || len(c.cfg.SearchDomains) == 0 {
		return []string{dns.Fqdn(service)}
	}
	names := make([]string, 0, len(c.cfg.SearchDomains))
	for _, domain := range c.cfg.SearchDomains {
		names = append(names, dns.Fqdn(service+"."+strings.Trim(domain, ".")))
	}
	return names
}

// ResolveEndpoint looks the service up and draws one endpoint.
func (c *Client) ResolveEndpoint(ctx context.Context, service string) (loadbalance.Endpoint, error) {
	svc, err := c.Lookup(ctx, service)
	if err != nil {
		return loadbalance.Endpoint{}, err
	}
	return svc.Next(), nil
}

// Address returns the address of a fresh draw.
func (c *Client) Address(ctx context.Context, service string) (string, error) {
	ep, err := c.ResolveEndpoint(ctx, service)
	return ep.Address, err
}

// Port returns the port of a fresh draw.
func (c *Client) Port(ctx context.Context, service string) (string, error) {
	ep, err := c.ResolveEndpoint(ctx, service)
	return ep.Port, err
}

func hasSRV(msg *dns.Msg) bool {
	for _, rr := range msg.Answer {
		if _, ok := rr.(*dns.SRV); ok {
			return true
		}
	}
	return false
}

package orchestrator

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"go.uber.org/zap"

	"tunnel-reaper/loadbalance"
	"tunnel-reaper/middleware"
)

// Mode selects how the orchestrator address is found.
type Mode int

const (
	// Direct dials a configured host.
	Direct Mode = iota
	// Discovered resolves a service name through DNS SRV.
	Discovered
)

func (m Mode) String() string {
	if m == Discovered {
		return "discovered"
	}
	return "direct"
}

// DefaultPort is Nomad's HTTP port.
const DefaultPort = 4646

// Addressing is either Direct(Host) or Discovered(ServiceName).
type Addressing struct {
	Mode        Mode
	Host        string
	ServiceName string
}

// DirectAddressing targets host. A host without a port gets the connector's
// port.
func DirectAddressing(host string) Addressing {
	return Addressing{Mode: Direct, Host: host}
}

// DiscoveredAddressing targets whatever serviceName resolves to.
func DiscoveredAddressing(serviceName string) Addressing {
	return Addressing{Mode: Discovered, ServiceName: serviceName}
}

func (a Addressing) String() string {
	if a.Mode == Discovered {
		return "discovered(" + a.ServiceName + ")"
	}
	return "direct(" + a.Host + ")"
}

// EndpointResolver is the part of the discovery client the connector needs.
type EndpointResolver interface {
	ResolveEndpoint(ctx context.Context, service string) (loadbalance.Endpoint, error)
}

// ConnectorOptions configure gateway construction.
type ConnectorOptions struct {
	Addressing Addressing
	Resolver   EndpointResolver // required for Discovered

	// Port is used for direct hosts without a port and, unless
	// UseDiscoveredPort is set, for discovered addresses too: the catalog
	// entry may advertise the agent's RPC or serf port rather than HTTP.
	Port              int
	UseDiscoveredPort bool

	Nomad       NomadOptions
	Middlewares []middleware.Middleware
	Logger      *zap.Logger
}

// Connector builds a Gateway bound to a freshly resolved address. Middlewares
// are shared by every gateway it builds, so rate limits apply process-wide.
type Connector struct {
	opts ConnectorOptions
	log  *zap.Logger
}

func NewConnector(opts ConnectorOptions) (*Connector, error) {
	if opts.Addressing.Mode == Discovered && opts.Resolver == nil {
		return nil, fmt.Errorf("discovered addressing needs a resolver")
	}
	if opts.Addressing.Mode == Direct && opts.Addressing.Host == "" {
		return nil, fmt.Errorf("direct addressing needs a host")
	}
	if opts.Port <= 0 {
		opts.Port = DefaultPort
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Connector{opts: opts, log: log}, nil
}

// Connect resolves the orchestrator address once and returns a gateway for
// it. Discovery errors are returned unchanged.
func (c *Connector) Connect(ctx context.Context) (Gateway, error) {
	addr, err := c.address(ctx)
	if err != nil {
		return nil, err
	}
	gw, err := NewNomadGateway(addr, c.opts.Nomad)
	if err != nil {
		return nil, err
	}
	c.log.Debug("orchestrator gateway", zap.String("addressing", c.opts.Addressing.String()), zap.String("addr", gw.Addr()))
	return Instrument(gw, c.opts.Middlewares...), nil
}

func (c *Connector) address(ctx context.Context) (string, error) {
	port := strconv.Itoa(c.opts.Port)

	if c.opts.Addressing.Mode == Direct {
		host := c.opts.Addressing.Host
		if _, _, err := net.SplitHostPort(host); err == nil {
			return host, nil
		}
		return net.JoinHostPort(host, port), nil
	}

	ep, err := c.opts.Resolver.ResolveEndpoint(ctx, c.opts.Addressing.ServiceName)
	if err != nil {
		return "", err
	}
	if c.opts.UseDiscoveredPort && ep.Port != "" {
		port = ep.Port
	}
	return net.JoinHostPort(ep.Address, port), nil
}

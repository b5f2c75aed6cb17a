// Package probe checks provider endpoints over HTTP or the gRPC health protocol.
package probe

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ErrNoEndpoint is returned for providers without a configured endpoint.
var ErrNoEndpoint = errors.New("no health endpoint configured")

// Prober implements a provider health check. Endpoints are keyed by provider
// and use one of the schemes http, https, grpc (plaintext) or grpcs (TLS).
// For gRPC the URL path names the service passed to the health check.
type Prober struct {
	endpoints   map[string]string
	timeout     time.Duration
	httpClient  *http.Client
	dialOptions []grpc.DialOption

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// Option configures a Prober.
type Option func(*Prober)

// WithDialOptions adds gRPC dial options, applied after the transport credentials.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(p *Prober) {
		p.dialOptions = append(p.dialOptions, opts...)
	}
}

// New creates a prober for the given provider endpoints.
func New(endpoints map[string]string, timeout time.Duration, opts ...Option) *Prober {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	p := &Prober{
		endpoints: make(map[string]string, len(endpoints)),
		timeout:   timeout,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		conns: make(map[string]*grpc.ClientConn),
	}
	for provider, endpoint := range endpoints {
		p.endpoints[strings.ToLower(provider)] = endpoint
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Check returns nil when the provider endpoint reports healthy.
func (p *Prober) Check(ctx context.Context, provider string) error {
	endpoint, ok := p.endpoints[strings.ToLower(provider)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoEndpoint, provider)
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("parse endpoint %q: %w", endpoint, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	switch u.Scheme {
	case "http", "https":
		return p.checkHTTP(ctx, endpoint)
	case "grpc", "grpcs":
		return p.checkGRPC(ctx, u)
	default:
		return fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
}

func (p *Prober) checkHTTP(ctx context.Context, endpoint string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("health endpoint returned http %d", resp.StatusCode)
	}
	return nil
}

func (p *Prober) checkGRPC(ctx context.Context, u *url.URL) error {
	conn, err := p.conn(u)
	if err != nil {
		return err
	}
	service := strings.TrimPrefix(u.Path, "/")
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return fmt.Errorf("grpc health check: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("grpc service %q is %s", service, resp.GetStatus())
	}
	return nil
}

// conn returns a cached client connection for the endpoint host.
func (p *Prober) conn(u *url.URL) (*grpc.ClientConn, error) {
	key := u.Scheme + "://" + u.Host

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.conns[key]; ok {
		return c, nil
	}

	creds := insecure.NewCredentials()
	if u.Scheme == "grpcs" {
		creds = credentials.NewTLS(&tls.Config{})
	}
	opts := append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, p.dialOptions...)

	c, err := grpc.NewClient("passthrough:///"+u.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", u.Host, err)
	}
	p.conns[key] = c
	return c, nil
}

// Close releases gRPC connections and idle HTTP connections.
func (p *Prober) Close() error {
	p.httpClient.CloseIdleConnections()

	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for key, c := range p.conns {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(p.conns, key)
	}
	return errors.Join(errs...)
}

package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"syscall"
	"time"

	"github.com/ShowKa/Oxalis-AS4/pkg/mime"
	"github.com/ShowKa/Oxalis-AS4/pkg/transmission"
)

// DefaultUserAgent is sent with every request.
const DefaultUserAgent = "oxalis-as4-go/1.0"

// Cancellation causes and response limits.
var (
	ErrReadTimeout      = errors.New("read timeout exceeded")
	ErrConnectTimeout   = errors.New("connect timeout exceeded")
	ErrResponseTooLarge = errors.New("response exceeds the size limit")
)

// Exchange binds one transmission to an endpoint address and the limits
// that apply to it.
type Exchange struct {
	url *url.URL
	// ConnectTimeout bounds the wait for a connection to the peer. When the
	// round tripper reports no connection, it bounds the wait for the
	// response headers instead.
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	// MaxResponseSize caps the response body in bytes.
	MaxResponseSize int64
}

// Address returns the endpoint URL.
func (e *Exchange) Address() string {
	return e.url.String()
}

// RawResponse is the peer's synchronous answer.
type RawResponse struct {
	StatusCode  int
	ContentType string
	Envelope    []byte
	Attachments []*mime.Attachment
	// Raw is the unparsed HTTP body.
	Raw []byte
}

// Dispatcher moves a serialized message to a peer.
type Dispatcher interface {
	CreateExchange(address string) (*Exchange, error)
	Send(ctx context.Context, exchange *Exchange, msg *mime.Message) (*RawResponse, error)
}

// HTTPDispatcher is the Dispatcher for AS4 over HTTP(S).
type HTTPDispatcher struct {
	config    *HTTPSConfig
	client    *http.Client
	clock     Clock
	userAgent string
	logger    *slog.Logger
}

var _ Dispatcher = (*HTTPDispatcher)(nil)

// Option configures an HTTPDispatcher.
type Option func(*HTTPDispatcher)

// WithRoundTripper replaces the HTTP transport.
func WithRoundTripper(rt http.RoundTripper) Option {
	return func(d *HTTPDispatcher) {
		d.client = &http.Client{Transport: rt}
	}
}

// WithClock sets the time source of the read timeout.
func WithClock(c Clock) Option {
	return func(d *HTTPDispatcher) {
		d.clock = c
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(d *HTTPDispatcher) {
		d.userAgent = ua
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *HTTPDispatcher) {
		d.logger = l
	}
}

// NewHTTPDispatcher creates a dispatcher. A nil config uses
// DefaultHTTPSConfig.
func NewHTTPDispatcher(config *HTTPSConfig, opts ...Option) *HTTPDispatcher {
	if config == nil {
		config = DefaultHTTPSConfig()
	}
	d := &HTTPDispatcher{
		config:    config,
		clock:     SystemClock(),
		userAgent: DefaultUserAgent,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.client == nil {
		d.client = &http.Client{Transport: NewHTTPTransport(config)}
	}
	return d
}

// CreateExchange validates the endpoint address.
func (d *HTTPDispatcher) CreateExchange(address string) (*Exchange, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, transmission.NewNetworkError(transmission.NetworkOther, fmt.Errorf("%w: %v", transmission.ErrInvalidEndpoint, err))
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, transmission.NewNetworkError(transmission.NetworkOther, fmt.Errorf("%w: %q", transmission.ErrInvalidEndpoint, address))
	}
	maxSize := d.config.MaxResponseSize
	if maxSize <= 0 {
		maxSize = DefaultMaxResponseSize
	}
	return &Exchange{
		url:             u,
		ConnectTimeout:  d.config.ConnectTimeout,
		ReadTimeout:     d.config.ReadTimeout,
		MaxResponseSize: maxSize,
	}, nil
}

// Send POSTs msg to the exchange's endpoint and returns the response. The
// connect timeout ends once a connection is obtained. The read timeout
// starts when the request is handed to the transport and covers the
// response headers and body.
func (d *HTTPDispatcher) Send(ctx context.Context, exchange *Exchange, msg *mime.Message) (*RawResponse, error) {
	if exchange == nil || msg == nil {
		return nil, transmission.NewNetworkError(transmission.NetworkOther, fmt.Errorf("exchange and message are required"))
	}
	body, contentType, err := msg.Serialize()
	if err != nil {
		return nil, transmission.NewNetworkError(transmission.NetworkOther, fmt.Errorf("serializing message: %w", err))
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var connectTimer Timer
	if exchange.ConnectTimeout > 0 {
		connectTimer = d.clock.AfterFunc(exchange.ConnectTimeout, func() { cancel(ErrConnectTimeout) })
		defer connectTimer.Stop()
		ctx = httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
			GotConn: func(httptrace.GotConnInfo) { connectTimer.Stop() },
		})
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, exchange.Address(), bytes.NewReader(body))
	if err != nil {
		return nil, transmission.NewNetworkError(transmission.NetworkOther, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("MIME-Version", "1.0")
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("SOAPAction", "")

	logger := d.logger.With(slog.String("endpoint", exchange.Address()))
	started := d.clock.Now()

	if exchange.ReadTimeout > 0 {
		timer := d.clock.AfterFunc(exchange.ReadTimeout, func() { cancel(ErrReadTimeout) })
		defer timer.Stop()
	}

	resp, err := d.client.Do(req)
	if connectTimer != nil {
		connectTimer.Stop()
	}
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer resp.Body.Close()

	limit := exchange.MaxResponseSize
	if limit <= 0 {
		limit = DefaultMaxResponseSize
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, classify(ctx, fmt.Errorf("failed to read response: %w", err))
	}
	if int64(len(raw)) > limit {
		return nil, transmission.NewMalformedResponseError(fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, limit))
	}
	logger.Debug("response received",
		slog.Int("status", resp.StatusCode),
		slog.Int("bytes", len(raw)),
		slog.Duration("elapsed", d.clock.Now().Sub(started)))

	ct := resp.Header.Get("Content-Type")
	parsed, err := mime.ReadMessage(bytes.NewReader(raw), ct)
	if err != nil || len(bytes.TrimSpace(parsed.Envelope)) == 0 {
		if err == nil {
			err = fmt.Errorf("empty SOAP envelope")
		}
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, transmission.NewNetworkError(transmission.NetworkOther,
				fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, truncate(raw, 256)))
		}
		return nil, transmission.NewMalformedResponseError(fmt.Errorf("response is not a SOAP message (status %d): %w", resp.StatusCode, err))
	}

	return &RawResponse{
		StatusCode:  resp.StatusCode,
		ContentType: ct,
		Envelope:    parsed.Envelope,
		Attachments: parsed.Attachments,
		Raw:         raw,
	}, nil
}

// classify maps a transport failure to a NetworkError subkind.
func classify(ctx context.Context, err error) *transmission.Error {
	if cause := context.Cause(ctx); errors.Is(cause, ErrReadTimeout) || errors.Is(cause, ErrConnectTimeout) {
		return transmission.NewNetworkError(transmission.NetworkTimeout, fmt.Errorf("%w: %v", cause, err))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return transmission.NewNetworkError(transmission.NetworkTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return transmission.NewNetworkError(transmission.NetworkTimeout, err)
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return transmission.NewNetworkError(transmission.NetworkConnectionRefused, err)
	}
	return transmission.NewNetworkError(transmission.NetworkOther, err)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

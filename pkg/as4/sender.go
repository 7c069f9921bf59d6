package as4

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ShowKa/Oxalis-AS4/pkg/message"
	"github.com/ShowKa/Oxalis-AS4/pkg/mime"
	"github.com/ShowKa/Oxalis-AS4/pkg/security"
	"github.com/ShowKa/Oxalis-AS4/pkg/transmission"
	"github.com/ShowKa/Oxalis-AS4/pkg/transport"
)

// Metrics receives pipeline observations.
type Metrics interface {
	ObserveDispatch(elapsed time.Duration, err error)
	ObserveTransmission(elapsed time.Duration, err error)
}

type nopMetrics struct{}

func (nopMetrics) ObserveDispatch(time.Duration, error)     {}
func (nopMetrics) ObserveTransmission(time.Duration, error) {}

// Sender runs the outbound pipeline. It holds only read-only
// collaborators and may be used by concurrent callers.
type Sender struct {
	attachments mime.AttachmentBuilder
	headers     message.HeaderBuilder
	security    security.SecurityConfigurator
	dispatcher  transport.Dispatcher
	converter   ResponseConverter
	metrics     Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Sender.
type Option func(*Sender)

// WithAttachmentBuilder sets the payload preparation stage.
func WithAttachmentBuilder(b mime.AttachmentBuilder) Option {
	return func(s *Sender) {
		s.attachments = b
	}
}

// WithHeaderBuilder sets the ebMS header stage.
func WithHeaderBuilder(b message.HeaderBuilder) Option {
	return func(s *Sender) {
		s.headers = b
	}
}

// WithSecurity sets the security stage.
func WithSecurity(c security.SecurityConfigurator) Option {
	return func(s *Sender) {
		s.security = c
	}
}

// WithDispatcher sets the transport.
func WithDispatcher(d transport.Dispatcher) Option {
	return func(s *Sender) {
		s.dispatcher = d
	}
}

// WithResponseConverter sets the response stage.
func WithResponseConverter(c ResponseConverter) Option {
	return func(s *Sender) {
		s.converter = c
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(s *Sender) {
		s.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sender) {
		s.logger = l
	}
}

// NewSender creates a Sender. Stages not set by an option use the gzip
// attachment builder, the UserMessage header builder, a policy driven
// configurator without signing keys, the HTTP dispatcher and the receipt
// converter.
func NewSender(opts ...Option) *Sender {
	s := &Sender{
		metrics: nopMetrics{},
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.attachments == nil {
		s.attachments = mime.NewAttachmentBuilder()
	}
	if s.headers == nil {
		s.headers = message.NewUserMessageBuilder()
	}
	if s.security == nil {
		s.security = security.NewConfigurator(security.WithLogger(s.logger))
	}
	if s.dispatcher == nil {
		s.dispatcher = transport.NewHTTPDispatcher(nil, transport.WithLogger(s.logger))
	}
	if s.converter == nil {
		s.converter = NewReceiptConverter()
	}
	return s
}

// run is the per-call pipeline state.
type run struct {
	tracker   *transmission.Tracker
	messageID string
}

// fail moves the run to FAILED and stamps err with the state the failure
// happened in.
func (r *run) fail(err error) error {
	state := r.tracker.State()
	if ferr := r.tracker.Fail(); ferr != nil {
		err = errors.Join(err, ferr)
	}
	var te *transmission.Error
	if !errors.As(err, &te) {
		return fmt.Errorf("%s: %w", state, err)
	}
	out := te.WithState(state, r.messageID)
	if error(te) != err {
		out.Err = err
	}
	return out
}

// step advances to the next state or fails with err.
func (r *run) step(to transmission.State, err error) error {
	if err != nil {
		return r.fail(err)
	}
	if err := r.tracker.Advance(to); err != nil {
		return r.fail(err)
	}
	return nil
}

// Send transmits req and waits for the peer's receipt. The returned error
// is a *transmission.Error carrying the kind, the failed state and, once
// assigned, the message id.
func (s *Sender) Send(ctx context.Context, req *transmission.Request) (*transmission.Response, error) {
	started := s.now()
	r := &run{tracker: transmission.NewTracker()}

	resp, err := s.send(ctx, req, r)
	s.metrics.ObserveTransmission(s.now().Sub(started), err)

	logger := s.logger.With(slog.String("message_id", r.messageID))
	if err != nil {
		logger.Warn("transmission failed", slog.String("state", r.tracker.State().String()), slog.Any("error", err))
		return nil, err
	}
	logger.Info("transmission completed",
		slog.String("receipt_id", resp.ReceiptID),
		slog.Bool("signed_receipt", resp.Signed),
		slog.Duration("elapsed", s.now().Sub(started)))
	return resp, nil
}

func (s *Sender) send(ctx context.Context, req *transmission.Request, r *run) (*transmission.Response, error) {
	if req == nil {
		return nil, r.fail(transmission.NewHeaderMarshalError(errors.New("request is nil")))
	}

	att, err := s.attachments.Prepare(req.Payload, req.MimeType())
	if err := r.step(transmission.StateAttachmentsReady, err); err != nil {
		return nil, err
	}
	atts := []*mime.Attachment{att}

	header, err := s.headers.Build(req, mime.Refs(atts))
	if err != nil {
		return nil, r.fail(err)
	}
	r.messageID = header.UserMessage.MessageInfo.MessageId
	el, err := message.Marshal(header)
	if err := r.step(transmission.StateHeaderBuilt, err); err != nil {
		return nil, err
	}
	doc := message.NewEnvelope(el)

	s.logger.Debug("header built",
		slog.String("message_id", r.messageID),
		slog.String("content_id", att.ContentID),
		slog.Int("compressed_bytes", len(att.Data)))

	exchange, err := s.dispatcher.CreateExchange(req.Endpoint.Address)
	if err != nil {
		return nil, r.fail(err)
	}
	sc, err := s.security.Configure(ctx, req, exchange)
	if err != nil {
		return nil, r.fail(err)
	}
	secured, err := s.security.Secure(ctx, sc, doc, atts)
	if err != nil {
		return nil, r.fail(err)
	}
	envelope, err := doc.WriteToBytes()
	if err != nil {
		err = transmission.NewSigningError(fmt.Errorf("serializing secured envelope: %w", err))
	}
	if err := r.step(transmission.StateSecured, err); err != nil {
		return nil, err
	}
	sent := newOutbound(req, header, atts, secured.References)

	dispatched := s.now()
	raw, err := s.dispatcher.Send(ctx, exchange, mime.NewMessage(envelope, secured.Attachments))
	s.metrics.ObserveDispatch(s.now().Sub(dispatched), err)
	if err := r.step(transmission.StateDispatched, err); err != nil {
		return nil, err
	}

	resp, err := s.converter.Convert(sent, raw)
	if err := r.step(transmission.StateConverted, err); err != nil {
		return nil, err
	}
	return resp, nil
}

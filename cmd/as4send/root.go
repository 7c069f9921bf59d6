package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ShowKa/Oxalis-AS4/internal/config"
	"github.com/ShowKa/Oxalis-AS4/pkg/transmission"
)

type sendFlags struct {
	config       string
	endpoint     string
	endpointCert string
	payload      string
	mimeType     string
	service      string
	serviceType  string
	action       string
	from         string
	fromType     string
	to           string
	toType       string
	conversation string
	agreement    string
}

func newRootCmd() *cobra.Command {
	var f sendFlags

	cmd := &cobra.Command{
		Use:   "as4send",
		Short: "Send a document to an AS4 access point",
		Long: `as4send packages a payload as an ebMS3 user message, signs and
encrypts it according to the configured WS-Policy, posts it to the
receiving access point and validates the returned receipt.`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd.Context(), &f, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.config, "config", "", "config file (YAML)")
	flags.StringVar(&f.endpoint, "endpoint", "", "receiving access point URL (default: discovered via BDXL/SMP)")
	flags.StringVar(&f.endpointCert, "endpoint-cert", "", "PEM certificate of the receiving access point, required with --endpoint")
	flags.StringVar(&f.payload, "payload", "-", "payload file, - for stdin")
	flags.StringVar(&f.mimeType, "mime-type", transmission.DefaultPayloadMimeType, "payload MIME type")
	flags.StringVar(&f.service, "service", "", "ebMS service")
	flags.StringVar(&f.serviceType, "service-type", "", "ebMS service type")
	flags.StringVar(&f.action, "action", "", "ebMS action")
	flags.StringVar(&f.from, "from", "", "sender party ID (default: party.id from config)")
	flags.StringVar(&f.fromType, "from-type", "", "sender party ID type (default: party.type from config)")
	flags.StringVar(&f.to, "to", "", "receiver party ID")
	flags.StringVar(&f.toType, "to-type", "", "receiver party ID type")
	flags.StringVar(&f.conversation, "conversation-id", "", "ebMS conversation id")
	flags.StringVar(&f.agreement, "agreement", "", "ebMS AgreementRef")

	for _, name := range []string{"service", "action", "to"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}

// Execute runs the root command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		return err
	}
	return nil
}

func runSend(ctx context.Context, f *sendFlags, out io.Writer) error {
	cfg := config.Default()
	if f.config != "" {
		var err error
		if cfg, err = config.Load(f.config); err != nil {
			return err
		}
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}

	req, closePayload, err := buildRequest(ctx, f, cfg, logger)
	if err != nil {
		return err
	}
	defer closePayload()

	app, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	resp, err := app.sender.Send(ctx, req)
	if err != nil {
		return err
	}
	return printResponse(out, resp)
}

// buildRequest assembles the transmission request from flags and config.
// The returned func closes the payload.
func buildRequest(ctx context.Context, f *sendFlags, cfg *config.Config, logger *slog.Logger) (*transmission.Request, func(), error) {
	from, fromType := f.from, f.fromType
	if from == "" {
		from = cfg.Party.ID
	}
	if fromType == "" {
		fromType = cfg.Party.Type
	}

	req := &transmission.Request{
		PayloadMimeType: f.mimeType,
		Sender:          transmission.PartyID{Type: fromType, Value: from},
		Receiver:        transmission.PartyID{Type: f.toType, Value: f.to},
		Service:         transmission.Service{Type: f.serviceType, Value: f.service},
		Action:          f.action,
		ConversationID:  f.conversation,
		AgreementRef:    f.agreement,
	}

	endpoint, err := resolveEndpoint(ctx, f, &cfg.Discovery, req, logger)
	if err != nil {
		return nil, nil, err
	}
	req.Endpoint = *endpoint

	payload, closePayload, err := openPayload(f.payload)
	if err != nil {
		return nil, nil, err
	}
	req.Payload = payload

	if err := req.Validate(); err != nil {
		closePayload()
		return nil, nil, err
	}
	return req, closePayload, nil
}

// resolveEndpoint uses --endpoint when given and dynamic discovery
// otherwise.
func resolveEndpoint(ctx context.Context, f *sendFlags, cfg *config.DiscoveryConfig, req *transmission.Request, logger *slog.Logger) (*transmission.Endpoint, error) {
	if f.endpoint != "" {
		if f.endpointCert == "" {
			return nil, errors.New("--endpoint-cert is required with --endpoint")
		}
		cert, err := loadCertificate(f.endpointCert)
		if err != nil {
			return nil, fmt.Errorf("loading endpoint certificate: %w", err)
		}
		return &transmission.Endpoint{Address: f.endpoint, Certificate: cert}, nil
	}

	if !cfg.Enabled() {
		return nil, errors.New("no --endpoint given and discovery is not configured")
	}
	resolver, err := newResolver(cfg, logger)
	if err != nil {
		return nil, err
	}
	endpoint, err := resolver.Resolve(ctx, req.Receiver, req.Service, req.Action)
	if err != nil {
		return nil, fmt.Errorf("discovering endpoint: %w", err)
	}
	return endpoint, nil
}

func openPayload(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return os.Stdin, func() {}, nil
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening payload: %w", err)
	}
	return fh, func() { fh.Close() }, nil
}

type receiptOutput struct {
	MessageID string                `json:"messageId"`
	ReceiptID string                `json:"receiptId"`
	Timestamp string                `json:"timestamp,omitempty"`
	Signed    bool                  `json:"signed"`
	Digests   []transmission.Digest `json:"digests,omitempty"`
}

func printResponse(out io.Writer, resp *transmission.Response) error {
	o := receiptOutput{
		MessageID: resp.MessageID,
		ReceiptID: resp.ReceiptID,
		Signed:    resp.Signed,
		Digests:   resp.Digests,
	}
	if !resp.Timestamp.IsZero() {
		o.Timestamp = resp.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(o)
}

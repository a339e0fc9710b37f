package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BTreeMap/Enkidu/internal/api"
	"github.com/BTreeMap/Enkidu/internal/config"
	"github.com/BTreeMap/Enkidu/internal/flow"
	"github.com/BTreeMap/Enkidu/internal/genai"
	"github.com/BTreeMap/Enkidu/internal/lockfile"
	"github.com/BTreeMap/Enkidu/internal/messaging"
	"github.com/BTreeMap/Enkidu/internal/models"
	"github.com/BTreeMap/Enkidu/internal/store"
	"github.com/BTreeMap/Enkidu/internal/twiliosms"
	"github.com/BTreeMap/Enkidu/internal/whatsapp"
	"github.com/spf13/cobra"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

type serveFlags struct {
	apiAddr     string
	channel     string
	qrOutput    string
	numericCode bool
}

func newServeCommand(root *rootFlags) *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and the configured messaging channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}
			applyServeFlags(cmd, flags, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&flags.apiAddr, "api-addr", "", "API server address (overrides $API_ADDR)")
	cmd.Flags().StringVar(&flags.channel, "channel", "", "outbound channel, sms or whatsapp (overrides $ENKIDU_CHANNEL)")
	cmd.Flags().StringVar(&flags.qrOutput, "qr-output", "", "path to write the WhatsApp login QR code")
	cmd.Flags().BoolVar(&flags.numericCode, "numeric-code", false, "print the WhatsApp pairing code instead of a QR code")
	return cmd
}

func applyServeFlags(cmd *cobra.Command, flags *serveFlags, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("api-addr") {
		cfg.APIAddr = flags.apiAddr
	}
	if f.Changed("channel") {
		cfg.Channel = flags.channel
	}
	if f.Changed("qr-output") {
		cfg.WhatsAppQRPath = flags.qrOutput
	}
	if f.Changed("numeric-code") {
		cfg.WhatsAppNumericCode = flags.numericCode
	}
}

// runServe wires every component and blocks until ctx is done.
func runServe(ctx context.Context, cfg *config.Config) error {
	lock, err := lockfile.AcquireLock(cfg.StateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := store.Open(cfg.StoreDSN())
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	gaClient, err := genai.NewClient(buildGenAIOptions(cfg)...)
	if err != nil {
		return fmt.Errorf("failed to create GenAI client: %w", err)
	}

	svc, err := buildMessagingService(ctx, cfg)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}

	conv := flow.NewConversationFlow(flow.Dependencies{
		Store:      st,
		Dedup:      st,
		Classifier: &flow.LLMClassifier{Client: gaClient},
		Composer:   &flow.LLMComposer{Client: gaClient},
		Summarizer: &flow.LLMSummarizer{Client: gaClient},
		Messaging:  messaging.NewDeliverer(svc, cfg.DelivererOptions()...),
		Settings:   cfg.FlowSettings(),
	})

	inbound := messaging.NewResponseHandler(svc, func(ctx context.Context, msg models.InboundMessage) error {
		_, err := conv.HandleAndDeliver(ctx, msg)
		return err
	})
	inboundCtx, stopInbound := context.WithCancel(ctx)
	defer stopInbound()
	inbound.Start(inboundCtx)

	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           api.NewServer(conv, buildAPIOptions(cfg)...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("runServe: API server listening", "addr", srv.Addr, "channel", cfg.Channel)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("runServe: shutting down")
	case err := <-serveErr:
		runErr = fmt.Errorf("API server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("runServe: forced shutdown", "error", err)
	}
	// in-flight turns still need the service to deliver their replies
	stopInbound()
	inbound.Wait()
	if err := svc.Stop(); err != nil {
		slog.Warn("runServe: messaging service stop failed", "error", err)
	}
	slog.Info("runServe: stopped")
	return runErr
}

func buildGenAIOptions(cfg *config.Config) []genai.Option {
	return []genai.Option{
		genai.WithAPIKey(cfg.OpenAIKey),
		genai.WithModel(cfg.OpenAIModel),
		genai.WithTemperature(cfg.OpenAITemperature),
		genai.WithMaxTokens(cfg.OpenAIMaxTokens),
		genai.WithDebugMode(cfg.GenAIDebug),
		genai.WithStateDir(cfg.StateDir),
	}
}

func buildAPIOptions(cfg *config.Config) []api.Option {
	if !cfg.TwilioValidateSignature {
		return nil
	}
	return []api.Option{api.WithSignatureValidation(cfg.TwilioAuthToken, cfg.PublicBaseURL)}
}

func buildWhatsAppOptions(cfg *config.Config) []whatsapp.Option {
	opts := []whatsapp.Option{whatsapp.WithDBDSN(cfg.WhatsAppStoreDSN())}
	if cfg.WhatsAppQRPath != "" {
		opts = append(opts, whatsapp.WithQRCodeOutput(cfg.WhatsAppQRPath))
	}
	if cfg.WhatsAppNumericCode {
		opts = append(opts, whatsapp.WithNumericCode())
	}
	if cfg.LogLevel == "debug" {
		opts = append(opts, whatsapp.WithLogLevel("DEBUG"))
	}
	return opts
}

func buildMessagingService(ctx context.Context, cfg *config.Config) (messaging.Service, error) {
	switch cfg.Channel {
	case config.ChannelWhatsApp:
		waClient, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(cfg)...)
		if err != nil {
			return nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		return messaging.NewWhatsAppService(waClient), nil
	default:
		smsClient, err := twiliosms.NewClient(
			twiliosms.WithAccountSID(cfg.TwilioAccountSID),
			twiliosms.WithAuthToken(cfg.TwilioAuthToken),
			twiliosms.WithFromNumber(cfg.TwilioFromNumber),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		return messaging.NewSMSService(smsClient), nil
	}
}

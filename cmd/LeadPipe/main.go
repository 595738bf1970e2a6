package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/BTreeMap/LeadPipe/internal/api"
	"github.com/BTreeMap/LeadPipe/internal/crm"
	"github.com/BTreeMap/LeadPipe/internal/flow"
	"github.com/BTreeMap/LeadPipe/internal/genai"
	"github.com/BTreeMap/LeadPipe/internal/lockfile"
	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/metrics"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/BTreeMap/LeadPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/LeadPipe/internal/util"
	"github.com/BTreeMap/LeadPipe/internal/whatsapp"
)

const (
	// DefaultStateDir is the default directory for LeadPipe state data
	DefaultStateDir = "/var/lib/leadpipe"
	// DefaultAppDBFileName is the SQLite file used when state is persisted
	DefaultAppDBFileName = "leadpipe.db"
	// DefaultWhatsAppDBFileName is the whatsmeow session file
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultResetAfter is how long a completed conversation is kept before it is cleared
	DefaultResetAfter = 24 * time.Hour
)

// Messaging backends.
const (
	BackendTwilio   = "twilio"
	BackendWhatsApp = "whatsapp"
	BackendLog      = "log"
)

func main() {
	initializeLogger()

	config, err := parseCommandLineFlags(loadEnvironmentConfig(), os.Args[1:])
	if err != nil {
		slog.Error("Invalid command line", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config); err != nil {
		slog.Error("LeadPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("LeadPipe exited successfully")
}

// Config holds the resolved configuration.
type Config struct {
	StateDir            string
	AppDSN              string
	WhatsAppDSN         string
	APIAddr             string
	MessagingBackend    string
	TwilioAccountSID    string
	TwilioAuthToken     string
	TwilioFromNumber    string
	TwilioWebhookURL    string
	CRMInstanceURL      string
	CRMTokenURL         string
	CRMClientID         string
	CRMClientSecret     string
	OpenAIKey           string
	ResetAfter          time.Duration
	CollaboratorTimeout time.Duration
	PersistState        bool
	QROutput            string
	NumericCode         bool
}

// initializeLogger sets up structured logging; LOG_LEVEL=debug enables debug output.
func initializeLogger() {
	level := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	config := Config{
		StateDir:            os.Getenv("LEADPIPE_STATE_DIR"),
		AppDSN:              os.Getenv("DATABASE_URL"),
		WhatsAppDSN:         os.Getenv("WHATSAPP_DB_DSN"),
		APIAddr:             os.Getenv("API_ADDR"),
		MessagingBackend:    os.Getenv("MESSAGING_BACKEND"),
		TwilioAccountSID:    os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:     os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber:    os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioWebhookURL:    os.Getenv("TWILIO_WEBHOOK_URL"),
		CRMInstanceURL:      os.Getenv("CRM_INSTANCE_URL"),
		CRMTokenURL:         os.Getenv("CRM_TOKEN_URL"),
		CRMClientID:         os.Getenv("CRM_CLIENT_ID"),
		CRMClientSecret:     os.Getenv("CRM_CLIENT_SECRET"),
		OpenAIKey:           os.Getenv("OPENAI_API_KEY"),
		ResetAfter:          util.ParseDurationEnv("LEAD_RESET_AFTER", DefaultResetAfter),
		CollaboratorTimeout: util.ParseDurationEnv("COLLABORATOR_TIMEOUT", flow.DefaultCollaboratorTimeout),
		PersistState:        util.ParseBoolEnv("PERSIST_STATE", true),
	}
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	if config.MessagingBackend == "" {
		config.MessagingBackend = BackendLog
	}

	slog.Debug("environment variables loaded",
		"LEADPIPE_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.AppDSN != "",
		"MESSAGING_BACKEND", config.MessagingBackend,
		"CRM_INSTANCE_URL_SET", config.CRMInstanceURL != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"LEAD_RESET_AFTER", config.ResetAfter,
		"PERSIST_STATE", config.PersistState)
	return config
}

// parseCommandLineFlags applies flag overrides to config and fills the
// state-directory defaults for DSNs left unset.
func parseCommandLineFlags(config Config, args []string) (Config, error) {
	fs := flag.NewFlagSet("leadpipe", flag.ContinueOnError)
	fs.StringVar(&config.StateDir, "state-dir", config.StateDir, "state directory (overrides $LEADPIPE_STATE_DIR)")
	fs.StringVar(&config.AppDSN, "db-dsn", config.AppDSN, "application database DSN (overrides $DATABASE_URL)")
	fs.StringVar(&config.WhatsAppDSN, "whatsapp-db-dsn", config.WhatsAppDSN, "whatsmeow session database DSN (overrides $WHATSAPP_DB_DSN)")
	fs.StringVar(&config.APIAddr, "api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&config.MessagingBackend, "messaging", config.MessagingBackend, "messaging backend: twilio, whatsapp or log (overrides $MESSAGING_BACKEND)")
	fs.StringVar(&config.OpenAIKey, "openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	fs.DurationVar(&config.ResetAfter, "reset-after", config.ResetAfter, "clear completed conversations after this long, 0 disables (overrides $LEAD_RESET_AFTER)")
	fs.DurationVar(&config.CollaboratorTimeout, "collaborator-timeout", config.CollaboratorTimeout, "timeout for CRM and send calls (overrides $COLLABORATOR_TIMEOUT)")
	fs.BoolVar(&config.PersistState, "persist-state", config.PersistState, "persist state in SQLite under the state directory when no DSN is set")
	fs.StringVar(&config.QROutput, "qr-output", "", "path to write the WhatsApp login QR code")
	fs.BoolVar(&config.NumericCode, "numeric-code", false, "print the WhatsApp login code instead of a QR code")
	if err := fs.Parse(args); err != nil {
		return config, err
	}

	switch config.MessagingBackend {
	case BackendTwilio, BackendWhatsApp, BackendLog:
	default:
		return config, fmt.Errorf("unknown messaging backend %q", config.MessagingBackend)
	}

	if config.AppDSN == "" && config.PersistState {
		config.AppDSN = filepath.Join(config.StateDir, DefaultAppDBFileName)
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = "file:" + filepath.Join(config.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
	}
	return config, nil
}

// needsStateLock reports whether the process writes files in the state directory.
func needsStateLock(config Config) bool {
	if config.MessagingBackend == BackendWhatsApp {
		return true
	}
	return config.AppDSN != "" && store.DetectDSNType(config.AppDSN) == "sqlite3"
}

// buildMessagingService constructs the configured transport.
func buildMessagingService(ctx context.Context, config Config) (messaging.Service, error) {
	switch config.MessagingBackend {
	case BackendTwilio:
		client, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(config.TwilioAccountSID),
			twiliowhatsapp.WithAuthToken(config.TwilioAuthToken),
			twiliowhatsapp.WithFromWhats(config.TwilioFromNumber))
		if err != nil {
			return nil, fmt.Errorf("twilio client: %w", err)
		}
		var opts []messaging.TwilioServiceOption
		if config.TwilioWebhookURL != "" {
			opts = append(opts, messaging.WithSignatureValidation(
				twiliowhatsapp.NewSignatureValidator(config.TwilioAuthToken), config.TwilioWebhookURL))
		} else {
			slog.Warn("TWILIO_WEBHOOK_URL not set; webhook signatures are not verified")
		}
		return messaging.NewTwilioService(client, opts...), nil
	case BackendWhatsApp:
		var waOpts []whatsapp.Option
		waOpts = append(waOpts, whatsapp.WithDBDSN(config.WhatsAppDSN))
		if config.QROutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(config.QROutput))
		}
		if config.NumericCode {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(ctx, waOpts...)
		if err != nil {
			return nil, fmt.Errorf("whatsapp client: %w", err)
		}
		return messaging.NewWhatsAppService(client), nil
	case BackendLog:
		slog.Warn("Messaging backend is log; outbound messages are only logged")
		return messaging.NewLogService(), nil
	default:
		return nil, fmt.Errorf("unknown messaging backend %q", config.MessagingBackend)
	}
}

// buildLeadCreator returns the CRM client, or an in-memory recorder when no CRM is configured.
func buildLeadCreator(ctx context.Context, config Config) (flow.LeadCreator, error) {
	if config.CRMInstanceURL == "" {
		slog.Warn("CRM_INSTANCE_URL not set; leads are recorded in memory only")
		return crm.NewMockClient(), nil
	}
	opts := []crm.Option{crm.WithInstanceURL(config.CRMInstanceURL)}
	if config.CRMTokenURL != "" {
		opts = append(opts, crm.WithClientCredentials(config.CRMTokenURL, config.CRMClientID, config.CRMClientSecret))
	}
	return crm.NewClient(ctx, opts...)
}

// buildCoordinatorOptions wires the optional coordinator collaborators.
func buildCoordinatorOptions(config Config, st store.Store, m *metrics.LeadPipeMetrics, timer flow.Timer) []flow.CoordinatorOption {
	opts := []flow.CoordinatorOption{
		flow.WithCollaboratorTimeout(config.CollaboratorTimeout),
		flow.WithOutbox(st),
		flow.WithMetrics(m),
	}
	if config.ResetAfter > 0 {
		opts = append(opts, flow.WithResetAfter(config.ResetAfter, timer))
	}
	if config.OpenAIKey != "" {
		client, err := genai.NewClient(genai.WithAPIKey(config.OpenAIKey))
		if err != nil {
			slog.Warn("GenAI client unavailable; leads are created without summaries", "error", err)
		} else {
			opts = append(opts, flow.WithSummarizer(client))
		}
	}
	return opts
}

func run(ctx context.Context, config Config) error {
	if needsStateLock(config) {
		lock, err := lockfile.AcquireLock(config.StateDir, config.MessagingBackend)
		if err != nil {
			return fmt.Errorf("acquire state lock: %w", err)
		}
		defer lock.Release()
	}

	st, err := store.Open(config.AppDSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	svc, err := buildMessagingService(ctx, config)
	if err != nil {
		return err
	}
	leads, err := buildLeadCreator(ctx, config)
	if err != nil {
		return fmt.Errorf("crm client: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	timer := flow.NewSimpleTimer()
	defer timer.Stop()

	coord := flow.NewCoordinator(st, svc, leads, buildCoordinatorOptions(config, st, m, timer)...)
	if err := coord.Recover(ctx); err != nil {
		slog.Warn("Timed clear recovery failed", "error", err)
	}

	router := messaging.NewInboundRouter(svc, coord, messaging.WithDedup(st), messaging.WithRouterMetrics(m))
	outbox := store.NewOutboxSender(st, coord.Redeliver, store.DefaultOutboxPollInterval, store.DefaultOutboxMaxAttempts)

	server := api.NewServer(coord, svc,
		api.WithAddr(config.APIAddr),
		api.WithRouter(router),
		api.WithOutboxSender(outbox),
		api.WithGatherer(reg))

	slog.Info("LeadPipe starting", "backend", config.MessagingBackend, "store", storeKind(config.AppDSN), "resetAfter", config.ResetAfter)
	return server.Run(ctx)
}

func storeKind(dsn string) string {
	if dsn == "" {
		return "memory"
	}
	return store.DetectDSNType(dsn)
}

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/dastctl/internal/app/notify"
	"github.com/ahrav/dastctl/internal/config"
	"github.com/ahrav/dastctl/internal/config/fileloader"
	"github.com/ahrav/dastctl/internal/domain/shared"
	"github.com/ahrav/dastctl/internal/infra/notify/kafka"
	"github.com/ahrav/dastctl/internal/infra/notify/webhook"
	"github.com/ahrav/dastctl/pkg/common"
	"github.com/ahrav/dastctl/pkg/common/logger"
	"github.com/ahrav/dastctl/pkg/common/otel"
)

const serviceName = "dastctl"

type globalOptions struct {
	configPath string
	logLevel   string
	timeout    time.Duration
}

// app holds what every command needs. It is populated by bootstrap once the
// command line has been parsed.
type app struct {
	opts globalOptions

	stdin  *os.File
	stdout io.Writer
	stderr io.Writer

	loader config.Loader
	cfg    *config.Config
	log    *logger.Logger
	tel    otel.Providers
	tracer trace.Tracer

	closers []func(ctx context.Context)
}

func newApp(stdin *os.File, stdout, stderr io.Writer) *app {
	return &app{stdin: stdin, stdout: stdout, stderr: stderr}
}

// bootstrap loads configuration and sets up logging and telemetry. It returns
// the context commands should run under.
func (a *app) bootstrap(ctx context.Context, command string) (context.Context, error) {
	loader := a.loader
	if loader == nil {
		loader = fileloader.NewFileLoader(a.opts.configPath)
	}
	cfg, err := loader.Load(ctx)
	if err != nil {
		return ctx, err
	}
	a.cfg = cfg

	level := cfg.Log.Level
	if a.opts.logLevel != "" {
		level = a.opts.logLevel
	}
	lvl, err := logger.ParseLevel(level)
	if err != nil {
		return ctx, shared.ConfigurationError("bootstrap", err)
	}

	hostname, _ := os.Hostname()
	a.log = logger.NewWithMetadata(a.stderr, lvl, serviceName, otel.GetTraceID, logger.Events{}, map[string]string{
		"hostname": hostname,
		"command":  command,
	})

	tel, teardown, err := otel.InitTelemetry(a.log, otel.Config{
		ServiceName:      cfg.Telemetry.ServiceName,
		ExporterEndpoint: cfg.Telemetry.Endpoint,
		Probability:      cfg.Telemetry.SampleRatio,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"host.name":        hostname,
		},
		InsecureExporter: cfg.Telemetry.Insecure,
	})
	if err != nil {
		return ctx, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.tel = tel
	a.tracer = tel.Tracer.Tracer(serviceName)
	a.onClose(teardown)

	if a.opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.timeout)
		a.onClose(func(context.Context) { cancel() })
	}
	return ctx, nil
}

func (a *app) onClose(fn func(ctx context.Context)) { a.closers = append(a.closers, fn) }

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
}

// scannerHTTPClient returns a client throttled to the configured request rate.
func (a *app) scannerHTTPClient() *http.Client {
	wi := a.cfg.WebInspect
	return common.NewRateLimitedClient(nil, common.NewRateLimiter(wi.RequestsPerSecond, wi.Burst))
}

// notificationHub builds a hub over every configured sink. A sink that cannot
// be reached is left out so notifications never decide a run's outcome.
func (a *app) notificationHub(ctx context.Context) (*notify.Hub, error) {
	var sinks []notify.Sink

	if u := a.cfg.Notify.WebhookURL; u != "" {
		s, err := webhook.NewSink(u, &http.Client{Timeout: a.cfg.Notify.Timeout}, a.log, a.tracer)
		if err != nil {
			return nil, shared.ConfigurationError("notification_hub", err)
		}
		sinks = append(sinks, s)
	}

	if k := a.cfg.Notify.Kafka; k.Enabled() {
		s, err := kafka.Connect(kafka.Config{
			Brokers:        k.Brokers,
			Topic:          k.Topic,
			ClientID:       k.ClientID,
			Encoding:       kafka.Encoding(k.Encoding),
			ConnectTimeout: k.ConnectTimeout,
			SendTimeout:    a.cfg.Notify.Timeout,
		}, a.log, a.tracer)
		if err != nil {
			err = shared.NewError(shared.KindNotificationDelivery, "notification_hub", err)
			a.log.Warn(ctx, "Kafka notification sink unavailable, continuing without it",
				"error_kind", shared.KindNotificationDelivery.String(),
				"brokers", k.Brokers,
				"error", err,
			)
		} else {
			sinks = append(sinks, s)
		}
	}

	hub := notify.NewHub(a.log, a.tracer, sinks...)
	a.onClose(func(ctx context.Context) {
		if err := hub.Close(); err != nil {
			a.log.Warn(ctx, "Failed to close notification sinks", "error", err)
		}
	})
	return hub, nil
}

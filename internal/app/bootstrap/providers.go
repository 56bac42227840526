package bootstrap

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/wolfman30/practice-booking/internal/config"
	"github.com/wolfman30/practice-booking/internal/events"
	"github.com/wolfman30/practice-booking/internal/notify"
	"github.com/wolfman30/practice-booking/internal/observability/metrics"
	"github.com/wolfman30/practice-booking/internal/payments"
	"github.com/wolfman30/practice-booking/pkg/logging"
)

// BuildGateway selects the payment provider. The fake gateway is returned
// separately so its checkout pages can be mounted.
func BuildGateway(cfg *appconfig.Config, m *metrics.BookingMetrics, logger *logging.Logger) (payments.Gateway, *payments.FakeGateway, error) {
	switch cfg.PaymentProvider {
	case "", "fake":
		if cfg.Env == "production" {
			return nil, nil, fmt.Errorf("bootstrap: fake payment provider is not allowed in production")
		}
		fake := payments.NewFakeGateway(cfg.PublicBaseURL, logger)
		return payments.NewInstrumentedGateway(fake, m), fake, nil
	case "stripe":
		if strings.TrimSpace(cfg.StripeSecretKey) == "" {
			return nil, nil, fmt.Errorf("bootstrap: STRIPE_SECRET_KEY is required for the stripe provider")
		}
		stripe := payments.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeSuccessURL, cfg.StripeCancelURL, cfg.Currency, logger)
		if base := strings.TrimSpace(cfg.StripeBaseURL); base != "" {
			stripe = stripe.WithBaseURL(base)
		}
		return payments.NewInstrumentedGateway(stripe, m), nil, nil
	default:
		return nil, nil, fmt.Errorf("bootstrap: unknown payment provider %q", cfg.PaymentProvider)
	}
}

// BuildEmailSender picks the transactional email backend. Misconfigured
// providers degrade to the stub sender with a warning.
func BuildEmailSender(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) notify.EmailSender {
	switch cfg.EmailProvider {
	case "sendgrid":
		if cfg.SendGridAPIKey != "" && cfg.SendGridFromEmail != "" {
			return notify.NewSendGridSender(notify.SendGridConfig{
				APIKey:    cfg.SendGridAPIKey,
				FromEmail: cfg.SendGridFromEmail,
				FromName:  cfg.SendGridFromName,
			}, logger)
		}
		logger.Warn("sendgrid selected but not configured, using stub email sender")
	case "ses":
		if awsCfg != nil && cfg.SESFromEmail != "" {
			return notify.NewSESSender(sesv2.NewFromConfig(*awsCfg), notify.SESConfig{
				FromEmail: cfg.SESFromEmail,
				FromName:  cfg.SendGridFromName,
			}, logger)
		}
		logger.Warn("ses selected but not configured, using stub email sender")
	}
	return notify.NewStubEmailSender(logger)
}

// BuildOutboxRouter routes refund retries to the booking core and forwards
// every other event type to SQS when a queue is configured.
func BuildOutboxRouter(cfg *appconfig.Config, awsCfg *aws.Config, refunds events.DeliveryHandler, logger *logging.Logger) *events.Router {
	router := events.NewRouter(logger).Route(events.TypeRefundRetry, refunds)
	if queueURL := strings.TrimSpace(cfg.EventsQueueURL); queueURL != "" && awsCfg != nil {
		router.Fallback(events.NewSQSPublisher(sqs.NewFromConfig(*awsCfg), queueURL))
	}
	return router
}

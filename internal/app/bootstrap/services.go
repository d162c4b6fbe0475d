package bootstrap

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/wolfman30/hms-platform/internal/config"
	"github.com/wolfman30/hms-platform/internal/exports"
	"github.com/wolfman30/hms-platform/internal/notify"
	"github.com/wolfman30/hms-platform/internal/observability/metrics"
	"github.com/wolfman30/hms-platform/internal/scheduling"
	"github.com/wolfman30/hms-platform/pkg/logging"
)

// Scheduling groups the appointment services built on a Runtime.
type Scheduling struct {
	Appointments *scheduling.AppointmentStore
	Slots        *scheduling.SlotAvailability
	Lifecycle    *scheduling.Lifecycle
	Booking      *scheduling.BookingService
}

// BuildScheduling wires the scheduling services. now anchors "today" in the
// clinic zone; m may be nil.
func BuildScheduling(rt *Runtime, cfg *appconfig.Config, now scheduling.Clock, m *metrics.SchedulingMetrics, logger *logging.Logger) *Scheduling {
	var cache scheduling.AvailabilityCache
	if rt.Redis != nil {
		cache = scheduling.NewRedisAvailabilityCache(rt.Redis, cfg.AvailabilityCacheTTL)
	}
	slots := scheduling.NewSlotAvailability(rt.Store, cache, logger)
	lifecycle := scheduling.NewLifecycle(rt.Store, logger).WithClock(now)
	if rt.Audit != nil {
		lifecycle = lifecycle.WithAuditor(rt.Audit)
	}
	booking := scheduling.NewBookingService(rt.Store, slots, lifecycle, logger).WithClock(now)
	if m != nil {
		lifecycle = lifecycle.WithRecorder(m)
		booking = booking.WithRecorder(m)
	}
	return &Scheduling{
		Appointments: scheduling.NewAppointmentStore(rt.Store, now),
		Slots:        slots,
		Lifecycle:    lifecycle,
		Booking:      booking,
	}
}

// BuildEmailSender selects SendGrid, SES or the logging stub from config.
func BuildEmailSender(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) notify.EmailSender {
	provider := notify.ProviderConfig{
		Provider: cfg.EmailProvider,
		SendGrid: notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		},
		SES: notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SESFromName,
		},
	}
	if cfg.EmailProvider == "ses" {
		provider.SESClient = sesv2.NewFromConfig(awsCfg)
	}
	return notify.NewEmailSender(provider, logger)
}

// Exports holds the export pipeline backends.
type Exports struct {
	Queue exports.Queue
	Jobs  exports.JobStore
	Blobs exports.BlobStore
}

// BuildExports picks SQS, DynamoDB and S3 when configured and in-memory
// stand-ins otherwise. In-memory queues only work when the worker runs in
// the same process.
func BuildExports(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) *Exports {
	out := &Exports{}
	if cfg.UseMemoryQueue || cfg.ExportQueueURL == "" {
		out.Queue = exports.NewMemoryQueue(64)
		out.Jobs = exports.NewMemoryJobStore()
	} else {
		out.Queue = exports.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.ExportQueueURL)
		out.Jobs = exports.NewDynamoJobStore(dynamodb.NewFromConfig(awsCfg), cfg.JobsTable, logger)
	}
	if cfg.ExportBucket == "" {
		out.Blobs = exports.NewMemoryBlobStore()
	} else {
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = cfg.AWSEndpointOverride != ""
		})
		out.Blobs = exports.NewS3BlobStore(client, s3.NewPresignClient(client), cfg.ExportBucket, logger)
	}
	return out
}

// InProcess reports whether the export queue can only be drained locally.
func (e *Exports) InProcess() bool {
	_, ok := e.Queue.(*exports.MemoryQueue)
	return ok
}

package logging

import (
	"io"
	"os"
	"time"

	"github.com/aimerfeng/DomainDesk/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup initializes the global logger based on configuration
func Setup(cfg *config.LoggingConfig, env string) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	zerolog.TimeFieldFormat = time.RFC3339Nano

	var output io.Writer
	if cfg.Format == "json" || env == "production" {
		output = os.Stdout
	} else {
		// Pretty console output for development
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
	}

	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Str("service", "domaindesk").
		Logger()
}

// NewLogger creates a new logger with additional context
func NewLogger(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}

// RequestLogger is a Gin middleware for structured request logging
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		requestID := c.GetString("request_id")

		event := log.Info()
		if c.Writer.Status() >= 500 {
			event = log.Error()
		} else if c.Writer.Status() >= 400 {
			event = log.Warn()
		}

		event.
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", raw).
			Int("status", c.Writer.Status()).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Str("actor_id", c.GetString("actor_id")).
			Int("body_size", c.Writer.Size()).
			Msg("HTTP request")
	}
}

// TransitionLogEntry describes one inquiry status change
type TransitionLogEntry struct {
	InquiryID string
	From      string
	To        string
	ActorID   string
	Reason    string
}

// LogTransition logs an inquiry status change
func LogTransition(entry *TransitionLogEntry) {
	log.Info().
		Str("inquiry_id", entry.InquiryID).
		Str("from", entry.From).
		Str("to", entry.To).
		Str("actor_id", entry.ActorID).
		Str("reason", entry.Reason).
		Msg("Inquiry transition")
}

// LogModeration logs the routing outcome of a message
func LogModeration(inquiryID, messageID, status, mode string, categories []string) {
	event := log.Info()
	if len(categories) > 0 {
		event = log.Warn()
	}
	event.
		Str("inquiry_id", inquiryID).
		Str("message_id", messageID).
		Str("status", status).
		Str("mode", mode).
		Strs("categories", categories).
		Msg("Message moderation")
}

// LogDealCreated logs a converted inquiry
func LogDealCreated(inquiryID, dealID, actorID, price, currency string) {
	log.Info().
		Str("inquiry_id", inquiryID).
		Str("deal_id", dealID).
		Str("actor_id", actorID).
		Str("agreed_price", price).
		Str("currency", currency).
		Msg("Deal created")
}

// LogNotificationFailure logs a notification that could not be published
func LogNotificationFailure(err error, kind, recipientID, subjectID string) {
	log.Error().
		Err(err).
		Str("kind", kind).
		Str("recipient_id", recipientID).
		Str("subject_id", subjectID).
		Msg("Notification failed")
}

// LogSecurityEvent logs security-related events
func LogSecurityEvent(eventType, actorID, clientIP, details string) {
	log.Warn().
		Str("event_type", eventType).
		Str("actor_id", actorID).
		Str("client_ip", clientIP).
		Str("details", details).
		Msg("Security event")
}

// LogError logs an error with context
func LogError(err error, requestID, component, operation string) {
	log.Error().
		Err(err).
		Str("request_id", requestID).
		Str("component", component).
		Str("operation", operation).
		Msg("Error occurred")
}

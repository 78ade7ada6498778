package event

import (
	"context"
	"fmt"
	"log/slog"

	pkgkafka "github.com/haitnmt/Haihv.Identities/pkg/kafka"
)

// Kafka topic constants for identity audit events.
const (
	TopicLoginSucceeded = "identity.login.succeeded"
	TopicLoginFailed    = "identity.login.failed"
	TopicTokenRefreshed = "identity.token.refreshed"
	TopicLoggedOut      = "identity.logged_out"
)

// Aggregate type constant.
const AggregateTypeSession = "session"

// Source identifier for events originating from the gateway.
const SourceGateway = "identity-gateway"

// LoginSucceededData is the payload for a login.succeeded event.
type LoginSucceededData struct {
	Account  string `json:"account"`
	ClientIP string `json:"client_ip"`
}

// LoginFailedData is the payload for a login.failed event. Username is
// the raw input, which may not correspond to any directory principal.
type LoginFailedData struct {
	Username string `json:"username"`
	ClientIP string `json:"client_ip"`
	Reason   string `json:"reason"`
}

// TokenRefreshedData is the payload for a token.refreshed event.
type TokenRefreshedData struct {
	Account  string `json:"account"`
	ClientIP string `json:"client_ip"`
}

// LoggedOutData is the payload for a logged_out event.
type LoggedOutData struct {
	Account     string `json:"account"`
	AllSessions bool   `json:"all_sessions"`
}

// Producer publishes identity audit events to Kafka. A nil Producer is
// valid and drops everything, for deployments without a broker.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new audit event producer.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishLoginSucceeded publishes a login.succeeded event.
func (p *Producer) PublishLoginSucceeded(ctx context.Context, account, clientIP string) error {
	if p == nil {
		return nil
	}
	return p.publish(ctx, TopicLoginSucceeded, account, LoginSucceededData{
		Account:  account,
		ClientIP: clientIP,
	})
}

// PublishLoginFailed publishes a login.failed event.
func (p *Producer) PublishLoginFailed(ctx context.Context, username, clientIP, reason string) error {
	if p == nil {
		return nil
	}
	return p.publish(ctx, TopicLoginFailed, username, LoginFailedData{
		Username: username,
		ClientIP: clientIP,
		Reason:   reason,
	})
}

// PublishTokenRefreshed publishes a token.refreshed event.
func (p *Producer) PublishTokenRefreshed(ctx context.Context, account, clientIP string) error {
	if p == nil {
		return nil
	}
	return p.publish(ctx, TopicTokenRefreshed, account, TokenRefreshedData{
		Account:  account,
		ClientIP: clientIP,
	})
}

// PublishLoggedOut publishes a logged_out event.
func (p *Producer) PublishLoggedOut(ctx context.Context, account string, allSessions bool) error {
	if p == nil {
		return nil
	}
	return p.publish(ctx, TopicLoggedOut, account, LoggedOutData{
		Account:     account,
		AllSessions: allSessions,
	})
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID string, data any) error {
	event, err := pkgkafka.NewEvent(topic, aggregateID, AggregateTypeSession, SourceGateway, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}
	p.logger.DebugContext(ctx, "published audit event",
		slog.String("topic", topic),
		slog.String("aggregate_id", aggregateID),
	)
	return nil
}

package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/almanakh/identity/internal/domain"
	pkgkafka "github.com/almanakh/identity/pkg/kafka"
)

// Kafka topic constants for identity domain events.
const (
	TopicUserRegistered        = "identity.user.registered"
	TopicVerificationRequested = "identity.email.verification_requested"
	TopicTokenReuseDetected    = "identity.security.token_reuse"
)

// Aggregate type constant.
const AggregateTypeUser = "user"

// Source identifier for events originating from the identity service.
const SourceIdentityService = "identity-service"

// UserRegisteredData is the payload for a user.registered event.
type UserRegisteredData struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// VerificationRequestedData is the payload handed to the mail dispatcher.
// The notification service consumes it and sends the verification email.
type VerificationRequestedData struct {
	UserID           string `json:"user_id"`
	Email            string `json:"email"`
	VerificationLink string `json:"verification_link"`
}

// TokenReuseDetectedData is the payload for a security.token_reuse event.
// Emitted when a retired refresh token reappears; audit layers treat this as
// a security incident even though the end user only sees a re-login prompt.
type TokenReuseDetectedData struct {
	UserID     string    `json:"user_id"`
	Family     string    `json:"family"`
	DetectedAt time.Time `json:"detected_at"`
}

// Producer publishes identity domain events to Kafka.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new event producer for the identity service.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishUserRegistered publishes a user.registered event.
func (p *Producer) PublishUserRegistered(ctx context.Context, user *domain.User) error {
	data := UserRegisteredData{
		ID:       user.ID,
		Email:    user.Email,
		Username: user.Username,
		Role:     string(user.Role),
	}

	event, err := pkgkafka.NewEvent(TopicUserRegistered, user.ID, AggregateTypeUser, SourceIdentityService, data)
	if err != nil {
		return fmt.Errorf("create user.registered event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicUserRegistered, event); err != nil {
		return fmt.Errorf("publish user.registered event: %w", err)
	}

	p.logger.DebugContext(ctx, "published user.registered event",
		slog.String("user_id", user.ID),
	)

	return nil
}

// PublishVerificationRequested hands a verification link to the mail
// dispatcher. Fire-and-forget from the identity core's perspective: the
// caller logs failures but does not roll back token issuance.
func (p *Producer) PublishVerificationRequested(ctx context.Context, userID, email, link string) error {
	data := VerificationRequestedData{
		UserID:           userID,
		Email:            email,
		VerificationLink: link,
	}

	event, err := pkgkafka.NewEvent(TopicVerificationRequested, userID, AggregateTypeUser, SourceIdentityService, data)
	if err != nil {
		return fmt.Errorf("create email.verification_requested event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicVerificationRequested, event); err != nil {
		return fmt.Errorf("publish email.verification_requested event: %w", err)
	}

	p.logger.DebugContext(ctx, "published email.verification_requested event",
		slog.String("user_id", userID),
	)

	return nil
}

// PublishTokenReuseDetected publishes a security.token_reuse event.
func (p *Producer) PublishTokenReuseDetected(ctx context.Context, userID, family string) error {
	data := TokenReuseDetectedData{
		UserID:     userID,
		Family:     family,
		DetectedAt: time.Now().UTC(),
	}

	event, err := pkgkafka.NewEvent(TopicTokenReuseDetected, userID, AggregateTypeUser, SourceIdentityService, data)
	if err != nil {
		return fmt.Errorf("create security.token_reuse event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicTokenReuseDetected, event); err != nil {
		return fmt.Errorf("publish security.token_reuse event: %w", err)
	}

	p.logger.DebugContext(ctx, "published security.token_reuse event",
		slog.String("user_id", userID),
		slog.String("family", family),
	)

	return nil
}

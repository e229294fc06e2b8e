package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/avickers/a11ypipe/internal/config"
)

// Message is the rendered notification content handed to a provider.
type Message struct {
	Subject string
	Body    string
}

// Provider delivers one message to one recipient and returns the provider's
// message ID. A send error propagates to the caller untouched; no other
// provider is ever substituted for a failing one.
type Provider interface {
	ID() string
	Send(ctx context.Context, recipient string, msg Message) (messageID string, err error)
}

// BuildProviders instantiates the providers named in the routing table.
func BuildProviders(routes config.Routes, cfg *config.Config, logger *slog.Logger) (map[string]Provider, error) {
	providers := make(map[string]Provider, len(routes.Providers))
	for _, entry := range routes.Providers {
		switch entry.Type {
		case "smtp":
			providers[entry.ID] = NewSMTPProvider(entry.ID, SMTPConfig{
				Host:       cfg.SMTPHost,
				Port:       cfg.SMTPPort,
				Username:   cfg.SMTPUsername,
				Password:   cfg.SMTPPassword,
				From:       cfg.SMTPFrom,
				RequireTLS: cfg.SMTPRequireTLS,
			})
		case "log":
			providers[entry.ID] = &LogProvider{id: entry.ID, logger: logger}
		default:
			return nil, fmt.Errorf("provider %q has unknown type %q", entry.ID, entry.Type)
		}
	}
	return providers, nil
}

// LogProvider writes the notification to the log instead of delivering it.
// Used for dev environments and as a sink for suppressed recipient classes.
type LogProvider struct {
	id     string
	logger *slog.Logger
}

func (p *LogProvider) ID() string { return p.id }

func (p *LogProvider) Send(_ context.Context, recipient string, msg Message) (string, error) {
	messageID := uuid.New().String()
	log := p.logger
	if log == nil {
		log = slog.Default()
	}
	log.Info("notification delivered to log",
		"provider", p.id, "recipient", recipient, "subject", msg.Subject, "message_id", messageID)
	return messageID, nil
}

// Package notify forwards engine alerts to chat channels such as Telegram
// and Discord.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

const sendTimeout = 10 * time.Second

// Sender delivers one message to a channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Subscriber is the event bus surface the notifier listens on.
type Subscriber interface {
	Subscribe(buffer int, kinds ...domain.EventKind) (<-chan domain.Event, func())
}

// Notifier dispatches alerts to every sender. Only alerts whose level is in
// the allowed set are forwarded; an empty set allows every level.
type Notifier struct {
	senders []Sender
	levels  map[string]bool
	prefix  string
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. prefix is prepended to every title.
func NewNotifier(senders []Sender, levels []string, prefix string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(levels))
	for _, l := range levels {
		if l = strings.ToLower(strings.TrimSpace(l)); l != "" {
			allowed[l] = true
		}
	}
	return &Notifier{
		senders: senders,
		levels:  allowed,
		prefix:  prefix,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Run forwards alert events from sub until ctx ends. Sends happen inline,
// so a slow channel only delays later alerts; the bus drops what overflows.
func (n *Notifier) Run(ctx context.Context, sub Subscriber) error {
	ch, cancel := sub.Subscribe(64, domain.EventAlert)
	defer cancel()

	n.logger.Info("notifier started", slog.Int("senders", len(n.senders)))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			_ = n.Notify(ctx, ev)
		}
	}
}

// Notify sends ev if its level passes the filter.
func (n *Notifier) Notify(ctx context.Context, ev domain.Event) error {
	level := strings.ToLower(ev.Level)
	if level == "" {
		level = "info"
	}
	if len(n.levels) > 0 && !n.levels[level] {
		return nil
	}
	title := strings.TrimSpace(fmt.Sprintf("%s %s", n.prefix, strings.ToUpper(level)))
	return n.dispatch(ctx, title, ev.Message)
}

func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		sctx, cancel := context.WithTimeout(ctx, sendTimeout)
		err := s.Send(sctx, title, message)
		cancel()
		if err != nil {
			n.logger.Warn("notification failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}

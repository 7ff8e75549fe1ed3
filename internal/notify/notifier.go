// Package notify forwards selected journal events to chat channels such as
// Telegram and Discord.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// DefaultKinds are the journal kinds forwarded when none are configured.
var DefaultKinds = []domain.JournalKind{
	domain.JournalAnomaly,
	domain.JournalRiskRejected,
	domain.JournalOrderRejected,
	domain.JournalModeChanged,
	domain.JournalLimitsChanged,
}

// Notifier delivers journal events of the allowed kinds to every sender.
type Notifier struct {
	senders []Sender
	kinds   map[domain.JournalKind]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty kinds list uses DefaultKinds.
func NewNotifier(senders []Sender, kinds []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.JournalKind]bool)
	for _, k := range kinds {
		if k = strings.TrimSpace(k); k != "" {
			allowed[domain.JournalKind(k)] = true
		}
	}
	if len(allowed) == 0 {
		for _, k := range DefaultKinds {
			allowed[k] = true
		}
	}
	return &Notifier{
		senders: senders,
		kinds:   allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Name identifies the notifier when used as a journal sink.
func (n *Notifier) Name() string { return "notify" }

// Write sends one message per allowed event. A failing sender does not stop
// delivery to the others.
func (n *Notifier) Write(ctx context.Context, events []domain.JournalEvent) error {
	var errs []error
	for _, e := range events {
		if !n.kinds[e.Kind] {
			continue
		}
		title, message := Format(e)
		if err := n.dispatch(ctx, title, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// dispatch sends to every sender and joins their failures.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("notify: %s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	return errors.Join(errs...)
}

// Format renders an event as a title and a body of sorted key=value lines.
func Format(e domain.JournalEvent) (title, message string) {
	title = strings.ToUpper(strings.ReplaceAll(string(e.Kind), "_", " "))
	if e.Symbol != "" {
		title += " " + e.Symbol
	}
	var b strings.Builder
	b.WriteString(e.At.UTC().Format("2006-01-02 15:04:05 MST"))
	for _, k := range slices.Sorted(maps.Keys(e.Detail)) {
		fmt.Fprintf(&b, "\n%s=%v", k, e.Detail[k])
	}
	return title, b.String()
}

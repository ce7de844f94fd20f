package audit

import (
	"log/slog"

	"github.com/benaskins/keyring/internal/event"
)

var eventActions = map[event.Kind]Action{
	event.ListChanged:     ActionListChanged,
	event.DefaultChanged:  ActionDefaultChanged,
	event.KeychainChanged: ActionKeychainChanged,
}

// Notifier records keychain events in the audit log.
type Notifier struct {
	audit *Logger
	actor string
}

func NewNotifier(auditLog *Logger, actor string) *Notifier {
	return &Notifier{audit: auditLog, actor: actor}
}

func (n *Notifier) Post(e event.Event) {
	action, ok := eventActions[e.Kind]
	if !ok {
		return
	}
	entry := Entry{Timestamp: e.Time, Action: action, Actor: n.actor}
	if !e.Keychain.IsZero() {
		entry.Keychain = e.Keychain.String()
	}
	if err := n.audit.Log(entry); err != nil {
		slog.Warn("audit write failed", "component", "audit", "action", action, "error", err)
	}
}

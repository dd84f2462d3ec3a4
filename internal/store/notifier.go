package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/darpa-sail-on/docsearch/internal/searchindex"
	"github.com/darpa-sail-on/docsearch/pkg/kafka"
)

// IndexReloaded is published after an instance swaps in a new build so
// that peers serving the same projects reload too.
type IndexReloaded struct {
	Project  string            `json:"project"`
	Checksum string            `json:"checksum"`
	Stats    searchindex.Stats `json:"stats"`
	Instance string            `json:"instance"`
	At       time.Time         `json:"at"`
}

type remoteKey struct{}

// Notifier broadcasts local reloads and applies reloads announced by peers.
type Notifier struct {
	publisher kafka.Publisher
	catalog   *Catalog
	instance  string
	logger    *slog.Logger
}

func NewNotifier(publisher kafka.Publisher, catalog *Catalog, instance string) *Notifier {
	return &Notifier{
		publisher: publisher,
		catalog:   catalog,
		instance:  instance,
		logger:    slog.Default().With("component", "reload-notifier", "instance", instance),
	}
}

// Hook publishes swapped builds. Reloads triggered by a peer's event are
// not re-announced.
func (n *Notifier) Hook() ReloadHook {
	return func(ctx context.Context, ev ReloadEvent) {
		if ev.Status != StatusSwapped || ctx.Value(remoteKey{}) != nil {
			return
		}
		msg := IndexReloaded{
			Project:  ev.Project,
			Checksum: ev.Checksum,
			Stats:    ev.Stats,
			Instance: n.instance,
			At:       ev.At.UTC(),
		}
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := n.publisher.Publish(pubCtx, kafka.Event{Key: ev.Project, Value: msg}); err != nil {
			n.logger.Warn("failed to announce reload", "project", ev.Project, "error", err)
		}
	}
}

// Handle is the kafka.MessageHandler for the reload topic.
func (n *Notifier) Handle(ctx context.Context, _ []byte, value []byte) error {
	msg, err := kafka.DecodeJSON[IndexReloaded](value)
	if err != nil {
		// A malformed message can never succeed; drop it.
		n.logger.Error("dropping malformed reload event", "error", err)
		return nil
	}
	if msg.Instance == n.instance {
		return nil
	}
	s, err := n.catalog.Get(msg.Project)
	if err != nil {
		n.logger.Debug("reload event for unknown project", "project", msg.Project, "from", msg.Instance)
		return nil
	}
	if s.Checksum() == msg.Checksum {
		return nil
	}
	n.logger.Info("peer reloaded index", "project", msg.Project, "from", msg.Instance, "checksum", msg.Checksum)
	if _, err := s.Reload(context.WithValue(ctx, remoteKey{}, msg.Instance)); err != nil {
		return fmt.Errorf("applying peer reload: %w", err)
	}
	return nil
}

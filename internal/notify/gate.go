// Package notify implements the notification gate: rate-limited,
// best-effort desktop alerts. Delivery never feeds back into
// enforcement decisions.
package notify

import (
	"sync"
	"time"

	"github.com/gen2brain/beeep"
	"go.uber.org/zap"

	"github.com/kernwatch/kernd/internal/config"
	"github.com/kernwatch/kernd/internal/domain"
)

const (
	// routineInterval rate-limits kill and warning alerts.
	routineInterval = 3 * time.Second

	// emergencyInterval rate-limits emergency-mode transition alerts.
	emergencyInterval = 5 * time.Second
)

// Sender delivers one notification. Swappable for tests.
type Sender func(title, body string) error

// Gate implements domain.Notifier with independent per-category rate
// limiting.
type Gate struct {
	mu        sync.Mutex
	cfg       config.NotificationConfig
	lastFired map[domain.NotifyCategory]time.Time
	send      Sender
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithSender overrides the delivery function (for tests).
func WithSender(s Sender) Option {
	return func(g *Gate) { g.send = s }
}

// WithClock overrides the time source (for tests).
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// NewGate creates a notification gate delivering via desktop
// notifications.
func NewGate(cfg config.NotificationConfig, logger *zap.Logger, opts ...Option) *Gate {
	g := &Gate{
		cfg:       cfg,
		lastFired: make(map[domain.NotifyCategory]time.Time),
		send: func(title, body string) error {
			return beeep.Notify(title, body, "")
		},
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func interval(category domain.NotifyCategory) time.Duration {
	if category == domain.NotifyEmergency {
		return emergencyInterval
	}
	return routineInterval
}

// Notify delivers an alert unless notifications are disabled, the
// category is disabled, or the category fired too recently. Delivery
// failures are swallowed.
func (g *Gate) Notify(category domain.NotifyCategory, title, body string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.cfg.Enabled {
		return
	}
	switch category {
	case domain.NotifyKill:
		if !g.cfg.ShowOnKill {
			return
		}
	case domain.NotifyProfile:
		if !g.cfg.ShowOnProfileSwitch {
			return
		}
	}

	now := g.now()
	if last, ok := g.lastFired[category]; ok && now.Sub(last) < interval(category) {
		return
	}
	g.lastFired[category] = now

	if err := g.send(title, body); err != nil {
		// Headless hosts and missing notification daemons land here.
		g.logger.Debug("notification delivery failed",
			zap.String("category", string(category)),
			zap.Error(err))
	}
}

// Ensure Gate implements domain.Notifier.
var _ domain.Notifier = (*Gate)(nil)

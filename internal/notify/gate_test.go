package notify

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/kernwatch/kernd/internal/config"
	"github.com/kernwatch/kernd/internal/domain"
)

type capture struct {
	sent []string
}

func (c *capture) send(title, body string) error {
	c.sent = append(c.sent, title)
	return nil
}

func enabledConfig() config.NotificationConfig {
	return config.NotificationConfig{
		Enabled:             true,
		ShowOnKill:          true,
		ShowOnProfileSwitch: true,
	}
}

func newTestGate(cfg config.NotificationConfig, now *time.Time) (*Gate, *capture) {
	c := &capture{}
	g := NewGate(cfg, zap.NewNop(),
		WithSender(c.send),
		WithClock(func() time.Time { return *now }))
	return g, c
}

func TestGate_RateLimit_SameCategory(t *testing.T) {
	now := time.Now()
	g, c := newTestGate(enabledConfig(), &now)

	g.Notify(domain.NotifyKill, "Process Killed", "a")
	g.Notify(domain.NotifyKill, "Process Killed", "b")
	assert.Len(t, c.sent, 1, "second alert within 3s must be dropped")

	now = now.Add(3 * time.Second)
	g.Notify(domain.NotifyKill, "Process Killed", "c")
	assert.Len(t, c.sent, 2)
}

func TestGate_EmergencyInterval_FiveSeconds(t *testing.T) {
	now := time.Now()
	g, c := newTestGate(enabledConfig(), &now)

	g.Notify(domain.NotifyEmergency, "Emergency", "hot")

	now = now.Add(4 * time.Second)
	g.Notify(domain.NotifyEmergency, "Emergency", "still hot")
	assert.Len(t, c.sent, 1, "4s is inside the 5s emergency window")

	now = now.Add(time.Second)
	g.Notify(domain.NotifyEmergency, "Emergency", "cooled")
	assert.Len(t, c.sent, 2)
}

func TestGate_CategoriesRateLimitedIndependently(t *testing.T) {
	now := time.Now()
	g, c := newTestGate(enabledConfig(), &now)

	g.Notify(domain.NotifyKill, "Process Killed", "a")
	g.Notify(domain.NotifyEmergency, "Emergency", "hot")
	g.Notify(domain.NotifyWarning, "Temperature Warning", "warm")

	assert.Len(t, c.sent, 3)
}

func TestGate_GloballyDisabled(t *testing.T) {
	now := time.Now()
	cfg := enabledConfig()
	cfg.Enabled = false
	g, c := newTestGate(cfg, &now)

	g.Notify(domain.NotifyKill, "Process Killed", "a")
	g.Notify(domain.NotifyEmergency, "Emergency", "hot")
	assert.Empty(t, c.sent)
}

func TestGate_KillCategoryDisabled(t *testing.T) {
	now := time.Now()
	cfg := enabledConfig()
	cfg.ShowOnKill = false
	g, c := newTestGate(cfg, &now)

	g.Notify(domain.NotifyKill, "Process Killed", "a")
	assert.Empty(t, c.sent)

	// Other categories unaffected.
	g.Notify(domain.NotifyWarning, "Temperature Warning", "warm")
	assert.Len(t, c.sent, 1)
}

func TestGate_ProfileCategoryDisabled(t *testing.T) {
	now := time.Now()
	cfg := enabledConfig()
	cfg.ShowOnProfileSwitch = false
	g, c := newTestGate(cfg, &now)

	g.Notify(domain.NotifyProfile, "Profile Changed", "a -> b")
	assert.Empty(t, c.sent)
}

func TestGate_DeliveryFailureSwallowed(t *testing.T) {
	now := time.Now()
	g := NewGate(enabledConfig(), zap.NewNop(),
		WithSender(func(string, string) error { return errors.New("no notification daemon") }),
		WithClock(func() time.Time { return now }))

	// Must not panic; the failure never reaches the caller.
	g.Notify(domain.NotifyKill, "Process Killed", "a")
}

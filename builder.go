package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/squishylib/database/config"
	"github.com/squishylib/database/console"
	"github.com/squishylib/database/record"
)

// Builder option paths, read from the configuration section.
const (
	KeyShouldReconnectEveryCycle = "should_reconnect_every_cycle"
	KeyReconnectCooldownMillis   = "reconnect_cooldown_millis"
	KeyWillReconnect             = "will_reconnect"
	KeyTimeBetweenRequestsMillis = "time_between_requests_millis"
	KeyMaxRequestsPending        = "max_requests_pending"
)

// backendNames are the recognized "<name>.enabled" prefixes, checked
// in this order.
var backendNames = []string{"sqlite", "mysql", "mongo"}

// Builder assembles a Database from a configuration section. Exactly
// one backend must be enabled; the matching driver package must be
// imported so it has registered itself.
type Builder struct {
	section *config.Section
	log     *console.Logger
}

func NewBuilder(section *config.Section) *Builder {
	return &Builder{
		section: section,
		log:     console.New("database"),
	}
}

// Logger replaces the logger carried by the built database and its
// driver.
func (b *Builder) Logger(log *console.Logger) *Builder {
	b.log = log
	return b
}

// Build resolves the enabled backend, constructs its driver, and wires
// the request queue and reconnect policy.
func (b *Builder) Build() (*Database, error) {
	var enabled []string
	for _, name := range backendNames {
		if b.section.GetBool(name+".enabled", false) {
			enabled = append(enabled, name)
		}
	}
	switch {
	case len(enabled) == 0:
		return nil, fmt.Errorf("%w: no backend enabled, set one of sqlite.enabled, mysql.enabled, mongo.enabled", ErrConfiguration)
	case len(enabled) > 1:
		return nil, fmt.Errorf("%w: multiple backends enabled (%s), exactly one is allowed", ErrConfiguration, strings.Join(enabled, ", "))
	}
	name := enabled[0]

	factory, ok := lookupDriver(name)
	if !ok {
		return nil, fmt.Errorf("%w: backend %q is not registered, import its driver package (registered: %s)",
			ErrConfiguration, name, strings.Join(registeredDrivers(), ", "))
	}

	driver, err := factory(b.section, b.log.Child(name))
	if err != nil {
		return nil, err
	}

	cooldown := time.Duration(b.section.GetInt64(KeyReconnectCooldownMillis, 500)) * time.Millisecond
	delay := time.Duration(b.section.GetInt64(KeyTimeBetweenRequestsMillis, 500)) * time.Millisecond
	maxPending := b.section.GetInt(KeyMaxRequestsPending, 500)

	d := &Database{
		driver:              driver,
		log:                 b.log,
		queue:               newRequestQueue(delay, maxPending, b.log),
		willReconnect:       b.section.GetBool(KeyWillReconnect, false),
		reconnectCooldown:   cooldown,
		reconnectEveryCycle: b.section.GetBool(KeyShouldReconnectEveryCycle, true),
		tables:              map[string]*record.Info{},
	}
	if d.reconnectEveryCycle {
		// Read for compatibility; no cycle-based disconnect is performed.
		d.log.Debug("%s is set, treating as informational", KeyShouldReconnectEveryCycle)
	}
	return d, nil
}

package bridge

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/museb/internal/headband"
)

// DuplicateNamePolicy decides what happens when two discovered devices share a display name.
type DuplicateNamePolicy int

const (
	// DisambiguateByID keeps the first device under its bare name and publishes
	// later duplicates as "name#id", where id is the hardware identifier.
	DisambiguateByID DuplicateNamePolicy = iota
	// LastWriteWins maps the name to the last device reported with it.
	LastWriteWins
)

func (p DuplicateNamePolicy) String() string {
	switch p {
	case DisambiguateByID:
		return "disambiguate"
	case LastWriteWins:
		return "last-write-wins"
	default:
		return fmt.Sprintf("DuplicateNamePolicy(%d)", int(p))
	}
}

// ParseDuplicateNamePolicy parses the String form.
func ParseDuplicateNamePolicy(s string) (DuplicateNamePolicy, error) {
	switch s {
	case "", "disambiguate":
		return DisambiguateByID, nil
	case "last-write-wins":
		return LastWriteWins, nil
	default:
		return 0, fmt.Errorf("invalid duplicate name policy %q (must be disambiguate or last-write-wins)", s)
	}
}

// NameSeparator joins device names in the device-list payload.
const NameSeparator = " "

// Catalog maps the published device names of the latest discovery snapshot to their handles.
type Catalog struct {
	mu      sync.RWMutex
	devices map[string]headband.Headband
	names   []string
	policy  DuplicateNamePolicy
	logger  *logrus.Logger
}

// NewCatalog creates an empty catalog.
func NewCatalog(policy DuplicateNamePolicy, logger *logrus.Logger) *Catalog {
	if logger == nil {
		logger = logrus.New()
	}
	return &Catalog{
		devices: make(map[string]headband.Headband),
		policy:  policy,
		logger:  logger,
	}
}

// Replace discards the previous snapshot, indexes devices and returns the
// published names joined by NameSeparator, in the order given.
func (c *Catalog) Replace(devices []headband.Headband) string {
	index := make(map[string]headband.Headband, len(devices))
	names := make([]string, 0, len(devices))

	for _, d := range devices {
		name := d.Name()
		if prev, taken := index[name]; taken {
			if sameDevice(prev, d) {
				continue
			}
			if c.policy == LastWriteWins {
				c.logger.WithFields(logrus.Fields{"name": name, "id": d.ID()}).Warn("Duplicate device name, last one wins")
				index[name] = d
				continue
			}

			name = name + "#" + d.ID()
			if prev, taken := index[name]; taken && sameDevice(prev, d) {
				continue
			}
			c.logger.WithFields(logrus.Fields{"name": d.Name(), "published": name}).Info("Duplicate device name, published with hardware id")
		}
		index[name] = d
		names = append(names, name)
	}

	c.mu.Lock()
	c.devices = index
	c.names = names
	c.mu.Unlock()

	return strings.Join(names, NameSeparator)
}

// sameDevice reports whether two entries of one snapshot are the same headband.
func sameDevice(a, b headband.Headband) bool {
	return a == b || (a.ID() != "" && a.ID() == b.ID())
}

// Resolve returns the handle published under name.
func (c *Catalog) Resolve(name string) (headband.Headband, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if d, ok := c.devices[name]; ok {
		return d, nil
	}
	return nil, &DeviceNotFoundError{Name: name, Known: append([]string(nil), c.names...)}
}

// Names returns the published names of the current snapshot.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.names...)
}

package Push

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"AcesFuel/Metrics"
	"AcesFuel/Models"

	"github.com/rs/zerolog"
)

// TokenStore persists device tokens keyed by token.
type TokenStore interface {
	UpsertPushToken(ctx context.Context, token *Models.PushToken) error
}

// State of a binding's sync loop.
type State int

const (
	Idle State = iota
	Syncing
)

func (s State) String() string {
	if s == Syncing {
		return "syncing"
	}
	return "idle"
}

// Binding keeps one device token attached to whichever driver is signed in
// on the device. A write happens only when the (token, name, phone,
// platform) signature differs from the last one written, and at most one
// write is in flight at a time.
type Binding struct {
	mu         sync.Mutex
	store      TokenStore
	logger     zerolog.Logger
	token      string
	platform   string
	profile    *Models.DriverProfile
	state      State
	lastSynced string
}

func NewBinding(store TokenStore, logger zerolog.Logger) *Binding {
	return &Binding{store: store, logger: logger.With().Str("component", "push_binding").Logger()}
}

// Signature identifies what a sync would write.
func Signature(token string, profile *Models.DriverProfile, platform string) string {
	var name, phone string
	if profile != nil {
		name = strings.TrimSpace(profile.Name)
		phone = strings.TrimSpace(profile.Phone)
	}
	return fmt.Sprintf("%s|%s|%s|%s", token, name, phone, platform)
}

// Register remembers the device token and syncs.
func (b *Binding) Register(ctx context.Context, token, platform string) error {
	b.mu.Lock()
	b.token = strings.TrimSpace(token)
	b.platform = strings.TrimSpace(platform)
	b.mu.Unlock()
	return b.Sync(ctx)
}

// Bind remembers the signed-in driver and syncs.
func (b *Binding) Bind(ctx context.Context, profile Models.DriverProfile) error {
	b.mu.Lock()
	b.profile = &profile
	b.mu.Unlock()
	return b.Sync(ctx)
}

// Unbind detaches the driver; the token stays registered without an owner.
func (b *Binding) Unbind(ctx context.Context) error {
	b.mu.Lock()
	b.profile = nil
	b.mu.Unlock()
	return b.Sync(ctx)
}

func (b *Binding) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Binding) LastSynced() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSynced
}

// Sync writes the current binding unless it was already written or another
// sync is running. The running sync re-checks the signature when it
// finishes, so a change made meanwhile is not lost.
func (b *Binding) Sync(ctx context.Context) error {
	b.mu.Lock()
	if b.token == "" {
		b.mu.Unlock()
		return nil
	}
	if b.state == Syncing {
		b.mu.Unlock()
		Metrics.IncPushSync("in_flight")
		return nil
	}
	b.state = Syncing
	b.mu.Unlock()

	for wrote := false; ; wrote = true {
		b.mu.Lock()
		signature := Signature(b.token, b.profile, b.platform)
		if signature == b.lastSynced {
			b.state = Idle
			b.mu.Unlock()
			if !wrote {
				Metrics.IncPushSync("unchanged")
			}
			return nil
		}
		record := b.recordLocked()
		b.mu.Unlock()

		if err := b.store.UpsertPushToken(ctx, record); err != nil {
			Metrics.IncPushSync("error")
			b.logger.Error().Err(err).Msg("failed to sync push token")
			b.mu.Lock()
			b.state = Idle
			b.mu.Unlock()
			return fmt.Errorf("sync push token: %w", err)
		}
		Metrics.IncPushSync("ok")

		b.mu.Lock()
		b.lastSynced = signature
		b.mu.Unlock()
	}
}

func (b *Binding) recordLocked() *Models.PushToken {
	record := &Models.PushToken{Token: b.token, Platform: b.platform}
	if b.profile != nil {
		if name := strings.TrimSpace(b.profile.Name); name != "" {
			record.DriverName = &name
		}
		if phone := strings.TrimSpace(b.profile.Phone); phone != "" {
			record.DriverPhone = &phone
		}
	}
	return record
}

// attach sets the token, platform and owner together so a new device is
// written once, already owned.
func (b *Binding) attach(ctx context.Context, token, platform string, profile Models.DriverProfile) error {
	b.mu.Lock()
	b.token = strings.TrimSpace(token)
	b.platform = strings.TrimSpace(platform)
	b.profile = &profile
	b.mu.Unlock()
	return b.Sync(ctx)
}

// Bindings holds one binding per device token and remembers which tokens
// each signed-in driver registered, so a logout detaches all of them.
type Bindings struct {
	mu       sync.Mutex
	devices  map[string]*Binding
	owners   map[string]map[string]struct{}
	profiles map[string]Models.DriverProfile
	store    TokenStore
	logger   zerolog.Logger
}

func NewBindings(store TokenStore, logger zerolog.Logger) *Bindings {
	return &Bindings{
		devices:  make(map[string]*Binding),
		owners:   make(map[string]map[string]struct{}),
		profiles: make(map[string]Models.DriverProfile),
		store:    store,
		logger:   logger,
	}
}

func driverKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Bind remembers the driver's profile and re-syncs every device the driver
// registered. Each device is attempted; the first error is returned.
func (b *Bindings) Bind(ctx context.Context, profile Models.DriverProfile) error {
	key := driverKey(profile.Name)
	b.mu.Lock()
	b.profiles[key] = profile
	devices := b.devicesLocked(key)
	b.mu.Unlock()

	var firstErr error
	for _, device := range devices {
		if err := device.Bind(ctx, profile); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Register attaches a device token to the driver. A token previously held by
// another driver moves to this one.
func (b *Bindings) Register(ctx context.Context, profile Models.DriverProfile, token, platform string) (*Binding, error) {
	token = strings.TrimSpace(token)
	key := driverKey(profile.Name)

	b.mu.Lock()
	device, ok := b.devices[token]
	if !ok {
		device = NewBinding(b.store, b.logger)
		b.devices[token] = device
	}
	for owner, tokens := range b.owners {
		if owner != key {
			delete(tokens, token)
		}
	}
	if b.owners[key] == nil {
		b.owners[key] = make(map[string]struct{})
	}
	b.owners[key][token] = struct{}{}
	b.profiles[key] = profile
	b.mu.Unlock()

	return device, device.attach(ctx, token, platform, profile)
}

// Device returns the binding for a token, or nil.
func (b *Bindings) Device(token string) *Binding {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.devices[strings.TrimSpace(token)]
}

// Tokens lists the tokens currently attached to the driver.
func (b *Bindings) Tokens(driverName string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	tokens := make([]string, 0, len(b.owners[driverKey(driverName)]))
	for token := range b.owners[driverKey(driverName)] {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	return tokens
}

// Release unbinds every device the driver registered. The devices stay known
// without an owner, so broadcasts still reach them.
func (b *Bindings) Release(ctx context.Context, driverName string) error {
	key := driverKey(driverName)
	b.mu.Lock()
	devices := b.devicesLocked(key)
	delete(b.owners, key)
	delete(b.profiles, key)
	b.mu.Unlock()

	var firstErr error
	for _, device := range devices {
		if err := device.Unbind(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (b *Bindings) devicesLocked(key string) []*Binding {
	devices := make([]*Binding, 0, len(b.owners[key]))
	for token := range b.owners[key] {
		if device, ok := b.devices[token]; ok {
			devices = append(devices, device)
		}
	}
	return devices
}

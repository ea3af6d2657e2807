// Package policy derives the effective capability profile from the
// configured venue credentials and fans reconfiguration out to the
// components that depend on it.
package policy

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"bitget-radar/internal/bitget"
	"bitget-radar/internal/model"
	"bitget-radar/internal/ratelimit"
)

// Tier names.
const (
	TierPublic     = "public"
	TierPrivileged = "privileged"
)

// CapabilityProfile is the effective set of limits and markets for the
// current tier. Recomputed whenever credentials change.
type CapabilityProfile struct {
	Tier               string   `json:"tier"`
	MaxRPS             float64  `json:"max_rps"`
	MaxSymbolsPerGroup int      `json:"max_symbols_per_group"`
	Resolutions        []int    `json:"available_resolutions"`
	MaxHistoricalDays  int      `json:"max_historical_days"`
	Markets            []string `json:"markets"`
	BookSubscription   bool     `json:"book_subscription"`
}

// PublicProfile is the unauthenticated tier.
func PublicProfile() CapabilityProfile {
	return CapabilityProfile{
		Tier:               TierPublic,
		MaxRPS:             8,
		MaxSymbolsPerGroup: 10,
		Resolutions:        []int{60, 300, 900, 3600},
		MaxHistoricalDays:  30,
		Markets:            []string{bitget.MarketSpot, bitget.MarketUSDTM},
		BookSubscription:   false,
	}
}

// PrivilegedProfile is the tier unlocked by valid venue credentials.
func PrivilegedProfile() CapabilityProfile {
	return CapabilityProfile{
		Tier:               TierPrivileged,
		MaxRPS:             120,
		MaxSymbolsPerGroup: 100,
		Resolutions:        []int{1, 5, 15, 60, 300, 900, 3600},
		MaxHistoricalDays:  365,
		Markets:            []string{bitget.MarketSpot, bitget.MarketUSDTM, bitget.MarketCoinM, bitget.MarketUSDCM},
		BookSubscription:   true,
	}
}

// ProfileFor maps a credential triple to its capability profile.
func ProfileFor(creds bitget.Credentials) CapabilityProfile {
	if creds.Privileged() {
		return PrivilegedProfile()
	}
	return PublicProfile()
}

// SymbolSelector is the symbol manager surface the policy drives.
type SymbolSelector interface {
	Reconcile(ctx context.Context, markets []string, maxPerMarket, maxPerGroup int) error
	Groups() []model.SubscriptionGroup
}

// SessionController is the upstream session supervisor surface.
type SessionController interface {
	Reconfigure(groups []model.SubscriptionGroup, subscribeBooks bool)
}

// Manager applies credential changes atomically: validate against the
// venue, then recompute the profile and reconfigure rate limiters, symbol
// selection and upstream sessions. A failed validation rolls back to the
// previous credentials with no observable change.
type Manager struct {
	catalog  *bitget.CatalogClient
	registry *ratelimit.Registry
	symbols  SymbolSelector
	sessions SessionController
	logger   *logrus.Logger

	maxSymbolsPerMarket int

	mu      sync.RWMutex
	profile CapabilityProfile
}

// NewManager creates the policy manager with the profile implied by the
// catalog's starting credentials.
func NewManager(catalog *bitget.CatalogClient, registry *ratelimit.Registry, symbols SymbolSelector, sessions SessionController, maxSymbolsPerMarket int, logger *logrus.Logger) *Manager {
	return &Manager{
		catalog:             catalog,
		registry:            registry,
		symbols:             symbols,
		sessions:            sessions,
		logger:              logger,
		maxSymbolsPerMarket: maxSymbolsPerMarket,
		profile:             ProfileFor(catalog.Credentials()),
	}
}

// Profile returns the current capability profile.
func (m *Manager) Profile() CapabilityProfile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.profile
}

// SetCredentials validates and commits a new credential triple.
// On validation failure the previous credentials remain in effect.
func (m *Manager) SetCredentials(ctx context.Context, creds bitget.Credentials) (CapabilityProfile, error) {
	previous := m.catalog.Credentials()

	m.catalog.SetCredentials(creds)
	if _, _, err := m.catalog.TestConnection(ctx); err != nil {
		m.catalog.SetCredentials(previous)
		return m.Profile(), fmt.Errorf("credential validation failed: %w", err)
	}

	profile := ProfileFor(creds)
	if err := m.apply(ctx, profile); err != nil {
		// The selection rebuild failed; restore the previous credentials
		// and topology so the update is all-or-nothing.
		m.catalog.SetCredentials(previous)
		restoreErr := m.apply(ctx, ProfileFor(previous))
		if restoreErr != nil {
			m.logger.Errorf("rollback after failed reconfiguration also failed: %v", restoreErr)
		}
		return m.Profile(), err
	}

	m.logger.Infof("credentials updated, tier=%s", profile.Tier)
	return profile, nil
}

// ResetCredentials reverts to the public tier.
func (m *Manager) ResetCredentials(ctx context.Context) (CapabilityProfile, error) {
	m.catalog.SetCredentials(bitget.Credentials{APIKey: bitget.PublicSentinelKey})

	profile := PublicProfile()
	if err := m.apply(ctx, profile); err != nil {
		return m.Profile(), err
	}
	m.logger.Info("credentials reset to public tier")
	return profile, nil
}

// apply commits a profile: limiter base rates, working set, session topology.
func (m *Manager) apply(ctx context.Context, profile CapabilityProfile) error {
	m.registry.UpdateBaseRate(profile.MaxRPS)

	if err := m.symbols.Reconcile(ctx, profile.Markets, m.maxSymbolsPerMarket, profile.MaxSymbolsPerGroup); err != nil {
		return fmt.Errorf("reconcile working set: %w", err)
	}

	m.sessions.Reconfigure(m.symbols.Groups(), profile.BookSubscription)

	m.mu.Lock()
	m.profile = profile
	m.mu.Unlock()
	return nil
}

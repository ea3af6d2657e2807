// Package symbols selects and partitions the working set of symbols.
package symbols

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"bitget-radar/internal/model"
)

// EventType distinguishes activation events.
type EventType string

const (
	EventActivate   EventType = "activate"
	EventDeactivate EventType = "deactivate"
)

// Event announces a (symbol, market) entering or leaving the working set.
type Event struct {
	Type   EventType
	Symbol string
	Market string
}

// Catalog is the read-only oracle the manager selects from.
type Catalog interface {
	TopByVolume(ctx context.Context, market string, limit int) ([]model.SymbolMeta, error)
}

// workingSet is the immutable selection snapshot. Mutations go through
// Initialize/Reconcile, which swap the snapshot under the writer lock.
type workingSet struct {
	perMarket map[string][]model.SymbolMeta
	groups    []model.SubscriptionGroup
}

// Manager owns the working set per market and its partition into
// subscription groups.
type Manager struct {
	catalog Catalog
	logger  *logrus.Logger

	minVolume24h float64

	mu           sync.RWMutex
	markets      []string
	maxPerMarket int
	maxPerGroup  int
	current      *workingSet

	events chan Event
}

// NewManager creates a manager with an empty working set.
func NewManager(catalog Catalog, markets []string, maxPerMarket, maxPerGroup int, minVolume24h float64, logger *logrus.Logger) *Manager {
	return &Manager{
		catalog:      catalog,
		logger:       logger,
		minVolume24h: minVolume24h,
		markets:      append([]string(nil), markets...),
		maxPerMarket: maxPerMarket,
		maxPerGroup:  maxPerGroup,
		current:      &workingSet{perMarket: map[string][]model.SymbolMeta{}},
		events:       make(chan Event, 1024),
	}
}

// Events exposes the activation event stream consumed by the session
// supervisor's owner.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Initialize builds the first working set from the catalog.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.RLock()
	markets := m.markets
	maxPerMarket := m.maxPerMarket
	maxPerGroup := m.maxPerGroup
	m.mu.RUnlock()

	return m.rebuild(ctx, markets, maxPerMarket, maxPerGroup)
}

// Reconcile swaps in a new selection after a capability change. It expands
// or shrinks the market set and the per-market/per-group caps, then emits
// add/remove events for the delta.
func (m *Manager) Reconcile(ctx context.Context, markets []string, maxPerMarket, maxPerGroup int) error {
	return m.rebuild(ctx, markets, maxPerMarket, maxPerGroup)
}

// rebuild queries the catalog and atomically replaces the snapshot.
func (m *Manager) rebuild(ctx context.Context, markets []string, maxPerMarket, maxPerGroup int) error {
	next := &workingSet{perMarket: make(map[string][]model.SymbolMeta, len(markets))}

	for _, market := range markets {
		metas, err := m.catalog.TopByVolume(ctx, market, maxPerMarket)
		if err != nil {
			return fmt.Errorf("select %s symbols: %w", market, err)
		}

		selected := metas[:0:0]
		for _, meta := range metas {
			if meta.Volume24h >= m.minVolume24h {
				selected = append(selected, meta)
			}
		}
		sortMetas(selected)
		next.perMarket[market] = selected
	}

	for _, market := range markets {
		next.groups = append(next.groups, partition(market, symbolNames(next.perMarket[market]), maxPerGroup)...)
	}

	m.mu.Lock()
	previous := m.current
	m.current = next
	m.markets = append([]string(nil), markets...)
	m.maxPerMarket = maxPerMarket
	m.maxPerGroup = maxPerGroup
	m.mu.Unlock()

	m.emitDelta(previous, next)

	total := 0
	for _, metas := range next.perMarket {
		total += len(metas)
	}
	m.logger.Infof("working set rebuilt: %d symbols across %d markets, %d groups", total, len(markets), len(next.groups))
	return nil
}

// SymbolsFor returns the ordered working set of one market.
func (m *Manager) SymbolsFor(market string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return symbolNames(m.current.perMarket[market])
}

// All returns every selected SymbolMeta across markets.
func (m *Manager) All() []model.SymbolMeta {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.SymbolMeta
	for _, market := range m.markets {
		out = append(out, m.current.perMarket[market]...)
	}
	return out
}

// Meta looks a symbol up in the working set.
func (m *Manager) Meta(symbol string) (model.SymbolMeta, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, metas := range m.current.perMarket {
		for _, meta := range metas {
			if meta.Symbol == symbol {
				return meta, true
			}
		}
	}
	return model.SymbolMeta{}, false
}

// Groups returns the current subscription groups across all markets.
func (m *Manager) Groups() []model.SubscriptionGroup {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.SubscriptionGroup(nil), m.current.groups...)
}

// emitDelta publishes activation events for the snapshot difference.
// Events are best-effort: a full buffer drops the event with a warning.
func (m *Manager) emitDelta(previous, next *workingSet) {
	prevKeys := keySet(previous)
	nextKeys := keySet(next)

	for key := range nextKeys {
		if !prevKeys[key] {
			m.send(Event{Type: EventActivate, Symbol: key.symbol, Market: key.market})
		}
	}
	for key := range prevKeys {
		if !nextKeys[key] {
			m.send(Event{Type: EventDeactivate, Symbol: key.symbol, Market: key.market})
		}
	}
}

func (m *Manager) send(ev Event) {
	select {
	case m.events <- ev:
	default:
		m.logger.Warnf("symbol event buffer full, dropping %s %s/%s", ev.Type, ev.Symbol, ev.Market)
	}
}

type symbolKey struct {
	symbol string
	market string
}

func keySet(ws *workingSet) map[symbolKey]bool {
	keys := make(map[symbolKey]bool)
	for market, metas := range ws.perMarket {
		for _, meta := range metas {
			keys[symbolKey{meta.Symbol, market}] = true
		}
	}
	return keys
}

// sortMetas orders by descending 24h notional, lexicographic on ties.
func sortMetas(metas []model.SymbolMeta) {
	sort.Slice(metas, func(i, j int) bool {
		if metas[i].Volume24h != metas[j].Volume24h {
			return metas[i].Volume24h > metas[j].Volume24h
		}
		return metas[i].Symbol < metas[j].Symbol
	})
}

func symbolNames(metas []model.SymbolMeta) []string {
	names := make([]string, len(metas))
	for i, meta := range metas {
		names[i] = meta.Symbol
	}
	return names
}

// partition chunks an ordered symbol list into groups with stable ids.
func partition(market string, symbols []string, size int) []model.SubscriptionGroup {
	if size < 1 || len(symbols) == 0 {
		return nil
	}

	groups := make([]model.SubscriptionGroup, 0, (len(symbols)+size-1)/size)
	for i := 0; i < len(symbols); i += size {
		end := i + size
		if end > len(symbols) {
			end = len(symbols)
		}
		groups = append(groups, model.SubscriptionGroup{
			ID:      fmt.Sprintf("%s-%d", market, len(groups)),
			Market:  market,
			Symbols: append([]string(nil), symbols[i:end]...),
		})
	}
	return groups
}

// Package prefs stores typed display preferences on top of the store's
// key/value table and notifies listeners when they change.
package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/fentz26/dealdesk/internal/models"
	"github.com/fentz26/dealdesk/internal/store"
)

// Storage keys.
const (
	keyFontSize   = "font_size"
	keyPalette    = "palette"
	keyPanelWidth = "panel_width"
	keyCollapsed  = "collapsed"
)

// Bounds for numeric preferences.
const (
	MinFontSize   = 8
	MaxFontSize   = 32
	MinPanelWidth = 24
	MaxPanelWidth = 160
)

// Palettes lists the accepted palette names.
var Palettes = []string{"default", "light", "high-contrast"}

// ErrInvalid is returned when an update would leave preferences out of range.
var ErrInvalid = errors.New("invalid preference value")

// Defaults returns the preferences used before anything is saved.
func Defaults() models.Preferences {
	return models.Preferences{
		FontSize:   14,
		Palette:    "default",
		PanelWidth: 56,
		Collapsed:  map[string]bool{},
	}
}

// Manager reads and writes preferences.
type Manager struct {
	store store.Store

	mu   sync.Mutex
	subs map[int]chan models.Preferences
	next int
}

// NewManager creates a preferences manager.
func NewManager(s store.Store) *Manager {
	return &Manager{store: s, subs: make(map[int]chan models.Preferences)}
}

// Get loads preferences, filling unset or unparsable keys with defaults.
func (m *Manager) Get(ctx context.Context) (models.Preferences, error) {
	raw, err := m.store.ListPreferences(ctx)
	if err != nil {
		return models.Preferences{}, fmt.Errorf("load preferences: %w", err)
	}
	p := Defaults()
	if n, err := strconv.Atoi(raw[keyFontSize]); err == nil {
		p.FontSize = n
	}
	if v := raw[keyPalette]; v != "" {
		p.Palette = v
	}
	if n, err := strconv.Atoi(raw[keyPanelWidth]); err == nil {
		p.PanelWidth = n
	}
	if v := raw[keyCollapsed]; v != "" {
		collapsed := map[string]bool{}
		if err := json.Unmarshal([]byte(v), &collapsed); err == nil {
			p.Collapsed = collapsed
		}
	}
	return p, nil
}

// Update applies fn to the current preferences, validates and persists the
// result, then notifies subscribers.
func (m *Manager) Update(ctx context.Context, fn func(*models.Preferences)) (models.Preferences, error) {
	p, err := m.Get(ctx)
	if err != nil {
		return models.Preferences{}, err
	}
	fn(&p)
	if err := Validate(p); err != nil {
		return models.Preferences{}, err
	}

	collapsed, err := json.Marshal(compact(p.Collapsed))
	if err != nil {
		return models.Preferences{}, fmt.Errorf("encode collapsed: %w", err)
	}
	pairs := [][2]string{
		{keyFontSize, strconv.Itoa(p.FontSize)},
		{keyPalette, p.Palette},
		{keyPanelWidth, strconv.Itoa(p.PanelWidth)},
		{keyCollapsed, string(collapsed)},
	}
	for _, kv := range pairs {
		if err := m.store.SetPreference(ctx, kv[0], kv[1]); err != nil {
			return models.Preferences{}, fmt.Errorf("save preference %s: %w", kv[0], err)
		}
	}

	m.notify(p)
	return p, nil
}

// Replace overwrites every preference with p.
func (m *Manager) Replace(ctx context.Context, p models.Preferences) (models.Preferences, error) {
	return m.Update(ctx, func(cur *models.Preferences) { *cur = p })
}

// Validate checks preference bounds.
func Validate(p models.Preferences) error {
	if p.FontSize < MinFontSize || p.FontSize > MaxFontSize {
		return fmt.Errorf("%w: font_size %d outside %d..%d", ErrInvalid, p.FontSize, MinFontSize, MaxFontSize)
	}
	if p.PanelWidth < MinPanelWidth || p.PanelWidth > MaxPanelWidth {
		return fmt.Errorf("%w: panel_width %d outside %d..%d", ErrInvalid, p.PanelWidth, MinPanelWidth, MaxPanelWidth)
	}
	for _, name := range Palettes {
		if name == p.Palette {
			return nil
		}
	}
	return fmt.Errorf("%w: unknown palette %q", ErrInvalid, p.Palette)
}

// Subscribe returns a channel receiving every saved preference set and a
// cancel func that closes it. Slow receivers miss intermediate values.
func (m *Manager) Subscribe() (<-chan models.Preferences, func()) {
	ch := make(chan models.Preferences, 1)
	m.mu.Lock()
	id := m.next
	m.next++
	m.subs[id] = ch
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			close(ch)
		})
	}
}

func (m *Manager) notify(p models.Preferences) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- p:
		default:
		}
	}
}

func compact(flags map[string]bool) map[string]bool {
	out := make(map[string]bool, len(flags))
	for k, v := range flags {
		if v {
			out[k] = true
		}
	}
	return out
}

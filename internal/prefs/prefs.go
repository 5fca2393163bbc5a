// Package prefs holds device-wide, non-sensitive preferences.
package prefs

import (
	"context"

	"cic-sync/internal/localstore"
)

const (
	keyTheme     = "theme"
	keySound     = "sound_enabled"
	keyTour      = "tour_completed"
	keyVersion   = "app_version"
	DefaultTheme = "light"
)

// Preferences reads and writes the global store. They survive session switches
// and are never purged with user data.
type Preferences struct {
	store *localstore.NamespacedStore
}

func New(store *localstore.NamespacedStore) *Preferences {
	return &Preferences{store: store}
}

// Snapshot is every preference at once.
type Snapshot struct {
	Theme         string `json:"theme"`
	SoundEnabled  bool   `json:"soundEnabled"`
	TourCompleted bool   `json:"tourCompleted"`
	AppVersion    string `json:"appVersion,omitempty"`
}

func (p *Preferences) Theme(ctx context.Context) string {
	theme := DefaultTheme
	p.store.Get(ctx, keyTheme, &theme)
	return theme
}

func (p *Preferences) SetTheme(ctx context.Context, theme string) {
	p.store.Set(ctx, keyTheme, theme)
}

// SoundEnabled defaults to true.
func (p *Preferences) SoundEnabled(ctx context.Context) bool {
	enabled := true
	p.store.Get(ctx, keySound, &enabled)
	return enabled
}

func (p *Preferences) SetSoundEnabled(ctx context.Context, enabled bool) {
	p.store.Set(ctx, keySound, enabled)
}

func (p *Preferences) TourCompleted(ctx context.Context) bool {
	var done bool
	p.store.Get(ctx, keyTour, &done)
	return done
}

func (p *Preferences) MarkTourCompleted(ctx context.Context) {
	p.store.Set(ctx, keyTour, true)
}

// RecordVersion stores version and reports whether it differs from the last
// recorded one (first runs included).
func (p *Preferences) RecordVersion(ctx context.Context, version string) bool {
	var previous string
	p.store.Get(ctx, keyVersion, &previous)
	if previous == version {
		return false
	}
	p.store.Set(ctx, keyVersion, version)
	return true
}

func (p *Preferences) Snapshot(ctx context.Context) Snapshot {
	var version string
	p.store.Get(ctx, keyVersion, &version)
	return Snapshot{
		Theme:         p.Theme(ctx),
		SoundEnabled:  p.SoundEnabled(ctx),
		TourCompleted: p.TourCompleted(ctx),
		AppVersion:    version,
	}
}

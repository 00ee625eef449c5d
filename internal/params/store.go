// Package params mirrors the device configuration and decides when and how
// pending parameter changes reach the hardware.
package params

import (
	"fmt"
	"maps"
	"strings"

	"shutterbrainz/internal/camera"
)

// Category is a bitmask of parameter groups that need to be re-applied.
type Category int

const (
	Initialize Category = 1
	Zoom       Category = 2
	Preference Category = 4
	Mode       Category = 8
	All        Category = -1
)

func (c Category) String() string {
	if c == All {
		return "all"
	}
	if c == 0 {
		return "none"
	}
	var parts []string
	for _, n := range []struct {
		c    Category
		name string
	}{{Initialize, "init"}, {Zoom, "zoom"}, {Preference, "pref"}, {Mode, "mode"}} {
		if c&n.c != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("category(%d)", int(c))
	}
	return strings.Join(parts, "|")
}

// FlushKind is the outcome of a flush attempt.
type FlushKind int

const (
	// FlushApply means the returned plan must be applied now.
	FlushApply FlushKind = iota
	// FlushDeferred means the session is busy; retry later.
	FlushDeferred
	// FlushSuppressed means a bracketing sequence is running; nothing is written.
	FlushSuppressed
)

func (k FlushKind) String() string {
	switch k {
	case FlushApply:
		return "apply"
	case FlushDeferred:
		return "deferred"
	default:
		return "suppressed"
	}
}

// FlushDecision is returned by Store.Flush.
type FlushDecision struct {
	Kind FlushKind
	Plan Plan
}

// Store is the parameter store. It is owned by the session loop and is not safe
// for concurrent use.
type Store struct {
	pending Category
	prefs   map[string]string
	zoom    int
	mirror  camera.Parameters
}

// NewStore creates a store with the given preference values layered over Defaults.
func NewStore(prefs map[string]string) *Store {
	s := &Store{prefs: maps.Clone(Defaults), mirror: camera.NewParameters()}
	for k, v := range prefs {
		s.prefs[k] = v
	}
	return s
}

// MarkDirty records categories to apply at the next flush.
func (s *Store) MarkDirty(c Category) {
	s.pending |= c
}

// Pending returns the categories awaiting a flush.
func (s *Store) Pending() Category {
	return s.pending
}

// ClearPending drops pending work (no device is open; everything is applied on open).
func (s *Store) ClearPending() {
	s.pending = 0
}

// Flush decides what to do with the pending categories. Only FlushApply clears
// them.
func (s *Store) Flush(idle, frozen bool) FlushDecision {
	if frozen {
		return FlushDecision{Kind: FlushSuppressed}
	}
	if !idle {
		return FlushDecision{Kind: FlushDeferred}
	}
	plan := s.PlanFor(s.pending)
	s.pending = 0
	return FlushDecision{Kind: FlushApply, Plan: plan}
}

// PlanFor snapshots the desired values for an explicit category set, as used
// when the preview is (re)started.
func (s *Store) PlanFor(mask Category) Plan {
	return Plan{Mask: mask, Prefs: maps.Clone(s.prefs), Zoom: s.zoom}
}

// SetPreference stores a preference value and reports whether it changed.
func (s *Store) SetPreference(key, value string) bool {
	if old, ok := s.prefs[key]; ok && old == value {
		return false
	}
	s.prefs[key] = value
	return true
}

// Preference returns the desired value of a preference.
func (s *Store) Preference(key string) string {
	return s.prefs[key]
}

// Preferences returns a copy of every preference value.
func (s *Store) Preferences() map[string]string {
	return maps.Clone(s.prefs)
}

// RestoreDefaults resets every preference (except the preserved ones) and
// returns the values that changed.
func (s *Store) RestoreDefaults() map[string]string {
	next := maps.Clone(Defaults)
	for _, k := range preserved {
		if v, ok := s.prefs[k]; ok {
			next[k] = v
		}
	}
	changed := make(map[string]string)
	for k, v := range next {
		if s.prefs[k] != v {
			changed[k] = v
		}
	}
	s.prefs = next
	return changed
}

func (s *Store) SetZoom(v int) { s.zoom = v }
func (s *Store) Zoom() int     { return s.zoom }

// Mirror returns a copy of the last configuration read from or written to the device.
func (s *Store) Mirror() camera.Parameters {
	return s.mirror.Clone()
}

// MirrorGet returns one mirrored value.
func (s *Store) MirrorGet(key string) string {
	return s.mirror.Get(key)
}

// UpdateMirror replaces the mirror.
func (s *Store) UpdateMirror(p camera.Parameters) {
	s.mirror = p.Clone()
}

// UpdateMirrorKey changes a single mirrored key, e.g. zoom progress reports.
func (s *Store) UpdateMirrorKey(key, value string) {
	s.mirror.Set(key, value)
}

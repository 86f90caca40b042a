package platform

import (
	"fmt"
	"sort"

	"github.com/eliteGoblin/focusd/capguard/internal/domain"
)

// DefaultPlatform is used when no platform is configured.
const DefaultPlatform = "desktop"

// Profile is a platform profile that can also list its known callbacks.
type Profile interface {
	domain.PlatformProfile

	// Events returns the callback names this profile understands.
	Events() []string
}

// Registry holds all platform profiles.
type Registry struct {
	profiles map[string]Profile
}

// NewRegistry creates a registry with all built-in profiles.
func NewRegistry() *Registry {
	r := &Registry{
		profiles: make(map[string]Profile),
	}

	r.Register(NewAndroidProfile())
	r.Register(NewIOSProfile())
	r.Register(NewDesktopProfile())

	return r
}

// NewRegistryWithProfiles creates a registry with custom profiles (for testing).
func NewRegistryWithProfiles(profiles ...Profile) *Registry {
	r := &Registry{
		profiles: make(map[string]Profile),
	}
	for _, p := range profiles {
		r.Register(p)
	}
	return r
}

// Register adds a profile to the registry.
func (r *Registry) Register(p Profile) {
	r.profiles[p.ID()] = p
}

// Get returns a profile by ID.
func (r *Registry) Get(id string) (Profile, bool) {
	p, ok := r.profiles[id]
	return p, ok
}

// Resolve returns the profile for id or an error naming the known ones.
func (r *Registry) Resolve(id string) (Profile, error) {
	if p, ok := r.Get(id); ok {
		return p, nil
	}
	return nil, fmt.Errorf("unknown platform %q (known: %v)", id, r.List())
}

// List returns all profile IDs, sorted.
func (r *Registry) List() []string {
	ids := make([]string, 0, len(r.profiles))
	for id := range r.profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

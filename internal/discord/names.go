package discord

import (
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// cacheTTL controls how long a resolved name stays valid.
var cacheTTL = 5 * time.Minute

type cacheEntry struct {
	val    string
	expiry time.Time
}

// Resolver turns Discord IDs into display names with a small TTL cache
// in front of the REST API.
type Resolver struct {
	s *discordgo.Session

	mu       sync.Mutex
	users    map[string]cacheEntry
	channels map[string]cacheEntry
}

func NewResolver(s *discordgo.Session) *Resolver {
	return &Resolver{
		s:        s,
		users:    make(map[string]cacheEntry),
		channels: make(map[string]cacheEntry),
	}
}

func (r *Resolver) lookup(m map[string]cacheEntry, id string) (string, bool) {
	if e, ok := m[id]; ok {
		if time.Now().Before(e.expiry) {
			return e.val, true
		}
		delete(m, id)
	}
	return "", false
}

func (r *Resolver) store(m map[string]cacheEntry, id, val string) {
	m[id] = cacheEntry{val: val, expiry: time.Now().Add(cacheTTL)}
}

// UserName resolves a user ID to a username, or "" when unknown.
func (r *Resolver) UserName(userID string) string {
	if r.s == nil || userID == "" {
		return ""
	}
	r.mu.Lock()
	if v, ok := r.lookup(r.users, userID); ok {
		r.mu.Unlock()
		return v
	}
	r.mu.Unlock()

	if u, err := r.s.User(userID); err == nil && u != nil {
		r.mu.Lock()
		r.store(r.users, userID, u.Username)
		r.mu.Unlock()
		return u.Username
	}
	return ""
}

// ChannelName resolves a channel ID to its name, preferring the session
// state cache over the REST API.
func (r *Resolver) ChannelName(channelID string) string {
	if r.s == nil || channelID == "" {
		return ""
	}
	r.mu.Lock()
	if v, ok := r.lookup(r.channels, channelID); ok {
		r.mu.Unlock()
		return v
	}
	r.mu.Unlock()

	if r.s.State != nil {
		if c, err := r.s.State.Channel(channelID); err == nil && c != nil {
			r.mu.Lock()
			r.store(r.channels, channelID, c.Name)
			r.mu.Unlock()
			return c.Name
		}
	}
	if c, err := r.s.Channel(channelID); err == nil && c != nil {
		r.mu.Lock()
		r.store(r.channels, channelID, c.Name)
		r.mu.Unlock()
		return c.Name
	}
	return ""
}

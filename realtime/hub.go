// Package realtime pushes achievement unlock events to connected players.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gtcompanion/achievement-engine/achievement"
)

const EventAchievementsUnlocked = "achievements_unlocked"

// Event is one message on a player's stream.
type Event struct {
	Type         string                `json:"type"`
	UserID       int64                 `json:"userId"`
	GameID       int64                 `json:"gameId"`
	Achievements []UnlockedAchievement `json:"achievements"`
	Timestamp    time.Time             `json:"timestamp"`
}

type UnlockedAchievement struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category,omitempty"`
	Points      int64     `json:"points"`
	Rarity      string    `json:"rarity,omitempty"`
	IconURL     string    `json:"iconUrl,omitempty"`
	UnlockedAt  time.Time `json:"unlockedAt"`
}

// Hub fans events out to the subscriptions of one user at a time.
type Hub struct {
	mu   sync.RWMutex
	subs map[achievement.UserID]map[int]chan Event
	next int
	log  *zap.Logger
	now  func() time.Time
}

// NewHub creates a hub. log may be nil.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		subs: make(map[achievement.UserID]map[int]chan Event),
		log:  log,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Subscribe registers a buffered channel for userID's events.
func (h *Hub) Subscribe(userID achievement.UserID, buffer int) (int, <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	id := h.next
	ch := make(chan Event, buffer)
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[int]chan Event)
	}
	h.subs[userID][id] = ch
	return id, ch
}

// Unsubscribe removes the subscription and closes its channel.
func (h *Hub) Unsubscribe(userID achievement.UserID, id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	userSubs := h.subs[userID]
	if ch, ok := userSubs[id]; ok {
		delete(userSubs, id)
		close(ch)
	}
	if len(userSubs) == 0 {
		delete(h.subs, userID)
	}
}

// Subscribers returns the number of open subscriptions for userID.
func (h *Hub) Subscribers(userID achievement.UserID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

// Publish delivers ev to every subscription of ev.UserID. Sends never block:
// a full buffer drops the event for that subscriber.
func (h *Hub) Publish(_ context.Context, ev Event) {
	// The read lock is held across sends so Unsubscribe cannot close a
	// channel mid-send.
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subs[achievement.UserID(ev.UserID)] {
		select {
		case ch <- ev:
		default:
			h.log.Warn("dropping realtime event, subscriber buffer full",
				zap.Int64("user_id", ev.UserID), zap.Int("subscription", id))
		}
	}
}

// NotifyUnlocked publishes newly unlocked achievements to the player.
func (h *Hub) NotifyUnlocked(ctx context.Context, userID achievement.UserID, gameID achievement.GameID, unlocked []achievement.UserAchievement) {
	if len(unlocked) == 0 {
		return
	}
	ev := Event{
		Type:         EventAchievementsUnlocked,
		UserID:       int64(userID),
		GameID:       int64(gameID),
		Achievements: make([]UnlockedAchievement, len(unlocked)),
		Timestamp:    h.now(),
	}
	for i, ua := range unlocked {
		a := UnlockedAchievement{
			ID:          int64(ua.Definition.ID),
			Name:        ua.Definition.Name,
			Description: ua.Definition.Description,
			Category:    ua.Definition.Category,
			Points:      ua.Definition.Points,
			Rarity:      string(ua.Definition.Rarity),
			IconURL:     ua.Definition.IconURL,
		}
		if ua.Entry.UnlockedAt != nil {
			a.UnlockedAt = *ua.Entry.UnlockedAt
		}
		ev.Achievements[i] = a
	}
	h.Publish(ctx, ev)
}

// MarshalJSON converts an event to the bytes sent on the wire.
func MarshalJSON(ev Event) []byte {
	b, _ := json.Marshal(ev)
	return b
}

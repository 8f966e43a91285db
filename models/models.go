package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// EntityType identifies one of the two entity kinds the service manages.
type EntityType string

const (
	EntityTypeStar EntityType = "star"
	EntityTypeUser EntityType = "user"
)

var ErrUnknownEntityType = errors.New("unknown entity type")

func ParseEntityType(raw string) (EntityType, error) {
	switch EntityType(raw) {
	case EntityTypeStar:
		return EntityTypeStar, nil
	case EntityTypeUser:
		return EntityTypeUser, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEntityType, raw)
}

// CacheKey is the composite key used for cache entries and popularity
// counters, eg "star:42".
func (et EntityType) CacheKey(id string) string {
	return string(et) + ":" + id
}

const (
	// MaxMessageLen matches the original message limit.
	MaxMessageLen = 280

	// DefaultBrightness is assigned to newly created stars.
	DefaultBrightness = 100.0

	// MinBrightness is the floor that decay never drops below.
	MinBrightness = 20.0

	likeBrightnessBoost = 20.0
)

var (
	ErrInvalidCoordinates = errors.New("coordinates must be between -1 and 1")
	ErrMessageTooLong     = fmt.Errorf("message exceeds %d characters", MaxMessageLen)
	ErrMissingName        = errors.New("user name is required")
	ErrMissingEmail       = errors.New("user email is required")
)

type Star struct {
	ID         string  `json:"id"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Message    string  `json:"message"`
	Brightness float64 `json:"brightness"`
	LastLiked  float64 `json:"last_liked"`
	CreatedAt  float64 `json:"created_at,omitempty"`
}

func (s *Star) Validate() error {
	if s.X < -1 || s.X > 1 || s.Y < -1 || s.Y > 1 {
		return ErrInvalidCoordinates
	}
	if len(s.Message) > MaxMessageLen {
		return ErrMessageTooLong
	}
	return nil
}

// CurrentBrightness decays the stored brightness based on how long ago the
// star was last liked. Stars that have not been liked recently dim toward
// MinBrightness but never below it.
func (s *Star) CurrentBrightness(now time.Time) float64 {
	elapsed := float64(now.UTC().Unix()) - s.LastLiked
	if elapsed <= 0 {
		return s.Brightness
	}
	decay := math.Max(0.01, 1.0-0.01*elapsed)
	return math.Max(MinBrightness, s.Brightness*math.Exp(-decay*elapsed))
}

// Like boosts brightness (capped at DefaultBrightness) and stamps LastLiked.
func (s *Star) Like(now time.Time) {
	s.Brightness = math.Min(DefaultBrightness, s.Brightness+likeBrightnessBoost)
	s.LastLiked = float64(now.UTC().Unix())
}

type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

func (u *User) Validate() error {
	if u.Name == "" {
		return ErrMissingName
	}
	if u.Email == "" {
		return ErrMissingEmail
	}
	return nil
}

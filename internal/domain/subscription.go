package domain

import "time"

// Frequency is a subscriber's preferred alert cadence.
type Frequency string

const (
	FrequencyInstant Frequency = "instant"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
)

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyInstant, FrequencyDaily, FrequencyWeekly:
		return true
	}
	return false
}

// User is an account that can subscribe to products.
type User struct {
	// ID is the external user identifier (the Telegram user id when the
	// user registered through the bot).
	ID int64 `json:"id"`

	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`

	// ChatID is the Telegram chat used to talk to this user, if any.
	ChatID int64 `json:"chat_id,omitempty"`

	// MinDropPct overrides the deployment-wide minimum drop percentage
	// required for a generic drop alert.
	MinDropPct *float64 `json:"min_drop_pct,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Subscription is the per user × product tracking state.
type Subscription struct {
	UserID    int64  `json:"user_id"`
	ProductID uint64 `json:"product_id"`

	// TargetPrice, when set, forces an alert once the price is at or below it.
	TargetPrice *float64 `json:"target_price,omitempty"`

	Paused    bool      `json:"paused"`
	Frequency Frequency `json:"frequency"`
	CreatedAt time.Time `json:"created_at"`
}

// Subscriber joins a subscription with the subscribing user.
type Subscriber struct {
	Subscription
	User User
}

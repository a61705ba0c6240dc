package domain

import "time"

// Category classifies an in-app notification.
type Category string

const (
	CategoryInfo  Category = "info"
	CategoryDrop  Category = "drop"
	CategoryRise  Category = "rise"
	CategoryError Category = "error"
)

// Severity is the drop-magnitude tier of an alert.
type Severity string

const (
	SeverityNormal Severity = "normal"
	SeverityHot    Severity = "hot"
	SeverityMega   Severity = "mega"
)

// Emoji returns the marker used in alert messages for this severity.
func (s Severity) Emoji() string {
	switch s {
	case SeverityMega:
		return "🚀"
	case SeverityHot:
		return "🔥"
	default:
		return "📉"
	}
}

// Notification is an in-app notification record. Only Read ever changes
// after creation.
type Notification struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	ProductID *uint64   `json:"product_id,omitempty"`
	Message   string    `json:"message"`
	Category  Category  `json:"category"`
	Severity  Severity  `json:"severity"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

package memtype

import "time"

// StorageFormat is how Content is encoded (§3, §4.2).
type StorageFormat string

const (
	FormatFull       StorageFormat = "full"
	FormatStructured StorageFormat = "structured"
	FormatJSON       StorageFormat = "json"
	FormatSummary    StorageFormat = "summary"
)

// Entity is an extracted entity mention (§3, §4.2).
type Entity struct {
	Type       string  `json:"type"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Memory is the atomic unit of persisted knowledge (§3).
type Memory struct {
	ID              string         `json:"id"`
	UserID          string         `json:"user_id"`
	SessionID       string         `json:"session_id,omitempty"`
	Type            Path           `json:"type"`
	Content         string         `json:"content"`
	OriginalContent string         `json:"original_content,omitempty"`
	Format          StorageFormat  `json:"storage_format"`
	Importance      float64        `json:"importance"`
	Embedding       []float32      `json:"embedding,omitempty"`
	Keywords        []string       `json:"keywords,omitempty"`
	Entities        []Entity       `json:"entities,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Clamp enforces V3 (importance bound) in place.
func (m *Memory) Clamp() {
	switch {
	case m.Importance < 0:
		m.Importance = 0
	case m.Importance > 10:
		m.Importance = 10
	}
}

// EventType enumerates the kinds of memory lifecycle events (§4.7).
type EventType string

const (
	EventCreated   EventType = "memory_created"
	EventUpdated   EventType = "memory_updated"
	EventDeleted   EventType = "memory_deleted"
	EventRetrieved EventType = "memory_retrieved"
)

// Event is a single memory lifecycle notification (§4.7).
type Event struct {
	EventType  EventType      `json:"event_type"`
	UserID     string         `json:"user_id"`
	SessionID  string         `json:"session_id,omitempty"`
	MemoryID   string         `json:"memory_id,omitempty"`
	MemoryType string         `json:"memory_type,omitempty"`
	Content    string         `json:"content,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

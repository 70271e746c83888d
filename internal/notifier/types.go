package notifier

import "time"

// Config controls the async notification pipeline.
type Config struct {
	Enabled       bool
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
	HistorySize   int
}

type HistoryItem struct {
	At     time.Time `json:"at"`
	Key    string    `json:"key"`
	ChatID int64     `json:"chat_id"`
	Text   string    `json:"text"`
}

// NotificationEvent is published on the event bus for every outcome.
type NotificationEvent struct {
	Key      string    `json:"key"`
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	Attempts int       `json:"attempts"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	Enabled bool `json:"enabled"`
	Running bool `json:"running"`
	Queued  int  `json:"queued"`
	Cap     int  `json:"cap"`
}

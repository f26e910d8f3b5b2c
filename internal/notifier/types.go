package notifier

import (
	"context"
	"time"
)

// Config controls the alert pipeline.
type Config struct {
	Enabled       bool
	QueueSize     int
	RatePerSec    float64
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	// DedupWindow suppresses repeated alerts for the same function.
	// 0 disables deduplication.
	DedupWindow time.Duration
	Telegram    TelegramConfig
}

type TelegramConfig struct {
	Token    string
	ChatID   int64
	ThreadID int
}

// Sender delivers one alert text.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, text string) error

func (f SenderFunc) Send(ctx context.Context, text string) error { return f(ctx, text) }

type HistoryItem struct {
	At       time.Time `json:"at"`
	FuncPath string    `json:"func_path"`
	Text     string    `json:"text"`
	Error    string    `json:"error,omitempty"`
}

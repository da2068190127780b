package events

import "time"

// BotRunEvent is published whenever a bot run's lifecycle status changes,
// and is the payload the edge layer streams over the bot-run SSE topic.
type BotRunEvent struct {
	AccountID string    `json:"accountId"`
	BotID     string    `json:"botId"`
	RunID     string    `json:"runId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// BotRunTopic is the per-account event topic bot-run lifecycle changes
// publish to, so each account's SSE subscriber only observes its own runs.
func BotRunTopic(accountID string) Event {
	return Event("bot_run:" + accountID)
}

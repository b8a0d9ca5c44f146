package aggregator

import "time"

// Account is a social account connected to the aggregator.
type Account struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Status string `json:"status"`
}

// StatusConnected is the only account status eligible for delivery.
const StatusConnected = "connected"

// Post types understood by the schedule endpoint.
const (
	PostTypeVideo = "video"
	PostTypeImage = "image"
)

// SchedulePayload is the body of a schedule creation request.
type SchedulePayload struct {
	AccountID   string    `json:"account_id"`
	Type        string    `json:"type"`
	MediaURLs   []string  `json:"media_urls"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	PublishAt   time.Time `json:"publish_at"`
}

// ScheduleResult is the aggregator's acknowledgement of a schedule.
type ScheduleResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

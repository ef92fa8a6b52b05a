package delivery

import "time"

// StatArticlesSent counts successful message deliveries.
const StatArticlesSent = "articles_sent"

type Record struct {
	ID          int64     `json:"id"`
	DeliveryKey string    `json:"delivery_key"`
	ArticleID   string    `json:"article_id"`
	FeedID      string    `json:"feed_id"`
	FeedURL     string    `json:"feed_url"`
	Channel     string    `json:"channel"`
	Delivered   bool      `json:"delivered"`
	StatusCode  int       `json:"status_code,omitempty"`
	Comment     string    `json:"comment,omitempty"`
	ExecutionMs int64     `json:"execution_ms"`
	AddedAt     time.Time `json:"added_at"`
}

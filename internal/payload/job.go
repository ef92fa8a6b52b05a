// Package payload turns raw delivery submissions into validated jobs.
package payload

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Key addresses a job in the durable queue and deduplicates submissions.
type Key string

// KeySeparator joins the parts of a Key. The validator rejects channel and
// article ids that contain it, so a message key always has exactly one.
const KeySeparator = "_"

// NewKey derives the key for a message delivery. It depends only on the
// destination channel and the article, so resubmitting the same article to the
// same channel always produces the same key.
func NewKey(channel, articleID string) Key {
	return Key(channel + KeySeparator + articleID)
}

func (k Key) String() string { return string(k) }

type Kind string

const (
	KindMessage  Kind = "message"
	KindAnnounce Kind = "announce"
)

type Article struct {
	ID string `json:"_id"`
}

type Feed struct {
	ID      string `json:"_id"`
	URL     string `json:"url"`
	Channel string `json:"channel"`
	GuildID string `json:"guildId,omitempty"`
}

// Request is the downstream call a job performs.
type Request struct {
	URL    string          `json:"url"`
	Method string          `json:"method"`
	Body   json.RawMessage `json:"body,omitempty"`
}

type PostAction struct {
	Type string `json:"type"`
}

// Job is one validated unit of work. Its JSON encoding is the body stored in
// the queue.
type Job struct {
	Key         Key          `json:"key"`
	Kind        Kind         `json:"kind"`
	Article     Article      `json:"article"`
	Feed        Feed         `json:"feed"`
	API         Request      `json:"api"`
	PostActions []PostAction `json:"postActions,omitempty"`
}

func (j Job) Encode() ([]byte, error) {
	return json.Marshal(j)
}

func Decode(body []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(body, &j); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	if j.Key == "" {
		return Job{}, fmt.Errorf("decode job: missing key")
	}
	return j, nil
}

// HasBody reports whether the request carries a JSON body worth sending.
func (r Request) HasBody() bool {
	b := strings.TrimSpace(string(r.Body))
	return b != "" && b != "null"
}

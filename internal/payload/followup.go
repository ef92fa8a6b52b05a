package payload

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const PostActionAnnounce = "announce"

type createdMessage struct {
	ID string `json:"id"`
}

// FollowUps derives the jobs a successful message delivery asks for. The
// response body is the created message returned by the downstream API.
// Unknown post action types are ignored.
func FollowUps(j Job, responseBody []byte, apiBase string) ([]Job, error) {
	if j.Kind != KindMessage || len(j.PostActions) == 0 {
		return nil, nil
	}

	var msg createdMessage
	if err := json.Unmarshal(responseBody, &msg); err != nil {
		return nil, fmt.Errorf("parse created message: %w", err)
	}
	if msg.ID == "" {
		return nil, fmt.Errorf("parse created message: missing id")
	}

	base := strings.TrimRight(apiBase, "/")
	var out []Job
	for _, a := range j.PostActions {
		switch a.Type {
		case PostActionAnnounce:
			out = append(out, Job{
				Key:     Key(string(j.Key) + KeySeparator + PostActionAnnounce),
				Kind:    KindAnnounce,
				Article: j.Article,
				Feed:    j.Feed,
				API: Request{
					URL:    fmt.Sprintf("%s/channels/%s/messages/%s/crosspost", base, j.Feed.Channel, msg.ID),
					Method: http.MethodPost,
				},
			})
		}
	}
	return out, nil
}

package backlog

import (
	"sort"

	"courier/internal/payload"
)

const defaultTop = 100

type Count struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Distribution ranks the pending jobs by feed and by destination channel.
type Distribution struct {
	Total     int     `json:"total"`
	ByFeedURL []Count `json:"by_feed_url"`
	ByChannel []Count `json:"by_channel"`
}

func Distribute(jobs []payload.Job, top int) Distribution {
	feeds := make(map[string]int)
	channels := make(map[string]int)
	for _, j := range jobs {
		feeds[j.Feed.URL]++
		channels[j.Feed.Channel]++
	}
	return Distribution{
		Total:     len(jobs),
		ByFeedURL: rank(feeds, top),
		ByChannel: rank(channels, top),
	}
}

func rank(counts map[string]int, top int) []Count {
	out := make([]Count, 0, len(counts))
	for k, n := range counts {
		out = append(out, Count{Key: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if top > 0 && len(out) > top {
		out = out[:top]
	}
	return out
}

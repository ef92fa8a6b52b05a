package queue

// Key layout within one queue namespace. The prefix isolates namespaces; only
// one consumer process may own a prefix at a time.
type keys struct {
	data       string // hash: job key -> JSON body
	ledger     string // list: backlog, FIFO
	processing string // list: keys waiting to be claimed by Dequeue
}

func newKeys(prefix string) keys {
	return keys{
		data:       prefix + "payload_data",
		ledger:     prefix + "payload_queue",
		processing: prefix + "payload_processing",
	}
}

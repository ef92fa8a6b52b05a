package app

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nsqio/go-nsq"

	"courier/internal/config"
)

// Ingestion attaches the ingest handler to the inbound transport.
type Ingestion interface {
	Start(h nsq.Handler) error
	Stop()
}

type nsqIngestion struct {
	cfg      *config.Config
	consumer *nsq.Consumer
}

func NewNSQIngestion(cfg *config.Config) Ingestion {
	return &nsqIngestion{cfg: cfg}
}

func (n *nsqIngestion) Start(h nsq.Handler) error {
	nsqCfg := nsq.NewConfig()
	nsqCfg.MaxInFlight = max(n.cfg.NSQMaxInFlight, 1)

	consumer, err := nsq.NewConsumer(config.TopicDeliveryEnqueue, config.ChannelCourier, nsqCfg)
	if err != nil {
		return fmt.Errorf("nsq consumer error: %w", err)
	}
	consumer.AddHandler(h)

	// Lookupd is preferred; a direct nsqd connection serves single-node setups.
	if n.cfg.NSQLookupd != "" {
		err = consumer.ConnectToNSQLookupd(n.cfg.NSQLookupd)
	} else {
		err = consumer.ConnectToNSQD(n.cfg.NSQDHost)
	}
	if err != nil {
		consumer.Stop()
		return fmt.Errorf("nsq connect error: %w", err)
	}

	n.consumer = consumer
	slog.Info("NSQ ingest consumer connected", "topic", config.TopicDeliveryEnqueue, "channel", config.ChannelCourier)
	return nil
}

func (n *nsqIngestion) Stop() {
	if n.consumer == nil {
		return
	}
	n.consumer.Stop()
	select {
	case <-n.consumer.StopChan:
	case <-time.After(10 * time.Second):
		slog.Warn("timed out waiting for NSQ consumer to stop")
	}
}

package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// JobChannel is the LISTEN/NOTIFY channel announcing newly queued jobs.
const JobChannel = "generation_jobs"

// JobListener turns PostgreSQL notifications into coalesced wake-up signals.
type JobListener struct {
	dsn     string
	channel string
	logger  Logger
	wake    chan struct{}
}

// NewJobListener builds a listener for channel using a lib/pq connection.
func NewJobListener(dsn, channel string, logger Logger) *JobListener {
	return &JobListener{dsn: dsn, channel: channel, logger: logger, wake: make(chan struct{}, 1)}
}

// Wake delivers at most one pending signal no matter how many notifications
// arrived since the last receive.
func (l *JobListener) Wake() <-chan struct{} {
	return l.wake
}

// Run listens until ctx is done. Connection loss is handled by pq's
// reconnect logic; a nil notification after reconnect also wakes the loop,
// since jobs may have been queued while disconnected.
func (l *JobListener) Run(ctx context.Context) error {
	listener := pq.NewListener(l.dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			l.logger.Warn().Err(err).Int("event", int(ev)).Msg("listener: connection event")
		}
	})
	defer listener.Close()

	if err := listener.Listen(l.channel); err != nil {
		return fmt.Errorf("listen %s: %w", l.channel, err)
	}
	l.logger.Info().Str("channel", l.channel).Msg("listener: subscribed")

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-listener.Notify:
			l.signal()
		case <-ping.C:
			if err := listener.Ping(); err != nil {
				l.logger.Warn().Err(err).Msg("listener: ping failed")
			}
		}
	}
}

func (l *JobListener) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wolfman30/medicare-plus/pkg/logging"
)

// NotifyChannel is the LISTEN/NOTIFY channel the table triggers publish on.
const NotifyChannel = "entity_changes"

// PostgresChangeFeed relays trigger notifications to in-process subscribers.
type PostgresChangeFeed struct {
	pool    *pgxpool.Pool
	logger  *logging.Logger
	feed    *broker
	backoff time.Duration
}

// NewPostgresChangeFeed builds a feed; call Run to start listening.
func NewPostgresChangeFeed(pool *pgxpool.Pool, logger *logging.Logger) *PostgresChangeFeed {
	if pool == nil {
		panic("store: pgx pool required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &PostgresChangeFeed{
		pool:    pool,
		logger:  logger.Component("changefeed"),
		feed:    newBroker(),
		backoff: 2 * time.Second,
	}
}

// Subscribe implements ChangeFeed.
func (f *PostgresChangeFeed) Subscribe(ctx context.Context, collection Collection) (<-chan ChangeEvent, error) {
	return f.feed.subscribe(ctx, collection), nil
}

// Run holds a dedicated connection listening on NotifyChannel until ctx is done,
// reconnecting after failures. Subscriptions are closed on return.
func (f *PostgresChangeFeed) Run(ctx context.Context) error {
	defer f.feed.close()
	for {
		err := f.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		f.logger.Warn("change feed connection lost", "error", err, "retry_in", f.backoff.String())
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(f.backoff):
		}
	}
}

func (f *PostgresChangeFeed) listen(ctx context.Context) error {
	conn, err := f.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("store: acquire listener: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		return fmt.Errorf("store: listen: %w", err)
	}
	f.logger.Info("change feed listening", "channel", NotifyChannel)

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		evt, err := decodeNotification(n.Payload)
		if err != nil {
			f.logger.Warn("dropping malformed change notification", "error", err, "payload", n.Payload)
			continue
		}
		f.feed.publish(evt)
	}
}

func decodeNotification(payload string) (ChangeEvent, error) {
	var evt ChangeEvent
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		return ChangeEvent{}, fmt.Errorf("decode notification: %w", err)
	}
	if evt.Collection == "" || evt.DocumentKey == "" {
		return ChangeEvent{}, errors.New("decode notification: collection and documentKey required")
	}
	switch evt.Operation {
	case OpInsert, OpUpdate, OpDelete:
	default:
		return ChangeEvent{}, fmt.Errorf("decode notification: unknown operation %q", evt.Operation)
	}
	return evt, nil
}

var _ ChangeFeed = (*PostgresChangeFeed)(nil)

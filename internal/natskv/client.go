package natskv

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	BucketLastRuns = "taskcron_last_runs"
	BucketLocks    = "taskcron_locks"
)

// Client holds the NATS connection and the KV buckets used by the scheduler.
type Client struct {
	nc       *nats.Conn
	js       jetstream.JetStream
	lastRuns jetstream.KeyValue
	locks    jetstream.KeyValue
}

// Connect dials NATS and ensures the KV buckets exist. Lock entries expire
// after lockTTL so a crashed holder cannot block cycles forever.
func Connect(ctx context.Context, natsURL string, prefix string, lockTTL time.Duration) (*Client, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("taskcron"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	setupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	lastRuns, err := js.CreateOrUpdateKeyValue(setupCtx, jetstream.KeyValueConfig{
		Bucket:  prefix + BucketLastRuns,
		Storage: jetstream.FileStorage,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating KV bucket %s: %w", prefix+BucketLastRuns, err)
	}
	locks, err := js.CreateOrUpdateKeyValue(setupCtx, jetstream.KeyValueConfig{
		Bucket:  prefix + BucketLocks,
		Storage: jetstream.FileStorage,
		TTL:     lockTTL,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating KV bucket %s: %w", prefix+BucketLocks, err)
	}
	return &Client{nc: nc, js: js, lastRuns: lastRuns, locks: locks}, nil
}

// LastRuns returns the declared-task last-run cache backed by KV.
func (c *Client) LastRuns() *LastRunCache {
	return &LastRunCache{store: NewStore(c.lastRuns)}
}

// Locker returns the advisory lock backed by KV.
func (c *Client) Locker() *Locker {
	return &Locker{store: NewStore(c.locks)}
}

// Close drains the connection.
func (c *Client) Close() error {
	return c.nc.Drain()
}

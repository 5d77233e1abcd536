package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/corebank/transaction-orchestrator/internal/interfaces"
	"github.com/corebank/transaction-orchestrator/internal/logging"
	"github.com/corebank/transaction-orchestrator/internal/models"
	"github.com/redis/rueidis"
	"go.uber.org/zap"
)

const keyPrefix = "tx:"

// Cache is a redis-backed TransactionCache. All failures degrade to a miss:
// the ledger store remains the source of truth and a broken cache must never
// break a lookup.
type Cache struct {
	client rueidis.Client
	logger *logging.Logger
}

// New connects to redis at addr and verifies the connection.
func New(addr string, logger *logging.Logger) (*Cache, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("redis: creating client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	return &Cache{client: client, logger: logger.Named("txcache")}, nil
}

func (c *Cache) Get(ctx context.Context, id string) (models.Transaction, bool) {
	resp := c.client.Do(ctx, c.client.B().Get().Key(keyPrefix+id).Build())
	if err := resp.Error(); err != nil {
		if !rueidis.IsRedisNil(err) {
			c.logger.Warn("cache get failed", zap.String("transaction_id", id), zap.Error(err))
		}
		return models.Transaction{}, false
	}

	data, err := resp.AsBytes()
	if err != nil {
		return models.Transaction{}, false
	}
	var tx models.Transaction
	if err := json.Unmarshal(data, &tx); err != nil {
		c.logger.Warn("cache entry unmarshal failed", zap.String("transaction_id", id), zap.Error(err))
		return models.Transaction{}, false
	}
	return tx, true
}

func (c *Cache) Set(ctx context.Context, tx models.Transaction, ttl time.Duration) {
	data, err := json.Marshal(tx)
	if err != nil {
		return
	}
	cmd := c.client.B().Set().Key(keyPrefix + tx.ID).Value(string(data)).Ex(ttl).Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		c.logger.Warn("cache set failed", zap.String("transaction_id", tx.ID), zap.Error(err))
	}
}

func (c *Cache) Invalidate(ctx context.Context, id string) {
	cmd := c.client.B().Del().Key(keyPrefix + id).Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		c.logger.Warn("cache invalidate failed", zap.String("transaction_id", id), zap.Error(err))
	}
}

// Close releases the underlying client.
func (c *Cache) Close() {
	c.client.Close()
}

var _ interfaces.TransactionCache = (*Cache)(nil)

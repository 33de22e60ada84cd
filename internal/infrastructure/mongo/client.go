package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aryan0dhankhar/expensetracker/internal/reliability/retry"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Client wraps a connected MongoDB client and its database
type Client struct {
	client *mongo.Client
	db     *mongo.Database
	logger *slog.Logger
}

// Connect dials MongoDB and pings it, retrying with backoff before giving up
func Connect(ctx context.Context, uri, database string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client, err := retry.Do(ctx, retry.DefaultConfig(), logger, "mongo connect", func(ctx context.Context) (*mongo.Client, error) {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		c, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
		if err != nil {
			return nil, err
		}
		if err := c.Ping(connectCtx, readpref.Primary()); err != nil {
			_ = c.Disconnect(context.Background())
			return nil, err
		}
		return c, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	logger.Info("mongodb connected", slog.String("database", database))
	return &Client{client: client, db: client.Database(database), logger: logger}, nil
}

// Collection returns a handle to the named collection
func (c *Client) Collection(name string) *mongo.Collection {
	return c.db.Collection(name)
}

// Ping checks connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

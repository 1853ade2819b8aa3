package notify

import (
	"context"
	"encoding/json"
	"log"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type RedisNotifier struct {
	client *redis.Client
}

func NewRedisNotifier(addr string, password string, db int) *RedisNotifier {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisNotifier{client: client}
}

func (n *RedisNotifier) Ping(ctx context.Context) error {
	return n.client.Ping(ctx).Err()
}

func (n *RedisNotifier) Close() error {
	return n.client.Close()
}

type changedEvent struct {
	ShopID string   `json:"shop_id"`
	Scopes []string `json:"scopes"`
	At     string   `json:"at"`
}

// DataChanged publishes fire-and-forget: a publish failure is logged and
// swallowed, the mutation it signals has already committed.
func (n *RedisNotifier) DataChanged(ctx context.Context, shopID string, scopes ...string) {
	payload, err := json.Marshal(changedEvent{
		ShopID: shopID,
		Scopes: scopes,
		At:     time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		log.Printf("[notify] WARN: marshal event: %v", err)
		return
	}
	if err := n.client.Publish(ctx, "goldbook:datachanged:"+shopID, payload).Err(); err != nil {
		log.Printf("[notify] WARN: publish datachanged for shop %s: %v", shopID, err)
	}
}

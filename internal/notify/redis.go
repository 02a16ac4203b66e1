package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"listingintel/internal/domain"
)

const defaultRecentAlerts = 100

// Redis publishes alerts on Channel and keeps the newest Keep of them in List.
type Redis struct {
	Client  *redis.Client
	Channel string
	List    string
	Keep    int64
}

func NewRedis(addr, password string, db int, channel, list string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Redis{Client: client, Channel: channel, List: list, Keep: defaultRecentAlerts}
}

func (r *Redis) Notify(ctx context.Context, alert domain.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	pipe := r.Client.TxPipeline()
	if r.Channel != "" {
		pipe.Publish(ctx, r.Channel, data)
	}
	if r.List != "" {
		keep := r.Keep
		if keep <= 0 {
			keep = defaultRecentAlerts
		}
		pipe.LPush(ctx, r.List, data)
		pipe.LTrim(ctx, r.List, 0, keep-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis notify: %w", err)
	}
	return nil
}

// Recent returns up to n stored alerts, newest first.
func (r *Redis) Recent(ctx context.Context, n int64) ([]domain.Alert, error) {
	if r.List == "" || n <= 0 {
		return []domain.Alert{}, nil
	}
	raw, err := r.Client.LRange(ctx, r.List, 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Alert, 0, len(raw))
	for _, item := range raw {
		var a domain.Alert
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			return nil, fmt.Errorf("decode stored alert: %w", err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *Redis) Close() error {
	return r.Client.Close()
}

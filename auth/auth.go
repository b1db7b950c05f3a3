package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var ErrNoToken = errors.New("no token available")

// TokenProvider supplies the opaque bearer token sent with every request.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

type Static string

func (s Static) Token(context.Context) (string, error) {
	return string(s), nil
}

// Redis reads a token cached under a key by the identity provider.
type Redis struct {
	client *redis.Client
	key    string
}

const defaultTokenKey = "segmentstore:token"

func NewRedis(client *redis.Client, key string) *Redis {
	if key == "" {
		key = defaultTokenKey
	}
	return &Redis{
		client: client,
		key:    key,
	}
}

func (r *Redis) Token(ctx context.Context) (string, error) {
	token, err := r.client.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%w: key %s not set", ErrNoToken, r.key)
	}
	if err != nil {
		return "", err
	}
	return token, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mizosoft/segattr/auth"
	"github.com/mizosoft/segattr/conn"
	"github.com/mizosoft/segattr/resolver"
	"github.com/mizosoft/segattr/wire"
	"go.uber.org/zap"
)

const defaultRequestTimeout = 30 * time.Second

type Options struct {
	Pool           conn.Options
	RequestTimeout time.Duration

	// Resolver and Tokens are only needed by Update. Both are owned by the caller.
	Resolver resolver.Resolver
	Tokens   auth.TokenProvider

	Logger *zap.Logger
}

func (o Options) LoggerOrNoop() *zap.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return zap.NewNop()
}

// Client performs conditional attribute updates against segment store nodes.
// It never retries: whether to re-read and retry is up to the caller.
type Client struct {
	pool     *conn.Pool
	timeout  time.Duration
	resolver resolver.Resolver
	tokens   auth.TokenProvider
	logger   *zap.SugaredLogger
}

func New(options Options) *Client {
	if options.Pool.Logger == nil {
		options.Pool.Logger = options.Logger
	}
	timeout := options.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{
		pool:     conn.NewPool(options.Pool),
		timeout:  timeout,
		resolver: options.Resolver,
		tokens:   options.Tokens,
		logger:   options.LoggerOrNoop().With(zap.String("name", "client")).Sugar(),
	}
}

// UpdateSegmentAttribute sets attribute on segment to newValue if it currently
// holds expectedValue, returning the value held after the update. The token is
// forwarded verbatim.
func (c *Client) UpdateSegmentAttribute(
	ctx context.Context,
	segment string,
	attribute uuid.UUID,
	newValue int64,
	expectedValue int64,
	endpoint wire.Endpoint,
	token string) (int64, error) {
	if err := validate(segment, newValue, endpoint); err != nil {
		return 0, err
	}

	request := wire.UpdateSegmentAttribute{
		Segment:       segment,
		Attribute:     attribute,
		NewValue:      newValue,
		ExpectedValue: expectedValue,
		Token:         token,
	}
	c.logger.Debugw("Updating segment attribute", "request", request, "endpoint", endpoint)

	channel, err := c.pool.Get(endpoint)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	pending, err := channel.Send(ctx, request)
	if err != nil {
		return 0, c.transportError(request, endpoint, err)
	}

	reply, err := pending.Await(ctx)
	if err != nil {
		return 0, c.transportError(request, endpoint, err)
	}
	return c.translate(request, reply)
}

// Update resolves the owning endpoint and the token once, then performs
// UpdateSegmentAttribute. A WrongHostError means the resolution was stale.
func (c *Client) Update(ctx context.Context, segment string, attribute uuid.UUID, newValue int64, expectedValue int64) (int64, error) {
	if c.resolver == nil || c.tokens == nil {
		return 0, fmt.Errorf("%w: Update requires a resolver and a token provider", ErrInvalidArgument)
	}

	endpoint, err := c.resolver.Resolve(ctx, segment)
	if err != nil {
		return 0, fmt.Errorf("%w: resolving segment %s: %w", ErrUnavailable, segment, err)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: retrieving token: %w", ErrUnavailable, err)
	}
	return c.UpdateSegmentAttribute(ctx, segment, attribute, newValue, expectedValue, endpoint, token)
}

func (c *Client) Close() error {
	return c.pool.CloseAll()
}

func validate(segment string, newValue int64, endpoint wire.Endpoint) error {
	if segment == "" {
		return fmt.Errorf("%w: segment name is required", ErrInvalidArgument)
	}
	if newValue == wire.ForceValue {
		return fmt.Errorf("%w: %d is reserved and cannot be set", ErrInvalidArgument, newValue)
	}
	if err := endpoint.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return nil
}

func (c *Client) transportError(request wire.UpdateSegmentAttribute, endpoint wire.Endpoint, err error) error {
	switch {
	case errors.Is(err, wire.ErrFrameTooLarge):
		return fmt.Errorf("encoding %v: %w", request, err)
	case errors.Is(err, wire.ErrProtocolViolation):
		c.logger.Errorw("Protocol violation", "request", request, "endpoint", endpoint, zap.Error(err))
		return err
	default:
		c.logger.Warnw("Segment store unavailable", "request", request, "endpoint", endpoint, zap.Error(err))
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
}

func (c *Client) translate(request wire.UpdateSegmentAttribute, reply wire.Command) (int64, error) {
	switch r := reply.(type) {
	case wire.SegmentAttributeUpdated:
		if r.Attribute != request.Attribute {
			return 0, fmt.Errorf("%w: reply for attribute %s to update of %s", ErrProtocolViolation, r.Attribute, request.Attribute)
		}
		if !r.Success {
			c.logger.Infow("Attribute precondition failed", "request", request, "actual", wire.FormatValue(r.CurrentValue))
			return 0, &PreconditionFailedError{
				Segment:   request.Segment,
				Attribute: request.Attribute,
				Expected:  request.ExpectedValue,
				Actual:    r.CurrentValue,
			}
		}
		return r.CurrentValue, nil
	case wire.Failure:
		err := failureError(r)
		c.logger.Infow("Attribute update failed", "request", request, zap.Error(err))
		return 0, err
	default:
		return 0, fmt.Errorf("%w: unexpected reply %v to %v", ErrProtocolViolation, reply.Type(), request.Type())
	}
}

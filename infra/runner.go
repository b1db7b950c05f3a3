package infra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mizosoft/segattr/auth"
	"github.com/mizosoft/segattr/client"
	"github.com/mizosoft/segattr/resolver"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

const (
	KeyAdminPort      = "segmentstore.admin.port"
	KeyToken          = "auth.token"
	KeyRedisAddr      = "auth.redis.addr"
	KeyRedisKey       = "auth.redis.key"
	KeyEtcdEndpoints  = "etcd.endpoints"
	KeyRequestTimeout = "request.timeout"

	DefaultAdminPort = 9999
)

// Flags that override config file keys when set.
var overrides = map[string]string{
	"token":          KeyToken,
	"etcd-endpoints": KeyEtcdEndpoints,
	"timeout":        KeyRequestTimeout,
	"admin-port":     KeyAdminPort,
}

// Context gives command handlers the parsed configuration and lazily built
// collaborators. Everything it opens is closed once the handler returns.
type Context struct {
	Config Config
	Logger *zap.Logger
	cliCtx *cli.Context

	tokens   auth.TokenProvider
	resolver resolver.Resolver
	client   *client.Client
	closers  []io.Closer
}

// Args returns the non-flag arguments for the current command.
func (c *Context) Args() []string {
	return c.cliCtx.Args().Slice()
}

func (c *Context) Ctx() context.Context {
	return c.cliCtx.Context
}

func (c *Context) Stdout() io.Writer {
	return c.cliCtx.App.Writer
}

func (c *Context) AdminPort() (int, error) {
	return c.Config.Int(KeyAdminPort, DefaultAdminPort)
}

// Tokens returns a static token when one is configured, otherwise one cached
// in redis.
func (c *Context) Tokens() (auth.TokenProvider, error) {
	if c.tokens != nil {
		return c.tokens, nil
	}

	if token := c.Config.String(KeyToken, ""); token != "" {
		c.tokens = auth.Static(token)
		return c.tokens, nil
	}

	addr := c.Config.String(KeyRedisAddr, "")
	if addr == "" {
		return nil, fmt.Errorf("no token configured: set %s or %s", KeyToken, KeyRedisAddr)
	}
	provider := auth.NewRedis(redis.NewClient(&redis.Options{Addr: addr}), c.Config.String(KeyRedisKey, ""))
	c.closers = append(c.closers, provider)
	c.tokens = provider
	return c.tokens, nil
}

// Resolver returns an etcd resolver when etcd endpoints are configured.
func (c *Context) Resolver() (resolver.Resolver, error) {
	if c.resolver != nil {
		return c.resolver, nil
	}

	endpoints := c.Config.List(KeyEtcdEndpoints)
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no segment store endpoint given and %s is not set", KeyEtcdEndpoints)
	}
	port, err := c.AdminPort()
	if err != nil {
		return nil, err
	}

	etcd, err := resolver.NewEtcd(resolver.EtcdOptions{
		Endpoints:   endpoints,
		DefaultPort: port,
	})
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, etcd)
	c.resolver = etcd
	return c.resolver, nil
}

// Client returns a client wired to whichever collaborators were built before
// its first call.
func (c *Context) Client() (*client.Client, error) {
	if c.client != nil {
		return c.client, nil
	}

	timeout, err := c.Config.Duration(KeyRequestTimeout, 0)
	if err != nil {
		return nil, err
	}

	c.client = client.New(client.Options{
		RequestTimeout: timeout,
		Resolver:       c.resolver,
		Tokens:         c.tokens,
		Logger:         c.Logger,
	})
	c.closers = append(c.closers, c.client)
	return c.client, nil
}

// Close closes everything in reverse order of creation.
func (c *Context) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	_ = c.Logger.Sync()
	return errors.Join(errs...)
}

// CmdWithArgs creates a command that shows argument usage in help.
func CmdWithArgs(name, argsUsage, usage string, action func(ctx *Context) error) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: argsUsage,
		Action: func(c *cli.Context) error {
			ctx, err := newContext(c)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := ctx.Close(); closeErr != nil {
					ctx.Logger.Warn("Error releasing resources", zap.Error(closeErr))
				}
			}()
			return action(ctx)
		},
	}
}

func newContext(c *cli.Context) (*Context, error) {
	config, err := ParseConfigFile(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	for flag, key := range overrides {
		if c.IsSet(flag) {
			config[key] = c.String(flag)
		}
	}

	logger, err := BuildLogger(c.String("log-file"))
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	return &Context{
		Config: config,
		Logger: logger,
		cliCtx: c,
	}, nil
}

// ClientFlags are the global flags understood by commands built with
// CmdWithArgs.
func ClientFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Value: "segattr.properties",
			Usage: "Path to a key=value config file, ignored when missing",
		},
		&cli.StringFlag{
			Name:  "token",
			Usage: "Auth token, overrides " + KeyToken,
		},
		&cli.StringFlag{
			Name:  "etcd-endpoints",
			Usage: "Comma-separated etcd endpoints, overrides " + KeyEtcdEndpoints,
		},
		&cli.StringFlag{
			Name:  "timeout",
			Usage: "Request timeout (e.g. 5s), overrides " + KeyRequestTimeout,
		},
		&cli.StringFlag{
			Name:  "admin-port",
			Usage: "Default segment store port, overrides " + KeyAdminPort,
		},
		&cli.StringFlag{
			Name:  "log-file",
			Usage: "Log output file (defaults to stderr)",
		},
	}
}

// NewClientApp builds the CLI app without running it.
func NewClientApp(name, usage string, commands ...*cli.Command) *cli.App {
	return &cli.App{
		Name:     name,
		Usage:    usage,
		Flags:    ClientFlags(),
		Commands: commands,
	}
}

// RunClient runs a CLI with subcommands and exits non-zero on error.
//
// Usage:
//
//	func main() {
//	    infra.RunClient("segattr", "Segment attribute admin tool",
//	        infra.CmdWithArgs("update-segment-attribute", "<segment> <attribute> ...", "Update an attribute",
//	            func(ctx *infra.Context) error {
//	                // ...
//	            }),
//	    )
//	}
func RunClient(name, usage string, commands ...*cli.Command) {
	app := NewClientApp(name, usage, commands...)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

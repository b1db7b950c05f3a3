package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/mizosoft/segattr/infra"
	"github.com/mizosoft/segattr/resolver"
	"github.com/mizosoft/segattr/segmentstore"
	"github.com/mizosoft/segattr/wire"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

type nodeConfig struct {
	Listen        string
	Advertise     string
	AdminListen   string
	Token         string
	DataDir       string
	Segments      []string
	Forward       map[string]string
	EtcdEndpoints []string
}

// node is a running segment store with its optional admin server.
type node struct {
	store  segmentstore.Store
	server *segmentstore.Server
	admin  *http.Server
	logger *zap.SugaredLogger

	adminAddr string
}

func main() {
	infra.RunServer("segmentstore", "Run a segment store node", flags(), func(c *cli.Context, logger *zap.Logger) (io.Closer, error) {
		forward, err := infra.ParseAddressList(c.String("forward"))
		if err != nil {
			return nil, fmt.Errorf("parsing --forward: %w", err)
		}
		return startNode(c.Context, nodeConfig{
			Listen:        c.String("listen"),
			Advertise:     c.String("advertise"),
			AdminListen:   c.String("admin-listen"),
			Token:         c.String("token"),
			DataDir:       c.String("data-dir"),
			Segments:      infra.ParseList(c.String("segments")),
			Forward:       forward,
			EtcdEndpoints: infra.ParseList(c.String("etcd-endpoints")),
		}, logger)
	})
}

func flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "listen",
			Value: fmt.Sprintf("127.0.0.1:%d", infra.DefaultAdminPort),
			Usage: "Address serving the segment store protocol",
		},
		&cli.StringFlag{
			Name:  "advertise",
			Usage: "host[:port] registered in etcd, required when listening on a wildcard address",
		},
		&cli.StringFlag{
			Name:  "admin-listen",
			Usage: "HTTP address of the admin API (e.g., :8080), disabled when empty",
		},
		&cli.StringFlag{
			Name:  "token",
			Usage: "Token required on every request, no check when empty",
		},
		&cli.StringFlag{
			Name:  "data-dir",
			Usage: "Badger directory, segments are kept in memory when empty",
		},
		&cli.StringFlag{
			Name:  "segments",
			Usage: "Comma-separated segments to create on startup",
		},
		&cli.StringFlag{
			Name:  "forward",
			Usage: "Segments owned by other nodes (e.g., scope/s/0.#epoch.0=host:9999,...)",
		},
		&cli.StringFlag{
			Name:  "etcd-endpoints",
			Usage: "Comma-separated etcd endpoints to register owned segments with",
		},
	}
}

func startNode(ctx context.Context, config nodeConfig, logger *zap.Logger) (*node, error) {
	var store segmentstore.Store
	if config.DataDir != "" {
		if err := os.MkdirAll(config.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		badgerStore, err := segmentstore.OpenBadgerStore(config.DataDir, logger)
		if err != nil {
			return nil, err
		}
		store = badgerStore
	} else {
		store = segmentstore.NewMemoryStore(logger)
	}

	n := &node{
		store:  store,
		logger: logger.With(zap.String("name", "node")).Sugar(),
	}
	if err := n.start(ctx, config, logger); err != nil {
		n.Close()
		return nil, err
	}
	return n, nil
}

func (n *node) start(ctx context.Context, config nodeConfig, logger *zap.Logger) error {
	for _, segment := range config.Segments {
		if err := n.store.CreateSegment(segment); err != nil && !errors.Is(err, segmentstore.ErrSegmentExists) {
			return fmt.Errorf("creating segment %s: %w", segment, err)
		}
	}

	server, err := segmentstore.Listen(n.store, segmentstore.Options{
		Address: config.Listen,
		Token:   config.Token,
		Forward: config.Forward,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("listening on %s: %w", config.Listen, err)
	}
	n.server = server

	if config.AdminListen != "" {
		listener, err := net.Listen("tcp", config.AdminListen)
		if err != nil {
			return fmt.Errorf("admin listening on %s: %w", config.AdminListen, err)
		}
		n.adminAddr = listener.Addr().String()
		n.admin = &http.Server{Handler: segmentstore.NewAdminHandler(n.store)}
		go func() {
			if err := n.admin.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				n.logger.Errorw("Admin server error", zap.Error(err))
			}
		}()
		n.logger.Infow("Admin API listening", "address", n.adminAddr)
	}

	if len(config.EtcdEndpoints) > 0 {
		advertised, err := advertisedEndpoint(config.Advertise, server.Endpoint())
		if err != nil {
			return err
		}
		if err := n.register(ctx, config.EtcdEndpoints, config.Segments, advertised); err != nil {
			return err
		}
	}
	return nil
}

// advertisedEndpoint is the endpoint other nodes and clients can reach, taking
// the bound port when advertise has none.
func advertisedEndpoint(advertise string, bound wire.Endpoint) (wire.Endpoint, error) {
	if advertise != "" {
		return wire.ParseEndpoint(advertise, bound.Port)
	}
	if ip := net.ParseIP(bound.Host); ip != nil && ip.IsUnspecified() {
		return wire.Endpoint{}, fmt.Errorf("listening on wildcard address %s, set --advertise to a routable host", bound)
	}
	return bound, nil
}

func (n *node) register(ctx context.Context, endpoints []string, segments []string, advertised wire.Endpoint) error {
	etcd, err := resolver.NewEtcd(resolver.EtcdOptions{Endpoints: endpoints})
	if err != nil {
		return err
	}
	defer etcd.Close()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for _, segment := range segments {
		if err := etcd.Register(ctx, segment, advertised); err != nil {
			return fmt.Errorf("registering segment %s: %w", segment, err)
		}
		n.logger.Infow("Registered segment", "segment", segment, "key", etcd.SegmentKey(segment), "endpoint", advertised)
	}
	return nil
}

func (n *node) Close() error {
	var errs []error
	if n.admin != nil {
		errs = append(errs, n.admin.Close())
	}
	if n.server != nil {
		errs = append(errs, n.server.Close())
	}
	errs = append(errs, n.store.Close())
	return errors.Join(errs...)
}

package infra

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// StartFunc starts a node from parsed flags. The returned closer is called on
// shutdown.
type StartFunc func(c *cli.Context, logger *zap.Logger) (io.Closer, error)

// RunServer runs a node with the given flags plus --log-file, and blocks until
// SIGINT or SIGTERM.
//
// Usage:
//
//	func main() {
//	    infra.RunServer("segmentstore", "Run a segment store node", flags, startNode)
//	}
func RunServer(name, usage string, flags []cli.Flag, start StartFunc) {
	app := &cli.App{
		Name:  name,
		Usage: usage,
		Flags: append(flags, &cli.StringFlag{
			Name:  "log-file",
			Usage: "Log output file (defaults to stderr)",
		}),
		Action: func(c *cli.Context) error {
			return runServer(c, start)
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer(c *cli.Context, start StartFunc) error {
	logger, err := BuildLogger(c.String("log-file"))
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync()

	srv, err := start(c, logger)
	if err != nil {
		return err
	}

	// Wait for interrupt signal for graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	if err := srv.Close(); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	return nil
}

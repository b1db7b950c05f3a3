package main

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/mizosoft/segattr/infra"
	"github.com/mizosoft/segattr/wire"
	"github.com/urfave/cli/v2"
)

const (
	appName  = "segattr"
	appUsage = "Administer segment attributes on segment store nodes"
)

func main() {
	infra.RunClient(appName, appUsage, commands()...)
}

func commands() []*cli.Command {
	return []*cli.Command{
		infra.CmdWithArgs("update-segment-attribute",
			"<qualified-segment-name> <attribute-id> <attribute-new-value> <attribute-old-value> [<segmentstore-endpoint>]",
			"Set an attribute if it holds the old value. Values are integers, 'none' or 'force'. "+
				"Without an endpoint the owner is looked up in etcd.",
			updateSegmentAttribute),
	}
}

func updateSegmentAttribute(ctx *infra.Context) error {
	args := ctx.Args()
	if len(args) != 4 && len(args) != 5 {
		return fmt.Errorf("expected 4 or 5 arguments, got %d", len(args))
	}

	segment := args[0]
	attribute, err := uuid.Parse(args[1])
	if err != nil {
		return fmt.Errorf("invalid attribute id %q: %w", args[1], err)
	}
	newValue, err := parseValue(args[2])
	if err != nil {
		return fmt.Errorf("invalid new value: %w", err)
	}
	oldValue, err := parseValue(args[3])
	if err != nil {
		return fmt.Errorf("invalid old value: %w", err)
	}

	tokens, err := ctx.Tokens()
	if err != nil {
		return err
	}

	var current int64
	if len(args) == 5 {
		port, err := ctx.AdminPort()
		if err != nil {
			return err
		}
		endpoint, err := wire.ParseEndpoint(args[4], port)
		if err != nil {
			return err
		}
		token, err := tokens.Token(ctx.Ctx())
		if err != nil {
			return fmt.Errorf("retrieving token: %w", err)
		}

		c, err := ctx.Client()
		if err != nil {
			return err
		}
		current, err = c.UpdateSegmentAttribute(ctx.Ctx(), segment, attribute, newValue, oldValue, endpoint, token)
		if err != nil {
			return err
		}
	} else {
		if _, err := ctx.Resolver(); err != nil {
			return err
		}
		c, err := ctx.Client()
		if err != nil {
			return err
		}
		current, err = c.Update(ctx.Ctx(), segment, attribute, newValue, oldValue)
		if err != nil {
			return err
		}
	}

	reply := wire.SegmentAttributeUpdated{Attribute: attribute, Success: true, CurrentValue: current}
	_, err = fmt.Fprintf(ctx.Stdout(), "UpdateSegmentAttribute: %v\n", reply)
	return err
}

func parseValue(s string) (int64, error) {
	switch strings.ToLower(s) {
	case "none":
		return wire.NoValue, nil
	case "force":
		return wire.ForceValue, nil
	}

	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if v == math.MinInt64 || v == math.MinInt64+1 {
		return 0, fmt.Errorf("%d is reserved, use 'none' or 'force'", v)
	}
	return v, nil
}

// Package main is the ShareKeeper owner CLI: it splits a secret across the
// storage peers and reconstructs it from them.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/atinyakov/ShareKeeper/internal/client"
	"github.com/atinyakov/ShareKeeper/internal/logger"
	"github.com/urfave/cli/v2"
)

var (
	version   string
	buildDate string
)

var flagKey *cli.StringFlag = &cli.StringFlag{
	Name:     "key",
	Aliases:  []string{"k"},
	Usage:    "secret key (hex)",
	EnvVars:  []string{"SESSION_KEY"},
	Required: true,
}

var flagPeers *cli.StringSliceFlag = &cli.StringSliceFlag{
	Name:    "peer",
	Aliases: []string{"p"},
	Usage:   "storage peer ip:port (repeat for every peer)",
	EnvVars: []string{"PEER_ADDRESSES"},
	Value:   cli.NewStringSlice("127.0.0.1:7001", "127.0.0.1:7002"),
}

var flagTimeout *cli.DurationFlag = &cli.DurationFlag{
	Name:  "timeout",
	Value: 2 * time.Second,
	Usage: "network timeout per peer",
}

var flagLogDebug *cli.BoolFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Usage: "log frames to stderr",
}

func parseHex(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid hex value %q: %w", s, err)
	}
	return uint32(v), nil
}

// newClient builds the quorum client and resolves the key flag.
func newClient(cCtx *cli.Context) (*client.Client, uint32, error) {
	key, err := parseHex(cCtx.String(flagKey.Name))
	if err != nil {
		return nil, 0, err
	}

	level := "error"
	if cCtx.Bool(flagLogDebug.Name) {
		level = "debug"
	}
	l := logger.New()
	if err := l.InitConsole(level); err != nil {
		return nil, 0, err
	}

	exchanger := client.NewExchanger(l.Log, cCtx.Duration(flagTimeout.Name))
	return client.New(exchanger, l.Log), key, nil
}

func main() {
	app := &cli.App{
		Name:    "sharekeeper",
		Usage:   "store and recover a secret split across storage peers",
		Version: fmt.Sprintf("%s (built %s)", version, buildDate),
		Flags: []cli.Flag{
			flagKey,
			flagPeers,
			flagTimeout,
			flagLogDebug,
		},
		Commands: []*cli.Command{
			{
				Name:  "get",
				Usage: "reconstruct the secret and print it as hex",
				Action: func(cCtx *cli.Context) error {
					c, key, err := newClient(cCtx)
					if err != nil {
						return err
					}
					secret, err := c.Get(context.Background(), key, cCtx.StringSlice(flagPeers.Name))
					if err != nil {
						return err
					}
					fmt.Printf("%x\n", secret)
					return nil
				},
			},
			{
				Name:      "set",
				Usage:     "split a secret across the peers",
				ArgsUsage: "<hex secret>",
				Action: func(cCtx *cli.Context) error {
					if cCtx.NArg() != 1 {
						return cli.Exit("usage: set <hex secret>", 2)
					}
					secret, err := parseHex(cCtx.Args().First())
					if err != nil {
						return err
					}
					c, key, err := newClient(cCtx)
					if err != nil {
						return err
					}
					return c.Set(context.Background(), key, cCtx.StringSlice(flagPeers.Name), secret)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

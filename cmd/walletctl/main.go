package main

import (
	"fmt"
	"os"

	"github.com/lumenwallet/custody/internal/config"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"
)

const (
	DatadirEnvVar = "CUSTODY_DATADIR"
)

var (
	version = "alpha"

	cfg *config.Config
)

var (
	datadirFlag = &cli.StringFlag{
		Name:    "datadir",
		Usage:   "Specify the data directory",
		EnvVars: []string{DatadirEnvVar},
	}
	passwordFlag = cli.StringFlag{
		Name:  "password",
		Usage: "password to unlock the wallet",
	}
	newPasswordFlag = cli.StringFlag{
		Name:  "new-password",
		Usage: "new password to encrypt the wallet secret",
	}
	privateKeyFlag = cli.StringFlag{
		Name:  "prvkey",
		Usage: "optional, hex encoded secret key to import",
	}
	toFlag = cli.StringFlag{
		Name:     "to",
		Usage:    "account id of the recipient",
		Required: true,
	}
	amountFlag = cli.Uint64Flag{
		Name:     "amount",
		Usage:    "amount to send, in the smallest unit of the asset",
		Required: true,
	}
	assetFlag = cli.StringFlag{
		Name:  "asset",
		Usage: "asset to send, native or CODE:ISSUER",
		Value: "native",
	}
	memoFlag = cli.StringFlag{
		Name:  "memo",
		Usage: "optional text memo, truncated to 28 bytes",
	}
	statusFlag = cli.StringFlag{
		Name:  "status",
		Usage: "queue status to list: pending, submitting, confirmed or failed",
		Value: "pending",
	}
	pruneFlag = cli.DurationFlag{
		Name:  "prune",
		Usage: "remove confirmed transactions older than the given duration",
	}
	frequencyFlag = cli.StringFlag{
		Name:  "frequency",
		Usage: "once, weekly, monthly or yearly",
		Value: "once",
	}
	executeAtFlag = cli.TimestampFlag{
		Name:     "at",
		Usage:    "first execution time, RFC3339",
		Layout:   "2006-01-02T15:04:05Z07:00",
		Required: true,
	}
	endAtFlag = cli.TimestampFlag{
		Name:   "until",
		Usage:  "optional, last time a recurring payment may run, RFC3339",
		Layout: "2006-01-02T15:04:05Z07:00",
	}
	idFlag = cli.StringFlag{
		Name:     "id",
		Usage:    "id of the scheduled payment",
		Required: true,
	}
)

func main() {
	app := cli.NewApp()

	app.Version = version
	app.Name = "walletctl"
	app.Usage = "command line interface for the custody wallet"
	app.Commands = append(
		app.Commands,
		&initCommand,
		&rotatePasswordCommand,
		&publicKeyCommand,
		&balanceCommand,
		&sendCommand,
		&drainCommand,
		&watchCommand,
		&queueCommand,
		&scheduleCommand,
	)
	app.Flags = []cli.Flag{
		datadirFlag,
	}

	app.Before = func(ctx *cli.Context) error {
		if datadir := ctx.String("datadir"); len(datadir) > 0 {
			viper.Set(config.Datadir, cleanAndExpandPath(datadir))
		}

		c, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("invalid config: %s", err)
		}
		log.SetLevel(log.Level(c.LogLevel))
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid config: %s", err)
		}

		cfg = c
		return nil
	}
	app.After = func(ctx *cli.Context) error {
		if cfg != nil {
			cfg.Close()
		}
		return nil
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Println(fmt.Errorf("error: %v", err))
		os.Exit(1)
	}
}

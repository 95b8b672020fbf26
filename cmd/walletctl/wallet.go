package main

import (
	"encoding/hex"
	"fmt"

	"github.com/lumenwallet/custody/internal/core/domain"
	"github.com/urfave/cli/v2"
)

var (
	initCommand = cli.Command{
		Name:   "init",
		Usage:  "Create the wallet secret, encrypted with a password",
		Action: initAction,
		Flags:  []cli.Flag{&passwordFlag, &privateKeyFlag},
	}

	rotatePasswordCommand = cli.Command{
		Name:   "rotate-password",
		Usage:  "Encrypt the wallet secret with a new password",
		Action: rotatePasswordAction,
		Flags:  []cli.Flag{&passwordFlag, &newPasswordFlag},
	}

	publicKeyCommand = cli.Command{
		Name:   "pubkey",
		Usage:  "Shows the account id of the wallet",
		Action: publicKeyAction,
	}

	balanceCommand = cli.Command{
		Name:   "balance",
		Usage:  "Shows the balances of the wallet, cached ones when offline",
		Action: balanceAction,
	}
)

func initAction(ctx *cli.Context) error {
	var secret []byte
	if prvkey := ctx.String("prvkey"); len(prvkey) > 0 {
		buf, err := hex.DecodeString(prvkey)
		if err != nil {
			return fmt.Errorf("invalid private key: %s", err)
		}
		secret = buf
		defer domain.Wipe(secret)
	}

	password, err := readNewPassword(ctx, "password")
	if err != nil {
		return err
	}
	defer domain.Wipe(password)

	publicKey, err := cfg.Wallet().Create(ctx.Context, password, secret)
	if err != nil {
		return err
	}
	return printJSON(map[string]string{"public_key": publicKey})
}

func rotatePasswordAction(ctx *cli.Context) error {
	oldPassword, err := readPassword(ctx, "password", "current password: ")
	if err != nil {
		return err
	}
	defer domain.Wipe(oldPassword)

	newPassword, err := readNewPassword(ctx, "new-password")
	if err != nil {
		return err
	}
	defer domain.Wipe(newPassword)

	return cfg.Wallet().RotatePassword(ctx.Context, oldPassword, newPassword)
}

func publicKeyAction(ctx *cli.Context) error {
	publicKey, err := cfg.Wallet().PublicKey(ctx.Context)
	if err != nil {
		return err
	}
	return printJSON(map[string]string{"public_key": publicKey})
}

func balanceAction(ctx *cli.Context) error {
	publicKey, err := cfg.Wallet().PublicKey(ctx.Context)
	if err != nil {
		return err
	}

	account, err := cfg.SyncEngine().Account(ctx.Context, publicKey)
	if err != nil {
		return err
	}

	return printJSON(map[string]interface{}{
		"public_key": account.PublicKey,
		"sequence":   account.Sequence,
		"balances":   account.Balances,
		"updated_at": account.UpdatedAt,
		"stale":      account.Stale,
	})
}

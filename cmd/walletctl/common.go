package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/lumenwallet/custody/internal/core/domain"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"
)

// readPassword returns the value of flag, or prompts for it. Callers wipe
// the returned buffer.
func readPassword(ctx *cli.Context, flag, prompt string) ([]byte, error) {
	password := []byte(ctx.String(flag))

	if len(password) == 0 {
		fmt.Print(prompt)
		var err error
		password, err = term.ReadPassword(int(syscall.Stdin))
		fmt.Println() // new line
		if err != nil {
			return nil, err
		}
	}

	return password, nil
}

// readNewPassword is like readPassword but asks twice when prompting.
func readNewPassword(ctx *cli.Context, flag string) ([]byte, error) {
	if len(ctx.String(flag)) > 0 {
		return []byte(ctx.String(flag)), nil
	}

	password, err := readPassword(ctx, flag, "choose a password: ")
	if err != nil {
		return nil, err
	}
	confirm, err := readPassword(ctx, flag, "confirm the password: ")
	if err != nil {
		domain.Wipe(password)
		return nil, err
	}
	defer domain.Wipe(confirm)

	if string(password) != string(confirm) {
		domain.Wipe(password)
		return nil, fmt.Errorf("passwords do not match")
	}
	return password, nil
}

// unlock opens the wallet session for the rest of the command.
func unlock(ctx *cli.Context) error {
	password, err := readPassword(ctx, "password", "unlock your wallet with password: ")
	if err != nil {
		return err
	}
	defer domain.Wipe(password)

	return cfg.Wallet().Unlock(ctx.Context, password)
}

func printJSON(resp interface{}) error {
	jsonBytes, err := json.MarshalIndent(resp, "", "\t")
	if err != nil {
		return err
	}

	fmt.Println(string(jsonBytes))
	return nil
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	if strings.HasPrefix(path, "~") {
		var homeDir string
		u, err := user.Current()
		if err == nil {
			homeDir = u.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	return filepath.Clean(os.ExpandEnv(path))
}

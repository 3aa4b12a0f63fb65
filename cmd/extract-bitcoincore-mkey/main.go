package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	extract "github.com/btcrecover/go-extract"
	"github.com/btcrecover/go-extract/internal/config"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

const (
	defaultName = "extract-bitcoincore-mkey"
	walletArg   = "BITCOINCORE_WALLET_FILE"

	label = "Partial Bitcoin Core encrypted master key, salt, iter_count, and crc in base64:"

	exitFailure = 1
	exitUsage   = 2
)

// UsageError is a malformed invocation, reported before any file is touched.
type UsageError struct {
	Prog string
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("usage: %s %s", e.Prog, walletArg)
}

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	prog := defaultName
	if len(args) > 0 {
		prog = filepath.Base(args[0])
	}

	app := cli.NewApp()
	app.Name = prog
	app.Usage = "extract the encrypted master key of a Bitcoin Core wallet for password recovery"
	app.ArgsUsage = walletArg
	app.HideHelp = true
	app.HideVersion = true
	app.SkipFlagParsing = true
	app.Writer = stdout
	app.ErrWriter = stderr
	// exit codes are chosen by run
	app.ExitErrHandler = func(*cli.Context, error) {}
	app.Action = func(ctx *cli.Context) error {
		path, err := walletPath(prog, ctx.Args())
		if err != nil {
			return err
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogger(prog, cfg, stderr)

		return extractMasterKey(path, cfg, stdout, stderr)
	}

	err := app.Run(args)
	if err == nil {
		return 0
	}

	var usageErr *UsageError
	if errors.As(err, &usageErr) {
		fmt.Fprintln(stderr, usageErr)
		return exitUsage
	}
	fmt.Fprintf(stderr, "%s: error: %v\n", prog, err)
	return exitFailure
}

func walletPath(prog string, args cli.Args) (string, error) {
	if args.Len() != 1 || strings.HasPrefix(args.First(), "-") {
		return "", &UsageError{Prog: prog}
	}
	return filepath.Abs(args.First())
}

func extractMasterKey(path string, cfg *config.Config, stdout, stderr io.Writer) error {
	res, err := extract.Extract(
		path,
		extract.WithTable(cfg.Table),
		extract.WithMasterKeyID(cfg.MasterKeyID),
	)
	if err != nil {
		return err
	}

	for _, w := range res.Warnings {
		log.WithField(w.Field, w.Value).Warn(w.String())
	}

	fmt.Fprintln(stderr, label)
	fmt.Fprintln(stdout, res.Artifact.String())
	return nil
}

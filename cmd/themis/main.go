// themis: command-line tool for Themis settings files
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package main

import (
	goerrors "errors"
	"fmt"
	"os"

	"github.com/agilira/themis"
	"github.com/agilira/themis/cmd/cli"
	clihelp "github.com/agilira/themis/internal/cli"
)

func main() {
	flags := themis.NewConfigFlags("themis").SetVersion(cli.Version)
	global, command := clihelp.SplitArgs(os.Args[1:], flags)

	config, err := flags.Parse(global)
	if goerrors.Is(err, themis.ErrHelpRequested) {
		flags.PrintUsage()
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "themis: %v\n", err)
		os.Exit(2)
	}

	if err := cli.NewManager(config).Run(command); err != nil {
		fmt.Fprintf(os.Stderr, "themis: %v\n", err)
		if code := themis.ErrorCodeOf(err); code != "" {
			fmt.Fprintf(os.Stderr, "code: %s\n", code)
		}
		os.Exit(1)
	}
}

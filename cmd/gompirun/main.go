// gompirun launches a local cohort: it spawns -n copies of a program with
// the rank/size/peer environment the engine expects and waits for all of
// them, exiting with the first non-zero child code.
/*
 * Copyright (c) 2024-2026, gompi authors. All rights reserved.
 */
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/fatih/color"
	"github.com/gompi/gompi/cmn"
	"github.com/urfave/cli"
	"golang.org/x/sync/errgroup"
)

var rankColors = []*color.Color{
	color.New(color.FgCyan),
	color.New(color.FgGreen),
	color.New(color.FgYellow),
	color.New(color.FgMagenta),
	color.New(color.FgBlue),
	color.New(color.FgRed),
}

func main() {
	app := cli.NewApp()
	app.Name = "gompirun"
	app.Usage = "run a gompi program as a local cohort"
	app.ArgsUsage = "program [args...]"
	app.Flags = []cli.Flag{
		cli.IntFlag{Name: "n", Value: 2, Usage: "number of processes"},
		cli.StringFlag{Name: "job", Value: "world", Usage: "job name (log files, cohort digest)"},
		cli.StringFlag{Name: "host", Value: "127.0.0.1", Usage: "host every rank binds to"},
		cli.IntFlag{Name: "base-port", Value: 29500, Usage: "rank r listens on base-port + r"},
		cli.StringFlag{Name: "settings", Usage: "settings file distributed to every rank"},
		cli.StringFlag{Name: "logdir", Usage: "log directory override"},
	}
	app.Action = run
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.NewExitError("missing program to launch", 2)
	}
	n := c.Int("n")
	if n <= 0 {
		return cli.NewExitError("-n must be positive", 2)
	}
	peers := make([]cmn.Peer, n)
	for r := range peers {
		peers[r] = cmn.Peer{Rank: r, Host: c.String("host"), Port: c.Int("base-port") + r}
	}
	peerList := cmn.FormatPeers(peers)

	var g errgroup.Group
	for r := 0; r < n; r++ {
		r := r
		g.Go(func() error {
			cmd := exec.Command(c.Args().First(), c.Args().Tail()...)
			cmd.Env = append(os.Environ(),
				cmn.EnvRank+"="+strconv.Itoa(r),
				cmn.EnvSize+"="+strconv.Itoa(n),
				cmn.EnvJob+"="+c.String("job"),
				cmn.EnvPeers+"="+peerList,
				cmn.EnvSettings+"="+c.String("settings"),
				cmn.EnvLogDir+"="+c.String("logdir"),
			)
			stdout, err := cmd.StdoutPipe()
			if err != nil {
				return err
			}
			stderr, err := cmd.StderrPipe()
			if err != nil {
				return err
			}
			if err := cmd.Start(); err != nil {
				return fmt.Errorf("rank %d: %w", r, err)
			}
			go relay(r, stdout, os.Stdout)
			go relay(r, stderr, os.Stderr)
			if err := cmd.Wait(); err != nil {
				return fmt.Errorf("rank %d: %w", r, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		code := 1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
			code = exitErr.ExitCode()
		}
		return cli.NewExitError(err.Error(), code)
	}
	return nil
}

func relay(rank int, from io.Reader, to io.Writer) {
	prefix := rankColors[rank%len(rankColors)].Sprintf("[rank %d]", rank)
	sc := bufio.NewScanner(from)
	for sc.Scan() {
		fmt.Fprintf(to, "%s %s\n", prefix, sc.Text())
	}
}

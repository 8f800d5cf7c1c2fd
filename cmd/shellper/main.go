// Command shellper is the standalone daemon that owns one PTY and serves
// it over a Unix socket (spec §4.3, §6). It is invoked by the Session
// Manager with a single positional JSON config argument.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/xhd2015/less-gen/flags"

	"github.com/xhd2015/shellper/logx"
	"github.com/xhd2015/shellper/shellperd"
)

var help = `Usage: shellper <config-json>

Spawns a PTY and serves it over a Unix socket described by the JSON config.

The JSON config has the shape:
  {"command":"...", "args":["..."], "cwd":"...", "env":{...},
   "cols":80, "rows":24, "socketPath":"...", "replayBufferLines":10000}

On success, shellper prints exactly one JSON line to stdout:
  {"pid":1234, "startTime":1700000000000}
then closes stdout and begins serving the socket.

Options:
  -h, --help   Show this help message
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "shellper: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	args, err := flags.
		Help("-h,--help", help).
		Parse(args)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		fmt.Print(help)
		return fmt.Errorf("missing config argument")
	}

	var cfg shellperd.Config
	if err := json.Unmarshal([]byte(args[0]), &cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	lg, err := logx.New("")
	if err != nil {
		return err
	}

	d, err := shellperd.New(cfg, lg)
	if err != nil {
		return err
	}
	if err := d.Start(os.Stdout); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM)
	go func() {
		<-sigCh
		d.Shutdown()
		os.Exit(0)
	}()

	return d.Serve()
}

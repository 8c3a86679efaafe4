// aacpctl manages Apple and Beats wireless earphones on Linux: per-component
// battery, noise control modes, ear detection, and per-model settings over
// the accessory's L2CAP control channel.
//
// The daemon holds the accessory session; every other subcommand talks to it
// over the control socket.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"aacpctl/internal/config"
	"aacpctl/internal/daemon"
	"aacpctl/internal/indicator"
	"aacpctl/internal/ipc"
	"aacpctl/internal/logx"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage: aacpctl <command> [args]

commands:
  daemon              run the accessory daemon
  status              print the device state as JSON
  capabilities        list the settings the connected model supports
  set <name> <value>  write a setting (value is an integer)
  mode <mode>         set noise control: off|anc|transparency|adaptive
  stem <action>       send a stem action: single|double|triple|long
  tray                run the system tray indicator

flags:
  -config <path>      config file (default ~/.config/aacpctl/config.yaml)`)
}

func main() {
	configPath := flag.String("config", config.DefaultConfigPath(), "config file path")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	logx.Configure(cfg.LogLevel)

	switch args[0] {
	case "daemon":
		err = runDaemon(cfg)
	case "status":
		err = printResponse(ipc.Call(cfg.Daemon.SocketPath, ipc.Request{Command: ipc.CmdStatus}))
	case "capabilities":
		err = printResponse(ipc.Call(cfg.Daemon.SocketPath, ipc.Request{Command: ipc.CmdCapabilities}))
	case "set":
		if len(args) != 3 {
			fmt.Fprintln(os.Stderr, "usage: aacpctl set <name> <value>")
			os.Exit(1)
		}
		var value int
		value, err = strconv.Atoi(args[2])
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: value %q is not an integer\n", args[2])
			os.Exit(1)
		}
		err = printResponse(ipc.Call(cfg.Daemon.SocketPath,
			ipc.Request{Command: ipc.CmdSet, Setting: args[1], Value: value}))
	case "mode":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "usage: aacpctl mode <off|anc|transparency|adaptive>")
			os.Exit(1)
		}
		err = printResponse(ipc.Call(cfg.Daemon.SocketPath,
			ipc.Request{Command: ipc.CmdMode, Mode: args[1]}))
	case "stem":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "usage: aacpctl stem <single|double|triple|long>")
			os.Exit(1)
		}
		err = printResponse(ipc.Call(cfg.Daemon.SocketPath,
			ipc.Request{Command: ipc.CmdStem, Action: args[1]}))
	case "tray":
		indicator.New(cfg.Daemon.SocketPath).Run()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runDaemon(cfg *config.Config) error {
	d, err := daemon.New(cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return d.Run(ctx)
}

// printResponse renders a daemon response on stdout; an error field in the
// response becomes the process error.
func printResponse(resp ipc.Response, err error) error {
	if err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("%s", resp.Error)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// Command tunl is the CLI entry point for both roles of the tunnel: "local"
// runs the client half, exposing a local TCP service through a remote
// server; "server" runs the server half, accepting control connections and
// proxying public traffic back to whichever client claimed it.
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/xtaci/tunl/internal/stats"
	"github.com/xtaci/tunl/internal/tunclient"
	"github.com/xtaci/tunl/internal/tunserver"
)

// VERSION is injected by buildflags, matching the teacher's convention.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "tunl"
	myApp.Usage = "minimalist TCP reverse tunnel"
	myApp.Version = VERSION
	myApp.Commands = []cli.Command{
		localCommand(),
		serverCommand(),
	}
	if err := myApp.Run(os.Args); err != nil {
		color.Red("%+v", err)
		os.Exit(1)
	}
}

func localCommand() cli.Command {
	return cli.Command{
		Name:      "local",
		Usage:     "expose a local TCP port through a remote tunl server",
		ArgsUsage: "<LOCAL_PORT>",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:   "to",
				Usage:  "tunl server address, host or host:port (default port 7835)",
				EnvVar: "BORE_SERVER",
			},
			cli.IntFlag{
				Name:  "port",
				Value: 0,
				Usage: "remote port to request; 0 for any free port in the server's range",
			},
			cli.StringFlag{
				Name:  "local-host",
				Value: "localhost",
				Usage: "local host the exposed service is listening on",
			},
			cli.StringFlag{
				Name:   "secret",
				Usage:  "shared secret; must match the server's --secret",
				EnvVar: "BORE_SECRET",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.NewExitError("local: exactly one LOCAL_PORT argument is required", 1)
			}
			localPort, err := parsePort(c.Args().Get(0))
			if err != nil {
				return cli.NewExitError(fmt.Sprintf("local: %v", err), 1)
			}
			if c.String("to") == "" {
				return cli.NewExitError("local: --to (or BORE_SERVER) is required", 1)
			}
			serverAddr := withDefaultPort(c.String("to"), tunserver.DefaultControlPort)
			remotePort, err := intToPort(c.Int("port"))
			if err != nil {
				return cli.NewExitError(fmt.Sprintf("local: %v", err), 1)
			}

			cl := tunclient.New(tunclient.Config{
				ServerAddr: serverAddr,
				RemotePort: remotePort,
				LocalHost:  c.String("local-host"),
				LocalPort:  localPort,
				Secret:     c.String("secret"),
			})

			if err := cl.Run(); err != nil {
				return cli.NewExitError(fmt.Sprintf("local: %+v", errors.WithStack(err)), 1)
			}
			return nil
		},
	}
}

func serverCommand() cli.Command {
	return cli.Command{
		Name:  "server",
		Usage: "accept control connections and dispatch public traffic",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "listen",
				Value: fmt.Sprintf("0.0.0.0:%d", tunserver.DefaultControlPort),
				Usage: "control port bind address",
			},
			cli.IntFlag{
				Name:  "min-port",
				Value: 1024,
				Usage: "lowest port a session may request or be assigned",
			},
			cli.IntFlag{
				Name:  "max-port",
				Value: 65535,
				Usage: "highest port a session may request or be assigned",
			},
			cli.StringFlag{
				Name:   "secret",
				Usage:  "shared secret clients must authenticate with",
				EnvVar: "BORE_SECRET",
			},
			cli.StringFlag{
				Name:  "snmplog",
				Value: "",
				Usage: "collect operational counters to a CSV file, aware of Go's time format, e.g. ./tunl-20060102.log",
			},
			cli.IntFlag{
				Name:  "snmpperiod",
				Value: 60,
				Usage: "counter collection period, in seconds",
			},
		},
		Action: func(c *cli.Context) error {
			minPort, err := intToPort(c.Int("min-port"))
			if err != nil {
				return cli.NewExitError(fmt.Sprintf("server: min-port: %v", err), 1)
			}
			maxPort, err := intToPort(c.Int("max-port"))
			if err != nil {
				return cli.NewExitError(fmt.Sprintf("server: max-port: %v", err), 1)
			}
			if maxPort < minPort {
				return cli.NewExitError("server: max-port must be >= min-port", 1)
			}

			srv := tunserver.New(tunserver.Config{
				MinPort: minPort,
				MaxPort: maxPort,
				Secret:  c.String("secret"),
			})

			go stats.Logger(stats.Default, c.String("snmplog"), c.Int("snmpperiod"))

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := srv.ListenAndServe(ctx, c.String("listen")); err != nil {
				return cli.NewExitError(fmt.Sprintf("server: %+v", errors.WithStack(err)), 1)
			}
			return nil
		},
	}
}

// parsePort parses a bare decimal port number from a positional CLI arg.
func parsePort(s string) (uint16, error) {
	p, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return intToPort(p)
}

// intToPort range-checks a flag value already parsed as an int by urfave/cli.
func intToPort(p int) (uint16, error) {
	if p < 0 || p > 65535 {
		return 0, fmt.Errorf("port %d out of range", p)
	}
	return uint16(p), nil
}

// withDefaultPort appends defaultPort to addr if addr has no port of its own.
func withDefaultPort(addr string, defaultPort int) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return fmt.Sprintf("%s:%d", addr, defaultPort)
}

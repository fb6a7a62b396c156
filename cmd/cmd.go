package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/webitel/actorcore/config"
	"github.com/webitel/actorcore/internal/handler/tui"
)

const ServiceName = "actorcore"

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

// Run builds and executes the CLI app: an urfave/cli.App with one
// subcommand per operator action.
func Run() error {
	app := &cli.App{
		Name:  ServiceName,
		Usage: "distributed actor runtime node",
		Commands: []*cli.Command{
			serverCmd(),
			nodesCmd(),
		},
	}
	return app.Run(os.Args)
}

func configFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config_file", Usage: "path to a YAML/JSON/TOML configuration file"},
		&cli.StringFlag{Name: "node_name", Usage: "logical name of this node"},
		&cli.StringFlag{Name: "listen_addr", Usage: "cluster inbound listen address (empty disables clustering)"},
		&cli.StringFlag{Name: "http_addr", Usage: "HTTP control-surface listen address"},
		&cli.StringFlag{Name: "grpc_addr", Usage: "gRPC control-surface listen address"},
		&cli.StringFlag{Name: "log_level", Usage: "slog level: debug, info, warn, error"},
		&cli.BoolFlag{Name: "consul.enabled", Usage: "enable Consul-backed peer discovery"},
		&cli.StringFlag{Name: "consul.addr", Usage: "Consul HTTP API address"},
		&cli.BoolFlag{Name: "amqp.enabled", Usage: "enable the AMQP cluster control-plane bus"},
		&cli.StringFlag{Name: "amqp.url", Usage: "AMQP broker URL"},
	}
}

// loadConfig bridges urfave/cli's parsed flags onto config.Load's pflag
// interface, only forwarding flags the operator actually set so viper's
// file/env layers beneath them are not clobbered by empty defaults.
func loadConfig(c *cli.Context) (*config.Config, error) {
	fs := config.Flags()
	boolFlags := map[string]bool{"consul.enabled": true, "amqp.enabled": true}
	for _, name := range []string{"node_name", "listen_addr", "http_addr", "grpc_addr", "log_level", "consul.enabled", "consul.addr", "amqp.enabled", "amqp.url"} {
		if !c.IsSet(name) {
			continue
		}
		value := c.String(name)
		if boolFlags[name] {
			value = strconv.FormatBool(c.Bool(name))
		}
		if err := fs.Set(name, value); err != nil {
			return nil, err
		}
	}
	return config.Load(c.String("config_file"), fs)
}

func serverCmd() *cli.Command {
	return &cli.Command{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "run a cluster node",
		Flags:   configFlags(),
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			application := NewApp(cfg)
			if err := application.Start(c.Context); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return application.Stop(shutdownCtx)
		},
	}
}

func nodesCmd() *cli.Command {
	return &cli.Command{
		Name:  "nodes",
		Usage: "live ops console over a running node's HTTP control surface",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: "http://127.0.0.1:8080", Usage: "base URL of the node's HTTP control surface"},
		},
		Action: func(c *cli.Context) error {
			return tui.NewDashboard(c.String("addr")).Run()
		},
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/guseggert/sidecar/control"
	"github.com/guseggert/sidecar/internal/config"
	"github.com/guseggert/sidecar/supervisor"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "sidecarctl",
		Usage:   "supervise a local sidecar process and control it over loopback HTTP",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file.",
				EnvVars: []string{"SIDECARCTL_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "control-addr",
				Usage: "The address of the control API. Overrides control.listen_addr.",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Log at debug level with the development encoder.",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "start the sidecar and serve the control API until interrupted",
				Action: run,
			},
			{
				Name:   "status",
				Usage:  "print the sidecar's status",
				Action: status,
			},
			{
				Name:   "info",
				Usage:  "print the host's app info",
				Action: info,
			},
			{
				Name:   "restart",
				Usage:  "restart the sidecar and wait for it to become ready",
				Action: restart,
			},
			{
				Name:   "stop",
				Usage:  "stop the sidecar without stopping the host",
				Action: stop,
			},
			{
				Name:  "logs",
				Usage: "stream the sidecar's output",
				Flags: []cli.Flag{
					&cli.Int64Flag{
						Name:  "since",
						Usage: "Only show lines after this sequence number.",
					},
				},
				Action: logs,
			},
			{
				Name:   "sweep",
				Usage:  "kill every process matching the sidecar's name",
				Action: sweep,
			},
			{
				Name:   "locate",
				Usage:  "print the sidecar executable that would be started",
				Action: locate,
			},
		},
	}
}

func loadConfig(ctx *cli.Context) (config.Config, error) {
	cfg, err := config.Load(ctx.String("config"))
	if err != nil {
		return cfg, err
	}
	if addr := ctx.String("control-addr"); addr != "" {
		cfg.Control.ListenAddr = addr
	}
	if ctx.Bool("debug") {
		cfg.Log.Level = "debug"
		cfg.Log.Development = true
	}
	return cfg, nil
}

func newLogger(cfg config.Log) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	l, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return l, nil
}

func newSupervisor(cfg config.Config, l *zap.Logger) *supervisor.Supervisor {
	opts := append(cfg.SupervisorOptions(), supervisor.WithLogger(l))
	return supervisor.New(opts...)
}

func newClient(ctx *cli.Context) (*control.Client, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	l, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	return control.NewClient(cfg.Control.ListenAddr, control.WithClientLogger(l)), nil
}

func run(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	l, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer l.Sync()
	logger := l.Sugar()

	sup := newSupervisor(cfg, l)
	defer sup.Close()

	server := control.NewServer(sup,
		control.WithListenAddr(cfg.Control.ListenAddr),
		control.WithLogger(l),
		control.WithAppInfo(ctx.App.Name, ctx.App.Version),
	)

	sigCtx, cancel := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// a failed start is logged, not fatal, so status and restart stay available
	startErr := sup.Start()
	if startErr != nil {
		logger.Errorw("failed to start sidecar", "Kind", supervisor.ErrorKind(startErr), "Error", startErr)
	}

	group, groupCtx := errgroup.WithContext(sigCtx)
	group.Go(server.Run)
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		return server.Stop()
	})
	if startErr == nil {
		group.Go(func() error {
			err := sup.WaitReady(groupCtx, cfg.Sidecar.StartupTimeout)
			switch {
			case err == nil:
				logger.Info("sidecar is ready")
			case errors.Is(err, context.Canceled):
			default:
				logger.Errorw("sidecar did not become ready", "Kind", supervisor.ErrorKind(err), "Error", err)
			}
			return nil
		})
	}
	return group.Wait()
}

func status(ctx *cli.Context) error {
	client, err := newClient(ctx)
	if err != nil {
		return err
	}
	st, err := client.Status(ctx.Context)
	if err != nil {
		return err
	}
	fmt.Printf("running: %t\nhealthy: %t\nport:    %d\n", st.Running, st.Healthy, st.Port)
	if st.Running {
		fmt.Printf("pid:     %d\nrun id:  %s\nstarted: %s\n", st.PID, st.RunID, st.StartedAt.Format(time.RFC3339))
	}
	return nil
}

func info(ctx *cli.Context) error {
	client, err := newClient(ctx)
	if err != nil {
		return err
	}
	ai, err := client.AppInfo(ctx.Context)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s (sidecar running: %t)\n", ai.Name, ai.Version, ai.SidecarRunning)
	return nil
}

func restart(ctx *cli.Context) error {
	client, err := newClient(ctx)
	if err != nil {
		return err
	}
	msg, err := client.Restart(ctx.Context)
	if err != nil {
		return err
	}
	fmt.Println(msg)
	return nil
}

func stop(ctx *cli.Context) error {
	client, err := newClient(ctx)
	if err != nil {
		return err
	}
	return client.Stop(ctx.Context)
}

func logs(ctx *cli.Context) error {
	client, err := newClient(ctx)
	if err != nil {
		return err
	}
	sigCtx, cancel := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = client.StreamLogs(sigCtx, ctx.Int64("since"), func(l supervisor.OutputLine) {
		out := os.Stdout
		if l.Stream == supervisor.StreamStderr {
			out = os.Stderr
		}
		fmt.Fprintln(out, l.Text)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func sweep(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	l, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer l.Sync()
	newSupervisor(cfg, l).Sweep()
	return nil
}

func locate(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	fmt.Println(newSupervisor(cfg, zap.NewNop()).Executable())
	return nil
}

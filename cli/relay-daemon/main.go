package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	relay "github.com/sagernet/sing-relay"
	E "github.com/sagernet/sing-relay/common/exceptions"
	"github.com/sagernet/sing-relay/common/log"
	"github.com/sagernet/sing-relay/conf"
	"github.com/sagernet/sing-relay/daemon"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const connectTimeout = 10 * time.Second

type flags struct {
	conf.Config
	Verbose    bool
	ConfigFile string
}

func main() {
	f := new(flags)

	command := &cobra.Command{
		Use:     "relay-daemon",
		Short:   "forward local connections to a tcp relay",
		Version: relay.Version,
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			run(f)
		},
	}

	command.Flags().StringVarP(&f.Server, "server", "s", "", "Set the relay server's hostname or IP. (default \"localhost\")")
	command.Flags().Uint16VarP(&f.ServerPort, "server-port", "p", 0, "Set the relay server's port number. (default 12345)")
	command.Flags().Uint16VarP(&f.LocalPort, "local-port", "l", 0, "Set the local port number. (default 1234)")
	command.Flags().IntVar(&f.ReadChunkSize, "read-chunk-size", 0, "Set the most bytes read from a connection per event. (default 1024)")
	command.Flags().StringVar(&f.LogLevel, "log-level", "", "Set the log level. (default \"info\")")
	command.Flags().StringVarP(&f.ConfigFile, "config", "c", "", "Use a configuration file.")
	command.Flags().BoolVarP(&f.Verbose, "verbose", "v", false, "Enable verbose mode.")

	err := command.Execute()
	if err != nil {
		logrus.Fatal(err)
	}
}

func run(f *flags) {
	d, err := newDaemon(f)
	if err != nil {
		logrus.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	err = d.Start(ctx)
	cancel()
	if err != nil {
		logrus.Fatal(err)
	}

	go func() {
		osSignals := make(chan os.Signal, 1)
		signal.Notify(osSignals, os.Interrupt, syscall.SIGTERM)
		<-osSignals
		d.Close()
	}()

	err = d.Run()
	if errors.Is(err, daemon.ErrRemoteClosed) {
		logrus.Info("server closed the connection")
		return
	}
	if err != nil {
		logrus.Fatal(err)
	}
}

func newDaemon(f *flags) (*daemon.Daemon, error) {
	if f.ConfigFile != "" {
		config, err := conf.Load(f.ConfigFile)
		if err != nil {
			return nil, err
		}
		f.Merge(config)
	}
	f.Merge(conf.Default())
	err := f.Validate()
	if err != nil {
		return nil, err
	}
	err = log.SetLevel(f.LogLevel)
	if err != nil {
		return nil, err
	}
	if f.Verbose {
		logrus.SetLevel(logrus.TraceLevel)
	}

	ctx := context.Background()
	server, err := conf.ResolveAddrPort(ctx, f.Server, f.ServerPort)
	if err != nil {
		return nil, E.Cause(err, "bad server address")
	}
	local, err := conf.ResolveAddrPort(ctx, conf.DefaultHost, f.LocalPort)
	if err != nil {
		return nil, E.Cause(err, "bad local address")
	}
	return daemon.New(ctx, daemon.Options{
		Listen:        local,
		Server:        server,
		Output:        os.Stdout,
		ReadChunkSize: f.ReadChunkSize,
	})
}

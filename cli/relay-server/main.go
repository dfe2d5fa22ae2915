package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	relay "github.com/sagernet/sing-relay"
	E "github.com/sagernet/sing-relay/common/exceptions"
	"github.com/sagernet/sing-relay/common/log"
	"github.com/sagernet/sing-relay/conf"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type flags struct {
	conf.Config
	Backlog    int
	Verbose    bool
	ConfigFile string
}

func main() {
	f := new(flags)

	command := &cobra.Command{
		Use:     "relay-server",
		Short:   "tcp broadcast relay",
		Version: relay.Version,
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			run(f)
		},
	}

	command.Flags().StringVarP(&f.Listen, "listen", "l", "", "Set the listen address. (default \"localhost\")")
	command.Flags().Uint16VarP(&f.ListenPort, "port", "p", 0, "Set the listen port. (default 12345)")
	command.Flags().IntVar(&f.ReadChunkSize, "read-chunk-size", 0, "Set the most bytes read from a connection per event. (default 1024)")
	command.Flags().IntVar(&f.Backlog, "backlog", 0, "Set the listen backlog. (default 128)")
	command.Flags().BoolVar(&f.ExcludeSender, "exclude-sender", false, "Do not echo data back to its sender.")
	command.Flags().StringVar(&f.LogLevel, "log-level", "", "Set the log level. (default \"info\")")
	command.Flags().StringVarP(&f.ConfigFile, "config", "c", "", "Use a configuration file.")
	command.Flags().BoolVarP(&f.Verbose, "verbose", "v", false, "Enable verbose mode.")

	err := command.Execute()
	if err != nil {
		logrus.Fatal(err)
	}
}

func run(f *flags) {
	service, err := newService(f)
	if err != nil {
		logrus.Fatal(err)
	}
	err = service.Start()
	if err != nil {
		logrus.Fatal(err)
	}

	go func() {
		osSignals := make(chan os.Signal, 1)
		signal.Notify(osSignals, os.Interrupt, syscall.SIGTERM)
		<-osSignals
		service.Close()
	}()

	err = service.Run()
	if err != nil {
		logrus.Fatal(err)
	}
	logrus.Info("server stopped")
}

func newService(f *flags) (*relay.Service, error) {
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
	listen, err := conf.ResolveAddrPort(ctx, f.Listen, f.ListenPort)
	if err != nil {
		return nil, E.Cause(err, "bad listen address")
	}
	return relay.NewService(ctx, relay.ServiceOptions{
		Listen:        listen,
		ExcludeSender: f.ExcludeSender,
		ReadChunkSize: f.ReadChunkSize,
		Backlog:       f.Backlog,
	})
}

//go:build debug

package main

import (
	"net/http"
	_ "net/http/pprof"

	"github.com/sagernet/sing-relay/common/log"
)

const pprofAddress = "127.0.0.1:8964"

func init() {
	go func() {
		logger := log.NewLogger("pprof")
		logger.Debug("serving profiles on ", pprofAddress)
		err := http.ListenAndServe(pprofAddress, nil)
		if err != nil {
			logger.Warn(err)
		}
	}()
}

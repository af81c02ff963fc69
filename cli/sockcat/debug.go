//go:build debug

package main

import (
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/sagernet/sing-socket/common/log"
)

func init() {
	address := os.Getenv("SOCKCAT_PPROF")
	if address == "" {
		address = "127.0.0.1:8964"
	}
	go func() {
		err := http.ListenAndServe(address, nil)
		if err != nil {
			log.NewLogger("pprof").Warn(err)
		}
	}()
}

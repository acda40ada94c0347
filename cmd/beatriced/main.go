// beatriced is the chat broker daemon: it accepts TCP connections,
// runs the handshake/relay state machine for each, and maintains the
// shared peer directory.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"beatrice/internal/config"
	"beatrice/internal/log"
	"beatrice/internal/server"
)

func main() {
	cfgFile := flag.String("f", "", "configuration file (TOML); defaults apply when omitted")
	flag.Parse()

	cfg := config.Default()
	if *cfgFile != "" {
		var err error
		cfg, err = config.LoadFile(*cfgFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "beatriced: load config: %v\n", err)
			os.Exit(1)
		}
	}

	backend, err := log.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "beatriced: %v\n", err)
		os.Exit(1)
	}
	logger := backend.GetLogger("beatriced")

	srv := server.New(cfg, backend)
	if err := srv.Start(); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Noticef("shutting down")
	srv.Shutdown()
}

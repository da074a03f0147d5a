package main

import (
	"net/http"
	"os"

	"watchparty/config"
	"watchparty/handlers"
	"watchparty/hub"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("main")

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Errorf("configuration error: %v", err)
		os.Exit(1)
	}

	if level, err := logging.LevelFromString(cfg.LogLevel); err != nil {
		log.Warnf("unknown LOG_LEVEL %q, using info", cfg.LogLevel)
	} else {
		logging.SetAllLoggers(level)
	}

	h := hub.New(cfg.MaxSessions, cfg.MaxParticipants)
	ws := handlers.NewWSHandler(cfg, h)

	http.HandleFunc("/ws", ws.ServeWS)
	http.HandleFunc("/healthz", handlers.ServeHealth(h))

	log.Infof("🎬 watch party server starting on %s", cfg.ServerAddr)
	log.Infof("accepting protocol versions %d through %d", cfg.MinProtocolVersion, cfg.MaxProtocolVersion)

	if err := http.ListenAndServe(cfg.ServerAddr, nil); err != nil {
		log.Errorf("listen: %v", err)
		os.Exit(1)
	}
}

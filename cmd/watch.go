package cmd

import (
	"grimm.is/warden/internal/api"
)

// RunWatch runs the background poller and serves metrics and the JSON API
// until interrupted.
//
//	warden watch [--listen addr]
func RunWatch(args []string) error {
	fs, configFile := newFlagSet("watch")
	listen := fs.String("listen", "", "Listen address (default from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := open(*configFile)
	if err != nil {
		return err
	}
	defer e.Close()

	addr := e.cfg.Metrics.Listen
	if *listen != "" {
		addr = *listen
	}

	ctx, cancel := commandContext()
	defer cancel()

	if err := e.svc.Start(ctx); err != nil {
		return err
	}
	defer e.svc.Stop()

	serverCfg := api.DefaultServerConfig()
	serverCfg.RateLimit = max(e.cfg.Metrics.RateLimit, 0)
	server, err := api.NewServer(api.ServerOptions{
		Backend: e.svc,
		Logger:  e.log,
		Config:  serverCfg,
		Health:  e.svc.Health(),
	})
	if err != nil {
		return err
	}
	e.log.Info("watching", "listen", addr, "interval", e.cfg.Poll().String())
	return server.Serve(ctx, addr)
}

package controlplane

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudflare/tableflip"
)

// Server runs the control-plane HTTP API behind a tableflip upgrader, so a
// SIGHUP-triggered binary upgrade never drops an in-flight task-stop
// request.
type Server struct {
	Addr   string
	Router *Router
}

// Run upgrades in place on every SIGHUP and blocks until an upgrade has
// handed the listener to a new process, then drains in-flight requests for
// up to 60 seconds. It does not watch for SIGTERM/SIGINT itself.
func (s *Server) Run() error {
	upg, err := tableflip.New(tableflip.Options{})
	if err != nil {
		return fmt.Errorf("controlplane: tableflip.New: %w", err)
	}
	defer upg.Stop()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGHUP)
		for range sig {
			if err := upg.Upgrade(); err != nil {
				fmt.Fprintf(os.Stderr, "controlplane: upgrade: %v\n", err)
			}
		}
	}()

	ln, err := upg.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("controlplane: listen %s: %w", s.Addr, err)
	}
	defer ln.Close()

	srv := &http.Server{Handler: s.Router.NewEngine()}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "controlplane: serve: %v\n", err)
		}
	}()

	if err := upg.Ready(); err != nil {
		return fmt.Errorf("controlplane: ready: %w", err)
	}

	<-upg.Exit()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// Command phonewatch wires together the config loader, proxy pools, the
// site-adapter registry, the task scheduler, the control plane, and the
// dashboard into one long-running daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/grishkovelli/phonewatch/internal/adapter"
	"github.com/grishkovelli/phonewatch/internal/config"
	"github.com/grishkovelli/phonewatch/internal/controlplane"
	"github.com/grishkovelli/phonewatch/internal/dashboard"
	"github.com/grishkovelli/phonewatch/internal/metrics"
	"github.com/grishkovelli/phonewatch/internal/probe"
	"github.com/grishkovelli/phonewatch/internal/proxypool"
	"github.com/grishkovelli/phonewatch/internal/store"
	"github.com/grishkovelli/phonewatch/internal/task"
)

func main() {
	configPath := flag.String("config", "./proxy_config.json", "path to proxy_config.json")
	addr := flag.String("addr", ":8080", "control plane listen address")
	storeKind := flag.String("store", "memory", "store backend: memory or redis")
	redisAddr := flag.String("redis-addr", "", "redis address when -store=redis")
	websitesFlag := flag.String("websites", "0", "comma-separated website ids to serve")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("phonewatch: load config: %v", err)
	}

	st, err := store.New(store.Kind(*storeKind), *redisAddr)
	if err != nil {
		log.Fatalf("phonewatch: build store: %v", err)
	}
	defer st.Close()

	registry := adapter.NewRegistry()

	websiteIDs, err := parseWebsiteIDs(*websitesFlag)
	if err != nil {
		log.Fatalf("phonewatch: %v", err)
	}

	var broker *proxypool.Broker
	if cfg.Proxy.Share {
		broker = proxypool.NewBroker(3)
	}

	fetcher := proxypool.NewFetcher(time.Duration(cfg.Proxy.FetchInterval) * time.Second)
	pools := make(map[uint32]*proxypool.Pool, len(websiteIDs))
	for _, id := range websiteIDs {
		poolCfg := cfg.PoolConfig()
		poolCfg.WebID = id
		pools[id] = proxypool.New(poolCfg, fetcher, broker)
	}

	build := func(t task.AtomicTask) (*task.Executor, error) {
		pool, ok := pools[t.WebsiteID]
		if !ok {
			return nil, fmt.Errorf("phonewatch: no pool configured for website %d", t.WebsiteID)
		}
		site, ok := registry.Get(adapter.Website(t.WebsiteID))
		if !ok {
			return nil, fmt.Errorf("phonewatch: no adapter registered for website %d", t.WebsiteID)
		}
		w, err := st.Website(t.WebsiteID)
		if err != nil {
			return nil, fmt.Errorf("phonewatch: resolve website %d: %w", t.WebsiteID, err)
		}

		probeCfg := probe.DefaultConfig()
		if t.ScansPerIP > 0 {
			probeCfg.ScansPerIP = t.ScansPerIP
		}

		return &task.Executor{
			SiteAlias: w.Alias,
			Site:      site,
			Pool:      pool,
			Protocol:  cfg.Protocol(),
			Workers:   cfg.Proxy.SocketCount,
			ProbeCfg:  probeCfg,
			Sink:      st,
		}, nil
	}

	sched := task.NewScheduler(st, st, build)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go fetcher.Run(ctx)
	go sched.Run(ctx)

	hub := dashboard.NewHub()
	go hub.Run()
	go dashboard.BroadcastStats(ctx, hub, pools, sched, 5*time.Second)

	router := &controlplane.Router{
		Store:     st,
		Scheduler: sched,
		Index:     dashboard.ServeIndex,
		WS:        hub.ServeWS,
		Metrics:   metrics.Handler(),
	}

	srv := &controlplane.Server{Addr: *addr, Router: router}
	go func() {
		if err := srv.Run(); err != nil {
			log.Printf("phonewatch: control plane: %v", err)
		}
	}()

	<-ctx.Done()
	sched.Close()
	log.Print("phonewatch: shutting down")
}

func parseWebsiteIDs(raw string) ([]uint32, error) {
	var ids []uint32
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid website id %q: %w", part, err)
		}
		ids = append(ids, uint32(n))
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no website ids configured")
	}
	return ids, nil
}

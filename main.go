// Command kchat is a terminal group chat whose only shared state lives in a
// Kademlia DHT (or, for single-host setups, a redis server).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"kchat/chat"
	"kchat/discovery"
	"kchat/inspect"
	"kchat/kademlia"
	"kchat/store"
)

const (
	minPort = 8400
	maxPort = 8500
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	addr := flag.String("addr", "", "UDP listen address (default: 0.0.0.0 on a random port in [8400, 8500))")
	bootstrap := flag.String("bootstrap", "", "comma-separated bootstrap <host:port> list")
	bootIP := flag.String("ip", "", "ip address of a bootstrap node")
	bootPort := flag.Int("port", 0, "port of a bootstrap node")
	name := flag.String("name", "", "display name (default: hostname)")
	debug := flag.Bool("debug", false, "verbose logging")
	interval := flag.Duration("interval", chat.DefaultInterval, "pause between sync rounds")
	data := flag.String("data", "", "optional bbolt file for the node's replicas")
	redisAddr := flag.String("redis", os.Getenv("REDIS_ADDR"), "use a redis server instead of the DHT")
	mdns := flag.Bool("mdns", false, "announce on and browse the local network for peers")
	httpAddr := flag.String("http", "", "serve the read-only inspection API on this address")
	oldestFirst := flag.Bool("oldest-first", false, "print catch-up batches oldest message first")
	flag.Parse()

	level := slog.LevelWarn
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *name == "" {
		host, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("no -name given and hostname unavailable: %w", err)
		}
		*name = host
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	seeds := splitSeeds(*bootstrap)
	if *bootIP != "" && *bootPort != 0 {
		seeds = append(seeds, net.JoinHostPort(*bootIP, strconv.Itoa(*bootPort)))
	}

	var (
		st   store.Store
		self chat.ParticipantID
	)
	if *redisAddr != "" {
		r, err := store.NewRedis(ctx, *redisAddr)
		if err != nil {
			return err
		}
		defer r.Close()
		st, self = r, chat.ParticipantID(uuid.NewString())
		logger.Info("using redis store", "addr", *redisAddr)
	} else {
		k, port, err := startNode(*addr, *data, logger)
		if err != nil {
			return err
		}
		defer k.Close()
		fmt.Printf("Listening on port: %d\n", port)
		st, self = k, chat.ParticipantID(k.ID())

		if *mdns {
			instance := fmt.Sprintf("kchat-%s", k.ID()[:12])
			ann, err := discovery.Announce(instance, port, "name="+*name)
			if err != nil {
				logger.Warn("mdns announce failed", "err", err)
			}
			defer ann.Close()
			if len(seeds) == 0 {
				found, err := discovery.Browse(ctx, 3*time.Second, instance)
				if err != nil {
					logger.Warn("mdns browse failed", "err", err)
				}
				seeds = found
			}
		}

		// With no seeds this node starts a new group.
		if len(seeds) > 0 {
			if err := k.Bootstrap(ctx, seeds); err != nil {
				return fmt.Errorf("joining the network: %w", err)
			}
			logger.Info("bootstrapped", "seeds", seeds, "contacts", k.Contacts())
		}
	}

	wg := new(sync.WaitGroup)
	defer wg.Wait()

	if *httpAddr != "" {
		srv := &http.Server{Addr: *httpAddr, Handler: inspect.NewHandler(st, self, logger)}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("inspection server stopped", "err", err)
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ctx.Done()
			shutdownCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
			defer stop()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	relay := chat.NewRelay(64, logger)
	// stdin may stay blocked in Scan after ctx ends; the process exits anyway.
	go func() { _ = relay.Feed(ctx, os.Stdin) }()

	order := chat.NewestFirst
	if *oldestFirst {
		order = chat.OldestFirst
	}
	rec := chat.NewReconciler(chat.Config{
		Store:    st,
		Self:     self,
		Name:     *name,
		Input:    relay,
		Output:   os.Stdout,
		Interval: *interval,
		Order:    order,
		Logger:   logger,
	})
	return rec.Run(ctx)
}

// startNode opens the overlay node. With an empty addr it binds all
// interfaces on a random port in [minPort, maxPort), trying the next port
// when one is taken.
func startNode(addr, data string, logger *slog.Logger) (*kademlia.Kademlia, int, error) {
	var storage kademlia.Storage = kademlia.NewMemoryStorage()
	if data != "" {
		bolt, err := kademlia.OpenBoltStorage(data)
		if err != nil {
			return nil, 0, err
		}
		storage = bolt
	}
	opts := []kademlia.Option{kademlia.WithLogger(logger), kademlia.WithStorage(storage)}

	if addr != "" {
		host, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			storage.Close()
			return nil, 0, fmt.Errorf("parsing -addr: %w", err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			storage.Close()
			return nil, 0, fmt.Errorf("invalid port %q: %w", portStr, err)
		}
		k, err := kademlia.NewKademlia(kademlia.NewContact(kademlia.NewRandomKademliaID(), addr), host, port, opts...)
		if err != nil {
			storage.Close()
			return nil, 0, fmt.Errorf("starting node: %w", err)
		}
		return k, port, nil
	}

	start := minPort + rand.IntN(maxPort-minPort)
	var lastErr error
	for i := 0; i < maxPort-minPort; i++ {
		port := minPort + (start-minPort+i)%(maxPort-minPort)
		me := kademlia.NewContact(kademlia.NewRandomKademliaID(), net.JoinHostPort("0.0.0.0", strconv.Itoa(port)))
		k, err := kademlia.NewKademlia(me, "0.0.0.0", port, opts...)
		if err == nil {
			return k, port, nil
		}
		lastErr = err
	}
	storage.Close()
	return nil, 0, fmt.Errorf("no free port in [%d, %d): %w", minPort, maxPort, lastErr)
}

func splitSeeds(list string) []string {
	var seeds []string
	for _, s := range strings.Split(list, ",") {
		if s = strings.TrimSpace(s); s != "" {
			seeds = append(seeds, s)
		}
	}
	return seeds
}

// Command cli runs a bare overlay node with a put/set/get REPL, for poking
// at the store a chat group shares.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"kchat/kademlia"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	addr := flag.String("addr", "127.0.0.1:9001", "UDP listen address for this node, e.g. 127.0.0.1:9001")
	bootstrap := flag.String("bootstrap", "", "optional comma-separated bootstrap <host:port> list")
	idhex := flag.String("id", "", "optional 40-hex node ID (default: random)")
	data := flag.String("data", "", "optional bbolt file for the node's replicas")
	debug := flag.Bool("debug", false, "log overlay traffic")
	flag.Parse()

	level := slog.LevelWarn
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	id := kademlia.NewRandomKademliaID()
	if s := strings.TrimSpace(*idhex); s != "" {
		parsed, err := kademlia.ParseKademliaID(s)
		if err != nil {
			return err
		}
		id = parsed
	}

	host, portStr, err := net.SplitHostPort(*addr)
	if err != nil {
		return fmt.Errorf("parsing -addr: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port %q: %w", portStr, err)
	}

	opts := []kademlia.Option{kademlia.WithLogger(logger)}
	if *data != "" {
		storage, err := kademlia.OpenBoltStorage(*data)
		if err != nil {
			return err
		}
		opts = append(opts, kademlia.WithStorage(storage))
	}
	k, err := kademlia.NewKademlia(kademlia.NewContact(id, *addr), host, port, opts...)
	if err != nil {
		return fmt.Errorf("starting node: %w", err)
	}
	defer k.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *bootstrap != "" {
		if err := k.Bootstrap(ctx, strings.Split(*bootstrap, ",")); err != nil {
			return err
		}
		fmt.Printf("bootstrapped to %s\n", *bootstrap)
	}

	fmt.Printf("node up: id=%s addr=%s\n", k.ID(), *addr)
	fmt.Println("commands: put <text> | set <key> <value> | get <key> | exit")

	cli := kademlia.NewCLI(k, os.Stdin, os.Stdout, cancel)
	done := make(chan error, 1)
	go func() { done <- cli.Run(ctx) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		// stdin may still be blocked in Scan; the process exits anyway.
		return nil
	}
}

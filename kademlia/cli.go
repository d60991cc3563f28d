package kademlia

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"kchat/store"
)

// CLI is a thin command layer over a running Kademlia node.
// It does not own the node's lifecycle; it only issues commands to it.
type CLI struct {
	k    *Kademlia
	in   io.Reader
	out  io.Writer
	quit func()
}

// NewCLI constructs a CLI over the provided node.
// `in` and `out` are the I/O streams; `quit` is invoked on "exit".
func NewCLI(k *Kademlia, in io.Reader, out io.Writer, quit func()) *CLI {
	if quit == nil {
		quit = func() {}
	}
	return &CLI{k: k, in: in, out: out, quit: quit}
}

// RunLine executes a single command line.
//
//	put <content>      -> prints the 40-hex sha1 key the content is stored under
//	set <key> <value>  -> stores value under an arbitrary key, prints "OK"
//	get <key>          -> prints the value and a "from <addr>" line
//	exit               -> calls quit() and returns io.EOF
//
// On error it prints a line containing "ERR" ("NOTFOUND" for misses) and
// returns a non-nil error.
func (cli *CLI) RunLine(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	cmd, arg := splitOnce(line)

	switch strings.ToLower(cmd) {
	case "put":
		content := strings.TrimSpace(arg)
		if content == "" {
			fmt.Fprintln(cli.out, "ERR missing argument")
			return errors.New("put: missing argument")
		}
		keyHex, err := cli.k.Put([]byte(content))
		if err != nil {
			fmt.Fprintf(cli.out, "ERR %v\n", err)
			return err
		}
		fmt.Fprintln(cli.out, keyHex)
		return nil

	case "set":
		key, value := splitOnce(arg)
		if key == "" || value == "" {
			fmt.Fprintln(cli.out, "ERR usage: set <key> <value>")
			return errors.New("set: missing argument")
		}
		if err := cli.k.Set(ctx, key, []byte(value)); err != nil {
			fmt.Fprintf(cli.out, "ERR %v\n", err)
			return err
		}
		fmt.Fprintln(cli.out, "OK")
		return nil

	case "get":
		key := strings.TrimSpace(arg)
		if key == "" {
			fmt.Fprintln(cli.out, "ERR missing argument")
			return errors.New("get: missing argument")
		}
		val, from, err := cli.k.Find(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			fmt.Fprintln(cli.out, "NOTFOUND")
			return err
		}
		if err != nil {
			fmt.Fprintf(cli.out, "ERR %v\n", err)
			return err
		}
		fmt.Fprintf(cli.out, "%s\nfrom %s\n", string(val), from.Address)
		return nil

	case "exit":
		cli.quit()
		return io.EOF

	default:
		fmt.Fprintln(cli.out, "ERR unknown command")
		return errors.New("unknown command")
	}
}

// Run reads commands from cli.in until EOF, "exit" or ctx is done.
// Command errors are already printed by RunLine and do not stop the loop.
func (cli *CLI) Run(ctx context.Context) error {
	sc := bufio.NewScanner(cli.in)
	for sc.Scan() {
		if err := cli.RunLine(ctx, sc.Text()); errors.Is(err, io.EOF) {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	return sc.Err()
}

// splitOnce splits on the first span of whitespace into (head, tail).
// If no whitespace, tail is "".
func splitOnce(s string) (head, tail string) {
	s = strings.TrimSpace(s)
	i := strings.IndexAny(s, " \t\r\n")
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimLeft(s[i+1:], " \t")
}

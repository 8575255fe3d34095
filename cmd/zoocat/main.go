// zoocat is a small command-line client descended from the teacher's
// cmd/client: instead of a fixed, hardcoded request sequence, it takes
// one subcommand and its arguments from the command line and prints the
// reply.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mikekulinski/zoocore/pkg/acl"
	"github.com/mikekulinski/zoocore/pkg/conn"
	"github.com/mikekulinski/zoocore/pkg/wire"
)

func main() {
	server := flag.String("server", "127.0.0.1:2181", "host:port of the server to connect to")
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
	}

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	host, port, err := splitHostPort(*server)
	if err != nil {
		log.Fatalf("zoocat: %v", err)
	}

	e := conn.New("zoocat", conn.WithLogger(logger))
	ctx := context.Background()
	if err := e.Start(ctx, []conn.ServerAddr{{Host: host, Port: port, WantedTimeoutMS: 30000}}); err != nil {
		log.Fatalf("zoocat: connect: %v", err)
	}
	defer e.Die("client exiting")

	if err := run(ctx, e, args); err != nil {
		log.Fatalf("zoocat: %v", err)
	}
}

func run(ctx context.Context, e *conn.Engine, args []string) error {
	switch cmd, rest := args[0], args[1:]; cmd {
	case "create":
		if len(rest) < 1 {
			return fmt.Errorf("usage: create <path> [data]")
		}
		var data []byte
		if len(rest) > 1 {
			data = []byte(rest[1])
		}
		resp, err := e.Create(ctx, rest[0], data, wire.FlagNone, acl.WorldAnyoneAll())
		if err != nil {
			return err
		}
		fmt.Println(resp.Path)

	case "get":
		if len(rest) != 1 {
			return fmt.Errorf("usage: get <path>")
		}
		resp, err := e.Get(ctx, rest[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s\n", resp.Data)

	case "set":
		if len(rest) != 2 {
			return fmt.Errorf("usage: set <path> <data>")
		}
		if _, err := e.Set(ctx, rest[0], []byte(rest[1]), -1); err != nil {
			return err
		}

	case "delete", "rm":
		if len(rest) != 1 {
			return fmt.Errorf("usage: delete <path>")
		}
		if err := e.Delete(ctx, rest[0], -1); err != nil {
			return err
		}

	case "ls":
		if len(rest) != 1 {
			return fmt.Errorf("usage: ls <path>")
		}
		resp, err := e.Ls(ctx, rest[0])
		if err != nil {
			return err
		}
		fmt.Println(strings.Join(resp.Children, "\n"))

	case "watch":
		if len(rest) != 1 {
			return fmt.Errorf("usage: watch <path>")
		}
		_, ch, err := e.GetW(ctx, rest[0], nil)
		if err != nil {
			return err
		}
		fmt.Println("waiting for a watch event (Ctrl-C to stop)...")
		select {
		case n := <-ch:
			fmt.Printf("fired=%v type=%v path=%s\n", n.Fired, n.Type, n.Path)
		case <-time.After(5 * time.Minute):
			return fmt.Errorf("timed out waiting for watch event")
		}

	default:
		usage()
	}
	return nil
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, ok := strings.Cut(addr, ":")
	if !ok {
		return "", 0, fmt.Errorf("expected host:port, got %q", addr)
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return "", 0, fmt.Errorf("invalid port in %q: %w", addr, err)
	}
	return host, port, nil
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: zoocat [-server host:port] <create|get|set|delete|ls|watch> ...")
	os.Exit(2)
}

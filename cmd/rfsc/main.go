package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"

	"github.com/InsulaLabs/rfs/client"
	"github.com/InsulaLabs/rfs/models"
	"github.com/fatih/color"
)

var (
	logger   *slog.Logger
	host     string
	domain   string
	token    string
	useTLS   bool
	insecure bool
)

func init() {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})
	logger = slog.New(handler)

	flag.StringVar(&host, "host", "127.0.0.1:7380", "Service host:port")
	flag.StringVar(&domain, "domain", "", "Client domain override for TLS connections")
	flag.StringVar(&token, "token", os.Getenv("RFS_TOKEN"), "API token (defaults to RFS_TOKEN)")
	flag.BoolVar(&useTLS, "tls", false, "Connect over HTTPS")
	flag.BoolVar(&insecure, "insecure", false, "Skip TLS certificate verification")
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: rfsc [flags] <command> [args...]

Volume commands:
  echo <key> <path> <data> [append]
  append <key> <path> <data>
  cat <key> <path>
  touch <key> <path>
  mkdir <key> <path> [-p]
  ls <key> <path> [-l]
  rm <key> <path> [-r]
  cp <key> <src> <dst> [-r]
  mv <key> <src> <dst>
  find <key> <root> <pattern> [type]
  grep <key> <root> <pattern> [nocase]
  stat <key> <path>
  test <key> <path>
  chmod <key> <path> <octal-mode>
  chown <key> <path> <uid> <gid>
  ln <key> <target> <link>
  readlink <key> <path>
  tree <key> <path> [depth]
  info <key>
  utimens <key> <path> <atime-ms> <mtime-ms>

Engine commands:
  ping
  keys [prefix]
  del <key>
  exists <key>
  memory <key>
  watch <key>

Flags:
`)
	flag.PrintDefaults()
}

func getClient() *client.Client {
	if token == "" {
		color.Red("No API token provided (use --token or RFS_TOKEN)")
		os.Exit(1)
	}
	c, err := client.NewClient(&client.Config{
		HostPort:     host,
		ClientDomain: domain,
		ApiToken:     token,
		UseTLS:       useTLS,
		SkipVerify:   insecure,
		Logger:       logger,
	})
	if err != nil {
		color.Red("Failed to create client: %v", err)
		os.Exit(1)
	}
	return c
}

func fail(err error) {
	color.Red("%v", err)
	os.Exit(1)
}

func need(args []string, n int, form string) {
	if len(args) < n {
		color.Red("usage: rfsc %s", form)
		os.Exit(1)
	}
}

func main() {
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	c := getClient()
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "ping":
		rsp, err := c.Ping()
		if err != nil {
			fail(err)
		}
		color.Green("%s (%s) up %s", rsp.Status, rsp.Type, rsp.Uptime)

	case "keys":
		prefix := ""
		if len(rest) > 0 {
			prefix = rest[0]
		}
		keys, err := c.Keys(prefix)
		if err != nil {
			fail(err)
		}
		for _, k := range keys {
			fmt.Println(k)
		}

	case "del":
		need(rest, 1, "del <key>")
		existed, err := c.Del(rest[0])
		if err != nil {
			fail(err)
		}
		if existed {
			color.Yellow("deleted %s", rest[0])
		} else {
			fmt.Println("no such volume")
		}

	case "exists":
		need(rest, 1, "exists <key>")
		ok, err := c.Exists(rest[0])
		if err != nil {
			fail(err)
		}
		fmt.Println(boolToInt(ok))

	case "memory":
		need(rest, 1, "memory <key>")
		n, err := c.Memory(rest[0])
		if err != nil {
			fail(err)
		}
		fmt.Printf("%d bytes\n", n)

	case "watch":
		need(rest, 1, "watch <key>")
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigCh
			cancel()
		}()
		err := c.SubscribeToEvents(ctx, rest[0], func(ev models.Event) {
			color.Cyan("%s %s %s", ev.Key, ev.Command, ev.Path)
		})
		if err != nil {
			fail(err)
		}

	case "echo":
		need(rest, 3, "echo <key> <path> <data> [append]")
		var n int64
		var err error
		if len(rest) > 3 && rest[3] == "append" {
			n, err = c.Append(rest[0], rest[1], rest[2])
		} else {
			n, err = c.Echo(rest[0], rest[1], rest[2])
		}
		if err != nil {
			fail(err)
		}
		fmt.Printf("%d bytes written\n", n)

	case "append":
		need(rest, 3, "append <key> <path> <data>")
		n, err := c.Append(rest[0], rest[1], rest[2])
		if err != nil {
			fail(err)
		}
		fmt.Printf("%d bytes appended\n", n)

	case "cat":
		need(rest, 2, "cat <key> <path>")
		data, err := c.Cat(rest[0], rest[1])
		if err != nil {
			fail(err)
		}
		fmt.Print(data)

	case "touch":
		need(rest, 2, "touch <key> <path>")
		if err := c.Touch(rest[0], rest[1]); err != nil {
			fail(err)
		}

	case "mkdir":
		need(rest, 2, "mkdir <key> <path> [-p]")
		parents := len(rest) > 2 && rest[2] == "-p"
		if err := c.Mkdir(rest[0], rest[1], parents); err != nil {
			fail(err)
		}

	case "ls":
		need(rest, 2, "ls <key> <path> [-l]")
		if len(rest) > 2 && rest[2] == "-l" {
			entries, err := c.LsLong(rest[0], rest[1])
			if err != nil {
				fail(err)
			}
			for _, entry := range entries {
				printEntry(entry)
			}
			return
		}
		names, err := c.Ls(rest[0], rest[1])
		if err != nil {
			fail(err)
		}
		for _, name := range names {
			fmt.Println(name)
		}

	case "rm":
		need(rest, 2, "rm <key> <path> [-r]")
		recursive := len(rest) > 2 && rest[2] == "-r"
		n, err := c.Rm(rest[0], rest[1], recursive)
		if err != nil {
			fail(err)
		}
		fmt.Printf("%d removed\n", n)

	case "cp":
		need(rest, 3, "cp <key> <src> <dst> [-r]")
		recursive := len(rest) > 3 && rest[3] == "-r"
		n, err := c.Cp(rest[0], rest[1], rest[2], recursive)
		if err != nil {
			fail(err)
		}
		fmt.Printf("%d copied\n", n)

	case "mv":
		need(rest, 3, "mv <key> <src> <dst>")
		if err := c.Mv(rest[0], rest[1], rest[2]); err != nil {
			fail(err)
		}

	case "find":
		need(rest, 3, "find <key> <root> <pattern> [type]")
		typeFilter := ""
		if len(rest) > 3 {
			typeFilter = rest[3]
		}
		paths, err := c.Find(rest[0], rest[1], rest[2], typeFilter)
		if err != nil {
			fail(err)
		}
		for _, p := range paths {
			fmt.Println(p)
		}

	case "grep":
		need(rest, 3, "grep <key> <root> <pattern> [nocase]")
		nocase := len(rest) > 3 && rest[3] == "nocase"
		hits, err := c.Grep(rest[0], rest[1], rest[2], nocase)
		if err != nil {
			fail(err)
		}
		for _, hit := range hits {
			fmt.Printf("%s:%s: %s\n",
				color.CyanString(hit.Path),
				color.YellowString("%d", hit.Line),
				hit.Text,
			)
		}

	case "stat":
		need(rest, 2, "stat <key> <path>")
		st, err := c.Stat(rest[0], rest[1])
		if err != nil {
			fail(err)
		}
		printPairs(st)

	case "test":
		need(rest, 2, "test <key> <path>")
		ok, err := c.Test(rest[0], rest[1])
		if err != nil {
			fail(err)
		}
		fmt.Println(boolToInt(ok))
		if !ok {
			os.Exit(1)
		}

	case "chmod":
		need(rest, 3, "chmod <key> <path> <octal-mode>")
		if err := c.Chmod(rest[0], rest[1], rest[2]); err != nil {
			fail(err)
		}

	case "chown":
		need(rest, 4, "chown <key> <path> <uid> <gid>")
		uid, err := strconv.ParseUint(rest[2], 10, 32)
		if err != nil {
			fail(fmt.Errorf("invalid uid: %s", rest[2]))
		}
		gid, err := strconv.ParseUint(rest[3], 10, 32)
		if err != nil {
			fail(fmt.Errorf("invalid gid: %s", rest[3]))
		}
		if err := c.Chown(rest[0], rest[1], uint32(uid), uint32(gid)); err != nil {
			fail(err)
		}

	case "ln":
		need(rest, 3, "ln <key> <target> <link>")
		if err := c.Ln(rest[0], rest[1], rest[2]); err != nil {
			fail(err)
		}

	case "readlink":
		need(rest, 2, "readlink <key> <path>")
		target, err := c.Readlink(rest[0], rest[1])
		if err != nil {
			fail(err)
		}
		fmt.Println(target)

	case "tree":
		need(rest, 2, "tree <key> <path> [depth]")
		depth := 0
		if len(rest) > 2 {
			n, err := strconv.Atoi(rest[2])
			if err != nil || n < 1 {
				fail(fmt.Errorf("invalid depth: %s", rest[2]))
			}
			depth = n
		}
		reply, err := c.Tree(rest[0], rest[1], depth)
		if err != nil {
			fail(err)
		}
		printTree(reply, 0)

	case "info":
		need(rest, 1, "info <key>")
		info, err := c.Info(rest[0])
		if err != nil {
			fail(err)
		}
		printPairs(info)

	case "utimens":
		need(rest, 4, "utimens <key> <path> <atime-ms> <mtime-ms>")
		atime, err := strconv.ParseUint(rest[2], 10, 64)
		if err != nil {
			fail(fmt.Errorf("invalid atime_ms: %s", rest[2]))
		}
		mtime, err := strconv.ParseUint(rest[3], 10, 64)
		if err != nil {
			fail(fmt.Errorf("invalid mtime_ms: %s", rest[3]))
		}
		if err := c.Utimens(rest[0], rest[1], atime, mtime); err != nil {
			fail(err)
		}

	default:
		color.Red("unknown command: %s", cmd)
		usage()
		os.Exit(1)
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func printEntry(entry client.Entry) {
	name := entry.Name
	switch entry.Type {
	case "dir":
		name = color.BlueString(name)
	case "symlink":
		name = color.CyanString(name)
	}
	fmt.Printf("%-8s %6s %10d %13d  %s\n", entry.Type, entry.ModeOctal, entry.Size, entry.MtimeMs, name)
}

func printPairs(pairs map[string]any) {
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s: %v\n", color.CyanString(k), pairs[k])
	}
}

// printTree renders the nested tree reply: directories come back as
// [name, children] pairs, everything else as a bare name.
func printTree(node any, indent int) {
	for i := 0; i < indent; i++ {
		fmt.Print("  ")
	}
	switch v := node.(type) {
	case string:
		fmt.Println(v)
	case []any:
		if len(v) != 2 {
			fmt.Println(v...)
			return
		}
		name, _ := v[0].(string)
		if name == "" {
			name = "/"
		}
		fmt.Println(color.BlueString(name) + "/")
		if children, ok := v[1].([]any); ok {
			for _, child := range children {
				printTree(child, indent+1)
			}
		}
	}
}

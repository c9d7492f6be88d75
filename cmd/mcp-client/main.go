// Command mcp-client opens a session against an MCP server and either lists
// its tools or invokes one.
//
//	mcp-client -url http://localhost:8080 -secret s3cr3t
//	mcp-client -config mcp.yaml -server demo -tool echo -payload '{"hi":1}' -progress
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	mcp "github.com/universal-tool-calling-protocol/go-mcp"
	"github.com/universal-tool-calling-protocol/go-mcp/internal/logctx"
	json "github.com/universal-tool-calling-protocol/go-mcp/src/json"
	"github.com/universal-tool-calling-protocol/go-mcp/src/protocol"
)

var (
	okColor      = color.New(color.FgGreen, color.Bold)
	clarifyColor = color.New(color.FgYellow, color.Bold)
	errColor     = color.New(color.FgRed, color.Bold)
	faint        = color.New(color.Faint)
)

type flags struct {
	config   string
	server   string
	url      string
	secret   string
	clientID string
	tool     string
	payload  string
	samples  int
	progress bool
	verbose  bool
}

func main() {
	var f flags
	flag.StringVar(&f.config, "config", "", "client configuration file (YAML)")
	flag.StringVar(&f.server, "server", "", "server name in -config; defaults to the configured default")
	flag.StringVar(&f.url, "url", "http://localhost:8080", "server base URL when no -config is given")
	flag.StringVar(&f.secret, "secret", os.Getenv("MCP_HMAC_SECRET"), "HMAC secret when no -config is given")
	flag.StringVar(&f.clientID, "client-id", mcp.DefaultClientID, "client id sent with every request")
	flag.StringVar(&f.tool, "tool", "", "tool to invoke; lists tools when empty")
	flag.StringVar(&f.payload, "payload", "{}", "JSON payload")
	flag.IntVar(&f.samples, "samples", 1, "number of samples")
	flag.BoolVar(&f.progress, "progress", false, "print progress events while invoking")
	flag.BoolVar(&f.verbose, "v", false, "debug logging")
	flag.Parse()

	level := slog.LevelWarn
	if f.verbose {
		level = slog.LevelDebug
	}
	log := logctx.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, f, log); err != nil {
		errColor.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, f flags, log *slog.Logger) error {
	c, err := dial(ctx, f, log)
	if err != nil {
		return err
	}
	defer c.Close()

	session, err := c.OpenSession(ctx, protocol.SessionOpenRequest{})
	if err != nil {
		return err
	}
	faint.Printf("session %s on %s %s\n", session.ID, session.ServerName, session.ServerVersion)

	if f.tool == "" {
		for _, t := range c.CachedTools() {
			fmt.Printf("%-32s %s\n", t.Name, t.Description)
		}
		return nil
	}

	var payload any
	if err := json.Unmarshal([]byte(f.payload), &payload); err != nil {
		return fmt.Errorf("-payload is not valid JSON: %w", err)
	}

	opts := mcp.Options{Samples: f.samples, Logger: mcp.SlogLogger{Log: log}}
	if f.progress {
		opts.Progress = mcp.ListenerFuncs{
			Event: func(line string) {
				ev, err := protocol.ParseStreamEvent(line)
				if err != nil {
					return
				}
				faint.Printf("  [%s] %s\n", ev.Event, ev.Response.Message)
			},
			Error: func(err error) { errColor.Fprintln(os.Stderr, "stream:", err) },
		}
	}

	res, err := mcp.InvokeWithOptions[json.RawMessage](ctx, c, f.tool, payload, opts)
	if err != nil {
		return err
	}
	for i, r := range res.Samples {
		printResponse(i, r)
	}
	return nil
}

func dial(ctx context.Context, f flags, log *slog.Logger) (*mcp.Client, error) {
	clientID := f.clientID
	var sc mcp.ServerConfig
	if f.config != "" {
		cfg, err := mcp.LoadConfig(f.config)
		if err != nil {
			return nil, err
		}
		name := f.server
		if name == "" {
			if name, err = cfg.ResolveDefaultServer(); err != nil {
				return nil, err
			}
		}
		var ok bool
		if sc, ok = cfg.Server(name); !ok {
			return nil, fmt.Errorf("server %s is not configured in %s", name, f.config)
		}
		clientID = cfg.ClientID
	} else {
		sc = mcp.ServerConfig{Name: "cli", Type: mcp.TransportHTTP, BaseURL: f.url}
		if f.secret != "" {
			sc.Interceptors = append(sc.Interceptors, mcp.InterceptorConfig{
				Name: mcp.InterceptorHMAC,
				Args: map[string]any{"secret": f.secret},
			})
		}
		sc.Interceptors = append(sc.Interceptors, mcp.InterceptorConfig{Name: mcp.InterceptorTrace})
	}
	if sc.Name == "" {
		return nil, errors.New("no server selected")
	}

	tr, err := mcp.NewTransport(ctx, sc, mcp.TransportOptions{ClientID: clientID, Logger: log})
	if err != nil {
		return nil, err
	}
	return mcp.NewClient(tr, mcp.WithClientID(clientID), mcp.WithLogger(log))
}

func printResponse(i int, r protocol.StdResponse[json.RawMessage]) {
	c := errColor
	switch {
	case r.IsSuccess():
		c = okColor
	case r.IsClarify():
		c = clarifyColor
	}
	c.Printf("#%d %s %s", i+1, r.Status, r.Code)
	fmt.Printf(" %s\n", r.Message)
	if len(r.Data) == 0 {
		return
	}
	var v any
	if err := json.Unmarshal(r.Data, &v); err != nil {
		fmt.Println(string(r.Data))
		return
	}
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}

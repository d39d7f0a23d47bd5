package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/onnwee/cachemanager/internal/api/handlers"
	"github.com/onnwee/cachemanager/internal/apierr"
	"github.com/onnwee/cachemanager/internal/cache"
	"github.com/onnwee/cachemanager/internal/httpx"
)

const cacheBase = "api/cache"

func newApp(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:   "cachectl",
		Usage:  "inspect and manage a running cache server",
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "base URL of the cache server",
				Value:   "http://localhost:8000",
				Sources: cli.EnvVars("CACHECTL_ADDR"),
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "admin bearer token",
				Sources: cli.EnvVars("CACHECTL_TOKEN", "ADMIN_API_TOKEN"),
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "per-request timeout",
				Value: 10 * time.Second,
			},
			&cli.IntFlag{
				Name:  "retries",
				Usage: "attempts per request",
				Value: 3,
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "stats",
				Usage:  "show hit/miss counters",
				Action: statsAction,
			},
			{
				Name:   "keys",
				Usage:  "list derived keys in insertion order",
				Action: keysAction,
			},
			{
				Name:      "get",
				Usage:     "print an entry",
				ArgsUsage: "<namespace> <key>",
				Flags:     []cli.Flag{paramsFlag()},
				Action:    getAction,
			},
			{
				Name:      "put",
				Usage:     "store a JSON value",
				ArgsUsage: "<namespace> <key> <json>",
				Flags: []cli.Flag{
					paramsFlag(),
					&cli.DurationFlag{Name: "ttl", Usage: "entry TTL; 0 uses the server default, negative never expires"},
					&cli.StringFlag{Name: "version", Usage: "version tag recorded with the entry"},
				},
				Action: putAction,
			},
			{
				Name:      "delete",
				Usage:     "remove an entry",
				ArgsUsage: "<namespace> <key>",
				Flags:     []cli.Flag{paramsFlag()},
				Action:    deleteAction,
			},
			{
				Name:  "clear",
				Usage: "remove every entry, or one namespace",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "namespace", Aliases: []string{"n"}, Usage: "only clear this namespace"},
				},
				Action: clearAction,
			},
		},
	}
}

func paramsFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "params",
		Usage: "JSON document selecting the parameterised variant of the entry",
	}
}

func clientFor(cmd *cli.Command) (*httpx.Client, error) {
	root := cmd.Root()
	return httpx.NewClient(root.String("addr"),
		httpx.RetryPolicy{MaxAttempts: int(root.Int("retries")), BaseDelay: 300 * time.Millisecond},
		httpx.WithHTTPClient(&http.Client{Timeout: root.Duration("timeout")}),
		httpx.WithBearerToken(root.String("token")),
	)
}

// target reads and checks the <namespace> <key> positional arguments.
func target(cmd *cli.Command) (string, string, error) {
	if cmd.Args().Len() < 2 {
		return "", "", fmt.Errorf("%s: expected <namespace> <key>", cmd.Name)
	}
	ns, key := cmd.Args().Get(0), cmd.Args().Get(1)
	for _, s := range []string{ns, key} {
		if s == "" || strings.Contains(s, "/") {
			return "", "", fmt.Errorf("%s: namespace and key must be non-empty and contain no '/'", cmd.Name)
		}
	}
	return ns, key, nil
}

func entryPath(ns, key string) string {
	return cacheBase + "/entries/" + ns + "/" + key
}

func paramsQuery(cmd *cli.Command) (map[string]string, error) {
	p := strings.TrimSpace(cmd.String("params"))
	if p == "" {
		return nil, nil
	}
	if !json.Valid([]byte(p)) {
		return nil, errors.New("--params must be valid JSON")
	}
	return map[string]string{"params": p}, nil
}

// explain turns API errors into their server-side message.
func explain(err error) error {
	var se *httpx.StatusError
	if !errors.As(err, &se) {
		return err
	}
	var body apierr.ErrorResponse
	if json.Unmarshal([]byte(se.Body), &body) == nil && body.Error != nil {
		return fmt.Errorf("%s (%s)", body.Error.Message, body.Error.Code)
	}
	return err
}

func statsAction(ctx context.Context, cmd *cli.Command) error {
	c, err := clientFor(cmd)
	if err != nil {
		return err
	}
	var st cache.Stats
	if err := c.Do(ctx, http.MethodGet, cacheBase+"/stats", nil, nil, &st); err != nil {
		return explain(err)
	}
	w := cmd.Root().Writer
	fmt.Fprintf(w, "hits:      %s\n", humanize.Comma(int64(st.TotalHits)))
	fmt.Fprintf(w, "misses:    %s\n", humanize.Comma(int64(st.TotalMisses)))
	fmt.Fprintf(w, "hit rate:  %s%%\n", humanize.FormatFloat("#.##", st.HitRate))
	fmt.Fprintf(w, "entries:   %s\n", humanize.Comma(int64(st.MemorySize)))
	return nil
}

func keysAction(ctx context.Context, cmd *cli.Command) error {
	c, err := clientFor(cmd)
	if err != nil {
		return err
	}
	var resp handlers.KeysResponse
	if err := c.Do(ctx, http.MethodGet, cacheBase+"/keys", nil, nil, &resp); err != nil {
		return explain(err)
	}
	w := cmd.Root().Writer
	for _, k := range resp.Keys {
		fmt.Fprintln(w, k)
	}
	fmt.Fprintf(w, "%s keys\n", humanize.Comma(int64(resp.Count)))
	return nil
}

func getAction(ctx context.Context, cmd *cli.Command) error {
	ns, key, err := target(cmd)
	if err != nil {
		return err
	}
	params, err := paramsQuery(cmd)
	if err != nil {
		return err
	}
	c, err := clientFor(cmd)
	if err != nil {
		return err
	}

	var e handlers.EntryResponse
	if err := c.Do(ctx, http.MethodGet, entryPath(ns, key), params, nil, &e); err != nil {
		return explain(err)
	}
	value, err := json.MarshalIndent(e.Value, "", "  ")
	if err != nil {
		return err
	}

	w := cmd.Root().Writer
	fmt.Fprintf(w, "key:      %s\n", e.CacheKey)
	fmt.Fprintf(w, "version:  %s\n", e.Version)
	fmt.Fprintf(w, "created:  %s\n", humanize.Time(e.CreatedAt))
	if e.ExpiresAt != nil {
		fmt.Fprintf(w, "expires:  %s\n", humanize.Time(*e.ExpiresAt))
	} else {
		fmt.Fprintln(w, "expires:  never")
	}
	fmt.Fprintf(w, "%s\n", value)
	return nil
}

func putAction(ctx context.Context, cmd *cli.Command) error {
	ns, key, err := target(cmd)
	if err != nil {
		return err
	}
	if cmd.Args().Len() < 3 {
		return errors.New("put: expected <namespace> <key> <json>")
	}
	raw := cmd.Args().Get(2)
	if !json.Valid([]byte(raw)) {
		return errors.New("put: value must be valid JSON")
	}

	body := map[string]any{"value": json.RawMessage(raw)}
	if ttl := cmd.Duration("ttl"); ttl != 0 {
		ms := ttl.Milliseconds()
		if ttl < 0 {
			ms = -1
		}
		body["ttlMs"] = ms
	}
	if v := cmd.String("version"); v != "" {
		body["version"] = v
	}
	if p := strings.TrimSpace(cmd.String("params")); p != "" {
		if !json.Valid([]byte(p)) {
			return errors.New("--params must be valid JSON")
		}
		body["params"] = json.RawMessage(p)
	}

	c, err := clientFor(cmd)
	if err != nil {
		return err
	}
	var e handlers.EntryResponse
	if err := c.Do(ctx, http.MethodPut, entryPath(ns, key), nil, body, &e); err != nil {
		return explain(err)
	}
	fmt.Fprintf(cmd.Root().Writer, "stored %s (version %s)\n", e.CacheKey, e.Version)
	return nil
}

func deleteAction(ctx context.Context, cmd *cli.Command) error {
	ns, key, err := target(cmd)
	if err != nil {
		return err
	}
	params, err := paramsQuery(cmd)
	if err != nil {
		return err
	}
	c, err := clientFor(cmd)
	if err != nil {
		return err
	}
	if err := c.Do(ctx, http.MethodDelete, entryPath(ns, key), params, nil, nil); err != nil {
		return explain(err)
	}
	fmt.Fprintf(cmd.Root().Writer, "deleted %s/%s\n", ns, key)
	return nil
}

func clearAction(ctx context.Context, cmd *cli.Command) error {
	c, err := clientFor(cmd)
	if err != nil {
		return err
	}
	path, what := cacheBase, "all entries"
	if ns := cmd.String("namespace"); ns != "" {
		if strings.Contains(ns, "/") {
			return errors.New("clear: namespace must not contain '/'")
		}
		path, what = cacheBase+"/namespaces/"+ns, "namespace "+ns
	}
	if err := c.Do(ctx, http.MethodDelete, path, nil, nil, nil); err != nil {
		return explain(err)
	}
	fmt.Fprintf(cmd.Root().Writer, "cleared %s\n", what)
	return nil
}

// Command loadtest walks search result pages concurrently against a
// searcher (with -user) or the gateway (with -api-key) and reports latency
// per page depth.
//
// Each worker picks a query and scope, requests the first page, then
// follows last_seen_id until the walk ends or -pages is reached.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Config struct {
	BaseURL     string
	UserKey     string
	APIKey      string
	Concurrency int
	Duration    time.Duration
	MaxPages    int
	PageSize    int
	Queries     []string
	Scopes      []string
}

type page struct {
	LastSeenID int64             `json:"last_seen_id"`
	HasMore    bool              `json:"has_more"`
	Strategy   string            `json:"strategy"`
	Activities []json.RawMessage `json:"activities"`
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "searcher or gateway base URL")
	user := flag.String("user", "", "X-User-Key to send directly to a searcher")
	apiKey := flag.String("api-key", "", "API key to send to the gateway")
	concurrency := flag.Int("concurrency", 10, "number of concurrent walkers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	maxPages := flag.Int("pages", 5, "pages followed per walk")
	pageSize := flag.Int("limit", 10, "page size")
	scopes := flag.String("scopes", "all;following;starred;parentorg", "semicolon-separated scope sets, each comma-separated")
	flag.Parse()

	if *user == "" && *apiKey == "" {
		fmt.Fprintln(os.Stderr, "one of -user or -api-key is required")
		os.Exit(1)
	}

	cfg := Config{
		BaseURL:     strings.TrimRight(*baseURL, "/"),
		UserKey:     *user,
		APIKey:      *apiKey,
		Concurrency: *concurrency,
		Duration:    *duration,
		MaxPages:    *maxPages,
		PageSize:    *pageSize,
		Queries:     []string{"", "report", "meeting notes", "release", "-draft status", "quarterly"},
		Scopes:      strings.Split(*scopes, ";"),
	}

	fmt.Println("=== Activity Search Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Walk:        up to %d pages of %d\n", cfg.MaxPages, cfg.PageSize)
	fmt.Printf("Scope sets:  %s\n", strings.Join(cfg.Scopes, " | "))
	fmt.Println()

	stats := run(cfg)
	if !stats.Print(os.Stdout, cfg.Duration) {
		os.Exit(1)
	}
}

func run(cfg Config) *Stats {
	stats := NewStats(cfg.MaxPages)
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for w := 0; w < cfg.Concurrency; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := w; ctx.Err() == nil; i++ {
				q := cfg.Queries[i%len(cfg.Queries)]
				s := cfg.Scopes[(i/len(cfg.Queries))%len(cfg.Scopes)]
				walk(ctx, client, cfg, q, s, stats)
			}
		}()
	}
	wg.Wait()
	return stats
}

// walk follows one query's pages.
func walk(ctx context.Context, client *http.Client, cfg Config, q, scopes string, stats *Stats) {
	var lastSeen int64
	for depth := 0; depth < cfg.MaxPages; depth++ {
		start := time.Now()
		p, status, err := fetch(ctx, client, cfg, q, scopes, lastSeen)
		if ctx.Err() != nil {
			return
		}
		stats.Record(depth, time.Since(start), status, err)
		if err != nil || status != http.StatusOK {
			return
		}
		if len(p.Activities) == 0 {
			stats.Empty()
		}
		if !p.HasMore {
			stats.Exhausted()
			return
		}
		lastSeen = p.LastSeenID
	}
}

func fetch(ctx context.Context, client *http.Client, cfg Config, q, scopes string, lastSeen int64) (*page, int, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(cfg.PageSize))
	if q != "" {
		params.Set("q", q)
	}
	if scopes != "" {
		params.Set("scope", scopes)
	}
	if lastSeen > 0 {
		params.Set("lastSeen", strconv.FormatInt(lastSeen, 10))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.BaseURL+"/api/v1/activities/search?"+params.Encode(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	if cfg.APIKey != "" {
		req.Header.Set("X-API-Key", cfg.APIKey)
	} else {
		req.Header.Set("X-User-Key", cfg.UserKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode, nil
	}
	var p page
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decoding page: %w", err)
	}
	return &p, resp.StatusCode, nil
}

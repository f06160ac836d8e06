package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"rgsx/internal/app"
	"rgsx/internal/catalog"
	"rgsx/internal/config"
	"rgsx/internal/history"
	"rgsx/internal/network"
	"rgsx/internal/tui"
)

const megabyte = 1024 * 1024

func cmdPlatforms(ctx context.Context, args []string) error {
	fs, common := newFlagSet("platforms")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	a, err := common.openReadOnly()
	if err != nil {
		return err
	}
	defer a.Close()

	platforms, err := a.Catalog.Platforms()
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(os.Stdout, platforms)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PLATFORM\tFOLDER")
	for _, p := range platforms {
		fmt.Fprintf(tw, "%s\t%s\n", p.Name, p.Folder)
	}
	return tw.Flush()
}

func cmdGames(ctx context.Context, args []string) error {
	fs, common := newFlagSet("games")
	platform := fs.String("platform", "", "platform name or folder (required)")
	search := fs.String("search", "", "filter by words in the title")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *platform == "" {
		fmt.Fprintln(os.Stderr, "games: --platform is required")
		return errUsage
	}

	a, err := common.openReadOnly()
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.Catalog.Find(*platform)
	if err != nil {
		return err
	}
	games, err := a.Catalog.Games(p.Name)
	if err != nil {
		return err
	}
	if *search != "" {
		games = catalog.Search(games, *search)
	}
	if *asJSON {
		return printJSON(os.Stdout, games)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSIZE")
	for _, g := range games {
		fmt.Fprintf(tw, "%s\t%s\n", g.Name, g.Size)
	}
	return tw.Flush()
}

func cmdDownload(ctx context.Context, args []string) error {
	fs, common := newFlagSet("download")
	platform := fs.String("platform", "", "platform name or folder (required)")
	game := fs.String("game", "", "game name as listed by `rgsx games`")
	rawURL := fs.String("url", "", "download this URL instead of a catalog game")
	force := fs.Bool("force", false, "download even when the extension is not supported")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *platform == "" || (*game == "") == (*rawURL == "") {
		fmt.Fprintln(os.Stderr, "download: --platform and exactly one of --game or --url are required")
		return errUsage
	}

	a, err := common.open()
	if err != nil {
		return err
	}
	defer a.Close()

	var q app.Queued
	if *rawURL != "" {
		q, err = a.QueueURL(*platform, *rawURL, *force)
	} else {
		q, err = a.QueueGame(*platform, *game, *force)
	}
	if err != nil {
		return err
	}
	if q.ForceExtract {
		fmt.Println("Archive will be extracted after download")
	}

	res, err := followTask(ctx, a, q.TaskID)
	if err != nil {
		return err
	}
	fmt.Println(res.Message)
	if res.Status != history.StatusOK {
		return fmt.Errorf("download %s", res.Status)
	}
	return nil
}

// followTask prints progress lines until the task ends. Interrupting cancels it.
func followTask(ctx context.Context, a *app.App, id string) (history.Entry, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var last string
	for {
		select {
		case <-ctx.Done():
			a.Cancel(id)
			waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, err := a.WaitAll(waitCtx, id); err != nil {
				return history.Entry{}, err
			}
			entry, _ := a.Hub.Get(id)
			return entry, nil
		case <-ticker.C:
		}

		entry, ok := a.Hub.Get(id)
		if !ok {
			return history.Entry{}, fmt.Errorf("task %s disappeared from history", id)
		}
		if entry.Status.Terminal() {
			return entry, nil
		}
		if line := progressLine(entry); line != "" && line != last {
			fmt.Println(line)
			last = line
		}
	}
}

func progressLine(e history.Entry) string {
	switch e.Status {
	case history.StatusDownloading:
		return fmt.Sprintf("Downloading: %d%% (%.1f/%.1f MB) @ %.2f MB/s",
			e.Progress, float64(e.DownloadedSize)/megabyte, float64(e.TotalSize)/megabyte, e.Speed)
	case history.StatusExtracting:
		return fmt.Sprintf("Extracting: %d%%", e.Progress)
	case history.StatusConverting:
		return fmt.Sprintf("Converting: %d%%", e.Progress)
	}
	return ""
}

func cmdHistory(ctx context.Context, args []string) error {
	fs, common := newFlagSet("history")
	tail := fs.Int("tail", 20, "show the last N entries (0 for all)")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	a, err := common.openReadOnly()
	if err != nil {
		return err
	}
	defer a.Close()

	entries := a.History(*tail)
	if *asJSON {
		return printJSON(os.Stdout, entries)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tPLATFORM\tGAME\tSTATUS\tMESSAGE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.Timestamp, e.Platform, e.GameName, e.Status, e.Message)
	}
	return tw.Flush()
}

func cmdClearHistory(ctx context.Context, args []string) error {
	fs, common := newFlagSet("clear-history")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	a, err := common.open()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.ClearHistory(); err != nil {
		return err
	}
	fmt.Println("History cleared")
	return nil
}

// cmdCancel talks to a running `rgsx serve`, which owns the tasks
func cmdCancel(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("cancel", flag.ContinueOnError)
	task := fs.String("task", "", "task ID (required unless --url)")
	rawURL := fs.String("url", "", "cancel the active download of this URL")
	addr := fs.String("addr", "http://127.0.0.1:5000", "base URL of the running server")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *task == "" && *rawURL == "" {
		fmt.Fprintln(os.Stderr, "cancel: --task or --url is required")
		return errUsage
	}

	body, _ := json.Marshal(map[string]string{"task_id": *task, "url": *rawURL})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(*addr, "/")+"/api/cancel", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
		TaskID  string `json:"task_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("unexpected response (%d): %w", resp.StatusCode, err)
	}
	if !out.Success {
		return fmt.Errorf("%s", out.Error)
	}
	fmt.Println("Cancel requested for", out.TaskID)
	return nil
}

func cmdServe(ctx context.Context, args []string) error {
	fs, common := newFlagSet("serve")
	addr := fs.String("addr", "", "listen address (default from settings, "+config.DefaultWebAddr+")")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	a, err := common.open()
	if err != nil {
		return err
	}
	defer a.Close()

	listen := *addr
	if listen == "" {
		listen = a.Config.GetWebAddr()
	}
	srv, err := a.NewAPIServer()
	if err != nil {
		return err
	}
	fmt.Printf("RGSX %s serving on %s\n", app.Version, listen)
	return srv.ListenAndServe(ctx, listen)
}

func cmdWatch(ctx context.Context, args []string) error {
	fs, common := newFlagSet("watch")
	serve := fs.Bool("serve", false, "also run the web API so downloads can be started and canceled")
	addr := fs.String("addr", "", "listen address with --serve")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	if !*serve {
		// Read-only view of a history written by another process
		store := history.NewStore(common.paths().History, quietLogger())
		_, err := tui.NewWatchProgram(tui.Source{Snapshot: store.Load}).Run()
		return err
	}

	a, err := common.open()
	if err != nil {
		return err
	}
	defer a.Close()

	listen := *addr
	if listen == "" {
		listen = a.Config.GetWebAddr()
	}
	srv, err := a.NewAPIServer()
	if err != nil {
		return err
	}
	if err := srv.Start(listen); err != nil {
		return err
	}
	defer srv.Stop()

	_, err = tui.NewWatchProgram(tui.Source{Snapshot: a.Hub.Snapshot, Cancel: a.Cancel}).Run()
	return err
}

func cmdStats(ctx context.Context, args []string) error {
	fs, common := newFlagSet("stats")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	a, err := common.openReadOnly()
	if err != nil {
		return err
	}
	defer a.Close()

	data := a.Analytics()
	if *asJSON {
		return printJSON(os.Stdout, data)
	}
	fmt.Printf("Downloaded:  %.1f MB in %d files\n", float64(data.TotalDownloaded)/megabyte, data.TotalFiles)
	for status, n := range data.StatusCounts {
		fmt.Printf("  %-12s %d\n", status, n)
	}
	d := data.DiskUsage
	fmt.Printf("Roms volume: %.1f GB free of %.1f GB (%.0f%% used)\n", d.FreeGB, d.TotalGB, d.Percent)
	return nil
}

func cmdSpeedTest(ctx context.Context, args []string) error {
	fs, common := newFlagSet("speedtest")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	a, err := common.openReadOnly()
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.RunSpeedTest(ctx, func(p network.SpeedTestPhase) {
		switch p.Phase {
		case network.PhasePing:
			fmt.Printf("Server: %s\n", p.ServerName)
		case network.PhaseDownload:
			fmt.Printf("Ping: %d ms\n", p.PingMs)
		case network.PhaseUpload:
			fmt.Printf("Download: %.2f Mbps\n", p.DownloadMbps)
		}
	})
	if err != nil {
		return err
	}
	fmt.Printf("Upload: %.2f Mbps\n", res.UploadSpeed)
	return nil
}

func cmdCheckUpdate(ctx context.Context, args []string) error {
	fs, common := newFlagSet("check-update")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	a, err := common.openReadOnly()
	if err != nil {
		return err
	}
	defer a.Close()

	rel, err := a.CheckForUpdates(ctx)
	if err != nil {
		return err
	}
	if rel == nil {
		fmt.Printf("RGSX %s is up to date\n", app.Version)
		return nil
	}
	fmt.Printf("Update available: %s (%s)\n", rel.Version, rel.Archive)
	return nil
}

// parseHostLimit reads a host=n pair; n = 0 removes the host's cap
func parseHostLimit(v string) (string, int, error) {
	host, n, ok := strings.Cut(v, "=")
	host = strings.ToLower(strings.TrimSpace(host))
	if !ok || host == "" {
		return "", 0, fmt.Errorf("expected host=n, got %q", v)
	}
	limit, err := strconv.Atoi(strings.TrimSpace(n))
	if err != nil || limit < 0 {
		return "", 0, fmt.Errorf("invalid limit for %s: %q", host, n)
	}
	return host, limit, nil
}

func cmdSettings(ctx context.Context, args []string) error {
	fs, common := newFlagSet("settings")
	maxConcurrent := fs.Int("max-concurrent", 0, "parallel downloads, 1 to 10")
	speedLimit := fs.Int("speed-limit", -1, "global cap in KB/s, 0 for unlimited")
	hostLimits := map[string]int{}
	fs.Func("host-limit", "per-host cap as host=n, repeatable; n=0 removes it", func(v string) error {
		host, limit, err := parseHostLimit(v)
		if err == nil {
			hostLimits[host] = limit
		}
		return err
	})
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	a, err := common.openReadOnly()
	if err != nil {
		return err
	}
	defer a.Close()

	changed := false
	if *maxConcurrent > 0 {
		if err := a.SetMaxConcurrentDownloads(*maxConcurrent); err != nil {
			return err
		}
		changed = true
	}
	if *speedLimit >= 0 {
		if err := a.SetGlobalSpeedLimit(*speedLimit * 1024); err != nil {
			return err
		}
		changed = true
	}
	if len(hostLimits) > 0 {
		limits := a.Config.GetHostLimits()
		for host, limit := range hostLimits {
			limits[host] = limit
		}
		if err := a.SetHostLimits(limits); err != nil {
			return err
		}
		changed = true
	}

	snap := a.Config.Snapshot()
	if *asJSON {
		return printJSON(os.Stdout, snap)
	}
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%-15s %v\n", k, snap[k])
	}
	if changed {
		fmt.Println("A running server applies the changes on its next start; use the web API to change it live")
	}
	return nil
}

func cmdVersion(ctx context.Context, args []string) error {
	fmt.Println("RGSX", app.Version)
	return nil
}

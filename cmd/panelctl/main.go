// Copyright 2026 The Panel Engine Authors

// Command panelctl is a debug/operator CLI for submitting on-demand
// override requests directly onto the Request Channel, and for reading
// back the engine's published on-demand state. It talks straight to
// Redis rather than through an HTTP control API, since no such API is
// part of this engine.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/ledwall/panelengine/internal/config"
	"github.com/ledwall/panelengine/internal/reqchan"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("panelctl", flag.ContinueOnError)
	configPath := fs.String("config", "./config/paneld.yaml", "path to the engine config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		return usageError()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RequestChannel.Addr,
		Password: cfg.RequestChannel.Password,
		DB:       cfg.RequestChannel.DB,
	})
	rc := reqchan.NewRedisFromClient(client)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch rest[0] {
	case "start":
		return cmdStart(ctx, rc, rest[1:])
	case "stop":
		return cmdStop(ctx, rc)
	case "status":
		return cmdStatus(ctx, rc)
	default:
		return usageError()
	}
}

func usageError() error {
	return fmt.Errorf("usage: panelctl [-config path] <start|stop|status> [args]\n" +
		"  start <plugin_id> [mode] [duration_seconds] [--pin]\n" +
		"  stop\n" +
		"  status")
}

func cmdStart(ctx context.Context, rc reqchan.RequestChannel, rest []string) error {
	var pinned bool
	var positional []string
	for _, a := range rest {
		if a == "--pin" {
			pinned = true
			continue
		}
		positional = append(positional, a)
	}
	if len(positional) == 0 {
		return fmt.Errorf("start requires a plugin_id")
	}

	req := reqchanRequest{
		RequestID: uuid.NewString(),
		Action:    "start",
		PluginID:  positional[0],
		Pinned:    pinned,
		Timestamp: float64(time.Now().Unix()),
	}
	if len(positional) > 1 {
		req.Mode = positional[1]
	}
	if len(positional) > 2 {
		var secs float64
		if _, err := fmt.Sscanf(positional[2], "%f", &secs); err != nil {
			return fmt.Errorf("invalid duration_seconds %q: %w", positional[2], err)
		}
		req.Duration = &secs
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if err := rc.Set(ctx, reqchan.KeyOnDemandRequest, string(payload)); err != nil {
		return fmt.Errorf("submit start request: %w", err)
	}
	fmt.Printf("submitted start request %s for plugin %q\n", req.RequestID, req.PluginID)
	return nil
}

func cmdStop(ctx context.Context, rc reqchan.RequestChannel) error {
	req := reqchanRequest{
		RequestID: uuid.NewString(),
		Action:    "stop",
		Timestamp: float64(time.Now().Unix()),
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if err := rc.Set(ctx, reqchan.KeyOnDemandRequest, string(payload)); err != nil {
		return fmt.Errorf("submit stop request: %w", err)
	}
	fmt.Printf("submitted stop request %s\n", req.RequestID)
	return nil
}

func cmdStatus(ctx context.Context, rc reqchan.RequestChannel) error {
	raw, ok, err := rc.Get(ctx, reqchan.KeyOnDemandState)
	if err != nil {
		return fmt.Errorf("read on-demand state: %w", err)
	}
	if !ok {
		fmt.Println("no on-demand state published")
		return nil
	}
	fmt.Println(raw)
	return nil
}

// reqchanRequest mirrors ondemand.Request's wire shape without importing
// the ondemand package, keeping this CLI's dependency surface to config
// and reqchan only.
type reqchanRequest struct {
	RequestID string   `json:"request_id"`
	Action    string   `json:"action"`
	PluginID  string   `json:"plugin_id,omitempty"`
	Mode      string   `json:"mode,omitempty"`
	Duration  *float64 `json:"duration,omitempty"`
	Pinned    bool     `json:"pinned,omitempty"`
	Timestamp float64  `json:"timestamp,omitempty"`
}

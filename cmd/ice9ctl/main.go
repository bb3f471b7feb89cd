// Command ice9ctl is a small operator tool for querying a running
// daemon's admin API.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	addr := flag.String("addr", "http://127.0.0.1:8080", "admin API base address")
	cmd := flag.String("cmd", "sessions", "sessions | audit | ping")
	flag.Parse()

	log := buildLogger().Named("main")

	client := &http.Client{Timeout: 5 * time.Second}

	var path string
	switch *cmd {
	case "sessions":
		path = "/api/sessions"
	case "audit":
		path = "/api/audit/recent"
	case "ping":
		path = "/api/ping"
	default:
		fmt.Fprintf(os.Stderr, "ice9ctl: unknown -cmd %q (want sessions, audit, or ping)\n", *cmd)
		os.Exit(2)
	}

	url := *addr + path
	resp, err := client.Get(url)
	if err != nil {
		log.Fatal("request failed", zap.String("url", url), zap.Error(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatal("read response failed", zap.Error(err))
	}

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "ice9ctl: %s returned %s: %s\n", url, resp.Status, body)
		os.Exit(1)
	}

	var pretty interface{}
	if err := json.Unmarshal(body, &pretty); err != nil {
		os.Stdout.Write(body)
		return
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(pretty)
}

func buildLogger() *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.TimeKey = ""
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.DisableStacktrace = true
	cfg.DisableCaller = true
	return zap.Must(cfg.Build())
}

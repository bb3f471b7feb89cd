// Command ice9d is the ICE-9 remote execution daemon.
package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/solemnwarning/ice-9/internal/adminhttp"
	"github.com/solemnwarning/ice-9/internal/audit"
	"github.com/solemnwarning/ice-9/internal/fmtt"
	"github.com/solemnwarning/ice-9/internal/server"
	"github.com/solemnwarning/ice-9/internal/session"
)

func main() {
	listenAddr := flag.String("listen", ":5424", "address to accept ICE-9 connections on")
	capacity := flag.Int("capacity", server.DefaultCapacity, "maximum concurrent connections")
	adminAddr := flag.String("admin-addr", "", "address to serve the read-only admin API on (empty disables it)")
	auditRedisAddr := flag.String("audit-redis-addr", "", "Redis address to record session history to (empty disables it)")
	flag.Parse()

	log := buildLogger()
	defer log.Sync()
	log = log.Named("main")

	var auditSink *audit.Sink
	if *auditRedisAddr != "" {
		auditSink = audit.NewSink(*auditRedisAddr, log)
		defer auditSink.Close()
	}

	spawner := &session.ExecSpawner{Env: os.Environ()}
	srv := server.New(log, spawner, *capacity)
	if auditSink != nil {
		srv.OnClosed(func(info session.Info) {
			rec := audit.Record{
				ConnID:     info.ID,
				RemoteAddr: info.RemoteAddr,
				AppPath:    info.AppPath,
				CmdLine:    info.CmdLine,
				WorkDir:    info.WorkDir,
				Pid:        info.Pid,
				ExitCode:   info.ExitCode,
				StartedAt:  info.StartedAt,
				ClosedAt:   time.Now(),
			}
			auditSink.Record(rec)
		})
	}

	if *adminAddr != "" {
		adminSrv := &http.Server{
			Addr:         *adminAddr,
			Handler:      adminhttp.New(log, srv, auditSink),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			log.Info("admin API listening", zap.String("addr", *adminAddr))
			if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("admin API failed", zap.Error(err))
			}
		}()
	}

	ln, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ice9d: listen on %s failed:\n", *listenAddr)
		fmtt.PrintErrChainDebug(os.Stderr, err)
		os.Exit(1)
	}

	if err := srv.Serve(ln); err != nil {
		log.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}

func buildLogger() *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.DisableStacktrace = true
	cfg.DisableCaller = true
	cfg.Level.SetLevel(zap.DebugLevel)
	return zap.Must(cfg.Build())
}


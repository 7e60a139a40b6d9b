// Package main provides the mudforge console MUD client.
// It connects to a MUD over Telnet, renders its ANSI output and runs Lua
// scripts typed at the prompt.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/mudforge/internal/client"
	"github.com/cory-johannsen/mudforge/internal/config"
	"github.com/cory-johannsen/mudforge/internal/console"
	"github.com/cory-johannsen/mudforge/internal/lifecycle"
	"github.com/cory-johannsen/mudforge/internal/observability"
	"github.com/cory-johannsen/mudforge/internal/scripting"
	"github.com/cory-johannsen/mudforge/internal/scrollback"
	"github.com/cory-johannsen/mudforge/internal/telnet"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "", "path to configuration file")
	worldPath := flag.String("world", "", "path to a world YAML file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	var world *config.World
	if *worldPath != "" {
		w, err := config.LoadWorld(*worldPath)
		if err != nil {
			log.Fatalf("loading world: %v", err)
		}
		w.Apply(&cfg)
		world = &w
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting mudforge",
		zap.String("config", *configPath),
		zap.String("world", *worldPath),
	)

	buf := scrollback.New(cfg.Display.ScrollbackCapacity)
	transport := telnet.NewTransport(cfg.Connection, buf, logger)

	bridge, err := scripting.NewBridge(buf, transport, cfg.Scripting, logger)
	if err != nil {
		logger.Fatal("starting script engine", zap.Error(err))
	}
	defer bridge.Close()

	session := client.NewSession(buf, transport, bridge, cfg, logger)
	loop := &console.Loop{
		Session:      session,
		Buffer:       buf,
		Renderer:     console.NewRenderer(os.Stdout),
		Input:        os.Stdin,
		TickInterval: cfg.Display.TickInterval,
		Tail:         cfg.Display.Tail,
		Logger:       logger,
	}

	// a failed connect is reported in the scrollback; the user can retry
	// with #connect
	ctx := context.Background()
	switch {
	case world != nil:
		_ = session.ConnectWorld(ctx, *world)
	case cfg.Connection.Host != "":
		_ = session.Connect(ctx, cfg.Connection.Host, cfg.Connection.Port)
	}

	lc := lifecycle.New(logger)
	lc.Add("console", &lifecycle.FuncService{StartFn: loop.Run})

	logger.Info("client initialized",
		zap.Duration("startup", time.Since(start)),
		zap.String("addr", cfg.Connection.Addr()),
		zap.Bool("connected", session.IsConnected()),
	)

	if err := lc.Run(ctx); err != nil {
		logger.Fatal("client error", zap.Error(err))
	}
}

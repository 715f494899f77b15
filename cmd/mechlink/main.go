package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"

	"github.com/mechlink/mechlink/embedding"
	"github.com/mechlink/mechlink/observability"
	"github.com/mechlink/mechlink/poster"
	"github.com/mechlink/mechlink/remote"
)

func main() {
	var (
		configFile = flag.String("config", "", "Path to session config JSON file")
		script     = flag.String("script", "", "Script to evaluate in the embedded session")
		project    = flag.String("open", "", "Project file to open before evaluating or serving")
		serve      = flag.String("serve", "", "Address to serve the remote control API on (e.g. :8087)")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging to stderr")
	)
	flag.Parse()

	if *script == "" && *serve == "" {
		fmt.Fprintln(os.Stderr, "Usage: mechlink [-config <file>] [-open <project>] (-script <text> | -serve <addr>)")
		flag.PrintDefaults()
		os.Exit(1)
	}

	cfg := embedding.DefaultConfig()
	if *configFile != "" {
		loaded, err := embedding.LoadConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = *loaded
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	observability.RegisterObserver("slog", observability.NewSlogObserver(logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// This goroutine is the embedded host's main execution context.
	mainCtx := poster.WithMainContext(ctx)

	session, err := embedding.New(mainCtx, &cfg)
	if err != nil {
		log.Fatalf("Failed to start embedded session: %v", err)
	}
	defer session.Dispose(context.Background())

	if *project != "" {
		if err := session.Open(mainCtx, *project); err != nil {
			log.Fatalf("Failed to open project: %v", err)
		}
	}

	if *script != "" {
		result, err := session.RunScript(mainCtx, *script)
		if err != nil {
			log.Fatalf("Script failed: %v", err)
		}
		fmt.Printf("%v\n", result)
	}

	if *serve != "" {
		server := remote.NewServer(
			remote.NewSessionEngine(session),
			remote.WithServerObserver(observability.NewSlogObserver(logger)),
		)

		go func() {
			if err := server.ListenAndServe(ctx, *serve); err != nil {
				logger.Error("server stopped", slog.String("error", err.Error()))
				stop()
			}
		}()

		logger.Info("serving remote control API",
			slog.String("addr", *serve),
			slog.String("session_id", session.ID()),
		)

		// Serve posted work until interrupted.
		if err := session.Run(mainCtx); err != nil {
			log.Fatalf("Main loop failed: %v", err)
		}
	}
}

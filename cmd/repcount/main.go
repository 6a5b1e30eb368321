// Command repcount counts exercise repetitions from a pose stream and serves
// the counter over HTTP.
//
// Usage:
//
//	repcount [serve] [-listen :8080] [-grpc :9090] [flags]
//	repcount export -db repcount.db -out ./exports <session-id>
//	repcount migrate -db repcount.db up|down|version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/repcount/internal/api"
	"github.com/banshee-data/repcount/internal/config"
	"github.com/banshee-data/repcount/internal/counterrpc"
	"github.com/banshee-data/repcount/internal/db"
	"github.com/banshee-data/repcount/internal/exercise"
	"github.com/banshee-data/repcount/internal/export"
	"github.com/banshee-data/repcount/internal/monitoring"
	"github.com/banshee-data/repcount/internal/pipeline"
	"github.com/banshee-data/repcount/internal/pose"
	"github.com/banshee-data/repcount/internal/replay"
	"github.com/banshee-data/repcount/internal/timeutil"
	"github.com/banshee-data/repcount/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatalf("repcount: %v", err)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	cmd := "serve"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}
	switch cmd {
	case "serve":
		opts, err := parseServeFlags(args)
		if err != nil {
			return err
		}
		if opts.showVersion {
			fmt.Fprintln(stdout, version.String())
			return nil
		}
		return serve(ctx, opts)
	case "export":
		return runExport(ctx, args, stdout)
	case "migrate":
		return runMigrate(args, stdout)
	case "version":
		fmt.Fprintln(stdout, version.String())
		return nil
	}
	return fmt.Errorf("unknown command %q", cmd)
}

type serveOptions struct {
	listen        string
	grpcListen    string
	dbPath        string
	tuningPath    string
	exercisesPath string
	replayFront   string
	replayBack    string
	replayRate    float64
	synthetic     string
	fps           float64
	recordPath    string
	autostart     string
	increment     float64
	verbose       bool
	showVersion   bool
}

func parseServeFlags(args []string) (serveOptions, error) {
	var o serveOptions
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.StringVar(&o.listen, "listen", ":8080", "HTTP listen address")
	fs.StringVar(&o.grpcListen, "grpc", "", "gRPC listen address for the counter service (empty disables it)")
	fs.StringVar(&o.dbPath, "db", "repcount.db", "SQLite database for session history (empty disables history)")
	fs.StringVar(&o.tuningPath, "tuning", "", "JSON file overriding classifier thresholds")
	fs.StringVar(&o.exercisesPath, "exercises", "", "YAML file overriding the exercise catalog")
	fs.StringVar(&o.replayFront, "replay", "", "JSONL pose recording used as the front camera")
	fs.StringVar(&o.replayBack, "replay-back", "", "JSONL pose recording used as the back camera (defaults to -replay)")
	fs.Float64Var(&o.replayRate, "replay-rate", 1, "replay speed multiplier; 0 replays without pacing")
	fs.StringVar(&o.synthetic, "synthetic", "Squat", "exercise pattern rendered when no recording is given")
	fs.Float64Var(&o.fps, "fps", 30, "frame rate of the synthetic source")
	fs.StringVar(&o.recordPath, "record", "", "write every displayed frame to this JSONL file")
	fs.StringVar(&o.autostart, "start", "", "exercise to start counting immediately")
	fs.Float64Var(&o.increment, "increment", 0, "calories per repetition for -start (0 derives it from the catalog)")
	fs.BoolVar(&o.verbose, "v", false, "verbose logging")
	fs.BoolVar(&o.showVersion, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.listen == "" {
		return o, errors.New("listen address is required")
	}
	if o.fps <= 0 {
		return o, fmt.Errorf("fps must be positive, got %v", o.fps)
	}
	if o.replayBack == "" {
		o.replayBack = o.replayFront
	}
	return o, nil
}

// sourceFactory opens a recording per camera, or a synthetic stream when no
// recording is configured.
func sourceFactory(o serveOptions, clock timeutil.Clock) pipeline.SourceFactory {
	return func(_ context.Context, facing pipeline.Facing) (pose.Source, error) {
		path := o.replayFront
		if facing == pipeline.FacingBack {
			path = o.replayBack
		}
		if path == "" {
			return replay.NewSyntheticSource(clock, o.fps, replay.PatternFor(o.synthetic)), nil
		}
		src, err := replay.OpenFile(path, clock)
		if err != nil {
			return nil, err
		}
		src.Rate = o.replayRate
		return src, nil
	}
}

func serve(ctx context.Context, o serveOptions) error {
	monitoring.SetVerbose(o.verbose)
	monitoring.Logf("%s starting", version.String())

	tuning := config.DefaultTuningConfig()
	if o.tuningPath != "" {
		var err error
		if tuning, err = config.LoadTuningConfig(o.tuningPath); err != nil {
			return fmt.Errorf("load tuning: %w", err)
		}
	}
	catalog := exercise.Builtin()
	if o.exercisesPath != "" {
		var err error
		if catalog, err = exercise.LoadOverrides(o.exercisesPath); err != nil {
			return fmt.Errorf("load exercises: %w", err)
		}
	}

	clock := timeutil.RealClock{}
	opts := pipeline.Options{
		Sources: sourceFactory(o, clock),
		Catalog: catalog,
		Tuning:  tuning,
		Clock:   clock,
	}

	var (
		store    api.SessionStore
		database *db.DB
	)
	if o.dbPath != "" {
		var err error
		if database, err = db.NewDB(o.dbPath); err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer database.Close()
		opts.Store = database
		store = database
	}

	if o.recordPath != "" {
		rec, err := replay.CreateRecorder(o.recordPath)
		if err != nil {
			return fmt.Errorf("open recording: %w", err)
		}
		defer func() {
			if err := rec.Close(); err != nil {
				monitoring.Logf("closing recording: %v", err)
			}
			monitoring.Logf("recorded %d frames to %s", rec.Frames(), o.recordPath)
		}()
		opts.Display = rec
	}

	ctrl, err := pipeline.NewController(opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := ctrl.Stop(); err != nil && !errors.Is(err, pipeline.ErrNotRunning) {
			monitoring.Logf("final session: %v", err)
		}
	}()

	mux := api.NewServer(ctrl, store).ServeMux()
	if database != nil {
		if err := database.AttachAdminRoutes(mux); err != nil {
			return err
		}
	}

	if o.grpcListen != "" {
		lis, err := net.Listen("tcp", o.grpcListen)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcCtx, stopGRPC := context.WithCancel(ctx)
		grpcDone := make(chan struct{})
		go func() {
			defer close(grpcDone)
			if err := counterrpc.Serve(grpcCtx, lis, counterrpc.NewServer(ctrl.Accumulator(), ctrl.Status)); err != nil {
				monitoring.Logf("gRPC server: %v", err)
			}
		}()
		defer func() {
			stopGRPC()
			<-grpcDone
		}()
	}

	if o.autostart != "" {
		if err := ctrl.Start(ctx, pipeline.SessionConfig{Exercise: o.autostart, CalorieIncrement: o.increment}); err != nil {
			return fmt.Errorf("start %q: %w", o.autostart, err)
		}
	}

	server := &http.Server{
		Addr:              o.listen,
		Handler:           api.LoggingMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		monitoring.Logf("listening on %s", o.listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	monitoring.Logf("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("HTTP server shutdown error: %v", err)
	}
	monitoring.Logf("Graceful shutdown complete")
	return nil
}

func runExport(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	dbPath := fs.String("db", "repcount.db", "SQLite database")
	out := fs.String("out", ".", "directory to write exports into")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: repcount export [-db path] [-out dir] <session-id>")
	}

	database, err := db.NewDB(*dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	sum, err := database.Session(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	paths, err := export.WriteAll(*out, sum)
	for _, p := range paths {
		fmt.Fprintln(stdout, p)
	}
	return err
}

func runMigrate(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	dbPath := fs.String("db", "repcount.db", "SQLite database")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: repcount migrate [-db path] up|down|version")
	}

	database, err := db.OpenDB(*dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	switch fs.Arg(0) {
	case "up":
		err = database.MigrateUp()
	case "down":
		err = database.MigrateDown()
	case "version":
	default:
		return fmt.Errorf("unknown migrate action %q", fs.Arg(0))
	}
	if err != nil {
		return err
	}
	v, dirty, err := database.MigrateVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "schema version %d (dirty=%v)\n", v, dirty)
	return nil
}

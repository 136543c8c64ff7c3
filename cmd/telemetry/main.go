package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/telemetry.report/internal/api"
	"github.com/banshee-data/telemetry.report/internal/config"
	"github.com/banshee-data/telemetry.report/internal/db"
	"github.com/banshee-data/telemetry.report/internal/demod"
	"github.com/banshee-data/telemetry.report/internal/fsutil"
	"github.com/banshee-data/telemetry.report/internal/hub"
	"github.com/banshee-data/telemetry.report/internal/ingest"
	"github.com/banshee-data/telemetry.report/internal/queue"
	"github.com/banshee-data/telemetry.report/internal/recordlog"
	"github.com/banshee-data/telemetry.report/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to a JSON station config (optional)")
	listen      = flag.String("listen", "", "Listen address (default :8084)")
	dbPath      = flag.String("db", "", "SQLite database path (default telemetry.db)")
	logDir      = flag.String("log-dir", "", "Directory for the per-session record log (default logs)")
	noLog       = flag.Bool("no-log", false, "Disable the per-session record log")
	demodCmd    = flag.String("demod", "", "Demodulator command (default gfsk, \"none\" disables)")
	serialPort  = flag.String("serial", "", "Read demodulator output from this serial port instead of a command")
	baudRate    = flag.Int("baud", 0, "Serial baud rate (default 115200)")
	replayPath  = flag.String("replay", "", "Replay a captured demodulator output file")
	replayEvery = flag.Duration("replay-interval", 0, "Delay between replayed lines (default 100ms)")
	replayLoop  = flag.Bool("replay-loop", false, "Restart the replay when it reaches the end")
	queueCap    = flag.Int("queue", 0, "Maximum records buffered for /getdata (default 10000)")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

// options is the resolved service configuration: flags take precedence over
// the station config, which takes precedence over built-in defaults.
type options struct {
	Listen    string
	DBPath    string
	LogDir    string
	LogPrefix string

	DemodCommand   string
	Frequencies    []float64
	SerialPort     string
	BaudRate       int
	ReplayPath     string
	ReplayInterval time.Duration
	ReplayLoop     bool

	QueueCapacity    int
	SubscriberBuffer int

	SpeedUnits  string
	HeightUnits string
}

func resolveOptions(cfg *config.StationConfig, args []string) (options, error) {
	if cfg == nil {
		cfg = &config.StationConfig{}
	}
	o := options{
		Listen:           cfg.GetListen(),
		DBPath:           cfg.GetDBPath(),
		LogDir:           cfg.GetLogDir(),
		LogPrefix:        cfg.GetLogPrefix(),
		DemodCommand:     cfg.GetDemodCommand(),
		Frequencies:      cfg.GetFrequencies(),
		SerialPort:       cfg.GetSerialPort(),
		BaudRate:         cfg.GetBaudRate(),
		ReplayPath:       cfg.GetReplayPath(),
		ReplayInterval:   cfg.GetReplayInterval(),
		ReplayLoop:       cfg.GetReplayLoop(),
		QueueCapacity:    cfg.GetQueueCapacity(),
		SubscriberBuffer: cfg.GetSubscriberBuffer(),
		SpeedUnits:       cfg.GetSpeedUnits(),
		HeightUnits:      cfg.GetHeightUnits(),
	}

	if *listen != "" {
		o.Listen = *listen
	}
	if *dbPath != "" {
		o.DBPath = *dbPath
	}
	if *logDir != "" {
		o.LogDir = *logDir
	}
	if *noLog {
		o.LogDir = ""
	}
	if *demodCmd != "" {
		o.DemodCommand = *demodCmd
	}
	if *serialPort != "" {
		o.SerialPort = *serialPort
	}
	if *baudRate > 0 {
		o.BaudRate = *baudRate
	}
	if *replayPath != "" {
		o.ReplayPath = *replayPath
	}
	if *replayEvery > 0 {
		o.ReplayInterval = *replayEvery
	}
	if *replayLoop {
		o.ReplayLoop = true
	}
	if *queueCap > 0 {
		o.QueueCapacity = *queueCap
	}

	if len(args) > 0 {
		freqs, err := parseFrequencies(args)
		if err != nil {
			return options{}, err
		}
		o.Frequencies = freqs
	}
	return o, nil
}

// parseFrequencies reads receive frequencies in Hz from positional arguments.
func parseFrequencies(args []string) ([]float64, error) {
	freqs := make([]float64, 0, len(args))
	for _, a := range args {
		f, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid frequency %q: %w", a, err)
		}
		if f <= 0 {
			return nil, fmt.Errorf("frequency must be positive, got %q", a)
		}
		freqs = append(freqs, f)
	}
	return freqs, nil
}

// sourceName labels the demodulator source for the session row.
func (o options) sourceName() string {
	switch {
	case o.ReplayPath != "":
		return "replay:" + o.ReplayPath
	case o.SerialPort != "":
		return "serial:" + o.SerialPort
	case o.DemodCommand == "" || o.DemodCommand == "none":
		return "none"
	default:
		return "process:" + o.DemodCommand
	}
}

// openSource creates the demodulator mux. A replay wins over a serial port,
// which wins over running the demodulator command.
func openSource(o options) (demod.MuxInterface, error) {
	muxOpts := []demod.Option{demod.WithSubscriberBuffer(o.SubscriberBuffer)}
	switch {
	case o.ReplayPath != "":
		return demod.NewReplayMux(o.ReplayPath, demod.ReplayOptions{
			Interval: o.ReplayInterval,
			Loop:     o.ReplayLoop,
		}, muxOpts...)
	case o.SerialPort != "":
		return demod.NewSerialMux(o.SerialPort, demod.PortOptions{BaudRate: o.BaudRate}, muxOpts...)
	case o.DemodCommand == "" || o.DemodCommand == "none":
		return demod.NewDisabledMux(), nil
	default:
		return demod.NewProcessMux(o.DemodCommand, demod.FrequencyArgs(o.Frequencies), muxOpts...)
	}
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("telemetry %s\n", version.Get())
		return
	}

	var cfg *config.StationConfig
	if *configPath != "" {
		var err error
		cfg, err = config.LoadStationConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	} else {
		cfg = &config.StationConfig{}
	}

	if flag.NArg() > 0 && flag.Arg(0) == "migrate" {
		path := cfg.GetDBPath()
		if *dbPath != "" {
			path = *dbPath
		}
		if err := runMigrate(path, flag.Args()[1:]); err != nil {
			log.Fatal(err)
		}
		return
	}

	opts, err := resolveOptions(cfg, flag.Args())
	if err != nil {
		log.Fatalf("invalid arguments: %v", err)
	}

	ln, err := net.Listen("tcp", opts.Listen)
	if err != nil {
		log.Fatalf("failed to listen on %s: %v", opts.Listen, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, ln, opts); err != nil {
		log.Fatal(err)
	}
	log.Printf("Graceful shutdown complete")
}

// serve runs the service on ln until ctx is cancelled.
func serve(ctx context.Context, ln net.Listener, o options) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store, err := db.NewDB(o.DBPath)
	if err != nil {
		ln.Close()
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	session, err := store.StartSession(o.sourceName())
	if err != nil {
		ln.Close()
		return fmt.Errorf("failed to start session: %w", err)
	}
	log.Printf("session %s started (source %s)", session.ID, session.Source)

	source, err := openSource(o)
	if err != nil {
		ln.Close()
		return fmt.Errorf("failed to open demodulator source: %w", err)
	}
	defer source.Close()

	buffer := queue.NewBuffer(o.QueueCapacity)
	live := hub.New[ingest.Event](hub.WithClientBuffer[ingest.Event](o.SubscriberBuffer))

	hcfg := ingest.Config{
		Queue:     buffer,
		Store:     store,
		SessionID: session.ID,
		Live:      live,
	}
	if o.LogDir != "" {
		rl, err := recordlog.Open(fsutil.OSFileSystem{}, o.LogDir, o.LogPrefix, time.Now())
		if err != nil {
			ln.Close()
			return fmt.Errorf("failed to open record log: %w", err)
		}
		defer rl.Close()
		log.Printf("logging records to %s", rl.Path())
		hcfg.Log = rl
	}
	handler := ingest.NewHandler(hcfg)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		live.Run(ctx)
	}()

	// subscribe before the monitor starts so no line is missed
	id, lines := source.Subscribe()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := source.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor demodulator: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer source.Unsubscribe(id)
		err := handler.Run(ctx, lines)
		switch {
		case err == nil:
			// the subscription closes early only when the source has no more lines
			log.Printf("WARNING: demodulator source %s ended; no further packets will be received", o.sourceName())
		case !errors.Is(err, context.Canceled):
			log.Printf("ingest routine stopped: %v", err)
		}
		log.Print("ingest routine terminated")
	}()

	mux := api.NewServer(api.Config{
		Queue:       buffer,
		Store:       store,
		Status:      handler,
		Live:        live,
		Demod:       source,
		SpeedUnits:  o.SpeedUnits,
		HeightUnits: o.HeightUnits,
	}).ServeMux()
	source.AttachAdminRoutes(mux)
	if err := store.AttachAdminRoutes(mux); err != nil {
		log.Printf("failed to attach database admin routes: %v", err)
	}

	server := &http.Server{Handler: api.LoggingMiddleware(mux)}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", ln.Addr())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		runErr = fmt.Errorf("http server: %w", err)
	}

	log.Println("shutting down HTTP server...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}

	cancel()
	wg.Wait()
	return runErr
}

// runMigrate applies schema changes without starting the service.
func runMigrate(path string, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: telemetry migrate up|down|version")
	}

	store, err := db.OpenDB(path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	switch args[0] {
	case "up":
		if err := store.MigrateUp(db.MigrationsFS()); err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, "migrations applied")
	case "down":
		if err := store.MigrateDown(db.MigrationsFS()); err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, "rolled back one migration")
	case "version":
		v, dirty, err := store.MigrateVersion(db.MigrationsFS())
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "version %d (dirty: %v)\n", v, dirty)
	default:
		return fmt.Errorf("unknown migrate command %q", args[0])
	}
	return nil
}

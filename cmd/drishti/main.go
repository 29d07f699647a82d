package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ayusman/drishti/internal/app"
	"github.com/ayusman/drishti/internal/canvas"
	"github.com/ayusman/drishti/internal/capture"
	"github.com/ayusman/drishti/internal/config"
	"github.com/ayusman/drishti/internal/detector"
	"github.com/ayusman/drishti/internal/display"
	"github.com/ayusman/drishti/internal/engine"
	"github.com/ayusman/drishti/internal/mode"
	"github.com/ayusman/drishti/internal/server"
	"github.com/ayusman/drishti/internal/store"
	"github.com/ayusman/drishti/internal/tray"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("drishti stopped")
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to a YAML config file")
		addr       = flag.String("addr", "", "HTTP listen address")
		modeSlug   = flag.String("mode", "", "mode mounted at startup")
		device     = flag.Int("device", -1, "camera device ID")
		window     = flag.Bool("window", false, "show the annotated view in a native window")
		withTray   = flag.Bool("tray", false, "show the system tray menu")
		logLevel   = flag.String("log-level", "", "log level (trace, debug, info, warn, error)")
		pretty     = flag.Bool("pretty", false, "human readable console logs")
		listModes  = flag.Bool("list", false, "list the modes and exit")
	)
	flag.Parse()

	if *listModes {
		for _, m := range mode.All() {
			fmt.Printf("%-26s %s\n", m.Slug, m.Title)
		}
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	applyFlags(cfg, flagSet, flagValues{
		addr:     *addr,
		mode:     *modeSlug,
		device:   *device,
		window:   *window,
		tray:     *withTray,
		logLevel: *logLevel,
		pretty:   *pretty,
	})
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	setupLogging(cfg.Log)
	log.Info().Msg("Drishti - live camera annotation")

	if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	st, err := store.New(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	engines := engine.NewManager(cfg.Detector.EngineDir)
	if err := engines.Discover(); err != nil {
		log.Warn().Err(err).Str("dir", cfg.Detector.EngineDir).Msg("engine discovery failed")
	}
	for _, eng := range engines.List() {
		log.Info().Str("engine", eng.Manifest.Name).Strs("tasks", eng.Manifest.Tasks).Msg("engine discovered")
	}
	mediapipe := mediaPipeConfig(cfg)
	if mediapipe.Available() {
		log.Info().Str("script", mediapipe.Script).Str("python", mediapipe.Python).Msg("mediapipe engine found")
	} else {
		log.Warn().Msg("mediapipe engine not found, hand and pose modes need an installed engine")
	}
	resolver := detector.NewResolver(engines, engine.NewExecutor(cfg.Detector.InitTimeout), cfg.Detector.ModelDir).
		UseMediaPipe(mediapipe)

	surface := canvas.New()
	application := app.New(app.Config{
		Store:   st,
		Surface: surface,
		NewSource: func() capture.Source {
			return capture.NewCamera(cfg.Camera.Device, capture.Options{
				Width:  cfg.Camera.Width,
				Height: cfg.Camera.Height,
				FPS:    cfg.Camera.FPS,
			})
		},
		Factory: func(m mode.Mode) detector.Factory {
			return resolver.Factory(m.Task)
		},
		RefreshHz: cfg.Loop.RefreshHz,
	})
	defer application.Close()

	staticDir := cfg.Server.StaticDir
	if staticDir == "" {
		staticDir = findWebDir(cfg.Storage.DataDir)
	}
	if staticDir != "" {
		log.Info().Str("dir", staticDir).Msg("serving static files")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(server.Config{
		StaticDir: staticDir,
		App:       application,
		Canvas:    surface,
	})
	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.ListenAndServe(ctx, cfg.Server.Addr)
		stop()
	}()

	startMode(application, cfg.UI.DefaultMode)

	var ui *tray.Tray
	if cfg.UI.Tray {
		var closeTray func()
		ui, closeTray = newTray(application, cfg.Server.Addr, stop)
		defer closeTray()
		go func() {
			<-ctx.Done()
			ui.Quit()
		}()
	}

	// The native front ends own the main thread while they run.
	switch {
	case cfg.UI.Window && ui != nil:
		go runWindow(ctx, surface, application, stop)
		ui.Run()
		stop()
	case cfg.UI.Window:
		runWindow(ctx, surface, application, stop)
	case ui != nil:
		ui.Run()
		stop()
	}

	err = <-srvErr
	if uerr := application.Unmount(); uerr != nil && !errors.Is(uerr, app.ErrNotMounted) {
		log.Warn().Err(uerr).Msg("mode ended with error")
	}
	log.Info().Msg("shutdown complete")
	return err
}

type flagValues struct {
	addr     string
	mode     string
	device   int
	window   bool
	tray     bool
	logLevel string
	pretty   bool
}

// applyFlags copies the flags the user set over cfg.
func applyFlags(cfg *config.Config, set func(name string) bool, v flagValues) {
	if set("addr") {
		cfg.Server.Addr = v.addr
	}
	if set("mode") {
		cfg.UI.DefaultMode = v.mode
	}
	if set("device") {
		cfg.Camera.Device = v.device
	}
	if set("window") {
		cfg.UI.Window = v.window
	}
	if set("tray") {
		cfg.UI.Tray = v.tray
	}
	if set("log-level") {
		cfg.Log.Level = v.logLevel
	}
	if set("pretty") {
		cfg.Log.Pretty = v.pretty
	}
}

func flagSet(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// startMode mounts slug, or the last mounted mode when slug is empty.
func startMode(a *app.App, slug string) {
	if slug == "" {
		last, err := a.LastMode()
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			log.Warn().Err(err).Msg("failed to read last mode")
		}
		slug = last
	}
	if slug == "" {
		return
	}
	if _, err := a.Mount(slug); err != nil {
		log.Error().Err(err).Str("mode", slug).Msg("failed to mount mode")
	}
}

// newTray builds the tray menu and keeps it in sync with the app. The
// returned function stops the sync.
func newTray(a *app.App, addr string, quit func()) (*tray.Tray, func()) {
	ui := tray.New()
	ui.OnSelect(func(slug string) {
		if _, err := a.Mount(slug); err != nil {
			log.Error().Err(err).Str("mode", slug).Msg("failed to mount mode")
		}
	})
	ui.OnStop(func() {
		if err := a.Unmount(); err != nil && !errors.Is(err, app.ErrNotMounted) {
			log.Warn().Err(err).Msg("mode ended with error")
		}
	})
	ui.OnOpen(func() {
		if err := openBrowser(localURL(addr)); err != nil {
			log.Error().Err(err).Msg("failed to open browser")
		}
	})
	ui.OnQuit(quit)

	events, cancel := a.Subscribe()
	go func() {
		for e := range events {
			if e.Type == app.EventUnmounted {
				ui.SetMode("", "")
				continue
			}
			ui.SetMode(e.Mode, e.Message)
		}
	}()
	if st, ok := a.Current(); ok {
		ui.SetMode(st.Mode, st.Message)
	}
	return ui, cancel
}

func runWindow(ctx context.Context, surface *canvas.Canvas, a *app.App, quit func()) {
	w := display.New("Drishti", surface, func() string {
		return windowMessage(a.Current())
	})
	err := w.Run(ctx)
	if err != nil && !errors.Is(err, display.ErrClosed) {
		log.Error().Err(err).Msg("display window failed")
	}
	quit()
}

// windowMessage is the text the window shows instead of video: the state
// message, or the error that stopped the loop of an active mode.
func windowMessage(st app.Status, mounted bool) string {
	if !mounted {
		return "Choose a mode"
	}
	if st.Error != "" {
		return st.Error
	}
	return st.Message
}

// mediaPipeConfig locates the MediaPipe engine, preferring configured paths.
func mediaPipeConfig(cfg *config.Config) detector.MediaPipeConfig {
	mp := detector.FindMediaPipe(cfg.Storage.DataDir)
	if cfg.Detector.MediaPipeScript != "" {
		mp.Script = cfg.Detector.MediaPipeScript
	}
	if cfg.Detector.Python != "" {
		mp.Python = cfg.Detector.Python
	}
	return mp
}

func localURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and <dataDir>/web.
// Returns the first existing directory or empty string if none found.
func findWebDir(dataDir string) string {
	for _, p := range []string{"web", "../web", "../../web", filepath.Join(dataDir, "web")} {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}
	return ""
}

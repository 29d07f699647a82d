// Package config loads drishti settings from defaults, an optional YAML
// file, a .env file and DRISHTI_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/ayusman/drishti/internal/mode"
)

// EnvFile is the dotenv file read from the working directory.
const EnvFile = ".env"

// Config is the complete application configuration.
type Config struct {
	Camera   CameraConfig   `yaml:"camera"`
	Loop     LoopConfig     `yaml:"loop"`
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Detector DetectorConfig `yaml:"detector"`
	UI       UIConfig       `yaml:"ui"`
	Log      LogConfig      `yaml:"log"`
}

// CameraConfig selects and sizes the capture device.
type CameraConfig struct {
	Device int `yaml:"device"`
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
	FPS    int `yaml:"fps"`
}

// LoopConfig tunes the render loop.
type LoopConfig struct {
	RefreshHz float64 `yaml:"refresh_hz"` // display refresh rate the loop ticks at
}

// ServerConfig contains the HTTP listener settings.
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	StaticDir string `yaml:"static_dir"` // empty disables the web UI
}

// StorageConfig locates persistent state.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// DetectorConfig locates engines and models.
type DetectorConfig struct {
	EngineDir   string        `yaml:"engine_dir"`
	ModelDir    string        `yaml:"model_dir"`
	InitTimeout time.Duration `yaml:"init_timeout"` // bounds engine probe and start

	// MediaPipe engine script and interpreter. Empty values are searched
	// for in the working directory, next to the binary and in the data dir.
	MediaPipeScript string `yaml:"mediapipe_script"`
	Python          string `yaml:"python"`
}

// UIConfig toggles the native front ends.
type UIConfig struct {
	Window      bool   `yaml:"window"`
	Tray        bool   `yaml:"tray"`
	DefaultMode string `yaml:"default_mode"` // mounted at startup when set
}

// LogConfig controls zerolog output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	dataDir := ".drishti"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".drishti")
	}

	return &Config{
		Camera: CameraConfig{
			Device: 0,
			Width:  640,
			Height: 480,
			FPS:    30,
		},
		Loop:    LoopConfig{RefreshHz: 60},
		Server:  ServerConfig{Addr: ":8080"},
		Storage: StorageConfig{DataDir: dataDir},
		Detector: DetectorConfig{
			EngineDir:   filepath.Join(dataDir, "engines"),
			ModelDir:    filepath.Join(dataDir, "models"),
			InitTimeout: 30 * time.Second,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load builds the configuration. path names an optional YAML file; an empty
// path skips it. A missing .env file is ignored.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := godotenv.Load(EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", EnvFile, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	flt := func(key string, dst *float64) {
		if v, ok := os.LookupEnv(key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	num("DRISHTI_CAMERA_DEVICE", &c.Camera.Device)
	num("DRISHTI_CAMERA_WIDTH", &c.Camera.Width)
	num("DRISHTI_CAMERA_HEIGHT", &c.Camera.Height)
	num("DRISHTI_CAMERA_FPS", &c.Camera.FPS)
	flt("DRISHTI_REFRESH_HZ", &c.Loop.RefreshHz)
	str("DRISHTI_ADDR", &c.Server.Addr)
	str("DRISHTI_STATIC_DIR", &c.Server.StaticDir)
	str("DRISHTI_DATA_DIR", &c.Storage.DataDir)
	str("DRISHTI_ENGINE_DIR", &c.Detector.EngineDir)
	str("DRISHTI_MODEL_DIR", &c.Detector.ModelDir)
	dur("DRISHTI_INIT_TIMEOUT", &c.Detector.InitTimeout)
	str("DRISHTI_MEDIAPIPE_SCRIPT", &c.Detector.MediaPipeScript)
	str("DRISHTI_PYTHON", &c.Detector.Python)
	boolean("DRISHTI_WINDOW", &c.UI.Window)
	boolean("DRISHTI_TRAY", &c.UI.Tray)
	str("DRISHTI_MODE", &c.UI.DefaultMode)
	str("DRISHTI_LOG_LEVEL", &c.Log.Level)
	boolean("DRISHTI_LOG_PRETTY", &c.Log.Pretty)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %w", errors.Join(errs...))
	}
	return nil
}

// Validate checks the configuration for values the application cannot run
// with.
func (c *Config) Validate() error {
	var errs []error

	if c.Camera.Device < 0 {
		errs = append(errs, fmt.Errorf("camera.device must not be negative, got %d", c.Camera.Device))
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		errs = append(errs, fmt.Errorf("camera size must be positive, got %dx%d", c.Camera.Width, c.Camera.Height))
	}
	if c.Camera.FPS <= 0 {
		errs = append(errs, fmt.Errorf("camera.fps must be positive, got %d", c.Camera.FPS))
	}
	if c.Loop.RefreshHz <= 0 {
		errs = append(errs, fmt.Errorf("loop.refresh_hz must be positive, got %v", c.Loop.RefreshHz))
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Storage.DataDir == "" {
		errs = append(errs, errors.New("storage.data_dir is required"))
	}
	if c.Detector.InitTimeout <= 0 {
		errs = append(errs, fmt.Errorf("detector.init_timeout must be positive, got %v", c.Detector.InitTimeout))
	}
	if c.UI.DefaultMode != "" {
		if _, err := mode.Lookup(c.UI.DefaultMode); err != nil {
			errs = append(errs, fmt.Errorf("ui.default_mode: %w", err))
		}
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	return errors.Join(errs...)
}

// DBPath is the SQLite database location.
func (c *Config) DBPath() string {
	return filepath.Join(c.Storage.DataDir, "drishti.db")
}

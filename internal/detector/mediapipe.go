package detector

import (
	"context"
	"os"
	"path/filepath"
)

// MediaPipeScript is the Python engine serving every task with MediaPipe
// Tasks over the process protocol.
const MediaPipeScript = "mediapipe_engine.py"

// MediaPipeConfig locates the MediaPipe engine script and the interpreter
// that runs it.
type MediaPipeConfig struct {
	Script string
	Python string // defaults to python3
}

// Available reports whether the script exists.
func (c MediaPipeConfig) Available() bool {
	return c.Script != "" && fileExists(c.Script)
}

// MediaPipeFactory returns a Factory starting the MediaPipe engine script as
// a long-lived process. The script downloads remote model assets itself.
func MediaPipeFactory(cfg MediaPipeConfig) Factory {
	return func(ctx context.Context, opts Options) (Detector, error) {
		python := cfg.Python
		if python == "" {
			python = "python3"
		}
		return StartProcess(ctx, Command{
			Name: BackendMediaPipe,
			Path: python,
			Args: []string{cfg.Script},
			Dir:  filepath.Dir(cfg.Script),
		}, opts)
	}
}

// FindMediaPipe looks for the engine script and a virtualenv interpreter in
// the working directory, next to the executable and under dataDir.
func FindMediaPipe(dataDir string) MediaPipeConfig {
	return MediaPipeConfig{
		Script: findMediaPipeScript(dataDir),
		Python: findVenvPython(dataDir),
	}
}

func findMediaPipeScript(dataDir string) string {
	candidates := []string{
		filepath.Join("scripts", MediaPipeScript),
		filepath.Join("..", "scripts", MediaPipeScript),
	}
	if dir := executableDir(); dir != "" {
		candidates = append(candidates, filepath.Join(dir, "scripts", MediaPipeScript))
	}
	if dataDir != "" {
		candidates = append(candidates, filepath.Join(dataDir, "scripts", MediaPipeScript))
	}
	return firstExisting(candidates)
}

// findVenvPython looks for a Python interpreter in a virtual environment.
func findVenvPython(dataDir string) string {
	venv := filepath.Join("venv", "bin", "python")
	candidates := []string{
		venv,
		filepath.Join("..", venv),
		filepath.Join("..", "..", venv),
	}
	if dir := executableDir(); dir != "" {
		candidates = append(candidates, filepath.Join(dir, venv))
	}
	if dataDir != "" {
		candidates = append(candidates, filepath.Join(dataDir, venv))
	}
	return firstExisting(candidates)
}

func executableDir() string {
	path, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Dir(path)
}

func firstExisting(paths []string) string {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if abs, err := filepath.Abs(path); err == nil {
				return abs
			}
			return path
		}
	}
	return ""
}

package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/piggy-diary/piggy/internal/defaults"
)

// runInit prepares a working directory: a data directory, a starter
// config.yaml (0600, it may hold API keys) and an editable persona.md.
// Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Piggy workspace in %s\n", dir)

	dataDir := filepath.Join(dir, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dataDir, err)
	}

	if err := writeIfMissing(w, filepath.Join(dir, "config.yaml"), defaults.ConfigYAML, 0o600); err != nil {
		return err
	}
	if err := writeIfMissing(w, filepath.Join(dir, "persona.md"), defaults.PersonaMD, 0o644); err != nil {
		return err
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Set your API keys in config.yaml (or the environment), then run: piggy serve")
	fmt.Fprintln(w, "To use persona.md, set persona.file in config.yaml.")
	return nil
}

// writeIfMissing creates path with content and mode, reporting the
// outcome to w. An existing file is left untouched.
func writeIfMissing(w io.Writer, path string, content []byte, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if errors.Is(err, fs.ErrExist) {
		fmt.Fprintf(w, "  - %s (exists, skipping)\n", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	fmt.Fprintf(w, "  ✓ %s\n", path)
	return nil
}

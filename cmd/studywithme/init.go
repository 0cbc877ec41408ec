package main

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/nugget/studywithme/internal/defaults"
	"github.com/nugget/studywithme/internal/tools"
)

// runInit creates a working directory with an example config.yaml, a
// db/ directory for the SQLite backend and an editable copy of the
// built-in syllabi. Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing studywithme workspace in %s\n", dir)

	for _, sub := range []string{"db", "syllabi"} {
		path := filepath.Join(dir, sub)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
	}

	// config.yaml may hold API keys.
	configPath := filepath.Join(dir, "config.yaml")
	if err := writeIfMissing(configPath, defaults.ConfigYAML, 0o600); err != nil {
		return err
	}
	fmt.Fprintf(w, "  ✓ %s\n", configPath)

	builtin := tools.BuiltinSyllabi()
	names, err := fs.Glob(builtin, "*.md")
	if err != nil {
		return fmt.Errorf("list syllabi: %w", err)
	}
	for _, name := range names {
		content, err := fs.ReadFile(builtin, name)
		if err != nil {
			return fmt.Errorf("read embedded %s: %w", name, err)
		}
		destPath := filepath.Join(dir, "syllabi", name)
		if err := writeIfMissing(destPath, content, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(w, "  ✓ %s\n", destPath)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit config.yaml to choose a model, then add your own syllabi under syllabi/.")
	return nil
}

// writeIfMissing writes content to path only if the file does not
// already exist.
func writeIfMissing(path string, content []byte, perm os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.WriteFile(path, content, perm); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

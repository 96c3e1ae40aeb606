package deskshare

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// InitLogger installs a tint handler as the default slog logger.
func InitLogger(config *Config) {
	slog.SetDefault(slog.New(newHandler(os.Stdout, config.GetSlogLevel(), false)))
}

func newHandler(w io.Writer, level slog.Level, noColor bool) slog.Handler {
	_, filename, _, _ := runtime.Caller(0)
	projectRoot := getProjectRoot(filename)

	// Source paths are printed relative to the module root.
	replaceAttr := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key != slog.SourceKey {
			return a
		}
		source, ok := a.Value.Any().(*slog.Source)
		if !ok {
			return a
		}
		if projectRoot != "" && strings.HasPrefix(source.File, projectRoot+string(os.PathSeparator)) {
			source.File = source.File[len(projectRoot)+1:]
		}
		return slog.Any(a.Key, source)
	}

	return tint.NewHandler(w, &tint.Options{
		Level:       level,
		AddSource:   true,
		NoColor:     noColor,
		TimeFormat:  time.RFC3339,
		ReplaceAttr: replaceAttr,
	})
}

// getProjectRoot walks up from internal/deskshare/logger.go to the module root.
func getProjectRoot(file string) string {
	if file == "" {
		return ""
	}
	return filepath.Dir(filepath.Dir(filepath.Dir(file)))
}

package nativelog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestWriterRotatesDaily(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	assert.Equal(t, err, nil)

	day := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return day }
	_, err = w.Write([]byte("first\n"))
	assert.Equal(t, err, nil)

	day = day.Add(2 * time.Minute)
	_, err = w.Write([]byte("second\n"))
	assert.Equal(t, err, nil)
	assert.Equal(t, w.Close(), nil)

	a, _ := os.ReadFile(filepath.Join(dir, "slidecraft_2026-03-01.log"))
	b, _ := os.ReadFile(filepath.Join(dir, "slidecraft_2026-03-02.log"))
	assert.Equal(t, string(a), "first\n")
	assert.Equal(t, string(b), "second\n")
}

func TestPrune(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"slidecraft_2026-01-01.log",
		"slidecraft_2026-03-10.log",
		"slidecraft_bogus.log",
		"other.log",
	} {
		assert.Equal(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644), nil)
	}

	removed, err := Prune(dir, 14, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, err, nil)
	assert.Equal(t, removed, []string{"slidecraft_2026-01-01.log"})

	entries, _ := os.ReadDir(dir)
	assert.Equal(t, len(entries), 3)
}

func TestResolveDirPrefersExplicitThenEnv(t *testing.T) {
	t.Setenv(EnvLogDir, "/from/env")
	assert.Equal(t, ResolveDir(" /explicit "), "/explicit")
	assert.Equal(t, ResolveDir(""), "/from/env")
}

func TestNewZapLoggerWritesFile(t *testing.T) {
	dir := t.TempDir()
	log, w, err := NewZapLogger(Options{Dir: dir})
	assert.Equal(t, err, nil)
	log.Info("hello file")
	_ = log.Sync()
	_ = w.Close()

	data, err := os.ReadFile(filepath.Join(dir, DailyFilename(time.Now())))
	assert.Equal(t, err, nil)
	assert.Equal(t, strings.Contains(string(data), "hello file"), true)
}

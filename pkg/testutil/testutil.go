// Package testutil provides test fixtures shared by the orodw packages.
package testutil

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ajitpratap0/orodw/pkg/config"
	"github.com/stretchr/testify/require"
)

// TestContext creates a test context with a 30-second timeout, cancelled when
// the test completes.
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// Settings returns default settings whose output, state and log directories
// live under a fresh temporary directory. Parquet and CSV export are both on
// and every incremental switch is off.
func Settings(t *testing.T) *config.Settings {
	t.Helper()
	dir := t.TempDir()
	s := config.NewSettings()
	s.ExportParquet = true
	s.ExportCSV = true
	s.ParquetDir = filepath.Join(dir, "parquet")
	s.CSVDir = filepath.Join(dir, "csv")
	s.StateDir = filepath.Join(dir, "state")
	s.LogsDir = filepath.Join(dir, "logs")
	s.Incremental = map[string]bool{}
	return s
}

// WriteFiles writes name → content pairs into a fresh temporary directory and
// returns it.
func WriteFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
	return dir
}

// ReadCSV reads a whole uncompressed CSV artifact, header first.
func ReadCSV(t *testing.T, path string) [][]string {
	t.Helper()
	fh, err := os.Open(path) //nolint:gosec // test fixture
	require.NoError(t, err)
	defer fh.Close()
	records, err := csv.NewReader(fh).ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, records, "missing header in %s", path)
	return records
}

// Column returns the cells of the named column below the header, or nil when
// the header lacks it.
func Column(records [][]string, name string) []string {
	idx := -1
	for i, h := range records[0] {
		if h == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	out := make([]string, 0, len(records)-1)
	for _, r := range records[1:] {
		out = append(out, r[idx])
	}
	return out
}

package watermark

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ajitpratap0/orodw/pkg/dwerrors"
	"github.com/ajitpratap0/orodw/pkg/schema"
	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"
)

const fileExt = ".json"

type record struct {
	Watermark string `json:"watermark"`
}

// FileStore keeps one JSON file per target under a directory:
//
//	<dir>/<target>.json  {"watermark": "2024-03-01 10:00:05"}
type FileStore struct {
	dir    string
	logger *zap.Logger
}

// NewFileStore creates a store rooted at dir. The directory is created on
// first write.
func NewFileStore(dir string, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{dir: dir, logger: logger.With(zap.String("component", "watermark_store"))}
}

// Path returns the state file of target.
func (s *FileStore) Path(target string) string {
	return filepath.Join(s.dir, target+fileExt)
}

// Read returns the committed watermark, or nil when the file does not exist.
// An unreadable or malformed file is logged and treated as absent, which
// triggers a full reload rather than skipping data.
func (s *FileStore) Read(_ context.Context, target string) (*Watermark, error) {
	if err := checkTarget(target); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path(target))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, dwerrors.Wrap(err, dwerrors.ErrorTypeState, "failed to read watermark").
			WithDetail("target", target)
	}

	var rec record
	if err := gojson.Unmarshal(data, &rec); err != nil || rec.Watermark == "" {
		s.logger.Warn("ignoring malformed watermark file",
			zap.String("target", target),
			zap.String("path", s.Path(target)),
			zap.Error(err))
		return nil, nil
	}
	w, err := Parse(rec.Watermark)
	if err != nil {
		s.logger.Warn("ignoring unparseable watermark",
			zap.String("target", target),
			zap.String("value", rec.Watermark),
			zap.Error(err))
		return nil, nil
	}
	return &w, nil
}

// Write persists w for target by writing a temporary file and renaming it
// over the previous one.
func (s *FileStore) Write(_ context.Context, target string, w Watermark) error {
	if err := checkTarget(target); err != nil {
		return err
	}
	data, err := gojson.MarshalIndent(record{Watermark: w.String()}, "", "  ")
	if err != nil {
		return dwerrors.Wrap(err, dwerrors.ErrorTypeState, "failed to encode watermark").
			WithDetail("target", target)
	}
	if err := writeAtomic(s.dir, s.Path(target), data); err != nil {
		return dwerrors.Wrap(err, dwerrors.ErrorTypeState, "failed to write watermark").
			WithDetail("target", target)
	}
	s.logger.Debug("watermark committed", zap.String("target", target), zap.String("watermark", w.String()))
	return nil
}

// Delete removes the state of target so its next run bootstraps.
func (s *FileStore) Delete(_ context.Context, target string) error {
	if err := checkTarget(target); err != nil {
		return err
	}
	err := os.Remove(s.Path(target))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return dwerrors.Wrap(err, dwerrors.ErrorTypeState, "failed to delete watermark").
			WithDetail("target", target)
	}
	return nil
}

// List returns every committed watermark in the directory.
func (s *FileStore) List(ctx context.Context) (map[string]Watermark, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]Watermark{}, nil
	}
	if err != nil {
		return nil, dwerrors.Wrap(err, dwerrors.ErrorTypeState, "failed to list watermarks")
	}
	out := make(map[string]Watermark, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		target := strings.TrimSuffix(name, fileExt)
		if !schema.ValidIdentifier(target) {
			continue
		}
		w, err := s.Read(ctx, target)
		if err != nil {
			return nil, err
		}
		if w != nil {
			out[target] = *w
		}
	}
	return out, nil
}

func checkTarget(target string) error {
	if !schema.ValidIdentifier(target) {
		return dwerrors.New(dwerrors.ErrorTypeValidation, "invalid target name").WithDetail("target", target)
	}
	return nil
}

func writeAtomic(dir, path string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Package sqlrunner executes the granular view scripts that prepare the
// warehouse source schema.
//
// Every *.sql file of a directory runs in lexical order inside its own
// transaction, with search_path set to the target schema followed by the
// source schemas. A failing file is rolled back and the runner continues with
// the next one.
package sqlrunner

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ajitpratap0/orodw/pkg/dwerrors"
	"github.com/ajitpratap0/orodw/pkg/schema"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

var blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)

// Split removes block comments and "--" comment lines and splits the script
// on ';'. Functions with embedded semicolons must live alone in a file
// without a terminating ';'.
func Split(script string) []string {
	script = blockComment.ReplaceAllString(script, "")
	var lines []string
	for _, line := range strings.Split(script, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		lines = append(lines, line)
	}

	var stmts []string
	for _, part := range strings.Split(strings.Join(lines, "\n"), ";") {
		if s := strings.TrimSpace(part); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}

// SearchPath renders the SET LOCAL search_path statement for schemas.
func SearchPath(schemas []string) (string, error) {
	if len(schemas) == 0 {
		return "", dwerrors.New(dwerrors.ErrorTypeConfig, "search path is empty")
	}
	quoted := make([]string, len(schemas))
	for i, s := range schemas {
		if !schema.ValidIdentifier(s) {
			return "", dwerrors.New(dwerrors.ErrorTypeConfig, "invalid schema identifier").WithDetail("schema", s)
		}
		quoted[i] = pgx.Identifier{s}.Sanitize()
	}
	return "SET LOCAL search_path TO " + strings.Join(quoted, ", "), nil
}

// Files lists the *.sql files of dir in lexical order.
func Files(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.IsDir()) {
		return nil, dwerrors.New(dwerrors.ErrorTypeFile, "sql directory not found").WithDetail("dir", dir)
	}
	if err != nil {
		return nil, dwerrors.Wrap(err, dwerrors.ErrorTypeFile, "failed to read sql directory")
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, dwerrors.Wrap(err, dwerrors.ErrorTypeFile, "failed to list sql files")
	}
	sort.Strings(files)
	return files, nil
}

// Summary reports a directory run.
type Summary struct {
	Files  int
	OK     int
	Failed []string
}

// Runner executes scripts against a database.
type Runner struct {
	db         *sql.DB // nil in dry-run mode
	searchPath []string
	dryRun     bool
	logger     *zap.Logger
}

// New creates a runner. db may be nil when dryRun is set.
func New(db *sql.DB, searchPath []string, dryRun bool, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		db:         db,
		searchPath: searchPath,
		dryRun:     dryRun,
		logger:     logger.With(zap.String("component", "sqlrunner")),
	}
}

// RunDir executes every script of dir. Only a missing directory or an
// invalid search path is returned as an error; failing files are counted in
// the summary.
func (r *Runner) RunDir(ctx context.Context, dir string) (Summary, error) {
	var sum Summary
	setPath, err := SearchPath(r.searchPath)
	if err != nil {
		return sum, err
	}
	files, err := Files(dir)
	if err != nil {
		return sum, err
	}
	sum.Files = len(files)
	if len(files) == 0 {
		r.logger.Warn("no sql files found", zap.String("dir", dir))
		return sum, nil
	}
	if !r.dryRun && r.db == nil {
		return sum, dwerrors.New(dwerrors.ErrorTypeConnection, "no database connection")
	}

	r.logger.Info("running granular sql",
		zap.String("dir", dir),
		zap.Int("files", len(files)),
		zap.Strings("search_path", r.searchPath),
		zap.Bool("dry_run", r.dryRun))

	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		name := filepath.Base(path)
		log := r.logger.With(zap.String("file", name), zap.Int("index", i+1), zap.Int("total", len(files)))

		data, err := os.ReadFile(path)
		if err != nil {
			log.Error("failed to read file", zap.Error(err))
			sum.Failed = append(sum.Failed, name)
			continue
		}
		stmts := Split(string(data))
		log.Info("statements detected", zap.Int("statements", len(stmts)))

		if r.dryRun {
			sum.OK++
			continue
		}

		start := time.Now()
		if err := r.runFile(ctx, setPath, stmts, log); err != nil {
			log.Error("rolled back", zap.Error(err))
			sum.Failed = append(sum.Failed, name)
			continue
		}
		sum.OK++
		log.Info("committed", zap.Duration("duration", time.Since(start)))
	}

	r.logger.Info("granular sql finished", zap.Int("ok", sum.OK), zap.Int("total", sum.Files))
	return sum, nil
}

func (r *Runner) runFile(ctx context.Context, setPath string, stmts []string, log *zap.Logger) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return dwerrors.Wrap(err, dwerrors.ErrorTypeConnection, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Warn("rollback failed", zap.Error(rbErr))
			}
		}
	}()

	if _, err = tx.ExecContext(ctx, setPath); err != nil {
		return dwerrors.Wrap(err, dwerrors.ErrorTypeQuery, "failed to set search_path")
	}
	for i, stmt := range stmts {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return dwerrors.Wrap(err, dwerrors.ErrorTypeQuery, "statement failed").
				WithDetail("statement", i+1)
		}
		log.Debug("statement ok", zap.Int("statement", i+1), zap.Int("statements", len(stmts)))
	}
	if err = tx.Commit(); err != nil {
		return dwerrors.Wrap(err, dwerrors.ErrorTypeQuery, "commit failed")
	}
	return nil
}

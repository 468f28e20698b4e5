package report

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"logsentinel/internal/fileutil"
	"logsentinel/internal/lockfile"
	"logsentinel/internal/logging"
	"logsentinel/internal/services"
	"logsentinel/internal/textutil"
)

// WorkersDir holds per-worker reports beside the stage directories.
const WorkersDir = ".workers"

const maxCollisionSuffix = 1000

// Store reads and writes reports under a root directory.
type Store struct {
	root   string
	logger *slog.Logger
	now    func() time.Time
}

// NewStore returns a store rooted at root.
func NewStore(root string, logger *slog.Logger) *Store {
	return &Store{
		root:   root,
		logger: logging.NewComponentLogger(logger, "report"),
		now:    time.Now,
	}
}

// SetClock overrides the clock used for file names; intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// StageDir returns the directory holding a stage's reports.
func (s *Store) StageDir(sourceID, stage string) string {
	return filepath.Join(s.root, sourceID, stageSlug(stage))
}

// Save persists r for sourceID under the stage directory and returns the path.
// ReportType is set to stage.
func (s *Store) Save(ctx context.Context, sourceID, stage string, loc *time.Location, r Report) (string, error) {
	if err := validateSourceID(sourceID); err != nil {
		return "", err
	}
	r.ReportType = stage
	return s.write(ctx, s.StageDir(sourceID, stage), loc, r)
}

// SaveWorker persists a single map worker output outside any stage directory.
func (s *Store) SaveWorker(ctx context.Context, sourceID, stage, worker string, loc *time.Location, r Report) (string, error) {
	if err := validateSourceID(sourceID); err != nil {
		return "", err
	}
	r.ReportType = stage
	r.Worker = worker
	dir := filepath.Join(s.root, sourceID, WorkersDir, stageSlug(stage), stageSlug(worker))
	return s.write(ctx, dir, loc, r)
}

func (s *Store) write(ctx context.Context, stageDir string, loc *time.Location, r Report) (string, error) {
	if loc == nil {
		loc = time.UTC
	}
	if r.SummaryStats == nil {
		r.SummaryStats = map[string]any{}
	}
	now := s.now().In(loc)
	if r.ReportGeneratedTime == "" {
		r.ReportGeneratedTime = FormatTime(now)
	}
	dir := filepath.Join(stageDir, now.Format("2006-01-02"))
	base := now.Format("15-04-05")

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	var path string
	// The lock serialises collision probing for concurrent worker saves.
	err := lockfile.With(ctx, filepath.Join(dir, ".reports"), func() error {
		candidate, err := freeName(dir, base)
		if err != nil {
			return err
		}
		if err := fileutil.WriteJSONAtomic(candidate, r); err != nil {
			return err
		}
		path = candidate
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("save report: %w", err)
	}
	s.logger.Info("report saved",
		logging.String("path", path),
		logging.String("report_type", r.ReportType),
		logging.String(logging.FieldWorker, r.Worker),
	)
	return path, nil
}

func freeName(dir, base string) (string, error) {
	for n := 0; n < maxCollisionSuffix; n++ {
		name := base + ".json"
		if n > 0 {
			name = fmt.Sprintf("%s-%d.json", base, n)
		}
		candidate := filepath.Join(dir, name)
		if _, err := os.Lstat(candidate); errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		} else if err != nil {
			return "", fmt.Errorf("probe report name: %w", err)
		}
	}
	return "", fmt.Errorf("no free report name for %s in %s", base, dir)
}

// Load reads a report file.
func (s *Store) Load(path string) (Report, error) {
	var r Report
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return r, services.Wrap(services.ErrNotFound, "report", "load", path, err)
		}
		return r, fmt.Errorf("read report %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return r, services.Wrap(services.ErrValidation, "report", "decode", path, err)
	}
	return r, nil
}

// Entry is a listed report file.
type Entry struct {
	Path    string
	ModTime time.Time
}

// List returns every report for a stage ordered by modification time
// ascending, ties broken by path with collision suffixes compared numerically. Dot files, dot directories and non-JSON
// files are ignored. A missing stage directory yields an empty list.
func (s *Store) List(sourceID, stage string) ([]Entry, error) {
	if err := validateSourceID(sourceID); err != nil {
		return nil, err
	}
	root := s.StageDir(sourceID, stage)
	var entries []Entry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == root {
				return fs.SkipAll
			}
			return err
		}
		name := d.Name()
		if path != root && strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(name, ".json") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		entries = append(entries, Entry{Path: path, ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	slices.SortFunc(entries, func(a, b Entry) int {
		if c := a.ModTime.Compare(b.ModTime); c != 0 {
			return c
		}
		return compareReportPaths(a.Path, b.Path)
	})
	return entries, nil
}

// compareReportPaths orders by directory, then time stem, then the numeric
// collision suffix, so "06-30-05.json" < "06-30-05-2.json" < "06-30-05-10.json".
func compareReportPaths(a, b string) int {
	dirA, stemA, nA := splitReportName(a)
	dirB, stemB, nB := splitReportName(b)
	return cmp.Or(
		strings.Compare(dirA, dirB),
		strings.Compare(stemA, stemB),
		cmp.Compare(nA, nB),
	)
}

func splitReportName(path string) (string, string, int) {
	dir, name := filepath.Split(path)
	name = strings.TrimSuffix(name, ".json")
	if i := strings.LastIndexByte(name, '-'); i > 0 && strings.Count(name[:i], "-") == 2 {
		if n, err := strconv.Atoi(name[i+1:]); err == nil {
			return dir, name[:i], n
		}
	}
	return dir, name, 0
}

// Latest returns the newest report of a stage, if any.
func (s *Store) Latest(sourceID, stage string) (Entry, bool, error) {
	entries, err := s.List(sourceID, stage)
	if err != nil || len(entries) == 0 {
		return Entry{}, false, err
	}
	return entries[len(entries)-1], true, nil
}

// RenameSource moves a source's report tree. The target must not exist.
func (s *Store) RenameSource(oldID, newID string) error {
	if err := validateSourceID(oldID); err != nil {
		return err
	}
	if err := validateSourceID(newID); err != nil {
		return err
	}
	from := filepath.Join(s.root, oldID)
	to := filepath.Join(s.root, newID)
	if _, err := os.Stat(from); errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("stat report dir: %w", err)
	}
	if _, err := os.Stat(to); err == nil {
		return services.Wrap(services.ErrValidation, "report", "rename", fmt.Sprintf("report directory for %q already exists", newID), nil)
	}
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("rename report dir: %w", err)
	}
	s.logger.Info("report directory renamed", logging.String("from", oldID), logging.String("to", newID))
	return nil
}

func stageSlug(name string) string {
	if slug := textutil.Slugify(name); slug != "" {
		return slug
	}
	return "stage"
}

func validateSourceID(id string) error {
	if strings.TrimSpace(id) == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return services.Wrap(services.ErrValidation, "report", "source id", fmt.Sprintf("invalid source id %q", id), nil)
	}
	return nil
}

package backup

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// RetentionPolicy decides how many exports survive in each age tier.
// Exports older than a year are always pruned.
type RetentionPolicy struct {
	Hourly  int // exports younger than a day
	Daily   int // younger than a week
	Weekly  int // younger than a month
	Monthly int // younger than a year
}

// DefaultRetention keeps a day of hourlies, a week of dailies, a month of
// weeklies and a year of monthlies.
func DefaultRetention() RetentionPolicy {
	return RetentionPolicy{Hourly: 24, Daily: 7, Weekly: 4, Monthly: 12}
}

// SchedulerConfig configures the periodic export scheduler.
type SchedulerConfig struct {
	// ExportDir receives the timestamped export files.
	ExportDir string

	// Interval between exports (default: 1 hour).
	Interval time.Duration

	// Compress gzips the scheduled exports.
	Compress bool

	Retention RetentionPolicy
}

// ExportInfo describes one export file on disk.
type ExportInfo struct {
	Path      string
	Timestamp time.Time
	Size      int64
}

// Scheduler exports memory state on a timer and prunes old exports by the
// retention policy.
type Scheduler struct {
	exporter *Exporter
	cfg      SchedulerConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	lastRun time.Time
}

// NewScheduler builds a Scheduler around an Exporter.
func NewScheduler(exporter *Exporter, cfg SchedulerConfig) (*Scheduler, error) {
	if exporter == nil {
		return nil, fmt.Errorf("backup: exporter is required")
	}
	if cfg.ExportDir == "" {
		return nil, fmt.Errorf("backup: export directory is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Retention == (RetentionPolicy{}) {
		cfg.Retention = DefaultRetention()
	}
	if err := os.MkdirAll(cfg.ExportDir, 0o755); err != nil {
		return nil, fmt.Errorf("backup: create export directory: %w", err)
	}
	return &Scheduler{exporter: exporter, cfg: cfg, stopCh: make(chan struct{})}, nil
}

// Start runs the export loop until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("backup: scheduler is already running")
	}
	s.running = true
	s.mu.Unlock()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	log.Printf("backup: scheduler started: interval=%v, dir=%s", s.cfg.Interval, s.cfg.ExportDir)

	for {
		select {
		case <-ctx.Done():
			log.Println("backup: scheduler stopping (context cancelled)")
			return ctx.Err()
		case <-s.stopCh:
			log.Println("backup: scheduler stopping (stop requested)")
			return nil
		case <-ticker.C:
			if result, err := s.ExportNow(ctx); err != nil {
				log.Printf("backup: scheduled export failed: %v", err)
			} else {
				log.Printf("backup: scheduled export complete: path=%s, size=%d bytes, duration=%v",
					result.Path, result.Size, result.Duration)
			}
		}
	}
}

// Stop halts the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return fmt.Errorf("backup: scheduler is not running")
	}
	close(s.stopCh)
	s.running = false
	return nil
}

// ExportNow performs an immediate export and applies retention. Retention
// failures do not fail the export.
func (s *Scheduler) ExportNow(ctx context.Context) (*ExportResult, error) {
	name := fmt.Sprintf("recall-%s.json", time.Now().Format("20060102-150405.000000"))
	if s.cfg.Compress {
		name += ".gz"
	}
	path := filepath.Join(s.cfg.ExportDir, name)

	result, err := s.exporter.ExportToFile(ctx, path, ExportOptions{Compress: s.cfg.Compress})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.lastRun = time.Now()
	s.mu.Unlock()

	if err := applyRetention(s.cfg.ExportDir, s.cfg.Retention); err != nil {
		log.Printf("backup: retention pruning failed: %v", err)
	}
	return result, nil
}

// ListExports lists export files in the directory, newest first.
func (s *Scheduler) ListExports() ([]ExportInfo, error) {
	return listExports(s.cfg.ExportDir)
}

func listExports(dir string) ([]ExportInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("backup: read export directory: %w", err)
	}

	var exports []ExportInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".json") && !strings.HasSuffix(name, ".json.gz") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		exports = append(exports, ExportInfo{
			Path:      filepath.Join(dir, name),
			Timestamp: info.ModTime(),
			Size:      info.Size(),
		})
	}

	sort.Slice(exports, func(i, j int) bool {
		return exports[i].Timestamp.After(exports[j].Timestamp)
	})
	return exports, nil
}

// applyRetention buckets exports by age and keeps only the configured
// count in each tier. Pruning continues past individual delete failures.
func applyRetention(dir string, policy RetentionPolicy) error {
	exports, err := listExports(dir)
	if err != nil {
		return err
	}
	if len(exports) == 0 {
		return nil
	}

	now := time.Now()
	var toDelete []string
	var hourly, daily, weekly, monthly []ExportInfo

	for _, exp := range exports {
		age := now.Sub(exp.Timestamp)
		switch {
		case age < 24*time.Hour:
			hourly = append(hourly, exp)
		case age < 7*24*time.Hour:
			daily = append(daily, exp)
		case age < 30*24*time.Hour:
			weekly = append(weekly, exp)
		case age < 365*24*time.Hour:
			monthly = append(monthly, exp)
		default:
			toDelete = append(toDelete, exp.Path)
		}
	}

	for _, tier := range []struct {
		exports []ExportInfo
		keep    int
	}{
		{hourly, policy.Hourly},
		{daily, policy.Daily},
		{weekly, policy.Weekly},
		{monthly, policy.Monthly},
	} {
		if len(tier.exports) > tier.keep {
			for _, exp := range tier.exports[tier.keep:] {
				toDelete = append(toDelete, exp.Path)
			}
		}
	}

	var lastErr error
	for _, path := range toDelete {
		if err := os.Remove(path); err != nil {
			lastErr = err
		}
	}
	if lastErr != nil {
		return fmt.Errorf("backup: delete old exports: %w", lastErr)
	}
	return nil
}

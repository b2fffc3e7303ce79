package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// maxChartBytes bounds the chart data returned from one run.
const maxChartBytes = 4 << 20

// Chart is a file the chart generator wrote during a run.
type Chart struct {
	Name        string
	ContentType string
	Data        []byte
}

type fileStamp struct {
	size    int64
	modTime time.Time
}

// plotSnapshot records the files already present in a plot directory, which
// is shared by every run over the same tables.
type plotSnapshot map[string]fileStamp

func snapshotPlots(dir string) (plotSnapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("usecase: read plot dir: %w", err)
	}
	snap := make(plotSnapshot, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		snap[e.Name()] = fileStamp{size: info.Size(), modTime: info.ModTime()}
	}
	return snap, nil
}

// collectCharts returns the files created or rewritten since before was
// taken, in name order. Files that would exceed maxChartBytes are skipped.
func collectCharts(ctx context.Context, dir string, before plotSnapshot) ([]Chart, error) {
	after, err := snapshotPlots(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(after))
	for name := range after {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		charts []Chart
		total  int
	)
	for _, name := range names {
		stamp := after[name]
		if prev, seen := before[name]; seen && prev.size == stamp.size && prev.modTime.Equal(stamp.modTime) {
			continue
		}
		if total+int(stamp.size) > maxChartBytes {
			slog.WarnContext(ctx, "chart skipped, response budget exhausted", "file", name, "size", stamp.size)
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("usecase: read chart %q: %w", name, err)
		}
		total += len(data)
		charts = append(charts, Chart{Name: name, ContentType: contentType(name, data), Data: data})
	}
	return charts, nil
}

func contentType(name string, data []byte) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}

func chartNames(charts []Chart) []string {
	names := make([]string, 0, len(charts))
	for _, c := range charts {
		names = append(names, c.Name)
	}
	return names
}

// Package localusage computes token-consumption telemetry from the companion
// CLI's JSONL session logs. This is plain file I/O around the core fetcher:
// the numbers survive even when the web-derived metrics are unavailable.
package localusage

import (
	"bufio"
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Summary aggregates local token telemetry for the display layer.
type Summary struct {
	TodayTokens   int64   `json:"today_tokens"`
	TodayCostUSD  float64 `json:"today_cost_usd"`
	Last30Tokens  int64   `json:"last30_tokens"`
	Last30CostUSD float64 `json:"last30_cost_usd"`
}

// ProjectRoots returns the directories that may hold session logs, honoring
// the CLI's config-dir override.
func ProjectRoots(homeDir string) []string {
	if env := strings.TrimSpace(os.Getenv("CLAUDE_CONFIG_DIR")); env != "" {
		var roots []string
		for _, raw := range strings.Split(env, ",") {
			path := strings.TrimSpace(raw)
			if path == "" {
				continue
			}
			if filepath.Base(path) != "projects" {
				path = filepath.Join(path, "projects")
			}
			roots = append(roots, path)
		}
		return roots
	}
	return []string{
		filepath.Join(homeDir, ".config", "claude", "projects"),
		filepath.Join(homeDir, ".claude", "projects"),
	}
}

// Per-million-token USD rates by model family substring. Unknown models
// contribute tokens but no cost.
var rates = []struct {
	match                 string
	input, output, cached float64
}{
	{"opus", 15.0, 75.0, 1.50},
	{"sonnet", 3.0, 15.0, 0.30},
	{"haiku", 0.80, 4.0, 0.08},
}

type dayBucket struct {
	tokens  int64
	costUSD float64
}

// Scan walks the project roots and totals assistant-message token usage for
// today and the trailing thirty days. Entries are deduplicated by
// message-ID/request-ID pair; files untouched since the window opened are
// skipped entirely.
func Scan(ctx context.Context, roots []string, now time.Time) (Summary, error) {
	today := now.Format("2006-01-02")
	since := now.AddDate(0, 0, -29)
	sinceKey := since.Format("2006-01-02")
	minMTime := since.AddDate(0, 0, -1)

	days := make(map[string]*dayBucket)
	seen := make(map[string]struct{})

	for _, root := range roots {
		if err := ctx.Err(); err != nil {
			return Summary{}, err
		}
		if _, err := os.Stat(root); err != nil {
			continue
		}
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() || !strings.HasSuffix(d.Name(), ".jsonl") {
				return nil
			}
			if info, err := d.Info(); err != nil || info.ModTime().Before(minMTime) {
				return nil
			}
			scanFile(path, sinceKey, today, days, seen)
			return nil
		})
		if err != nil {
			return Summary{}, err
		}
	}

	var out Summary
	for day, b := range days {
		out.Last30Tokens += b.tokens
		out.Last30CostUSD += b.costUSD
		if day == today {
			out.TodayTokens = b.tokens
			out.TodayCostUSD = b.costUSD
		}
	}
	return out, nil
}

type logLine struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	RequestID string `json:"requestId"`
	Message   struct {
		ID    string `json:"id"`
		Model string `json:"model"`
		Usage struct {
			InputTokens         int64 `json:"input_tokens"`
			OutputTokens        int64 `json:"output_tokens"`
			CacheReadTokens     int64 `json:"cache_read_input_tokens"`
			CacheCreationTokens int64 `json:"cache_creation_input_tokens"`
		} `json:"usage"`
	} `json:"message"`
}

func scanFile(path, sinceKey, untilKey string, days map[string]*dayBucket, seen map[string]struct{}) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 2*1024*1024)

	for sc.Scan() {
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var line logLine
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			continue
		}
		if line.Type != "assistant" || len(line.Timestamp) < 10 {
			continue
		}
		day := line.Timestamp[:10]
		if day < sinceKey || day > untilKey {
			continue
		}

		if line.Message.ID != "" && line.RequestID != "" {
			key := line.Message.ID + ":" + line.RequestID
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}

		u := line.Message.Usage
		total := u.InputTokens + u.OutputTokens + u.CacheReadTokens + u.CacheCreationTokens
		if total == 0 {
			continue
		}

		b := days[day]
		if b == nil {
			b = &dayBucket{}
			days[day] = b
		}
		b.tokens += total
		b.costUSD += costUSD(line.Message.Model, u.InputTokens, u.OutputTokens, u.CacheReadTokens+u.CacheCreationTokens)
	}
}

func costUSD(model string, input, output, cached int64) float64 {
	lower := strings.ToLower(model)
	for _, r := range rates {
		if strings.Contains(lower, r.match) {
			const million = 1_000_000
			return float64(input)*r.input/million +
				float64(output)*r.output/million +
				float64(cached)*r.cached/million
		}
	}
	return 0
}

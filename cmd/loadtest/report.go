package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc/codes"

	"github.com/vladislavdragonenkov/orderproc/internal/service/tracking"
)

// scenarioMethod собирает сквозную статистику сценария рядом с отдельными RPC.
const scenarioMethod = "scenario"

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

// orderTotals считает ответы сервиса на оформленные заказы.
type orderTotals struct {
	Confirmed       int64 `json:"confirmed"`
	Rejected        int64 `json:"rejected"`
	MalformedTrack  int64 `json:"malformed_tracking"`
	EarlyDeliveries int64 `json:"delivery_before_order"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Orders            orderTotals             `json:"orders"`
	Methods           map[string]methodReport `json:"methods"`
}

type callStats struct {
	failed    int64
	codes     map[string]int64
	latencies []time.Duration
}

func (s *callStats) report() methodReport {
	calls := int64(len(s.latencies))
	return methodReport{
		Calls:     calls,
		Success:   calls - s.failed,
		Failed:    s.failed,
		ErrorRate: ratio(s.failed, calls),
		Codes:     maps.Clone(s.codes),
		LatencyMs: buildLatencySummary(s.latencies),
	}
}

type collector struct {
	mu     sync.Mutex
	calls  map[string]*callStats
	orders orderTotals
}

func newCollector() *collector {
	return &collector{calls: make(map[string]*callStats)}
}

// record учитывает один вызов. ok=false означает неожиданный для сценария код.
func (c *collector) record(method string, latency time.Duration, code codes.Code, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.calls[method]
	if stats == nil {
		stats = &callStats{codes: make(map[string]int64)}
		c.calls[method] = stats
	}
	if !ok {
		stats.failed++
	}
	stats.codes[code.String()]++
	stats.latencies = append(stats.latencies, latency)
}

// confirmation проверяет подтверждение заказа и возвращает false, если оно нарушает контракт.
func (c *collector) confirmation(trackingNumber string, orderedAt, estimatedDelivery time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.orders.Confirmed++
	valid := true
	if !tracking.Pattern.MatchString(trackingNumber) {
		c.orders.MalformedTrack++
		valid = false
	}
	if estimatedDelivery.Before(orderedAt) {
		c.orders.EarlyDeliveries++
		valid = false
	}
	return valid
}

func (c *collector) rejected() {
	c.mu.Lock()
	c.orders.Rejected++
	c.mu.Unlock()
}

func (c *collector) snapshot(method string) (methodReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.calls[method]
	if !ok {
		return methodReport{}, false
	}
	return stats.report(), true
}

func (c *collector) buildReport(startedAt time.Time, elapsed time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: elapsed.Seconds(),
		Orders:          c.orders,
		Methods:         make(map[string]methodReport, len(c.calls)),
	}
	for method, stats := range c.calls {
		result.Methods[method] = stats.report()
	}

	scenario := result.Methods[scenarioMethod]
	result.TotalScenarios = scenario.Calls
	result.SuccessScenarios = scenario.Success
	result.FailedScenarios = scenario.Failed
	result.ErrorRate = scenario.ErrorRate
	result.ScenarioLatencyMs = scenario.LatencyMs
	if elapsed > 0 {
		result.RPS = float64(result.TotalScenarios) / elapsed.Seconds()
	}
	return result
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	switch {
	case cleanPath == "." || cleanPath == string(filepath.Separator):
		return errors.New("output path must point to a file")
	case cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)):
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return os.WriteFile(cleanPath, append(data, '\n'), 0o600)
}

func printReport(w io.Writer, result report, cfg config) {
	lat := result.ScenarioLatencyMs
	fmt.Fprintln(w, "Load test summary")
	fmt.Fprintf(w, "mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode, runTarget(cfg), result.TotalScenarios, result.SuccessScenarios, result.FailedScenarios, result.ErrorRate)
	fmt.Fprintf(w, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	fmt.Fprintf(w, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		lat.Min, lat.Avg, lat.P50, lat.P95, lat.P99, lat.Max)
	fmt.Fprintf(w, "orders: confirmed=%d rejected=%d malformed_tracking=%d delivery_before_order=%d\n",
		result.Orders.Confirmed, result.Orders.Rejected, result.Orders.MalformedTrack, result.Orders.EarlyDeliveries)

	for _, method := range slices.Sorted(maps.Keys(result.Methods)) {
		if method == scenarioMethod {
			continue
		}
		stats := result.Methods[method]
		fmt.Fprintf(w, "%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms codes=%v\n",
			method, stats.Calls, stats.Success, stats.Failed, stats.ErrorRate, stats.LatencyMs.P95, stats.Codes)
	}
}

func runTarget(cfg config) string {
	switch {
	case cfg.duration <= 0:
		return fmt.Sprintf("count:%d", cfg.total)
	case cfg.totalSet:
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	default:
		return fmt.Sprintf("duration:%s", cfg.duration)
	}
}

func buildLatencySummary(latencies []time.Duration) latencySummary {
	if len(latencies) == 0 {
		return latencySummary{}
	}

	ms := make([]float64, len(latencies))
	var sum float64
	for i, d := range latencies {
		ms[i] = float64(d.Microseconds()) / 1000
		sum += ms[i]
	}
	slices.Sort(ms)

	return latencySummary{
		Min: ms[0],
		Max: ms[len(ms)-1],
		Avg: sum / float64(len(ms)),
		P50: percentile(ms, 50),
		P95: percentile(ms, 95),
		P99: percentile(ms, 99),
	}
}

// percentile интерполирует линейно между соседними значениями отсортированного среза.
func percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}

	rank := p / 100 * float64(len(sorted)-1)
	lower := int(rank)
	if lower >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lower)
	return sorted[lower] + (sorted[lower+1]-sorted[lower])*frac
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}

package stats

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Metrics is built once per run, after every result has been gathered.
type Metrics struct {
	Width     int
	Height    int
	Workers   int
	Timestamp time.Time

	// ComputeTimes[i] is what worker i+1 reported for its stencil step.
	ComputeTimes []time.Duration
	Parallel     time.Duration
	MaxCompute   time.Duration
	SumCompute   time.Duration
	// Overhead is Parallel minus MaxCompute, floored at zero. It mixes
	// communication and synchronisation cost with partition skew.
	Overhead   time.Duration
	Sequential time.Duration
	Speedup    float64
	Efficiency float64

	// Phase timings on the coordinator.
	LoadTime     time.Duration
	DispatchTime time.Duration

	BytesSent     int64
	BytesReceived int64
	Mismatched    int
}

type Timings struct {
	Load       time.Duration
	Dispatch   time.Duration
	Parallel   time.Duration
	Sequential time.Duration
}

func NewMetrics(width, height int, compute []time.Duration, t Timings) Metrics {
	m := Metrics{
		Width:        width,
		Height:       height,
		Workers:      len(compute),
		Timestamp:    time.Now(),
		ComputeTimes: append([]time.Duration(nil), compute...),
		Parallel:     t.Parallel,
		Sequential:   t.Sequential,
		LoadTime:     t.Load,
		DispatchTime: t.Dispatch,
	}

	for _, c := range compute {
		m.MaxCompute = max(m.MaxCompute, c)
		m.SumCompute += c
	}
	m.Overhead = max(0, m.Parallel-m.MaxCompute)

	if m.Parallel > 0 {
		m.Speedup = m.Sequential.Seconds() / m.Parallel.Seconds()
	}
	if m.Workers > 0 {
		m.Efficiency = m.Speedup / float64(m.Workers)
	}
	return m
}

// Report writes the human readable metrics block.
func (m Metrics) Report(w io.Writer) {
	fmt.Fprintf(w, "\n===== Metrics =====\n")
	fmt.Fprintf(w, "Image: %dx%d, workers: %d\n", m.Width, m.Height, m.Workers)
	fmt.Fprintf(w, "Load time: %f s\n", m.LoadTime.Seconds())
	fmt.Fprintf(w, "Dispatch time: %f s\n", m.DispatchTime.Seconds())
	fmt.Fprintf(w, "Parallel time (T_parallel): %f s\n", m.Parallel.Seconds())
	fmt.Fprintf(w, "Compute time per worker:\n")
	for i, c := range m.ComputeTimes {
		fmt.Fprintf(w, "  Worker %d: %f s\n", i+1, c.Seconds())
	}
	fmt.Fprintf(w, "Max compute time: %f s\n", m.MaxCompute.Seconds())
	fmt.Fprintf(w, "Total compute time: %f s\n", m.SumCompute.Seconds())
	fmt.Fprintf(w, "Overhead (communication + synchronisation): %f s\n", m.Overhead.Seconds())
	fmt.Fprintf(w, "Bytes sent by coordinator: %d bytes\n", m.BytesSent)
	fmt.Fprintf(w, "Bytes received by coordinator: %d bytes\n", m.BytesReceived)
	fmt.Fprintf(w, "Sequential time (T_sequential): %f s\n", m.Sequential.Seconds())
	fmt.Fprintf(w, "Speedup = T_sequential / T_parallel = %f\n", m.Speedup)
	fmt.Fprintf(w, "Efficiency (speedup / workers) = %f\n", m.Efficiency)
	fmt.Fprintf(w, "Pixels differing from sequential: %d\n", m.Mismatched)
	fmt.Fprintf(w, "===================\n")
}

// WriteResults writes the report to dir/<prefix><timestamp>.txt and returns
// the path.
func WriteResults(dir, prefix string, m Metrics, inputPath, outputPath string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create results directory: %w", err)
	}

	timestamp := m.Timestamp.Format("2006-01-02_15-04-05")
	resultsFile := filepath.Join(dir, fmt.Sprintf("%s%s.txt", prefix, timestamp))

	file, err := os.Create(resultsFile)
	if err != nil {
		return "", fmt.Errorf("failed to create results file: %w", err)
	}
	defer file.Close()

	fmt.Fprintf(file, "=== Distributed Sobel Results ===\n")
	fmt.Fprintf(file, "Timestamp: %s\n", m.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(file, "Input file: %s\n", inputPath)
	fmt.Fprintf(file, "Output file: %s\n", outputPath)
	m.Report(file)

	if err := file.Close(); err != nil {
		return "", fmt.Errorf("failed to write results file: %w", err)
	}
	return resultsFile, nil
}

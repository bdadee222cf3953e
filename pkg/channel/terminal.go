package channel

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/yapay-ai/usage-sentinel/pkg/model"
)

// Terminal prints alerts to a writer, stdout by default.
type Terminal struct {
	mu  sync.Mutex
	out io.Writer
}

// NewTerminal creates a terminal channel writing to stdout.
func NewTerminal() *Terminal {
	return &Terminal{out: os.Stdout}
}

// NewTerminalWriter creates a terminal channel writing to out.
func NewTerminalWriter(out io.Writer) *Terminal {
	return &Terminal{out: out}
}

func (t *Terminal) Name() string { return "terminal" }

func (t *Terminal) Deliver(_ context.Context, alert model.Alert) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, err := fmt.Fprintf(t.out,
		"--- %s ALERT ---\n%s\nMetric: %s\nCurrent: %.2f Threshold: %.2f\nAt: %s\n%s\n",
		strings.ToUpper(string(alert.Severity)),
		alert.Title,
		alert.Metric,
		alert.CurrentValue,
		alert.ThresholdValue,
		alert.Timestamp.Format(time.RFC3339),
		alert.Message,
	)
	if err != nil {
		return fmt.Errorf("write terminal alert: %w", err)
	}
	return nil
}

func (t *Terminal) HealthCheck(_ context.Context) bool { return t.out != nil }

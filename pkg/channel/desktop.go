package channel

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/yapay-ai/usage-sentinel/pkg/model"
)

// Desktop raises native desktop notifications through notify-send.
type Desktop struct {
	command string
}

// NewDesktop creates a desktop notification channel. An empty command
// defaults to notify-send.
func NewDesktop(command string) *Desktop {
	if command == "" {
		command = "notify-send"
	}
	return &Desktop{command: command}
}

func (d *Desktop) Name() string { return "desktop" }

func (d *Desktop) Deliver(ctx context.Context, alert model.Alert) error {
	urgency := "normal"
	switch alert.Severity {
	case model.SeverityCritical:
		urgency = "critical"
	case model.SeverityInfo:
		urgency = "low"
	}

	body := fmt.Sprintf("%s\n%s: %.2f (threshold %.2f)",
		alert.Message, alert.Metric, alert.CurrentValue, alert.ThresholdValue)

	cmd := exec.CommandContext(ctx, d.command, "-u", urgency, "-a", "usage-sentinel", alert.Title, body)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("run %s: %w (%s)", d.command, err, string(out))
	}
	return nil
}

func (d *Desktop) HealthCheck(_ context.Context) bool {
	_, err := exec.LookPath(d.command)
	return err == nil
}

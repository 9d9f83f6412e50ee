package extract

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"Go2NetGuard/internal/config"

	log "github.com/sirupsen/logrus"
)

// Extractor converts a capture artifact into a tabular flow dataset (CSV,
// one row per flow, with a header line).
type Extractor interface {
	Extract(ctx context.Context, pcapPath, csvPath string) error
}

// New creates the extractor selected by the configuration.
func New(cfg *config.Config) (Extractor, error) {
	switch cfg.Extractor.Type {
	case "builtin":
		timeout, err := cfg.FlowTimeout()
		if err != nil {
			return nil, err
		}
		return NewFlowMeter(timeout), nil
	case "cicflowmeter":
		return NewCICFlowMeter(cfg.Extractor.Command, cfg.Extractor.Args), nil
	default:
		return nil, fmt.Errorf("unknown extractor type: '%s'", cfg.Extractor.Type)
	}
}

// CICFlowMeter runs the external CICFlowMeter tool. The {pcap} and {csv}
// placeholders in Args are replaced with the artifact and dataset paths.
type CICFlowMeter struct {
	Command string
	Args    []string
}

// NewCICFlowMeter creates an extractor backed by an external command.
func NewCICFlowMeter(command string, args []string) *CICFlowMeter {
	return &CICFlowMeter{Command: command, Args: args}
}

// Extract implements Extractor. The command is killed when ctx is done.
func (c *CICFlowMeter) Extract(ctx context.Context, pcapPath, csvPath string) error {
	args := c.expand(pcapPath, csvPath)
	log.WithField("args", args).Debugf("Running %s", c.Command)

	cmd := exec.CommandContext(ctx, c.Command, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s failed: %w\nOutput: %s", c.Command, err, strings.TrimSpace(string(output)))
	}

	if _, err := os.Stat(csvPath); err != nil {
		return fmt.Errorf("%s produced no dataset: %w", c.Command, err)
	}
	return nil
}

func (c *CICFlowMeter) expand(pcapPath, csvPath string) []string {
	r := strings.NewReplacer("{pcap}", pcapPath, "{csv}", csvPath)
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = r.Replace(a)
	}
	return args
}

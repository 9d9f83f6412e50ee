package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Go2NetGuard/internal/events"
	"Go2NetGuard/internal/firewall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type options struct {
	natsURL        string
	eventSubject   string
	controlSubject string
	apiAddr        string
	timeout        time.Duration
}

func main() {
	opts := &options{}

	root := &cobra.Command{
		Use:          "ng-ctl",
		Short:        "Operate a running ng-guard",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.natsURL, "nats-url", "nats://127.0.0.1:4222", "NATS server URL")
	root.PersistentFlags().StringVar(&opts.eventSubject, "event-subject", "netguard.events", "subject carrying firewall events")
	root.PersistentFlags().StringVar(&opts.controlSubject, "control-subject", "netguard.control", "subject accepting operator commands")
	root.PersistentFlags().StringVar(&opts.apiAddr, "api", "127.0.0.1:8086", "address of the ng-guard HTTP API")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 5*time.Second, "request timeout")

	root.AddCommand(
		&cobra.Command{
			Use:   "unblock <address>",
			Short: "Remove the block of an address and reset its offense count",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if _, err := netip.ParseAddr(args[0]); err != nil {
					return fmt.Errorf("invalid address '%s': %w", args[0], err)
				}
				if _, err := opts.do(cmd.Context(), events.Command{Action: events.ActionUnblock, Address: args[0]}); err != nil {
					return err
				}
				fmt.Printf("%s unblocked\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "reconcile",
			Short: "Bring the live rule set back in line with the guard's state",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				reply, err := opts.do(cmd.Context(), events.Command{Action: events.ActionReconcile})
				if err != nil {
					return err
				}
				fmt.Printf("removed %v, reinstalled %v\n", reply.Removed, reply.Installed)
				return nil
			},
		},
		&cobra.Command{
			Use:   "watch",
			Short: "Print firewall events as they happen",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.watch()
			},
		},
		&cobra.Command{
			Use:   "offenders",
			Short: "List tracked sources via the HTTP API",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.offenders(cmd.Context())
			},
		},
	)

	if err := root.ExecuteContext(context.Background()); err != nil {
		log.Fatalf("ng-ctl: %v", err)
	}
}

func (o *options) client() (*events.Client, error) {
	c, err := events.NewClient(o.natsURL, o.eventSubject, o.controlSubject)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return c, nil
}

func (o *options) do(ctx context.Context, cmd events.Command) (events.Reply, error) {
	c, err := o.client()
	if err != nil {
		return events.Reply{}, err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	return c.Do(ctx, cmd)
}

func (o *options) watch() error {
	c, err := o.client()
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return c.Watch(ctx, func(ev events.Message) {
		line := fmt.Sprintf("%s %-19s %s count=%d", ev.Time.Format(time.RFC3339), ev.Type, ev.Address, ev.Count)
		if ev.Error != "" {
			line += " error=" + ev.Error
		}
		fmt.Println(line)
	})
}

func (o *options) offenders(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+o.apiAddr+"/api/v1/offenders", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to query API: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API returned %s: %s", resp.Status, body)
	}

	var offenses []firewall.OffenseRecord
	if err := json.NewDecoder(resp.Body).Decode(&offenses); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	for _, off := range offenses {
		state := "watching"
		if off.Blocked {
			state = "BLOCKED"
		}
		fmt.Printf("%-39s %-8s offenses=%d last_seen=%s\n", off.Addr, state, off.Count, off.LastSeen.Format(time.RFC3339))
	}
	return nil
}

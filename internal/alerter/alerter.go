package alerter

import (
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"Go2NetGuard/internal/firewall"
	"Go2NetGuard/internal/model"

	log "github.com/sirupsen/logrus"
)

// Alerter collects firewall events and periodically mails a consolidated
// summary of the blocks and enforcement failures seen since the last check.
type Alerter struct {
	notifier      model.Notifier
	checkInterval time.Duration
	stopChan      chan struct{}
	wg            sync.WaitGroup

	mu      sync.Mutex
	pending []firewall.Event
}

// NewAlerter creates a new Alerter instance.
func NewAlerter(checkInterval time.Duration, notifier model.Notifier) *Alerter {
	return &Alerter{
		notifier:      notifier,
		checkInterval: checkInterval,
		stopChan:      make(chan struct{}),
	}
}

// Listener queues the events worth alerting on.
func (a *Alerter) Listener() firewall.Listener {
	return func(ev firewall.Event) {
		switch ev.Type {
		case firewall.EventBlocked, firewall.EventBlockFailed, firewall.EventReconcileInstalled:
		default:
			return
		}
		a.mu.Lock()
		a.pending = append(a.pending, ev)
		a.mu.Unlock()
	}
}

// Start begins the periodic flush of queued alerts.
func (a *Alerter) Start() {
	log.Println("Alerter started")

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		ticker := time.NewTicker(a.checkInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				a.Flush()
			case <-a.stopChan:
				return
			}
		}
	}()
}

// Stop gracefully stops the alerter and sends whatever is still queued.
func (a *Alerter) Stop() {
	log.Println("Stopping Alerter...")
	close(a.stopChan)
	a.wg.Wait()
	a.Flush()
}

// Flush sends one notification for every queued event, if any.
func (a *Alerter) Flush() {
	a.mu.Lock()
	events := a.pending
	a.pending = nil
	a.mu.Unlock()

	if len(events) == 0 {
		return
	}

	subject, body := Summary(events)
	if err := a.notifier.Send(subject, body); err != nil {
		log.Printf("ERROR: Failed to send block alert notification: %v", err)
		return
	}
	log.Printf("Block alert notification sent (%d events)", len(events))
}

// Summary renders events as an HTML mail.
func Summary(events []firewall.Event) (string, string) {
	var blocked, failed int
	var b strings.Builder
	b.WriteString("<h1>Go2NetGuard Block Summary</h1><ul>")
	for _, ev := range events {
		switch ev.Type {
		case firewall.EventBlockFailed:
			failed++
		default:
			blocked++
		}
		line := fmt.Sprintf("%s %s %s (offenses: %d)", ev.Time.UTC().Format(time.RFC3339), ev.Type, ev.Addr, ev.Count)
		if ev.Err != nil {
			line += ": " + ev.Err.Error()
		}
		b.WriteString("<li>" + html.EscapeString(line) + "</li>")
	}
	b.WriteString("</ul>")

	subject := fmt.Sprintf("Go2NetGuard: %d blocked, %d failed", blocked, failed)
	return subject, b.String()
}

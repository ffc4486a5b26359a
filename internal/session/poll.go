package session

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "plannerbot/internal/log"
)

// DefaultPollSpec matches the refresh interval of the mobile client.
const DefaultPollSpec = "@every 15s"

// StartPolling refetches plans on spec while logged in, and redials the push
// stream if it dropped. Overlapping runs are skipped.
func (c *Controller) StartPolling(spec string) error {
	if spec == "" {
		spec = DefaultPollSpec
	}
	if c.cron != nil {
		return fmt.Errorf("polling already started")
	}

	cr := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := cr.AddFunc(spec, c.poll); err != nil {
		return fmt.Errorf("poll schedule %q: %w", spec, err)
	}
	c.cron = cr
	cr.Start()
	appLog.Info("plan polling started", "schedule", spec)
	return nil
}

func (c *Controller) poll() {
	if c.Snapshot().Phase != PhaseLoggedIn {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.FetchPlans(ctx); err != nil {
		return
	}
	if !c.Snapshot().Connected {
		if err := c.Connect(ctx); err != nil {
			appLog.Debug("push reconnect failed", "err", err)
		}
	}
}

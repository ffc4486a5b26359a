package session

import (
	"context"
	"errors"
	"io"

	"plannerbot/internal/bot"
	appLog "plannerbot/internal/log"
	"plannerbot/internal/model"
)

// PushStream delivers plans pushed by the backend.
type PushStream interface {
	Next() (model.Event, error)
	Close() error
}

type PushDialer interface {
	DialStream(ctx context.Context, cred bot.Credentials) (PushStream, error)
}

// DialerFunc adapts a function to PushDialer.
type DialerFunc func(ctx context.Context, cred bot.Credentials) (PushStream, error)

func (f DialerFunc) DialStream(ctx context.Context, cred bot.Credentials) (PushStream, error) {
	return f(ctx, cred)
}

// BotDialer dials the push stream of c.
func BotDialer(c *bot.Client) PushDialer {
	return DialerFunc(func(ctx context.Context, cred bot.Credentials) (PushStream, error) {
		s, err := c.DialStream(ctx, cred)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

// Connect replaces the push stream. The previous stream is closed and its
// receive loop has exited before the new one is dialed.
func (c *Controller) Connect(ctx context.Context) error {
	if c.dialer == nil {
		return nil
	}
	epoch, _, cred, ok := c.session()
	if !ok {
		return ErrNotLoggedIn
	}

	c.streamMu.Lock()
	defer c.streamMu.Unlock()
	c.stopStreamLocked()

	s, err := c.dialer.DialStream(ctx, cred)
	if err != nil {
		c.update(epoch, func(st *State) { st.Connected = false })
		return err
	}

	// The stream outlives the request that opened it.
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if !c.update(epoch, func(st *State) { st.Connected = true }) {
		cancel()
		s.Close()
		return ErrNotLoggedIn
	}

	done := make(chan struct{})
	c.streamCancel = cancel
	c.streamDone = done
	go c.receive(loopCtx, epoch, s, done)
	return nil
}

// receive applies pushed plans until the stream fails or is cancelled. It
// does not reconnect; polling and Refresh do that.
func (c *Controller) receive(ctx context.Context, epoch uint64, s PushStream, done chan struct{}) {
	defer close(done)
	defer s.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		s.Close()
	}()

	for {
		e, err := s.Next()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, bot.ErrBadFrame) {
				appLog.Error("dropping pushed frame", err)
				continue
			}
			if errors.Is(err, io.EOF) {
				appLog.Info("push stream closed by server")
			} else {
				appLog.Error("push stream failed", err)
			}
			c.update(epoch, func(st *State) { st.Connected = false })
			return
		}
		if !c.upsert(epoch, e) {
			return
		}
		appLog.Debug("pushed plan applied", "plan_id", e.ID)
	}
}

func (c *Controller) disconnect() {
	c.streamMu.Lock()
	defer c.streamMu.Unlock()
	c.stopStreamLocked()
}

func (c *Controller) stopStreamLocked() {
	if c.streamCancel == nil {
		return
	}
	c.streamCancel()
	<-c.streamDone
	c.streamCancel = nil
	c.streamDone = nil
}

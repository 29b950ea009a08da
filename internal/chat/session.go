package chat

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

type SessionOptions struct {
	Logger       *slog.Logger
	FlushTimeout time.Duration
	// RateLimit caps commands per second for one session. Zero disables it.
	RateLimit float64
	RateBurst int
}

// defaultFlushTimeout bounds the final flush when SessionOptions leaves it unset.
const defaultFlushTimeout = 2 * time.Second

func HandleSession(c *Client, reg *Registry, opts SessionOptions) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("conn_id", c.ID)

	flushTimeout := opts.FlushTimeout
	if flushTimeout <= 0 {
		flushTimeout = defaultFlushTimeout
	}

	writerDone := StartOutboundWriter(c.Conn, c.Out, c.done, flushTimeout)
	registered := false
	defer func() {
		if registered {
			reg.Unregister(c)
		}
		// A writer already blocked on a peer that stopped reading only
		// returns once the deadline fires.
		_ = c.Conn.SetWriteDeadline(time.Now().Add(flushTimeout))
		c.markDone()
		<-writerDone
		_ = c.Conn.Close()
	}()

	reader := bufio.NewReader(c.Conn)

	sendLine(c, PromptOnboarding)
	line, err := readLine(reader)
	if err != nil && !errors.Is(err, io.EOF) {
		logger.Debug("onboarding read failed", "error", err)
		return
	}
	if !onboard(c, reg, line, logger) {
		return
	}
	registered = true
	sendLine(c, NoticeWorldJoined)

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), max(opts.RateBurst, 1))
	}

	// Main input loop.
	for {
		line, err := readLine(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug("session read failed", "username", c.Username, "error", err)
			}
			return
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if limiter != nil && !limiter.Allow() {
			sendLine(c, NoticeSlowDown)
			continue
		}

		cmd, err := ParseCommand(line)
		if err != nil {
			var perr *ParseError
			if errors.As(err, &perr) {
				sendLine(c, perr.Notice)
			}
			continue
		}
		Dispatch(reg, c, cmd)
	}
}

// onboard handles the first line of a connection and reports whether the
// client was registered.
func onboard(c *Client, reg *Registry, line string, logger *slog.Logger) bool {
	ob, err := ParseOnboarding(line)
	if err != nil {
		var perr *ParseError
		if errors.As(err, &perr) {
			sendLine(c, perr.Notice)
		}
		OnboardingTotal.WithLabelValues("invalid").Inc()
		logger.Info("onboarding rejected", "reason", err.Error())
		return false
	}

	if ob.Guest {
		name, err := reg.RegisterGuest(c)
		if err != nil {
			OnboardingTotal.WithLabelValues("error").Inc()
			return false
		}
		OnboardingTotal.WithLabelValues("guest").Inc()
		sendLine(c, welcomeGuest(name))
		return true
	}

	switch err := reg.RegisterNamed(c, ob.Username); {
	case err == nil:
		OnboardingTotal.WithLabelValues("registered").Inc()
		sendLine(c, welcomeRegistered(ob.Username))
		return true
	case errors.Is(err, ErrAlreadyExists):
		OnboardingTotal.WithLabelValues("name_taken").Inc()
		sendLine(c, NoticeNameTaken)
		logger.Info("onboarding rejected", "reason", "name_taken", "username", ob.Username)
		return false
	default:
		OnboardingTotal.WithLabelValues("error").Inc()
		return false
	}
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err == nil {
		return strings.TrimRight(line, "\r\n"), nil
	}
	if err == io.EOF && line != "" {
		// last line without newline
		return strings.TrimRight(line, "\r\n"), nil
	}
	if err == io.EOF {
		return "", io.EOF
	}
	return "", fmt.Errorf("read: %w", err)
}

package chat

import (
	"bufio"
	"net"
	"time"
)

// StartOutboundWriter drains out onto conn until done is closed. Lines still
// queued at that point are flushed, bounded by flushTimeout. The returned
// channel is closed when the writer has stopped.
func StartOutboundWriter(conn net.Conn, out <-chan string, done <-chan struct{}, flushTimeout time.Duration) <-chan struct{} {
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		w := bufio.NewWriter(conn)
		for {
			select {
			case msg := <-out:
				// Best-effort. If the connection breaks, just stop the writer.
				if err := writeLine(w, msg); err != nil {
					return
				}
			case <-done:
				if flushTimeout > 0 {
					_ = conn.SetWriteDeadline(time.Now().Add(flushTimeout))
				}
				for {
					select {
					case msg := <-out:
						if err := writeLine(w, msg); err != nil {
							return
						}
					default:
						return
					}
				}
			}
		}
	}()
	return stopped
}

func writeLine(w *bufio.Writer, msg string) error {
	if _, err := w.WriteString(msg + "\n"); err != nil {
		return err
	}
	return w.Flush()
}

// sendLine queues line for c without blocking. It reports false when the line
// was dropped.
func sendLine(c *Client, line string) bool {
	select {
	case <-c.done:
		DeliveriesDropped.Inc()
		return false
	default:
	}
	// Non-blocking send keeps a slow recipient from stalling the sender.
	select {
	case c.Out <- line:
		return true
	default:
		DeliveriesDropped.Inc()
		return false
	}
}

package deviceio

import (
	"bufio"
	"context"
	"os"

	"github.com/charmbracelet/log"
	"github.com/creack/pty"

	"github.com/acquicore/daqcore/internal/command"
)

// Console is a pty-backed local command console: an operator (or a
// terminal attached to the slave side) can type the same set/get/execute/
// livenotes grammar the TCP command socket accepts, without opening a
// network connection. Grounded on the teacher's kisspt_open_pt, which
// opens a pseudo-terminal pair for exactly the same "local console without
// a socket" reason.
type Console struct {
	Parser *command.Parser
	Log    *log.Logger

	master *os.File
	slave  *os.File
}

// Open creates the pseudo-terminal pair. SlaveName returns the path an
// operator can `tty`/attach to after Open succeeds.
func (c *Console) Open() error {
	master, slave, err := pty.Open()
	if err != nil {
		return err
	}
	c.master = master
	c.slave = slave
	return nil
}

// SlaveName reports the slave side's device path, or "" if not open.
func (c *Console) SlaveName() string {
	if c.slave == nil {
		return ""
	}
	return c.slave.Name()
}

// Run reads lines from the master side and dispatches them through the
// Parser until ctx is cancelled or the pty closes, writing each Response
// back out line by line.
func (c *Console) Run(ctx context.Context) {
	if c.master == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(c.master)
		for scanner.Scan() {
			for _, resp := range c.Parser.ParseLine(scanner.Text()) {
				if _, err := c.master.WriteString(resp.Text + "\n"); err != nil {
					if c.Log != nil {
						c.Log.Warn("console: write failed", "err", err)
					}
					return
				}
			}
		}
	}()

	select {
	case <-ctx.Done():
	case <-done:
	}
}

// Close releases both sides of the pseudo-terminal pair.
func (c *Console) Close() error {
	var firstErr error
	if c.master != nil {
		if err := c.master.Close(); err != nil {
			firstErr = err
		}
	}
	if c.slave != nil {
		if err := c.slave.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

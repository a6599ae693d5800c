// ABOUTME: Interactive operator console running inside the broker process.
// ABOUTME: Thin adapter over Send/Broadcast with from=broker; errors report locally.

package broker

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
)

// Console reads operator commands from a line-oriented input and executes
// them against the state engine. Operator messages are sent with the
// reserved broker sender and therefore bypass sender-registration checks.
type Console struct {
	engine  *Engine
	in      io.Reader
	out     io.Writer
	logger  *slog.Logger
	stopped atomic.Bool
}

// NewConsole creates a console over the given engine and streams.
func NewConsole(engine *Engine, in io.Reader, out io.Writer, logger *slog.Logger) *Console {
	return &Console{
		engine: engine,
		in:     in,
		out:    out,
		logger: logger,
	}
}

// Start launches the read loop in its own goroutine.
func (c *Console) Start() {
	go c.run()
}

// Stop prevents further command execution. The read loop exits after the
// next input line (stdin reads cannot be interrupted portably).
func (c *Console) Stop() {
	c.stopped.Store(true)
}

func (c *Console) run() {
	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 64*1024), MaxMessageContentSize)

	for scanner.Scan() {
		if c.stopped.Load() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		c.Execute(line)
	}

	if err := scanner.Err(); err != nil {
		c.logger.Warn("console input closed", "error", err)
	}
}

// Execute runs a single console command line.
func (c *Console) Execute(line string) {
	switch {
	case line == "/help":
		c.printHelp()
	case line == "/agents":
		c.printAgents()
	case line == "/status":
		c.printStatus()
	case line == "/context":
		c.printContexts()
	case strings.HasPrefix(line, "@"):
		c.sendTargeted(line)
	default:
		c.broadcast(line)
	}
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, "Commands:")
	fmt.Fprintln(c.out, "  /help            show this help")
	fmt.Fprintln(c.out, "  /agents          list registered agents")
	fmt.Fprintln(c.out, "  /status          broker status summary")
	fmt.Fprintln(c.out, "  /context         list shared context keys")
	fmt.Fprintln(c.out, "  @<id> <text>     send <text> to agent <id>")
	fmt.Fprintln(c.out, "  <text>           broadcast <text> to every agent")
}

func (c *Console) printAgents() {
	agents := c.engine.ListAgents()
	if len(agents) == 0 {
		fmt.Fprintln(c.out, color.YellowString("no agents registered"))
		return
	}
	for _, a := range agents {
		fmt.Fprintf(c.out, "%s %s (%s) project=%s last_seen=%s\n",
			color.CyanString(a.ID), a.Name, a.Path, a.Project, a.LastSeen.Format("15:04:05"))
	}
}

func (c *Console) printStatus() {
	st := c.engine.Status()
	fmt.Fprintf(c.out, "uptime=%s agents=%d context_keys=%d\n",
		st.Uptime.Round(time.Second), st.TotalAgents, st.TotalContextKeys)
	for _, a := range st.Agents {
		fmt.Fprintf(c.out, "  %s unread=%d\n", color.CyanString(a.ID), a.UnreadMessages)
	}
}

func (c *Console) printContexts() {
	contexts := c.engine.ListContexts()
	if len(contexts) == 0 {
		fmt.Fprintln(c.out, color.YellowString("no context keys"))
		return
	}
	for _, entry := range contexts {
		fmt.Fprintf(c.out, "%s set_by=%s at=%s\n",
			color.CyanString(entry.Key), entry.SetBy, entry.Timestamp.Format("15:04:05"))
	}
}

// sendTargeted handles "@<id> <text>" lines.
func (c *Console) sendTargeted(line string) {
	target, text, _ := strings.Cut(line[1:], " ")
	text = strings.TrimSpace(text)
	if target == "" || text == "" {
		fmt.Fprintln(c.out, color.RedString("usage: @<id> <text>"))
		return
	}

	id, err := c.engine.Send(BrokerSender, target, text, MessageTypeText)
	if err != nil {
		fmt.Fprintln(c.out, color.RedString("send failed: %v", err))
		return
	}
	fmt.Fprintf(c.out, "%s %s\n", color.GreenString("sent"), id)
}

func (c *Console) broadcast(text string) {
	sent, err := c.engine.Broadcast(BrokerSender, text, MessageTypeText)
	if err != nil {
		fmt.Fprintln(c.out, color.RedString("broadcast failed: %v", err))
		return
	}
	fmt.Fprintf(c.out, "%s %d agents\n", color.GreenString("broadcast to"), sent)
}

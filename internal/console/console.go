// Package console implements the operator's interactive command-line
// interpreter: a line-oriented REPL that dispatches to the same
// orchestrator.Hub operations the HTTP control plane uses.
package console

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/manifoldco/promptui"

	"github.com/ocx/evcentral/internal/orchestrator"
)

// Console reads whitespace-separated commands from stdin and drives hub.
type Console struct {
	hub    *orchestrator.Hub
	out    io.Writer
	logger *slog.Logger
}

// New builds a console bound to hub, writing output to out.
func New(hub *orchestrator.Hub, out io.Writer, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{hub: hub, out: out, logger: logger}
}

// Run blocks, reading and dispatching commands until stdin closes or ctx is
// cancelled.
func (c *Console) Run(ctx context.Context) {
	prompt := promptui.Prompt{Label: "centrald"}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := prompt.Run()
		if err != nil {
			if err == promptui.ErrInterrupt || err == promptui.ErrAbort || err == promptui.ErrEOF || err == io.EOF {
				return
			}
			fmt.Fprintln(c.out, "input error:", err)
			continue
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		c.dispatch(ctx, fields[0], fields[1:])
	}
}

func (c *Console) dispatch(ctx context.Context, cmd string, args []string) {
	switch cmd {
	case "ls":
		c.cmdLs()
	case "map":
		c.cmdMap(args)
	case "config":
		c.cmdConfig(ctx, args)
	case "start":
		c.cmdStart(ctx, args)
	case "stop":
		c.cmdStop(ctx, args)
	case "avail":
		c.cmdAvail(ctx, args)
	default:
		fmt.Fprintf(c.out, "unknown command %q (ls | map | config | start | stop | avail)\n", cmd)
	}
}

func (c *Console) cmdLs() {
	stations := c.hub.Registry().Stations()
	rows := make([][]string, 0, len(stations))
	for _, st := range stations {
		rows = append(rows, []string{
			strconv.Itoa(st.ID),
			st.CPID,
			st.Vendor,
			st.Model,
			strconv.FormatBool(st.Connected),
			st.LastSeen.Format(time.RFC3339),
		})
	}
	renderTable(c.out, []string{"id", "cpid", "vendor", "model", "connected", "last seen"}, rows)
}

func (c *Console) cmdMap(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "usage: map <cpid>")
		return
	}
	cpid := args[0]
	connectors := c.hub.Registry().Connectors(cpid)
	rows := make([][]string, 0, len(connectors))
	for _, conn := range connectors {
		active := ""
		if tx, ok := c.hub.Registry().ActiveByConnector(cpid, conn.ConnectorID); ok {
			active = strconv.Itoa(tx.TransactionID)
		}
		rows = append(rows, []string{
			strconv.Itoa(conn.ConnectorID),
			conn.Status,
			conn.ErrorCode,
			active,
			conn.UpdatedAt.Format(time.RFC3339),
		})
	}
	renderTable(c.out, []string{"connector", "status", "error", "active tx", "updated"}, rows)
}

func (c *Console) cmdConfig(ctx context.Context, args []string) {
	if len(args) != 3 {
		fmt.Fprintln(c.out, "usage: config <cpid> <key> <value>")
		return
	}
	cpid, key, value := args[0], args[1], args[2]
	status, err := c.hub.ChangeConfiguration(ctx, cpid, key, value)
	if err != nil {
		fmt.Fprintln(c.out, "error:", err)
		return
	}
	fmt.Fprintln(c.out, status)
}

func (c *Console) cmdStart(ctx context.Context, args []string) {
	if len(args) != 3 {
		fmt.Fprintln(c.out, "usage: start <cpid> <connector> <idtag>")
		return
	}
	cpid, idTag := args[0], args[2]
	connectorID, err := strconv.Atoi(args[1])
	if err != nil {
		fmt.Fprintln(c.out, "connector must be numeric")
		return
	}

	c.hub.SeedPendingStart(cpid, connectorID, idTag, "", "")
	status, err := c.hub.RemoteStart(ctx, cpid, connectorID, idTag)
	if err != nil {
		fmt.Fprintln(c.out, "error:", err)
		return
	}
	fmt.Fprintln(c.out, status)
}

// cmdStop resolves its numeric argument first as a connector id, then as a
// transaction id; if neither matches an active transaction, it falls back to
// UnlockConnector treating the numeric as a connector id.
func (c *Console) cmdStop(ctx context.Context, args []string) {
	if len(args) != 2 {
		fmt.Fprintln(c.out, "usage: stop <cpid> <n>")
		return
	}
	cpid := args[0]
	n, err := strconv.Atoi(args[1])
	if err != nil {
		fmt.Fprintln(c.out, "n must be numeric")
		return
	}

	reg := c.hub.Registry()
	if tx, ok := reg.ActiveByConnector(cpid, n); ok {
		status, err := c.hub.RemoteStop(ctx, cpid, tx.TransactionID)
		if err != nil {
			fmt.Fprintln(c.out, "error:", err)
			return
		}
		fmt.Fprintln(c.out, status)
		return
	}
	if tx, ok := reg.ActiveByTxID(n); ok {
		status, err := c.hub.RemoteStop(ctx, cpid, tx.TransactionID)
		if err != nil {
			fmt.Fprintln(c.out, "error:", err)
			return
		}
		fmt.Fprintln(c.out, status)
		return
	}

	status, err := c.hub.UnlockConnector(ctx, cpid, n)
	if err != nil {
		fmt.Fprintln(c.out, "error:", err)
		return
	}
	fmt.Fprintln(c.out, status)
}

func (c *Console) cmdAvail(ctx context.Context, args []string) {
	if len(args) != 3 {
		fmt.Fprintln(c.out, "usage: avail <cpid> <connector> <state>")
		return
	}
	cpid, state := args[0], args[2]
	connectorID, err := strconv.Atoi(args[1])
	if err != nil {
		fmt.Fprintln(c.out, "connector must be numeric")
		return
	}
	status, err := c.hub.ChangeAvailability(ctx, cpid, connectorID, state)
	if err != nil {
		fmt.Fprintln(c.out, "error:", err)
		return
	}
	fmt.Fprintln(c.out, status)
}

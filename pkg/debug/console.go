// Package debug provides an interactive console printing node readings as
// they change.
package debug

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/levenlabs/go-lflag"

	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/card"
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/log"
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/types"
)

// Source is the part of the card runtime the console reads.
type Source interface {
	Snapshot(ctx context.Context) (types.Graph, error)
	Node(ctx context.Context, id string) (types.NodeView, bool, error)
	Watch(ctx context.Context) (<-chan card.Change, func(), error)
}

// Field is the part of a node a watch prints.
type Field string

const (
	FieldDisplay   Field = "display"
	FieldInput     Field = "input"
	FieldOutput    Field = "output"
	FieldSecondary Field = "secondary"
)

var fields = []Field{FieldDisplay, FieldInput, FieldOutput, FieldSecondary}

// WatchSpec is a node field to print.
type WatchSpec struct {
	NodeID string
	Field  Field
}

// String returns a unique key for this watch spec
func (w WatchSpec) String() string {
	if w.Field == FieldDisplay {
		return w.NodeID
	}
	return w.NodeID + " -f " + string(w.Field)
}

// ShortName returns the column header for this watch
func (w WatchSpec) ShortName() string {
	if w.Field == FieldDisplay {
		return w.NodeID
	}
	return w.NodeID + " " + string(w.Field)
}

// Value formats the watched field of v.
func (w WatchSpec) Value(v types.NodeView) string {
	switch w.Field {
	case FieldInput:
		return formatReading(v.Input)
	case FieldOutput:
		return formatReading(v.Output)
	case FieldSecondary:
		return formatReading(v.Secondary)
	default:
		if v.Display == "" {
			return "-"
		}
		return v.Display
	}
}

func formatReading(r types.Reading) string {
	if !r.Valid() {
		return "-"
	}
	return strconv.FormatFloat(r.Value, 'f', -1, 64) + " " + string(r.Unit)
}

// ANSI color codes for highlighting changes
const (
	ansiReset  = "\033[0m"
	ansiYellow = "\033[33m"
)

// Console manages the watched node fields.
type Console struct {
	src     Source
	out     io.Writer
	rl      *readline.Instance
	enabled bool

	watches       []WatchSpec
	headerPrinted bool
	columnWidths  []int
	latest        map[string]types.NodeView
	prevValues    map[string]string
}

// NewConsole returns a console writing to out.
func NewConsole(src Source, out io.Writer) *Console {
	return &Console{
		src:        src,
		out:        out,
		latest:     make(map[string]types.NodeView),
		prevValues: make(map[string]string),
	}
}

// Configured sets up the console based on flags. It stays disabled unless
// requested.
func Configured(src Source) *Console {
	enabled := lflag.Bool("debug-console", false, "Start an interactive console watching node readings")
	c := NewConsole(src, os.Stdout)
	lflag.Do(func() {
		c.enabled = *enabled
	})
	return c
}

// Enabled returns true if the console was requested.
func (c *Console) Enabled() bool {
	return c != nil && c.enabled
}

// print outputs a line, handling the readline prompt properly
func (c *Console) print(format string, args ...any) {
	if c.rl != nil {
		c.rl.Clean()
		defer c.rl.Refresh()
	}
	fmt.Fprintf(c.out, format+"\n", args...)
}

// AddWatch adds a watch and re-sorts the list
func (c *Console) AddWatch(spec WatchSpec) {
	for _, w := range c.watches {
		if w == spec {
			c.print("Already watching: %s", spec)
			return
		}
	}
	c.watches = append(c.watches, spec)
	sort.Slice(c.watches, func(i, j int) bool {
		return c.watches[i].ShortName() < c.watches[j].ShortName()
	})
	c.headerPrinted = false
	c.print("Watching: %s", spec)
}

// RemoveWatch removes spec. Without an explicit field every watch of the
// node is removed.
func (c *Console) RemoveWatch(spec WatchSpec, anyField bool) bool {
	before := len(c.watches)
	c.watches = slices.DeleteFunc(c.watches, func(w WatchSpec) bool {
		return w.NodeID == spec.NodeID && (anyField || w.Field == spec.Field)
	})
	if len(c.watches) == before {
		c.print("No watch found for: %s", spec)
		return false
	}
	c.headerPrinted = false
	c.print("Unwatched: %s", spec.NodeID)
	return true
}

// RemoveAll removes all watches
func (c *Console) RemoveAll() {
	c.watches = c.watches[:0]
	c.headerPrinted = false
	c.print("All watches removed")
}

// Update stores the latest view of a node and prints a row if a watched
// value changed.
func (c *Console) Update(v types.NodeView) {
	c.latest[v.ID] = v
	if len(c.watches) > 0 {
		c.PrintRow()
	}
}

// PrintHeader prints the column headers
func (c *Console) PrintHeader() {
	if len(c.watches) == 0 {
		return
	}
	c.columnWidths = make([]int, len(c.watches))
	parts := make([]string, 0, len(c.watches))
	for i, w := range c.watches {
		c.columnWidths[i] = len(w.ShortName())
		parts = append(parts, fmt.Sprintf("%*s", c.columnWidths[i], w.ShortName()))
	}
	c.print("%s", strings.Join(parts, " | "))
	c.headerPrinted = true
	c.prevValues = make(map[string]string)
}

// PrintRow prints the current values of all watches if any changed.
func (c *Console) PrintRow() {
	if len(c.watches) == 0 {
		return
	}
	if !c.headerPrinted {
		c.PrintHeader()
	}

	parts := make([]string, 0, len(c.watches))
	anyChanged := false
	newValues := make(map[string]string, len(c.watches))
	for i, w := range c.watches {
		value := "?"
		if v, ok := c.latest[w.NodeID]; ok {
			value = w.Value(v)
		}
		key := w.String()
		newValues[key] = value

		width := max(c.columnWidths[i], len(value))
		c.columnWidths[i] = width

		prev, hasPrev := c.prevValues[key]
		if !hasPrev || prev != value {
			anyChanged = true
			parts = append(parts, fmt.Sprintf("%s%*s%s", ansiYellow, width, value, ansiReset))
		} else {
			parts = append(parts, fmt.Sprintf("%*s", width, value))
		}
	}
	if anyChanged {
		c.print("%s", strings.Join(parts, " | "))
		c.prevValues = newValues
	}
}

// parseWatchSpec parses watch command arguments. The returned bool is true
// when no field was given.
func parseWatchSpec(args []string) (WatchSpec, bool, error) {
	if len(args) == 0 {
		return WatchSpec{}, false, errors.New("usage: watch <node> [-f <display|input|output|secondary>]")
	}
	spec := WatchSpec{NodeID: args[0], Field: FieldDisplay}
	defaulted := true
	for i := 1; i < len(args); i++ {
		switch args[i] {
		case "-f":
			if i+1 >= len(args) {
				return WatchSpec{}, false, errors.New("-f requires a value (display, input, output or secondary)")
			}
			i++
			f := Field(args[i])
			if !slices.Contains(fields, f) {
				return WatchSpec{}, false, fmt.Errorf("-f must be one of display, input, output or secondary")
			}
			spec.Field = f
			defaulted = false
		default:
			return WatchSpec{}, false, fmt.Errorf("unknown option: %s", args[i])
		}
	}
	return spec, defaulted, nil
}

// HandleCommand processes a console command
func (c *Console) HandleCommand(ctx context.Context, cmd string) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return
	}

	switch parts[0] {
	case "watch":
		spec, _, err := parseWatchSpec(parts[1:])
		if err != nil {
			c.print("Error: %v", err)
			return
		}
		if _, ok := c.latest[spec.NodeID]; !ok {
			v, found, err := c.src.Node(ctx, spec.NodeID)
			if err != nil {
				c.print("Error: %v", err)
				return
			}
			if !found {
				c.print("Unknown node: %s (try 'list')", spec.NodeID)
				return
			}
			c.latest[v.ID] = v
		}
		c.AddWatch(spec)
		c.PrintRow()

	case "unwatch":
		if len(parts) < 2 {
			c.print("Usage: unwatch <node> [-f <field>] | unwatch --all")
			return
		}
		if parts[1] == "--all" {
			c.RemoveAll()
			return
		}
		spec, anyField, err := parseWatchSpec(parts[1:])
		if err != nil {
			c.print("Error: %v", err)
			return
		}
		c.RemoveWatch(spec, anyField)

	case "list":
		g, err := c.src.Snapshot(ctx)
		if err != nil {
			c.print("Error: %v", err)
			return
		}
		c.print("Nodes (%d):", len(g.Nodes))
		for _, n := range g.Nodes {
			c.latest[n.ID] = n
			c.print("  [%s] %s %s", n.Kind, n.ID, WatchSpec{Field: FieldDisplay}.Value(n))
		}

	case "edges":
		g, err := c.src.Snapshot(ctx)
		if err != nil {
			c.print("Error: %v", err)
			return
		}
		c.print("Edges (%d):", len(g.Edges))
		for _, e := range g.Edges {
			c.print("  %s -> %s rate %s every %s", e.Source, e.Target, strconv.FormatFloat(e.Rate, 'f', 2, 64), e.Data.AnimationDuration)
		}

	case "help":
		c.print("Commands:")
		c.print("  list                     - List all nodes")
		c.print("  edges                    - List all edges with their rates")
		c.print("  watch <node>             - Watch the node's display text")
		c.print("  watch <node> -f <field>  - Watch display, input, output or secondary")
		c.print("  unwatch <node>           - Remove every watch of the node")
		c.print("  unwatch <node> -f <field> - Remove a specific watch")
		c.print("  unwatch --all            - Remove all watches")
		c.print("  help                     - Show this help")

	default:
		c.print("Unknown command: %s (try 'help')", parts[0])
	}
}

// readlineWriter routes log output around the readline prompt
type readlineWriter struct {
	rl *readline.Instance
}

func (w *readlineWriter) Write(p []byte) (int, error) {
	w.rl.Clean()
	defer w.rl.Refresh()
	return os.Stderr.Write(p)
}

func readlineLoop(ctx context.Context, cancel context.CancelFunc, rl *readline.Instance, commands chan<- string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			// Ctrl+C shuts down the process
			cancel()
			return
		}
		if err != nil {
			return
		}
		if line = strings.TrimSpace(line); line != "" {
			select {
			case commands <- line:
			case <-ctx.Done():
				return
			}
		}
	}
}

func historyFilePath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		cacheDir = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(cacheDir, "flowcard")
	_ = os.MkdirAll(dir, 0750)
	return filepath.Join(dir, "debug_history")
}

// Run reads commands until ctx is done. Ctrl+C calls cancel.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "> ",
		HistoryFile: historyFilePath(),
	})
	if err != nil {
		return fmt.Errorf("readline init failed: %w", err)
	}
	c.rl = rl
	log.SetOutput(&readlineWriter{rl: rl})
	defer func() {
		log.SetOutput(os.Stdout)
		c.rl = nil
		_ = rl.Close()
	}()

	changes, stop, err := c.src.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to watch card: %w", err)
	}
	defer stop()

	c.print("Debug console started (type 'help' for commands)")

	commands := make(chan string, 10)
	go readlineLoop(ctx, cancel, rl, commands)

	for {
		select {
		case cmd := <-commands:
			c.HandleCommand(ctx, cmd)
		case ch, ok := <-changes:
			if !ok {
				return nil
			}
			c.Update(ch.Node)
		case <-ctx.Done():
			return nil
		}
	}
}

package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"github.com/arloliu/go-instr/device"
	"github.com/arloliu/go-instr/internal/queue"
)

// console executes instrctl commands against a device manager.
//
// Device events are ingested as they arrive so drivers never block on a
// slow terminal: the pump keeps the latest reading and status per
// instance for the "read" command and buffers the backlog in an
// unbounded queue until the next "events" command drains it.
type console struct {
	mgr *device.Manager
	out io.Writer

	mu      sync.Mutex
	pending queue.Queue[device.Event]
	latest  map[string]*instanceState
}

// instanceState caches the most recent values seen from one instance.
type instanceState struct {
	readings  map[string]device.Reading
	status    device.SpectrometerStatus
	hasStatus bool
}

func newConsole(mgr *device.Manager, out io.Writer) *console {
	return &console{
		mgr:     mgr,
		out:     out,
		pending: queue.NewSlice[device.Event](64),
		latest:  make(map[string]*instanceState),
	}
}

// pump ingests manager events until the channel is closed.
func (c *console) pump(events <-chan device.Event) {
	for ev := range events {
		c.ingest(ev)
	}
}

func (c *console) ingest(ev device.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending.Enqueue(ev)

	switch ev := ev.(type) {
	case device.ReadingsEvent:
		st := c.state(ev.Instance)
		for _, r := range ev.Readings {
			st.readings[r.Name] = r
		}
	case device.StatusEvent:
		st := c.state(ev.Instance)
		st.status = ev.Status
		st.hasStatus = true
	}
}

// state returns the cache entry for ref, creating it when absent.
// Callers hold c.mu.
func (c *console) state(ref device.InstanceRef) *instanceState {
	key := ref.String()
	st, ok := c.latest[key]
	if !ok {
		st = &instanceState{readings: make(map[string]device.Reading)}
		c.latest[key] = st
	}

	return st
}

// repl reads and executes commands until quit or EOF. An interrupt
// clears the current line.
func (c *console) repl(rl *readline.Instance) {
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil {
			return
		}

		if !c.dispatch(line) {
			return
		}
	}
}

// dispatch executes one command line. It returns false when the console
// should exit.
func (c *console) dispatch(line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return true
	}

	cmd, args := strings.ToLower(parts[0]), parts[1:]
	switch cmd {
	case "help", "?":
		c.printHelp()

	case "catalog":
		c.cmdCatalog()

	case "instances":
		c.cmdInstances()

	case "open":
		c.cmdOpen(args)

	case "read":
		c.cmdRead(args)

	case "set":
		c.cmdSet(args)

	case "command":
		c.cmdCommand(args)

	case "close":
		c.cmdClose(args)

	case "events":
		c.cmdEvents()

	case "quit", "exit", "q":
		return false

	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}

	return true
}

func (c *console) printHelp() {
	fmt.Fprintln(c.out, `Commands:
  catalog                              List device types, instances and variants
  instances                            List open instances
  open <instance> <variant> [k=v ...]  Open a device instance
  read <instance> <property>           Show the latest value of a property ("status" for spectrometers)
  set <instance> setpoint <value>      Change a controller set point
  command <instance> <name>            Send a command (connect, start, stop, cancel)
  close <instance>                     Close an instance
  events                               Drain and print pending device events
  help                                 Show this help
  quit                                 Exit`)
}

func (c *console) cmdCatalog() {
	reg := c.mgr.Registry()
	for _, bt := range reg.BaseTypes() {
		fmt.Fprintf(c.out, "%s:\n", bt.Description)
		for _, info := range bt.Instances() {
			fmt.Fprintf(c.out, "  instance %-32s %s\n", info.Ref.String(), info.Description)
		}

		variants := reg.Variants(bt.Name)
		if len(variants) == 0 {
			fmt.Fprintln(c.out, "  (no variants registered)")
			continue
		}
		for _, v := range variants {
			fmt.Fprintf(c.out, "  variant  %-32s %s\n", v.ID, v.Description)
			for _, p := range v.Parameters {
				fmt.Fprintf(c.out, "    %-16s %s%s\n", p.Name, p.Description, paramHint(p))
			}
		}
	}
}

// paramHint renders the allowed values and default of a parameter.
func paramHint(p device.Parameter) string {
	var b strings.Builder
	if len(p.Values) > 0 {
		b.WriteString(" (one of " + strings.Join(p.Values, ", ") + ")")
	}
	if p.Default != "" {
		b.WriteString(" [default " + p.Default + "]")
	} else {
		b.WriteString(" [required]")
	}

	return b.String()
}

func (c *console) cmdInstances() {
	instances := c.mgr.Instances()
	if len(instances) == 0 {
		fmt.Fprintln(c.out, "No instances open")
		return
	}

	for _, inst := range instances {
		fmt.Fprintf(c.out, "%-32s %s\n", inst.Ref.String(), inst.VariantID)
	}
}

func (c *console) cmdOpen(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(c.out, "Usage: open <instance> <variant> [param=value ...]")
		return
	}

	params := make(map[string]string, len(args)-2)
	for _, arg := range args[2:] {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			fmt.Fprintf(c.out, "Bad parameter %q, want param=value\n", arg)
			return
		}
		params[key] = value
	}

	inst, err := c.mgr.Open(device.ParseInstanceRef(args[0]), args[1], params)
	if err != nil {
		fmt.Fprintf(c.out, "Open failed: %v\n", err)
		return
	}

	fmt.Fprintf(c.out, "Opened %s (%s)\n", inst.Ref.String(), inst.VariantID)
}

func (c *console) cmdRead(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(c.out, "Usage: read <instance> <property>")
		return
	}

	ref := device.ParseInstanceRef(args[0])
	if _, ok := c.mgr.Get(ref); !ok {
		fmt.Fprintf(c.out, "Instance %s is not open\n", ref.String())
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.latest[ref.String()]
	if !ok {
		fmt.Fprintf(c.out, "No data from %s yet\n", ref.String())
		return
	}

	property := args[1]
	if property == "status" {
		if !st.hasStatus {
			fmt.Fprintf(c.out, "No status from %s yet\n", ref.String())
			return
		}

		fmt.Fprintln(c.out, st.status.String())

		return
	}

	r, ok := st.readings[property]
	if !ok {
		names := readingNames(st)
		if len(names) == 0 {
			fmt.Fprintf(c.out, "No readings from %s yet\n", ref.String())
		} else {
			fmt.Fprintf(c.out, "No reading %q from %s, have: %s\n", property, ref.String(), strings.Join(names, ", "))
		}

		return
	}

	fmt.Fprintln(c.out, r.String())
}

func readingNames(st *instanceState) []string {
	names := make([]string, 0, len(st.readings))
	for name := range st.readings {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

func (c *console) cmdSet(args []string) {
	if len(args) != 3 || !strings.EqualFold(args[1], "setpoint") {
		fmt.Fprintln(c.out, "Usage: set <instance> setpoint <value>")
		return
	}

	value, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		fmt.Fprintf(c.out, "Bad value %q\n", args[2])
		return
	}

	ref := device.ParseInstanceRef(args[0])
	inst, ok := c.mgr.Get(ref)
	if !ok {
		fmt.Fprintf(c.out, "Instance %s is not open\n", ref.String())
		return
	}

	writer, ok := inst.Device().(device.SetPointWriter)
	if !ok {
		fmt.Fprintf(c.out, "Instance %s has no set point\n", ref.String())
		return
	}

	if err := writer.SetSetPoint(value); err != nil {
		fmt.Fprintf(c.out, "Set point failed: %v\n", err)
		return
	}

	fmt.Fprintf(c.out, "Set point of %s changed to %g\n", ref.String(), value)
}

func (c *console) cmdCommand(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(c.out, "Usage: command <instance> <name>")
		return
	}

	ref := device.ParseInstanceRef(args[0])
	inst, ok := c.mgr.Get(ref)
	if !ok {
		fmt.Fprintf(c.out, "Instance %s is not open\n", ref.String())
		return
	}

	runner, ok := inst.Device().(device.CommandRunner)
	if !ok {
		fmt.Fprintf(c.out, "Instance %s accepts no commands\n", ref.String())
		return
	}

	if err := runner.RequestCommand(args[1]); err != nil {
		fmt.Fprintf(c.out, "Command failed: %v\n", err)
		return
	}

	fmt.Fprintf(c.out, "Command %s accepted\n", args[1])
}

func (c *console) cmdClose(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: close <instance>")
		return
	}

	ref := device.ParseInstanceRef(args[0])
	if err := c.mgr.Close(ref); err != nil {
		fmt.Fprintf(c.out, "Close failed: %v\n", err)
		return
	}

	fmt.Fprintf(c.out, "Closed %s\n", ref.String())
}

func (c *console) cmdEvents() {
	drained := c.drain()
	if len(drained) == 0 {
		fmt.Fprintln(c.out, "No pending events")
		return
	}

	for _, ev := range drained {
		fmt.Fprintln(c.out, formatEvent(ev))
	}
}

func (c *console) drain() []device.Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	var drained []device.Event
	for {
		ev, ok := c.pending.Dequeue()
		if !ok {
			break
		}
		drained = append(drained, ev)
	}

	return drained
}

func formatEvent(ev device.Event) string {
	switch ev := ev.(type) {
	case device.CatalogEvent:
		return fmt.Sprintf("catalog: %d device types", len(ev.Catalog))
	case device.ReadingsEvent:
		parts := make([]string, len(ev.Readings))
		for i, r := range ev.Readings {
			parts[i] = r.String()
		}

		return fmt.Sprintf("%s data: %s", ev.Instance.String(), strings.Join(parts, ", "))
	case device.StatusEvent:
		return fmt.Sprintf("%s status: %s", ev.Instance.String(), ev.Status.String())
	case device.ErrorEvent:
		return fmt.Sprintf("%s error: %v", ev.Instance.String(), ev.Err)
	default:
		return fmt.Sprintf("%T", ev)
	}
}

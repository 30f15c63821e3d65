// Command instrctl is an interactive console for instrument control.
//
// It opens device instances from the registered variant catalog, shows
// readings and status changes as they arrive, changes controller set
// points and drives spectrometer measurements.
//
// Usage:
//
//	instrctl [flags]
//
// Flags:
//
//	-suite file   Open every device of the suite file at startup
//	-trace file   Record wire traffic to file
//	-v            Enable debug logging
//
// Examples:
//
//	# Drive a simulated bench
//	instrctl
//	instr> open temperature_controller.hot_bb dummy
//	instr> read temperature_controller.hot_bb temperature
//
//	# Open a configured suite and record the wire traffic
//	instrctl -suite bench.yaml -trace bench.cbor
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/chzyer/readline"

	"github.com/arloliu/go-instr/device"
	"github.com/arloliu/go-instr/logger"
	"github.com/arloliu/go-instr/suite"
	"github.com/arloliu/go-instr/trace"

	// Register the device variants served by the console.
	_ "github.com/arloliu/go-instr/sensors"
	_ "github.com/arloliu/go-instr/spectro"
	_ "github.com/arloliu/go-instr/tec"
)

func main() {
	suitePath := flag.String("suite", "", "Suite file whose devices are opened at startup")
	tracePath := flag.String("trace", "", "Record wire traffic to this file")
	verbose := flag.Bool("v", false, "Enable debug logging")
	flag.Parse()

	if *verbose {
		logger.SetLevel(logger.DebugLevel)
	}

	if err := run(*suitePath, *tracePath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(suitePath, tracePath string) error {
	var s *suite.Suite
	if suitePath != "" {
		var err error
		s, err = suite.LoadFile(suitePath, device.DefaultRegistry())
		if err != nil {
			return err
		}
	}

	if tracePath != "" {
		rec, err := trace.NewFileRecorder(tracePath)
		if err != nil {
			return fmt.Errorf("open trace file: %w", err)
		}
		defer rec.Close()

		trace.SetDefault(rec)
		defer trace.SetDefault(nil)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "instr> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("create readline: %w", err)
	}
	defer rl.Close()

	events := make(chan device.Event, 256)
	mgr := device.NewManager(device.DefaultRegistry(), events)
	c := newConsole(mgr, rl.Stdout())

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		c.pump(events)
	}()

	mgr.PublishCatalog()

	if s != nil {
		if err := s.Open(mgr); err != nil {
			mgr.CloseAll()
			close(events)
			<-pumpDone

			return err
		}

		fmt.Fprintf(rl.Stdout(), "Opened suite %q (%d devices)\n", s.Name, len(s.Devices))
	}

	c.printHelp()
	c.repl(rl)

	mgr.CloseAll()
	close(events)
	<-pumpDone

	return nil
}

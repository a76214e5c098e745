// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/ezrec/uvm16/machine"
	"github.com/ezrec/uvm16/vm"
)

func main() {
	var program string
	var snap string
	var config string
	var budget uint64
	var patching bool
	var dis string
	var verbose bool

	flag.StringVar(&program, "p", "", "program image to load")
	flag.StringVar(&snap, "l", "", "snapshot to load")
	flag.StringVar(&config, "c", "", "machine profile (TOML)")
	flag.Uint64Var(&budget, "b", 0, "instruction budget per run (0 = unlimited)")
	flag.BoolVar(&patching, "a", false, "enable native patching")
	flag.StringVar(&dis, "d", "", "disassemble 'start:count' and exit")
	flag.BoolVar(&verbose, "v", false, "verbose mode")

	flag.Parse()

	if flag.NArg() != 0 {
		log.Fatalf("%v: Unknown arguments: %v", os.Args[0], flag.Args())
	}

	cfg := machine.Config{}
	if len(config) != 0 {
		var err error
		cfg, err = machine.LoadConfig(config)
		if err != nil {
			log.Fatalf("%v: %v", config, err)
		}
	}
	if budget != 0 {
		cfg.Budget = budget
	}
	if patching {
		cfg.Patching = true
	}
	if len(program) != 0 {
		cfg.Program = program
	}

	m := machine.NewWithConfig(cfg)
	m.Verbose = verbose
	m.Vm.Verbose = verbose

	if len(cfg.Program) != 0 {
		if err := m.Load(cfg.Program); err != nil {
			log.Fatalf("%v: %v", cfg.Program, err)
		}
	}

	if len(snap) != 0 {
		if err := m.LoadSnapshot(snap); err != nil {
			log.Fatalf("%v: %v", snap, err)
		}
	}

	if len(dis) != 0 {
		disassemble(m, dis)
		return
	}

	run(m)
}

// disassemble prints a 'start:count' listing.
func disassemble(m *machine.Machine, span string) {
	start, count := uint64(0), uint64(16)
	parts := strings.SplitN(span, ":", 2)
	var err error
	if start, err = strconv.ParseUint(parts[0], 0, 16); err != nil {
		log.Fatalf("%v: %v", span, err)
	}
	if len(parts) > 1 {
		if count, err = strconv.ParseUint(parts[1], 0, 16); err != nil {
			log.Fatalf("%v: %v", span, err)
		}
	}

	lines, err := m.Vm.Disassemble(uint16(start), int(count))
	for _, line := range lines {
		fmt.Println(line)
	}
	if err != nil {
		log.Fatalf("%v", err)
	}
}

// run drives the machine until it halts, feeding input from stdin.
func run(m *machine.Machine) {
	stdin := bufio.NewScanner(os.Stdin)

	seen := 0
	flush := func() {
		for ; seen < len(m.Messages); seen++ {
			fmt.Print(m.Messages[seen])
		}
	}

	for {
		stop, err := m.Run()
		if err != nil {
			flush()
			fmt.Print(string(m.Vm.TakeOutput()))
			log.Fatalf("%v", err)
		}

		switch stop.Reason {
		case vm.STOP_HALT:
			flush()
			return
		case vm.STOP_INPUT:
			flush()
			if !stdin.Scan() {
				return
			}
			m.Feed(stdin.Text())
		case vm.STOP_LIMIT:
			fmt.Print(string(m.Vm.TakeOutput()))
			log.Printf("budget reached after %d steps", m.Vm.Steps)
			return
		case vm.STOP_BREAK:
			fmt.Print(string(m.Vm.TakeOutput()))
			log.Printf("breakpoint %d at %d", stop.Breakpoint, m.Vm.Ip)
			fmt.Print(m.Vm.String())
			return
		}
	}
}

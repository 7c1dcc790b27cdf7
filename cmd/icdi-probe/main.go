// Command icdi-probe is a flag-driven diagnostic tool for the TI Stellaris/
// Tiva In-Circuit Debug Interface: list attached probes, attach, and run
// basic target operations (halt/run/step, register dump, memory read).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"icdi/internal/config"
	"icdi/internal/usbchannel"
	"icdi/probe"
)

func main() {
	listDevices := flag.Bool("list", false, "list attached ICDI probes and exit")
	serial := flag.String("serial", "", "serial number of the probe to open (empty = any)")
	mode := flag.String("mode", "info", "operation: info, halt, run, step, dump-regs, read-mem")
	memAddr := flag.String("addr", "0x20000000", "memory address for read-mem, hex")
	memLen := flag.Uint("len", 32, "number of bytes for read-mem")
	timeout := flag.Duration("timeout", 5*time.Second, "overall operation timeout")
	flag.Parse()

	if *listDevices {
		runList()
		return
	}

	sel, err := config.Selector()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *serial != "" {
		sel.Serial = *serial
	}

	p, err := probe.Open(sel)
	if err != nil {
		log.Fatalf("open probe: %v", err)
	}
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := p.Attach(ctx); err != nil {
		log.Fatalf("attach: %v", err)
	}
	defer func() {
		if err := p.Detach(context.Background()); err != nil {
			log.Printf("detach: %v", err)
		}
	}()

	log.Printf("attached to probe %s", p.Serial())

	switch *mode {
	case "info":
		runInfo(ctx, p)
	case "halt":
		if err := p.Halt(ctx); err != nil {
			log.Fatalf("halt: %v", err)
		}
		log.Println("target halted")
	case "run":
		if err := p.Run(ctx); err != nil {
			log.Fatalf("run: %v", err)
		}
		log.Println("target running")
	case "step":
		if err := p.Step(ctx); err != nil {
			log.Fatalf("step: %v", err)
		}
		log.Println("target stepped")
	case "dump-regs":
		runDumpRegs(ctx, p)
	case "read-mem":
		runReadMem(ctx, p, *memAddr, uint32(*memLen))
	default:
		log.Fatalf("unknown mode: %s", *mode)
	}
}

func runList() {
	infos, err := usbchannel.List()
	if err != nil {
		log.Fatalf("list devices: %v", err)
	}
	if len(infos) == 0 {
		fmt.Println("no ICDI probes found")
		return
	}
	for _, info := range infos {
		fmt.Printf("bus=%d addr=%d vid=%#04x pid=%#04x serial=%q\n",
			info.Bus, info.Address, uint16(info.VendorID), uint16(info.ProductID), info.Serial)
	}
}

func runInfo(ctx context.Context, p *probe.Probe) {
	state, err := p.TargetState(ctx)
	if err != nil {
		log.Fatalf("target state: %v", err)
	}
	fmt.Printf("target state: %s\n", state)
	fmt.Printf("speed: %d kHz\n", p.Speed())
	fmt.Printf("access ports: %d\n", p.NumAccessPorts())
	if info, ok := p.APInformation(0); ok {
		fmt.Printf("ap0: %s\n", info)
	}
}

func runDumpRegs(ctx context.Context, p *probe.Probe) {
	mi := p.MemoryInterface(0)
	for r := 0; r <= 15; r++ {
		v, err := mi.ReadCoreReg(ctx, r)
		if err != nil {
			log.Fatalf("read core reg %d: %v", r, err)
		}
		fmt.Printf("r%d = %#08x\n", r, v)
	}
}

func runReadMem(ctx context.Context, p *probe.Probe, addrStr string, length uint32) {
	addr64, err := strconv.ParseUint(strings.TrimPrefix(addrStr, "0x"), 16, 32)
	if err != nil {
		log.Fatalf("invalid address %q: %v", addrStr, err)
	}

	mi := p.MemoryInterface(0)
	buf := make([]byte, length)
	if err := mi.ReadMem8(ctx, uint32(addr64), buf); err != nil {
		log.Fatalf("read memory: %v", err)
	}

	for off := 0; off < len(buf); off += 16 {
		end := off + 16
		if end > len(buf) {
			end = len(buf)
		}
		fmt.Printf("%08x: % x\n", uint32(addr64)+uint32(off), buf[off:end])
	}

	os.Exit(0)
}

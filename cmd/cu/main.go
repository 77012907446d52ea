// Command cu is the EVO control unit's process entrypoint: it loads the
// machine and I/O TOML configuration, opens the SHM transport,
// and runs the real-time cycle loop.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"evo-control-unit/internal/cycle"
	"evo-control-unit/internal/diag"
	"evo-control-unit/internal/evoconfig"
	"evo-control-unit/internal/model"
	"evo-control-unit/internal/shm"
)

func main() {
	machinePath := flag.String("machine-config", "/etc/evo/machine.toml", "path to machine configuration TOML")
	ioPath := flag.String("io-config", "/etc/evo/io.toml", "path to I/O configuration TOML")
	sim := flag.Bool("sim", false, "run in simulation mode (RT setup steps become no-ops)")
	cpu := flag.Int("cpu", 2, "CPU core to pin the cycle thread to")
	priority := flag.Int("priority", 80, "SCHED_FIFO priority for the cycle thread")
	debug := flag.Bool("debug", false, "enable verbose logging")
	flag.Parse()

	logger := log.New(os.Stderr, "cu: ", log.LstdFlags)
	if *debug {
		logger.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	machineData, err := os.ReadFile(*machinePath)
	if err != nil {
		logger.Fatalf("read machine config: %v", err)
	}
	ioData, err := os.ReadFile(*ioPath)
	if err != nil {
		logger.Fatalf("read io config: %v", err)
	}

	mc, err := evoconfig.LoadMachineConfig(string(machineData))
	if err != nil {
		logger.Fatalf("parse machine config: %v", err)
	}
	ic, err := evoconfig.LoadIoConfig(string(ioData))
	if err != nil {
		logger.Fatalf("parse io config: %v", err)
	}
	reg, err := evoconfig.Validate(mc, ic)
	if err != nil {
		logger.Fatalf("validate config: %v", err)
	}

	segs, err := openSegments()
	if err != nil {
		logger.Fatalf("open shm segments: %v", err)
	}

	st := cycle.NewStateFromConfig(mc)
	ring := diag.NewRing(1024, logger)

	cfg := cycle.Config{
		CycleTimeNs: int64(mc.CycleTimeUs) * 1000,
		MqtInterval: mc.MqtInterval,
		Cpu:         *cpu,
		Priority:    *priority,
		Simulate:    *sim,
	}
	runner := cycle.NewRunner(cfg, segs, st, reg, logger)
	runner.Ring = ring

	stop := make(chan struct{})
	go ring.Run(100*time.Millisecond, stop)
	defer close(stop)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Printf("starting cycle loop: %d axes, cycle=%dus, sim=%v", len(mc.Axes), mc.CycleTimeUs, *sim)
	if err := runner.Run(ctx); err != nil {
		logger.Fatalf("cycle runner exited: %v", err)
	}
}

func openSegments() (cycle.Segments, error) {
	var segs cycle.Segments
	var err error

	halIn, err := shm.NewReader[model.HalToCuSegment]("hal_cu", model.ModuleCu)
	if err != nil {
		return segs, err
	}
	reIn, err := shm.NewReader[model.ReToCuSegment]("re_cu", model.ModuleCu)
	if err != nil {
		return segs, err
	}
	rpcIn, err := shm.NewReader[model.RpcToCuSegment]("rpc_cu", model.ModuleCu)
	if err != nil {
		return segs, err
	}
	halOut, err := shm.NewWriter[model.CuToHalSegment]("cu_hal", model.ModuleCu, model.ModuleHal)
	if err != nil {
		return segs, err
	}
	mqtOut, err := shm.NewWriter[model.CuToMqtSegment]("cu_mqt", model.ModuleCu, model.ModuleMqt)
	if err != nil {
		return segs, err
	}
	reOut, err := shm.NewWriter[model.CuToReSegment]("cu_re", model.ModuleCu, model.ModuleRe)
	if err != nil {
		return segs, err
	}

	segs.HalIn, segs.ReIn, segs.RpcIn = halIn, reIn, rpcIn
	segs.HalOut, segs.MqtOut, segs.ReOut = halOut, mqtOut, reOut
	return segs, nil
}

// Command schedsim-demo is a smoke-test harness for the scheduler: it wires
// config, logging, metrics, and a bundled in-memory fake runtime together and
// drives a handful of scripted scenarios through the dispatcher outside of
// `go test`, printing the final report the way the real simulator would
// (SPEC_FULL.md §6, §8). The real discrete-event simulator is out of scope
// for this module, so this binary stands in for it the way the teacher's
// placement/main and hostmgr/main stand up their engines against a live
// cluster: same config/logging/metrics wiring, a fake collaborator in place
// of the network calls those binaries would otherwise make.
package main

import (
	"context"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/caspian-labs/vsched/config"
	"github.com/caspian-labs/vsched/metrics"
	"github.com/caspian-labs/vsched/policy"
	"github.com/caspian-labs/vsched/policy/greedy"
	"github.com/caspian-labs/vsched/policy/pmapper"
	"github.com/caspian-labs/vsched/runtime"
	"github.com/caspian-labs/vsched/runtime/runtimetest"
	"github.com/caspian-labs/vsched/scheduler"
)

var (
	version string
	app     = kingpin.New("schedsim-demo", "Scheduler simulation smoke-test harness")

	debug = app.
		Flag("debug", "enable debug-level logging").
		Short('d').
		Default("false").
		Bool()

	configFiles = app.
			Flag("config", "YAML configuration file (can be given multiple times to merge configs)").
			Short('c').
			ExistingFiles()

	policyName = app.
			Flag("policy", "policy variant to run (greedy or pmapper); overrides the config file").
			String()
)

func resolvePolicy(name string) policy.Policy {
	switch name {
	case "pmapper":
		return pmapper.New()
	default:
		return greedy.New()
	}
}

// demoCluster builds a small fake cluster: four x86 machines, one of them
// with a GPU, mirroring the mixed fleet SPEC_FULL.md §8's scenarios assume.
// Only machine 0 starts on, matching the demo's MinActiveMachines=1 floor --
// the fake's SetMachineState is a deliberate no-op (see runtimetest.Fake), so
// Init's own attempt to force the layout can't correct a mismatched spec.
func demoCluster() *runtimetest.Fake {
	fake := runtimetest.New([]runtimetest.MachineSpec{
		{CPUKind: "x86", MemorySizeMB: 256, Initial: runtime.S0},
		{CPUKind: "x86", MemorySizeMB: 256, Initial: runtime.S5},
		{CPUKind: "x86", MemorySizeMB: 256, Initial: runtime.S5},
		{CPUKind: "x86", GPU: true, MemorySizeMB: 128, Initial: runtime.S5},
	})
	fake.SetSLAReport(runtime.SLA0, 0)
	fake.SetSLAReport(runtime.SLA1, 0.4)
	fake.SetSLAReport(runtime.SLA2, 1.2)
	fake.SetEnergy(12.5)
	return fake
}

// runDemo drives a short sequence exercising placement, queue draining, task
// completion, and the final report: one pass through most of the nine
// callbacks a real simulator would issue.
func runDemo(ctx context.Context, sched *scheduler.Scheduler, fake *runtimetest.Fake) {
	fake.SetTask(1, runtime.TaskInfo{VMKind: "std", CPUKind: "x86", MemoryMB: 64, SLAClass: runtime.SLA1})
	fake.SetTask(2, runtime.TaskInfo{VMKind: "std", CPUKind: "x86", MemoryMB: 64, SLAClass: runtime.SLA2})
	fake.SetTask(3, runtime.TaskInfo{VMKind: "gpu", CPUKind: "x86", GPUCapable: true, MemoryMB: 32, SLAClass: runtime.SLA2})

	must := func(err error) {
		if err != nil {
			log.WithError(err).Fatal("demo step failed")
		}
	}

	must(sched.NewTask(ctx, 0, 1))
	must(sched.NewTask(ctx, 0, 2))
	must(sched.NewTask(ctx, 1, 3))

	// Task 3 needed the GPU machine, which started asleep; wake it and drain
	// the queue the way StateChangeComplete would once the runtime reports it.
	fake.CompleteTransition(3, runtime.S0)
	must(sched.StateChangeComplete(ctx, 2, 3))

	must(sched.TaskComplete(ctx, 3, 1))
	must(sched.PeriodicTick(ctx, 4))

	sched.SimulationComplete(ctx, 5)
}

func main() {
	app.Version(version)
	app.HelpFlag.Short('h')
	kingpin.MustParse(app.Parse(os.Args[1:]))

	if *debug {
		log.SetLevel(log.DebugLevel)
	}

	cfg := config.Default()
	if len(*configFiles) > 0 {
		loaded, err := config.Parse(*configFiles...)
		if err != nil {
			log.WithError(err).Fatal("cannot parse scheduler config")
		}
		cfg = loaded
	} else {
		// Default() assumes a real fleet large enough that 16 always-on
		// machines makes sense; the bundled demo only has four, so without a
		// config file override the floor so consolidation and the janitor
		// have room to actually power machines down.
		cfg.MinActiveMachines = 1
	}
	if *policyName != "" {
		cfg.PolicyVariant = *policyName
	}

	scope, closer := metrics.NewRootScope(cfg.Metrics, time.Second)
	defer closer.Close()
	m := metrics.New(scope)

	fake := demoCluster()
	sched := scheduler.New(fake, cfg, m, resolvePolicy(cfg.PolicyVariant), log.StandardLogger())

	ctx := context.Background()
	if err := sched.Init(ctx); err != nil {
		log.WithError(err).Fatal("scheduler init failed")
	}

	runDemo(ctx, sched, fake)

	for _, line := range fake.Outputs {
		log.Info(line)
	}
	for _, line := range fake.Exceptions {
		log.Warn(line)
	}
}

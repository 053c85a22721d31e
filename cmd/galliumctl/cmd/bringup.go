package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/galliumaudio/gallium/pkg/store"
	"github.com/galliumaudio/gallium/pkg/topology"
)

var (
	bringupConfigPath string
	bringupTimeout    time.Duration

	okFmt   = color.New(color.FgGreen).SprintFunc()
	failFmt = color.New(color.FgRed, color.Bold).SprintFunc()
	dimFmt  = color.New(color.Faint).SprintFunc()
)

var bringupCmd = &cobra.Command{
	Use:   "bringup",
	Short: "Build and exercise the board's stream topology on the DSP",
	Long: `bringup reads the board configuration, builds each stream pipeline on
the DSP (host copier, link copier, bind), runs it through a
start/stop cycle and tears it down. Every controller operation and
the run outcome are recorded in the history database.`,
	RunE: runBringup,
}

func init() {
	bringupCmd.Flags().StringVarP(&bringupConfigPath, "config", "c", "", "board config YAML (default: built-in emulated board)")
	bringupCmd.Flags().DurationVar(&bringupTimeout, "timeout", time.Second, "per-request IPC timeout")
	rootCmd.AddCommand(bringupCmd)
}

// runRecorder appends sequenced bring-up events, tolerating store errors
// so recording never aborts a bring-up.
type runRecorder struct {
	runID string
	seq   int
}

func (r *runRecorder) record(op, target string, opErr error) {
	r.seq++
	status := "ok"
	if opErr != nil {
		status = opErr.Error()
	}
	ev := store.BringupEvent{
		RunID: r.runID, Seq: r.seq,
		Op: op, Target: target, Status: status, At: time.Now(),
	}
	if err := runStore.AppendEvent(ev); err != nil {
		fmt.Printf("%s\n", dimFmt("warning: failed to record event: "+err.Error()))
	}
}

func runBringup(cmd *cobra.Command, args []string) error {
	cfg := DefaultBoardConfig()
	if bringupConfigPath != "" {
		var err error
		cfg, err = LoadBoardConfig(bringupConfigPath)
		if err != nil {
			return err
		}
	}
	provider, err := cfg.Provider()
	if err != nil {
		return err
	}

	runID := uuid.New().String()
	if err := runStore.StartRun(runID, cfg.Board, time.Now()); err != nil {
		return err
	}
	rec := &runRecorder{runID: runID}

	fmt.Printf("bring-up %s on board %s\n", dimFmt(runID), cfg.Board)

	s := newEmulatorSession(bringupTimeout)
	defer s.close()

	failRun := func(stage string, err error) error {
		runStore.FinishRun(runID, "failed", stage+": "+err.Error(), time.Now())
		fmt.Printf("%s %s: %v\n", failFmt("FAIL"), stage, err)
		return err
	}

	builder := topology.NewBuilder(s.ctrl, provider, nil)
	err = builder.Prepare(context.Background())
	rec.record("prepare", "firmware", err)
	if err != nil {
		return failRun("prepare", err)
	}
	fmt.Printf("%s firmware catalog read\n", okFmt("ok"))

	for _, sc := range cfg.Streams {
		spec, err := sc.Spec()
		if err != nil {
			return failRun("config", err)
		}
		name := sc.Direction + "/" + sc.Link

		stream, err := builder.BuildStream(spec)
		rec.record("build", name, err)
		if err != nil {
			return failRun("build "+name, err)
		}
		if err := builder.Start(stream); err != nil {
			rec.record("start", name, err)
			return failRun("start "+name, err)
		}
		rec.record("start", name, nil)
		if err := builder.Stop(stream); err != nil {
			rec.record("stop", name, err)
			return failRun("stop "+name, err)
		}
		rec.record("stop", name, nil)
		if err := builder.Teardown(stream); err != nil {
			rec.record("teardown", name, err)
			return failRun("teardown "+name, err)
		}
		rec.record("teardown", name, nil)

		fmt.Printf("%s %s pipeline %d\n", okFmt("ok"), name, stream.Pipeline.ID)
	}

	if err := runStore.FinishRun(runID, "succeeded", "", time.Now()); err != nil {
		return err
	}
	fmt.Printf("%s bring-up complete\n", okFmt("ok"))
	return nil
}

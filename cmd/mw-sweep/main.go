// Command mw-sweep drives mw-launcher across a grid of obfuscation,
// shaping and adaptation parameters, then writes the list of run IDs
// into one summary file. Per-run outputs such as meta.json stay in each
// run's own directory and are not merged.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// adaptiveMode names one of the five adaptation toggle combinations
// swept, matching the original experiment driver's enumeration.
type adaptiveMode struct {
	name               string
	paths, behavior, proto bool
}

var adaptiveModes = []adaptiveMode{
	{"static", false, false, false},
	{"adaptive_paths_only", true, false, false},
	{"adaptive_behavior_only", false, true, false},
	{"adaptive_proto_only", false, false, true},
	{"full_adaptive", true, true, true},
}

var (
	pathCounts         = []int{2, 3, 4}
	obfuscationLevels  = []int{0, 1, 2, 3}
	alphaPaddings      = []float64{0.02, 0.05, 0.1}
	protoSwitchPeriods = []int{1, 3, 5}
)

func main() {
	outDir := flag.String("out-dir", "out", "Base output directory for every swept run")
	sessionDuration := flag.Duration("session-duration", 10*time.Second, "How long each run is left up before shutdown")
	flag.Parse()

	var runIDs []string

	for _, pc := range pathCounts {
		for _, level := range obfuscationLevels {
			for _, alpha := range alphaPaddings {
				for _, period := range protoSwitchPeriods {
					for _, mode := range adaptiveModes {
						runID := runOne(*outDir, *sessionDuration, map[string]string{
							"PATH_COUNT":           strconv.Itoa(pc),
							"OBFUSCATION_LEVEL":    strconv.Itoa(level),
							"ALPHA_PADDING":        strconv.FormatFloat(alpha, 'f', -1, 64),
							"PROTO_SWITCH_PERIOD":  strconv.Itoa(period),
							"ADAPTIVE_PATHS":       boolEnv(mode.paths),
							"ADAPTIVE_BEHAVIOR":    boolEnv(mode.behavior),
							"ADAPTIVE_PROTO":       boolEnv(mode.proto),
							"MODE":                 "normal",
						})
						runIDs = append(runIDs, runID)
					}
				}
			}
		}
	}

	for _, baselineMode := range []string{"baseline_delay", "baseline_padding"} {
		runID := runOne(*outDir, *sessionDuration, map[string]string{
			"MODE":       baselineMode,
			"PATH_COUNT": "1",
		})
		runIDs = append(runIDs, runID)
	}

	if err := writeSummary(*outDir, runIDs); err != nil {
		log.Fatalf("mw-sweep: writing summary: %v", err)
	}
	log.Printf("mw-sweep: completed %d runs, summary at %s", len(runIDs), filepath.Join(*outDir, "sweep_summary.json"))
}

func boolEnv(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// runOne launches one mw-launcher run with the given environment
// overrides, lets it operate for sessionDuration, then signals
// shutdown and waits for it to exit cleanly.
func runOne(outDir string, sessionDuration time.Duration, overrides map[string]string) string {
	runID := uuid.NewString()[:8]
	env := os.Environ()
	env = append(env, "RUN_ID="+runID, "OUT_DIR="+outDir)
	for k, v := range overrides {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	cmd := exec.Command("mw-launcher", "--run-id", runID, "--out-dir", outDir)
	cmd.Env = env
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		log.Printf("mw-sweep: starting run %s: %v", runID, err)
		return runID
	}

	time.Sleep(sessionDuration)
	cmd.Process.Signal(os.Interrupt)
	cmd.Wait()

	return runID
}

type sweepSummary struct {
	RunIDs []string  `json:"run_ids"`
	Runs   int       `json:"runs"`
}

func writeSummary(outDir string, runIDs []string) error {
	summary := sweepSummary{RunIDs: runIDs, Runs: len(runIDs)}
	b, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(outDir, "sweep_summary.json"), b, 0o644)
}

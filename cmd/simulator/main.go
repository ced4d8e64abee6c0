// Command simulator runs the fleet without any network surface and prints
// one JSON snapshot per line, which is handy for checking motion offline.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/signalsfoundry/vehicle-feed-simulator/internal/fleet"
	"github.com/signalsfoundry/vehicle-feed-simulator/internal/logging"
	"github.com/signalsfoundry/vehicle-feed-simulator/internal/sim/state"
	"github.com/signalsfoundry/vehicle-feed-simulator/kb"
	"github.com/signalsfoundry/vehicle-feed-simulator/timectrl"
)

type options struct {
	Start       time.Time
	Duration    time.Duration
	Tick        time.Duration
	Accelerated bool
	// Every prints only every Nth snapshot; values below 2 print all.
	Every int
}

func main() {
	duration := flag.Duration("duration", 60*time.Second, "total simulated duration")
	tick := flag.Duration("tick", timectrl.DefaultTick, "tick interval")
	accelerated := flag.Bool("accelerated", true, "run in accelerated mode (vs real-time)")
	every := flag.Int("every", 10, "print every Nth snapshot")
	flag.Parse()

	log := logging.NewFromEnv(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	ticks, err := simulate(ctx, os.Stdout, log, options{
		Start:       time.Now().UTC(),
		Duration:    *duration,
		Tick:        *tick,
		Accelerated: *accelerated,
		Every:       *every,
	})
	if err != nil {
		log.Error(ctx, "simulation failed", logging.Err(err))
		os.Exit(1)
	}
	log.Info(ctx, "simulation finished", logging.Int("ticks", ticks))
}

// simulate runs the default fleet for opts.Duration of simulated time and
// writes snapshots to w. It returns the number of ticks executed.
func simulate(ctx context.Context, w io.Writer, log logging.Logger, opts options) (int, error) {
	path, err := fleet.DefaultPath()
	if err != nil {
		return 0, fmt.Errorf("loading route: %w", err)
	}
	store := kb.NewKnowledgeBase()
	if err := fleet.LoadDefaults(store); err != nil {
		return 0, fmt.Errorf("loading fleet: %w", err)
	}
	fs, err := state.NewFleetState(path, store, opts.Start, log)
	if err != nil {
		return 0, err
	}

	mode := timectrl.RealTime
	if opts.Accelerated {
		mode = timectrl.Accelerated
	}
	tc := timectrl.NewTimeController(opts.Start, opts.Tick, mode)

	enc := json.NewEncoder(w)
	var writeErr error
	tc.AddListener(func(now time.Time) {
		snap := fs.RunTick(now)
		if writeErr != nil {
			return
		}
		if n := tc.TickCount(); opts.Every < 2 || n%uint64(opts.Every) == 0 {
			writeErr = enc.Encode(snap)
		}
	})

	<-tc.Start(ctx, opts.Duration)
	ticks := int(tc.TickCount())
	log.Debug(ctx, "simulation clock stopped", logging.String("sim_time", tc.Now().Format(time.RFC3339Nano)))
	if writeErr != nil {
		return ticks, fmt.Errorf("writing snapshot: %w", writeErr)
	}
	return ticks, nil
}

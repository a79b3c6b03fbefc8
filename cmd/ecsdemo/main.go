// ecsdemo populates a world from a config, integrates movement in parallel,
// churns entities and defragments, logging storage stats every round.
//
// Profiling:
// go run ./cmd/ecsdemo -profile mem
// go tool pprof -http=":8000" mem.pprof
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/profile"

	"github.com/zeusync/ecscore/internal/core/ecs/component"
	"github.com/zeusync/ecscore/internal/core/ecs/config"
	"github.com/zeusync/ecscore/internal/core/ecs/entity"
	"github.com/zeusync/ecscore/internal/core/ecs/events"
	"github.com/zeusync/ecscore/internal/core/models"
	"github.com/zeusync/ecscore/internal/core/observability/log"
	"github.com/zeusync/ecscore/internal/injector"
)

var (
	positionHash = component.HashName("Position")
	velocityHash = component.HashName("Velocity")
	tickType     = events.HashName("Tick")
)

func main() {
	configPath := flag.String("config", "", "path to a YAML or JSON config")
	profileMode := flag.String("profile", "", "cpu or mem")
	count := flag.Int("entities", 10000, "movers created per round")
	rounds := flag.Int("rounds", 10, "simulation rounds")
	flag.Parse()

	switch *profileMode {
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	case "mem":
		defer profile.Start(profile.MemProfileAllocs, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath, *count, *rounds); err != nil {
		fmt.Fprintln(os.Stderr, "ecsdemo:", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadFile(path)
}

func run(ctx context.Context, configPath string, count, rounds int) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	m, err := injector.InitializeManager(cfg)
	if err != nil {
		return err
	}
	logger := log.Provide().Named("ecsdemo")

	if err := setup(m); err != nil {
		return err
	}
	movers := m.RegisterQuery(entity.QueryDesc{
		Name:     "movers",
		Required: []component.TypeHash{positionHash, velocityHash},
	})

	var handled int
	if _, err := m.RegisterEventSystem(entity.EventSystemDesc{
		Name:   "tick-counter",
		Events: []events.Type{tickType},
		Query:  entity.QueryDesc{Required: []component.TypeHash{velocityHash}},
		Handler: func(models.EntityID, *events.Event) error {
			handled++
			return nil
		},
	}); err != nil {
		return err
	}

	var live []models.EntityID
	for round := 0; round < rounds; round++ {
		if ctx.Err() != nil {
			break
		}
		for i := 0; i < count; i++ {
			eid, err := m.CreateSync("mover", entity.Initializer{
				entity.Value("Velocity", vec2(float32(i%7), float32(i%5))),
			})
			if err != nil {
				return err
			}
			live = append(live, eid)
		}
		if round%3 == 0 {
			if _, err := m.CreateSync("beacon", nil); err != nil {
				return err
			}
		}

		if err := m.ParallelForEach(ctx, movers, cfg.Parallel.Workers, integrate); err != nil {
			return err
		}
		if err := m.Broadcast(events.New(tickType, 0, nil)); err != nil {
			return err
		}

		// churn: drop every other mover
		kept := live[:0]
		for i, eid := range live {
			if i%2 == 0 {
				m.DestroyAsync(eid)
				continue
			}
			kept = append(kept, eid)
		}
		live = kept
		if err := m.Tick(); err != nil {
			return err
		}

		dropped, err := m.DefragArchetypes()
		if err != nil {
			return err
		}
		s := m.Stats()
		logger.Info("round done",
			log.Int("round", round),
			log.Int("entities", s.Entities),
			log.Int("archetypes", s.Archetypes),
			log.Int("chunks", s.Chunks),
			log.Int("bytes", s.Bytes),
			log.Int("defrag_dropped", dropped),
			log.Int("events_handled", handled))
	}
	m.DumpArchetypes()
	if cfg.Events.Observe {
		bm := m.Bus().GetMetrics()
		logger.Info("bus metrics",
			log.Uint64("published", bm.Published),
			log.Uint64("unicast", bm.Unicast),
			log.Uint64("handlers", bm.DeliveredHandlers),
			log.Uint64("errors", bm.Errors))
	}
	return nil
}

// setup registers the demo types and templates unless the config already
// provides them.
func setup(m *entity.Manager) error {
	for _, decl := range []component.Declaration{
		{Name: "Position", Size: 8, Flags: component.IsPod},
		{Name: "Velocity", Size: 8, Flags: component.IsPod},
		{Name: "Beacon", Size: 4, Flags: component.IsPod | component.DontReplicate},
	} {
		if _, ok := m.Registry().FindByName(decl.Name); ok {
			continue
		}
		if _, err := m.Registry().Register(decl); err != nil {
			return err
		}
	}
	m.Events().Register(events.Descriptor{
		Type:  tickType,
		Name:  "Tick",
		Size:  events.HeaderSize,
		Flags: events.Broadcast,
	})

	templates := map[string][]entity.ComponentValue{
		"mover":  {entity.Value("Position", nil), entity.Value("Velocity", nil)},
		"beacon": {entity.Value("Position", nil), entity.Value("Beacon", nil)},
	}
	for name, values := range templates {
		if m.Templates().Has(name) {
			continue
		}
		if _, err := m.AddTemplate(name, values...); err != nil {
			return err
		}
	}
	return nil
}

func integrate(_ context.Context, v *entity.ChunkView) error {
	pos, ok := v.Column(positionHash)
	if !ok {
		return nil
	}
	vel, _ := v.Column(velocityHash)
	for off := 0; off+4 <= len(pos); off += 4 {
		p := math.Float32frombits(binary.LittleEndian.Uint32(pos[off:]))
		d := math.Float32frombits(binary.LittleEndian.Uint32(vel[off:]))
		binary.LittleEndian.PutUint32(pos[off:], math.Float32bits(p+d))
	}
	return nil
}

func vec2(x, y float32) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b[0:], math.Float32bits(x))
	binary.LittleEndian.PutUint32(b[4:], math.Float32bits(y))
	return b
}

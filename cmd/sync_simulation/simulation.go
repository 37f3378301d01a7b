package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/xelth-com/yatrasync/internal/config"
	"github.com/xelth-com/yatrasync/internal/database"
	"github.com/xelth-com/yatrasync/internal/handlers"
	"github.com/xelth-com/yatrasync/internal/identity"
	"github.com/xelth-com/yatrasync/internal/localstore"
	"github.com/xelth-com/yatrasync/internal/models"
	"github.com/xelth-com/yatrasync/internal/netmon"
	"github.com/xelth-com/yatrasync/internal/remote"
	"github.com/xelth-com/yatrasync/internal/store"
	yatrasync "github.com/xelth-com/yatrasync/internal/sync"
	"github.com/xelth-com/yatrasync/internal/utils"
	"github.com/xelth-com/yatrasync/internal/websocket"
)

const simSecret = "simulation-secret"

// Options shapes one simulated event day
type Options struct {
	Devices        int
	Participants   int
	Checkpoints    int
	ScansPerDevice int
	OfflineRatio   float64 // chance a device drops off the network before each scan
	Seed           uint64
	DataDir        string
}

// Report is what the simulation observed
type Report struct {
	Attempted       int
	QueuedLocally   int
	LocalDuplicates int
	ServerScans     int
	DistinctPairs   int
	Violations      []string
	Duration        time.Duration
}

type simDevice struct {
	id     string
	engine *yatrasync.Engine
	net    *netmon.Monitor
	kv     *localstore.Store
}

// Simulate runs devices against an in-process server and checks that every
// (participant, checkpoint) pair ends up confirmed exactly once everywhere.
func Simulate(ctx context.Context, opts Options, log logrus.FieldLogger) (Report, error) {
	start := time.Now()
	rep := Report{}

	db, err := database.OpenMemory("sim-" + uuid.NewString())
	if err != nil {
		return rep, err
	}
	defer db.Close()
	if err := db.MigrateServer(); err != nil {
		return rep, err
	}

	s := store.New(db.DB, log)
	if err := seedStore(ctx, s, opts); err != nil {
		return rep, err
	}

	hubCtx, hubCancel := context.WithCancel(ctx)
	defer hubCancel()
	hub := websocket.NewHub(log)
	go hub.Run(hubCtx)
	s.OnAccepted(hub.ScanAccepted)

	srv := httptest.NewServer(handlers.NewRouter(s, hub, simSecret, log))
	defer srv.Close()

	devices := make([]*simDevice, 0, opts.Devices)
	defer func() {
		for _, d := range devices {
			d.engine.Stop()
			d.kv.Close()
		}
	}()
	for i := 0; i < opts.Devices; i++ {
		d, err := newSimDevice(ctx, srv.URL, opts.DataDir, fmt.Sprintf("scanner-%02d", i+1), log)
		if err != nil {
			return rep, err
		}
		devices = append(devices, d)
	}

	// Scanning: every device walks the same crowd with flaky connectivity
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for i, d := range devices {
		wg.Add(1)
		go func(i int, d *simDevice) {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(opts.Seed, uint64(i)))
			for n := 0; n < opts.ScansPerDevice; n++ {
				d.net.Set(rng.Float64() >= opts.OfflineRatio)

				p := fmt.Sprintf("P%d", rng.IntN(opts.Participants)+1)
				c := fmt.Sprintf("C%d", rng.IntN(opts.Checkpoints)+1)
				res, err := d.engine.AddScan(p, c, nil)

				mu.Lock()
				rep.Attempted++
				switch {
				case err != nil:
					rep.Violations = append(rep.Violations, fmt.Sprintf("%s: add %s@%s: %v", d.id, p, c, err))
				case res.Duplicate:
					rep.LocalDuplicates++
				default:
					rep.QueuedLocally++
				}
				mu.Unlock()

				if rng.IntN(4) == 0 {
					time.Sleep(time.Duration(rng.IntN(20)) * time.Millisecond)
				}
			}
		}(i, d)
	}
	wg.Wait()

	// Everyone reaches base camp; drain synchronously from here on
	for _, d := range devices {
		d.engine.Stop()
		d.net.Set(true)
	}
	for round := 0; round < 10; round++ {
		pending := 0
		for _, d := range devices {
			waitBackoff(ctx, d.engine)
			d.engine.SyncNow(ctx)
			pending += d.engine.SyncStatus().Pending
		}
		if pending == 0 {
			break
		}
	}
	// One more poll so every device sees the scans pushed after its last poll
	for _, d := range devices {
		waitBackoff(ctx, d.engine)
		d.engine.SyncNow(ctx)
	}

	server, err := s.ListScansSince(ctx, time.Time{})
	if err != nil {
		return rep, err
	}
	rep.ServerScans = len(server)

	pairs := make(map[models.DedupKey]string, len(server))
	for _, ev := range server {
		if prev, ok := pairs[ev.DedupKey()]; ok {
			rep.Violations = append(rep.Violations, fmt.Sprintf("pair %v confirmed twice: %s and %s", ev.DedupKey(), prev, ev.ID))
		}
		pairs[ev.DedupKey()] = ev.ID
	}
	rep.DistinctPairs = len(pairs)

	for _, d := range devices {
		st := d.engine.SyncStatus()
		if st.Pending != 0 {
			rep.Violations = append(rep.Violations, fmt.Sprintf("%s: %d scans still pending", d.id, st.Pending))
		}
		seen := map[models.DedupKey]string{}
		for _, ev := range d.engine.View() {
			if prev, ok := seen[ev.DedupKey()]; ok {
				rep.Violations = append(rep.Violations, fmt.Sprintf("%s: view shows %v twice (%s, %s)", d.id, ev.DedupKey(), prev, ev.ID))
			}
			seen[ev.DedupKey()] = ev.ID
			if want := pairs[ev.DedupKey()]; want != ev.ID {
				rep.Violations = append(rep.Violations, fmt.Sprintf("%s: %v is %s locally but %s on the server", d.id, ev.DedupKey(), ev.ID, want))
			}
		}
		if len(seen) != len(pairs) {
			rep.Violations = append(rep.Violations, fmt.Sprintf("%s: sees %d pairs, server has %d", d.id, len(seen), len(pairs)))
		}
	}

	rep.Duration = time.Since(start)
	return rep, nil
}

// waitBackoff sleeps until a device may sync again
func waitBackoff(ctx context.Context, e *yatrasync.Engine) {
	until := e.SyncStatus().BackoffUntil
	if d := time.Until(until); d > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(d):
		}
	}
}

func seedStore(ctx context.Context, s *store.ScanStore, opts Options) error {
	ps := make([]models.Participant, 0, opts.Participants)
	for i := 1; i <= opts.Participants; i++ {
		ps = append(ps, models.Participant{
			ID:      fmt.Sprintf("P%d", i),
			Name:    fmt.Sprintf("Yatri %d", i),
			QRToken: fmt.Sprintf("%s%d", utils.BadgeTokenPrefix, i),
		})
	}
	if _, err := s.UpsertParticipants(ctx, ps); err != nil {
		return err
	}

	cs := make([]models.Checkpoint, 0, opts.Checkpoints)
	for i := 1; i <= opts.Checkpoints; i++ {
		cs = append(cs, models.Checkpoint{ID: fmt.Sprintf("C%d", i), Name: fmt.Sprintf("Checkpoint %d", i), Sequence: i})
	}
	return s.UpsertCheckpoints(ctx, cs)
}

func newSimDevice(ctx context.Context, baseURL, dir, name string, log logrus.FieldLogger) (*simDevice, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	kv, err := localstore.Open(filepath.Join(dir, name+".db"), log)
	if err != nil {
		return nil, err
	}

	dev, err := identity.GetOrCreate(kv, name)
	if err != nil {
		kv.Close()
		return nil, err
	}
	token, err := utils.IssueDeviceToken(dev.DeviceID, simSecret, 0)
	if err != nil {
		kv.Close()
		return nil, err
	}

	// No routes: connectivity is driven by the simulation
	mon := netmon.New(nil, log)
	base := func() string {
		if mon.Online() {
			return baseURL
		}
		return ""
	}

	cfg := config.DefaultSyncConfig()
	cfg.PollInterval = 1
	cfg.BackoffBase = 1
	cfg.BackoffCap = 2
	engine, err := yatrasync.NewEngine(yatrasync.Options{
		Device:  dev,
		KV:      kv,
		Remote:  remote.NewHTTPClient(base, token, dev, 5*time.Second),
		Network: mon,
		Config:  cfg,
		Logger:  log,
	})
	if err != nil {
		kv.Close()
		return nil, err
	}
	if err := engine.Start(ctx); err != nil {
		kv.Close()
		return nil, err
	}

	return &simDevice{id: name, engine: engine, net: mon, kv: kv}, nil
}

// Package supervisor implements the Hot-reload Supervisor: the
// signal- and timer-driven reconciliation loop that keeps the Rule
// Engine's published snapshot and the firewall's installed rule set in
// sync with the category/game files and the backing store.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"ionmandns/pkg/firewall"
	"ionmandns/pkg/logging"
	"ionmandns/pkg/portrules"
	"ionmandns/pkg/rules"
	"ionmandns/pkg/storage"
)

const defaultReloadPeriod = 30 * time.Second

// debounceDelay coalesces the burst of Write events an editor or a package
// manager produces for a single logical save of categories.json/games.json.
const debounceDelay = 100 * time.Millisecond

// Supervisor drives three reload triggers - a periodic tick, an external
// Reload() call (the SIGHUP equivalent), and ctx cancellation for shutdown.
type Supervisor struct {
	Period         time.Duration
	CategoriesPath string
	GamesPath      string

	store     storage.Store
	engine    *rules.Engine
	firewall  firewall.Installer // nil disables port rule install
	logger    *logging.Logger

	reloadCh chan struct{}

	// running guards against two compiler cycles overlapping: a tick that
	// lands mid-cycle is coalesced rather than queued.
	running sync.Mutex
}

// New creates a Supervisor. firewallInstaller may be nil to disable the
// Port Rule Compiler sync entirely (e.g. firewall.enabled=false).
func New(store storage.Store, engine *rules.Engine, fw firewall.Installer, logger *logging.Logger, period time.Duration, categoriesPath, gamesPath string) *Supervisor {
	if period <= 0 {
		period = defaultReloadPeriod
	}
	return &Supervisor{
		Period:         period,
		CategoriesPath: categoriesPath,
		GamesPath:      gamesPath,
		store:          store,
		engine:         engine,
		firewall:       fw,
		logger:         logger,
		reloadCh:       make(chan struct{}, 1),
	}
}

// Reload requests an out-of-band reconcile cycle, coalescing with any
// already-pending request.
func (s *Supervisor) Reload() {
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
}

// Run blocks, reconciling on every tick, every Reload() call, and every
// on-disk change to the category/game files, until ctx is canceled. The
// first reconcile runs immediately, before the file watch and the ticker
// start.
func (s *Supervisor) Run(ctx context.Context) {
	s.reconcile(ctx)

	watcher, err := s.watchDefinitionFiles()
	if err != nil {
		s.warn("reload: falling back to ticker-only reload, file watch unavailable", "error", err)
	} else {
		defer watcher.Close()
		go s.watchLoop(ctx, watcher)
	}

	ticker := time.NewTicker(s.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reconcile(ctx)
		case <-s.reloadCh:
			s.reconcile(ctx)
		}
	}
}

// watchDefinitionFiles opens an fsnotify watch on whichever of
// CategoriesPath/GamesPath exist on disk yet. A path that doesn't exist at
// startup (not yet written) is simply skipped; the ticker still covers it.
func (s *Supervisor) watchDefinitionFiles() (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, path := range []string{s.CategoriesPath, s.GamesPath} {
		if path == "" {
			continue
		}
		if err := watcher.Add(path); err != nil {
			s.warn("reload: cannot watch definitions file", "path", path, "error", err)
		}
	}
	return watcher, nil
}

// watchLoop debounces rapid Write/Create bursts on the watched files into a
// single Reload() request, the same shape the teacher's config file watcher
// used for its single config.yml.
func (s *Supervisor) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				debounce.Reset(debounceDelay)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.warn("reload: definitions file watcher error", "error", err)
		case <-debounce.C:
			s.Reload()
		}
	}
}

// reconcile performs one refresh-and-publish cycle. A tick landing while a
// cycle is still in flight is coalesced, never queued.
func (s *Supervisor) reconcile(ctx context.Context) {
	if !s.running.TryLock() {
		return
	}
	defer s.running.Unlock()

	categories, err := rules.LoadCategories(s.CategoriesPath)
	if err != nil {
		s.warn("reload: categories file unavailable, keeping prior definitions", "path", s.CategoriesPath, "error", err)
		categories = s.engine.Current().Categories()
	}

	games, err := rules.LoadGames(s.GamesPath)
	if err != nil {
		s.warn("reload: games file unavailable, keeping prior definitions", "path", s.GamesPath, "error", err)
		games = s.engine.Current().Games()
	}

	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		s.warn("reload: store snapshot unavailable, keeping prior snapshot", "error", err)
		return
	}

	built := rules.BuildSnapshot(snap, categories, games)
	s.engine.Publish(built)

	if s.firewall != nil {
		s.syncFirewall(snap, games)
	}
}

// syncFirewall rebuilds and installs the port-blocking rule set. Clients
// are every peer's tunnel address known to the store; install errors are
// logged and do not abort the reload cycle - the next tick re-synchronizes.
func (s *Supervisor) syncFirewall(snap *storage.Snapshot, games []rules.Game) {
	clients := make([]string, 0, len(snap.Peers))
	peerByAddr := make(map[string]storage.Peer, len(snap.Peers))
	for _, p := range snap.Peers {
		clients = append(clients, p.TunnelAddress)
		peerByAddr[p.TunnelAddress] = p
	}

	compiled := portrules.Compile(clients, games, snap.PortRules, peerByAddr, snap.Settings)

	if err := s.firewall.Sync(compiled); err != nil {
		s.warn("reload: firewall sync failed, will retry next cycle", "error", err)
	}
}

func (s *Supervisor) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

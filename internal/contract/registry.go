package contract

import (
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Registry holds the active contract set and answers contract resolution
// queries. The contract set is immutable once published; reloads swap the
// whole set atomically so in-flight evaluations never observe a partial
// update.
type Registry struct {
	active   atomic.Pointer[AccountabilityContract]
	path     string
	logger   *zap.Logger
	watcher  *fsnotify.Watcher
	stopChan chan struct{}
}

// NewRegistry creates a registry around an already-loaded contract set.
func NewRegistry(contract *AccountabilityContract, logger *zap.Logger) *Registry {
	r := &Registry{
		logger:   logger,
		stopChan: make(chan struct{}),
	}
	r.active.Store(contract)
	return r
}

// NewRegistryFromFile loads the contract document at path and creates a
// registry for it. The path is remembered for Reload and Watch.
func NewRegistryFromFile(path string, logger *zap.Logger) (*Registry, error) {
	contract, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	r := NewRegistry(contract, logger)
	r.path = path
	logger.Info("Contract set loaded",
		zap.String("service", contract.ServiceName),
		zap.String("version", contract.Version),
		zap.Int("endpoints", len(contract.Endpoints)),
	)
	return r, nil
}

// Contract returns the currently active contract set.
func (r *Registry) Contract() *AccountabilityContract {
	return r.active.Load()
}

// Resolve finds the endpoint contract matching a request path and method.
// An exact path match always wins over a wildcard match; among wildcard
// candidates the first declared match is returned. Returns nil when no
// contract applies.
func (r *Registry) Resolve(path, method string) *EndpointContract {
	set := r.active.Load()
	if set == nil {
		return nil
	}

	for i := range set.Endpoints {
		ep := &set.Endpoints[i]
		if ep.IsWildcard() {
			continue
		}
		if ep.Path == path && ep.SupportsMethod(method) {
			return ep
		}
	}
	for i := range set.Endpoints {
		ep := &set.Endpoints[i]
		if !ep.IsWildcard() {
			continue
		}
		if ep.MatchesPath(path) && ep.SupportsMethod(method) {
			return ep
		}
	}
	return nil
}

// Reload re-reads the contract document and publishes the new set.
// On failure the previous set stays active.
func (r *Registry) Reload() error {
	if r.path == "" {
		return fmt.Errorf("registry has no backing file to reload from")
	}
	contract, err := LoadFile(r.path)
	if err != nil {
		return err
	}
	r.active.Store(contract)
	r.logger.Info("Contract set reloaded",
		zap.String("service", contract.ServiceName),
		zap.Int("endpoints", len(contract.Endpoints)),
	)
	return nil
}

// Watch starts a filesystem watcher that reloads the contract set whenever
// the backing document changes. Reload failures keep the old set active.
func (r *Registry) Watch() error {
	if r.path == "" {
		return fmt.Errorf("registry has no backing file to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create contract watcher: %w", err)
	}
	// Watch the directory: editors replace files on save, which drops the
	// watch when the file itself is watched.
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch contract directory: %w", err)
	}
	r.watcher = watcher

	go r.watchLoop()
	r.logger.Info("Watching contract file for changes", zap.String("path", r.path))
	return nil
}

func (r *Registry) watchLoop() {
	var debounce *time.Timer
	target := filepath.Clean(r.path)

	for {
		select {
		case <-r.stopChan:
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(250*time.Millisecond, func() {
				if err := r.Reload(); err != nil {
					r.logger.Error("Contract reload failed, keeping previous set", zap.Error(err))
				}
			})
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error("Contract watcher error", zap.Error(err))
		}
	}
}

// Close stops the watcher if one is running.
func (r *Registry) Close() error {
	close(r.stopChan)
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}

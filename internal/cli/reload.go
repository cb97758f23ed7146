// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/jeranaias/lexguard/internal/security/access"
)

// policyReloadActor is recorded on role changes made by the watcher.
const policyReloadActor = "system:policy-reload"

// policyReloader re-applies the role policy file whenever it changes.
// The parent directory is watched so that editors which replace the file
// by rename are still seen.
type policyReloader struct {
	watcher  *fsnotify.Watcher
	path     string
	debounce time.Duration
	apply    func(ctx context.Context) error
	logger   *zap.Logger
}

func newPolicyReloader(path string, debounce time.Duration, apply func(ctx context.Context) error, logger *zap.Logger) (*policyReloader, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create policy watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &policyReloader{watcher: w, path: abs, debounce: debounce, apply: apply, logger: logger}, nil
}

// applyPolicyFunc loads path and applies it through a's authorizer.
func applyPolicyFunc(a *app, path string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		rps, err := access.LoadPolicyFile(path)
		if err != nil {
			return err
		}
		n, err := a.core.Authorizer.ApplyPolicy(ctx, rps, policyReloadActor)
		if err != nil {
			return err
		}
		a.logger.Info("AC-6: role policy reloaded",
			zap.String("path", path), zap.Int("mappings", len(rps)), zap.Int("changed", n))
		return nil
	}
}

// Run blocks until ctx is done. Bursts of events within the debounce
// window cause one reload.
func (r *policyReloader) Run(ctx context.Context) {
	defer r.watcher.Close()

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != r.path || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(r.debounce)
			} else {
				timer.Reset(r.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if err := r.apply(ctx); err != nil {
				r.logger.Error("AC-6: role policy reload failed, previous policy stays in force",
					zap.String("path", r.path), zap.Error(err))
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("AC-6: policy watcher error", zap.Error(err))
		}
	}
}

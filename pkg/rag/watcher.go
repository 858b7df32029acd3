// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rag

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher ingests supported files as they appear or change under a
// directory.
type Watcher struct {
	watcher  *fsnotify.Watcher
	pipeline *Pipeline
	basePath string
	debounce time.Duration

	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	watching bool
}

// NewWatcher creates a directory watcher bound to an ingestion
// pipeline.
func NewWatcher(pipeline *Pipeline, basePath string, debounce time.Duration) (*Watcher, error) {
	if pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Watcher{
		watcher:  w,
		pipeline: pipeline,
		basePath: basePath,
		debounce: debounce,
	}, nil
}

// Start begins watching. Events are coalesced per path and ingested
// after the debounce window closes.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watching {
		return nil
	}
	w.ctx, w.cancel = context.WithCancel(ctx)

	err := filepath.WalkDir(w.basePath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		w.cancel()
		return fmt.Errorf("failed to watch %s: %w", w.basePath, err)
	}

	w.watching = true
	go w.loop()
	slog.Info("Watching for document changes", "path", w.basePath)
	return nil
}

// Stop ends watching and releases the fsnotify handle.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.watching {
		return nil
	}
	w.cancel()
	w.watching = false
	return w.watcher.Close()
}

func (w *Watcher) loop() {
	pending := make(map[string]struct{})
	var pendingMu sync.Mutex
	var timer *time.Timer

	flush := func() {
		pendingMu.Lock()
		paths := pending
		pending = make(map[string]struct{})
		pendingMu.Unlock()

		for path := range paths {
			w.ingest(path)
		}
	}

	for {
		select {
		case <-w.ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if err := w.watcher.Add(event.Name); err != nil {
					slog.Warn("Failed to watch new directory",
						"path", event.Name, "error", err)
				}
				continue
			}
			if !w.pipeline.normalizer.CanNormalize(event.Name) {
				continue
			}

			pendingMu.Lock()
			pending[event.Name] = struct{}{}
			pendingMu.Unlock()

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, flush)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Watcher error", "path", w.basePath, "error", err)
		}
	}
}

func (w *Watcher) ingest(path string) {
	result := w.pipeline.IngestFile(w.ctx, path, "", "watcher")
	if !result.Success {
		slog.Warn("Watched file ingestion failed",
			"path", path, "errors", result.Errors)
		return
	}
	slog.Info("Ingested watched file",
		"path", path, "doc_id", result.DocID, "chunks", result.ChunksSaved)
}

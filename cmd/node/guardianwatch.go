package node

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/certusone/wormhole/portal/pkg/core"
	"github.com/fsnotify/fsnotify"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// readGuardianSetFile parses {"index": n, "keys": ["0x..", ...]}.
func readGuardianSetFile(path string) (*core.GuardianSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%s is not valid json", path)
	}
	index := gjson.GetBytes(data, "index")
	if !index.Exists() {
		return nil, fmt.Errorf("%s: missing index", path)
	}
	var keys []string
	for _, k := range gjson.GetBytes(data, "keys").Array() {
		keys = append(keys, k.String())
	}
	return core.ParseGuardianSet(uint32(index.Uint()), strings.Join(keys, ","))
}

// guardianSetWatcher installs guardian sets dropped into a file. Only sets newer than the current one are
// taken, so rewriting an old set is harmless.
type guardianSetWatcher struct {
	logger   *zap.Logger
	path     string
	verifier *core.Verifier
}

func newGuardianSetWatcher(logger *zap.Logger, path string, verifier *core.Verifier) *guardianSetWatcher {
	return &guardianSetWatcher{
		logger:   logger.With(zap.String("component", "guardiansetwatch"), zap.String("path", path)),
		path:     path,
		verifier: verifier,
	}
}

func (w *guardianSetWatcher) load() {
	gs, err := readGuardianSetFile(w.path)
	if err != nil {
		w.logger.Warn("ignoring guardian set file", zap.Error(err))
		return
	}
	current := w.verifier.CurrentIndex()
	if gs.Index <= current {
		w.logger.Debug("guardian set file is not newer", zap.Uint32("index", gs.Index), zap.Uint32("current", current))
		return
	}
	w.verifier.AddGuardianSet(gs)
	w.logger.Info("guardian set installed", zap.Uint32("index", gs.Index), zap.Strings("keys", gs.KeysAsHexStrings()))
}

// run watches the directory of the file, since editors replace files rather than write them in place.
func (w *guardianSetWatcher) run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}

	if _, err := os.Stat(w.path); err == nil {
		w.load()
	}

	name := filepath.Clean(w.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != name || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.load()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("guardian set watcher error", zap.Error(err))
		}
	}
}

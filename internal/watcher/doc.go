// Package watcher observes documentation checkouts and reports debounced
// batches of markdown changes.
//
// fsnotify is used when available, with a polling fallback for file systems
// that do not deliver events (network mounts, some container volumes).
// Only markdown files count as changes; hidden directories are never
// descended into.
//
// Usage:
//
//	w, err := watcher.New(watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	go func() { _ = w.Start(ctx, roots) }()
//	for batch := range w.Events() {
//	    bg.Trigger(ctx)
//	}
package watcher

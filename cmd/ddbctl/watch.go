package main

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// watchDBFile watches the directory holding an on-disk database and warns
// if the file changes from outside this process (e.g. a second ddbctl, or
// the owning application, writing concurrently). A memory-only session
// (path == "") has nothing to watch.
func watchDBFile(path string) func() {
	if path == "" {
		return func() {}
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return func() {}
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return func() {}
	}

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) == base && ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					fmt.Printf("\033[90m[%s changed on disk]\033[0m\n", base)
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return func() { w.Close() }
}

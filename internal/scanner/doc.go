// Package scanner walks the configured roots and yields directory batches
// in pre-order. Symlinked directories are followed only when configured;
// each directory is visited at most once per walk, keyed by device and
// inode, so symlink loops end. A Watcher can request early scans from
// fsnotify events.
package scanner

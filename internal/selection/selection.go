// Package selection turns a raw pick of files into the set the queue should
// track, according to the active selection mode.
package selection

import (
	"github.com/faceless-tools/faceless/internal/media"
	"github.com/faceless-tools/faceless/internal/queue"
)

// Normalize applies the selection policy for the mode. Files without an
// accepted media extension are dropped. Single mode keeps only the first
// eligible candidate; batch mode keeps them all, in order. Capacity is the
// queue's concern, not this one's.
func Normalize(mode queue.Mode, candidates []media.File) []media.File {
	eligible := make([]media.File, 0, len(candidates))
	for _, f := range candidates {
		if !media.Supported(f.Name) {
			continue
		}
		eligible = append(eligible, f)
		if mode == queue.ModeSingle {
			break
		}
	}
	return eligible
}

// Entries wraps normalized files in fresh pending queue entries.
func Entries(files []media.File) []queue.Entry {
	entries := make([]queue.Entry, 0, len(files))
	for _, f := range files {
		entries = append(entries, queue.NewEntry(f))
	}
	return entries
}

// Package planner turns lock file entries into the deduplicated work of a run.
package planner

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"go.trai.ch/cratesync/internal/core/domain"
	"go.trai.ch/cratesync/internal/core/ports"
	"go.trai.ch/zerr"
)

// Target reports whether an item is already present where the run writes to.
type Target interface {
	Has(ctx context.Context, item domain.WorkItem) (bool, error)
}

// Plan is the work of one run.
type Plan struct {
	// Pending holds the items to transfer, sorted by key.
	Pending []domain.WorkItem
	// Satisfied holds the items already present at the target.
	Satisfied []domain.WorkItem
}

// Keys returns the keys of every planned item, pending first.
func (p Plan) Keys() []string {
	keys := make([]string, 0, len(p.Pending)+len(p.Satisfied))
	for _, item := range p.Pending {
		keys = append(keys, item.Key)
	}
	for _, item := range p.Satisfied {
		keys = append(keys, item.Key)
	}
	return keys
}

// Dedupe merges entries resolving to the same identity into one work item per
// identity. The first entry is the representative and the order of first use is kept.
func Dedupe(entries []domain.LockEntry) []domain.WorkItem {
	index := make(map[domain.Fingerprint]int, len(entries))
	items := make([]domain.WorkItem, 0, len(entries))

	for _, e := range entries {
		fp := e.Identity.Fingerprint()
		if i, ok := index[fp]; ok {
			items[i].Entries = append(items[i].Entries, e.Ref())
			continue
		}
		index[fp] = len(items)
		items = append(items, domain.WorkItem{
			Identity: e.Identity,
			Key:      domain.StorageKey(e.Identity),
			Entries:  []string{e.Ref()},
		})
	}
	return items
}

// New deduplicates entries and splits them by presence at target.
func New(ctx context.Context, entries []domain.LockEntry, target Target) (Plan, error) {
	var plan Plan
	for _, item := range Dedupe(entries) {
		ok, err := target.Has(ctx, item)
		if err != nil {
			return Plan{}, zerr.With(zerr.Wrap(err, "failed to probe target"), "key", item.Key)
		}
		if ok {
			plan.Satisfied = append(plan.Satisfied, item)
		} else {
			plan.Pending = append(plan.Pending, item)
		}
	}

	sort.SliceStable(plan.Pending, func(i, j int) bool { return plan.Pending[i].Key < plan.Pending[j].Key })
	return plan, nil
}

// RemoteTarget checks keys against the manifest listed at planning time. When Store
// is set, listed keys are confirmed with Exists before the item is skipped.
type RemoteTarget struct {
	Manifest domain.RemoteManifest
	Store    ports.Storage
}

// Has reports whether the item key was listed and, with a Store, still exists.
func (t RemoteTarget) Has(ctx context.Context, item domain.WorkItem) (bool, error) {
	if !t.Manifest.Has(item.Key) {
		return false, nil
	}
	if t.Store == nil {
		return true, nil
	}
	return t.Store.Exists(ctx, item.Key)
}

// LocalTarget probes a CARGO_HOME for fully unpacked sources.
type LocalTarget struct {
	Home domain.CargoHome
}

// Has reports whether the item is unpacked and marked complete. Registry crates also
// need their packed .crate in the cache directory.
func (t LocalTarget) Has(_ context.Context, item domain.WorkItem) (bool, error) {
	switch item.Identity.Kind {
	case domain.KindRegistry:
		pkg := item.Identity.Registry
		ok, err := exists(filepath.Join(t.Home.CrateSrcDir(pkg), domain.CargoOKFile))
		if err != nil || !ok {
			return false, err
		}
		return exists(t.Home.CratePath(pkg))
	case domain.KindGit:
		return exists(filepath.Join(t.Home.GitCheckoutDir(item.Identity.Git), domain.CargoOKFile))
	default:
		return false, zerr.With(zerr.New("unknown identity kind"), "key", item.Key)
	}
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, zerr.With(zerr.Wrap(err, "failed to stat"), "path", path)
}

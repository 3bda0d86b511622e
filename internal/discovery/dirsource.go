package discovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/kr/fs"

	"github.com/italolelis/syncbox/internal/transfer"
)

var (
	stillExts  = map[string]bool{".heic": true, ".jpg": true, ".jpeg": true}
	motionExts = map[string]bool{".mov": true}
)

// Motion is the paired clip of a live photo.
type Motion struct {
	Path string
	Name string
	Size int64
}

// DirSource is a media library backed by a local directory. A still image and
// a .mov with the same stem in the same folder form one live asset; the clip
// is not enumerated on its own.
type DirSource struct {
	root    string
	include []string
}

// NewDirSource matches files below root against include patterns
// (doublestar syntax, case-insensitive, relative to root). No patterns means
// everything.
func NewDirSource(root string, include []string) *DirSource {
	patterns := make([]string, 0, len(include))

	for _, p := range include {
		if p = strings.TrimSpace(p); p != "" {
			patterns = append(patterns, strings.ToLower(p))
		}
	}

	return &DirSource{root: filepath.Clean(root), include: patterns}
}

type entry struct {
	rel  string
	abs  string
	info os.FileInfo
}

func (d *DirSource) Assets(ctx context.Context) ([]Asset, error) {
	var (
		files []entry
		errs  []error
	)

	walker := fs.Walk(d.root)

	for walker.Step() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := walker.Err(); err != nil {
			errs = append(errs, fmt.Errorf("error scanning media directory: %w", err))

			continue
		}

		info := walker.Stat()
		if info.IsDir() || !info.Mode().IsRegular() {
			continue
		}

		rel, err := filepath.Rel(d.root, walker.Path())
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to get relative path for %s: %w", walker.Path(), err))

			continue
		}

		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(path.Base(rel), ".") || !d.matches(rel) {
			continue
		}

		files = append(files, entry{rel: rel, abs: walker.Path(), info: info})
	}

	return pair(files), errors.Join(errs...)
}

func (d *DirSource) matches(rel string) bool {
	if len(d.include) == 0 {
		return true
	}

	lower := strings.ToLower(rel)

	for _, p := range d.include {
		if ok, err := doublestar.Match(p, lower); err == nil && ok {
			return true
		}
	}

	return false
}

// MotionResource finds the clip paired with a live still on disk.
func (d *DirSource) MotionResource(_ context.Context, rec transfer.Record) (Motion, error) {
	if rec.LocalPath == "" {
		return Motion{}, fmt.Errorf("record %s has no local path", rec.OcID)
	}

	dir := filepath.Dir(rec.LocalPath)
	stem := stemOf(filepath.Base(rec.LocalPath))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return Motion{}, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.EqualFold(stemOf(name), stem) || !motionExts[strings.ToLower(filepath.Ext(name))] {
			continue
		}

		info, err := e.Info()
		if err != nil {
			return Motion{}, fmt.Errorf("failed to stat %s: %w", name, err)
		}

		return Motion{Path: filepath.Join(dir, name), Name: name, Size: info.Size()}, nil
	}

	return Motion{}, fmt.Errorf("no motion clip for %s", rec.LocalPath)
}

// pair folds still+clip pairs into single live assets, keeping walk order.
func pair(files []entry) []Asset {
	stills := make(map[string]bool)

	for _, f := range files {
		if stillExts[strings.ToLower(path.Ext(f.rel))] {
			stills[groupKey(f.rel)] = true
		}
	}

	motions := make(map[string]bool)

	for _, f := range files {
		if motionExts[strings.ToLower(path.Ext(f.rel))] && stills[groupKey(f.rel)] {
			motions[groupKey(f.rel)] = true
		}
	}

	assets := make([]Asset, 0, len(files))

	for _, f := range files {
		key := groupKey(f.rel)
		ext := strings.ToLower(path.Ext(f.rel))

		if motionExts[ext] && stills[key] {
			continue
		}

		assets = append(assets, Asset{
			ID:         f.rel,
			Name:       path.Base(f.rel),
			Path:       f.abs,
			Size:       f.info.Size(),
			CreatedAt:  f.info.ModTime(),
			ModifiedAt: f.info.ModTime(),
			Live:       stillExts[ext] && motions[key],
		})
	}

	sort.SliceStable(assets, func(i, j int) bool { return assets[i].ID < assets[j].ID })

	return assets
}

func groupKey(rel string) string {
	return strings.ToLower(path.Join(path.Dir(rel), stemOf(path.Base(rel))))
}

func stemOf(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

package app

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// Issue is one inconsistency Repair found, shaped after spec.md's own
// error categories rather than a free-form string so callers can filter
// by kind.
type Issue struct {
	Domain  string
	Field   string
	Problem string
	Fixed   bool
}

// RepairReport summarizes one Repair pass.
type RepairReport struct {
	DomainsChecked int
	OrphansChecked int
	Issues         []Issue
}

// Repair walks the already-loaded store looking for the inconsistencies
// an unclean shutdown can leave behind — dangling vm-name references,
// volumes pointing at a pool that no longer exists, and stray volume
// image files no Domain's metadata mentions — the same shape as the
// teacher's repairVolumeMetadata/cleanOrphanedVolumeMetadata pair, just
// walking one XML document's in-memory form instead of one sidecar file
// per resource. With fix=false it only reports; with fix=true it also
// clears the inconsistencies that have a safe, unambiguous repair
// (dangling netvm, orphaned volume image files) and removes orphaned
// files from disk. A dangling template reference has no safe auto-fix
// (WriteOnce, and guessing a replacement template would be destructive)
// and is always reported, never repaired.
func (a *Application) Repair(ctx context.Context, fix bool) (*RepairReport, error) {
	report := &RepairReport{}

	for _, d := range a.Domains.List() {
		report.DomainsChecked++

		if tmpl, err := d.Get("template"); err == nil {
			if name, _ := tmpl.(string); name != "" {
				if _, err := a.Domains.ByName(name); err != nil {
					report.Issues = append(report.Issues, Issue{
						Domain: d.Name, Field: "template",
						Problem: "references missing domain " + name,
					})
				}
			}
		}

		if netvm, err := d.Get("netvm"); err == nil {
			if name, _ := netvm.(string); name != "" {
				if _, err := a.Domains.ByName(name); err != nil {
					issue := Issue{Domain: d.Name, Field: "netvm", Problem: "references missing domain " + name}
					if fix {
						if err := d.Set("netvm", ""); err == nil {
							issue.Fixed = true
							log.Warn().Str("domain", d.Name).Str("netvm", name).Msg("cleared dangling netvm reference")
						}
					}
					report.Issues = append(report.Issues, issue)
				}
			}
		}

		for volName, vol := range d.Volumes {
			cfg := vol.Config()
			if _, err := a.Pools.Get(cfg.Pool); err != nil {
				report.Issues = append(report.Issues, Issue{
					Domain: d.Name, Field: "volume:" + volName,
					Problem: "references missing pool " + cfg.Pool,
				})
			}
		}
	}

	orphans, err := a.findOrphanVolumeFiles()
	if err != nil {
		return report, err
	}
	report.OrphansChecked = len(orphans)
	for _, path := range orphans {
		issue := Issue{Field: "orphan-file", Problem: path + " has no matching volume"}
		if fix {
			if err := os.Remove(path); err != nil {
				log.Error().Err(err).Str("path", path).Msg("failed to remove orphaned volume file")
			} else {
				issue.Fixed = true
				log.Warn().Str("path", path).Msg("removed orphaned volume image file")
			}
		}
		report.Issues = append(report.Issues, issue)
	}

	return report, nil
}

// findOrphanVolumeFiles globs every file-pool's directory for *.img
// files with no corresponding vid among any Domain's Volumes — the
// filesystem-level half of the check, mirroring the teacher's own
// glob-then-cross-reference repair shape.
func (a *Application) findOrphanVolumeFiles() ([]string, error) {
	known := make(map[string]bool)
	for _, d := range a.Domains.List() {
		for _, vol := range d.Volumes {
			cfg := vol.Config()
			known[cfg.Pool+"/"+cfg.VID] = true
		}
	}

	var orphans []string
	for _, name := range a.Pools.List() {
		pool, err := a.Pools.Get(name)
		if err != nil {
			continue
		}
		dir := pool.Config["dir"]
		if dir == "" {
			dir = a.StorePath
		}
		if _, err := os.Stat(dir); err != nil {
			continue
		}

		walkErr := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
			if err != nil || entry.IsDir() || !strings.HasSuffix(path, ".img") {
				return err
			}
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return nil
			}
			vid := strings.TrimSuffix(rel, ".img")
			if !known[name+"/"+vid] {
				orphans = append(orphans, path)
			}
			return nil
		})
		if walkErr != nil {
			return nil, walkErr
		}
	}
	return orphans, nil
}

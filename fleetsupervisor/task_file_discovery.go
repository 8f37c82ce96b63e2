package fleetsupervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/schmacka/printernizer-sub001/bus"
	"github.com/schmacka/printernizer-sub001/library"
	"github.com/schmacka/printernizer-sub001/repository"
)

// runFileDiscoveryTask is Task 3 (§4.3): it runs on its own loop because
// a failed discovery pass (DiscoverFiles returning an error, which only a
// watch-folder scan failure causes) switches the next wait to the longer
// backoff interval, unlike Tasks 1 and 2 which share runPeriodic.
func (s *Supervisor) runFileDiscoveryTask(ctx context.Context) {
	defer s.wg.Done()
	interval := s.cfg.FileDiscoveryInterval

	for {
		timer := s.clk.After(interval)
		select {
		case <-ctx.Done():
			return
		case <-timer:
		}

		if err := s.DiscoverFiles(ctx); err != nil {
			logError("fleetsupervisor: file discovery failed", "", err)
			interval = s.cfg.FileDiscoveryBackoff
			continue
		}
		interval = s.cfg.FileDiscoveryInterval
	}
}

// DiscoverFiles is the force-discovery API (§4.3): it runs Task 3's body
// out of band, used by tests and the admin UI. Per-printer failures are
// isolated; only an error scanning the watch folders (a local I/O
// failure, not vendor-specific) fails the whole call and triggers the
// caller's backoff.
func (s *Supervisor) DiscoverFiles(ctx context.Context) error {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		newFiles int
		total    int
	)
	var sem chan struct{}
	if s.cfg.MaxConcurrentDownloads > 0 {
		sem = make(chan struct{}, s.cfg.MaxConcurrentDownloads)
	}

	s.mu.RLock()
	printerIDs := make([]string, 0, len(s.printers))
	for id := range s.printers {
		printerIDs = append(printerIDs, id)
	}
	s.mu.RUnlock()

	for _, id := range printerIDs {
		drv := s.driverFor(id)
		if drv == nil {
			continue
		}
		files, err := drv.ListFiles(ctx)
		if err != nil {
			logError("fleetsupervisor: listing printer files", id, err)
			continue
		}
		for _, f := range files {
			mu.Lock()
			total++
			mu.Unlock()

			// Downloads (not the listing above, which is a cheap metadata
			// call) are gated by §6's max_concurrent_downloads twice: the
			// rate limiter caps how many start per second, and sem caps
			// how many run at once, so a fleet with many printers or a
			// backlog of files doesn't open unbounded concurrent transfers
			// against slow embedded printer HTTP/FTP servers.
			if err := s.downloadLimiter.Wait(ctx); err != nil {
				logError("fleetsupervisor: download limiter wait", id, err)
				continue
			}
			if sem != nil {
				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					logError("fleetsupervisor: download slot wait", id, ctx.Err())
					continue
				}
			}

			wg.Add(1)
			go func(printerID, path string) {
				defer wg.Done()
				if sem != nil {
					defer func() { <-sem }()
				}
				created, err := s.ingestPrinterFile(ctx, printerID, path)
				if err != nil {
					logError("fleetsupervisor: ingesting printer file", printerID, err)
					return
				}
				if created {
					mu.Lock()
					newFiles++
					mu.Unlock()
				}
			}(id, f.Path)
		}
	}

	wg.Wait()

	if err := s.scanWatchFolders(ctx, &total, &newFiles); err != nil {
		s.publish(bus.EventFilesDiscovered, map[string]any{"total": total})
		return fmt.Errorf("scanning watch folders: %w", err)
	}

	s.publish(bus.EventFilesDiscovered, map[string]any{"total": total})
	if newFiles > 0 {
		s.publish(bus.EventNewFilesFound, map[string]any{"count": newFiles})
	}
	return nil
}

// ingestPrinterFile downloads a remote printer file into the staging
// directory and hands it to the library service, since content-addressed
// ingest needs the actual bytes to hash.
func (s *Supervisor) ingestPrinterFile(ctx context.Context, printerID, remotePath string) (bool, error) {
	drv := s.driverFor(printerID)
	if drv == nil {
		return false, fmt.Errorf("no driver for printer %q", printerID)
	}

	stagingDir := s.cfg.DownloadStagingDir
	if stagingDir == "" {
		stagingDir = os.TempDir()
	}
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return false, err
	}
	local := filepath.Join(stagingDir, fmt.Sprintf("%s-%s", printerID, filepath.Base(remotePath)))

	if err := drv.DownloadFile(ctx, remotePath, local); err != nil {
		return false, err
	}
	defer os.Remove(local)

	_, created, err := s.lib.Ingest(ctx, local, library.Source{
		Type:         repository.LibrarySourceTypePrinter,
		ID:           printerID,
		OriginalPath: remotePath,
	})
	if err != nil {
		return false, err
	}
	if created {
		s.publish(bus.EventFileDownloadComplete, map[string]any{"printer_id": printerID, "path": remotePath})
	}
	return created, nil
}

func (s *Supervisor) scanWatchFolders(ctx context.Context, total, newFiles *int) error {
	for _, root := range s.cfg.WatchFolders {
		err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			*total++
			_, created, err := s.lib.Ingest(ctx, path, library.Source{
				Type:         repository.LibrarySourceTypeWatchFolder,
				ID:           root,
				OriginalPath: path,
			})
			if err != nil {
				logError("fleetsupervisor: ingesting watch folder file", root, err)
				return nil
			}
			if created {
				*newFiles++
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

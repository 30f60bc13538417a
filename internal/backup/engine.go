package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/lmdudester/garcon/internal/apperrors"
	"github.com/lmdudester/garcon/internal/store"
)

// gzipLevel is fixed per design §4.4 ("gzip level 6").
const gzipLevel = gzip.DefaultCompression

// defaultRetentionCap is the per-server per-type cap when none is
// configured (design §4.4).
const defaultRetentionCap = 5

// Record describes one on-disk backup archive, derived entirely from its
// filename plus a stat call (design §3).
type Record struct {
	ServerID    string
	Timestamp   string // ISO-8601, UTC, millisecond precision
	Type        Type
	SizeBytes   int64
	Description string
	Filename    string
	Path        string
}

// Mirror is the optional offsite-mirroring hook (see offsite.go).
type Mirror interface {
	Upload(ctx context.Context, rec Record) error
}

// Engine implements the backup/restore subsystem of design §4.4.
type Engine struct {
	baseDir        string
	store          *store.Store
	log            zerolog.Logger
	retentionCap   int
	mirror         Mirror // nil when offsite mirroring is disabled
}

// New constructs an Engine. baseDir is the root backups directory
// (<data>/backups); archives for server s live under baseDir/s.
func New(baseDir string, retentionCap int, st *store.Store, log zerolog.Logger, mirror Mirror) *Engine {
	if retentionCap <= 0 {
		retentionCap = defaultRetentionCap
	}
	return &Engine{
		baseDir:      baseDir,
		store:        st,
		log:          log.With().Str("component", "backup_engine").Logger(),
		retentionCap: retentionCap,
		mirror:       mirror,
	}
}

func (e *Engine) serverDir(serverID string) string {
	return filepath.Join(e.baseDir, serverID)
}

// List enumerates serverID's backups, newest first. A missing backup
// directory yields an empty list (design §4.4).
func (e *Engine) List(serverID string) ([]Record, error) {
	dir := e.serverDir(serverID)
	names, err := e.store.ListFiles(dir, ".gz")
	if err != nil {
		return nil, err
	}

	var records []Record
	for _, name := range names {
		ts, typ, ok := parseFilename(name)
		if !ok {
			continue
		}
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		records = append(records, Record{
			ServerID:  serverID,
			Timestamp: ts,
			Type:      typ,
			SizeBytes: info.Size(),
			Filename:  name,
			Path:      path,
		})
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp > records[j].Timestamp
	})
	return records, nil
}

// Create archives dataDir (the server's data directory) into a new backup,
// enforcing retention afterward (design §4.4).
func (e *Engine) Create(ctx context.Context, serverID, dataDir string, t Type, description string) (Record, error) {
	if !e.store.IsDir(dataDir) {
		return Record{}, apperrors.Newf(apperrors.NotFound, "server data directory %s does not exist", dataDir)
	}

	dir := e.serverDir(serverID)
	if err := e.store.EnsureDir(dir); err != nil {
		return Record{}, err
	}

	ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	name := filename(ts, t)
	finalPath := filepath.Join(dir, name)

	if err := e.writeArchive(ctx, dataDir, finalPath); err != nil {
		return Record{}, err
	}

	info, err := os.Stat(finalPath)
	if err != nil {
		return Record{}, apperrors.Wrap(apperrors.FileSystem, "stat new backup", err)
	}

	rec := Record{
		ServerID:    serverID,
		Timestamp:   ts,
		Type:        t,
		SizeBytes:   info.Size(),
		Description: description,
		Filename:    name,
		Path:        finalPath,
	}

	e.enforceRetention(serverID, t)

	if e.mirror != nil {
		go func() {
			if err := e.mirror.Upload(context.Background(), rec); err != nil {
				e.log.Warn().Err(err).Str("server_id", serverID).Str("filename", name).Msg("offsite mirror upload failed")
			}
		}()
	}

	return rec, nil
}

// writeArchive streams a gzip-compressed tar of srcDir to a temp file, then
// atomically renames it into place (design §4.4).
func (e *Engine) writeArchive(ctx context.Context, srcDir, finalPath string) error {
	tmp, err := os.CreateTemp(filepath.Dir(finalPath), ".tmp-backup-*")
	if err != nil {
		return apperrors.Wrap(apperrors.FileSystem, "create temp archive", err)
	}
	tmpName := tmp.Name()

	if err := tarGzip(ctx, srcDir, tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return apperrors.Wrap(apperrors.FileSystem, "close temp archive", err)
	}
	if err := os.Rename(tmpName, finalPath); err != nil {
		os.Remove(tmpName)
		return apperrors.Wrap(apperrors.FileSystem, "finalize archive", err)
	}
	return nil
}

func tarGzip(ctx context.Context, srcDir string, w io.Writer) error {
	gz, err := gzip.NewWriterLevel(w, gzipLevel)
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "init gzip writer", err)
	}
	defer gz.Close()

	tw := tar.NewWriter(gz)
	defer tw.Close()

	return filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = io.Copy(tw, f)
		return err
	})
}

// enforceRetention deletes the oldest excess backups of type t for
// serverID. Best-effort: failures are logged, never returned (design §4.4).
func (e *Engine) enforceRetention(serverID string, t Type) {
	all, err := e.List(serverID)
	if err != nil {
		e.log.Warn().Err(err).Str("server_id", serverID).Msg("retention: failed to list backups")
		return
	}

	var ofType []Record
	for _, r := range all {
		if r.Type == t {
			ofType = append(ofType, r)
		}
	}
	if len(ofType) <= e.retentionCap {
		return
	}

	// ofType is sorted descending by timestamp; the tail is oldest.
	excess := ofType[e.retentionCap:]
	for _, r := range excess {
		if err := os.Remove(r.Path); err != nil {
			e.log.Warn().Err(err).Str("server_id", serverID).Str("filename", r.Filename).Msg("retention: failed to delete excess backup")
		}
	}
}

// Delete removes the single backup matching timestamp exactly.
func (e *Engine) Delete(serverID, timestamp string) error {
	records, err := e.List(serverID)
	if err != nil {
		return err
	}
	for _, r := range records {
		if r.Timestamp == timestamp {
			if err := os.Remove(r.Path); err != nil {
				return apperrors.Wrap(apperrors.FileSystem, "delete backup "+r.Filename, err)
			}
			return nil
		}
	}
	return apperrors.Newf(apperrors.NotFound, "no backup at timestamp %s for server %s", timestamp, serverID)
}

// DeleteAll removes serverID's entire backup directory tree.
func (e *Engine) DeleteAll(serverID string) error {
	return e.store.DeleteTree(e.serverDir(serverID))
}

// RestoreResult is the response shape of design §4.4 "Restore".
type RestoreResult struct {
	ServerID         string
	RestoredFrom     string
	PreRestoreBackup Record
}

// Restore creates a pre-restore backup of dataDir, deletes it, and extracts
// the chosen archive into a fresh directory. Preconditions (server exists,
// stopped, update_stage=none) are the orchestrator's responsibility (design
// §4.4).
func (e *Engine) Restore(ctx context.Context, serverID, dataDir, timestamp string) (RestoreResult, error) {
	records, err := e.List(serverID)
	if err != nil {
		return RestoreResult{}, err
	}

	var target *Record
	for i := range records {
		if records[i].Timestamp == timestamp {
			target = &records[i]
			break
		}
	}
	if target == nil {
		return RestoreResult{}, apperrors.Newf(apperrors.NotFound, "no backup at timestamp %s for server %s", timestamp, serverID)
	}

	preRestore, err := e.Create(ctx, serverID, dataDir, TypePreRestore, "")
	if err != nil {
		return RestoreResult{}, err
	}

	if err := e.store.DeleteTree(dataDir); err != nil {
		return RestoreResult{}, err
	}

	if err := e.extractArchive(target.Path, dataDir); err != nil {
		// Pre-restore backup is retained; the error surfaces so the
		// operator can recover manually.
		return RestoreResult{}, err
	}

	return RestoreResult{
		ServerID:         serverID,
		RestoredFrom:     timestamp,
		PreRestoreBackup: preRestore,
	}, nil
}

func (e *Engine) extractArchive(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return apperrors.Wrap(apperrors.FileSystem, "open archive "+archivePath, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "init gzip reader", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return apperrors.Wrap(apperrors.Internal, "read tar entry", err)
		}

		target := filepath.Join(destDir, hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)); err != nil {
				return apperrors.Wrap(apperrors.FileSystem, "mkdir "+target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return apperrors.Wrap(apperrors.FileSystem, "mkdir "+filepath.Dir(target), err)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
			if err != nil {
				return apperrors.Wrap(apperrors.FileSystem, "create "+target, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return apperrors.Wrap(apperrors.FileSystem, "write "+target, err)
			}
			out.Close()
		}
	}
	return nil
}

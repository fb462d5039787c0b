// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package remotefs implements the VFS dispatcher: the jacobsa/fuse
// FileSystem that turns kernel ops into calls against the path namespace,
// attribute/directory caches, write buffer and remote backend.
package remotefs

import (
	"context"
	"log/slog"
	"os"
	"path"
	"sync"
	"syscall"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/remotefs-project/remotefs/clock"
	"github.com/remotefs-project/remotefs/internal/metrics"
	"github.com/remotefs-project/remotefs/internal/remote"
	"github.com/remotefs-project/remotefs/internal/remotefs/attrcache"
	"github.com/remotefs-project/remotefs/internal/remotefs/dircache"
	"github.com/remotefs-project/remotefs/internal/remotefs/errs"
	"github.com/remotefs-project/remotefs/internal/remotefs/namespace"
	"github.com/remotefs-project/remotefs/internal/remotefs/writebuffer"
)

// Config bundles everything FileSystem needs to construct itself.
type Config struct {
	Client  remote.Client
	TempDir string
	DirTTL  time.Duration
	Clock   clock.Clock
	Log     *slog.Logger
}

// FileSystem implements fuseutil.FileSystem (via fuseutil.NewFileSystemServer)
// against a remote.Client backend.
type FileSystem struct {
	fuseutil.NotImplementedFileSystem

	client remote.Client
	tmpDir string
	clk    clock.Clock
	log    *slog.Logger

	ns       *namespace.Namespace
	attrs    *attrcache.Cache
	dirs     *dircache.Cache
	writes   *writebuffer.Buffer
	notifier *fuse.Notifier

	uid uint32
	gid uint32

	mu             sync.Mutex
	lookupCounts   map[fuseops.InodeID]uint64
	dirHandles     map[fuseops.HandleID]string          // handle -> directory path
	openWriteByIno map[fuseops.InodeID]fuseops.HandleID // inode -> its live write fh, if any
	writePaths     map[fuseops.HandleID]writeHandleInfo // write fh -> (path, parent path, inode)
	nextHandle     uint64
}

type writeHandleInfo struct {
	path       string
	parentPath string
	ino        fuseops.InodeID
}

// New constructs a mounted filesystem rooted at "/" with an empty cache set.
func New(cfg Config) *FileSystem {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	ttl := cfg.DirTTL
	if ttl == 0 {
		ttl = dircache.DefaultTTL
	}

	fs := &FileSystem{
		client:         cfg.Client,
		tmpDir:         cfg.TempDir,
		clk:            clk,
		log:            cfg.Log,
		ns:             namespace.New(),
		attrs:          attrcache.New(),
		dirs:           dircache.NewWithClock(ttl, clk),
		writes:         writebuffer.New(),
		notifier:       fuse.NewNotifier(),
		uid:            uint32(os.Getuid()),
		gid:            uint32(os.Getgid()),
		lookupCounts:   make(map[fuseops.InodeID]uint64),
		dirHandles:     make(map[fuseops.HandleID]string),
		openWriteByIno: make(map[fuseops.InodeID]fuseops.HandleID),
		writePaths:     make(map[fuseops.HandleID]writeHandleInfo),
	}
	return fs
}

// rootAttr synthesizes the permanently-present root directory attribute.
func (fs *FileSystem) rootAttr() attrcache.Attr {
	return attrcache.Attr{
		Ino:   fuseops.RootInodeID,
		Kind:  attrcache.Dir,
		Perm:  0o755,
		Nlink: 2,
		Uid:   fs.uid,
		Gid:   fs.gid,
	}
}

func (fs *FileSystem) incLookup(ino fuseops.InodeID) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.lookupCounts[ino]++
}

func (fs *FileSystem) Init(op *fuseops.InitOp) error {
	return nil
}

// Destroy is a no-op: cleanup lives in writebuffer.CleanupAll, invoked by
// the mount command on SIGINT/SIGTERM, not by this callback.
func (fs *FileSystem) Destroy() {}

func (fs *FileSystem) StatFS(op *fuseops.StatFSOp) error {
	s, err := fs.client.Statfs(op.Context())
	if err != nil {
		// Benign all-free stub: a mount with an unreachable backend should
		// still answer statfs(2) rather than error out every call to `df`.
		op.BlockSize = 4096
		op.Blocks = 1_000_000
		op.BlocksFree = 1_000_000
		op.BlocksAvailable = 1_000_000
		op.Inodes = 1_000_000
		op.InodesFree = 1_000_000
		op.IoSize = 4096
		return nil
	}

	op.BlockSize = s.Bsize
	op.Blocks = s.Blocks
	op.BlocksFree = s.Bfree
	op.BlocksAvailable = s.Bavail
	op.Inodes = s.Files
	op.InodesFree = s.Ffree
	op.IoSize = s.Bsize
	return nil
}

func (fs *FileSystem) LookUpInode(op *fuseops.LookUpInodeOp) error {
	parentPath, ok := fs.ns.PathOf(op.Parent)
	if !ok {
		return syscall.ENOENT
	}

	if _, err := fs.dirEntries(op.Context(), parentPath); err != nil {
		return err
	}

	childPath := namespace.ChildPath(parentPath, op.Name)
	attr, ok := fs.attrs.Get(childPath)
	if !ok {
		return syscall.ENOENT
	}

	op.Entry.Child = attr.Ino
	op.Entry.Attributes = attr.ToInodeAttributes()
	fs.incLookup(attr.Ino)
	return nil
}

func (fs *FileSystem) GetInodeAttributes(op *fuseops.GetInodeAttributesOp) error {
	if op.Inode == fuseops.RootInodeID {
		op.Attributes = fs.rootAttr().ToInodeAttributes()
		return nil
	}

	p, ok := fs.ns.PathOf(op.Inode)
	if !ok {
		return syscall.ENOENT
	}

	attr, ok := fs.attrs.Get(p)
	if ok {
		metrics.CacheLookups.WithLabelValues("attr", "hit").Inc()
	} else {
		metrics.CacheLookups.WithLabelValues("attr", "miss").Inc()
		parent := path.Dir(p)
		if _, err := fs.dirEntries(op.Context(), parent); err != nil {
			return err
		}
		attr, ok = fs.attrs.Get(p)
		if !ok {
			return syscall.ENOENT
		}
	}

	if fh, ok := fs.liveWriteFor(op.Inode); ok {
		if w, ok := fs.writes.Get(fh); ok {
			attr = attr.WithSize(max(attr.Size, w.Size))
		}
	}

	op.Attributes = attr.ToInodeAttributes()
	return nil
}

func (fs *FileSystem) SetInodeAttributes(op *fuseops.SetInodeAttributesOp) error {
	if op.Inode == fuseops.RootInodeID {
		op.Attributes = fs.rootAttr().ToInodeAttributes()
		return nil
	}

	p, ok := fs.ns.PathOf(op.Inode)
	if !ok {
		return syscall.ENOENT
	}

	attr, ok := fs.attrs.Get(p)
	if !ok {
		return syscall.ENOENT
	}

	if op.Mode != nil {
		attr.Perm = *op.Mode & 0o777
	}

	if op.Size != nil {
		newSize := *op.Size
		if fh, ok := fs.liveWriteFor(op.Inode); ok {
			fs.writes.WithMut(fh, func(w *writebuffer.Write) {
				w.Size = max(w.Size, newSize)
			})
			attr.Size = max(attr.Size, newSize)
		} else {
			rel := namespace.DBRelative(p)
			if err := fs.client.Truncate(op.Context(), rel, newSize); err != nil {
				errno := errs.Errno(err)
				if errno != syscall.ENOENT && errno != syscall.EIO && errno != syscall.ENOSPC {
					return err
				}
				// Optimistic setattr: treat as local success.
			}
			attr.Size = newSize
		}
	}

	fs.attrs.Set(p, attr)
	op.Attributes = attr.ToInodeAttributes()
	return nil
}

// liveWriteFor reports the write handle currently open for ino, if any.
// SetInodeAttributesOp carries no fh of its own (ftruncate reaches the
// kernel independently of any open(2) call), so clamping a live write's
// buffered size is resolved via the inode instead, tracked alongside each
// CreateFile/OpenFile and cleared on ReleaseFileHandle.
func (fs *FileSystem) liveWriteFor(ino fuseops.InodeID) (fuseops.HandleID, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fh, ok := fs.openWriteByIno[ino]
	return fh, ok
}

func (fs *FileSystem) ForgetInode(op *fuseops.ForgetInodeOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.lookupCounts[op.ID] <= uint64(op.N) {
		delete(fs.lookupCounts, op.ID)
		if p, ok := fs.ns.PathOf(op.ID); ok {
			if _, stillBound := fs.ns.InoOf(p); stillBound {
				// Path still resolves to this inode: leave the mapping, the
				// kernel may look it up again. Only purge maps once the path
				// itself has been removed (handled in unlink/rmdir/rename).
				return nil
			}
		}
		return nil
	}
	fs.lookupCounts[op.ID] -= uint64(op.N)
	return nil
}

func (fs *FileSystem) MkDir(op *fuseops.MkDirOp) error {
	parentPath, ok := fs.ns.PathOf(op.Parent)
	if !ok {
		return syscall.ENOENT
	}
	childPath := namespace.ChildPath(parentPath, op.Name)
	rel := namespace.DBRelative(childPath)

	if err := fs.client.Mkdir(op.Context(), rel); err != nil {
		return err
	}

	fs.dirs.Invalidate(parentPath)
	// Refresh eagerly so a LookUpInode for this name right after MkDir
	// returns without another round trip; errors here are not fatal, the
	// fallback attr below covers them.
	_, _ = fs.dirEntries(op.Context(), parentPath)

	attr, ok := fs.attrs.Get(childPath)
	if !ok {
		ino := fs.ns.AllocateIno(childPath)
		attr = attrcache.Attr{
			Ino:   ino,
			Kind:  attrcache.Dir,
			Perm:  0o755,
			Nlink: 2,
			Size:  64,
			Uid:   fs.uid,
			Gid:   fs.gid,
			Mtime: fs.clk.Now(),
		}
		fs.attrs.Set(childPath, attr)
	}

	op.Entry.Child = attr.Ino
	op.Entry.Attributes = attr.ToInodeAttributes()
	fs.incLookup(attr.Ino)
	return nil
}

func (fs *FileSystem) CreateFile(op *fuseops.CreateFileOp) error {
	parentPath, ok := fs.ns.PathOf(op.Parent)
	if !ok {
		return syscall.ENOENT
	}
	childPath := namespace.ChildPath(parentPath, op.Name)

	fh := fs.writes.AllocFh()
	tempPath := path.Join(fs.tmpDir, tempFileName(fh))
	if err := createEmptyTempFile(tempPath); err != nil {
		return errs.Errno(err)
	}
	fs.writes.Insert(fh, tempPath, true)

	ino := fs.ns.AllocateIno(childPath)
	attr := attrcache.Attr{
		Ino:   ino,
		Kind:  attrcache.File,
		Perm:  (op.Mode &^ 0) & 0o777,
		Nlink: 1,
		Size:  0,
		Uid:   fs.uid,
		Gid:   fs.gid,
		Mtime: fs.clk.Now(),
	}
	fs.attrs.Set(childPath, attr)
	fs.dirs.Invalidate(parentPath)
	fs.registerOpenWrite(ino, fh, childPath, parentPath)

	op.Entry.Child = ino
	op.Entry.Attributes = attr.ToInodeAttributes()
	op.Handle = fh
	fs.incLookup(ino)
	return nil
}

func (fs *FileSystem) registerOpenWrite(ino fuseops.InodeID, fh fuseops.HandleID, p, parentPath string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.openWriteByIno[ino] = fh
	fs.writePaths[fh] = writeHandleInfo{path: p, parentPath: parentPath, ino: ino}
	metrics.OpenFileHandles.Inc()
}

func (fs *FileSystem) unregisterOpenWrite(fh fuseops.HandleID) (writeHandleInfo, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	info, ok := fs.writePaths[fh]
	if !ok {
		return writeHandleInfo{}, false
	}
	delete(fs.writePaths, fh)
	if fs.openWriteByIno[info.ino] == fh {
		delete(fs.openWriteByIno, info.ino)
	}
	metrics.OpenFileHandles.Dec()
	return info, true
}

func (fs *FileSystem) RmDir(op *fuseops.RmDirOp) error {
	parentPath, ok := fs.ns.PathOf(op.Parent)
	if !ok {
		return syscall.ENOENT
	}
	childPath := namespace.ChildPath(parentPath, op.Name)

	attr, ok := fs.attrs.Get(childPath)
	if !ok {
		if _, err := fs.dirEntries(op.Context(), parentPath); err != nil {
			return err
		}
		attr, ok = fs.attrs.Get(childPath)
	}
	if ok && attr.Kind != attrcache.Dir {
		return syscall.ENOTDIR
	}

	entries, _, _ := fs.dirs.Lookup(childPath)
	if len(entries) == 0 {
		if fresh, err := fs.dirEntries(op.Context(), childPath); err == nil {
			entries = fresh
		}
	}
	if len(entries) > 0 {
		return syscall.ENOTEMPTY
	}

	rel := namespace.DBRelative(childPath)
	if err := fs.client.Delete(op.Context(), rel); err != nil {
		return err
	}

	fs.finishRemoval(parentPath, childPath)
	return nil
}

func (fs *FileSystem) Unlink(op *fuseops.UnlinkOp) error {
	parentPath, ok := fs.ns.PathOf(op.Parent)
	if !ok {
		return syscall.ENOENT
	}
	childPath := namespace.ChildPath(parentPath, op.Name)
	rel := namespace.DBRelative(childPath)

	if err := fs.client.Delete(op.Context(), rel); err != nil {
		return err
	}

	fs.finishRemoval(parentPath, childPath)
	return nil
}

func (fs *FileSystem) finishRemoval(parentPath, childPath string) {
	fs.attrs.Remove(childPath)
	fs.dirs.Invalidate(childPath)
	fs.dirs.Invalidate(parentPath)
	fs.ns.RemovePath(childPath)
}

func (fs *FileSystem) Rename(op *fuseops.RenameOp) error {
	oldParentPath, ok := fs.ns.PathOf(op.OldParent)
	if !ok {
		return syscall.ENOENT
	}
	newParentPath, ok := fs.ns.PathOf(op.NewParent)
	if !ok {
		return syscall.ENOENT
	}
	oldPath := namespace.ChildPath(oldParentPath, op.OldName)
	newPath := namespace.ChildPath(newParentPath, op.NewName)

	oldRel := namespace.DBRelative(oldPath)
	newRel := namespace.DBRelative(newPath)
	if err := fs.client.Rename(op.Context(), oldRel, newRel); err != nil {
		return err
	}

	if ino, ok := fs.ns.InoOf(oldPath); ok {
		fs.ns.RemovePath(oldPath)
		fs.ns.InsertPathMapping(newPath, ino)
	}
	fs.attrs.Remove(newPath)
	if attr, ok := fs.attrs.Get(oldPath); ok {
		fs.attrs.Set(newPath, attr)
	}
	fs.attrs.Remove(oldPath)

	fs.dirs.Invalidate(oldParentPath)
	if newParentPath != oldParentPath {
		fs.dirs.Invalidate(newParentPath)
	}
	return nil
}

func (fs *FileSystem) OpenDir(op *fuseops.OpenDirOp) error {
	p, ok := fs.ns.PathOf(op.Inode)
	if !ok {
		return syscall.ENOENT
	}
	fs.mu.Lock()
	fs.nextHandle++
	h := fuseops.HandleID(fs.nextHandle)
	fs.dirHandles[h] = p
	fs.mu.Unlock()
	op.Handle = h
	return nil
}

func (fs *FileSystem) ReadDir(op *fuseops.ReadDirOp) error {
	fs.mu.Lock()
	dirPath, ok := fs.dirHandles[op.Handle]
	fs.mu.Unlock()
	if !ok {
		return syscall.ENOTDIR
	}

	entries, err := fs.dirEntries(op.Context(), dirPath)
	if err != nil {
		return err
	}

	parentIno := fuseops.RootInodeID
	if dirPath != namespace.RootPath {
		if ino, ok := fs.ns.InoOf(path.Dir(dirPath)); ok {
			parentIno = ino
		}
	}
	selfIno, _ := fs.ns.InoOf(dirPath)

	buf := make([]byte, op.Size)
	offset := fuseops.DirOffset(0)
	written := 0

	appendEntry := func(d fuseops.Dirent) bool {
		if int64(offset) < int64(op.Offset) {
			offset++
			return true
		}
		n := fuseutil.WriteDirent(buf[written:], d)
		if n == 0 {
			return false
		}
		written += n
		offset++
		return true
	}

	if !appendEntry(fuseops.Dirent{Offset: 1, Inode: selfIno, Name: ".", Type: fuseutil.DT_Directory}) {
		op.Data = buf[:written]
		return nil
	}
	if !appendEntry(fuseops.Dirent{Offset: 2, Inode: parentIno, Name: "..", Type: fuseutil.DT_Directory}) {
		op.Data = buf[:written]
		return nil
	}

	for _, e := range entries {
		childPath := namespace.ChildPath(dirPath, e.Name)
		ino := fs.ns.AllocateIno(childPath)
		kind := fuseutil.DT_File
		if e.IsDir {
			kind = fuseutil.DT_Directory
		}
		if !appendEntry(fuseops.Dirent{Offset: offset + 1, Inode: ino, Name: e.Name, Type: kind}) {
			break
		}
	}

	op.Data = buf[:written]
	return nil
}

func (fs *FileSystem) ReleaseDirHandle(op *fuseops.ReleaseDirHandleOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.dirHandles, op.Handle)
	return nil
}

func (fs *FileSystem) OpenFile(op *fuseops.OpenFileOp) error {
	p, ok := fs.ns.PathOf(op.Inode)
	if !ok {
		return syscall.ENOENT
	}

	accMode := int(op.Flags) & syscall.O_ACCMODE
	writeIntent := accMode == syscall.O_WRONLY || accMode == syscall.O_RDWR
	if !writeIntent {
		return nil
	}

	fh := fs.writes.AllocFh()
	tempPath := path.Join(fs.tmpDir, tempFileName(fh))

	attr, hasAttr := fs.attrs.Get(p)
	if hasAttr && attr.Size > 0 {
		rel := namespace.DBRelative(p)
		data, err := fs.client.ReadAll(op.Context(), rel, int64(attr.Size))
		if err != nil {
			return err
		}
		if err := writeTempFile(tempPath, data); err != nil {
			return errs.Errno(err)
		}
		fs.writes.InsertPrefetched(fh, tempPath, uint64(len(data)), true)
	} else {
		if err := createEmptyTempFile(tempPath); err != nil {
			return errs.Errno(err)
		}
		fs.writes.Insert(fh, tempPath, true)
	}

	fs.registerOpenWrite(op.Inode, fh, p, path.Dir(p))
	op.Handle = fh
	return nil
}

func (fs *FileSystem) ReadFile(op *fuseops.ReadFileOp) error {
	if w, ok := fs.writes.Get(op.Handle); ok {
		buf := make([]byte, op.Size)
		n, err := readTempFileAt(w.TempPath, buf, op.Offset)
		if err != nil {
			return syscall.EIO
		}
		op.Data = buf[:n]
		return nil
	}

	p, ok := fs.ns.PathOf(op.Inode)
	if !ok {
		return syscall.ENOENT
	}
	attr, ok := fs.attrs.Get(p)
	if !ok {
		parent := path.Dir(p)
		if _, err := fs.dirEntries(op.Context(), parent); err != nil {
			return err
		}
		attr, ok = fs.attrs.Get(p)
		if !ok {
			return syscall.ENOENT
		}
	}

	if op.Offset >= int64(attr.Size) {
		op.Data = nil
		return nil
	}

	start := op.Offset
	end := start + int64(op.Size) - 1
	if end > int64(attr.Size)-1 {
		end = int64(attr.Size) - 1
	}

	rel := namespace.DBRelative(p)
	data, err := fs.client.ReadRange(op.Context(), rel, start, end)
	if err != nil {
		return err
	}
	op.Data = data
	return nil
}

func (fs *FileSystem) WriteFile(op *fuseops.WriteFileOp) error {
	if op.Offset < 0 {
		return syscall.EINVAL
	}

	w, ok := fs.writes.Get(op.Handle)
	if !ok {
		return syscall.EIO
	}

	if err := writeTempFileAt(w.TempPath, op.Data, op.Offset); err != nil {
		return errs.Errno(err)
	}

	newSize := uint64(op.Offset) + uint64(len(op.Data))
	fs.writes.WithMut(op.Handle, func(w *writebuffer.Write) {
		if newSize > w.Size {
			w.Size = newSize
		}
		w.Dirty = true
	})
	return nil
}

func (fs *FileSystem) FlushFile(op *fuseops.FlushFileOp) error {
	return nil
}

func (fs *FileSystem) SyncFile(op *fuseops.SyncFileOp) error {
	w, ok := fs.writes.Get(op.Handle)
	if !ok {
		return nil
	}

	p, ok := fs.ns.PathOf(op.Inode)
	if !ok {
		return syscall.ENOENT
	}
	rel := namespace.DBRelative(p)
	if err := fs.client.WriteFile(op.Context(), rel, w.TempPath); err != nil {
		return err
	}
	fs.writes.WithMut(op.Handle, func(w *writebuffer.Write) { w.Dirty = false })
	return nil
}

func (fs *FileSystem) ReleaseFileHandle(op *fuseops.ReleaseFileHandleOp) error {
	w, ok := fs.writes.Take(op.Handle)
	if !ok {
		return nil
	}
	// Always delete the temp file regardless of dirty state: a non-dirty
	// release must not leak its staging file.
	defer os.Remove(w.TempPath)

	info, hadInfo := fs.unregisterOpenWrite(op.Handle)

	if !w.Dirty {
		return nil
	}
	if !hadInfo {
		return nil
	}

	rel := namespace.DBRelative(info.path)
	if err := fs.client.WriteFile(op.Context(), rel, w.TempPath); err != nil {
		return syscall.EIO
	}

	fi, statErr := os.Stat(w.TempPath)
	now := fs.clk.Now()
	size := w.Size
	if statErr == nil {
		size = uint64(fi.Size())
	}

	if attr, ok := fs.attrs.Get(info.path); ok {
		attr.Size = size
		attr.Mtime = now
		attr.Ctime = now
		fs.attrs.Set(info.path, attr)
	}
	fs.dirs.Invalidate(info.parentPath)
	return nil
}

func (fs *FileSystem) dirEntries(ctx context.Context, dirPath string) ([]dircache.Entry, error) {
	entries, ok, stale := fs.dirs.Lookup(dirPath)
	if ok && !stale {
		metrics.CacheLookups.WithLabelValues("dir", "hit").Inc()
		go fs.refreshDir(dirPath)
		return entries, nil
	}

	if ok {
		metrics.CacheLookups.WithLabelValues("dir", "stale").Inc()
	} else {
		metrics.CacheLookups.WithLabelValues("dir", "miss").Inc()
	}

	fresh, err := fs.refreshDirSync(ctx, dirPath)
	if err != nil {
		return nil, err
	}
	fs.refreshParentAttr(ctx, dirPath)
	return fresh, nil
}

// refreshDir performs the full refresh (the directory listing, every
// child's attr, and the directory's own attr) kicked off in the
// background from a fresh cache hit. No caller is waiting on the result,
// so errors are logged and swallowed; the next dirEntries call will retry.
func (fs *FileSystem) refreshDir(dirPath string) {
	ctx := context.Background()
	if _, err := fs.refreshDirSync(ctx, dirPath); err != nil {
		if fs.log != nil {
			fs.log.Warn("background directory refresh failed", "path", dirPath, "err", err)
		}
		return
	}
	fs.refreshParentAttr(ctx, dirPath)
}

func (fs *FileSystem) refreshDirSync(ctx context.Context, dirPath string) ([]dircache.Entry, error) {
	rel := namespace.DBRelative(dirPath)
	list, err := fs.client.List(ctx, rel)
	if err != nil {
		return nil, err
	}

	entries := make([]dircache.Entry, len(list))
	for i, e := range list {
		entries[i] = dircache.Entry{
			Name:        e.Name,
			Size:        uint64(e.Size),
			Mtime:       time.Unix(e.Mtime, 0),
			IsDir:       e.IsDir,
			Permissions: parsePermissions(e.Permissions),
		}

		childPath := namespace.ChildPath(dirPath, e.Name)
		ino := fs.ns.AllocateIno(childPath)
		kind := attrcache.File
		if e.IsDir {
			kind = attrcache.Dir
		}
		nlink := uint32(e.Nlink)
		if nlink == 0 {
			nlink = 1
		}
		fs.attrs.Set(childPath, attrcache.Attr{
			Ino:    ino,
			Kind:   kind,
			Perm:   os.FileMode(entries[i].Permissions),
			Nlink:  nlink,
			Size:   entries[i].Size,
			Uid:    fs.uid,
			Gid:    fs.gid,
			Mtime:  entries[i].Mtime,
			Ctime:  entries[i].Mtime,
			Atime:  entries[i].Mtime,
			Crtime: entries[i].Mtime,
		})
	}

	fs.dirs.Set(dirPath, entries)
	return entries, nil
}

func (fs *FileSystem) refreshParentAttr(ctx context.Context, dirPath string) {
	rel := namespace.DBRelative(dirPath)
	entry, err := fs.client.UpdateMetadata(ctx, rel)
	if err != nil {
		return
	}
	nlink := uint32(entry.Nlink)
	if nlink == 0 {
		nlink = 2
	}
	fs.attrs.Set(dirPath, attrcache.Attr{
		Ino:    fs.ns.AllocateIno(dirPath),
		Kind:   attrcache.Dir,
		Perm:   os.FileMode(parsePermissions(entry.Permissions)),
		Nlink:  nlink,
		Size:   uint64(entry.Size),
		Uid:    fs.uid,
		Gid:    fs.gid,
		Mtime:  time.Unix(entry.Mtime, 0),
		Ctime:  time.Unix(entry.Mtime, 0),
	})
}

// Server wraps fs as a fuse.Server ready to pass to fuse.Mount. The notifier
// is shared with the Change Listener so pushed events can invalidate the
// kernel's dentry/attr/page caches.
func (fs *FileSystem) Server() fuse.Server {
	return fuse.NewServerWithNotifier(fs.notifier, fuseutil.NewFileSystemServer(fs))
}

// Writes exposes the write-back buffer so callers can flush and clean up
// temp files on shutdown.
func (fs *FileSystem) Writes() *writebuffer.Buffer {
	return fs.writes
}

// Package engine wires the pointer allocator, KV store, block-set, file
// engine, directory engine and path resolver into the filesystem surface
// spec.md §6 describes. It is a separate package from the root kvfs
// package specifically so it can import kvfs's subpackages without
// creating an import cycle (those subpackages import kvfs for
// Pointer/Error/RetryOnConflict, so the root package itself must import
// none of them).
package engine

import (
	"context"
	"errors"
	log "log/slog"

	"github.com/google/uuid"

	"github.com/jeffdarcy/kvfs"
	"github.com/jeffdarcy/kvfs/alloc"
	"github.com/jeffdarcy/kvfs/dir"
	"github.com/jeffdarcy/kvfs/file"
	"github.com/jeffdarcy/kvfs/kv"
	"github.com/jeffdarcy/kvfs/path"
)

// FS is the assembled filesystem surface: spec.md §6's create_inode,
// get_data, put_data, mkdir, link, unlink, lookup and enum, bound to one
// KV store and one pointer allocator.
type FS struct {
	Store kv.Store
	Alloc *alloc.Allocator
	file  *file.Engine
	dir   *dir.Engine
	root  kvfs.Pointer
}

// Open assembles an FS over store, minting pointers under identity, and
// lazily initializes the directory at root when store.AutoMkfs() is true
// and root doesn't yet resolve (spec.md §6).
func Open(ctx context.Context, store kv.Store, identity alloc.Identity, root kvfs.Pointer, rootMode uint32) (*FS, error) {
	a := alloc.New(identity)
	fs := &FS{
		Store: store,
		Alloc: a,
		file:  file.New(store, a),
		dir:   dir.New(store, a),
		root:  root,
	}
	if err := fs.ensureRoot(ctx, rootMode); err != nil {
		return nil, err
	}
	return fs, nil
}

func (fs *FS) ensureRoot(ctx context.Context, mode uint32) error {
	if !fs.Store.AutoMkfs() {
		return nil
	}
	_, _, err := fs.Store.Get(ctx, fs.root)
	if err == nil {
		return nil
	}
	if !errors.Is(err, kvfs.ErrNotFound) {
		return err
	}
	log.Info("auto_mkfs: root missing, creating", "root", fs.root.String())
	return fs.dir.Mkdir(ctx, fs.root, mode)
}

// Root returns the pointer this FS was opened with.
func (fs *FS) Root() kvfs.Pointer { return fs.root }

// EnsureMkfs creates a root directory at fs.Root() if one doesn't already
// exist, regardless of the backend's AutoMkfs setting. Unlike the lazy
// check Open itself performs (gated on AutoMkfs, for backends where a
// missing root on first access is expected and harmless), this is the
// explicit, one-time provisioning step cmd/mkfs runs before a backend
// like rediskv or cassandrakv — which never self-initialize — is used.
func (fs *FS) EnsureMkfs(ctx context.Context, mode uint32) error {
	_, _, err := fs.Store.Get(ctx, fs.root)
	if err == nil {
		return nil
	}
	if !errors.Is(err, kvfs.ErrNotFound) {
		return err
	}
	log.Info("mkfs: root missing, creating", "root", fs.root.String())
	return fs.dir.Mkdir(ctx, fs.root, mode)
}

func opID() string { return uuid.New().String() }

// CreateInode implements spec.md §6's create_inode.
func (fs *FS) CreateInode(ctx context.Context, key kvfs.Pointer, mode uint32) error {
	id := opID()
	log.Debug("create_inode", "op_id", id, "key", key.String(), "mode", mode)
	return fs.file.CreateInode(ctx, key, mode)
}

// GetData implements spec.md §6's get_data (single-block read; loop to
// read more).
func (fs *FS) GetData(ctx context.Context, key kvfs.Pointer, offset uint64, length uint32) ([]byte, error) {
	return fs.file.GetData(ctx, key, offset, length)
}

// PutData implements spec.md §6's put_data.
func (fs *FS) PutData(ctx context.Context, key kvfs.Pointer, offset uint64, data []byte) (int, error) {
	id := opID()
	log.Debug("put_data", "op_id", id, "key", key.String(), "offset", offset, "len", len(data))
	n, err := fs.file.PutData(ctx, key, offset, data)
	if err != nil {
		log.Warn("put_data failed", "op_id", id, "err", err)
	}
	return n, err
}

// Mkdir implements spec.md §6's mkdir.
func (fs *FS) Mkdir(ctx context.Context, key kvfs.Pointer, mode uint32) error {
	id := opID()
	log.Debug("mkdir", "op_id", id, "key", key.String(), "mode", mode)
	return fs.dir.Mkdir(ctx, key, mode)
}

// Link implements spec.md §6's link.
func (fs *FS) Link(ctx context.Context, parent kvfs.Pointer, name string, child kvfs.Pointer) error {
	id := opID()
	log.Debug("link", "op_id", id, "parent", parent.String(), "name", name, "child", child.String())
	err := fs.dir.Link(ctx, parent, name, child)
	if err != nil {
		log.Warn("link failed", "op_id", id, "err", err)
	}
	return err
}

// Unlink implements spec.md §6's unlink (delete is link-to-nil).
func (fs *FS) Unlink(ctx context.Context, parent kvfs.Pointer, name string) error {
	id := opID()
	log.Debug("unlink", "op_id", id, "parent", parent.String(), "name", name)
	err := fs.dir.Unlink(ctx, parent, name)
	if err != nil {
		log.Warn("unlink failed", "op_id", id, "err", err)
	}
	return err
}

// Lookup implements spec.md §6's lookup: resolve root/path to a pointer,
// or kvfs.Nil if any component is missing.
func (fs *FS) Lookup(ctx context.Context, root kvfs.Pointer, p string) (kvfs.Pointer, error) {
	return path.Lookup(ctx, fs.dir, root, p)
}

// Enum implements spec.md §6's enum.
func (fs *FS) Enum(ctx context.Context, key kvfs.Pointer, cursor uint64, callback dir.EnumCallback) (done bool, err error) {
	return fs.dir.Enum(ctx, key, cursor, callback)
}

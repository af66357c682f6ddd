// Package path implements the path resolver of spec §4.7: walking a
// slash-separated path one directory lookup at a time from a caller
// supplied root pointer.
package path

import (
	"context"
	"strings"

	"github.com/jeffdarcy/kvfs"
	"github.com/jeffdarcy/kvfs/dir"
)

// Lookup splits p on "/", skipping empty components (so "/a//b" is
// equivalent to "a/b" and leading/trailing slashes are ignored), and
// resolves each component in turn from root via d.Lookup. It stops and
// returns kvfs.Nil as soon as any component fails to resolve. A
// zero-component path returns root unchanged (spec §4.7).
func Lookup(ctx context.Context, d *dir.Engine, root kvfs.Pointer, p string) (kvfs.Pointer, error) {
	ptr := root
	for _, part := range strings.Split(p, "/") {
		if part == "" {
			continue
		}
		if ptr.IsNil() {
			return kvfs.Nil, nil
		}
		next, err := d.Lookup(ctx, ptr, part)
		if err != nil {
			return kvfs.Nil, err
		}
		if next.IsNil() {
			return kvfs.Nil, nil
		}
		ptr = next
	}
	return ptr, nil
}

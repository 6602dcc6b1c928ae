//go:build !unix

package dirsize

import "io/fs"

// inodeSet is a no-op on platforms without a stable (dev, ino) pair
// exposed through os.FileInfo.Sys(); hardlinks are simply counted once per
// directory entry there.
type inodeSet struct{}

func newInodeSet() *inodeSet { return &inodeSet{} }

func (s *inodeSet) seenBefore(info fs.FileInfo) bool { return false }

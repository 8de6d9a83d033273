// Package fs abstracts the file operations of page files, local blob
// stores and distance matrices so tests can inject device failures.
//
// Default is the operating system. FaultyFS wraps another FileSystem and
// fails reads, writes, syncs or closes of matching paths:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("tree.pages", fs.Fault{FailAfterBytes: -1, FailReads: true})
//	f, err := pagefile.OpenDiskFile(path, pagefile.WithFileSystem(ffs))
//
// Operations take no context.Context: local syscalls are not
// interruptible. Remote storage goes through package blobstore.
package fs

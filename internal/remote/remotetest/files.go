// Package remotetest provides an in-memory remote file backend for tests.
package remotetest

import (
	"context"
	"sync"

	"github.com/Xunop/celestial/internal/remote"
)

type Files struct {
	mu      sync.Mutex
	folders map[string]map[string][]byte // folder id -> name -> data
	trashed map[string]bool

	// Err, when set, is returned by every call.
	Err       error
	Downloads int
	Uploads   int
}

var _ remote.Files = (*Files)(nil)

func New() *Files {
	return &Files{folders: map[string]map[string][]byte{}, trashed: map[string]bool{}}
}

func (f *Files) EnsureBookFolder(_ context.Context, bookID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return "", f.Err
	}
	id := remote.BookFolderName(bookID)
	if _, ok := f.folders[id]; !ok || f.trashed[id] {
		f.folders[id] = map[string][]byte{}
		delete(f.trashed, id)
	}
	return id, nil
}

func (f *Files) FindBookFolder(_ context.Context, bookID string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return "", false, f.Err
	}
	id := remote.BookFolderName(bookID)
	if _, ok := f.folders[id]; !ok || f.trashed[id] {
		return "", false, nil
	}
	return id, true, nil
}

func (f *Files) UploadOrUpdateNamedFile(_ context.Context, folderID, name, _ string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return "", f.Err
	}
	folder, ok := f.folders[folderID]
	if !ok {
		folder = map[string][]byte{}
		f.folders[folderID] = folder
	}
	folder[name] = append([]byte(nil), data...)
	f.Uploads++
	return folderID + "/" + name, nil
}

func (f *Files) DownloadNamedFile(_ context.Context, folderID, name string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, false, f.Err
	}
	data, ok := f.folders[folderID][name]
	if !ok {
		return nil, false, nil
	}
	f.Downloads++
	return append([]byte(nil), data...), true, nil
}

func (f *Files) TrashFolder(_ context.Context, folderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.trashed[folderID] = true
	return nil
}

// Has reports whether a live (untrashed) folder holds name.
func (f *Files) Has(bookID, name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := remote.BookFolderName(bookID)
	if f.trashed[id] {
		return false
	}
	_, ok := f.folders[id][name]
	return ok
}

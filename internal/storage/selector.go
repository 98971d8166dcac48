package storage

import (
	"github.com/Xunop/celestial/internal/remote"
)

// Selector picks the page storage backend. The choice is made on every call
// so connecting or disconnecting the remote session takes effect at once.
type Selector struct {
	local   *LocalStorage
	session *remote.Session
}

func NewSelector(local *LocalStorage, session *remote.Session) *Selector {
	return &Selector{local: local, session: session}
}

// Select returns the remote backend if the session is enabled and
// authenticated, the local backend otherwise.
func (s *Selector) Select() PageStorage {
	if r := s.remote(); r != nil {
		return r
	}
	return s.local
}

func (s *Selector) Local() *LocalStorage {
	return s.local
}

// Source returns the remote source store under the same rule as Select, or nil.
func (s *Selector) Source() SourceStore {
	if r := s.remote(); r != nil {
		return r
	}
	return nil
}

func (s *Selector) remote() *RemoteStorage {
	if s.session == nil {
		return nil
	}
	files, ok := s.session.Files()
	if !ok {
		return nil
	}
	return NewRemoteStorage(files, s.session)
}

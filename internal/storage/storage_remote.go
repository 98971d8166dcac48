package storage

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Xunop/celestial/internal/log"
	"github.com/Xunop/celestial/internal/model"
	"github.com/Xunop/celestial/internal/remote"
)

// RemoteStorage stores pages as "page-{n}.png" in the book folder of the remote drive.
type RemoteStorage struct {
	files   remote.Files
	session *remote.Session
}

var (
	_ PageStorage = (*RemoteStorage)(nil)
	_ SourceStore = (*RemoteStorage)(nil)
)

func NewRemoteStorage(files remote.Files, session *remote.Session) *RemoteStorage {
	return &RemoteStorage{files: files, session: session}
}

func (s *RemoteStorage) Name() string { return "remote" }

// GetPage treats any failure as a cache miss.
func (s *RemoteStorage) GetPage(ctx context.Context, bookID string, page int) (*model.PageImage, bool, error) {
	data, ok, err := s.download(ctx, bookID, PageFileName(page))
	if err != nil {
		log.Warn("Remote page read failed",
			zap.String("book_id", bookID), zap.Int("page", page), zap.Error(err))
		return nil, false, nil
	}
	if !ok {
		return nil, false, nil
	}
	return &model.PageImage{MIME: model.MIMEPNG, Data: data}, true, nil
}

func (s *RemoteStorage) SetPage(ctx context.Context, bookID string, page int, img *model.PageImage) error {
	if err := s.upload(ctx, bookID, PageFileName(page), img.MIME, img.Data); err != nil {
		return errors.Wrap(model.ErrStorageWrite, err.Error())
	}
	return nil
}

// RemoveBook trashes the book folder. A missing folder is not an error.
func (s *RemoteStorage) RemoveBook(ctx context.Context, bookID string) error {
	folder, ok, err := s.files.FindBookFolder(ctx, bookID)
	if err != nil {
		s.invalidate(err)
		return errors.Wrapf(err, "failed to find remote folder of %s", bookID)
	}
	if !ok {
		return nil
	}
	if err := s.files.TrashFolder(ctx, folder); err != nil {
		s.invalidate(err)
		return errors.Wrapf(err, "failed to trash remote folder of %s", bookID)
	}
	return nil
}

func (s *RemoteStorage) PutSource(ctx context.Context, bookID string, data []byte) error {
	return s.upload(ctx, bookID, SourceFileName, "application/pdf", data)
}

func (s *RemoteStorage) GetSource(ctx context.Context, bookID string) ([]byte, bool, error) {
	return s.download(ctx, bookID, SourceFileName)
}

func (s *RemoteStorage) upload(ctx context.Context, bookID, name, mime string, data []byte) error {
	folder, err := s.files.EnsureBookFolder(ctx, bookID)
	if err != nil {
		s.invalidate(err)
		return errors.Wrapf(err, "failed to ensure remote folder of %s", bookID)
	}
	if _, err := s.files.UploadOrUpdateNamedFile(ctx, folder, name, mime, data); err != nil {
		s.invalidate(err)
		return errors.Wrapf(err, "failed to upload %s of %s", name, bookID)
	}
	return nil
}

func (s *RemoteStorage) download(ctx context.Context, bookID, name string) ([]byte, bool, error) {
	folder, ok, err := s.files.FindBookFolder(ctx, bookID)
	if err != nil {
		s.invalidate(err)
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	data, ok, err := s.files.DownloadNamedFile(ctx, folder, name)
	if err != nil {
		s.invalidate(err)
		return nil, false, err
	}
	return data, ok, nil
}

func (s *RemoteStorage) invalidate(err error) {
	if s.session != nil {
		s.session.Invalidate(err)
	}
}

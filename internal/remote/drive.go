package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/Xunop/celestial/internal/model"
)

const folderMIME = "application/vnd.google-apps.folder"

// Files is the remote file protocol the page storage and source store use.
type Files interface {
	EnsureBookFolder(ctx context.Context, bookID string) (string, error)
	FindBookFolder(ctx context.Context, bookID string) (string, bool, error)
	UploadOrUpdateNamedFile(ctx context.Context, folderID, name, mime string, data []byte) (string, error)
	// DownloadNamedFile reports false when the folder has no file with that name.
	DownloadNamedFile(ctx context.Context, folderID, name string) ([]byte, bool, error)
	TrashFolder(ctx context.Context, folderID string) error
}

// Drive implements Files on Google Drive v3. Every book lives in a
// "book-{id}" folder under the application root folder.
type Drive struct {
	srv  *drive.Service
	root string

	mu     sync.Mutex
	rootID string
}

var _ Files = (*Drive)(nil)

func NewDrive(ctx context.Context, ts oauth2.TokenSource, root string, opts ...option.ClientOption) (*Drive, error) {
	opts = append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)
	srv, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create drive service")
	}
	return &Drive{srv: srv, root: root}, nil
}

// DriveFactory returns a Factory creating Drive clients rooted at root.
func DriveFactory(root string, opts ...option.ClientOption) Factory {
	return func(ctx context.Context, ts oauth2.TokenSource) (Files, error) {
		return NewDrive(ctx, ts, root, opts...)
	}
}

func BookFolderName(bookID string) string {
	return "book-" + bookID
}

func (d *Drive) appFolder(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rootID != "" {
		return d.rootID, nil
	}
	id, ok, err := d.findFolder(ctx, d.root, "")
	if err != nil {
		return "", err
	}
	if !ok {
		if id, err = d.createFolder(ctx, d.root, ""); err != nil {
			return "", err
		}
	}
	d.rootID = id
	return id, nil
}

func (d *Drive) EnsureBookFolder(ctx context.Context, bookID string) (string, error) {
	root, err := d.appFolder(ctx)
	if err != nil {
		return "", err
	}
	id, ok, err := d.findFolder(ctx, BookFolderName(bookID), root)
	if err != nil {
		return "", err
	}
	if ok {
		return id, nil
	}
	return d.createFolder(ctx, BookFolderName(bookID), root)
}

func (d *Drive) FindBookFolder(ctx context.Context, bookID string) (string, bool, error) {
	root, err := d.appFolder(ctx)
	if err != nil {
		return "", false, err
	}
	return d.findFolder(ctx, BookFolderName(bookID), root)
}

func (d *Drive) UploadOrUpdateNamedFile(ctx context.Context, folderID, name, mime string, data []byte) (string, error) {
	if mime == "" {
		mime = "application/octet-stream"
	}
	id, ok, err := d.findFile(ctx, name, folderID)
	if err != nil {
		return "", err
	}
	media := googleapi.ContentType(mime)
	var f *drive.File
	if ok {
		f, err = d.srv.Files.Update(id, &drive.File{}).
			Media(bytes.NewReader(data), media).
			Fields("id").Context(ctx).Do()
	} else {
		f, err = d.srv.Files.Create(&drive.File{Name: name, Parents: []string{folderID}}).
			Media(bytes.NewReader(data), media).
			Fields("id").Context(ctx).Do()
	}
	if err != nil {
		return "", classify(err, "upload "+name)
	}
	return f.Id, nil
}

func (d *Drive) DownloadNamedFile(ctx context.Context, folderID, name string) ([]byte, bool, error) {
	id, ok, err := d.findFile(ctx, name, folderID)
	if err != nil || !ok {
		return nil, false, err
	}
	resp, err := d.srv.Files.Get(id).Context(ctx).Download()
	if err != nil {
		return nil, false, classify(err, "download "+name)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed to read %s", name)
	}
	return data, true, nil
}

// TrashFolder moves a folder to the trash rather than deleting it.
func (d *Drive) TrashFolder(ctx context.Context, folderID string) error {
	_, err := d.srv.Files.Update(folderID, &drive.File{Trashed: true}).Fields("id").Context(ctx).Do()
	if err != nil {
		return classify(err, "trash folder")
	}
	return nil
}

func (d *Drive) findFolder(ctx context.Context, name, parentID string) (string, bool, error) {
	q := []string{
		fmt.Sprintf("mimeType = '%s'", folderMIME),
		fmt.Sprintf("name = '%s'", escapeQuery(name)),
		"trashed = false",
	}
	if parentID != "" {
		q = append(q, fmt.Sprintf("'%s' in parents", escapeQuery(parentID)))
	}
	return d.first(ctx, strings.Join(q, " and "))
}

func (d *Drive) findFile(ctx context.Context, name, folderID string) (string, bool, error) {
	q := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false", escapeQuery(name), escapeQuery(folderID))
	return d.first(ctx, q)
}

func (d *Drive) first(ctx context.Context, q string) (string, bool, error) {
	list, err := d.srv.Files.List().Q(q).Fields("files(id, name)").PageSize(1).Context(ctx).Do()
	if err != nil {
		return "", false, classify(err, "list files")
	}
	if len(list.Files) == 0 {
		return "", false, nil
	}
	return list.Files[0].Id, true, nil
}

func (d *Drive) createFolder(ctx context.Context, name, parentID string) (string, error) {
	f := &drive.File{Name: name, MimeType: folderMIME}
	if parentID != "" {
		f.Parents = []string{parentID}
	}
	created, err := d.srv.Files.Create(f).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", classify(err, "create folder "+name)
	}
	return created.Id, nil
}

func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

// classify maps rejected credentials to model.ErrAuthorization.
func classify(err error, op string) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && (gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden) {
		return errors.Wrapf(model.ErrAuthorization, "%s: %v", op, err)
	}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return errors.Wrapf(model.ErrAuthorization, "%s: %v", op, err)
	}
	return errors.Wrapf(err, "drive: %s", op)
}

package history

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/nugget/jarvis-core/internal/config"
)

const folderMIME = "application/vnd.google-apps.folder"

// driveFiles is the slice of the Drive API the store needs.
type driveFiles interface {
	findFolder(ctx context.Context, name string) (string, error)
	createFolder(ctx context.Context, name string) (string, error)
	findFile(ctx context.Context, folderID, name string) (string, error)
	download(ctx context.Context, id string) ([]byte, error)
	create(ctx context.Context, folderID, name string, data []byte) (string, error)
	update(ctx context.Context, id string, data []byte) error
	remove(ctx context.Context, id string) error
}

// DriveStore keeps the transcript as a file inside a named Google Drive
// folder, creating both on first save.
type DriveStore struct {
	files    driveFiles
	folder   string
	filename string
	logger   *slog.Logger

	mu       sync.Mutex
	folderID string
	fileID   string
}

// NewDriveStore creates a store using client, which must carry Drive
// credentials (see [DriveAuth.Client]).
func NewDriveStore(ctx context.Context, client *http.Client, folder, filename string, logger *slog.Logger) (*DriveStore, error) {
	svc, err := drive.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("drive service: %w", err)
	}
	return newDriveStore(&driveService{svc: svc}, folder, filename, logger), nil
}

func newDriveStore(files driveFiles, folder, filename string, logger *slog.Logger) *DriveStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &DriveStore{files: files, folder: folder, filename: filename, logger: logger}
}

// Backend implements [Store].
func (s *DriveStore) Backend() string { return config.StorageGoogleDrive }

// locate fills in the folder and file IDs, creating the folder when
// create is set. A missing file leaves fileID empty.
func (s *DriveStore) locate(ctx context.Context, create bool) error {
	if s.folderID == "" {
		id, err := s.files.findFolder(ctx, s.folder)
		if err != nil {
			return fmt.Errorf("find folder %q: %w", s.folder, err)
		}
		if id == "" && create {
			if id, err = s.files.createFolder(ctx, s.folder); err != nil {
				return fmt.Errorf("create folder %q: %w", s.folder, err)
			}
			s.logger.Info("created drive folder", "folder", s.folder, "id", id)
		}
		s.folderID = id
	}
	if s.folderID != "" && s.fileID == "" {
		id, err := s.files.findFile(ctx, s.folderID, s.filename)
		if err != nil {
			return fmt.Errorf("find %q: %w", s.filename, err)
		}
		s.fileID = id
	}
	return nil
}

// Load implements [Store].
func (s *DriveStore) Load(ctx context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.locate(ctx, false); err != nil {
		return nil, err
	}
	if s.fileID == "" {
		return nil, nil
	}
	data, err := s.files.download(ctx, s.fileID)
	if err != nil {
		if isDriveNotFound(err) {
			s.fileID = ""
			return nil, nil
		}
		return nil, fmt.Errorf("download %q: %w", s.filename, err)
	}
	return decode(data, "drive:"+s.folder+"/"+s.filename, s.logger), nil
}

// Save implements [Store].
func (s *DriveStore) Save(ctx context.Context, entries []Entry) error {
	data, err := encode(entries)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.locate(ctx, true); err != nil {
		return err
	}
	if s.fileID != "" {
		err := s.files.update(ctx, s.fileID, data)
		if err == nil {
			return nil
		}
		if !isDriveNotFound(err) {
			return fmt.Errorf("update %q: %w", s.filename, err)
		}
		s.fileID = ""
	}
	id, err := s.files.create(ctx, s.folderID, s.filename, data)
	if err != nil {
		return fmt.Errorf("create %q: %w", s.filename, err)
	}
	s.fileID = id
	return nil
}

// Clear implements [Store].
func (s *DriveStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.locate(ctx, false); err != nil {
		return err
	}
	if s.fileID == "" {
		return nil
	}
	if err := s.files.remove(ctx, s.fileID); err != nil && !isDriveNotFound(err) {
		return fmt.Errorf("delete %q: %w", s.filename, err)
	}
	s.fileID = ""
	return nil
}

func isDriveNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}

// quote escapes a value for a Drive query string literal.
func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}

// driveService implements driveFiles on the Drive v3 API.
type driveService struct {
	svc *drive.Service
}

func (d *driveService) first(ctx context.Context, q string) (string, error) {
	list, err := d.svc.Files.List().Q(q).Spaces("drive").Fields("files(id, name)").PageSize(1).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	if len(list.Files) == 0 {
		return "", nil
	}
	return list.Files[0].Id, nil
}

func (d *driveService) findFolder(ctx context.Context, name string) (string, error) {
	return d.first(ctx, fmt.Sprintf("mimeType = '%s' and name = %s and trashed = false", folderMIME, quote(name)))
}

func (d *driveService) createFolder(ctx context.Context, name string) (string, error) {
	f, err := d.svc.Files.Create(&drive.File{Name: name, MimeType: folderMIME}).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return f.Id, nil
}

func (d *driveService) findFile(ctx context.Context, folderID, name string) (string, error) {
	return d.first(ctx, fmt.Sprintf("name = %s and %s in parents and trashed = false", quote(name), quote(folderID)))
}

func (d *driveService) download(ctx context.Context, id string) ([]byte, error) {
	resp, err := d.svc.Files.Get(id).Context(ctx).Download()
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (d *driveService) create(ctx context.Context, folderID, name string, data []byte) (string, error) {
	f, err := d.svc.Files.Create(&drive.File{Name: name, Parents: []string{folderID}, MimeType: "application/json"}).
		Media(bytes.NewReader(data)).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return f.Id, nil
}

func (d *driveService) update(ctx context.Context, id string, data []byte) error {
	_, err := d.svc.Files.Update(id, &drive.File{}).Media(bytes.NewReader(data)).Context(ctx).Do()
	return err
}

func (d *driveService) remove(ctx context.Context, id string) error {
	return d.svc.Files.Delete(id).Context(ctx).Do()
}

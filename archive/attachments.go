package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/eraiza0816/discord-archive/logging"
	"github.com/rs/zerolog"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// DefaultMaxAttachmentBytes は Discord の通常アップロード上限に合わせています。
const DefaultMaxAttachmentBytes = 25 * 1024 * 1024

var discordCDNHosts = []string{"cdn.discordapp.com", "media.discordapp.net"}

// IsDiscordCDN reports whether rawURL points at Discord's attachment CDN.
func IsDiscordCDN(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "https" {
		return false
	}
	for _, h := range discordCDNHosts {
		if strings.EqualFold(u.Host, h) {
			return true
		}
	}
	return false
}

// Downloader は Discord CDN から添付ファイルを取得します。
type Downloader struct {
	client   *http.Client
	maxBytes int64
}

func NewDownloader(client *http.Client, maxBytes int64) *Downloader {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxAttachmentBytes
	}
	return &Downloader{client: client, maxBytes: maxBytes}
}

func (d *Downloader) Download(ctx context.Context, rawURL string) ([]byte, error) {
	if !IsDiscordCDN(rawURL) {
		return nil, fmt.Errorf("not a Discord attachment URL: %s", rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build download request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ファイルのダウンロードに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ファイルのダウンロードに失敗しました (ステータスコード: %d): %s", resp.StatusCode, rawURL)
	}
	if resp.ContentLength > d.maxBytes {
		return nil, fmt.Errorf("attachment too large: %d bytes", resp.ContentLength)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment body: %w", err)
	}
	if int64(len(data)) > d.maxBytes {
		return nil, fmt.Errorf("attachment exceeds %d bytes", d.maxBytes)
	}
	return data, nil
}

// BlobStore keeps a copy of an attachment and returns where it can be found.
type BlobStore interface {
	Name() string
	Put(ctx context.Context, name, contentType string, data []byte) (string, error)
}

// LocalStore writes attachments below a directory.
type LocalStore struct {
	dir string
}

func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("ディレクトリの作成に失敗しました: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

func (s *LocalStore) Name() string { return "local" }

func (s *LocalStore) Put(_ context.Context, name, _ string, data []byte) (string, error) {
	path := filepath.Join(s.dir, filepath.Base(name))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("ファイルの保存に失敗しました: %w", err)
	}
	return path, nil
}

// DriveUploader is the part of the Drive API used by DriveStore.
type DriveUploader interface {
	Upload(ctx context.Context, file *drive.File, media io.Reader) (*drive.File, error)
	ShareWithAnyone(ctx context.Context, fileID string) error
}

type driveFilesAPI struct {
	svc *drive.Service
}

func (a *driveFilesAPI) Upload(ctx context.Context, file *drive.File, media io.Reader) (*drive.File, error) {
	return a.svc.Files.Create(file).
		Media(media).
		SupportsAllDrives(true).
		Fields("id, name, webViewLink").
		Context(ctx).
		Do()
}

func (a *driveFilesAPI) ShareWithAnyone(ctx context.Context, fileID string) error {
	_, err := a.svc.Permissions.Create(fileID, &drive.Permission{Type: "anyone", Role: "reader"}).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	return err
}

// DriveStore uploads attachments into a Google Drive folder.
type DriveStore struct {
	api      DriveUploader
	folderID string
}

// NewDriveStore authenticates with a service account credentials file.
func NewDriveStore(ctx context.Context, credentialsFile, folderID string) (*DriveStore, error) {
	svc, err := drive.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(drive.DriveFileScope),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google Drive service: %w", err)
	}
	return NewDriveStoreWithAPI(&driveFilesAPI{svc: svc}, folderID), nil
}

func NewDriveStoreWithAPI(api DriveUploader, folderID string) *DriveStore {
	return &DriveStore{api: api, folderID: folderID}
}

func (s *DriveStore) Name() string { return "drive" }

func (s *DriveStore) Put(ctx context.Context, name, contentType string, data []byte) (string, error) {
	file := &drive.File{
		Name:        name,
		MimeType:    contentType,
		Description: "Discord attachment " + name,
	}
	if s.folderID != "" {
		file.Parents = []string{s.folderID}
	}
	created, err := s.api.Upload(ctx, file, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to upload %s to Google Drive: %w", name, err)
	}
	if err := s.api.ShareWithAnyone(ctx, created.Id); err != nil {
		return "", fmt.Errorf("failed to share %s: %w", name, err)
	}
	if created.WebViewLink != "" {
		return created.WebViewLink, nil
	}
	return "https://drive.google.com/file/d/" + created.Id + "/view", nil
}

// AttachmentStore downloads each attachment once and copies it to every BlobStore.
type AttachmentStore struct {
	downloader *Downloader
	stores     []BlobStore
	log        zerolog.Logger
}

func NewAttachmentStore(downloader *Downloader, stores ...BlobStore) *AttachmentStore {
	return &AttachmentStore{
		downloader: downloader,
		stores:     stores,
		log:        logging.Component("attachments"),
	}
}

// Enabled is false when no store is configured.
func (s *AttachmentStore) Enabled() bool {
	return s != nil && len(s.stores) > 0
}

// Process fills ArchivedURL on msg's attachments. Failures leave the CDN URL in place.
func (s *AttachmentStore) Process(ctx context.Context, msg *Message) {
	if !s.Enabled() {
		return
	}
	for i := range msg.Attachments {
		a := &msg.Attachments[i]
		data, err := s.downloader.Download(ctx, a.URL)
		if err != nil {
			s.log.Warn().Err(err).Str("message_id", msg.ID).Str("filename", a.Filename).Msg("attachment download failed")
			continue
		}
		name := fmt.Sprintf("msg_%s_%s", msg.ID, a.Filename)
		for _, store := range s.stores {
			loc, err := store.Put(ctx, name, a.ContentType, data)
			if err != nil {
				s.log.Warn().Err(err).Str("store", store.Name()).Str("filename", a.Filename).Msg("attachment store failed")
				continue
			}
			// http(s) 位置を優先し、ローカルパスで上書きしない
			if a.ArchivedURL == "" || isHTTPURL(loc) {
				a.ArchivedURL = loc
			}
		}
	}
}

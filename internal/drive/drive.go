// Package drive provisions per-client Google Drive folders for the
// project hand-off.
package drive

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	driveapi "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/cmmodulados/verabot/internal/models"
)

const folderMimeType = "application/vnd.google-apps.folder"

// folderNameSanitizer strips everything but letters, digits and spaces
// from the client name before it becomes part of a folder name.
var folderNameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9\s]`)

// Opts holds Google Drive OAuth credentials and the destination folder.
type Opts struct {
	ClientID       string
	ClientSecret   string
	RedirectURI    string
	RefreshToken   string
	ParentFolderID string
}

// Option defines a configuration option for the Drive service.
type Option func(*Opts)

// WithClientID sets the OAuth client id.
func WithClientID(id string) Option {
	return func(o *Opts) { o.ClientID = id }
}

// WithClientSecret sets the OAuth client secret.
func WithClientSecret(secret string) Option {
	return func(o *Opts) { o.ClientSecret = secret }
}

// WithRedirectURI sets the OAuth redirect URI used when the refresh
// token was issued.
func WithRedirectURI(uri string) Option {
	return func(o *Opts) { o.RedirectURI = uri }
}

// WithRefreshToken sets the long-lived refresh token.
func WithRefreshToken(token string) Option {
	return func(o *Opts) { o.RefreshToken = token }
}

// WithParentFolderID sets the folder under which client folders are
// created. Empty means the Drive root.
func WithParentFolderID(id string) Option {
	return func(o *Opts) { o.ParentFolderID = id }
}

// Service creates client folders through the Drive v3 API using a
// refresh-token OAuth flow.
type Service struct {
	files        *driveapi.FilesService
	parentFolder string
}

// NewService builds a Drive service from the given credentials. All of
// client id, secret and refresh token are required.
func NewService(ctx context.Context, opts ...Option) (*Service, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
		return nil, fmt.Errorf("drive client id, client secret and refresh token must be provided")
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Endpoint:     google.Endpoint,
		Scopes:       []string{driveapi.DriveFileScope},
	}
	tokenSource := oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})

	svc, err := driveapi.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	slog.Info("Drive service configured", "parentFolder_set", cfg.ParentFolderID != "")
	return &Service{files: svc.Files, parentFolder: cfg.ParentFolderID}, nil
}

// Ready reports whether the service can create folders.
func (s *Service) Ready() bool {
	return s != nil && s.files != nil
}

// GenerateFolderName builds the client folder name from the sanitized
// client name, the contact id and the current date.
func GenerateFolderName(clientName string, contactID int64) string {
	sanitized := strings.TrimSpace(folderNameSanitizer.ReplaceAllString(clientName, ""))
	date := time.Now().Format("2006-01-02")
	return fmt.Sprintf("%s - ID%d - %s", sanitized, contactID, date)
}

// CreateClientFolder creates (or reuses) the client's folder and returns
// its handle. An existing folder with the same name is returned instead
// of creating a duplicate.
func (s *Service) CreateClientFolder(ctx context.Context, clientName string, contactID int64) (*models.DriveFolderRef, error) {
	if !s.Ready() {
		return nil, fmt.Errorf("drive service not configured")
	}

	name := GenerateFolderName(clientName, contactID)

	existing, err := s.findExistingFolder(ctx, name)
	if err != nil {
		slog.Warn("Drive duplicate lookup failed, creating anyway", "error", err, "name", name)
	}
	if existing != nil {
		slog.Info("Drive reusing existing folder", "name", name, "folderID", existing.ID)
		return existing, nil
	}

	meta := &driveapi.File{
		Name:     name,
		MimeType: folderMimeType,
	}
	if s.parentFolder != "" {
		meta.Parents = []string{s.parentFolder}
	}

	slog.Info("Drive creating folder", "name", name, "contactID", contactID)
	created, err := s.files.Create(meta).
		Fields("id", "name", "webViewLink", "createdTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("create drive folder %q: %w", name, err)
	}

	return folderRef(created), nil
}

// findExistingFolder looks for a non-trashed folder with the exact name.
func (s *Service) findExistingFolder(ctx context.Context, name string) (*models.DriveFolderRef, error) {
	query := fmt.Sprintf("name = '%s' and mimeType = '%s' and trashed = false",
		strings.ReplaceAll(name, "'", `\'`), folderMimeType)

	list, err := s.files.List().
		Q(query).
		Fields("files(id, name, webViewLink, createdTime)").
		PageSize(1).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("list drive folders: %w", err)
	}
	if len(list.Files) == 0 {
		return nil, nil
	}
	return folderRef(list.Files[0]), nil
}

func folderRef(f *driveapi.File) *models.DriveFolderRef {
	return &models.DriveFolderRef{
		ID:        f.Id,
		Name:      f.Name,
		Link:      f.WebViewLink,
		CreatedAt: f.CreatedTime,
	}
}

// Disabled is the no-op provisioner used when Drive credentials are not
// configured; the flow proceeds without a folder.
type Disabled struct{}

// Ready always reports false.
func (Disabled) Ready() bool { return false }

// CreateClientFolder always fails; callers gate on Ready first.
func (Disabled) CreateClientFolder(ctx context.Context, clientName string, contactID int64) (*models.DriveFolderRef, error) {
	return nil, fmt.Errorf("drive service not configured")
}

package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"cirrusdocs/api/internal/access"
	"cirrusdocs/api/internal/auth"
	"cirrusdocs/api/internal/authpw"
	"cirrusdocs/api/internal/config"
	"cirrusdocs/api/internal/export"
	"cirrusdocs/api/internal/search"
	"cirrusdocs/api/internal/store"
	"cirrusdocs/api/internal/util"
)

// Session is the authenticated caller's identity for the duration of one
// request. Email is the identity every access decision is made against.
type Session struct {
	Token        string
	RefreshToken string
	Email        string
	Name         string
	JTI          string
	ExpiresAt    time.Time
}

// CreateDocumentInput carries the new-document payload. Pointer fields let
// validation tell a missing field from a zero value; the check is
// all-or-nothing, so nothing is written unless every field arrived.
type CreateDocumentInput struct {
	Filename *string         `json:"filename"`
	Code     *bool           `json:"code"`
	Title    *string         `json:"title"`
	Content  *string         `json:"content"`
	Comments []store.Comment `json:"comments"`
	Email    *string         `json:"email"`
}

type UpdateDocumentInput struct {
	Filename string          `json:"filename"`
	Title    string          `json:"title"`
	Content  string          `json:"content"`
	Comments []store.Comment `json:"comments"`
}

type dataStore interface {
	GetUserByEmail(context.Context, string) (store.User, error)
	ListUsers(context.Context) ([]store.User, error)
	CreateDocument(context.Context, string, store.Document) error
	FindByFilename(context.Context, string) (store.Document, error)
	ListAllFilenames(context.Context) ([]string, error)
	UpdateDocumentContent(context.Context, string, string, string, []store.Comment) (int64, error)
	UpdateDocumentEditors(context.Context, string, []string) ([]string, error)
	ListAllowedDocuments(context.Context, string, bool) ([]store.Document, error)
	ListAllowedFilenames(context.Context, string) ([]string, error)
	ListUserDocuments(context.Context, string) ([]store.Document, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	Ping(ctx context.Context) error
}

// sessionStore holds refresh tokens. Redis when configured, the Postgres
// store otherwise; both satisfy this.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type mailer interface {
	IsConfigured() bool
	SendInvitation(recipient, inviterName, inviterEmail, filename, title, editorURL string) error
}

type pdfExporter interface {
	ExportPDF(ctx context.Context, req export.Request) (*export.Result, error)
}

type searcher interface {
	Search(q search.Query) search.Response
	IndexDocument(doc search.DocumentRecord)
}

type broadcaster interface {
	Broadcast(room string, data interface{})
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	creds    *authpw.Service
	mail     mailer
	pdf      pdfExporter
	search   searcher
	hub      broadcaster
}

func New(cfg config.Config, dataStore dataStore, sessions sessionStore, creds *authpw.Service, mail mailer, pdf pdfExporter, searchSvc searcher, hub broadcaster) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		creds:    creds,
		mail:     mail,
		pdf:      pdf,
		search:   searchSvc,
		hub:      hub,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ── accounts and sessions ──

// Register creates a new account. A duplicate email is a conflict, reported
// without revealing more than the legacy acknowledged flag does.
func (s *Service) Register(ctx context.Context, name, email, password string) (string, error) {
	missing := missingFields(map[string]string{
		"name":     name,
		"email":    email,
		"password": password,
	})
	if len(missing) > 0 {
		return "", domainError(http.StatusBadRequest, "INVALID_INPUT", "Missing required fields", map[string]any{"missing": missing})
	}

	id, err := s.creds.Register(ctx, name, email, password)
	if errors.Is(err, authpw.ErrEmailTaken) {
		return "", domainError(http.StatusBadRequest, "CONFLICT", "Email already registered", nil)
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// VerifyLogin checks credentials and opens a session. Unknown users and
// wrong passwords get the same answer.
func (s *Service) VerifyLogin(ctx context.Context, email, password string) (Session, error) {
	missing := missingFields(map[string]string{
		"email":    email,
		"password": password,
	})
	if len(missing) > 0 {
		return Session{}, domainError(http.StatusBadRequest, "INVALID_INPUT", "Missing required fields", map[string]any{"missing": missing})
	}

	user, err := s.creds.Verify(ctx, email, password)
	if errors.Is(err, authpw.ErrInvalidCredentials) {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}
	if err != nil {
		return Session{}, err
	}

	return s.issueSession(ctx, user)
}

// RefreshLogin rotates a refresh token into a fresh token pair.
func (s *Service) RefreshLogin(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHENTICATED", "Refresh token invalid", nil)
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.Email,
		Name: user.Name,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		Email:        user.Email,
		Name:         user.Name,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken validates a bearer token. The claims carry everything the
// request needs; only the revocation check touches storage.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		Email:     claims.Sub,
		Name:      claims.Name,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// Logout revokes the access token and the refresh token. Best effort.
func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// ── documents ──

// CreateDocument registers a new document. Filenames are unique across the
// whole collection; the scan rejects a taken name before anything is
// written, and the unique index backstops scans racing each other. The
// creator becomes the structural owner and the only allowed editor.
func (s *Service) CreateDocument(ctx context.Context, caller Session, input CreateDocumentInput) (map[string]any, error) {
	var missing []string
	if input.Filename == nil || strings.TrimSpace(*input.Filename) == "" {
		missing = append(missing, "filename")
	}
	if input.Code == nil {
		missing = append(missing, "code")
	}
	if input.Title == nil {
		missing = append(missing, "title")
	}
	if input.Content == nil {
		missing = append(missing, "content")
	}
	if input.Comments == nil {
		missing = append(missing, "comments")
	}
	if input.Email == nil || strings.TrimSpace(*input.Email) == "" {
		missing = append(missing, "email")
	}
	if len(missing) > 0 {
		return nil, domainError(http.StatusBadRequest, "INVALID_INPUT", "Missing required fields", map[string]any{"missing": missing})
	}

	filename := strings.TrimSpace(*input.Filename)
	ownerEmail := strings.TrimSpace(*input.Email)

	taken, err := s.filenameTaken(ctx, filename)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, domainError(http.StatusBadRequest, "CONFLICT", "Filename already exists", nil)
	}

	doc := store.Document{
		ID:           util.NewID("doc"),
		Filename:     filename,
		Code:         *input.Code,
		Title:        *input.Title,
		Content:      *input.Content,
		Comments:     input.Comments,
		AllowedUsers: []string{ownerEmail},
	}

	err = s.store.CreateDocument(ctx, ownerEmail, doc)
	if errors.Is(err, store.ErrDuplicateFilename) {
		return nil, domainError(http.StatusBadRequest, "CONFLICT", "Filename already exists", nil)
	}
	if err != nil {
		return nil, err
	}

	s.search.IndexDocument(search.DocumentRecord{
		ID:           doc.ID,
		Filename:     doc.Filename,
		Title:        doc.Title,
		Content:      doc.Content,
		Code:         doc.Code,
		AllowedUsers: doc.AllowedUsers,
	})

	return map[string]any{
		"acknowledged": true,
		"insertedId":   doc.ID,
	}, nil
}

// UpdateDocument replaces title, content and the whole comments sequence.
// Membership in allowed_users is what grants the write; the owner holds no
// extra privilege here.
func (s *Service) UpdateDocument(ctx context.Context, caller Session, input UpdateDocumentInput) (map[string]any, error) {
	doc, err := s.store.FindByFilename(ctx, input.Filename)
	if err != nil {
		return nil, err
	}

	if err := s.authorize(doc, caller, access.ActionWrite); err != nil {
		return nil, err
	}

	modified, err := s.store.UpdateDocumentContent(ctx, input.Filename, input.Title, input.Content, input.Comments)
	if err != nil {
		return nil, err
	}

	s.hub.Broadcast(input.Filename, map[string]any{
		"filename": input.Filename,
		"title":    input.Title,
		"content":  input.Content,
	})

	s.search.IndexDocument(search.DocumentRecord{
		ID:           doc.ID,
		Filename:     doc.Filename,
		Title:        input.Title,
		Content:      input.Content,
		Code:         doc.Code,
		AllowedUsers: doc.AllowedUsers,
	})

	return map[string]any{
		"acknowledged":  true,
		"modifiedCount": modified,
	}, nil
}

// UpdateEditors replaces the allowed-users set wholesale. Owner only; an
// invited editor cannot manage the editor list, and the owner keeps this
// right even after removing themselves from the list.
func (s *Service) UpdateEditors(ctx context.Context, caller Session, filename string, allowedUsers []string) (map[string]any, error) {
	doc, err := s.store.FindByFilename(ctx, filename)
	if err != nil {
		return nil, err
	}

	if err := s.authorize(doc, caller, access.ActionManageEditors); err != nil {
		return nil, err
	}

	stored, err := s.store.UpdateDocumentEditors(ctx, filename, allowedUsers)
	if err != nil {
		return nil, err
	}

	s.search.IndexDocument(search.DocumentRecord{
		ID:           doc.ID,
		Filename:     doc.Filename,
		Title:        doc.Title,
		Content:      doc.Content,
		Code:         doc.Code,
		AllowedUsers: stored,
	})

	return map[string]any{"allowedusers": stored}, nil
}

// SendInvite mails an editing invitation. Owner only. The recipient needs no
// account yet, so there is no membership change here; a delivery failure is
// reported as a flag, not an error.
func (s *Service) SendInvite(ctx context.Context, caller Session, recipient, inviterName, filename, title string) (map[string]any, error) {
	doc, err := s.store.FindByFilename(ctx, filename)
	if err != nil {
		return nil, err
	}

	if err := s.authorize(doc, caller, access.ActionInvite); err != nil {
		return nil, err
	}

	if strings.TrimSpace(recipient) == "" {
		return nil, domainError(http.StatusBadRequest, "INVALID_INPUT", "Missing required fields", map[string]any{"missing": []string{"recipient"}})
	}
	if strings.TrimSpace(inviterName) == "" {
		inviterName = caller.Name
	}
	if strings.TrimSpace(title) == "" {
		title = doc.Title
	}

	sent := true
	if !s.mail.IsConfigured() {
		sent = false
	} else if err := s.mail.SendInvitation(recipient, inviterName, caller.Email, filename, title, s.cfg.EditorURL); err != nil {
		sent = false
	}

	return map[string]any{"inviteSent": sent}, nil
}

// ReadAll lists the filenames a user may currently edit. Computed live, so
// a revoked editor loses the listing on their next call.
func (s *Service) ReadAll(ctx context.Context, email string) (map[string]any, error) {
	filenames, err := s.store.ListAllowedFilenames(ctx, email)
	if err != nil {
		return nil, err
	}
	return map[string]any{"filenames": filenames}, nil
}

// ReadOne returns a single document. Membership gates the read.
func (s *Service) ReadOne(ctx context.Context, caller Session, filename string) (map[string]any, error) {
	doc, err := s.store.FindByFilename(ctx, filename)
	if err != nil {
		return nil, err
	}

	if err := s.authorize(doc, caller, access.ActionRead); err != nil {
		return nil, err
	}

	return documentPayload(doc), nil
}

// AllowedDocs returns the full documents a user may edit in the given mode.
func (s *Service) AllowedDocs(ctx context.Context, email string, code bool) ([]map[string]any, error) {
	docs, err := s.store.ListAllowedDocuments(ctx, email, code)
	if err != nil {
		return nil, err
	}
	payloads := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		payloads = append(payloads, documentPayload(doc))
	}
	return payloads, nil
}

// AllUsers lists every registered account, for the share-document picker.
func (s *Service) AllUsers(ctx context.Context) ([]map[string]any, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	payloads := make([]map[string]any, 0, len(users))
	for _, user := range users {
		payloads = append(payloads, map[string]any{
			"name":  user.Name,
			"email": user.Email,
		})
	}
	return payloads, nil
}

// Search runs a full-text query scoped to documents the caller may read.
func (s *Service) Search(caller Session, text string, code bool, limit, offset int) search.Response {
	return s.search.Search(search.Query{
		Text:        text,
		CallerEmail: caller.Email,
		Code:        code,
		Limit:       limit,
		Offset:      offset,
	})
}

// ExportPDF renders client-supplied HTML to a PDF stream.
func (s *Service) ExportPDF(ctx context.Context, req export.Request) (*export.Result, error) {
	result, err := s.pdf.ExportPDF(ctx, req)
	if errors.Is(err, export.ErrContentUnavailable) {
		return nil, domainError(http.StatusBadRequest, "INVALID_INPUT", "Missing required fields", map[string]any{"missing": []string{"html"}})
	}
	if err != nil {
		return nil, domainError(http.StatusBadGateway, "DEPENDENCY_FAILURE", "PDF rendering unavailable", nil)
	}
	return result, nil
}

// authorize translates access decisions into the wire error taxonomy.
func (s *Service) authorize(doc store.Document, caller Session, action access.Action) error {
	snapshot := access.Snapshot{
		OwnerEmail:   doc.OwnerEmail,
		AllowedUsers: doc.AllowedUsers,
	}
	err := access.Authorize(snapshot, caller.Email, action)
	switch {
	case errors.Is(err, access.ErrUnauthenticated):
		return domainError(http.StatusUnauthorized, "UNAUTHENTICATED", "Unauthorized", nil)
	case errors.Is(err, access.ErrNotAllowed):
		return domainError(http.StatusUnauthorized, "NOT_ALLOWED", "Not allowed", nil)
	}
	return err
}

func (s *Service) filenameTaken(ctx context.Context, filename string) (bool, error) {
	filenames, err := s.store.ListAllFilenames(ctx)
	if err != nil {
		return false, err
	}
	for _, existing := range filenames {
		if existing == filename {
			return true, nil
		}
	}
	return false, nil
}

func documentPayload(doc store.Document) map[string]any {
	comments := doc.Comments
	if comments == nil {
		comments = []store.Comment{}
	}
	allowed := doc.AllowedUsers
	if allowed == nil {
		allowed = []string{}
	}
	return map[string]any{
		"filename":     doc.Filename,
		"code":         doc.Code,
		"title":        doc.Title,
		"content":      doc.Content,
		"comments":     comments,
		"allowedusers": allowed,
		"ownerName":    doc.OwnerName,
		"ownerEmail":   doc.OwnerEmail,
	}
}

func missingFields(fields map[string]string) []string {
	var missing []string
	for _, name := range []string{"name", "email", "password"} {
		value, ok := fields[name]
		if !ok {
			continue
		}
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

package app

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"taskdeck/api/internal/auth"
	"taskdeck/api/internal/authpw"
	"taskdeck/api/internal/config"
	"taskdeck/api/internal/images"
	"taskdeck/api/internal/rbac"
	"taskdeck/api/internal/search"
	"taskdeck/api/internal/store"
	"taskdeck/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	UserImage    string
	OrgID        string
	OrgName      string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type ImageInput struct {
	ID       string `json:"id"`
	ThumbURL string `json:"thumbUrl"`
	FullURL  string `json:"fullUrl"`
	LinkHTML string `json:"linkHtml"`
	UserName string `json:"userName"`
}

type CreateBoardInput struct {
	Title string     `json:"title"`
	Image ImageInput `json:"image"`
}

type CreateListInput struct {
	Title string `json:"title"`
}

type CreateCardInput struct {
	ListID string `json:"listId"`
	Title  string `json:"title"`
}

// UpdateCardInput carries a partial update; nil fields are left unchanged.
type UpdateCardInput struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

type ListOrderItem struct {
	ID    string `json:"id"`
	Order int    `json:"order"`
}

type CardOrderItem struct {
	ID     string `json:"id"`
	Order  int    `json:"order"`
	ListID string `json:"listId"`
}

// dataStore is the persistence surface the service needs. *store.PostgresStore
// satisfies it; tests substitute a fake.
type dataStore interface {
	// identity
	CreateUser(context.Context, store.User) error
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	ListMemberships(context.Context, string) ([]store.Membership, error)
	GetMembership(context.Context, string, string) (store.Membership, error)
	EnsureMembership(context.Context, string, string, string, string) error
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	// boards
	ListBoards(context.Context, string) ([]store.Board, error)
	GetBoard(context.Context, string, string) (store.Board, error)
	InsertBoard(context.Context, store.Board) (store.Board, error)
	UpdateBoardTitle(context.Context, string, string, string) (store.Board, error)
	DeleteBoard(context.Context, string, string) (store.Board, error)
	// lists
	ListLists(context.Context, string, string) ([]store.List, error)
	CreateList(context.Context, string, string, string, string) (store.List, error)
	UpdateListTitle(context.Context, string, string, string, string) (store.List, error)
	DeleteList(context.Context, string, string, string) (store.List, error)
	CopyList(context.Context, string, string, string, string, func() string) (store.List, []store.Card, error)
	ReorderLists(context.Context, string, string, []store.ListPosition) ([]store.List, error)
	// cards
	ListCardsByBoard(context.Context, string, string) ([]store.Card, error)
	GetCard(context.Context, string, string) (store.Card, error)
	CreateCard(context.Context, string, string, string, string, string) (store.Card, error)
	UpdateCard(context.Context, string, string, string, *string, *string) (store.Card, error)
	DeleteCard(context.Context, string, string, string) (store.Card, error)
	CopyCard(context.Context, string, string, string, string) (store.Card, error)
	ReorderCards(context.Context, string, string, []store.CardPosition) ([]store.Card, error)
	// audit
	InsertAuditLog(context.Context, store.AuditLogEntry) error
	ListCardAuditLog(context.Context, string, string, int) ([]store.AuditLogEntry, error)
	Ping(ctx context.Context) error
}

// refreshStore abstracts refresh-token storage so redis and the Postgres
// fallback are interchangeable.
type refreshStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// pgRefreshSessions adapts the Postgres store to the refreshStore seam.
type pgRefreshSessions struct {
	store dataStore
}

func (p pgRefreshSessions) SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	return p.store.SaveRefreshSession(ctx, tokenHash, user.ID, expiresAt)
}

func (p pgRefreshSessions) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	return p.store.LookupRefreshSession(ctx, tokenHash)
}

func (p pgRefreshSessions) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	return p.store.RevokeRefreshSession(ctx, tokenHash)
}

// imageStore is the cover-object surface the service needs. *images.Service
// satisfies it; tests substitute a fake.
type imageStore interface {
	Upload(ctx context.Context, reader io.Reader, size int64, contentType, uploaderName string) (images.Metadata, error)
	Delete(ctx context.Context, imageID string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions refreshStore
	authpw   *authpw.Service
	search   *search.Service
	images   imageStore
}

func New(cfg config.Config, dataStore *store.PostgresStore, pw *authpw.Service, searchService *search.Service, imageService *images.Service) *Service {
	svc := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: pgRefreshSessions{store: dataStore},
		authpw:   pw,
		search:   searchService,
	}
	if imageService != nil {
		svc.images = imageService
	}
	return svc
}

// NewWithSessionStore uses an external (redis) refresh-token store instead
// of the Postgres fallback.
func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions refreshStore, pw *authpw.Service, searchService *search.Service, imageService *images.Service) *Service {
	svc := New(cfg, dataStore, pw, searchService, imageService)
	svc.sessions = sessions
	return svc
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) ImageService() imageStore {
	return s.images
}

// Auth and sessions

var errUnauthorized = domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)

// SignUp creates an account plus a personal organization the new user
// administers, then opens a session in that organization.
func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (Session, error) {
	user, err := s.authpw.SignUp(ctx, req)
	if err != nil {
		if errors.Is(err, authpw.ErrEmailExists) {
			return Session{}, domainError(http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
		}
		return Session{}, validationError(err.Error(), nil)
	}

	orgID := util.NewID("org")
	orgName := user.DisplayName + "'s Workspace"
	if err := s.store.EnsureMembership(ctx, user.ID, orgID, orgName, "admin"); err != nil {
		return Session{}, err
	}

	return s.issueSession(ctx, user, store.Membership{OrgID: orgID, OrgName: orgName, Role: "admin"})
}

// SignIn authenticates and opens a session in the requested organization,
// or in the user's first membership when none is requested.
func (s *Service) SignIn(ctx context.Context, req authpw.SignInRequest, orgID string) (Session, error) {
	user, err := s.authpw.SignIn(ctx, req)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}

	membership, err := s.resolveMembership(ctx, user.ID, orgID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user, membership)
}

func (s *Service) resolveMembership(ctx context.Context, userID, orgID string) (store.Membership, error) {
	if orgID != "" {
		membership, err := s.store.GetMembership(ctx, userID, orgID)
		if err != nil {
			return store.Membership{}, errUnauthorized
		}
		return membership, nil
	}

	memberships, err := s.store.ListMemberships(ctx, userID)
	if err != nil {
		return store.Membership{}, err
	}
	if len(memberships) == 0 {
		return store.Membership{}, errUnauthorized
	}
	return memberships[0], nil
}

func (s *Service) issueSession(ctx context.Context, user store.User, membership store.Membership) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Name:  user.DisplayName,
		Org:   membership.OrgID,
		Image: user.AvatarURL,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
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
		UserID:       user.ID,
		UserName:     user.DisplayName,
		UserImage:    user.AvatarURL,
		OrgID:        membership.OrgID,
		OrgName:      membership.OrgName,
		Role:         string(rbac.Normalize(membership.Role)),
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// Refresh rotates a refresh token into a fresh session. The new session
// lands in the user's first membership; clients that were working in a
// different organization switch back via SwitchOrg.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	hash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, hash)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	if err := s.sessions.RevokeRefreshSession(ctx, hash); err != nil {
		return Session{}, err
	}

	full, err := s.store.GetUserByID(ctx, user.ID)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}

	membership, err := s.resolveMembership(ctx, full.ID, "")
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, full, membership)
}

// SwitchOrg reissues the session in another organization the user belongs to.
func (s *Service) SwitchOrg(ctx context.Context, session Session, orgID string) (Session, error) {
	if session.UserID == "" {
		return Session{}, errUnauthorized
	}
	membership, err := s.store.GetMembership(ctx, session.UserID, orgID)
	if err != nil {
		return Session{}, errUnauthorized
	}
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user, membership)
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			log.Printf("logout: revoke refresh token: %v", err)
		}
	}
	if session.JTI != "" {
		if err := s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			log.Printf("logout: revoke access token: %v", err)
		}
	}
	return nil
}

// SessionFromToken validates an access token and rebuilds the session,
// including a live membership check so a revoked membership invalidates
// outstanding tokens.
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

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	membership, err := s.store.GetMembership(ctx, user.ID, claims.Org)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		UserImage: user.AvatarURL,
		OrgID:     membership.OrgID,
		OrgName:   membership.OrgName,
		Role:      string(rbac.Normalize(membership.Role)),
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// requireTenant guards every board/list/card operation: no user or no
// active organization means no tenant context.
func requireTenant(session Session) error {
	if session.UserID == "" || session.OrgID == "" {
		return errUnauthorized
	}
	return nil
}

func requireAction(session Session, action rbac.Action) error {
	if err := requireTenant(session); err != nil {
		return err
	}
	if !rbac.Can(rbac.Role(session.Role), action) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return nil
}

// Boards

func (s *Service) ListBoards(ctx context.Context, session Session) ([]map[string]any, error) {
	if err := requireAction(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	boards, err := s.store.ListBoards(ctx, session.OrgID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(boards))
	for _, board := range boards {
		items = append(items, boardPayload(board))
	}
	return items, nil
}

func (s *Service) GetBoard(ctx context.Context, session Session, boardID string) (map[string]any, error) {
	if err := requireAction(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	board, err := s.store.GetBoard(ctx, session.OrgID, boardID)
	if err != nil {
		return nil, err
	}
	return boardPayload(board), nil
}

func (s *Service) CreateBoard(ctx context.Context, session Session, input CreateBoardInput) (map[string]any, error) {
	if err := requireAction(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	if err := validateTitle(input.Title); err != nil {
		return nil, err
	}
	if input.Image.ID == "" || input.Image.ThumbURL == "" || input.Image.FullURL == "" || input.Image.LinkHTML == "" || input.Image.UserName == "" {
		return nil, validationError("Missing image fields", map[string]any{"image": "all image fields are required"})
	}

	board, err := s.store.InsertBoard(ctx, store.Board{
		ID:            util.NewID("brd"),
		OrgID:         session.OrgID,
		Title:         strings.TrimSpace(input.Title),
		ImageID:       input.Image.ID,
		ImageThumbURL: input.Image.ThumbURL,
		ImageFullURL:  input.Image.FullURL,
		ImageLinkHTML: input.Image.LinkHTML,
		ImageUserName: input.Image.UserName,
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, session, board.ID, store.EntityBoard, board.Title, store.ActionCreate)
	return boardPayload(board), nil
}

func (s *Service) UpdateBoardTitle(ctx context.Context, session Session, boardID, title string) (map[string]any, error) {
	if err := requireAction(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	if err := validateTitle(title); err != nil {
		return nil, err
	}
	board, err := s.store.UpdateBoardTitle(ctx, session.OrgID, boardID, strings.TrimSpace(title))
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, session, board.ID, store.EntityBoard, board.Title, store.ActionUpdate)
	return boardPayload(board), nil
}

func (s *Service) DeleteBoard(ctx context.Context, session Session, boardID string) error {
	if err := requireAction(session, rbac.ActionAdmin); err != nil {
		return err
	}
	board, err := s.store.DeleteBoard(ctx, session.OrgID, boardID)
	if err != nil {
		return err
	}
	s.recordAudit(ctx, session, board.ID, store.EntityBoard, board.Title, store.ActionDelete)
	s.removeCover(ctx, board)
	return nil
}

// removeCover drops the deleted board's cover object. Best-effort: the board
// row is already gone, so a storage failure is only logged.
func (s *Service) removeCover(ctx context.Context, board store.Board) {
	if s.images == nil || board.ImageID == "" {
		return
	}
	if err := s.images.Delete(ctx, board.ImageID); err != nil {
		log.Printf("images: remove cover %s for board %s: %v", board.ImageID, board.ID, err)
	}
}

// Lists

// ListBoardContent returns the board's lists in display order, each with
// its cards in display order.
func (s *Service) ListBoardContent(ctx context.Context, session Session, boardID string) ([]map[string]any, error) {
	if err := requireAction(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	if _, err := s.store.GetBoard(ctx, session.OrgID, boardID); err != nil {
		return nil, err
	}

	lists, err := s.store.ListLists(ctx, session.OrgID, boardID)
	if err != nil {
		return nil, err
	}
	cards, err := s.store.ListCardsByBoard(ctx, session.OrgID, boardID)
	if err != nil {
		return nil, err
	}

	cardsByList := make(map[string][]map[string]any, len(lists))
	for _, card := range cards {
		cardsByList[card.ListID] = append(cardsByList[card.ListID], cardPayload(card))
	}

	items := make([]map[string]any, 0, len(lists))
	for _, list := range lists {
		payload := listPayload(list)
		nested := cardsByList[list.ID]
		if nested == nil {
			nested = []map[string]any{}
		}
		payload["cards"] = nested
		items = append(items, payload)
	}
	return items, nil
}

func (s *Service) CreateList(ctx context.Context, session Session, boardID string, input CreateListInput) (map[string]any, error) {
	if err := requireAction(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	if err := validateTitle(input.Title); err != nil {
		return nil, err
	}
	list, err := s.store.CreateList(ctx, session.OrgID, boardID, util.NewID("lst"), strings.TrimSpace(input.Title))
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, session, list.ID, store.EntityList, list.Title, store.ActionCreate)
	return listPayload(list), nil
}

func (s *Service) UpdateList(ctx context.Context, session Session, boardID, listID, title string) (map[string]any, error) {
	if err := requireAction(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	if err := validateTitle(title); err != nil {
		return nil, err
	}
	list, err := s.store.UpdateListTitle(ctx, session.OrgID, boardID, listID, strings.TrimSpace(title))
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, session, list.ID, store.EntityList, list.Title, store.ActionUpdate)
	return listPayload(list), nil
}

func (s *Service) DeleteList(ctx context.Context, session Session, boardID, listID string) (map[string]any, error) {
	if err := requireAction(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	list, err := s.store.DeleteList(ctx, session.OrgID, boardID, listID)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, session, list.ID, store.EntityList, list.Title, store.ActionDelete)
	return listPayload(list), nil
}

func (s *Service) CopyList(ctx context.Context, session Session, boardID, listID string) (map[string]any, error) {
	if err := requireAction(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	list, cards, err := s.store.CopyList(ctx, session.OrgID, boardID, listID, util.NewID("lst"), func() string { return util.NewID("crd") })
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, session, list.ID, store.EntityList, list.Title, store.ActionCreate)
	for _, card := range cards {
		s.indexCard(session, boardID, card)
	}

	payload := listPayload(list)
	nested := make([]map[string]any, 0, len(cards))
	for _, card := range cards {
		nested = append(nested, cardPayload(card))
	}
	payload["cards"] = nested
	return payload, nil
}

// ReorderLists applies the client-supplied total order of a board's lists
// in one atomic batch.
func (s *Service) ReorderLists(ctx context.Context, session Session, boardID string, items []ListOrderItem) ([]map[string]any, error) {
	if err := requireAction(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	if err := validateOrderItems(len(items)); err != nil {
		return nil, err
	}
	positions := make([]store.ListPosition, 0, len(items))
	for _, item := range items {
		if item.ID == "" {
			return nil, validationError("Every item needs an id", nil)
		}
		positions = append(positions, store.ListPosition{ID: item.ID, Order: item.Order})
	}

	lists, err := s.store.ReorderLists(ctx, session.OrgID, boardID, positions)
	if err != nil {
		return nil, err
	}
	payloads := make([]map[string]any, 0, len(lists))
	for _, list := range lists {
		payloads = append(payloads, listPayload(list))
	}
	return payloads, nil
}

// Cards

func (s *Service) GetCard(ctx context.Context, session Session, cardID string) (map[string]any, error) {
	if err := requireAction(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	card, err := s.store.GetCard(ctx, session.OrgID, cardID)
	if err != nil {
		return nil, err
	}
	payload := cardPayload(card)
	payload["listTitle"] = card.ListTitle
	return payload, nil
}

func (s *Service) CreateCard(ctx context.Context, session Session, boardID string, input CreateCardInput) (map[string]any, error) {
	if err := requireAction(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, validationError("Title is required", map[string]any{"title": "required"})
	}
	if input.ListID == "" {
		return nil, validationError("listId is required", map[string]any{"listId": "required"})
	}

	card, err := s.store.CreateCard(ctx, session.OrgID, boardID, input.ListID, util.NewID("crd"), title)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, session, card.ID, store.EntityCard, card.Title, store.ActionCreate)
	s.indexCard(session, boardID, card)
	return cardPayload(card), nil
}

func (s *Service) UpdateCard(ctx context.Context, session Session, boardID, cardID string, input UpdateCardInput) (map[string]any, error) {
	if err := requireAction(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	if input.Title == nil && input.Description == nil {
		return nil, validationError("Nothing to update", nil)
	}
	if input.Title != nil {
		if err := validateTitle(*input.Title); err != nil {
			return nil, err
		}
	}
	if input.Description != nil && len(strings.TrimSpace(*input.Description)) < 3 {
		return nil, validationError("Description is too short", map[string]any{"description": "minimum 3 characters"})
	}

	card, err := s.store.UpdateCard(ctx, session.OrgID, boardID, cardID, input.Title, input.Description)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, session, card.ID, store.EntityCard, card.Title, store.ActionUpdate)
	s.indexCard(session, boardID, card)
	return cardPayload(card), nil
}

func (s *Service) DeleteCard(ctx context.Context, session Session, boardID, cardID string) (map[string]any, error) {
	if err := requireAction(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	card, err := s.store.DeleteCard(ctx, session.OrgID, boardID, cardID)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, session, card.ID, store.EntityCard, card.Title, store.ActionDelete)
	if s.search != nil {
		s.search.DeleteCard(card.ID)
	}
	return cardPayload(card), nil
}

func (s *Service) CopyCard(ctx context.Context, session Session, boardID, cardID string) (map[string]any, error) {
	if err := requireAction(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	card, err := s.store.CopyCard(ctx, session.OrgID, boardID, cardID, util.NewID("crd"))
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, session, card.ID, store.EntityCard, card.Title, store.ActionCreate)
	s.indexCard(session, boardID, card)
	return cardPayload(card), nil
}

// ReorderCards applies the client-supplied ordering of a board's cards,
// moving cards between lists where requested, in one atomic batch.
func (s *Service) ReorderCards(ctx context.Context, session Session, boardID string, items []CardOrderItem) ([]map[string]any, error) {
	if err := requireAction(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	if err := validateOrderItems(len(items)); err != nil {
		return nil, err
	}
	positions := make([]store.CardPosition, 0, len(items))
	for _, item := range items {
		if item.ID == "" || item.ListID == "" {
			return nil, validationError("Every item needs an id and a listId", nil)
		}
		positions = append(positions, store.CardPosition{ID: item.ID, Order: item.Order, ListID: item.ListID})
	}

	cards, err := s.store.ReorderCards(ctx, session.OrgID, boardID, positions)
	if err != nil {
		return nil, err
	}
	payloads := make([]map[string]any, 0, len(cards))
	for _, card := range cards {
		payloads = append(payloads, cardPayload(card))
	}
	return payloads, nil
}

// Audit log

// CardAuditLog returns the most recent entries for one card, newest first.
func (s *Service) CardAuditLog(ctx context.Context, session Session, cardID string) ([]map[string]any, error) {
	if err := requireAction(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	entries, err := s.store.ListCardAuditLog(ctx, session.OrgID, cardID, 3)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		items = append(items, map[string]any{
			"id":          entry.ID,
			"orgId":       entry.OrgID,
			"entityId":    entry.EntityID,
			"entityType":  entry.EntityType,
			"entityTitle": entry.EntityTitle,
			"action":      entry.Action,
			"userId":      entry.UserID,
			"userName":    entry.UserName,
			"userImage":   entry.UserImage,
			"createdAt":   entry.CreatedAt,
		})
	}
	return items, nil
}

// recordAudit appends one audit entry after a successful mutation. It is
// best-effort: a missing actor or a storage failure is logged and swallowed
// so the primary mutation's outcome never changes.
func (s *Service) recordAudit(ctx context.Context, session Session, entityID, entityType, entityTitle, action string) {
	if session.UserID == "" || session.OrgID == "" {
		log.Printf("audit: missing actor context for %s %s %s", action, entityType, entityID)
		return
	}
	entry := store.AuditLogEntry{
		ID:          util.NewID("alg"),
		OrgID:       session.OrgID,
		EntityID:    entityID,
		EntityType:  entityType,
		EntityTitle: entityTitle,
		Action:      action,
		UserID:      session.UserID,
		UserName:    session.UserName,
		UserImage:   session.UserImage,
	}
	if err := s.store.InsertAuditLog(ctx, entry); err != nil {
		log.Printf("audit: record %s %s %s: %v", action, entityType, entityID, err)
	}
}

// Search

func (s *Service) SearchCards(ctx context.Context, session Session, text string, limit, offset int) (search.Response, error) {
	if err := requireAction(session, rbac.ActionRead); err != nil {
		return search.Response{}, err
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(search.Query{
		Text:   text,
		OrgID:  session.OrgID,
		Limit:  limit,
		Offset: offset,
	}), nil
}

func (s *Service) indexCard(session Session, boardID string, card store.Card) {
	if s.search == nil {
		return
	}
	s.search.IndexCard(search.CardRecord{
		ID:          card.ID,
		Title:       card.Title,
		Description: card.Description,
		ListID:      card.ListID,
		ListTitle:   card.ListTitle,
		BoardID:     boardID,
		OrgID:       session.OrgID,
	})
}

// Validation and payload helpers

func validateTitle(title string) error {
	if len(strings.TrimSpace(title)) < 3 {
		return validationError("Title is too short", map[string]any{"title": "minimum 3 characters"})
	}
	return nil
}

func validateOrderItems(count int) error {
	if count == 0 {
		return validationError("Items are required", map[string]any{"items": "at least one item"})
	}
	return nil
}

func boardPayload(board store.Board) map[string]any {
	return map[string]any{
		"id":    board.ID,
		"orgId": board.OrgID,
		"title": board.Title,
		"image": map[string]any{
			"id":       board.ImageID,
			"thumbUrl": board.ImageThumbURL,
			"fullUrl":  board.ImageFullURL,
			"linkHtml": board.ImageLinkHTML,
			"userName": board.ImageUserName,
		},
		"createdAt": board.CreatedAt,
		"updatedAt": board.UpdatedAt,
	}
}

func listPayload(list store.List) map[string]any {
	return map[string]any{
		"id":        list.ID,
		"boardId":   list.BoardID,
		"title":     list.Title,
		"order":     list.Order,
		"createdAt": list.CreatedAt,
		"updatedAt": list.UpdatedAt,
	}
}

func cardPayload(card store.Card) map[string]any {
	return map[string]any{
		"id":          card.ID,
		"listId":      card.ListID,
		"title":       card.Title,
		"description": card.Description,
		"order":       card.Order,
		"createdAt":   card.CreatedAt,
		"updatedAt":   card.UpdatedAt,
	}
}

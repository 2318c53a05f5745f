package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"taskdeck/api/internal/store"
)

func TestListBoardsReturnsEnvelope(t *testing.T) {
	fs := &fakeStore{
		listBoardsFn: func(_ context.Context, orgID string) ([]store.Board, error) {
			if orgID != "org_1" {
				t.Fatalf("expected query scoped to session org, got %q", orgID)
			}
			return []store.Board{{ID: "brd_1", OrgID: orgID, Title: "Roadmap"}}, nil
		},
	}
	server, token := newAuthedServer(t, fs)

	req := httptest.NewRequest(http.MethodGet, "/api/boards", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload struct {
		Boards []map[string]any `json:"boards"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if len(payload.Boards) != 1 || payload.Boards[0]["title"] != "Roadmap" {
		t.Fatalf("expected one board in envelope, got %v", payload.Boards)
	}
}

func TestGetForeignBoardReturnsNotFound(t *testing.T) {
	server, token := newAuthedServer(t, &fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/boards/brd_foreign", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if payload["code"] != "NOT_FOUND" {
		t.Fatalf("expected code NOT_FOUND, got %v", payload["code"])
	}
}

func TestCreateBoardRejectsShortTitle(t *testing.T) {
	server, token := newAuthedServer(t, &fakeStore{})

	req := httptest.NewRequest(http.MethodPost, "/api/boards", bytes.NewBufferString(`{"title":"ab"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("expected code VALIDATION_ERROR, got %v", payload["code"])
	}
}

func TestDeleteBoardReturnsOK(t *testing.T) {
	deleted := false
	fs := &fakeStore{
		deleteBoardFn: func(_ context.Context, orgID, boardID string) (store.Board, error) {
			deleted = true
			return store.Board{ID: boardID, OrgID: orgID, Title: "Roadmap"}, nil
		},
	}
	server, token := newAuthedServer(t, fs)

	req := httptest.NewRequest(http.MethodDelete, "/api/boards/brd_1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if !deleted {
		t.Fatalf("expected board delete to reach the store")
	}
}

func TestDeleteBoardRequiresAdminRole(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, DisplayName: "Avery"}, nil
		},
		getMembershipFn: func(_ context.Context, userID, orgID string) (store.Membership, error) {
			return store.Membership{UserID: userID, OrgID: orgID, Role: "member"}, nil
		},
	}
	svc := newTestService(fs)
	issued, err := svc.issueSession(context.Background(), store.User{ID: "usr_1"}, store.Membership{OrgID: "org_1", Role: "member"})
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodDelete, "/api/boards/brd_1", nil)
	req.Header.Set("Authorization", "Bearer "+issued.Token)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestBoardListsEndpointNestsCards(t *testing.T) {
	fs := &fakeStore{
		getBoardFn: func(_ context.Context, orgID, boardID string) (store.Board, error) {
			return store.Board{ID: boardID, OrgID: orgID}, nil
		},
		listListsFn: func(context.Context, string, string) ([]store.List, error) {
			return []store.List{{ID: "lst_1", BoardID: "brd_1", Title: "Todo", Order: 1}}, nil
		},
		listCardsByBoardFn: func(context.Context, string, string) ([]store.Card, error) {
			return []store.Card{{ID: "crd_1", ListID: "lst_1", Title: "Ship", Order: 1}}, nil
		},
	}
	server, token := newAuthedServer(t, fs)

	req := httptest.NewRequest(http.MethodGet, "/api/boards/brd_1/lists", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload struct {
		Lists []struct {
			ID    string           `json:"id"`
			Cards []map[string]any `json:"cards"`
		} `json:"lists"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if len(payload.Lists) != 1 || len(payload.Lists[0].Cards) != 1 {
		t.Fatalf("expected nested cards, got %s", rr.Body.String())
	}
}

func TestReorderListsEndpoint(t *testing.T) {
	var received []store.ListPosition
	fs := &fakeStore{
		reorderListsFn: func(_ context.Context, orgID, boardID string, items []store.ListPosition) ([]store.List, error) {
			received = items
			lists := make([]store.List, 0, len(items))
			for _, item := range items {
				lists = append(lists, store.List{ID: item.ID, BoardID: boardID, Order: item.Order})
			}
			return lists, nil
		},
	}
	server, token := newAuthedServer(t, fs)

	body := `{"items":[{"id":"lst_2","order":1},{"id":"lst_1","order":2}]}`
	req := httptest.NewRequest(http.MethodPut, "/api/boards/brd_1/lists/order", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if len(received) != 2 || received[0].ID != "lst_2" || received[0].Order != 1 {
		t.Fatalf("expected batch forwarded in request order, got %+v", received)
	}
}

func TestReorderCardsWithForeignCardReturnsNotFound(t *testing.T) {
	fs := &fakeStore{
		reorderCardsFn: func(context.Context, string, string, []store.CardPosition) ([]store.Card, error) {
			return nil, sql.ErrNoRows
		},
	}
	server, token := newAuthedServer(t, fs)

	body := `{"items":[{"id":"crd_foreign","order":1,"listId":"lst_1"}]}`
	req := httptest.NewRequest(http.MethodPut, "/api/boards/brd_1/cards/order", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestCreateCardEndpoint(t *testing.T) {
	fs := &fakeStore{
		createCardFn: func(_ context.Context, orgID, boardID, listID, cardID, title string) (store.Card, error) {
			return store.Card{ID: cardID, ListID: listID, Title: title, Order: 4}, nil
		},
	}
	server, token := newAuthedServer(t, fs)

	req := httptest.NewRequest(http.MethodPost, "/api/boards/brd_1/cards", bytes.NewBufferString(`{"listId":"lst_1","title":"Ship it"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if payload["title"] != "Ship it" || payload["order"] != float64(4) {
		t.Fatalf("expected created card payload, got %v", payload)
	}
}

func TestCopyCardEndpoint(t *testing.T) {
	fs := &fakeStore{
		copyCardFn: func(_ context.Context, orgID, boardID, cardID, newCardID string) (store.Card, error) {
			return store.Card{ID: newCardID, ListID: "lst_1", Title: "Ship it - Copy", Order: 5}, nil
		},
	}
	server, token := newAuthedServer(t, fs)

	req := httptest.NewRequest(http.MethodPost, "/api/boards/brd_1/cards/crd_1/copy", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if payload["title"] != "Ship it - Copy" {
		t.Fatalf("expected copy suffix, got %v", payload["title"])
	}
}

func TestCardAuditEndpointReturnsEntries(t *testing.T) {
	fs := &fakeStore{
		listCardAuditLogFn: func(_ context.Context, orgID, cardID string, limit int) ([]store.AuditLogEntry, error) {
			if limit != 3 {
				t.Fatalf("expected limit 3, got %d", limit)
			}
			return []store.AuditLogEntry{
				{ID: "alg_2", EntityID: cardID, EntityType: store.EntityCard, Action: store.ActionUpdate, UserName: "Avery"},
				{ID: "alg_1", EntityID: cardID, EntityType: store.EntityCard, Action: store.ActionCreate, UserName: "Avery"},
			}, nil
		},
	}
	server, token := newAuthedServer(t, fs)

	req := httptest.NewRequest(http.MethodGet, "/api/cards/crd_1/audit", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload struct {
		Entries []map[string]any `json:"entries"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if len(payload.Entries) != 2 || payload.Entries[0]["action"] != store.ActionUpdate {
		t.Fatalf("expected newest-first entries, got %v", payload.Entries)
	}
}

func TestGetCardIncludesListTitle(t *testing.T) {
	fs := &fakeStore{
		getCardFn: func(_ context.Context, orgID, cardID string) (store.Card, error) {
			return store.Card{ID: cardID, ListID: "lst_1", Title: "Ship", ListTitle: "Doing"}, nil
		},
	}
	server, token := newAuthedServer(t, fs)

	req := httptest.NewRequest(http.MethodGet, "/api/cards/crd_1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if payload["listTitle"] != "Doing" {
		t.Fatalf("expected listTitle in payload, got %v", payload)
	}
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"

	"taskdeck/api/internal/util"
)

func seedBoard(t *testing.T, s *PostgresStore, orgID string) Board {
	t.Helper()
	board, err := s.InsertBoard(context.Background(), Board{
		ID:    util.NewID("brd"),
		OrgID: orgID,
		Title: "Integration board",
	})
	if err != nil {
		t.Fatalf("insert board: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(context.Background(), `DELETE FROM boards WHERE id = $1`, board.ID)
	})
	return board
}

func TestCreateListAssignsDensePositions(t *testing.T) {
	db := openTestDB(t)
	s := NewPostgresStore(db)
	board := seedBoard(t, s, "org-int-1")

	ctx := context.Background()
	first, err := s.CreateList(ctx, board.OrgID, board.ID, util.NewID("lst"), "Todo")
	if err != nil {
		t.Fatalf("create first list: %v", err)
	}
	second, err := s.CreateList(ctx, board.OrgID, board.ID, util.NewID("lst"), "Doing")
	if err != nil {
		t.Fatalf("create second list: %v", err)
	}

	if first.Order != 1 || second.Order != 2 {
		t.Fatalf("expected positions 1 and 2, got %d and %d", first.Order, second.Order)
	}
}

func TestConcurrentListCreatesCommitDistinctPositions(t *testing.T) {
	db := openTestDB(t)
	s := NewPostgresStore(db)
	board := seedBoard(t, s, "org-int-7")

	// All workers read the same tail; the deferred unique constraint rejects
	// the losers at commit and the retry recomputes.
	ctx := context.Background()
	const workers = 4
	lists := make(chan List, workers)
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			list, err := s.CreateList(ctx, board.OrgID, board.ID, util.NewID("lst"), fmt.Sprintf("Lane %d", i))
			if err != nil {
				errs <- err
				return
			}
			lists <- list
		}(i)
	}
	wg.Wait()
	close(lists)
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent create list: %v", err)
	}

	seen := make(map[int]bool, workers)
	for list := range lists {
		if seen[list.Order] {
			t.Fatalf("two lists committed at position %d", list.Order)
		}
		seen[list.Order] = true
	}
	for want := 1; want <= workers; want++ {
		if !seen[want] {
			t.Fatalf("expected dense positions 1..%d, missing %d", workers, want)
		}
	}
}

func TestCreateListInForeignOrgIsNotFound(t *testing.T) {
	db := openTestDB(t)
	s := NewPostgresStore(db)
	board := seedBoard(t, s, "org-int-owner")

	_, err := s.CreateList(context.Background(), "org-int-other", board.ID, util.NewID("lst"), "Sneaky")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected not-found for foreign tenant, got %v", err)
	}
}

func TestReorderListsSwapsAtomically(t *testing.T) {
	db := openTestDB(t)
	s := NewPostgresStore(db)
	board := seedBoard(t, s, "org-int-2")

	ctx := context.Background()
	a, err := s.CreateList(ctx, board.OrgID, board.ID, util.NewID("lst"), "First")
	if err != nil {
		t.Fatalf("create list: %v", err)
	}
	b, err := s.CreateList(ctx, board.OrgID, board.ID, util.NewID("lst"), "Second")
	if err != nil {
		t.Fatalf("create list: %v", err)
	}

	// Swapping passes through a duplicate position mid-transaction; the
	// deferred unique constraint must allow it.
	lists, err := s.ReorderLists(ctx, board.OrgID, board.ID, []ListPosition{
		{ID: a.ID, Order: 2},
		{ID: b.ID, Order: 1},
	})
	if err != nil {
		t.Fatalf("reorder lists: %v", err)
	}
	if len(lists) != 2 {
		t.Fatalf("expected 2 updated lists, got %d", len(lists))
	}

	reloaded, err := s.ListLists(ctx, board.OrgID, board.ID)
	if err != nil {
		t.Fatalf("list lists: %v", err)
	}
	if reloaded[0].ID != b.ID || reloaded[1].ID != a.ID {
		t.Fatalf("expected swapped order, got %v then %v", reloaded[0].Title, reloaded[1].Title)
	}
}

func TestReorderListsAbortsWhenForeignRowIncluded(t *testing.T) {
	db := openTestDB(t)
	s := NewPostgresStore(db)
	board := seedBoard(t, s, "org-int-3")
	foreignBoard := seedBoard(t, s, "org-int-3-other")

	ctx := context.Background()
	mine, err := s.CreateList(ctx, board.OrgID, board.ID, util.NewID("lst"), "Mine")
	if err != nil {
		t.Fatalf("create list: %v", err)
	}
	foreign, err := s.CreateList(ctx, foreignBoard.OrgID, foreignBoard.ID, util.NewID("lst"), "Foreign")
	if err != nil {
		t.Fatalf("create foreign list: %v", err)
	}

	_, err = s.ReorderLists(ctx, board.OrgID, board.ID, []ListPosition{
		{ID: mine.ID, Order: 2},
		{ID: foreign.ID, Order: 1},
	})
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected batch abort on foreign row, got %v", err)
	}

	// The valid row must not have been moved.
	reloaded, err := s.ListLists(ctx, board.OrgID, board.ID)
	if err != nil {
		t.Fatalf("list lists: %v", err)
	}
	if reloaded[0].Order != mine.Order {
		t.Fatalf("expected position unchanged after aborted batch, got %d", reloaded[0].Order)
	}
}

func TestReorderCardsMovesAcrossLists(t *testing.T) {
	db := openTestDB(t)
	s := NewPostgresStore(db)
	board := seedBoard(t, s, "org-int-4")

	ctx := context.Background()
	src, err := s.CreateList(ctx, board.OrgID, board.ID, util.NewID("lst"), "Todo")
	if err != nil {
		t.Fatalf("create source list: %v", err)
	}
	dst, err := s.CreateList(ctx, board.OrgID, board.ID, util.NewID("lst"), "Done")
	if err != nil {
		t.Fatalf("create destination list: %v", err)
	}
	card, err := s.CreateCard(ctx, board.OrgID, board.ID, src.ID, util.NewID("crd"), "Ship it")
	if err != nil {
		t.Fatalf("create card: %v", err)
	}

	moved, err := s.ReorderCards(ctx, board.OrgID, board.ID, []CardPosition{
		{ID: card.ID, Order: 1, ListID: dst.ID},
	})
	if err != nil {
		t.Fatalf("reorder cards: %v", err)
	}
	if len(moved) != 1 || moved[0].ListID != dst.ID {
		t.Fatalf("expected card moved to destination list, got %+v", moved)
	}
}

func TestReorderCardsToListOnAnotherBoardAborts(t *testing.T) {
	db := openTestDB(t)
	s := NewPostgresStore(db)
	board := seedBoard(t, s, "org-int-9")
	sibling := seedBoard(t, s, "org-int-9")

	ctx := context.Background()
	src, err := s.CreateList(ctx, board.OrgID, board.ID, util.NewID("lst"), "Todo")
	if err != nil {
		t.Fatalf("create source list: %v", err)
	}
	elsewhere, err := s.CreateList(ctx, sibling.OrgID, sibling.ID, util.NewID("lst"), "Elsewhere")
	if err != nil {
		t.Fatalf("create list on sibling board: %v", err)
	}
	card, err := s.CreateCard(ctx, board.OrgID, board.ID, src.ID, util.NewID("crd"), "Stay put")
	if err != nil {
		t.Fatalf("create card: %v", err)
	}

	// Destination list belongs to another board of the same org; the whole
	// batch must abort.
	_, err = s.ReorderCards(ctx, board.OrgID, board.ID, []CardPosition{
		{ID: card.ID, Order: 1, ListID: elsewhere.ID},
	})
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected abort for cross-board destination, got %v", err)
	}

	reloaded, err := s.GetCard(ctx, board.OrgID, card.ID)
	if err != nil {
		t.Fatalf("get card: %v", err)
	}
	if reloaded.ListID != src.ID || reloaded.Order != card.Order {
		t.Fatalf("expected card untouched after aborted move, got list %q position %d", reloaded.ListID, reloaded.Order)
	}
}

func TestCopyListClonesCardsInOrder(t *testing.T) {
	db := openTestDB(t)
	s := NewPostgresStore(db)
	board := seedBoard(t, s, "org-int-5")

	ctx := context.Background()
	list, err := s.CreateList(ctx, board.OrgID, board.ID, util.NewID("lst"), "Doing")
	if err != nil {
		t.Fatalf("create list: %v", err)
	}
	for _, title := range []string{"One", "Two", "Three"} {
		if _, err := s.CreateCard(ctx, board.OrgID, board.ID, list.ID, util.NewID("crd"), title); err != nil {
			t.Fatalf("create card %s: %v", title, err)
		}
	}

	copied, cards, err := s.CopyList(ctx, board.OrgID, board.ID, list.ID, util.NewID("lst"), func() string { return util.NewID("crd") })
	if err != nil {
		t.Fatalf("copy list: %v", err)
	}
	if copied.Title != "Doing - Copy" {
		t.Fatalf("expected copy suffix, got %q", copied.Title)
	}
	if fetched, err := s.GetList(ctx, board.OrgID, board.ID, copied.ID); err != nil || fetched.Title != copied.Title {
		t.Fatalf("expected copied list retrievable, got %+v err=%v", fetched, err)
	}
	if copied.Order != list.Order+1 {
		t.Fatalf("expected copy appended after original, got position %d", copied.Order)
	}
	if len(cards) != 3 {
		t.Fatalf("expected 3 cloned cards, got %d", len(cards))
	}
	for i, card := range cards {
		if card.Order != i+1 {
			t.Fatalf("expected cloned card %d at position %d, got %d", i, i+1, card.Order)
		}
		if card.ListID != copied.ID {
			t.Fatalf("expected cloned card in new list, got %q", card.ListID)
		}
	}
}

func TestGetBoardFromForeignOrgIsNotFound(t *testing.T) {
	db := openTestDB(t)
	s := NewPostgresStore(db)
	board := seedBoard(t, s, "org-int-6")

	if _, err := s.GetBoard(context.Background(), "org-int-6-other", board.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected not-found for foreign org, got %v", err)
	}
}

package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vkomlev/LMS/internal/data/repos/queue"
	"github.com/vkomlev/LMS/internal/data/repos/testutil"
	types "github.com/vkomlev/LMS/internal/domain"
	"github.com/vkomlev/LMS/internal/pkg/dbctx"
)

func seedOpenRequest(t *testing.T, dbc dbctx.Context, repo queue.HelpRequestRepo, studentID, taskID uuid.UUID, priority int, dueAt *time.Time) *types.HelpRequest {
	t.Helper()
	req, err := repo.Create(dbc, &types.HelpRequest{
		ID:        uuid.New(),
		Status:    types.HelpRequestStatusOpen,
		StudentID: studentID,
		TaskID:    taskID,
		Priority:  priority,
		DueAt:     dueAt,
	})
	if err != nil {
		t.Fatalf("seed help request: %v", err)
	}
	return req
}

func TestClaimNextOpenOrdering(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := queue.NewHelpRequestRepo(db, testutil.Logger(t))

	student := testutil.SeedUser(t, tx)
	task := testutil.SeedTask(t, tx, nil, 10)

	now := time.Now().UTC()
	soon := now.Add(10 * time.Minute)
	later := now.Add(2 * time.Hour)

	noDue := seedOpenRequest(t, dbc, repo, student.ID, task.ID, 100, nil)
	dueSoon := seedOpenRequest(t, dbc, repo, student.ID, task.ID, 100, &soon)
	dueLater := seedOpenRequest(t, dbc, repo, student.ID, task.ID, 100, &later)
	urgent := seedOpenRequest(t, dbc, repo, student.ID, task.ID, 50, nil)

	teacher := uuid.New()
	want := []uuid.UUID{urgent.ID, dueSoon.ID, dueLater.ID, noDue.ID}
	for i, expected := range want {
		claimed, err := repo.ClaimNextOpen(dbc, teacher, queue.ClaimFilter{}, uuid.NewString(), 15*time.Minute, now)
		if err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if claimed == nil || claimed.ID != expected {
			t.Fatalf("claim %d: expected %s, got %+v", i, expected, claimed)
		}
	}

	claimed, err := repo.ClaimNextOpen(dbc, teacher, queue.ClaimFilter{}, uuid.NewString(), 15*time.Minute, now)
	if err != nil {
		t.Fatalf("empty claim: %v", err)
	}
	if claimed != nil {
		t.Fatalf("expected empty queue, got %+v", claimed)
	}
}

func TestClaimNextOpenSkipsLiveAndReclaimsExpired(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := queue.NewHelpRequestRepo(db, testutil.Logger(t))

	student := testutil.SeedUser(t, tx)
	task := testutil.SeedTask(t, tx, nil, 10)

	now := time.Now().UTC()
	req := seedOpenRequest(t, dbc, repo, student.ID, task.ID, 100, nil)

	first := uuid.New()
	claimed, err := repo.ClaimNextOpen(dbc, first, queue.ClaimFilter{}, uuid.NewString(), 15*time.Minute, now)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed == nil || claimed.ID != req.ID {
		t.Fatalf("expected %s, got %+v", req.ID, claimed)
	}

	// A live claim hides the row from other teachers.
	second := uuid.New()
	claimed, err = repo.ClaimNextOpen(dbc, second, queue.ClaimFilter{}, uuid.NewString(), 15*time.Minute, now)
	if err != nil {
		t.Fatalf("claim against live: %v", err)
	}
	if claimed != nil {
		t.Fatalf("live claim must not be retaken, got %+v", claimed)
	}

	// Once expired it is claimable again.
	claimed, err = repo.ClaimNextOpen(dbc, second, queue.ClaimFilter{}, uuid.NewString(), 15*time.Minute, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("claim after expiry: %v", err)
	}
	if claimed == nil || claimed.ID != req.ID {
		t.Fatalf("expected expired claim to be retaken, got %+v", claimed)
	}
}

func TestClaimNextOpenFilter(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := queue.NewHelpRequestRepo(db, testutil.Logger(t))

	student := testutil.SeedUser(t, tx)
	courseA := testutil.SeedCourse(t, tx, "Course A")
	courseB := testutil.SeedCourse(t, tx, "Course B")
	task := testutil.SeedTask(t, tx, &courseA.ID, 10)
	teacher := uuid.New()
	now := time.Now().UTC()

	// The blocked-limit ticket is more urgent, but a manual-help filter must
	// skip past it.
	blocked, err := repo.Create(dbc, &types.HelpRequest{
		ID:          uuid.New(),
		Status:      types.HelpRequestStatusOpen,
		RequestType: types.HelpRequestTypeBlockedLimit,
		AutoCreated: true,
		StudentID:   student.ID,
		TaskID:      task.ID,
		CourseID:    &courseA.ID,
		Priority:    50,
	})
	if err != nil {
		t.Fatalf("seed blocked: %v", err)
	}
	manual, err := repo.Create(dbc, &types.HelpRequest{
		ID:          uuid.New(),
		Status:      types.HelpRequestStatusOpen,
		RequestType: types.HelpRequestTypeManualHelp,
		StudentID:   student.ID,
		TaskID:      task.ID,
		CourseID:    &courseB.ID,
		Priority:    100,
	})
	if err != nil {
		t.Fatalf("seed manual: %v", err)
	}

	manualType := types.HelpRequestTypeManualHelp
	claimed, err := repo.ClaimNextOpen(dbc, teacher, queue.ClaimFilter{RequestType: &manualType}, uuid.NewString(), 15*time.Minute, now)
	if err != nil {
		t.Fatalf("claim by type: %v", err)
	}
	if claimed == nil || claimed.ID != manual.ID {
		t.Fatalf("expected manual request %s, got %+v", manual.ID, claimed)
	}

	claimed, err = repo.ClaimNextOpen(dbc, teacher, queue.ClaimFilter{CourseID: &courseA.ID}, uuid.NewString(), 15*time.Minute, now)
	if err != nil {
		t.Fatalf("claim by course: %v", err)
	}
	if claimed == nil || claimed.ID != blocked.ID {
		t.Fatalf("expected course-A request %s, got %+v", blocked.ID, claimed)
	}

	// Nothing matches both remaining filters now.
	claimed, err = repo.ClaimNextOpen(dbc, teacher, queue.ClaimFilter{RequestType: &manualType, CourseID: &courseA.ID}, uuid.NewString(), 15*time.Minute, now)
	if err != nil {
		t.Fatalf("claim with both filters: %v", err)
	}
	if claimed != nil {
		t.Fatalf("expected empty claim, got %+v", claimed)
	}
}

func TestFindRecentOpenDuplicate(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := queue.NewHelpRequestRepo(db, testutil.Logger(t))

	student := testutil.SeedUser(t, tx)
	task := testutil.SeedTask(t, tx, nil, 10)

	now := time.Now().UTC()
	since := now.Add(-5 * time.Minute)

	msg := "stuck on step 2"
	withMsg, err := repo.Create(dbc, &types.HelpRequest{
		ID:        uuid.New(),
		Status:    types.HelpRequestStatusOpen,
		StudentID: student.ID,
		TaskID:    task.ID,
		Message:   &msg,
		Priority:  100,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, err := repo.FindRecentOpenDuplicate(dbc, student.ID, task.ID, &msg, since)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got == nil || got.ID != withMsg.ID {
		t.Fatalf("expected duplicate %s, got %+v", withMsg.ID, got)
	}

	// A different message is not a duplicate, and neither is a nil one.
	other := "different question"
	if got, err = repo.FindRecentOpenDuplicate(dbc, student.ID, task.ID, &other, since); err != nil || got != nil {
		t.Fatalf("expected no duplicate for other message, got %+v err %v", got, err)
	}
	if got, err = repo.FindRecentOpenDuplicate(dbc, student.ID, task.ID, nil, since); err != nil || got != nil {
		t.Fatalf("expected no duplicate for nil message, got %+v err %v", got, err)
	}
}

func TestReplyIdempotencyKey(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := queue.NewHelpRequestRepo(db, testutil.Logger(t))

	student := testutil.SeedUser(t, tx)
	task := testutil.SeedTask(t, tx, nil, 10)
	req := seedOpenRequest(t, dbc, repo, student.ID, task.ID, 100, nil)

	key := uuid.NewString()
	teacher := uuid.New()
	reply, err := repo.CreateReply(dbc, &types.HelpRequestReply{
		ID:             uuid.New(),
		HelpRequestID:  req.ID,
		TeacherID:      teacher,
		Body:           "try factoring first",
		IdempotencyKey: &key,
	})
	if err != nil {
		t.Fatalf("create reply: %v", err)
	}

	got, err := repo.GetReplyByIdempotencyKey(dbc, req.ID, key)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got == nil || got.ID != reply.ID {
		t.Fatalf("expected reply %s, got %+v", reply.ID, got)
	}

	got, err = repo.GetReplyByIdempotencyKey(dbc, req.ID, uuid.NewString())
	if err != nil {
		t.Fatalf("miss lookup: %v", err)
	}
	if got != nil {
		t.Fatalf("expected miss for unknown key, got %+v", got)
	}

	replies, err := repo.ListReplies(dbc, req.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(replies) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(replies))
	}
}

package courses_test

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/vkomlev/LMS/internal/data/repos/courses"
	"github.com/vkomlev/LMS/internal/data/repos/testutil"
	types "github.com/vkomlev/LMS/internal/domain"
	"github.com/vkomlev/LMS/internal/pkg/dbctx"
)

func addEdge(t *testing.T, dbc dbctx.Context, repo courses.CourseRepo, childID, parentID uuid.UUID, order *int) {
	t.Helper()
	err := repo.AddParentEdge(dbc, &types.CourseParent{
		CourseID:       childID,
		ParentCourseID: parentID,
		OrderNumber:    order,
	})
	if err != nil {
		t.Fatalf("add edge %s -> %s: %v", childID, parentID, err)
	}
}

func TestListChildrenOrdering(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := courses.NewCourseRepo(db, testutil.Logger(t))

	parent := testutil.SeedCourse(t, tx, "Mathematics")
	algebra := testutil.SeedCourse(t, tx, "Algebra")
	geometry := testutil.SeedCourse(t, tx, "Geometry")
	extra := testutil.SeedCourse(t, tx, "Extra Reading")

	addEdge(t, dbc, repo, geometry.ID, parent.ID, testutil.PtrInt(2))
	addEdge(t, dbc, repo, algebra.ID, parent.ID, testutil.PtrInt(1))
	addEdge(t, dbc, repo, extra.ID, parent.ID, nil)

	children, err := repo.ListChildren(dbc, parent.ID)
	if err != nil {
		t.Fatalf("list children: %v", err)
	}
	if len(children) != 3 {
		t.Fatalf("expected 3 children, got %d", len(children))
	}
	if children[0].ID != algebra.ID || children[1].ID != geometry.ID || children[2].ID != extra.ID {
		t.Fatalf("wrong order: %s %s %s", children[0].Title, children[1].Title, children[2].Title)
	}

	removed, err := repo.RemoveParentEdge(dbc, geometry.ID, parent.ID)
	if err != nil || !removed {
		t.Fatalf("remove edge: removed=%v err=%v", removed, err)
	}
	removed, err = repo.RemoveParentEdge(dbc, geometry.ID, parent.ID)
	if err != nil || removed {
		t.Fatalf("expected second remove to be a noop, removed=%v err=%v", removed, err)
	}
}

func TestIsDescendant(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := courses.NewCourseRepo(db, testutil.Logger(t))

	root := testutil.SeedCourse(t, tx, "Root")
	mid := testutil.SeedCourse(t, tx, "Mid")
	leaf := testutil.SeedCourse(t, tx, "Leaf")
	stranger := testutil.SeedCourse(t, tx, "Stranger")

	addEdge(t, dbc, repo, mid.ID, root.ID, nil)
	addEdge(t, dbc, repo, leaf.ID, mid.ID, nil)

	cases := []struct {
		name      string
		rootID    uuid.UUID
		candidate uuid.UUID
		want      bool
	}{
		{"direct child", root.ID, mid.ID, true},
		{"transitive", root.ID, leaf.ID, true},
		{"reversed", leaf.ID, root.ID, false},
		{"unrelated", root.ID, stranger.ID, false},
	}
	for _, tc := range cases {
		got, err := repo.IsDescendant(dbc, tc.rootID, tc.candidate)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestDependencies(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := courses.NewCourseRepo(db, testutil.Logger(t))

	course := testutil.SeedCourse(t, tx, "Calculus")
	reqA := testutil.SeedCourse(t, tx, "Algebra")
	reqB := testutil.SeedCourse(t, tx, "Trigonometry")

	dep := &types.CourseDependency{CourseID: course.ID, RequiredCourseID: reqA.ID}
	if err := repo.AddDependency(dbc, dep); err != nil {
		t.Fatalf("add: %v", err)
	}
	// Re-adding the same pair is a noop, not an error.
	if err := repo.AddDependency(dbc, dep); err != nil {
		t.Fatalf("re-add: %v", err)
	}

	deps, err := repo.ListDependencies(dbc, course.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(deps) != 1 {
		t.Fatalf("expected 1 dependency, got %d", len(deps))
	}

	if err := repo.ReplaceDependencies(dbc, course.ID, []uuid.UUID{reqB.ID}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	deps, err = repo.ListDependencies(dbc, course.ID)
	if err != nil {
		t.Fatalf("list after replace: %v", err)
	}
	if len(deps) != 1 || deps[0].RequiredCourseID != reqB.ID {
		t.Fatalf("expected only %s after replace, got %+v", reqB.ID, deps)
	}

	removed, err := repo.RemoveDependency(dbc, course.ID, reqB.ID)
	if err != nil || !removed {
		t.Fatalf("remove: removed=%v err=%v", removed, err)
	}
	removed, err = repo.RemoveDependency(dbc, course.ID, reqB.ID)
	if err != nil || removed {
		t.Fatalf("expected second remove to be a noop, removed=%v err=%v", removed, err)
	}
}

func TestUserCourses(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := courses.NewCourseRepo(db, testutil.Logger(t))

	user := testutil.SeedUser(t, tx)
	first := testutil.SeedCourse(t, tx, "First")
	second := testutil.SeedCourse(t, tx, "Second")
	skipped := testutil.SeedCourse(t, tx, "Paused")

	for _, uc := range []*types.UserCourse{
		{UserID: user.ID, CourseID: second.ID, IsActive: true, OrderNumber: 2},
		{UserID: user.ID, CourseID: first.ID, IsActive: true, OrderNumber: 1},
		{UserID: user.ID, CourseID: skipped.ID, IsActive: false, OrderNumber: 0},
	} {
		if err := repo.UpsertUserCourse(dbc, uc); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	list, err := repo.ListUserCourses(dbc, user.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 active courses, got %d", len(list))
	}
	if list[0].CourseID != first.ID || list[1].CourseID != second.ID {
		t.Fatalf("wrong plan order: %+v", list)
	}
}

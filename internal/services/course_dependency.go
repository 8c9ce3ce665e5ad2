package services

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vkomlev/LMS/internal/data/repos/courses"
	"github.com/vkomlev/LMS/internal/data/serial"
	types "github.com/vkomlev/LMS/internal/domain"
	"github.com/vkomlev/LMS/internal/pkg/dbctx"
	"github.com/vkomlev/LMS/internal/pkg/logger"
)

type CourseDependencyService interface {
	AddParent(ctx context.Context, courseID, parentID uuid.UUID, orderNumber *int) (*types.CourseParent, error)
	RemoveParent(ctx context.Context, courseID, parentID uuid.UUID) error
	AddDependency(ctx context.Context, courseID, requiredID uuid.UUID) error
	BulkSetDependencies(ctx context.Context, courseID uuid.UUID, requiredIDs []uuid.UUID) error
	RemoveDependency(ctx context.Context, courseID, requiredID uuid.UUID) error
	ListDependencies(ctx context.Context, courseID uuid.UUID) ([]*types.CourseDependency, error)
	SubtreeInOrder(ctx context.Context, courseID uuid.UUID) ([]*types.Course, error)
}

type courseDependencyService struct {
	db          *gorm.DB
	log         *logger.Logger
	coordinator *serial.Coordinator
	courseRepo  courses.CourseRepo
}

func NewCourseDependencyService(
	db *gorm.DB,
	baseLog *logger.Logger,
	coordinator *serial.Coordinator,
	courseRepo courses.CourseRepo,
) CourseDependencyService {
	return &courseDependencyService{
		db:          db,
		log:         baseLog.With("service", "CourseDependencyService"),
		coordinator: coordinator,
		courseRepo:  courseRepo,
	}
}

// AddParent attaches courseID under parentID. The edge is rejected when it
// would close a cycle: if the new parent already sits in the child's subtree,
// linking them makes the child its own ancestor. Serialized on the whole
// graph so two concurrent edge writes cannot each pass the check and together
// form a cycle.
func (s *courseDependencyService) AddParent(ctx context.Context, courseID, parentID uuid.UUID, orderNumber *int) (*types.CourseParent, error) {
	const op = "coursedeps.add_parent"
	if courseID == uuid.Nil || parentID == uuid.Nil {
		return nil, types.ValidationError(op, "course_id and parent_id are required")
	}
	if courseID == parentID {
		return nil, types.ValidationError(op, "a course cannot be its own parent")
	}

	var edge *types.CourseParent
	err := s.coordinator.WithSerializedKey(ctx, "course_graph", nil, func(dbc dbctx.Context) error {
		for _, id := range []uuid.UUID{courseID, parentID} {
			ok, err := s.courseRepo.Exists(dbc, id)
			if err != nil {
				return types.MapError(op, err)
			}
			if !ok {
				return types.NotFoundError(op, "course "+id.String()+" does not exist")
			}
		}

		cyclic, err := s.courseRepo.IsDescendant(dbc, courseID, parentID)
		if err != nil {
			return types.MapError(op, err)
		}
		if cyclic {
			return types.NewError(types.CodeInvariantViolation, op, "edge would make the course an ancestor of itself", nil)
		}

		edge = &types.CourseParent{
			CourseID:       courseID,
			ParentCourseID: parentID,
			OrderNumber:    orderNumber,
		}
		if err := s.courseRepo.AddParentEdge(dbc, edge); err != nil {
			return types.MapError(op, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("course parent edge added", "course_id", courseID, "parent_id", parentID)
	return edge, nil
}

func (s *courseDependencyService) RemoveParent(ctx context.Context, courseID, parentID uuid.UUID) error {
	const op = "coursedeps.remove_parent"
	dbc := dbctx.Context{Ctx: ctx}
	removed, err := s.courseRepo.RemoveParentEdge(dbc, courseID, parentID)
	if err != nil {
		return types.MapError(op, err)
	}
	if !removed {
		return types.NotFoundError(op, "parent edge does not exist")
	}
	return nil
}

func (s *courseDependencyService) AddDependency(ctx context.Context, courseID, requiredID uuid.UUID) error {
	const op = "coursedeps.add_dependency"
	if courseID == requiredID {
		return types.ValidationError(op, "a course cannot depend on itself")
	}
	dbc := dbctx.Context{Ctx: ctx}
	for _, id := range []uuid.UUID{courseID, requiredID} {
		ok, err := s.courseRepo.Exists(dbc, id)
		if err != nil {
			return types.MapError(op, err)
		}
		if !ok {
			return types.NotFoundError(op, "course "+id.String()+" does not exist")
		}
	}
	return types.MapError(op, s.courseRepo.AddDependency(dbc, &types.CourseDependency{
		CourseID:         courseID,
		RequiredCourseID: requiredID,
	}))
}

// BulkSetDependencies replaces the dependency list atomically. Self-entries
// are rejected, duplicates collapse.
func (s *courseDependencyService) BulkSetDependencies(ctx context.Context, courseID uuid.UUID, requiredIDs []uuid.UUID) error {
	const op = "coursedeps.bulk_set"
	seen := make(map[uuid.UUID]struct{}, len(requiredIDs))
	deduped := make([]uuid.UUID, 0, len(requiredIDs))
	for _, id := range requiredIDs {
		if id == courseID {
			return types.ValidationError(op, "a course cannot depend on itself")
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		deduped = append(deduped, id)
	}

	return s.coordinator.WithSerializedKey(ctx, "course_graph", nil, func(dbc dbctx.Context) error {
		ok, err := s.courseRepo.Exists(dbc, courseID)
		if err != nil {
			return types.MapError(op, err)
		}
		if !ok {
			return types.NotFoundError(op, "course does not exist")
		}
		for _, id := range deduped {
			exists, err := s.courseRepo.Exists(dbc, id)
			if err != nil {
				return types.MapError(op, err)
			}
			if !exists {
				return types.NotFoundError(op, "course "+id.String()+" does not exist")
			}
		}
		return types.MapError(op, s.courseRepo.ReplaceDependencies(dbc, courseID, deduped))
	})
}

func (s *courseDependencyService) RemoveDependency(ctx context.Context, courseID, requiredID uuid.UUID) error {
	const op = "coursedeps.remove_dependency"
	removed, err := s.courseRepo.RemoveDependency(dbctx.Context{Ctx: ctx}, courseID, requiredID)
	if err != nil {
		return types.MapError(op, err)
	}
	if !removed {
		return types.NotFoundError(op, "dependency does not exist")
	}
	return nil
}

func (s *courseDependencyService) ListDependencies(ctx context.Context, courseID uuid.UUID) ([]*types.CourseDependency, error) {
	const op = "coursedeps.list"
	deps, err := s.courseRepo.ListDependencies(dbctx.Context{Ctx: ctx}, courseID)
	if err != nil {
		return nil, types.MapError(op, err)
	}
	return deps, nil
}

// SubtreeInOrder returns the course and all descendants in study order,
// counting each node once even when several parents reach it.
func (s *courseDependencyService) SubtreeInOrder(ctx context.Context, courseID uuid.UUID) ([]*types.Course, error) {
	const op = "coursedeps.subtree"
	dbc := dbctx.Context{Ctx: ctx}
	root, err := s.courseRepo.GetByID(dbc, courseID)
	if courses.IsNotFound(err) {
		return nil, types.NotFoundError(op, "course not found")
	}
	if err != nil {
		return nil, types.MapError(op, err)
	}
	out := []*types.Course{root}
	seen := map[uuid.UUID]struct{}{courseID: {}}
	frontier := []uuid.UUID{courseID}
	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]
		children, err := s.courseRepo.ListChildren(dbc, next)
		if err != nil {
			return nil, types.MapError(op, err)
		}
		for _, child := range children {
			if _, ok := seen[child.ID]; ok {
				continue
			}
			seen[child.ID] = struct{}{}
			out = append(out, child)
			frontier = append(frontier, child.ID)
		}
	}
	return out, nil
}

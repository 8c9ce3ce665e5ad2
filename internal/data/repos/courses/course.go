package courses

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/vkomlev/LMS/internal/domain"
	"github.com/vkomlev/LMS/internal/pkg/dbctx"
	"github.com/vkomlev/LMS/internal/pkg/logger"
)

type CourseRepo interface {
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Course, error)
	Exists(dbc dbctx.Context, id uuid.UUID) (bool, error)
	ListChildren(dbc dbctx.Context, parentID uuid.UUID) ([]*types.Course, error)
	ListParents(dbc dbctx.Context, courseID uuid.UUID) ([]*types.CourseParent, error)
	AddParentEdge(dbc dbctx.Context, edge *types.CourseParent) error
	RemoveParentEdge(dbc dbctx.Context, courseID, parentID uuid.UUID) (bool, error)
	IsDescendant(dbc dbctx.Context, rootID, candidateID uuid.UUID) (bool, error)

	ListDependencies(dbc dbctx.Context, courseID uuid.UUID) ([]*types.CourseDependency, error)
	AddDependency(dbc dbctx.Context, dep *types.CourseDependency) error
	ReplaceDependencies(dbc dbctx.Context, courseID uuid.UUID, requiredIDs []uuid.UUID) error
	RemoveDependency(dbc dbctx.Context, courseID, requiredID uuid.UUID) (bool, error)

	ListUserCourses(dbc dbctx.Context, userID uuid.UUID) ([]*types.UserCourse, error)
	UpsertUserCourse(dbc dbctx.Context, uc *types.UserCourse) error
}

type courseRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCourseRepo(db *gorm.DB, baseLog *logger.Logger) CourseRepo {
	return &courseRepo{
		db:  db,
		log: baseLog.With("repo", "CourseRepo"),
	}
}

func (r *courseRepo) base(dbc dbctx.Context) *gorm.DB {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx)
}

func (r *courseRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Course, error) {
	var course types.Course
	if err := r.base(dbc).Where("id = ?", id).First(&course).Error; err != nil {
		return nil, err
	}
	return &course, nil
}

func (r *courseRepo) Exists(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	var n int64
	err := r.base(dbc).Model(&types.Course{}).Where("id = ?", id).Count(&n).Error
	return n > 0, err
}

// ListChildren returns direct children of parentID in study-plan order.
func (r *courseRepo) ListChildren(dbc dbctx.Context, parentID uuid.UUID) ([]*types.Course, error) {
	var out []*types.Course
	err := r.base(dbc).
		Joins("JOIN course_parents cp ON cp.course_id = courses.id").
		Where("cp.parent_course_id = ?", parentID).
		Order("cp.order_number ASC NULLS LAST, courses.created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *courseRepo) ListParents(dbc dbctx.Context, courseID uuid.UUID) ([]*types.CourseParent, error) {
	var out []*types.CourseParent
	err := r.base(dbc).
		Where("course_id = ?", courseID).
		Order("order_number ASC NULLS LAST, created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *courseRepo) AddParentEdge(dbc dbctx.Context, edge *types.CourseParent) error {
	if edge == nil {
		return nil
	}
	return r.base(dbc).Create(edge).Error
}

func (r *courseRepo) RemoveParentEdge(dbc dbctx.Context, courseID, parentID uuid.UUID) (bool, error) {
	res := r.base(dbc).
		Where("course_id = ? AND parent_course_id = ?", courseID, parentID).
		Delete(&types.CourseParent{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// IsDescendant reports whether candidateID sits anywhere in rootID's subtree
// (direct or transitive child). Used before edge writes: adding the edge
// child→parent would close a cycle iff the new parent is already a descendant
// of the child.
func (r *courseRepo) IsDescendant(dbc dbctx.Context, rootID, candidateID uuid.UUID) (bool, error) {
	if rootID == candidateID {
		return true, nil
	}
	var n int64
	err := r.base(dbc).Raw(`
    WITH RECURSIVE subtree AS (
      SELECT course_id FROM course_parents WHERE parent_course_id = ?
      UNION
      SELECT cp.course_id FROM course_parents cp
      JOIN subtree s ON cp.parent_course_id = s.course_id
    )
    SELECT COUNT(*) FROM subtree WHERE course_id = ?
  `, rootID, candidateID).Scan(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *courseRepo) ListDependencies(dbc dbctx.Context, courseID uuid.UUID) ([]*types.CourseDependency, error) {
	var out []*types.CourseDependency
	err := r.base(dbc).
		Where("course_id = ?", courseID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *courseRepo) AddDependency(dbc dbctx.Context, dep *types.CourseDependency) error {
	if dep == nil {
		return nil
	}
	// Re-adding the same dependency is a no-op, not a conflict.
	return r.base(dbc).Clauses(clause.OnConflict{DoNothing: true}).Create(dep).Error
}

// ReplaceDependencies swaps the full dependency list of courseID in one shot.
func (r *courseRepo) ReplaceDependencies(dbc dbctx.Context, courseID uuid.UUID, requiredIDs []uuid.UUID) error {
	db := r.base(dbc)
	if err := db.Where("course_id = ?", courseID).Delete(&types.CourseDependency{}).Error; err != nil {
		return err
	}
	if len(requiredIDs) == 0 {
		return nil
	}
	deps := make([]*types.CourseDependency, 0, len(requiredIDs))
	for _, id := range requiredIDs {
		deps = append(deps, &types.CourseDependency{CourseID: courseID, RequiredCourseID: id})
	}
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&deps).Error
}

func (r *courseRepo) RemoveDependency(dbc dbctx.Context, courseID, requiredID uuid.UUID) (bool, error) {
	res := r.base(dbc).
		Where("course_id = ? AND required_course_id = ?", courseID, requiredID).
		Delete(&types.CourseDependency{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *courseRepo) ListUserCourses(dbc dbctx.Context, userID uuid.UUID) ([]*types.UserCourse, error) {
	var out []*types.UserCourse
	err := r.base(dbc).
		Where("user_id = ? AND is_active = TRUE", userID).
		Order("order_number ASC, created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *courseRepo) UpsertUserCourse(dbc dbctx.Context, uc *types.UserCourse) error {
	if uc == nil {
		return nil
	}
	return r.base(dbc).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "course_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_active", "order_number"}),
	}).Create(uc).Error
}

// IsNotFound lets callers treat a missing row as a domain condition rather
// than an error.
func IsNotFound(err error) bool { return errors.Is(err, gorm.ErrRecordNotFound) }

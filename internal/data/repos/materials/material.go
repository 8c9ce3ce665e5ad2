package materials

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/vkomlev/LMS/internal/domain"
	"github.com/vkomlev/LMS/internal/pkg/dbctx"
	"github.com/vkomlev/LMS/internal/pkg/logger"
)

type MaterialRepo interface {
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Material, error)
	ListByCourse(dbc dbctx.Context, courseID uuid.UUID, activeOnly bool) ([]*types.Material, error)

	UpsertProgress(dbc dbctx.Context, studentID, materialID uuid.UUID, completedAt time.Time) (*types.StudentMaterialProgress, error)
	CompletedMaterialIDs(dbc dbctx.Context, studentID uuid.UUID, materialIDs []uuid.UUID) (map[uuid.UUID]struct{}, error)

	GetCourseState(dbc dbctx.Context, studentID, courseID uuid.UUID) (*types.StudentCourseState, error)
	UpsertCourseState(dbc dbctx.Context, studentID, courseID uuid.UUID, state string) error
}

type materialRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMaterialRepo(db *gorm.DB, baseLog *logger.Logger) MaterialRepo {
	return &materialRepo{
		db:  db,
		log: baseLog.With("repo", "MaterialRepo"),
	}
}

func (r *materialRepo) base(dbc dbctx.Context) *gorm.DB {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx)
}

func (r *materialRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Material, error) {
	var m types.Material
	if err := r.base(dbc).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *materialRepo) ListByCourse(dbc dbctx.Context, courseID uuid.UUID, activeOnly bool) ([]*types.Material, error) {
	q := r.base(dbc).Where("course_id = ?", courseID)
	if activeOnly {
		q = q.Where("is_active = TRUE")
	}
	var out []*types.Material
	if err := q.Order("order_position ASC NULLS LAST, created_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertProgress marks a material completed. Repeated completion keeps the
// first completed_at.
func (r *materialRepo) UpsertProgress(dbc dbctx.Context, studentID, materialID uuid.UUID, completedAt time.Time) (*types.StudentMaterialProgress, error) {
	row := &types.StudentMaterialProgress{
		StudentID:   studentID,
		MaterialID:  materialID,
		Status:      "completed",
		CompletedAt: &completedAt,
	}
	if err := r.base(dbc).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "student_id"}, {Name: "material_id"}},
		DoNothing: true,
	}).Create(row).Error; err != nil {
		return nil, err
	}
	// Re-read so callers see the stored completed_at on repeat calls.
	var stored types.StudentMaterialProgress
	if err := r.base(dbc).
		Where("student_id = ? AND material_id = ?", studentID, materialID).
		First(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *materialRepo) CompletedMaterialIDs(dbc dbctx.Context, studentID uuid.UUID, materialIDs []uuid.UUID) (map[uuid.UUID]struct{}, error) {
	out := make(map[uuid.UUID]struct{}, len(materialIDs))
	if len(materialIDs) == 0 {
		return out, nil
	}
	var ids []uuid.UUID
	err := r.base(dbc).Model(&types.StudentMaterialProgress{}).
		Where("student_id = ? AND material_id IN ? AND status = ?", studentID, materialIDs, "completed").
		Pluck("material_id", &ids).Error
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}

func (r *materialRepo) GetCourseState(dbc dbctx.Context, studentID, courseID uuid.UUID) (*types.StudentCourseState, error) {
	var state types.StudentCourseState
	err := r.base(dbc).
		Where("student_id = ? AND course_id = ?", studentID, courseID).
		First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (r *materialRepo) UpsertCourseState(dbc dbctx.Context, studentID, courseID uuid.UUID, state string) error {
	row := &types.StudentCourseState{
		StudentID: studentID,
		CourseID:  courseID,
		State:     state,
		UpdatedAt: time.Now().UTC(),
	}
	return r.base(dbc).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "student_id"}, {Name: "course_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"state", "updated_at"}),
	}).Create(row).Error
}

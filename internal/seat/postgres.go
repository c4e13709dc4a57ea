package seat

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/plugin/dbresolver"

	"ShuttleSignup/internal/model"
	pkgerrors "ShuttleSignup/pkg/errors"
	"ShuttleSignup/pkg/snowflake"
)

// PostgresRepository 行级条件更新：
// UPDATE ... SET reserved_count = reserved_count + 1 WHERE id = ? AND reserved_count < capacity
// 恰好影响一行才算占座成功
type PostgresRepository struct {
	db *gorm.DB
}

func NewPostgresRepository(db *gorm.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Backend() string {
	return BackendPostgres
}

func (r *PostgresRepository) Create(ctx context.Context, res *model.SeatResource) error {
	if err := validateResource(res); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(res).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: seat resource %s already exists", pkgerrors.InvalidRequest, res.ID)
		}
		return fmt.Errorf("failed to create seat resource: %w", err)
	}
	return nil
}

// List 配置了副本时走只读副本
func (r *PostgresRepository) List(ctx context.Context, eventID string) ([]model.SeatResource, error) {
	var out []model.SeatResource
	err := r.db.WithContext(ctx).
		Clauses(dbresolver.Read).
		Where("event_id = ?", eventID).
		Order("pickup_time ASC, id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list seat resources: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*model.SeatResource, error) {
	return r.get(r.db.WithContext(ctx).Clauses(dbresolver.Read), id)
}

func (r *PostgresRepository) Batch(ctx context.Context, ids []string) ([]model.SeatResource, error) {
	if len(ids) == 0 {
		return []model.SeatResource{}, nil
	}

	var rows []model.SeatResource
	err := r.db.WithContext(ctx).
		Clauses(dbresolver.Read).
		Where("id IN ?", ids).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to batch get seat resources: %w", err)
	}

	byID := make(map[string]model.SeatResource, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}
	out := make([]model.SeatResource, 0, len(rows))
	for _, id := range ids {
		if row, ok := byID[id]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *PostgresRepository) Reserve(ctx context.Context, id, participantRef string) (*model.SeatResource, error) {
	if participantRef == "" {
		return nil, pkgerrors.InvalidRequest
	}

	err := r.db.WithContext(ctx).Clauses(dbresolver.Write).Transaction(func(tx *gorm.DB) error {
		var held int64
		if err := tx.Model(&model.SeatAssignment{}).
			Where("resource_id = ? AND participant_ref = ?", id, participantRef).
			Count(&held).Error; err != nil {
			return err
		}
		if held > 0 {
			return nil
		}

		result := tx.Model(&model.SeatResource{}).
			Where("id = ? AND reserved_count < capacity", id).
			UpdateColumn("reserved_count", gorm.Expr("reserved_count + 1"))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != 1 {
			if _, err := r.get(tx, id); err != nil {
				return err
			}
			return ErrConflict
		}

		assignmentID, err := snowflake.NextID()
		if err != nil {
			return err
		}
		assignment := model.SeatAssignment{
			BaseModel:      model.BaseModel{ID: assignmentID},
			ResourceID:     id,
			ParticipantRef: participantRef,
		}
		return tx.Create(&assignment).Error
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrConflict), errors.Is(err, ErrNotFound):
			return nil, err
		case errors.Is(err, gorm.ErrDuplicatedKey):
			// 同一报名者并发占座，另一个事务已经成功，本次回滚
		default:
			return nil, fmt.Errorf("failed to reserve seat: %w", err)
		}
	}

	return r.get(r.db.WithContext(ctx).Clauses(dbresolver.Write), id)
}

func (r *PostgresRepository) Release(ctx context.Context, id, participantRef string) (bool, error) {
	if participantRef == "" {
		return false, pkgerrors.InvalidRequest
	}

	released := false
	err := r.db.WithContext(ctx).Clauses(dbresolver.Write).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("resource_id = ? AND participant_ref = ?", id, participantRef).
			Delete(&model.SeatAssignment{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			_, err := r.get(tx, id)
			return err
		}

		released = true
		return tx.Model(&model.SeatResource{}).
			Where("id = ?", id).
			UpdateColumn("reserved_count", gorm.Expr("GREATEST(reserved_count - 1, 0)")).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, err
		}
		return false, fmt.Errorf("failed to release seat: %w", err)
	}
	return released, nil
}

func (r *PostgresRepository) get(db *gorm.DB, id string) (*model.SeatResource, error) {
	var res model.SeatResource
	err := db.Where("id = ?", id).Take(&res).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get seat resource: %w", err)
	}
	return &res, nil
}

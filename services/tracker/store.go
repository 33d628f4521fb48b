package tracker

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"gorm.io/gorm"

	"jobwatch/pkg/jobs"
)

// Store is the durable record store the service reads and writes executions through.
// Lookup misses are reported with jobs.ErrNotFound, every other failure with jobs.ErrStorage.
type Store interface {
	Create(ctx context.Context, e *jobs.Execution) error
	Save(ctx context.Context, e jobs.Execution) error
	FindByID(ctx context.Context, id int64) (jobs.Execution, error)
	FindByKey(ctx context.Context, key jobs.NaturalKey) (jobs.Execution, error)
	List(ctx context.Context, filter jobs.Filter) ([]jobs.Execution, error)
	CountByStatus(ctx context.Context) (map[jobs.Status]int64, error)
}

// Deps holds external dependencies required by the tracking service.
type Deps struct {
	DB  *pgxpool.Pool
	ORM *gorm.DB
	Bus *nats.Conn
}

// GormStore implements Store on a GORM session.
type GormStore struct {
	orm *gorm.DB
}

// NewGormStore returns a Store backed by orm.
func NewGormStore(orm *gorm.DB) (*GormStore, error) {
	if orm == nil {
		return nil, errors.New("orm is required")
	}
	return &GormStore{orm: orm}, nil
}

func (s *GormStore) Create(ctx context.Context, e *jobs.Execution) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	model := modelFromAPI(*e)
	model.ID = 0
	if err := s.orm.WithContext(ctx).Create(&model).Error; err != nil {
		return storageError(err)
	}
	*e = model.toAPI()
	return nil
}

// Save persists every field of e over the stored row with the same id. Concurrent saves
// of one record are not serialised: the last write wins.
func (s *GormStore) Save(ctx context.Context, e jobs.Execution) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	model := modelFromAPI(e)
	res := s.orm.WithContext(ctx).Model(&executionModel{ID: e.ID}).Select("*").Omit("id", "created_at").Updates(&model)
	if res.Error != nil {
		return storageError(res.Error)
	}
	if res.RowsAffected == 0 {
		return jobs.NotFound(jobs.ByID(e.ID))
	}
	return nil
}

func (s *GormStore) FindByID(ctx context.Context, id int64) (jobs.Execution, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var model executionModel
	if err := s.orm.WithContext(ctx).Where("id = ?", id).Take(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jobs.Execution{}, jobs.NotFound(jobs.ByID(id))
		}
		return jobs.Execution{}, storageError(err)
	}
	return model.toAPI(), nil
}

// FindByKey returns the most recently created execution carrying key.
func (s *GormStore) FindByKey(ctx context.Context, key jobs.NaturalKey) (jobs.Execution, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var model executionModel
	err := s.orm.WithContext(ctx).
		Where("job_name = ? AND run_id = ?", key.JobName, key.RunID).
		Order("created_at DESC").
		Order("id DESC").
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jobs.Execution{}, jobs.NotFound(jobs.Ref{Key: key})
		}
		return jobs.Execution{}, storageError(err)
	}
	return model.toAPI(), nil
}

// List returns the executions matching filter, newest first.
func (s *GormStore) List(ctx context.Context, filter jobs.Filter) ([]jobs.Execution, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	q := s.orm.WithContext(ctx).Model(&executionModel{})
	for _, p := range filter {
		scope, err := predicateScope(p)
		if err != nil {
			return nil, err
		}
		q = q.Scopes(scope)
	}

	var models []executionModel
	if err := q.Order("created_at DESC").Order("id DESC").Find(&models).Error; err != nil {
		return nil, storageError(err)
	}

	out := make([]jobs.Execution, 0, len(models))
	for _, m := range models {
		out = append(out, m.toAPI())
	}
	return out, nil
}

func (s *GormStore) CountByStatus(ctx context.Context) (map[jobs.Status]int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var rows []struct {
		Status string
		Count  int64
	}
	err := s.orm.WithContext(ctx).
		Model(&executionModel{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, storageError(err)
	}

	counts := make(map[jobs.Status]int64, len(jobs.Statuses))
	for _, st := range jobs.Statuses {
		counts[st] = 0
	}
	for _, row := range rows {
		counts[jobs.Status(row.Status)] = row.Count
	}
	return counts, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// predicateScope translates one predicate into one WHERE condition.
func predicateScope(p jobs.Predicate) (func(*gorm.DB) *gorm.DB, error) {
	var column string
	switch p.Field {
	case jobs.FieldJobName, jobs.FieldRunID, jobs.FieldStatus, jobs.FieldStartTime, jobs.FieldEndTime:
		column = string(p.Field)
	default:
		return nil, errors.Newf("unsupported filter field %q", p.Field)
	}

	var (
		cond string
		arg  any
	)
	switch p.Op {
	case jobs.OpContainsFold:
		s, ok := p.Value.(string)
		if !ok {
			return nil, errors.Newf("filter %s %s: want string operand, got %T", p.Field, p.Op, p.Value)
		}
		cond = "LOWER(" + column + ") LIKE ? ESCAPE '\\'"
		arg = "%" + likeEscaper.Replace(strings.ToLower(s)) + "%"
	case jobs.OpEquals:
		cond, arg = column+" = ?", p.Value
	case jobs.OpAtLeast:
		cond, arg = column+" >= ?", p.Value
	case jobs.OpAtMost:
		cond, arg = column+" <= ?", p.Value
	default:
		return nil, errors.Newf("unsupported filter operator %s", p.Op)
	}

	return func(db *gorm.DB) *gorm.DB {
		return db.Where(cond, arg)
	}, nil
}

func storageError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return jobs.StorageError(errors.Wrap(err, "duplicate execution"))
	}
	return jobs.StorageError(err)
}

package quota

import (
	"context"

	"github.com/ubuygold/studygen/internal/db"
)

// DatabaseStore keeps counters in the relational database through db.Service.
type DatabaseStore struct {
	db db.Service
}

// NewDatabaseStore creates a CounterStore backed by dbService.
func NewDatabaseStore(dbService db.Service) *DatabaseStore {
	return &DatabaseStore{db: dbService}
}

func (s *DatabaseStore) CheckAndIncrement(ctx context.Context, userID, day string, limit int) (bool, int, error) {
	return s.db.CheckAndIncrementUsage(ctx, userID, day, limit)
}

func (s *DatabaseStore) Usage(ctx context.Context, userID, day string) (int, error) {
	counter, err := s.db.GetUsage(ctx, userID, day)
	if err != nil {
		return 0, err
	}
	return counter.Count, nil
}

func (s *DatabaseStore) Report(ctx context.Context, day string) (*Report, error) {
	r, err := s.db.UsageReport(ctx, day)
	if err != nil {
		return nil, err
	}
	return &Report{Day: r.Day, Users: r.Users, Generations: r.Generations}, nil
}

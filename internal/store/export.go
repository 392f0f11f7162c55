package store

import (
	"context"
	"fmt"

	"github.com/textchamp/textchamp/internal/model"
)

// ExportResults groups a results log by student, filling in names from the
// users table. The log may come from any attempt repository. Students without
// completed practices are omitted.
func (s *Store) ExportResults(ctx context.Context, results []model.PracticeResult) ([]model.StudentResult, error) {
	byStudent := make(map[int64]*model.StudentResult)
	var order []int64
	for _, r := range results {
		sr, ok := byStudent[r.StudentID]
		if !ok {
			user, err := s.GetUserByID(ctx, r.StudentID)
			if err != nil {
				return nil, fmt.Errorf("get user %d: %w", r.StudentID, err)
			}
			sr = &model.StudentResult{}
			if user != nil {
				sr.Username = user.Username
				sr.DisplayName = user.DisplayName
			}
			byStudent[r.StudentID] = sr
			order = append(order, r.StudentID)
		}
		sr.Practices = append(sr.Practices, r)
		if r.Total > sr.BestTotal {
			sr.BestTotal = r.Total
		}
	}

	out := make([]model.StudentResult, 0, len(order))
	for _, id := range order {
		out = append(out, *byStudent[id])
	}
	return out, nil
}

// README: Retention keeps only a pilot's most recent finished trips.
package trip

import (
	"context"
	"sort"

	"carpool/internal/observability"
	"carpool/internal/types"
)

// DefaultRetainFinished is how many finished trips a pilot keeps.
const DefaultRetainFinished = 5

// Retain splits trips into the n most recently scheduled and the rest.
func Retain(trips []*Trip, n int) (keep, drop []*Trip) {
	sorted := make([]*Trip, len(trips))
	copy(sorted, trips)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].ScheduledAt.Equal(sorted[j].ScheduledAt) {
			return sorted[i].ScheduledAt.After(sorted[j].ScheduledAt)
		}
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	if len(sorted) <= n {
		return sorted, nil
	}
	return sorted[:n], sorted[n:]
}

// FinishedForPilot lists the pilot's finished trips and prunes everything past the
// retention cap. A failed prune is logged and retried on the next fetch.
func (s *Service) FinishedForPilot(ctx context.Context, pilotID types.ID) ([]*Trip, error) {
	trips, err := s.store.ListByPilot(ctx, pilotID, StatusFinished)
	if err != nil {
		return nil, err
	}
	keep, drop := Retain(trips, s.retain)
	if len(drop) == 0 {
		return keep, nil
	}
	ids := make([]types.ID, len(drop))
	for i, t := range drop {
		ids[i] = t.ID
	}
	if err := s.store.Delete(ctx, ids); err != nil {
		s.logger.Warn("retention prune failed", "pilot_id", pilotID, "trips", len(ids), "error", err)
		return keep, nil
	}
	observability.RetentionDeleted.Add(float64(len(ids)))
	s.logger.Info("retention pruned finished trips", "pilot_id", pilotID, "deleted", len(ids))
	return keep, nil
}

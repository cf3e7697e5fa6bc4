package catalog

import (
	"context"

	"github.com/Damil001/pinata-image-api-sub000/internal/media"
	"github.com/Damil001/pinata-image-api-sub000/internal/pinning"
)

// PinSource adapts the pinning client to the catalog Source interface.
type PinSource struct {
	client *pinning.Client
}

// NewPinSource wraps a pinning client.
func NewPinSource(client *pinning.Client) *PinSource {
	return &PinSource{client: client}
}

// ListPage fetches one page from the pin list and normalizes the rows.
func (s *PinSource) ListPage(ctx context.Context, page, limit int) ([]media.Record, Pagination, error) {
	result, err := s.client.ListPins(ctx, page, limit)
	if err != nil {
		return nil, Pagination{}, err
	}

	records := make([]media.Record, 0, len(result.Rows))
	for i := range result.Rows {
		records = append(records, result.Rows[i].Record())
	}

	return records, Pagination{Page: page, Limit: limit, Total: result.Count}, nil
}

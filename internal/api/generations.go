package api

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/petsphoto/pawgen/pkg/models"
)

// ListStyles fetches the style catalog, ordered by display order.
func (c *Client) ListStyles(ctx context.Context) ([]models.GenerationStyle, error) {
	var styles []models.GenerationStyle
	if err := c.doJSON(ctx, http.MethodGet, "/styles/", nil, &styles, true, ""); err != nil {
		return nil, err
	}

	sort.SliceStable(styles, func(i, j int) bool {
		return styles[i].SortOrder < styles[j].SortOrder
	})
	return styles, nil
}

// CreateGeneration submits a new job. The returned job starts in the
// pending state; progress is only observable by polling GetGeneration.
func (c *Client) CreateGeneration(ctx context.Context, req *models.GenerationRequest) (*models.GenerationJob, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var job models.GenerationJob
	if err := c.doJSON(ctx, http.MethodPost, "/generations/", req, &job, true, ""); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetGeneration fetches the current snapshot of a job.
func (c *Client) GetGeneration(ctx context.Context, jobID string) (*models.GenerationJob, error) {
	var job models.GenerationJob
	if err := c.doJSON(ctx, http.MethodGet, "/generations/"+jobID, nil, &job, true, ""); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetHistory fetches one page of the user's past generations.
func (c *Client) GetHistory(ctx context.Context, limit, offset int) (*models.HistoryPage, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	path := fmt.Sprintf("/users/me/history?limit=%d&offset=%d", limit, offset)

	var page models.HistoryPage
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &page, true, ""); err != nil {
		return nil, err
	}
	return &page, nil
}

package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/desertthunder/witx/internal/models"
	"github.com/desertthunder/witx/internal/shared"
)

// pagedService serves scripted query pages and watermark reads.
type pagedService struct {
	WorkItemService
	pages      [][]int
	watermarks map[int]int
	queries    []string
}

func (s *pagedService) Query(_ context.Context, wiql string, _ int) ([]int, error) {
	s.queries = append(s.queries, wiql)
	if len(s.pages) == 0 {
		return nil, nil
	}
	page := s.pages[0]
	s.pages = s.pages[1:]
	return page, nil
}

func (s *pagedService) GetWorkItems(_ context.Context, ids []int, _ GetOptions) ([]*models.WorkItem, error) {
	items := make([]*models.WorkItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, &models.WorkItem{ID: id, Fields: map[string]any{
			models.FieldWatermark: float64(s.watermarks[id]),
		}})
	}
	return items, nil
}

func TestStripOrderBy(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"no order by", "SELECT [System.Id] FROM WorkItems", "SELECT [System.Id] FROM WorkItems"},
		{"trailing order by", "SELECT [System.Id] FROM WorkItems WHERE [System.State] = 'New' ORDER BY [System.Id] DESC",
			"SELECT [System.Id] FROM WorkItems WHERE [System.State] = 'New'"},
		{"lower case", "select [System.Id] from workitems order by [System.Id]", "select [System.Id] from workitems"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripOrderBy(tt.query))
		})
	}
}

func TestInjectWhereClause(t *testing.T) {
	t.Run("Wraps Existing Where", func(t *testing.T) {
		got := InjectWhereClause("SELECT [System.Id] FROM WorkItems WHERE [A] = 1 OR [B] = 2", "[C] = 3")
		assert.Equal(t, "SELECT [System.Id] FROM WorkItems WHERE ([A] = 1 OR [B] = 2) AND [C] = 3", got)
	})

	t.Run("Adds Missing Where", func(t *testing.T) {
		got := InjectWhereClause("SELECT [System.Id] FROM WorkItems", "[C] = 3")
		assert.Equal(t, "SELECT [System.Id] FROM WorkItems WHERE [C] = 3", got)
	})
}

func TestQueryPager(t *testing.T) {
	t.Run("Pages Until Empty", func(t *testing.T) {
		svc := &pagedService{
			pages:      [][]int{{1, 2}, {3, 4}, {}},
			watermarks: map[int]int{2: 10, 4: 12},
		}

		ids, err := QueryAll(context.Background(), svc, "SELECT [System.Id] FROM WorkItems ORDER BY [System.Id]", 2, "")

		require.NoError(t, err)
		assert.Equal(t, []int{1, 2, 3, 4}, ids)
		require.Len(t, svc.queries, 3)
		assert.True(t, strings.HasSuffix(svc.queries[0], "ORDER BY [System.Watermark], [System.Id]"))
		assert.NotContains(t, svc.queries[0], "WHERE")
		assert.Contains(t, svc.queries[1], "(([System.Watermark] > 10) OR ([System.Watermark] = 10 AND [System.Id] > 2))")
		assert.Contains(t, svc.queries[2], "([System.Watermark] = 12 AND [System.Id] > 4)")
	})

	t.Run("Short Page Keeps Paging", func(t *testing.T) {
		svc := &pagedService{
			pages:      [][]int{{1}, {2, 3}, {}},
			watermarks: map[int]int{1: 3, 3: 7},
		}

		ids, err := QueryAll(context.Background(), svc, "SELECT [System.Id] FROM WorkItems", 5, "")

		require.NoError(t, err)
		assert.Equal(t, []int{1, 2, 3}, ids)
		require.Len(t, svc.queries, 3)
		assert.Contains(t, svc.queries[2], "([System.Watermark] = 7 AND [System.Id] > 3)")
	})

	t.Run("Excludes Tagged Items", func(t *testing.T) {
		svc := &pagedService{}

		_, err := QueryAll(context.Background(), svc, "SELECT [System.Id] FROM WorkItems WHERE [System.State] = 'New'", 5, "o'moved")

		require.NoError(t, err)
		require.Len(t, svc.queries, 1)
		assert.Contains(t, svc.queries[0], "WHERE ([System.State] = 'New') AND [System.Tags] NOT CONTAINS 'o''moved'")
	})

	t.Run("Stalled Cursor", func(t *testing.T) {
		svc := &pagedService{
			pages:      [][]int{{1, 2}, {1, 2}},
			watermarks: map[int]int{2: 10},
		}

		_, err := QueryAll(context.Background(), svc, "SELECT [System.Id] FROM WorkItems", 2, "")

		assert.ErrorIs(t, err, shared.ErrPagingStalled)
	})
}

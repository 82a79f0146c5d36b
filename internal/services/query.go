package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/desertthunder/witx/internal/models"
	"github.com/desertthunder/witx/internal/shared"
)

var (
	orderByPattern = regexp.MustCompile(`(?is)\s+order\s+by\s+.*$`)
	wherePattern   = regexp.MustCompile(`(?i)\bwhere\b`)
)

// Page is one page of a watermark paged query.
type Page struct {
	Number int
	IDs    []int
}

// QueryPager walks a WIQL query in pages ordered by (System.Watermark, System.Id).
//
// The service caps flat query results, so each page restarts the query after the last
// (watermark, id) pair seen. Pages are read until one comes back empty.
type QueryPager struct {
	svc      WorkItemService
	base     string
	pageSize int

	watermark int
	lastID    int
	page      int
	done      bool
}

// NewQueryPager prepares paging over query. excludeTag, when set, filters out items already
// carrying that tag.
func NewQueryPager(svc WorkItemService, query string, pageSize int, excludeTag string) *QueryPager {
	base := StripOrderBy(query)
	if excludeTag != "" {
		base = InjectWhereClause(base, fmt.Sprintf("[%s] NOT CONTAINS '%s'", models.FieldTags, escapeWIQL(excludeTag)))
	}
	return &QueryPager{svc: svc, base: base, pageSize: pageSize}
}

// Next returns the next page of ids. ok is false once the query is exhausted.
func (p *QueryPager) Next(ctx context.Context) (page Page, ok bool, err error) {
	if p.done {
		return Page{}, false, nil
	}

	ids, err := p.svc.Query(ctx, p.pageQuery(), p.pageSize)
	if err != nil {
		return Page{}, false, err
	}
	if len(ids) == 0 {
		p.done = true
		return Page{}, false, nil
	}

	items, err := p.svc.GetWorkItems(ctx, ids[len(ids)-1:], GetOptions{Fields: []string{models.FieldID, models.FieldWatermark}})
	if err != nil {
		return Page{}, false, err
	}
	if len(items) == 0 {
		return Page{}, false, fmt.Errorf("%w: last item of page %d could not be read", shared.ErrPagingStalled, p.page+1)
	}
	watermark, _ := items[0].IntField(models.FieldWatermark)
	if watermark < p.watermark || (watermark == p.watermark && items[0].ID <= p.lastID) {
		return Page{}, false, fmt.Errorf("%w: cursor did not advance past (%d, %d)", shared.ErrPagingStalled, p.watermark, p.lastID)
	}
	p.watermark, p.lastID = watermark, items[0].ID

	// a short page is not terminal: the service may cap pages below pageSize
	p.page++
	return Page{Number: p.page, IDs: ids}, true, nil
}

func (p *QueryPager) pageQuery() string {
	q := p.base
	if p.page > 0 {
		q = InjectWhereClause(q, fmt.Sprintf("(([%[1]s] > %[3]d) OR ([%[1]s] = %[3]d AND [%[2]s] > %[4]d))",
			models.FieldWatermark, models.FieldID, p.watermark, p.lastID))
	}
	return fmt.Sprintf("%s ORDER BY [%s], [%s]", q, models.FieldWatermark, models.FieldID)
}

// QueryAll reads every page and returns the ids in query order.
func QueryAll(ctx context.Context, svc WorkItemService, query string, pageSize int, excludeTag string) ([]int, error) {
	pager := NewQueryPager(svc, query, pageSize, excludeTag)
	var ids []int
	for {
		page, ok, err := pager.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return ids, nil
		}
		ids = append(ids, page.IDs...)
	}
}

// StripOrderBy removes a trailing ORDER BY clause.
func StripOrderBy(query string) string {
	return strings.TrimSpace(orderByPattern.ReplaceAllString(query, ""))
}

// InjectWhereClause ANDs condition onto the query's WHERE clause, adding one when missing.
func InjectWhereClause(query, condition string) string {
	query = strings.TrimSpace(query)
	loc := wherePattern.FindStringIndex(query)
	if loc == nil {
		return query + " WHERE " + condition
	}
	existing := strings.TrimSpace(query[loc[1]:])
	return query[:loc[0]] + "WHERE (" + existing + ") AND " + condition
}

func escapeWIQL(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

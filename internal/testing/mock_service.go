package testing

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/desertthunder/witx/internal/models"
	"github.com/desertthunder/witx/internal/services"
)

var (
	_ services.WorkItemService = (*MockService)(nil)

	cursorPattern = regexp.MustCompile(`\[System\.Id\] > (\d+)`)
	createPattern = regexp.MustCompile(`/_apis/wit/workitems/\$([^?]+)`)
	updatePattern = regexp.MustCompile(`/_apis/wit/workitems/(\d+)`)
)

// MockService is an in-memory [services.WorkItemService].
//
// Writes are applied to Items so later reads observe them. The Fn hooks replace the default
// behavior of a method when set.
type MockService struct {
	mu sync.Mutex

	AccountURL  string
	ProjectName string

	Items       map[int]*models.WorkItem
	Comments    map[int][]models.Comment
	Updates     map[int][]models.WorkItemUpdate
	Files       map[string][]byte
	NextID      int
	Uploads     []string
	BatchCalls  [][]models.BatchRequest
	UpdateCalls map[int]int

	BatchFn    func(ctx context.Context, reqs []models.BatchRequest) ([]models.BatchResponse, error)
	UpdateFn   func(ctx context.Context, id int, ops []models.PatchOperation) (*models.WorkItem, error)
	DownloadFn func(ctx context.Context, url string) ([]byte, error)
	UploadFn   func(ctx context.Context, name string, data []byte) (*models.AttachmentReference, error)
}

// NewMockService creates an empty service for account.
func NewMockService(account, project string) *MockService {
	return &MockService{
		AccountURL:  account,
		ProjectName: project,
		Items:       map[int]*models.WorkItem{},
		Comments:    map[int][]models.Comment{},
		Updates:     map[int][]models.WorkItemUpdate{},
		Files:       map[string][]byte{},
		NextID:      1000,
		UpdateCalls: map[int]int{},
	}
}

// Add stores an item, filling its url and watermark.
func (m *MockService) Add(item *models.WorkItem) *models.WorkItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.add(item)
	return item
}

func (m *MockService) add(item *models.WorkItem) {
	if item.Fields == nil {
		item.Fields = map[string]any{}
	}
	if item.Rev == 0 {
		item.Rev = 1
	}
	item.URL = models.WorkItemURL(m.AccountURL, item.ID)
	item.Fields[models.FieldID] = float64(item.ID)
	item.Fields[models.FieldRev] = float64(item.Rev)
	item.Fields[models.FieldWatermark] = float64(item.ID)
	m.Items[item.ID] = item
}

// Item returns a copy of a stored item.
func (m *MockService) Item(id int) *models.WorkItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	if it, ok := m.Items[id]; ok {
		return clone(it)
	}
	return nil
}

func (m *MockService) Account() string { return m.AccountURL }
func (m *MockService) Project() string { return m.ProjectName }

// Query returns stored ids in ascending order, honoring the paging cursor on System.Id.
func (m *MockService) Query(_ context.Context, wiql string, top int) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	after := 0
	if match := cursorPattern.FindStringSubmatch(wiql); match != nil {
		after, _ = strconv.Atoi(match[1])
	}
	var ids []int
	for id := range m.Items {
		if id > after {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	if top > 0 && len(ids) > top {
		ids = ids[:top]
	}
	return ids, nil
}

func (m *MockService) GetWorkItems(_ context.Context, ids []int, _ services.GetOptions) ([]*models.WorkItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.WorkItem
	for _, id := range ids {
		if it, ok := m.Items[id]; ok {
			out = append(out, clone(it))
		}
	}
	return out, nil
}

func (m *MockService) ExecuteBatch(ctx context.Context, reqs []models.BatchRequest) ([]models.BatchResponse, error) {
	m.mu.Lock()
	m.BatchCalls = append(m.BatchCalls, reqs)
	fn := m.BatchFn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, reqs)
	}
	return m.ApplyBatch(reqs), nil
}

// ApplyBatch applies every request and answers one response per request.
func (m *MockService) ApplyBatch(reqs []models.BatchRequest) []models.BatchResponse {
	m.mu.Lock()
	defer m.mu.Unlock()

	resp := make([]models.BatchResponse, 0, len(reqs))
	for _, r := range reqs {
		item, err := m.applyRequest(r)
		if err != nil {
			resp = append(resp, models.BatchResponse{Code: 400, Body: fmt.Sprintf(`{"message":%q}`, err.Error())})
			continue
		}
		body, _ := json.Marshal(item)
		resp = append(resp, models.BatchResponse{Code: 200, Body: string(body)})
	}
	return resp
}

func (m *MockService) applyRequest(r models.BatchRequest) (*models.WorkItem, error) {
	if match := createPattern.FindStringSubmatch(r.URI); match != nil {
		m.NextID++
		item := &models.WorkItem{ID: m.NextID, Fields: map[string]any{models.FieldWorkItemType: match[1]}}
		m.add(item)
		if err := apply(item, r.Body); err != nil {
			return nil, err
		}
		return clone(item), nil
	}
	if match := updatePattern.FindStringSubmatch(r.URI); match != nil {
		id, _ := strconv.Atoi(match[1])
		return m.update(id, r.Body)
	}
	return nil, fmt.Errorf("unrecognized uri %s", r.URI)
}

func (m *MockService) update(id int, ops []models.PatchOperation) (*models.WorkItem, error) {
	item, ok := m.Items[id]
	if !ok {
		return nil, fmt.Errorf("TF401232: work item %d does not exist", id)
	}
	next := clone(item)
	if err := apply(next, ops); err != nil {
		return nil, err
	}
	next.Rev++
	next.Fields[models.FieldRev] = float64(next.Rev)
	m.Items[id] = next
	return clone(next), nil
}

func (m *MockService) UpdateWorkItem(ctx context.Context, id int, ops []models.PatchOperation, _ services.WriteOptions) (*models.WorkItem, error) {
	m.mu.Lock()
	m.UpdateCalls[id]++
	fn := m.UpdateFn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, id, ops)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.update(id, ops)
}

func (m *MockService) GetComments(_ context.Context, id int) ([]models.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.Comments[id]), nil
}

func (m *MockService) GetUpdates(_ context.Context, id, top, skip int) ([]models.WorkItemUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.Updates[id]
	if skip >= len(all) {
		return nil, nil
	}
	return slices.Clone(all[skip:min(skip+top, len(all))]), nil
}

func (m *MockService) DownloadAttachment(ctx context.Context, url string, _ int64) ([]byte, error) {
	if m.DownloadFn != nil {
		return m.DownloadFn(ctx, url)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.Files[url]
	if !ok {
		return nil, fmt.Errorf("attachment %s not found", url)
	}
	return data, nil
}

func (m *MockService) UploadAttachment(ctx context.Context, name string, data []byte, _ int) (*models.AttachmentReference, error) {
	if m.UploadFn != nil {
		return m.UploadFn(ctx, name, data)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := fmt.Sprintf("att-%d", len(m.Uploads)+1)
	url := m.AccountURL + "/_apis/wit/attachments/" + id
	m.Uploads = append(m.Uploads, name)
	m.Files[url] = data
	return &models.AttachmentReference{ID: id, URL: url}, nil
}

// QueryArtifactURIs finds stored items carrying a hyperlink to each uri.
func (m *MockService) QueryArtifactURIs(_ context.Context, uris []string) (map[string][]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string][]int, len(uris))
	for _, uri := range uris {
		var ids []int
		for id, it := range m.Items {
			if it.HasRelation(models.RelHyperlink, uri) {
				ids = append(ids, id)
			}
		}
		slices.Sort(ids)
		out[uri] = ids
	}
	return out, nil
}

// ExecuteBatchCount returns the number of batch calls made so far.
func (m *MockService) ExecuteBatchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.BatchCalls)
}

func apply(item *models.WorkItem, ops []models.PatchOperation) error {
	for _, op := range ops {
		switch {
		case strings.HasPrefix(op.Path, "/fields/"):
			name := strings.TrimPrefix(op.Path, "/fields/")
			if op.Op == models.OpRemove {
				delete(item.Fields, name)
				continue
			}
			if name == models.FieldHistory {
				continue
			}
			item.Fields[name] = op.Value
		case op.Path == "/relations/-":
			rel, ok := op.Value.(models.Relation)
			if !ok {
				return fmt.Errorf("relation value has type %T", op.Value)
			}
			item.Relations = append(item.Relations, rel)
		case strings.HasPrefix(op.Path, "/relations/"):
			idx, err := strconv.Atoi(strings.TrimPrefix(op.Path, "/relations/"))
			if err != nil || idx < 0 || idx >= len(item.Relations) {
				return fmt.Errorf("invalid relation path %s", op.Path)
			}
			switch op.Op {
			case models.OpRemove:
				item.Relations = slices.Delete(item.Relations, idx, idx+1)
			default:
				rel, ok := op.Value.(models.Relation)
				if !ok {
					return fmt.Errorf("relation value has type %T", op.Value)
				}
				item.Relations[idx] = rel
			}
		default:
			return fmt.Errorf("unsupported path %s", op.Path)
		}
	}
	return nil
}

func clone(it *models.WorkItem) *models.WorkItem {
	c := *it
	c.Fields = make(map[string]any, len(it.Fields))
	for k, v := range it.Fields {
		c.Fields[k] = v
	}
	c.Relations = slices.Clone(it.Relations)
	return &c
}

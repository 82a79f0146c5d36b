// package services defines interface WorkItemService for interacting with work item tracking HTTP APIs
package services

import (
	"context"

	"github.com/desertthunder/witx/internal/models"
)

// WorkItemService is the boundary to a remote work item tracking account.
//
// Implementations perform exactly one remote call per method invocation (or one per page/chunk);
// retries are layered on top by the caller.
type WorkItemService interface {
	// Query runs a flat WIQL query and returns at most top work item ids.
	Query(ctx context.Context, wiql string, top int) ([]int, error)

	// GetWorkItems reads work items by id, preserving the requested order.
	GetWorkItems(ctx context.Context, ids []int, opts GetOptions) ([]*models.WorkItem, error)

	// ExecuteBatch submits a batch write. The response count may differ from the request count.
	ExecuteBatch(ctx context.Context, requests []models.BatchRequest) ([]models.BatchResponse, error)

	// UpdateWorkItem applies a JSON Patch document to one work item.
	UpdateWorkItem(ctx context.Context, id int, ops []models.PatchOperation, opts WriteOptions) (*models.WorkItem, error)

	// GetComments returns every discussion comment of a work item.
	GetComments(ctx context.Context, id int) ([]models.Comment, error)

	// GetUpdates returns one page of revision deltas.
	GetUpdates(ctx context.Context, id, top, skip int) ([]models.WorkItemUpdate, error)

	// DownloadAttachment fetches attachment content, failing with shared.ErrAttachmentTooLarge past maxSize bytes.
	DownloadAttachment(ctx context.Context, url string, maxSize int64) ([]byte, error)

	// UploadAttachment stores content and returns its reference. Payloads larger than chunkSize use the chunked protocol.
	UploadAttachment(ctx context.Context, fileName string, data []byte, chunkSize int) (*models.AttachmentReference, error)

	// QueryArtifactURIs maps each artifact uri to the ids of work items linking to it.
	QueryArtifactURIs(ctx context.Context, uris []string) (map[string][]int, error)

	// Account returns the collection url, Project the team project name.
	Account() string
	Project() string
}

// GetOptions controls work item reads.
type GetOptions struct {
	Fields    []string
	Relations bool
}

// WriteOptions are passed as query parameters on writes.
type WriteOptions struct {
	BypassRules           bool
	SuppressNotifications bool
}

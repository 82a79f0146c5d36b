package models

// BatchContext carries the scratch data of one dispatched batch. It is created by the scheduler
// callback and discarded once the batch's writes are reconciled.
type BatchContext struct {
	Seq       int
	SourceIDs []int

	SourceItems map[int]*WorkItem
	TargetItems map[int]*WorkItem

	// LinkedTargets maps linked source ids to target ids resolved during preprocessing.
	LinkedTargets map[int]int
	// Attachments maps source attachment urls to their uploaded target references.
	Attachments map[string]AttachmentReference
}

func NewBatchContext(seq int, sourceIDs []int) *BatchContext {
	return &BatchContext{
		Seq:           seq,
		SourceIDs:     sourceIDs,
		SourceItems:   make(map[int]*WorkItem, len(sourceIDs)),
		TargetItems:   make(map[int]*WorkItem, len(sourceIDs)),
		LinkedTargets: make(map[int]int),
		Attachments:   make(map[string]AttachmentReference),
	}
}

package workflows

type DocumentIngestInput struct {
	Path           string            `json:"path"`
	DocumentID     string            `json:"document_id,omitempty"`
	Name           string            `json:"name,omitempty"`
	DocumentType   string            `json:"document_type,omitempty"`
	Tags           map[string]string `json:"tags,omitempty"`
	EmbedBatchSize int               `json:"embed_batch_size,omitempty"`
}

type CorpusIngestInput struct {
	InputDir              string            `json:"input_dir"`
	DocumentType          string            `json:"document_type,omitempty"`
	Tags                  map[string]string `json:"tags,omitempty"`
	MaxConcurrentChildren int               `json:"max_concurrent_children"`
	EmbedBatchSize        int               `json:"embed_batch_size,omitempty"`
}

type DocumentIngestStatus struct {
	DocumentID  string            `json:"document_id"`
	Path        string            `json:"path"`
	CurrentStep string            `json:"current_step"`
	Status      string            `json:"status"`
	FailReason  string            `json:"fail_reason,omitempty"`
	Pages       int               `json:"pages"`
	Chunks      int               `json:"chunks"`
	Stored      int               `json:"stored"`
	Steps       map[string]string `json:"steps"`
}

type CorpusIngestProgress struct {
	Total         int               `json:"total"`
	Done          int               `json:"done"`
	Failed        int               `json:"failed"`
	Skipped       int               `json:"skipped"`
	PerDocument   map[string]string `json:"per_document_status"`
	ChildWorkflow map[string]string `json:"child_workflow_ids,omitempty"`
}

package activities

type ListPDFsInput struct {
	InputDir string `json:"input_dir"`
}

type ListPDFsOutput struct {
	Paths []string `json:"paths"`
}

type ResolveDocumentInput struct {
	Path       string `json:"path"`
	DocumentID string `json:"document_id,omitempty"`
}

type ResolveDocumentOutput struct {
	DocumentID       string `json:"document_id"`
	FileHash         string `json:"file_hash"`
	AlreadyProcessed bool   `json:"already_processed"`
}

type UpdateStatusInput struct {
	DocumentID   string            `json:"document_id"`
	Status       string            `json:"status"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
}

type ExtractChunksInput struct {
	Path string `json:"path"`
}

type ChunkItem struct {
	Text  string `json:"text"`
	Page  int    `json:"page"`
	Index int    `json:"index"`
}

type ExtractChunksOutput struct {
	Pages  int         `json:"pages"`
	Chunks []ChunkItem `json:"chunks"`
}

type EmbedChunksInput struct {
	Texts []string `json:"texts"`
}

type EmbedChunksOutput struct {
	Vectors [][]float32 `json:"vectors"`
}

type UpsertChunksInput struct {
	DocumentID   string            `json:"document_id"`
	Source       string            `json:"source"`
	DocumentType string            `json:"document_type,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`
	Chunks       []ChunkItem       `json:"chunks"`
	Vectors      [][]float32       `json:"vectors"`
}

type UpsertChunksOutput struct {
	Stored int `json:"stored"`
	Failed int `json:"failed"`
}

type DeleteDocumentInput struct {
	DocumentID string `json:"document_id"`
}

type DeleteDocumentOutput struct {
	Deleted int `json:"deleted"`
}

package workflows

import (
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"cropsense/internal/activities"
	"cropsense/internal/models"
)

const (
	QueryGetDocumentStatus = "GetDocumentStatus"
	QueryGetProgress       = "GetProgress"
)

// CorpusIngestWorkflow fans the PDFs under InputDir out to child
// DocumentIngestWorkflow runs, at most MaxConcurrentChildren at a time.
// Individual document failures are recorded in the progress query and
// never fail the corpus run.
func CorpusIngestWorkflow(ctx workflow.Context, input CorpusIngestInput) (string, error) {
	progress := CorpusIngestProgress{
		PerDocument:   map[string]string{},
		ChildWorkflow: map[string]string{},
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetProgress, func() (CorpusIngestProgress, error) {
		return progress, nil
	}); err != nil {
		return "", err
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var listOut activities.ListPDFsOutput
	if err := workflow.ExecuteActivity(ctx, "ListPDFsActivity", activities.ListPDFsInput{InputDir: input.InputDir}).Get(ctx, &listOut); err != nil {
		return "", err
	}
	paths := listOut.Paths
	progress.Total = len(paths)

	maxChildren := input.MaxConcurrentChildren
	if maxChildren <= 0 {
		maxChildren = 3
	}

	for i := 0; i < len(paths); i += maxChildren {
		end := i + maxChildren
		if end > len(paths) {
			end = len(paths)
		}
		futures := make([]workflow.ChildWorkflowFuture, 0, end-i)
		childPaths := make([]string, 0, end-i)
		for _, path := range paths[i:end] {
			progress.PerDocument[path] = "processing"
			workflowID := "document-" + sanitizeID(filepathBase(path))
			cwo := workflow.ChildWorkflowOptions{WorkflowID: workflowID}
			childCtx := workflow.WithChildOptions(ctx, cwo)
			f := workflow.ExecuteChildWorkflow(childCtx, DocumentIngestWorkflow, DocumentIngestInput{
				Path:           path,
				Name:           filepathBase(path),
				DocumentType:   input.DocumentType,
				Tags:           input.Tags,
				EmbedBatchSize: input.EmbedBatchSize,
			})
			futures = append(futures, f)
			childPaths = append(childPaths, path)
			progress.ChildWorkflow[path] = workflowID
		}

		for idx, f := range futures {
			var childStatus string
			err := f.Get(ctx, &childStatus)
			path := childPaths[idx]
			if err != nil {
				// An erred child still counts toward Done so the
				// progress query converges on Total.
				progress.Failed++
				progress.Done++
				progress.PerDocument[path] = "failed"
				continue
			}
			switch childStatus {
			case models.StatusFailed:
				progress.Failed++
			case "skipped":
				progress.Skipped++
			}
			progress.Done++
			progress.PerDocument[path] = childStatus
		}
	}

	return "completed", nil
}

// DocumentIngestWorkflow runs one PDF through resolve, extract, embed,
// and store. Embedding is batched so a large document becomes several
// short activity executions instead of one long one. Missing text is a
// graceful failure: the status store records the reason and the
// workflow completes.
func DocumentIngestWorkflow(ctx workflow.Context, input DocumentIngestInput) (string, error) {
	status := DocumentIngestStatus{
		Path:        input.Path,
		CurrentStep: "init",
		Status:      models.StatusProcessing,
		Steps:       map[string]string{},
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetDocumentStatus, func() (DocumentIngestStatus, error) {
		return status, nil
	}); err != nil {
		return "", err
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    2,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	name := input.Name
	if name == "" {
		name = filepathBase(input.Path)
	}
	batchSize := input.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = 20
	}

	status.CurrentStep = "resolve_document"
	status.Steps[status.CurrentStep] = "processing"
	var resolved activities.ResolveDocumentOutput
	if err := workflow.ExecuteActivity(ctx, "ResolveDocumentActivity", activities.ResolveDocumentInput{
		Path:       input.Path,
		DocumentID: input.DocumentID,
	}).Get(ctx, &resolved); err != nil {
		return "", err
	}
	status.DocumentID = resolved.DocumentID
	status.Steps[status.CurrentStep] = "done"
	if resolved.AlreadyProcessed {
		status.Status = "skipped"
		status.CurrentStep = "done"
		return status.Status, nil
	}

	meta := map[string]string{"fileHash": resolved.FileHash, "name": name}
	_ = workflow.ExecuteActivity(ctx, "UpdateStatusActivity", activities.UpdateStatusInput{
		DocumentID: resolved.DocumentID,
		Status:     models.StatusProcessing,
		Metadata:   meta,
	}).Get(ctx, nil)

	status.CurrentStep = "extract_chunks"
	status.Steps[status.CurrentStep] = "processing"
	var extracted activities.ExtractChunksOutput
	if err := workflow.ExecuteActivity(ctx, "ExtractChunksActivity", activities.ExtractChunksInput{Path: input.Path}).Get(ctx, &extracted); err != nil {
		if isNoTextError(err) {
			return failDocument(ctx, &status, resolved.DocumentID, "no extractable text found in PDF")
		}
		return "", err
	}
	status.Pages = extracted.Pages
	status.Chunks = len(extracted.Chunks)
	status.Steps[status.CurrentStep] = "done"

	status.CurrentStep = "embed_and_store"
	status.Steps[status.CurrentStep] = "processing"
	for lo := 0; lo < len(extracted.Chunks); lo += batchSize {
		hi := lo + batchSize
		if hi > len(extracted.Chunks) {
			hi = len(extracted.Chunks)
		}
		batch := extracted.Chunks[lo:hi]
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		var embedded activities.EmbedChunksOutput
		if err := workflow.ExecuteActivity(ctx, "EmbedChunksActivity", activities.EmbedChunksInput{Texts: texts}).Get(ctx, &embedded); err != nil {
			return failDocument(ctx, &status, resolved.DocumentID, "embedding failed: "+err.Error())
		}

		var upserted activities.UpsertChunksOutput
		if err := workflow.ExecuteActivity(ctx, "UpsertChunksActivity", activities.UpsertChunksInput{
			DocumentID:   resolved.DocumentID,
			Source:       name,
			DocumentType: input.DocumentType,
			Tags:         input.Tags,
			Chunks:       batch,
			Vectors:      embedded.Vectors,
		}).Get(ctx, &upserted); err != nil {
			return failDocument(ctx, &status, resolved.DocumentID, "store failed: "+err.Error())
		}
		status.Stored += upserted.Stored
	}
	status.Steps[status.CurrentStep] = "done"

	status.CurrentStep = "mark_completed"
	status.Steps[status.CurrentStep] = "processing"
	if err := workflow.ExecuteActivity(ctx, "UpdateStatusActivity", activities.UpdateStatusInput{
		DocumentID: resolved.DocumentID,
		Status:     models.StatusCompleted,
		Metadata:   meta,
	}).Get(ctx, nil); err != nil {
		return "", err
	}
	status.Steps[status.CurrentStep] = "done"
	status.CurrentStep = "done"
	status.Status = models.StatusCompleted
	return status.Status, nil
}

func failDocument(ctx workflow.Context, status *DocumentIngestStatus, documentID, reason string) (string, error) {
	status.Status = models.StatusFailed
	status.FailReason = reason
	status.Steps[status.CurrentStep] = "failed"
	_ = workflow.ExecuteActivity(ctx, "UpdateStatusActivity", activities.UpdateStatusInput{
		DocumentID:   documentID,
		Status:       models.StatusFailed,
		ErrorMessage: reason,
	}).Get(ctx, nil)
	return status.Status, nil
}

func isNoTextError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "no extractable text")
}

func filepathBase(path string) string {
	parts := strings.Split(path, "/")
	if len(parts) == 0 {
		return path
	}
	return parts[len(parts)-1]
}

func sanitizeID(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "_", "-")
	s = strings.ReplaceAll(s, ".", "-")
	s = strings.ReplaceAll(s, "/", "-")
	return s
}

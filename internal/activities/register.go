package activities

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker, a *Activities) {
	w.RegisterActivity(a.ListPDFsActivity)
	w.RegisterActivity(a.ResolveDocumentActivity)
	w.RegisterActivity(a.UpdateStatusActivity)
	w.RegisterActivity(a.ExtractChunksActivity)
	w.RegisterActivity(a.EmbedChunksActivity)
	w.RegisterActivity(a.UpsertChunksActivity)
	w.RegisterActivity(a.DeleteDocumentActivity)
}

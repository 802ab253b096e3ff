package orchestrator

// RAGPauser is the advisory, non-blocking pause/resume seam the orchestrator
// uses to tell a background RAG updater (component D) to back off while a
// request is being served, and resume once it's done. It is
// deliberately best-effort: a nil RAGPauser (no RAG index attached) is a
// no-op, and Pause/Resume never block or fail the request.
type RAGPauser interface {
	Pause()
	Resume()
}

// noopPauser is used when no RAG index is configured.
type noopPauser struct{}

func (noopPauser) Pause()  {}
func (noopPauser) Resume() {}

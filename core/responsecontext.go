package agent

import "sync"

// responseContext tracks the identity of the in-flight response and the one
// that was cancelled last. All fields move together under one lock so
// interrupt and frame-arrival races resolve to a consistent view.
type responseContext struct {
	mu sync.Mutex

	currentResponseID   string
	cancelledResponseID string
	lastAssistantItemID string
	generating          bool
}

func newResponseContext() *responseContext {
	return &responseContext{}
}

// begin records a newly created response as current. A stale cancellation of
// the same id is cleared so late reuse cannot drop live frames.
func (r *responseContext) begin(responseID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.currentResponseID = responseID
	r.generating = true
	r.lastAssistantItemID = ""
	if r.cancelledResponseID == responseID {
		r.cancelledResponseID = ""
	}
}

// observe classifies a frame's response id. Frames of the cancelled response
// are dropped entirely; an unseen id starts a new response boundary.
func (r *responseContext) observe(responseID string) (isNew, isCancelled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if responseID != "" && responseID == r.cancelledResponseID {
		return false, true
	}
	if responseID != "" && responseID != r.currentResponseID {
		r.currentResponseID = responseID
		r.generating = true
		r.lastAssistantItemID = ""
		return true, false
	}
	return false, false
}

// cancel marks the current response cancelled and returns its id, clearing
// the current id in the same step. Reports false when nothing is generating,
// making interrupts idempotent.
func (r *responseContext) cancel() (responseID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.generating || r.currentResponseID == "" {
		return "", false
	}
	responseID = r.currentResponseID
	r.cancelledResponseID = responseID
	r.currentResponseID = ""
	r.generating = false
	return responseID, true
}

// finish marks generation done for responseID. A late finish for a previous
// response leaves the current one untouched.
func (r *responseContext) finish(responseID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if responseID == "" || responseID == r.currentResponseID {
		r.generating = false
	}
}

func (r *responseContext) isGenerating() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generating
}

// setAssistantItem remembers the audible assistant item of the current
// response for later truncation.
func (r *responseContext) setAssistantItem(itemID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastAssistantItemID = itemID
}

func (r *responseContext) assistantItem() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastAssistantItemID
}

// reset clears all bookkeeping, used when a session is torn down.
func (r *responseContext) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currentResponseID = ""
	r.cancelledResponseID = ""
	r.lastAssistantItemID = ""
	r.generating = false
}

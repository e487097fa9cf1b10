package agent

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// pendingTranscriptPlaceholder is shown for a committed user utterance whose
// transcription has not arrived yet.
const pendingTranscriptPlaceholder = "..."

// Message is one transcript bubble.
type Message struct {
	ID      string
	Speaker Speaker
	Text    string
	// Pending marks a user bubble still waiting for its transcription.
	Pending bool
}

// transcriptStore accumulates the conversation transcript. Assistant deltas
// of one response merge into a single bubble; a delta that follows a tool
// call, a response boundary, or a non-assistant message starts a new bubble.
type transcriptStore struct {
	mu       sync.Mutex
	messages []Message

	lastAssistantResponseID string
	expectingFinalAnswer    bool

	// pendingByItem maps a committed audio item to its placeholder bubble.
	pendingByItem map[string]string

	onUpdate func(messages []Message)
}

func newTranscriptStore(onUpdate func(messages []Message)) *transcriptStore {
	return &transcriptStore{
		pendingByItem: map[string]string{},
		onUpdate:      onUpdate,
	}
}

func (t *transcriptStore) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot()
}

func (t *transcriptStore) snapshot() []Message {
	messages := make([]Message, len(t.messages))
	copy(messages, t.messages)
	return messages
}

func (t *transcriptStore) notify() {
	if t.onUpdate != nil {
		t.onUpdate(t.snapshot())
	}
}

// AddUserMessage appends a finalized user bubble.
func (t *transcriptStore) AddUserMessage(text string) string {
	t.mu.Lock()
	id := uuid.NewString()
	t.messages = append(t.messages, Message{ID: id, Speaker: SpeakerUser, Text: text})
	t.mu.Unlock()

	t.notify()
	return id
}

// AddPendingUserMessage appends a placeholder bubble for a committed
// utterance whose transcription is still in flight.
func (t *transcriptStore) AddPendingUserMessage(itemID string) {
	t.mu.Lock()
	if _, exists := t.pendingByItem[itemID]; exists {
		t.mu.Unlock()
		return
	}
	id := uuid.NewString()
	t.pendingByItem[itemID] = id
	t.messages = append(t.messages, Message{
		ID:      id,
		Speaker: SpeakerUser,
		Text:    pendingTranscriptPlaceholder,
		Pending: true,
	})
	t.mu.Unlock()

	t.notify()
}

// ResolvePendingUserMessage fills in the transcription for a placeholder
// bubble. An unknown item creates a regular user bubble instead.
func (t *transcriptStore) ResolvePendingUserMessage(itemID, transcript string) {
	transcript = strings.TrimSpace(transcript)

	t.mu.Lock()
	id, ok := t.pendingByItem[itemID]
	if !ok {
		t.mu.Unlock()
		if transcript != "" {
			t.AddUserMessage(transcript)
		}
		return
	}
	delete(t.pendingByItem, itemID)

	for i := range t.messages {
		if t.messages[i].ID != id {
			continue
		}
		if transcript == "" {
			t.messages = append(t.messages[:i], t.messages[i+1:]...)
			break
		}
		t.messages[i].Text = transcript
		t.messages[i].Pending = false
		break
	}
	t.mu.Unlock()

	t.notify()
}

// DropPendingUserMessage removes a placeholder whose transcription failed.
func (t *transcriptStore) DropPendingUserMessage(itemID string) {
	t.ResolvePendingUserMessage(itemID, "")
}

// DropAllPendingUserMessages removes every placeholder still waiting for a
// transcription, for when the session is gone and the results can no longer
// arrive.
func (t *transcriptStore) DropAllPendingUserMessages() {
	t.mu.Lock()
	if len(t.pendingByItem) == 0 {
		t.mu.Unlock()
		return
	}
	t.pendingByItem = map[string]string{}

	kept := make([]Message, 0, len(t.messages))
	for _, message := range t.messages {
		if !message.Pending {
			kept = append(kept, message)
		}
	}
	t.messages = kept
	t.mu.Unlock()

	t.notify()
}

// AppendAssistantDelta extends the assistant bubble for responseID. A delta
// starts a new bubble when no assistant bubble is last, when a final answer
// after a tool call is expected, or when the response id changed; otherwise
// it is appended to the existing bubble.
func (t *transcriptStore) AppendAssistantDelta(responseID, delta string) {
	t.mu.Lock()

	last := len(t.messages) - 1
	continues := last >= 0 &&
		t.messages[last].Speaker == SpeakerAssistant &&
		!t.expectingFinalAnswer &&
		responseID != "" && responseID == t.lastAssistantResponseID

	t.expectingFinalAnswer = false
	t.lastAssistantResponseID = responseID

	if continues {
		t.messages[last].Text += delta
	} else {
		t.messages = append(t.messages, Message{
			ID:      uuid.NewString(),
			Speaker: SpeakerAssistant,
			Text:    delta,
		})
	}
	t.mu.Unlock()

	t.notify()
}

// ExpectFinalAnswer marks that a tool call is in flight, so the answer that
// follows it starts a fresh bubble instead of extending the one before the
// call. Cleared by the next assistant delta.
func (t *transcriptStore) ExpectFinalAnswer() {
	t.mu.Lock()
	t.expectingFinalAnswer = true
	t.mu.Unlock()
}

// Reset clears the transcript and all merge state.
func (t *transcriptStore) Reset() {
	t.mu.Lock()
	t.messages = nil
	t.lastAssistantResponseID = ""
	t.expectingFinalAnswer = false
	t.pendingByItem = map[string]string{}
	t.mu.Unlock()

	t.notify()
}

package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"secret-lounge/internal/domain"
	"secret-lounge/internal/ports"
)

// sentMessage — сообщение, отправленное фейковым транспортом.
type sentMessage struct {
	Kind      string
	Artifact  domain.ArtifactRef
	Text      string
	Opts      ports.TextOptions
	BoldLen   int
	Source    domain.ArtifactRef
	ReplyTo   *domain.ArtifactRef
	Media     domain.MediaDescriptor
	Choices   []ports.Choice
	Recipient int64
}

// fakeTransport — потокобезопасная реализация ports.Transport в памяти.
// Идентификаторы сообщений выдаются последовательно в пределах чата.
type fakeTransport struct {
	mu       sync.Mutex
	nextID   map[int64]int
	sent     []sentMessage
	edits    []sentMessage
	deleted  []domain.ArtifactRef
	notified []sentMessage
	failFor  map[int64]error
	failCopy map[int64]error
	existing map[domain.ArtifactRef]bool
	firstID  int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		nextID:   make(map[int64]int),
		failFor:  make(map[int64]error),
		failCopy: make(map[int64]error),
		existing: make(map[domain.ArtifactRef]bool),
		firstID:  200,
	}
}

var errNotFoundOnTransport = errors.New("message to edit not found")

func (f *fakeTransport) fail(recipient int64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failFor[recipient] = err
}

func (f *fakeTransport) allocate(chat int64) domain.ArtifactRef {
	id, ok := f.nextID[chat]
	if !ok {
		id = f.firstID + int(chat)*100
	}
	id++
	f.nextID[chat] = id
	ref := domain.ArtifactRef{ChatID: chat, MessageID: id}
	f.existing[ref] = true
	return ref
}

func (f *fakeTransport) SendText(_ context.Context, recipient int64, text string, opts ports.TextOptions) (domain.ArtifactRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[recipient]; err != nil {
		return domain.ArtifactRef{}, err
	}
	ref := f.allocate(recipient)
	f.sent = append(f.sent, sentMessage{Kind: "text", Artifact: ref, Text: text, Opts: opts, ReplyTo: opts.ReplyTo, Recipient: recipient})
	return ref, nil
}

func (f *fakeTransport) SendMediaHeader(_ context.Context, recipient int64, text string, boldLen int) (domain.ArtifactRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[recipient]; err != nil {
		return domain.ArtifactRef{}, err
	}
	ref := f.allocate(recipient)
	f.sent = append(f.sent, sentMessage{Kind: "header", Artifact: ref, Text: text, BoldLen: boldLen, Recipient: recipient})
	return ref, nil
}

func (f *fakeTransport) CopyMedia(_ context.Context, recipient int64, source domain.ArtifactRef, replyTo *domain.ArtifactRef) (domain.ArtifactRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[recipient]; err != nil {
		return domain.ArtifactRef{}, err
	}
	if err := f.failCopy[recipient]; err != nil {
		return domain.ArtifactRef{}, err
	}
	ref := f.allocate(recipient)
	f.sent = append(f.sent, sentMessage{Kind: "copy", Artifact: ref, Source: source, ReplyTo: replyTo, Recipient: recipient})
	return ref, nil
}

func (f *fakeTransport) EditText(_ context.Context, target domain.ArtifactRef, text string, opts ports.TextOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.existing[target] {
		return errNotFoundOnTransport
	}
	f.edits = append(f.edits, sentMessage{Kind: "text", Artifact: target, Text: text, Opts: opts, Recipient: target.ChatID})
	return nil
}

func (f *fakeTransport) EditMedia(_ context.Context, target domain.ArtifactRef, media domain.MediaDescriptor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.existing[target] {
		return errNotFoundOnTransport
	}
	f.edits = append(f.edits, sentMessage{Kind: "media", Artifact: target, Media: media, Recipient: target.ChatID})
	return nil
}

func (f *fakeTransport) DeleteArtifact(_ context.Context, target domain.ArtifactRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.existing[target] {
		return fmt.Errorf("delete %s: %w", target, errNotFoundOnTransport)
	}
	delete(f.existing, target)
	f.deleted = append(f.deleted, target)
	return nil
}

func (f *fakeTransport) Notify(_ context.Context, recipient int64, text string, choices ...ports.Choice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[recipient]; err != nil {
		return err
	}
	f.notified = append(f.notified, sentMessage{Kind: "notify", Text: text, Choices: choices, Recipient: recipient})
	return nil
}

// userMessage регистрирует исходное сообщение участника в его чате.
func (f *fakeTransport) userMessage(chat int64, id int) domain.ArtifactRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref := domain.ArtifactRef{ChatID: chat, MessageID: id}
	f.existing[ref] = true
	return ref
}

func (f *fakeTransport) sentTo(recipient int64) []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMessage
	for _, m := range f.sent {
		if m.Recipient == recipient {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeTransport) notificationsTo(recipient int64) []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMessage
	for _, m := range f.notified {
		if m.Recipient == recipient {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeTransport) deletedRefs() []domain.ArtifactRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ArtifactRef(nil), f.deleted...)
}

func (f *fakeTransport) editsTo(recipient int64) []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMessage
	for _, m := range f.edits {
		if m.Recipient == recipient {
			out = append(out, m)
		}
	}
	return out
}

package services

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secret-lounge/internal/domain"
	"secret-lounge/internal/metrics"
	"secret-lounge/internal/storage/sqlite"
)

type harness struct {
	store     *sqlite.Store
	transport *fakeTransport
	registry  *Registry
	admission *Admission
	relay     *Relay
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "lounge.db"), sqlite.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	m := metrics.New()
	transport := newFakeTransport()
	registry := NewRegistry(store, DefaultMaxNameWidth, logger)
	admission := NewAdmission(registry, store, transport, WithAdmissionLogger(logger), WithAdmissionMetrics(m))
	relay := NewRelay(admission, registry, store, transport,
		WithRelayLogger(logger), WithRelayMetrics(m), WithFanoutWorkers(4))

	return &harness{store: store, transport: transport, registry: registry, admission: admission, relay: relay}
}

// participant создает участника с заданным состоянием, ролью и именем в обход машины состояний.
func (h *harness) participant(t *testing.T, id int64, name string, role domain.Role, state domain.AdmissionState) {
	t.Helper()
	ctx := context.Background()
	_, err := h.registry.Register(ctx, id)
	require.NoError(t, err)
	if name != "" {
		_, err = h.registry.SetDisplayName(ctx, id, name)
		require.NoError(t, err)
	}
	require.NoError(t, h.registry.SetRole(ctx, id, role))
	require.NoError(t, h.registry.SetAdmissionState(ctx, id, state))
}

func (h *harness) state(t *testing.T, id int64) domain.AdmissionState {
	t.Helper()
	p, err := h.registry.Get(context.Background(), id)
	require.NoError(t, err)
	return p.State
}

func requireReason(t *testing.T, err error, want domain.NotAdmittedReason) {
	t.Helper()
	reason, ok := domain.NotAdmittedReasonOf(err)
	require.True(t, ok, "expected NotAdmittedError, got %v", err)
	assert.Equal(t, want, reason)
}

func TestAdmit_UnknownParticipantIsRegisteredPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.admission.Admit(ctx, 1)
	requireReason(t, err, domain.ReasonPending)
	assert.Equal(t, domain.StatePending, h.state(t, 1))

	// Повторное обращение ожидающего участника сообщает ту же причину.
	_, err = h.admission.Admit(ctx, 1)
	requireReason(t, err, domain.ReasonPending)
}

func TestAdmit_Reasons(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.participant(t, 1, "Banned", domain.RoleMember, domain.StateBanned)
	h.participant(t, 2, "Disabled", domain.RoleMember, domain.StateDisabled)
	h.participant(t, 3, "", domain.RoleMember, domain.StateActive)
	h.participant(t, 4, "", domain.RoleModerator, domain.StateBanned)

	_, err := h.admission.Admit(ctx, 1)
	requireReason(t, err, domain.ReasonBanned)
	_, err = h.admission.Admit(ctx, 2)
	requireReason(t, err, domain.ReasonDisabled)
	_, err = h.admission.Admit(ctx, 3)
	requireReason(t, err, domain.ReasonNoDisplayName)
	// Блокировка проверяется раньше отсутствия имени.
	_, err = h.admission.Admit(ctx, 4)
	requireReason(t, err, domain.ReasonBanned)
}

func TestAdmit_IdempotentForActiveParticipant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.participant(t, 1, "Alice", domain.RoleMember, domain.StateActive)

	first, err := h.admission.Admit(ctx, 1)
	require.NoError(t, err)
	second, err := h.admission.Admit(ctx, 1)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, domain.StateActive, second.State)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)
}

func TestApprove_ScenarioAliceJoins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.participant(t, 2, "Bob", domain.RoleModerator, domain.StateActive)
	h.participant(t, 3, "Carol", domain.RoleModerator, domain.StateActive)

	// alice пишет /start: регистрация и отказ.
	_, err := h.admission.Admit(ctx, 1)
	requireReason(t, err, domain.ReasonPending)

	p, err := h.admission.Approve(ctx, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.StateActive, p.State)

	// Одобрена, но имени пока нет.
	_, err = h.admission.Admit(ctx, 1)
	requireReason(t, err, domain.ReasonNoDisplayName)

	_, err = h.registry.SetDisplayName(ctx, 1, "Alice")
	require.NoError(t, err)
	_, err = h.admission.Admit(ctx, 1)
	require.NoError(t, err)

	// Уведомлены сама alice и остальные модераторы, но не одобривший.
	assert.Len(t, h.transport.notificationsTo(1), 1)
	assert.Len(t, h.transport.notificationsTo(3), 1)
	assert.Contains(t, h.transport.notificationsTo(3)[0].Text, "approved by <b>Bob</b>")
	assert.Empty(t, h.transport.notificationsTo(2))

	h.transport.userMessage(1, 100)
	report, err := h.relay.Publish(ctx, 1, domain.InboundMessage{
		Ref:     domain.ArtifactRef{ChatID: 1, MessageID: 100},
		Content: domain.Content{Kind: domain.ContentText, Text: "hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Delivered)

	bob := h.transport.sentTo(2)
	require.Len(t, bob, 1)
	assert.Equal(t, "Alice:\nhello", bob[0].Text)
	assert.Equal(t, 5, bob[0].Opts.BoldPrefixLength)
}

func TestDecide_Authorization(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.participant(t, 1, "Alice", domain.RoleMember, domain.StatePending)
	h.participant(t, 2, "Bob", domain.RoleModerator, domain.StateActive)
	h.participant(t, 3, "Carol", domain.RoleMember, domain.StateActive)
	h.participant(t, 4, "Dave", domain.RoleModerator, domain.StateDisabled)

	_, err := h.admission.Approve(ctx, 3, 1)
	assert.ErrorIs(t, err, domain.ErrUnauthorized, "members cannot decide")

	_, err = h.admission.Approve(ctx, 4, 1)
	assert.ErrorIs(t, err, domain.ErrUnauthorized, "inactive moderators cannot decide")

	_, err = h.admission.Ban(ctx, 2, 2, "")
	assert.ErrorIs(t, err, domain.ErrUnauthorized, "no acting on self")

	_, err = h.admission.Approve(ctx, 99, 1)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	assert.Equal(t, domain.StatePending, h.state(t, 1))
}

func TestDecide_Transitions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.participant(t, 1, "Alice", domain.RoleMember, domain.StateActive)
	h.participant(t, 2, "Bob", domain.RoleModerator, domain.StateActive)
	h.participant(t, 3, "Carol", domain.RoleMember, domain.StatePending)

	_, err := h.admission.Deny(ctx, 2, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "active cannot be denied")

	_, err = h.admission.Dismiss(ctx, 2, 3, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "pending cannot be removed")

	p, err := h.admission.Dismiss(ctx, 2, 1, "spam")
	require.NoError(t, err)
	assert.Equal(t, domain.StateDisabled, p.State)
	require.NotEmpty(t, h.transport.notificationsTo(1))
	assert.Contains(t, h.transport.notificationsTo(1)[0].Text, "spam")

	// Исключенного можно вернуть.
	p, err = h.admission.Approve(ctx, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.StateActive, p.State)

	p, err = h.admission.Deny(ctx, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, domain.StateDisabled, p.State)

	_, err = h.admission.Decide(ctx, 2, 3, Decision("pardon"), "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestBan_IsMonotonic(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.participant(t, 1, "Alice", domain.RoleMember, domain.StatePending)
	h.participant(t, 2, "Bob", domain.RoleModerator, domain.StateActive)
	h.participant(t, 3, "Carol", domain.RoleModerator, domain.StateActive)

	_, err := h.admission.Ban(ctx, 2, 1, "")
	require.NoError(t, err)

	// Другой модератор, не знающий о блокировке, пытается одобрить.
	_, err = h.admission.Approve(ctx, 3, 1)
	assert.ErrorIs(t, err, domain.ErrBanned)
	_, err = h.admission.Deny(ctx, 3, 1)
	assert.ErrorIs(t, err, domain.ErrBanned)
	assert.ErrorIs(t, h.registry.SetAdmissionState(ctx, 1, domain.StateActive), domain.ErrBanned)

	assert.Equal(t, domain.StateBanned, h.state(t, 1))
	_, err = h.admission.Admit(ctx, 1)
	requireReason(t, err, domain.ReasonBanned)
}

func TestBan_ConcurrentApproveAndBan(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		h := newHarness(t)
		h.participant(t, 1, "Alice", domain.RoleMember, domain.StatePending)
		h.participant(t, 2, "Bob", domain.RoleModerator, domain.StateActive)
		h.participant(t, 3, "Carol", domain.RoleModerator, domain.StateActive)

		var wg sync.WaitGroup
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, _ = h.admission.Approve(ctx, 2, 1)
		}()
		go func() {
			defer wg.Done()
			<-start
			_, _ = h.admission.Ban(ctx, 3, 1, "")
		}()
		close(start)
		wg.Wait()

		assert.Equal(t, domain.StateBanned, h.state(t, 1))
	}
}

func TestRequestJoin_NotifiesModeratorsWithChoices(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.participant(t, 2, "Bob", domain.RoleModerator, domain.StateActive)
	h.participant(t, 3, "Carol", domain.RoleMember, domain.StateActive)

	_, err := h.admission.Admit(ctx, 1)
	requireReason(t, err, domain.ReasonPending)
	require.NoError(t, h.registry.SetUsername(ctx, 1, "alice"))
	p, err := h.registry.Get(ctx, 1)
	require.NoError(t, err)

	h.admission.RequestJoin(ctx, p, "Alice Liddell")

	notes := h.transport.notificationsTo(2)
	require.Len(t, notes, 1)
	assert.Equal(t, "Alice Liddell @alice is requesting to join.", notes[0].Text)
	require.Len(t, notes[0].Choices, 3)
	assert.Equal(t, "approve:1", notes[0].Choices[0].Data)
	assert.Equal(t, "deny:1", notes[0].Choices[1].Data)
	assert.Equal(t, "ban:1", notes[0].Choices[2].Data)
	assert.Empty(t, h.transport.notificationsTo(3), "members are not asked")
}

func TestSetRole(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.participant(t, 1, "Alice", domain.RoleMember, domain.StateActive)
	h.participant(t, 2, "Bob", domain.RoleModerator, domain.StateActive)
	h.participant(t, 3, "Carol", domain.RoleMember, domain.StatePending)

	p, err := h.admission.SetRole(ctx, 2, 1, domain.RoleModerator)
	require.NoError(t, err)
	assert.True(t, p.IsModerator())
	assert.Contains(t, h.transport.notificationsTo(1)[0].Text, "promoted")

	_, err = h.admission.SetRole(ctx, 1, 2, domain.RoleMember)
	require.NoError(t, err, "a promoted moderator can demote another")

	_, err = h.admission.SetRole(ctx, 2, 3, domain.RoleModerator)
	assert.ErrorIs(t, err, domain.ErrUnauthorized, "bob is no longer a moderator")

	_, err = h.admission.SetRole(ctx, 1, 3, domain.RoleModerator)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "pending participants cannot be promoted")
}

func TestLeave_PurgesAuthoredMessages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.participant(t, 1, "Alice", domain.RoleMember, domain.StateActive)
	h.participant(t, 2, "Bob", domain.RoleModerator, domain.StateActive)

	origin := h.transport.userMessage(1, 100)
	_, err := h.relay.Publish(ctx, 1, domain.InboundMessage{Ref: origin, Content: domain.Content{Text: "bye"}})
	require.NoError(t, err)
	bobOrigin := h.transport.userMessage(2, 50)
	_, err = h.relay.Publish(ctx, 2, domain.InboundMessage{Ref: bobOrigin, Content: domain.Content{Text: "hi"}})
	require.NoError(t, err)

	_, err = h.admission.Leave(ctx, 1)
	require.NoError(t, err)

	_, err = h.registry.Get(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrParticipantNotFound)
	_, ok, err := h.store.ResolveOrigin(ctx, origin)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = h.store.ResolveOrigin(ctx, bobOrigin)
	require.NoError(t, err)
	assert.True(t, ok, "messages authored by others survive")

	notes := h.transport.notificationsTo(2)
	require.NotEmpty(t, notes)
	assert.Contains(t, notes[len(notes)-1].Text, "has left the group")
}

type purgerFunc func(ctx context.Context, owner int64) error

func (f purgerFunc) DeleteByOwner(ctx context.Context, owner int64) error {
	return f(ctx, owner)
}

func TestLeave_PurgeFailureKeepsParticipant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.participant(t, 1, "Alice", domain.RoleMember, domain.StateActive)
	h.participant(t, 2, "Bob", domain.RoleModerator, domain.StateActive)

	origin := h.transport.userMessage(1, 100)
	_, err := h.relay.Publish(ctx, 1, domain.InboundMessage{Ref: origin, Content: domain.Content{Text: "bye"}})
	require.NoError(t, err)

	failing := NewAdmission(h.registry, purgerFunc(func(context.Context, int64) error {
		return domain.ErrStore
	}), h.transport)

	_, err = failing.Leave(ctx, 1)
	require.ErrorIs(t, err, domain.ErrStore)

	assert.Equal(t, domain.StateActive, h.state(t, 1), "participant is kept when the purge fails")
	owner, ok, err := h.store.Owner(ctx, origin)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), owner)
	for _, n := range h.transport.notificationsTo(2) {
		assert.NotContains(t, n.Text, "has left the group")
	}
}

func TestBootstrap(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.participant(t, 5, "Eve", domain.RoleMember, domain.StateBanned)

	require.NoError(t, h.admission.Bootstrap(ctx, []int64{1, 5}))

	p, err := h.registry.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.StateActive, p.State)
	assert.True(t, p.IsModerator())

	p, err = h.registry.Get(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, domain.StateBanned, p.State)
	assert.False(t, p.IsModerator())
}

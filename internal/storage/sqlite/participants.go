package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"secret-lounge/internal/domain"
)

const participantColumns = `id, display_name, username, role, state, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanParticipant(row rowScanner) (domain.Participant, error) {
	var (
		p                    domain.Participant
		role, state          string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&p.ID, &p.DisplayName, &p.Username, &role, &state, &createdAt, &updatedAt); err != nil {
		return domain.Participant{}, err
	}
	p.Role = domain.Role(role)
	p.State = domain.AdmissionState(state)
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	return p, nil
}

// Register создает участника (pending, member) при первом обращении.
// Повторный вызов возвращает существующую запись без изменений.
func (s *Store) Register(ctx context.Context, id int64) (*domain.Participant, error) {
	now := toMillis(s.now())
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO participants (id, role, state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		id, domain.RoleMember, domain.StatePending, now, now,
	); err != nil {
		return nil, storeErr(fmt.Sprintf("register participant %d", id), err)
	}
	return s.Get(ctx, id)
}

// Get возвращает участника по идентификатору.
func (s *Store) Get(ctx context.Context, id int64) (*domain.Participant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+participantColumns+` FROM participants WHERE id = ?`, id)
	p, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get participant %d: %w", id, domain.ErrParticipantNotFound)
	}
	if err != nil {
		return nil, storeErr(fmt.Sprintf("get participant %d", id), err)
	}
	return &p, nil
}

func (s *Store) SetDisplayName(ctx context.Context, id int64, name string) error {
	return s.setField(ctx, id, "display_name", name)
}

func (s *Store) SetUsername(ctx context.Context, id int64, username string) error {
	return s.setField(ctx, id, "username", username)
}

func (s *Store) SetRole(ctx context.Context, id int64, role domain.Role) error {
	if !role.Valid() {
		return fmt.Errorf("set role %q: invalid role", role)
	}
	return s.setField(ctx, id, "role", string(role))
}

// setField обновляет одну колонку участника. column всегда задается кодом, не пользователем.
func (s *Store) setField(ctx context.Context, id int64, column string, value any) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE participants SET `+column+` = ?, updated_at = ? WHERE id = ?`,
		value, toMillis(s.now()), id)
	if err != nil {
		return storeErr(fmt.Sprintf("set %s for participant %d", column, id), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr(fmt.Sprintf("set %s for participant %d", column, id), err)
	}
	if n == 0 {
		return fmt.Errorf("set %s for participant %d: %w", column, id, domain.ErrParticipantNotFound)
	}
	return nil
}

// TransitionState применяет переход одним условным UPDATE, поэтому конкурирующие
// решения модераторов сериализуются самой базой.
func (s *Store) TransitionState(ctx context.Context, id int64, to domain.AdmissionState, from ...domain.AdmissionState) (domain.AdmissionState, bool, error) {
	if !to.Valid() {
		return "", false, fmt.Errorf("transition participant %d: invalid state %q", id, to)
	}
	if len(from) == 0 {
		return "", false, fmt.Errorf("transition participant %d: no source states", id)
	}

	args := make([]any, 0, len(from)+3)
	args = append(args, to, toMillis(s.now()), id)
	placeholders := make([]string, len(from))
	for i, st := range from {
		placeholders[i] = "?"
		args = append(args, st)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE participants SET state = ?, updated_at = ?
		 WHERE id = ? AND state IN (`+strings.Join(placeholders, ", ")+`)`,
		args...)
	if err != nil {
		return "", false, storeErr(fmt.Sprintf("transition participant %d to %s", id, to), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", false, storeErr(fmt.Sprintf("transition participant %d to %s", id, to), err)
	}
	if n == 1 {
		return to, true, nil
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return "", false, err
	}
	return current.State, false, nil
}

// ListActive возвращает активных участников: сначала модераторы, затем
// остальные, внутри группы по отображаемому имени без учета регистра.
func (s *Store) ListActive(ctx context.Context) ([]domain.Participant, error) {
	return s.list(ctx, "list active participants",
		`SELECT `+participantColumns+` FROM participants
		 WHERE state = ?
		 ORDER BY CASE role WHEN 'moderator' THEN 0 ELSE 1 END, display_name COLLATE NOCASE, id`,
		domain.StateActive)
}

// ListModerators возвращает активных модераторов.
func (s *Store) ListModerators(ctx context.Context) ([]domain.Participant, error) {
	return s.list(ctx, "list moderators",
		`SELECT `+participantColumns+` FROM participants
		 WHERE state = ? AND role = ?
		 ORDER BY display_name COLLATE NOCASE, id`,
		domain.StateActive, domain.RoleModerator)
}

// ListAll возвращает всех участников в порядке регистрации.
func (s *Store) ListAll(ctx context.Context) ([]domain.Participant, error) {
	return s.list(ctx, "list participants",
		`SELECT `+participantColumns+` FROM participants ORDER BY created_at, id`)
}

func (s *Store) list(ctx context.Context, op, query string, args ...any) ([]domain.Participant, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	var out []domain.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, storeErr(op, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return out, nil
}

// Remove удаляет строку участника. Записи о доставке не затрагиваются.
func (s *Store) Remove(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM participants WHERE id = ?`, id); err != nil {
		return storeErr(fmt.Sprintf("remove participant %d", id), err)
	}
	return nil
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"secret-lounge/internal/domain"
)

func (s *Store) insertRecord(ctx context.Context, rec domain.DeliveryRecord) error {
	var recipient any
	if rec.Kind != domain.KindHeader {
		recipient = rec.Recipient
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_records
		   (chat_id, message_id, origin_chat_id, origin_message_id, recipient_id, kind, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Artifact.ChatID, rec.Artifact.MessageID,
		rec.Origin.ChatID, rec.Origin.MessageID,
		recipient, string(rec.Kind), toMillis(s.now()),
	)
	return err
}

// CreateRoot создает якорную запись логического сообщения.
func (s *Store) CreateRoot(ctx context.Context, origin domain.OriginID, owner int64) error {
	err := s.insertRecord(ctx, domain.NewRootRecord(origin, owner))
	if isConstraintError(err) {
		return fmt.Errorf("create root %s: %w", origin, domain.ErrDuplicateOrigin)
	}
	if err != nil {
		return storeErr(fmt.Sprintf("create root %s", origin), err)
	}
	return nil
}

// CreateCopy сохраняет копию, доставленную получателю. У получателя может быть
// только одна копия каждого логического сообщения.
func (s *Store) CreateCopy(ctx context.Context, origin domain.OriginID, artifact domain.ArtifactRef, recipient int64) error {
	err := s.insertRecord(ctx, domain.NewCopyRecord(origin, artifact, recipient))
	if isConstraintError(err) {
		return fmt.Errorf("create copy %s for %d: %w", origin, recipient, domain.ErrDuplicateDelivery)
	}
	if err != nil {
		return storeErr(fmt.Sprintf("create copy %s for %d", origin, recipient), err)
	}
	return nil
}

// CreateHeader сохраняет заголовок с именем отправителя перед медиа.
func (s *Store) CreateHeader(ctx context.Context, origin domain.OriginID, artifact domain.ArtifactRef) error {
	err := s.insertRecord(ctx, domain.NewHeaderRecord(origin, artifact))
	if isConstraintError(err) {
		return fmt.Errorf("create header %s: %w", origin, domain.ErrDuplicateDelivery)
	}
	if err != nil {
		return storeErr(fmt.Sprintf("create header %s", origin), err)
	}
	return nil
}

// ResolveOrigin находит логическое сообщение, которому принадлежит artifact.
// Если корневая запись уже удалена, сообщение не разрешается.
func (s *Store) ResolveOrigin(ctx context.Context, artifact domain.ArtifactRef) (domain.OriginID, bool, error) {
	var origin domain.OriginID
	err := s.db.QueryRowContext(ctx,
		`SELECT root.chat_id, root.message_id
		   FROM delivery_records a
		   JOIN delivery_records root
		     ON root.chat_id = a.origin_chat_id
		    AND root.message_id = a.origin_message_id
		    AND root.kind = 'root'
		  WHERE a.chat_id = ? AND a.message_id = ?`,
		artifact.ChatID, artifact.MessageID,
	).Scan(&origin.ChatID, &origin.MessageID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.OriginID{}, false, nil
	}
	if err != nil {
		return domain.OriginID{}, false, storeErr(fmt.Sprintf("resolve origin of %s", artifact), err)
	}
	return origin, true, nil
}

// ResolveRecipientArtifact возвращает копию логического сообщения у получателя.
// Для автора это его собственное исходное сообщение.
func (s *Store) ResolveRecipientArtifact(ctx context.Context, origin domain.OriginID, recipient int64) (domain.ArtifactRef, bool, error) {
	var ref domain.ArtifactRef
	err := s.db.QueryRowContext(ctx,
		`SELECT chat_id, message_id FROM delivery_records
		  WHERE origin_chat_id = ? AND origin_message_id = ?
		    AND recipient_id = ? AND kind IN ('root', 'copy')`,
		origin.ChatID, origin.MessageID, recipient,
	).Scan(&ref.ChatID, &ref.MessageID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ArtifactRef{}, false, nil
	}
	if err != nil {
		return domain.ArtifactRef{}, false, storeErr(fmt.Sprintf("resolve artifact of %s for %d", origin, recipient), err)
	}
	return ref, true, nil
}

// Owner возвращает автора логического сообщения по корневой записи.
func (s *Store) Owner(ctx context.Context, origin domain.OriginID) (int64, bool, error) {
	var owner int64
	err := s.db.QueryRowContext(ctx,
		`SELECT recipient_id FROM delivery_records
		  WHERE chat_id = ? AND message_id = ? AND kind = 'root'`,
		origin.ChatID, origin.MessageID,
	).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, storeErr(fmt.Sprintf("owner of %s", origin), err)
	}
	return owner, true, nil
}

// DeleteOrigin удаляет все записи логического сообщения одним выражением,
// так что читатели не видят частично удаленный набор.
func (s *Store) DeleteOrigin(ctx context.Context, origin domain.OriginID) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM delivery_records WHERE origin_chat_id = ? AND origin_message_id = ?`,
		origin.ChatID, origin.MessageID,
	); err != nil {
		return storeErr(fmt.Sprintf("delete origin %s", origin), err)
	}
	return nil
}

// DeleteByOwner удаляет все логические сообщения, автором которых является owner.
func (s *Store) DeleteByOwner(ctx context.Context, owner int64) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM delivery_records
		  WHERE (origin_chat_id, origin_message_id) IN (
		        SELECT chat_id, message_id FROM delivery_records
		         WHERE kind = 'root' AND recipient_id = ?)`,
		owner,
	); err != nil {
		return storeErr(fmt.Sprintf("delete messages of %d", owner), err)
	}
	return nil
}

// Records возвращает все записи логического сообщения.
func (s *Store) Records(ctx context.Context, origin domain.OriginID) ([]domain.DeliveryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, message_id, recipient_id, kind, created_at FROM delivery_records
		  WHERE origin_chat_id = ? AND origin_message_id = ?
		  ORDER BY created_at, chat_id, message_id`,
		origin.ChatID, origin.MessageID)
	if err != nil {
		return nil, storeErr(fmt.Sprintf("records of %s", origin), err)
	}
	defer rows.Close()

	var out []domain.DeliveryRecord
	for rows.Next() {
		var (
			rec       domain.DeliveryRecord
			recipient sql.NullInt64
			kind      string
			createdAt int64
		)
		if err := rows.Scan(&rec.Artifact.ChatID, &rec.Artifact.MessageID, &recipient, &kind, &createdAt); err != nil {
			return nil, storeErr(fmt.Sprintf("records of %s", origin), err)
		}
		rec.Origin = origin
		rec.Recipient = recipient.Int64
		rec.Kind = domain.RecordKind(kind)
		rec.CreatedAt = fromMillis(createdAt)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(fmt.Sprintf("records of %s", origin), err)
	}
	return out, nil
}

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"clinicq/queue-service/internal/models"
	"clinicq/queue-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store keeps all per-clinic queue state in Postgres. The clinic_queues row
// is both the sequence counter and the per-clinic critical section: CheckIn
// and CallNext lock it first, so no two mutations on the same clinic
// interleave, while different clinics never contend.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) CheckIn(ctx context.Context, input store.CheckInInput) (models.Ticket, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	// Upsert without incrementing: this takes the clinic row lock and
	// registers the clinic on first contact.
	var nowServing int64
	row := tx.QueryRow(ctx, `
		INSERT INTO clinic_queues (clinic_id, last_seq, now_serving, created_at, updated_at)
		VALUES ($1, 0, 0, $2, $2)
		ON CONFLICT (clinic_id) DO UPDATE SET updated_at = $2
		RETURNING now_serving
	`, input.ClinicID, createdAt)
	if err = row.Scan(&nowServing); err != nil {
		return models.Ticket{}, false, err
	}

	// Under the lock a duplicate check is race-free. Re-checking-in an
	// already-queued ticket is a no-op that reports the current position
	// and never burns a sequence number.
	existing, found, err := findWaitingTicket(ctx, tx, input.ClinicID, input.TicketID)
	if err != nil {
		return models.Ticket{}, false, err
	}
	if found {
		existing.NowServing = nowServing
		if err = tx.Commit(ctx); err != nil {
			return models.Ticket{}, false, err
		}
		return existing, false, nil
	}

	var seq int64
	row = tx.QueryRow(ctx, `
		UPDATE clinic_queues SET last_seq = last_seq + 1 WHERE clinic_id = $1
		RETURNING last_seq
	`, input.ClinicID)
	if err = row.Scan(&seq); err != nil {
		return models.Ticket{}, false, err
	}

	if _, err = tx.Exec(ctx, `
		INSERT INTO queue_tickets (
			clinic_id, ticket_id, patient_id, seq, patient_name, phone, email,
			doctor_id, doctor_name, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, input.ClinicID, input.TicketID, input.PatientID, seq, input.PatientName,
		input.Phone, input.Email, input.DoctorID, input.DoctorName, createdAt); err != nil {
		return models.Ticket{}, false, err
	}

	// The new sequence is the largest so far, so position equals the queue
	// length after insert.
	var position int
	row = tx.QueryRow(ctx, `SELECT COUNT(*) FROM queue_tickets WHERE clinic_id = $1`, input.ClinicID)
	if err = row.Scan(&position); err != nil {
		return models.Ticket{}, false, err
	}

	ticket := models.Ticket{
		ClinicID:    input.ClinicID,
		TicketID:    input.TicketID,
		PatientID:   input.PatientID,
		Sequence:    seq,
		Position:    position,
		NowServing:  nowServing,
		PatientName: input.PatientName,
		Phone:       input.Phone,
		Email:       input.Email,
		DoctorID:    input.DoctorID,
		DoctorName:  input.DoctorName,
		CreatedAt:   createdAt,
	}

	payload := store.EventPayload{
		ClinicID:    ticket.ClinicID,
		TicketID:    ticket.TicketID,
		PatientID:   ticket.PatientID,
		Sequence:    seq,
		Position:    position,
		NowServing:  nowServing,
		Waiting:     position,
		PatientName: ticket.PatientName,
		Phone:       ticket.Phone,
		Email:       ticket.Email,
		DoctorName:  ticket.DoctorName,
	}
	if err = appendEvent(ctx, tx, store.EventEnqueue, ticket.ClinicID, ticket.TicketID, seq, payload, createdAt); err != nil {
		return models.Ticket{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (s *Store) CallNext(ctx context.Context, clinicID string, calledAt time.Time) (models.Served, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Served{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if calledAt.IsZero() {
		calledAt = time.Now().UTC()
	}

	var lastSeq, nowServing int64
	row := tx.QueryRow(ctx, `
		SELECT last_seq, now_serving FROM clinic_queues WHERE clinic_id = $1
		FOR UPDATE
	`, clinicID)
	if err = row.Scan(&lastSeq, &nowServing); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if err = tx.Commit(ctx); err != nil {
				return models.Served{}, err
			}
			return models.Served{}, store.ErrQueueEmpty
		}
		return models.Served{}, err
	}

	var ticketID, patientID, patientName, phone, email string
	var seq int64
	row = tx.QueryRow(ctx, `
		DELETE FROM queue_tickets
		WHERE clinic_id = $1
		  AND seq = (SELECT MIN(seq) FROM queue_tickets WHERE clinic_id = $1)
		RETURNING ticket_id, patient_id, seq, patient_name, phone, email
	`, clinicID)
	if err = row.Scan(&ticketID, &patientID, &seq, &patientName, &phone, &email); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if err = tx.Commit(ctx); err != nil {
				return models.Served{}, err
			}
			return models.Served{}, store.ErrQueueEmpty
		}
		return models.Served{}, err
	}

	// NowServing is set to the served ticket's own sequence, not
	// incremented, so it always matches a real ticket's ordinal.
	if _, err = tx.Exec(ctx, `
		UPDATE clinic_queues SET now_serving = $2, updated_at = $3 WHERE clinic_id = $1
	`, clinicID, seq, calledAt); err != nil {
		return models.Served{}, err
	}

	var waiting int
	row = tx.QueryRow(ctx, `SELECT COUNT(*) FROM queue_tickets WHERE clinic_id = $1`, clinicID)
	if err = row.Scan(&waiting); err != nil {
		return models.Served{}, err
	}

	served := models.Served{
		ClinicID:   clinicID,
		TicketID:   ticketID,
		PatientID:  patientID,
		Sequence:   seq,
		NowServing: seq,
		Waiting:    waiting,
	}

	// Contact fields ride along so the notification worker can pick a
	// delivery channel after the ticket row is gone.
	payload := store.EventPayload{
		ClinicID:    clinicID,
		TicketID:    ticketID,
		PatientID:   patientID,
		Sequence:    seq,
		NowServing:  seq,
		Waiting:     waiting,
		PatientName: patientName,
		Phone:       phone,
		Email:       email,
	}
	if err = appendEvent(ctx, tx, store.EventDequeue, clinicID, ticketID, seq, payload, calledAt); err != nil {
		return models.Served{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Served{}, err
	}
	return served, nil
}

func (s *Store) GetPosition(ctx context.Context, clinicID, ticketID string) (models.Position, error) {
	position := models.Position{ClinicID: clinicID, TicketID: ticketID}
	row := s.pool.QueryRow(ctx, `
		SELECT (SELECT COUNT(*) FROM queue_tickets w
		        WHERE w.clinic_id = t.clinic_id AND w.seq <= t.seq),
		       q.now_serving
		FROM queue_tickets t
		JOIN clinic_queues q ON q.clinic_id = t.clinic_id
		WHERE t.clinic_id = $1 AND t.ticket_id = $2
	`, clinicID, ticketID)
	err := row.Scan(&position.Position, &position.NowServing)
	if err == nil {
		return position, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Position{}, err
	}

	// Already served or never queued: position 0 with the clinic's current
	// pointer, zero everything if the clinic is unknown as well.
	row = s.pool.QueryRow(ctx, `SELECT now_serving FROM clinic_queues WHERE clinic_id = $1`, clinicID)
	if err := row.Scan(&position.NowServing); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return models.Position{}, err
	}
	return position, nil
}

func (s *Store) GetStatus(ctx context.Context, clinicID string) (models.QueueStatus, error) {
	status := models.QueueStatus{ClinicID: clinicID}
	row := s.pool.QueryRow(ctx, `
		SELECT q.now_serving,
		       (SELECT COUNT(*) FROM queue_tickets t WHERE t.clinic_id = q.clinic_id)
		FROM clinic_queues q
		WHERE q.clinic_id = $1
	`, clinicID)
	if err := row.Scan(&status.NowServing, &status.TotalWaiting); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return status, nil
		}
		return models.QueueStatus{}, err
	}
	return status, nil
}

func (s *Store) ListClinics(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT clinic_id FROM clinic_queues ORDER BY clinic_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clinics []string
	for rows.Next() {
		var clinicID string
		if err := rows.Scan(&clinicID); err != nil {
			return nil, err
		}
		clinics = append(clinics, clinicID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return clinics, nil
}

func (s *Store) ListEvents(ctx context.Context, clinicID string, after time.Time, limit int) ([]store.QueueEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT ord, event_id, clinic_id, type, ticket_id, seq, payload, created_at
		FROM queue_events
		WHERE clinic_id = $1 AND created_at > $2
		ORDER BY ord ASC
		LIMIT $3
	`, clinicID, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *Store) ListEventsAfter(ctx context.Context, offset store.Offset, limit int) ([]store.QueueEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT ord, event_id, clinic_id, type, ticket_id, seq, payload, created_at
		FROM queue_events
		WHERE ord > $1
		ORDER BY ord ASC
		LIMIT $2
	`, offset.LastOrd, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *Store) GetOffset(ctx context.Context, consumer string) (store.Offset, error) {
	var offset store.Offset
	row := s.pool.QueryRow(ctx, `
		SELECT last_ord FROM consumer_offsets WHERE consumer = $1
	`, consumer)
	if err := row.Scan(&offset.LastOrd); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Offset{}, nil
		}
		return store.Offset{}, err
	}
	return offset, nil
}

func (s *Store) UpdateOffset(ctx context.Context, consumer string, offset store.Offset) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO consumer_offsets (consumer, last_ord)
		VALUES ($1, $2)
		ON CONFLICT (consumer) DO UPDATE
		SET last_ord = $2
	`, consumer, offset.LastOrd)
	return err
}

func (s *Store) InsertNotification(ctx context.Context, notification store.Notification) error {
	createdAt := notification.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (
			notification_id, clinic_id, ticket_id, patient_id, type, channel,
			recipient, body, status, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, notification.NotificationID, notification.ClinicID, notification.TicketID,
		notification.PatientID, notification.Type, notification.Channel,
		notification.Recipient, notification.Body, notification.Status, createdAt)
	return err
}

func (s *Store) MarkNotificationSent(ctx context.Context, notificationID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notifications SET status = 'sent' WHERE notification_id = $1
	`, notificationID)
	return err
}

func (s *Store) MarkNotificationFailed(ctx context.Context, notificationID, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notifications SET status = 'failed', error = $2 WHERE notification_id = $1
	`, notificationID, reason)
	return err
}

func findWaitingTicket(ctx context.Context, tx pgx.Tx, clinicID, ticketID string) (models.Ticket, bool, error) {
	var ticket models.Ticket
	row := tx.QueryRow(ctx, `
		SELECT t.ticket_id, t.patient_id, t.seq,
		       (SELECT COUNT(*) FROM queue_tickets w
		        WHERE w.clinic_id = t.clinic_id AND w.seq <= t.seq),
		       t.patient_name, t.phone, t.email, t.doctor_id, t.doctor_name, t.created_at
		FROM queue_tickets t
		WHERE t.clinic_id = $1 AND t.ticket_id = $2
	`, clinicID, ticketID)
	err := row.Scan(&ticket.TicketID, &ticket.PatientID, &ticket.Sequence, &ticket.Position,
		&ticket.PatientName, &ticket.Phone, &ticket.Email, &ticket.DoctorID,
		&ticket.DoctorName, &ticket.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	ticket.ClinicID = clinicID
	return ticket, true, nil
}

func appendEvent(ctx context.Context, tx pgx.Tx, eventType, clinicID, ticketID string, seq int64, payload store.EventPayload, createdAt time.Time) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO queue_events (event_id, clinic_id, type, ticket_id, seq, payload, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, uuid.NewString(), clinicID, eventType, ticketID, seq, body, createdAt)
	return err
}

func scanEvents(rows pgx.Rows) ([]store.QueueEvent, error) {
	var events []store.QueueEvent
	for rows.Next() {
		var event store.QueueEvent
		if err := rows.Scan(&event.Ord, &event.EventID, &event.ClinicID, &event.Type, &event.TicketID,
			&event.Sequence, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Mutter0815/liftsmail/internal/mailing"
	"github.com/Mutter0815/liftsmail/internal/recurrence"
)

func insertSession(ctx context.Context, q querier, es mailing.EmailSession) (mailing.EmailSession, error) {
	err := q.QueryRowContext(ctx, `
		INSERT INTO email_sessions (user_id, session, group_id, template_id, mode, one_off, schedule_time)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id, created_at`,
		es.UserID, es.Session, es.GroupID, es.TemplateID, string(es.Mode), es.OneOff, es.ScheduleTime,
	).Scan(&es.ID, &es.CreatedAt)
	if err != nil {
		return mailing.EmailSession{}, classify(err)
	}
	return es, nil
}

func (s *Store) RecordSession(ctx context.Context, es mailing.EmailSession) (mailing.EmailSession, error) {
	return insertSession(ctx, s.DB, es)
}

// GetOrCreateCrontab returns the id of the schedule row matching spec,
// inserting it on first use. Concurrent callers converge on one row.
func (s *Store) GetOrCreateCrontab(ctx context.Context, q querier, spec recurrence.TriggerSpec) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO crontab_schedules (minute, hour, day_of_month, month_of_year, day_of_week, timezone)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (minute, hour, day_of_month, month_of_year, day_of_week, timezone)
		DO UPDATE SET minute = EXCLUDED.minute
		RETURNING id`,
		spec.Minute, spec.Hour, spec.DayOfMonth, spec.MonthOfYear, spec.DayOfWeek, spec.Timezone,
	).Scan(&id)
	return id, err
}

// RecordScheduled writes the session, its crontab and its periodic task in
// one transaction.
func (s *Store) RecordScheduled(ctx context.Context, es mailing.EmailSession, t mailing.Trigger) (mailing.EmailSession, mailing.Trigger, error) {
	args, err := json.Marshal(t.Payload)
	if err != nil {
		return mailing.EmailSession{}, mailing.Trigger{}, fmt.Errorf("marshal trigger args: %w", err)
	}
	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		var e error
		if es, e = insertSession(ctx, tx, es); e != nil {
			return e
		}
		crontabID, e := s.GetOrCreateCrontab(ctx, tx, t.Spec)
		if e != nil {
			return fmt.Errorf("crontab: %w", e)
		}
		t.SessionID = es.ID
		e = tx.QueryRowContext(ctx, `
			INSERT INTO periodic_tasks (name, task, crontab_id, args, one_off, enabled, start_time, expires, session_id)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			RETURNING id, created_at`,
			t.Name, t.Task, crontabID, args, t.OneOff, t.Enabled, t.StartTime, t.Expires, t.SessionID,
		).Scan(&t.ID, &t.CreatedAt)
		return classify(e)
	})
	if err != nil {
		return mailing.EmailSession{}, mailing.Trigger{}, err
	}
	return es, t, nil
}

func (s *Store) ListSessions(ctx context.Context, userID int64, limit, offset int) ([]mailing.EmailSession, error) {
	if limit <= 0 || limit > 1000 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, user_id, session, group_id, template_id, mode, one_off, schedule_time, created_at
		FROM email_sessions
		WHERE user_id = $1
		ORDER BY id DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []mailing.EmailSession{}
	for rows.Next() {
		var (
			es   mailing.EmailSession
			tpl  sql.NullInt64
			at   sql.NullTime
			mode string
		)
		if err := rows.Scan(&es.ID, &es.UserID, &es.Session, &es.GroupID, &tpl, &mode, &es.OneOff, &at, &es.CreatedAt); err != nil {
			return nil, err
		}
		es.Mode = mailing.Mode(mode)
		if tpl.Valid {
			es.TemplateID = &tpl.Int64
		}
		es.ScheduleTime = nullTime(at)
		out = append(out, es)
	}
	return out, rows.Err()
}

const triggerColumns = `
	pt.id, pt.name, pt.task,
	c.minute, c.hour, c.day_of_month, c.month_of_year, c.day_of_week, c.timezone,
	pt.args, pt.one_off, pt.enabled, pt.start_time, pt.expires, pt.last_run_at,
	pt.total_run_count, pt.session_id, pt.created_at`

func scanTriggers(rows *sql.Rows) ([]mailing.Trigger, error) {
	defer rows.Close()
	out := []mailing.Trigger{}
	for rows.Next() {
		var (
			t                    mailing.Trigger
			args                 []byte
			start, expires, last sql.NullTime
		)
		err := rows.Scan(&t.ID, &t.Name, &t.Task,
			&t.Spec.Minute, &t.Spec.Hour, &t.Spec.DayOfMonth, &t.Spec.MonthOfYear, &t.Spec.DayOfWeek, &t.Spec.Timezone,
			&args, &t.OneOff, &t.Enabled, &start, &expires, &last,
			&t.TotalRunCount, &t.SessionID, &t.CreatedAt)
		if err != nil {
			return nil, err
		}
		if len(args) > 0 {
			if err := json.Unmarshal(args, &t.Payload); err != nil {
				return nil, fmt.Errorf("trigger %d args: %w", t.ID, err)
			}
		}
		t.StartTime = nullTime(start)
		t.Expires = nullTime(expires)
		t.LastRunAt = nullTime(last)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) ListEnabledTriggers(ctx context.Context) ([]mailing.Trigger, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT`+triggerColumns+`
		FROM periodic_tasks pt
		JOIN crontab_schedules c ON c.id = pt.crontab_id
		WHERE pt.enabled
		ORDER BY pt.id`)
	if err != nil {
		return nil, err
	}
	return scanTriggers(rows)
}

// ListTriggers returns the triggers owned by userID through their session.
func (s *Store) ListTriggers(ctx context.Context, userID int64) ([]mailing.Trigger, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT`+triggerColumns+`
		FROM periodic_tasks pt
		JOIN crontab_schedules c ON c.id = pt.crontab_id
		JOIN email_sessions es ON es.id = pt.session_id
		WHERE es.user_id = $1
		ORDER BY pt.id`, userID)
	if err != nil {
		return nil, err
	}
	return scanTriggers(rows)
}

// MarkTriggerRun records one fire. disable switches the trigger off in the
// same statement.
func (s *Store) MarkTriggerRun(ctx context.Context, id int64, at time.Time, disable bool) error {
	return affected(s.DB.ExecContext(ctx, `
		UPDATE periodic_tasks
		   SET last_run_at=$1, total_run_count=total_run_count+1, enabled=enabled AND NOT $2
		 WHERE id=$3`, at, disable, id))
}

func (s *Store) DisableTrigger(ctx context.Context, id int64) error {
	return affected(s.DB.ExecContext(ctx, `UPDATE periodic_tasks SET enabled=false WHERE id=$1`, id))
}

// DeleteTrigger cancels future fires of a trigger owned by userID. Jobs
// already published are not recalled.
func (s *Store) DeleteTrigger(ctx context.Context, userID, id int64) error {
	return affected(s.DB.ExecContext(ctx, `
		DELETE FROM periodic_tasks pt
		 USING email_sessions es
		 WHERE pt.id=$1 AND es.id = pt.session_id AND es.user_id=$2`, id, userID))
}

func nullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/talgya/tamagochai/internal/companion"
	"github.com/talgya/tamagochai/internal/evolution"
	"github.com/talgya/tamagochai/internal/hormone"
)

// queries implements companion.Repo over either the pool or a transaction.
type queries struct {
	ext sqlx.ExtContext
}

// Times are stored as unix milliseconds; zero maps to the zero time.
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

type entityRow struct {
	ID              string `db:"id"`
	Name            string `db:"name"`
	CreatedAt       int64  `db:"created_at"`
	LastInteraction int64  `db:"last_interaction_at"`
	TotalMessages   int64  `db:"total_messages"`
	TotalXP         int64  `db:"total_xp"`
	Stage           string `db:"stage"`
}

func (r entityRow) entity() companion.Entity {
	return companion.Entity{
		ID:              r.ID,
		Name:            r.Name,
		CreatedAt:       fromMillis(r.CreatedAt),
		LastInteraction: fromMillis(r.LastInteraction),
		TotalMessages:   r.TotalMessages,
		TotalXP:         r.TotalXP,
		Stage:           evolution.Stage(r.Stage),
	}
}

type hormoneRow struct {
	hormone.Levels
	LastDecay int64 `db:"last_decay"`
	Version   int64 `db:"version"`
}

type historyRow struct {
	hormone.Levels
	Trigger   string `db:"trigger_label"`
	Timestamp int64  `db:"timestamp"`
}

type xpEventRow struct {
	ID         string  `db:"id"`
	EntityID   string  `db:"entity_id"`
	Source     string  `db:"source"`
	Amount     int64   `db:"amount"`
	BaseAmount int64   `db:"base_amount"`
	Multiplier float64 `db:"multiplier"`
	Metadata   string  `db:"metadata"`
	Timestamp  int64   `db:"timestamp"`
}

type transitionRow struct {
	ID         string `db:"id"`
	EntityID   string `db:"entity_id"`
	From       string `db:"from_stage"`
	To         string `db:"to_stage"`
	XP         int64  `db:"xp_at_transition"`
	Timestamp  int64  `db:"timestamp"`
	Celebrated bool   `db:"celebrated"`
}

func notFound(err error, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", companion.ErrEntityNotFound, id)
	}
	return err
}

// checkAffected maps a zero-row update to ErrEntityNotFound.
func checkAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", companion.ErrEntityNotFound, id)
	}
	return nil
}

// ── Entities ─────────────────────────────────────────────────────────

func (q queries) Entity(ctx context.Context, id string) (companion.Entity, error) {
	var row entityRow
	err := sqlx.GetContext(ctx, q.ext, &row,
		`SELECT id, name, created_at, last_interaction_at, total_messages, total_xp, stage
		FROM entities WHERE id = ?`, id)
	if err != nil {
		return companion.Entity{}, notFound(err, id)
	}
	return row.entity(), nil
}

// Entities lists every stored companion, oldest first.
func (q queries) Entities(ctx context.Context) ([]companion.Entity, error) {
	var rows []entityRow
	err := sqlx.SelectContext(ctx, q.ext, &rows,
		`SELECT id, name, created_at, last_interaction_at, total_messages, total_xp, stage
		FROM entities ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	out := make([]companion.Entity, len(rows))
	for i, r := range rows {
		out[i] = r.entity()
	}
	return out, nil
}

func (q queries) CreateEntity(ctx context.Context, e companion.Entity, st hormone.State) error {
	_, err := q.ext.ExecContext(ctx,
		`INSERT INTO entities (id, name, created_at, last_interaction_at, total_messages, total_xp, stage)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Name, toMillis(e.CreatedAt), toMillis(e.LastInteraction), e.TotalMessages, e.TotalXP, string(e.Stage))
	if err != nil {
		return fmt.Errorf("insert entity %s: %w", e.ID, err)
	}
	l := st.Levels
	_, err = q.ext.ExecContext(ctx,
		`INSERT INTO hormone_state (entity_id, dopamine, serotonin, oxytocin, cortisol, adrenaline, endorphins, last_decay, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		e.ID, l.Dopamine, l.Serotonin, l.Oxytocin, l.Cortisol, l.Adrenaline, l.Endorphins, toMillis(st.LastDecay))
	if err != nil {
		return fmt.Errorf("insert hormone state %s: %w", e.ID, err)
	}
	return nil
}

func (q queries) ResetEntity(ctx context.Context, id string, st hormone.State, at time.Time) error {
	res, err := q.ext.ExecContext(ctx,
		`UPDATE entities SET total_xp = 0, total_messages = 0, stage = ?, last_interaction_at = ? WHERE id = ?`,
		string(evolution.Emergence), toMillis(at), id)
	if err != nil {
		return fmt.Errorf("reset entity %s: %w", id, err)
	}
	if err := checkAffected(res, id); err != nil {
		return err
	}
	for _, table := range []string{"hormone_history", "xp_events", "evolution_events"} {
		if _, err := q.ext.ExecContext(ctx, "DELETE FROM "+table+" WHERE entity_id = ?", id); err != nil {
			return fmt.Errorf("clear %s for %s: %w", table, id, err)
		}
	}
	l := st.Levels
	_, err = q.ext.ExecContext(ctx,
		`UPDATE hormone_state SET dopamine = ?, serotonin = ?, oxytocin = ?, cortisol = ?, adrenaline = ?, endorphins = ?,
		last_decay = ?, version = version + 1 WHERE entity_id = ?`,
		l.Dopamine, l.Serotonin, l.Oxytocin, l.Cortisol, l.Adrenaline, l.Endorphins, toMillis(st.LastDecay), id)
	if err != nil {
		return fmt.Errorf("reset hormone state %s: %w", id, err)
	}
	return nil
}

func (q queries) TouchInteraction(ctx context.Context, id string, at time.Time, messages int64) error {
	res, err := q.ext.ExecContext(ctx,
		`UPDATE entities SET last_interaction_at = ?, total_messages = total_messages + ? WHERE id = ?`,
		toMillis(at), messages, id)
	if err != nil {
		return fmt.Errorf("touch entity %s: %w", id, err)
	}
	return checkAffected(res, id)
}

// ── XP and stages ────────────────────────────────────────────────────

func (q queries) ReadTotalXP(ctx context.Context, id string) (int64, error) {
	var xp int64
	if err := sqlx.GetContext(ctx, q.ext, &xp, "SELECT total_xp FROM entities WHERE id = ?", id); err != nil {
		return 0, notFound(err, id)
	}
	return xp, nil
}

func (q queries) IncrementTotalXP(ctx context.Context, id string, delta int64) (int64, error) {
	var xp int64
	err := sqlx.GetContext(ctx, q.ext, &xp,
		"UPDATE entities SET total_xp = total_xp + ? WHERE id = ? RETURNING total_xp", delta, id)
	if err != nil {
		return 0, notFound(err, id)
	}
	return xp, nil
}

func (q queries) ReadStage(ctx context.Context, id string) (evolution.Stage, error) {
	var stage string
	if err := sqlx.GetContext(ctx, q.ext, &stage, "SELECT stage FROM entities WHERE id = ?", id); err != nil {
		return "", notFound(err, id)
	}
	return evolution.Stage(stage), nil
}

func (q queries) WriteStage(ctx context.Context, id string, stage evolution.Stage) error {
	res, err := q.ext.ExecContext(ctx, "UPDATE entities SET stage = ? WHERE id = ?", string(stage), id)
	if err != nil {
		return fmt.Errorf("write stage %s: %w", id, err)
	}
	return checkAffected(res, id)
}

func (q queries) AppendXPEvent(ctx context.Context, ev evolution.Event) error {
	var meta string
	if len(ev.Metadata) > 0 {
		b, err := json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("marshal xp metadata: %w", err)
		}
		meta = string(b)
	}
	_, err := q.ext.ExecContext(ctx,
		`INSERT INTO xp_events (id, entity_id, source, amount, base_amount, multiplier, metadata, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.EntityID, string(ev.Source), ev.Amount, ev.BaseAmount, ev.Multiplier, meta, toMillis(ev.Timestamp))
	if err != nil {
		return fmt.Errorf("insert xp event %s: %w", ev.ID, err)
	}
	return nil
}

func (q queries) AppendTransition(ctx context.Context, tr evolution.Transition) error {
	_, err := q.ext.ExecContext(ctx,
		`INSERT INTO evolution_events (id, entity_id, from_stage, to_stage, xp_at_transition, timestamp, celebrated)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tr.ID, tr.EntityID, string(tr.From), string(tr.To), tr.XP, toMillis(tr.Timestamp), tr.Celebrated)
	if err != nil {
		return fmt.Errorf("insert transition %s: %w", tr.ID, err)
	}
	return nil
}

// XPEvents returns the most recent XP events for id, newest first.
func (q queries) XPEvents(ctx context.Context, id string, limit int) ([]evolution.Event, error) {
	var rows []xpEventRow
	err := sqlx.SelectContext(ctx, q.ext, &rows,
		`SELECT id, entity_id, source, amount, base_amount, multiplier, metadata, timestamp
		FROM xp_events WHERE entity_id = ? ORDER BY timestamp DESC, rowid DESC LIMIT ?`, id, limit)
	if err != nil {
		return nil, err
	}
	out := make([]evolution.Event, len(rows))
	for i, r := range rows {
		ev := evolution.Event{
			ID:         r.ID,
			EntityID:   r.EntityID,
			Source:     evolution.Source(r.Source),
			Amount:     r.Amount,
			BaseAmount: r.BaseAmount,
			Multiplier: r.Multiplier,
			Timestamp:  fromMillis(r.Timestamp),
		}
		if r.Metadata != "" {
			if err := json.Unmarshal([]byte(r.Metadata), &ev.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata for %s: %w", r.ID, err)
			}
		}
		out[i] = ev
	}
	return out, nil
}

// PendingCelebrations returns transitions not yet shown to the user, oldest first.
func (q queries) PendingCelebrations(ctx context.Context, id string) ([]evolution.Transition, error) {
	var rows []transitionRow
	err := sqlx.SelectContext(ctx, q.ext, &rows,
		`SELECT id, entity_id, from_stage, to_stage, xp_at_transition, timestamp, celebrated
		FROM evolution_events WHERE entity_id = ? AND celebrated = 0 ORDER BY timestamp, rowid`, id)
	if err != nil {
		return nil, err
	}
	out := make([]evolution.Transition, len(rows))
	for i, r := range rows {
		out[i] = evolution.Transition{
			ID:         r.ID,
			EntityID:   r.EntityID,
			From:       evolution.Stage(r.From),
			To:         evolution.Stage(r.To),
			XP:         r.XP,
			Timestamp:  fromMillis(r.Timestamp),
			Celebrated: r.Celebrated,
		}
	}
	return out, nil
}

// MarkCelebrated flags a transition as shown.
func (q queries) MarkCelebrated(ctx context.Context, transitionID string) error {
	res, err := q.ext.ExecContext(ctx, "UPDATE evolution_events SET celebrated = 1 WHERE id = ?", transitionID)
	if err != nil {
		return fmt.Errorf("mark celebrated %s: %w", transitionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", companion.ErrTransitionNotFound, transitionID)
	}
	return nil
}

// ── Hormones ─────────────────────────────────────────────────────────

func (q queries) ReadHormoneState(ctx context.Context, id string) (companion.HormoneState, error) {
	var row hormoneRow
	err := sqlx.GetContext(ctx, q.ext, &row,
		`SELECT dopamine, serotonin, oxytocin, cortisol, adrenaline, endorphins, last_decay, version
		FROM hormone_state WHERE entity_id = ?`, id)
	if err != nil {
		return companion.HormoneState{}, notFound(err, id)
	}
	return companion.HormoneState{
		State:   hormone.State{Levels: row.Levels, LastDecay: fromMillis(row.LastDecay)},
		Version: row.Version,
	}, nil
}

func (q queries) WriteHormoneState(ctx context.Context, id string, st hormone.State, version int64) error {
	l := st.Levels
	res, err := q.ext.ExecContext(ctx,
		`UPDATE hormone_state SET dopamine = ?, serotonin = ?, oxytocin = ?, cortisol = ?, adrenaline = ?, endorphins = ?,
		last_decay = ?, version = version + 1 WHERE entity_id = ? AND version = ?`,
		l.Dopamine, l.Serotonin, l.Oxytocin, l.Cortisol, l.Adrenaline, l.Endorphins, toMillis(st.LastDecay), id, version)
	if err != nil {
		return fmt.Errorf("write hormone state %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var exists int
	err = sqlx.GetContext(ctx, q.ext, &exists, "SELECT 1 FROM hormone_state WHERE entity_id = ?", id)
	if err != nil {
		return notFound(err, id)
	}
	return fmt.Errorf("%w: %s at version %d", companion.ErrStaleWrite, id, version)
}

func (q queries) AppendHormoneHistory(ctx context.Context, id string, rec companion.HistoryRecord) error {
	l := rec.Levels
	_, err := q.ext.ExecContext(ctx,
		`INSERT INTO hormone_history (entity_id, dopamine, serotonin, oxytocin, cortisol, adrenaline, endorphins, trigger_label, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, l.Dopamine, l.Serotonin, l.Oxytocin, l.Cortisol, l.Adrenaline, l.Endorphins, rec.Trigger, toMillis(rec.Timestamp))
	if err != nil {
		return fmt.Errorf("insert hormone history %s: %w", id, err)
	}
	return nil
}

// HormoneHistory returns the most recent audit records for id, newest first.
func (q queries) HormoneHistory(ctx context.Context, id string, limit int) ([]companion.HistoryRecord, error) {
	var rows []historyRow
	err := sqlx.SelectContext(ctx, q.ext, &rows,
		`SELECT dopamine, serotonin, oxytocin, cortisol, adrenaline, endorphins, trigger_label, timestamp
		FROM hormone_history WHERE entity_id = ? ORDER BY id DESC LIMIT ?`, id, limit)
	if err != nil {
		return nil, err
	}
	out := make([]companion.HistoryRecord, len(rows))
	for i, r := range rows {
		out[i] = companion.HistoryRecord{Levels: r.Levels, Trigger: r.Trigger, Timestamp: fromMillis(r.Timestamp)}
	}
	return out, nil
}

// PruneHormoneHistory deletes audit records older than before.
func (q queries) PruneHormoneHistory(ctx context.Context, before time.Time) (int64, error) {
	res, err := q.ext.ExecContext(ctx, "DELETE FROM hormone_history WHERE timestamp < ?", toMillis(before))
	if err != nil {
		return 0, fmt.Errorf("prune hormone history: %w", err)
	}
	return res.RowsAffected()
}

package community

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ValidateTip checks that a tip can be offered before a checkout session is created
func (m *Manager) ValidateTip(ctx context.Context, viewer *Identity, writerID, writingID string) (*Profile, error) {
	if err := requireUser(viewer); err != nil {
		return nil, err
	}
	if writerID == "" {
		return nil, invalid("writer_id", "is required")
	}
	if writerID == viewer.UserID {
		return nil, invalid("writer_id", "cannot tip yourself")
	}
	writer, err := m.content.GetProfile(ctx, writerID)
	if err != nil {
		return nil, err
	}
	if writingID != "" {
		w, err := m.GetWriting(ctx, viewer, writingID)
		if err != nil {
			return nil, err
		}
		if w.AuthorID != writerID {
			return nil, invalid("writing_id", "does not belong to the writer")
		}
	}
	return writer, nil
}

// RecordTip stores a completed tip. Recording the same checkout session twice is a no-op.
func (m *Manager) RecordTip(ctx context.Context, tip *Tip) (bool, error) {
	if tip == nil || tip.ID == "" {
		return false, invalid("tip", "id is required")
	}
	if tip.WriterID == "" || tip.AmountCents <= 0 {
		return false, invalid("tip", "writer and a positive amount are required")
	}
	if tip.TipperID != "" && tip.TipperID == tip.WriterID {
		return false, invalid("tip", "tipper and writer must differ")
	}
	tip.Currency = strings.ToLower(tip.Currency)
	if tip.CreatedAt.IsZero() {
		tip.CreatedAt = m.now()
	}

	if err := m.content.RecordTip(ctx, tip); err != nil {
		if errors.Is(err, ErrDuplicate) {
			m.logger.Debug("tip already recorded", Field{"tip_id", tip.ID})
			return false, nil
		}
		return false, fmt.Errorf("failed to record tip: %w", err)
	}
	m.metrics.RecordTip(tip.Currency, tip.AmountCents)
	m.logger.Info("tip recorded",
		Field{"tip_id", tip.ID},
		Field{"writer_id", tip.WriterID},
		Field{"amount_cents", tip.AmountCents},
		Field{"currency", tip.Currency},
	)
	return true, nil
}

// TipsForWriter returns the tips a writer received with per-currency totals.
// Writers see their own tips; admins see anyone's.
func (m *Manager) TipsForWriter(ctx context.Context, viewer *Identity, writerID string) (*TipSummary, error) {
	if err := requireUser(viewer); err != nil {
		return nil, err
	}
	if writerID != viewer.UserID && viewer.Role != RoleAdmin {
		return nil, ErrForbidden
	}
	tips, err := m.content.ListTipsForWriter(ctx, writerID)
	if err != nil {
		return nil, err
	}
	summary := &TipSummary{WriterID: writerID, Tips: tips, TotalCents: make(map[string]int64)}
	for _, t := range tips {
		summary.TotalCents[t.Currency] += t.AmountCents
	}
	return summary, nil
}

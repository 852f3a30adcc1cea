package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"finagent/internal/store/model"
)

// legalTransitions 定义每个状态允许迁往的下一批状态，终态条目为空。
var legalTransitions = map[model.TradeStatus][]model.TradeStatus{
	model.TradeStatusReady:   {model.TradeStatusExecuted, model.TradeStatusFailed, model.TradeStatusCancelled},
	model.TradeStatusPending: {model.TradeStatusExecuted, model.TradeStatusFailed, model.TradeStatusCancelled},
}

func transitionAllowed(from, to model.TradeStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CreateTrade 追加一行审计记录。
func (s *Store) CreateTrade(ctx context.Context, trade *model.TradeModel) error {
	if trade == nil {
		return errors.New("trade cannot be nil")
	}
	if trade.CreatedAtUnix == 0 {
		trade.CreatedAtUnix = time.Now().Unix()
	}
	return s.db.WithContext(ctx).Create(trade).Error
}

// TradeByID 返回指定 ID 的交易。
func (s *Store) TradeByID(ctx context.Context, id int64) (*model.TradeModel, error) {
	var trade model.TradeModel
	err := s.db.WithContext(ctx).First(&trade, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("trade %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &trade, nil
}

// TradeFilter 描述列表查询条件。
type TradeFilter struct {
	Symbol string
	Status model.TradeStatus
	Limit  int
	Offset int
}

// ListTrades 按创建时间倒序分页返回交易与总数。
func (s *Store) ListTrades(ctx context.Context, f TradeFilter) ([]model.TradeModel, int64, error) {
	q := s.db.WithContext(ctx).Model(&model.TradeModel{})
	if f.Symbol != "" {
		q = q.Where("symbol = ?", f.Symbol)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var trades []model.TradeModel
	err := q.Order("created_at DESC, id DESC").Limit(limit).Offset(f.Offset).Find(&trades).Error
	if err != nil {
		return nil, 0, err
	}
	return trades, total, nil
}

// PendingTrades 返回等待人工确认的交易。
func (s *Store) PendingTrades(ctx context.Context) ([]model.TradeModel, error) {
	var trades []model.TradeModel
	err := s.db.WithContext(ctx).
		Where("status = ?", model.TradeStatusPending).
		Order("created_at ASC").
		Find(&trades).Error
	return trades, err
}

// TransitionTrade 在单个事务内校验并执行状态迁移；迁移到 executed 时记录
// 执行时间与订单号。终态行不可再变，保证审计轨迹只增不改。
func (s *Store) TransitionTrade(ctx context.Context, id int64, to model.TradeStatus, orderRef string) (*model.TradeModel, error) {
	var out model.TradeModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var trade model.TradeModel
		if err := tx.First(&trade, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("trade %d: %w", id, ErrNotFound)
			}
			return err
		}
		if !transitionAllowed(trade.Status, to) {
			return fmt.Errorf("trade %d: %s → %s: %w", id, trade.Status, to, ErrInvalidTransition)
		}
		updates := map[string]any{"status": to}
		if to == model.TradeStatusExecuted {
			now := time.Now().Unix()
			updates["executed_at"] = now
			trade.ExecutedAtUnix = &now
			if orderRef != "" {
				updates["order_ref"] = orderRef
				trade.OrderRef = orderRef
			}
		}
		if err := tx.Model(&model.TradeModel{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		trade.Status = to
		out = trade
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AppendFailureNote 给一次失败迁移补充原因，追加在 reasoning 之后。
func (s *Store) AppendFailureNote(ctx context.Context, id int64, note string) error {
	if note == "" {
		return nil
	}
	return s.db.WithContext(ctx).Model(&model.TradeModel{}).
		Where("id = ?", id).
		Update("reasoning", gorm.Expr("reasoning || ?", "\n"+note)).Error
}

// DailyRealizedPnL 汇总 loc 时区下今日已执行非 advisory 交易的已实现盈亏：
// 卖出计正、买入计负的现金流合计。
func (s *Store) DailyRealizedPnL(ctx context.Context, now time.Time, loc *time.Location) (float64, error) {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).Unix()

	var trades []model.TradeModel
	err := s.db.WithContext(ctx).
		Where("status = ? AND executed_at >= ?", model.TradeStatusExecuted, dayStart).
		Find(&trades).Error
	if err != nil {
		return 0, err
	}
	var pnl float64
	for _, t := range trades {
		flow := t.Price * float64(t.Quantity)
		if t.Action == "buy" {
			pnl -= flow
		} else {
			pnl += flow
		}
	}
	return pnl, nil
}

// RecordRun 写入一次运行摘要。
func (s *Store) RecordRun(ctx context.Context, run *model.AgentRunModel) error {
	if run == nil {
		return errors.New("run cannot be nil")
	}
	return s.db.WithContext(ctx).Create(run).Error
}

// RecentRuns 返回最近的运行摘要。
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]model.AgentRunModel, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []model.AgentRunModel
	err := s.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&runs).Error
	return runs, err
}

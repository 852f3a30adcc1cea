package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"finagent/internal/store/model"
)

const agentConfigID = 1

// GetOrCreateAgentConfig 返回全局配置行，不存在时用 defaults 初始化。
func (s *Store) GetOrCreateAgentConfig(ctx context.Context, defaults model.AgentConfigModel) (*model.AgentConfigModel, error) {
	var cfg model.AgentConfigModel
	err := s.db.WithContext(ctx).First(&cfg, agentConfigID).Error
	if err == nil {
		return &cfg, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	defaults.ID = agentConfigID
	if defaults.Version == 0 {
		defaults.Version = 1
	}
	defaults.UpdatedAtUnix = time.Now().Unix()
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&defaults).Error; err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).First(&cfg, agentConfigID).Error; err != nil {
		return nil, err
	}
	return &cfg, nil
}

// UpdateAgentConfig 在事务内对配置行执行 mutate，并以版本号做乐观锁：
// 写回时版本不匹配则返回 ErrVersionConflict。
func (s *Store) UpdateAgentConfig(ctx context.Context, mutate func(*model.AgentConfigModel) error) (*model.AgentConfigModel, error) {
	var out model.AgentConfigModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cfg model.AgentConfigModel
		if err := tx.First(&cfg, agentConfigID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		prevVersion := cfg.Version
		if err := mutate(&cfg); err != nil {
			return err
		}
		cfg.ID = agentConfigID
		cfg.Version = prevVersion + 1
		cfg.UpdatedAtUnix = time.Now().Unix()

		res := tx.Model(&model.AgentConfigModel{}).
			Where("id = ? AND version = ?", agentConfigID, prevVersion).
			Select("*").
			Updates(&cfg)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrVersionConflict
		}
		out = cfg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AddWatchSymbol 把 symbol 加入观察列表，重复添加为幂等操作。
func (s *Store) AddWatchSymbol(ctx context.Context, symbol string) error {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return errors.New("symbol is empty")
	}
	row := model.WatchlistModel{Symbol: symbol, AddedAtUnix: time.Now().Unix()}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "symbol"}}, DoNothing: true}).
		Create(&row).Error
}

// RemoveWatchSymbol 把 symbol 移出观察列表。
func (s *Store) RemoveWatchSymbol(ctx context.Context, symbol string) error {
	symbol = normalizeSymbol(symbol)
	res := s.db.WithContext(ctx).Where("symbol = ?", symbol).Delete(&model.WatchlistModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Watchlist 返回观察列表内的全部 symbol，字典序。
func (s *Store) Watchlist(ctx context.Context) ([]string, error) {
	var rows []model.WatchlistModel
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Symbol)
	}
	sort.Strings(out)
	return out, nil
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

package repository

import (
	"context"
	"strings"

	"github-learning-scout/internal/common"
	"github-learning-scout/internal/domain"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const defaultHistoryLimit = 10

// PostgresStore 实现了 port.SuggestionStore 接口
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore 初始化数据库连接并自动迁移表结构
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	// 1. 连接数据库
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, common.WrapError(common.ErrCodeDatabase, "连接数据库失败", err)
	}

	// 2. 自动迁移，创建 discovery_records 表
	if err := db.AutoMigrate(&domain.DiscoveryRecord{}); err != nil {
		return nil, common.WrapError(common.ErrCodeDatabase, "数据库迁移失败", err)
	}

	return &PostgresStore{db: db}, nil
}

// SaveRun 在一个事务里写入一次运行的全部推荐，Rank 从 1 开始
func (s *PostgresStore) SaveRun(ctx context.Context, runID, concept string, suggestions []domain.RepositorySuggestion) error {
	if len(suggestions) == 0 {
		return nil
	}

	records := make([]domain.DiscoveryRecord, 0, len(suggestions))
	for i, sg := range suggestions {
		r := sg.Repository
		records = append(records, domain.DiscoveryRecord{
			RunID:            runID,
			Concept:          normalizeConcept(concept),
			Rank:             i + 1,
			FullName:         r.FullName,
			URL:              r.URL,
			Description:      r.Description,
			Language:         r.Language,
			Stars:            r.Stars,
			QualityScore:     sg.Quality.OverallScore,
			EducationalValue: sg.EducationalValue,
			RelevanceScore:   sg.RelevanceScore,
			OverallScore:     sg.OverallScore(),
		})
	}

	if err := s.db.WithContext(ctx).Create(&records).Error; err != nil {
		return common.WrapError(common.ErrCodeDatabase, "保存发现记录失败", err)
	}
	return nil
}

// History 按时间倒序返回某个概念的历史推荐
func (s *PostgresStore) History(ctx context.Context, concept string, limit int) ([]domain.DiscoveryRecord, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	var records []domain.DiscoveryRecord
	err := s.db.WithContext(ctx).
		Where("concept = ?", normalizeConcept(concept)).
		Order("created_at desc").
		Order("rank").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, common.WrapError(common.ErrCodeDatabase, "查询发现记录失败", err)
	}
	return records, nil
}

// Close 关闭底层连接池
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// 同一概念的不同写法 ("Go  Channels" / "go channels") 归为一条历史
func normalizeConcept(concept string) string {
	return strings.ToLower(strings.Join(strings.Fields(concept), " "))
}

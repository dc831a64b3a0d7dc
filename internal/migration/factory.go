package migration

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/bytestream/config"
)

// ConfigFrom 由应用的数据库配置构造迁移器配置
func ConfigFrom(dbCfg config.DatabaseConfig, logger *zap.Logger) (*Config, error) {
	dbType, err := ParseDatabaseType(dbCfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}

	var url string
	switch dbType {
	case DatabaseTypeSQLite:
		// sqlite 的 Name 即文件路径
		url = BuildDatabaseURL(dbType, "", 0, dbCfg.Name, "", "", "")
	default:
		url = BuildDatabaseURL(dbType, dbCfg.Host, dbCfg.Port, dbCfg.Name, dbCfg.User, dbCfg.Password, dbCfg.SSLMode)
	}

	return &Config{
		DatabaseType: dbType,
		DatabaseURL:  url,
		TableName:    DefaultTableName,
		Logger:       logger,
	}, nil
}

// NewMigratorFromDatabaseConfig 由应用的数据库配置创建迁移器
func NewMigratorFromDatabaseConfig(dbCfg config.DatabaseConfig, logger *zap.Logger) (*DefaultMigrator, error) {
	cfg, err := ConfigFrom(dbCfg, logger)
	if err != nil {
		return nil, err
	}
	return NewMigrator(cfg)
}

// NewMigratorFromURL 由方言名与连接串创建迁移器
func NewMigratorFromURL(dbType, url string, logger *zap.Logger) (*DefaultMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{
		DatabaseType: dt,
		DatabaseURL:  url,
		TableName:    DefaultTableName,
		Logger:       logger,
	})
}

package db

import (
	"testing"

	"feedshop-rewards/pkg/config"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
)

func TestDialect(t *testing.T) {
	cfg := &config.Config{}

	cfg.Database.Type = "postgres"
	cfg.Database.DBNAME = "feedshop"
	d, err := Dialect(cfg)
	require.NoError(t, err)
	require.IsType(t, &postgres.Dialector{}, d)
	require.Equal(t, "feedshop", getDBNameFromDialector(d))

	cfg.Database.Type = "mysql"
	d, err = Dialect(cfg)
	require.NoError(t, err)
	require.IsType(t, &mysql.Dialector{}, d)
	require.Equal(t, "feedshop", getDBNameFromDialector(d))

	cfg.Database.Type = "sqlite"
	cfg.Database.DBNAME = "rewards.db"
	d, err = Dialect(cfg)
	require.NoError(t, err)
	require.IsType(t, &sqlite.Dialector{}, d)

	cfg.Database.Type = "oracle"
	_, err = Dialect(cfg)
	require.Error(t, err)
}

func TestExtractDBNameFromDSN(t *testing.T) {
	require.Equal(t, "points", extractDBNameFromDSN("host=db user=u dbname=points sslmode=disable"))
	require.Equal(t, "points", extractDBNameFromDSN("u:p@tcp(db:3306)/points?parseTime=True"))
	require.Equal(t, "unknown", extractDBNameFromDSN("host=db"))
}

package repository

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/billingschedule/pkg/db/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type funder struct {
	ID     int64 `gorm:"primaryKey"`
	Type   string
	Active bool
}

func openReader(t *testing.T) (*gorm.DB, Reader[funder]) {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, conn.AutoMigrate(&funder{}))
	require.NoError(t, conn.Create([]funder{
		{ID: 1, Type: "SETA", Active: true},
		{ID: 2, Type: "PRIVATE", Active: true},
		{ID: 3, Type: "SETA", Active: false},
	}).Error)
	return conn, NewReader[funder](conn)
}

func TestReaderFindAppliesOptions(t *testing.T) {
	_, r := openReader(t)

	rows, err := r.Find(context.Background(), &funder{Type: "SETA"},
		option.WithOrder("id", true),
	)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(3), rows[0].ID)

	rows, err = r.Find(context.Background(), nil,
		option.ApplyOperator(option.Condition{Field: "active", Operator: option.EQ, Value: true}),
		option.ApplyOperator(option.Condition{Field: "id", Operator: option.GTE, Value: 2}),
	)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "PRIVATE", rows[0].Type)
}

func TestReaderFindOneMissIsNil(t *testing.T) {
	_, r := openReader(t)

	got, err := r.FindOne(context.Background(), &funder{Type: "MUNICIPALITY"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestReaderRejectsUnsafeField(t *testing.T) {
	_, r := openReader(t)

	_, err := r.Find(context.Background(), nil,
		option.ApplyOperator(option.Condition{Field: "id; DROP TABLE funders", Operator: option.EQ, Value: 1}),
	)
	assert.Error(t, err)
}

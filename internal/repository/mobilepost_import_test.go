package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hkpo/mobilepost-directory/internal/model"
)

func TestWithUpsertTx_Outcomes(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta("ON DUPLICATE KEY UPDATE"))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 2))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 0))
	mock.ExpectCommit()

	var got []UpsertOutcome
	err := repo.WithUpsertTx(context.Background(), func(ctx context.Context, up Upserter) error {
		for seq := 1; seq <= 3; seq++ {
			o, err := up.Upsert(ctx, &model.MobilePost{MobileCode: "MO1", DayOfWeekCode: 1, Seq: seq})
			if err != nil {
				return err
			}
			got = append(got, o)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []UpsertOutcome{Inserted, Updated, Unchanged}, got)
}

func TestWithUpsertTx_RollsBackOnError(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO mobilepost")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectRollback()

	abort := errors.New("bad record")
	err := repo.WithUpsertTx(context.Background(), func(ctx context.Context, up Upserter) error {
		if _, err := up.Upsert(ctx, &model.MobilePost{MobileCode: "MO1", DayOfWeekCode: 1, Seq: 1}); err != nil {
			return err
		}
		return abort
	})
	assert.ErrorIs(t, err, abort)
}

func TestUpsertOutcomeString(t *testing.T) {
	assert.Equal(t, "inserted", Inserted.String())
	assert.Equal(t, "updated", Updated.String())
	assert.Equal(t, "unchanged", Unchanged.String())
}

package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/texturin/catatbot/internal/models"
)

func TestMemoryAppendFindDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()

	ref1, err := m.Append(ctx, "Dompet Holja", Entry{
		TxID: "ev1|0", EventID: "ev1", Date: time.Now(),
		Description: "beli cat", Type: models.TypeExpense, Amount: 500_000,
		ProjectName: "Taman Indah",
	})
	require.NoError(t, err)

	_, err = m.Append(ctx, "Dompet Holja", Entry{
		TxID: "ev1|1", EventID: "ev1", Date: time.Now(),
		Description: "beli kuas", Type: models.TypeExpense, Amount: 50_000,
		ProjectName: "Taman Indah",
	})
	require.NoError(t, err)

	rows, err := m.FindByEventID(ctx, "ev1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "ev1|0", rows[0].TxID)

	require.NoError(t, m.Delete(ctx, ref1))
	rows, err = m.FindByEventID(ctx, "ev1")
	require.NoError(t, err)
	require.Len(t, rows, 1)

	require.ErrorIs(t, m.Delete(ctx, ref1), ErrRowNotFound)
}

func TestMemoryUpdateAmount(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()

	ref, err := m.Append(ctx, "Dompet Evan", Entry{
		TxID: "ev2|0", EventID: "ev2", Date: time.Now(),
		Description: "bayar listrik", Type: models.TypeExpense, Amount: 350_000,
	})
	require.NoError(t, err)

	require.NoError(t, m.UpdateAmount(ctx, ref, 300_000))

	rows, err := m.FindByEventID(ctx, "ev2")
	require.NoError(t, err)
	require.Equal(t, int64(300_000), rows[0].Amount)

	require.ErrorIs(t, m.UpdateAmount(ctx, RowRef{Wallet: "Dompet Evan", ID: "missing"}, 1), ErrRowNotFound)
}

func TestMemoryRecent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()

	now := time.Now()
	for i, age := range []time.Duration{0, 24 * time.Hour, 10 * 24 * time.Hour} {
		_, err := m.Append(ctx, "Dompet Holja", Entry{
			TxID: models.TxIDFor("ev", i), EventID: "ev", Date: now.Add(-age),
			Description: "x", Type: models.TypeExpense, Amount: 1000,
		})
		require.NoError(t, err)
	}

	rows, err := m.Recent(ctx, 7, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.True(t, rows[0].Date.After(rows[1].Date))

	rows, err = m.Recent(ctx, 7, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestMemoryProjectNames(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()

	for _, name := range []string{"Purana", "Taman Indah", "Purana", ""} {
		_, err := m.Append(ctx, "Dompet Holja", Entry{
			TxID: "t", EventID: "e", Date: time.Now(),
			Type: models.TypeExpense, Amount: 1000, ProjectName: name,
		})
		require.NoError(t, err)
	}

	names, err := m.ProjectNames(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"Purana", "Taman Indah"}, names)
}

func TestMemoryDebts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.AppendDebt(ctx, DebtRecord{
		Borrower: "Dompet Holja", Lender: "Dompet Evan",
		Amount: 2_000_000, EventID: "ev3", EntryDate: time.Now(),
	}))

	open, err := m.OpenDebts(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)

	require.NoError(t, m.SettleDebt(ctx, "ev3"))
	open, err = m.OpenDebts(ctx)
	require.NoError(t, err)
	require.Empty(t, open)

	require.ErrorIs(t, m.SettleDebt(ctx, "ev3"), ErrDebtNotFound)
}

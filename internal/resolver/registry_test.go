package resolver

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryBindAndGet(t *testing.T) {
	t.Parallel()

	r := NewRegistry()

	require.NoError(t, r.Bind("Purana", "Dompet Holja", "HOLLA"))
	require.ErrorIs(t, r.Bind("purana (Start)", "Dompet Evan", "KANTOR"), ErrAlreadyBound)

	b, ok := r.Get("PURANA")
	require.True(t, ok)
	require.Equal(t, "Dompet Holja", b.Wallet)
	require.Equal(t, "HOLLA", b.Company)

	_, ok = r.Get("Taman Indah")
	require.False(t, ok)
}

func TestRegistryMoveAudited(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Bind("Purana", "Dompet Holja", "HOLLA"))

	require.ErrorIs(t, r.Move("Taman Indah", "Dompet Evan", "KANTOR", ReasonUserMove), ErrNotBound)
	require.NoError(t, r.Move("Purana", "Dompet Evan", "KANTOR", ReasonUserMove))

	b, ok := r.Get("Purana")
	require.True(t, ok)
	require.Equal(t, "Dompet Evan", b.Wallet)

	audit := r.Audit()
	require.Len(t, audit, 2)
	require.Equal(t, ReasonNew, audit[0].Reason)
	require.Equal(t, ReasonUserMove, audit[1].Reason)
	require.Equal(t, "Dompet Holja", audit[1].FromWallet)
	require.Equal(t, "Dompet Evan", audit[1].ToWallet)
}

func TestRegistrySnapshotRestore(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Bind("Purana", "Dompet Holja", "HOLLA"))
	require.NoError(t, r.Bind("Taman Indah", "Dompet Evan", "KANTOR"))

	snap := r.Snapshot()

	fresh := NewRegistry()
	fresh.Restore(snap)

	b, ok := fresh.Get("Purana")
	require.True(t, ok)
	require.Equal(t, "Dompet Holja", b.Wallet)
	require.Len(t, fresh.Audit(), 2)
}

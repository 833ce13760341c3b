package wallets

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProjectSelectionByIdx(t *testing.T) {
	t.Parallel()

	sel, ok := ProjectSelectionByIdx(3)
	require.True(t, ok)
	require.Equal(t, DompetTexSby, sel.Dompet)
	require.Equal(t, "TEXTURIN-Surabaya", sel.Company)

	_, ok = ProjectSelectionByIdx(0)
	require.False(t, ok)
	_, ok = ProjectSelectionByIdx(6)
	require.False(t, ok)
}

func TestOperationalSelectionByIdx(t *testing.T) {
	t.Parallel()

	sel, ok := OperationalSelectionByIdx(4)
	require.True(t, ok)
	require.Equal(t, DompetPribadi, sel.Dompet)

	_, ok = OperationalSelectionByIdx(5)
	require.False(t, ok)
}

func TestDompetForCompany(t *testing.T) {
	t.Parallel()

	require.Equal(t, DompetHolja, DompetForCompany("HOJJA"))
	require.Equal(t, DompetEvan, DompetForCompany("TEXTURIN-Bali"))
	require.Equal(t, DompetHolja, DompetForCompany("unknown company"))
}

func TestMatchDompet(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mention string
		want    string
		ok      bool
	}{
		{"TX SBY", DompetTexSby, true},
		{"dompet evan", DompetEvan, true},
		{"holja", DompetHolja, true},
		{"bali", DompetEvan, true},
		{"", "", false},
		{"dompet antah", "", false},
	}

	for _, tt := range tests {
		got, ok := MatchDompet(tt.mention)
		require.Equal(t, tt.ok, ok, tt.mention)
		require.Equal(t, tt.want, got, tt.mention)
	}
}

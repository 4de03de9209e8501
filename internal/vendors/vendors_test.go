package vendors

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agor/agor/internal/common/logger"
	v1 "github.com/agor/agor/pkg/api/v1"
)

func TestNewDispatchesByFamily(t *testing.T) {
	log := logger.Default()

	cases := []struct {
		family v1.VendorFamily
		want   v1.VendorFamily
	}{
		{v1.VendorClaudeCode, v1.VendorClaudeCode},
		{v1.VendorCodex, v1.VendorCodex},
		{v1.VendorOpenCode, v1.VendorOpenCode},
		{v1.VendorGemini, v1.VendorGemini},
	}

	for _, tc := range cases {
		adapter, err := New(tc.family, log)
		require.NoError(t, err)
		require.Equal(t, tc.want, adapter.Family())
	}
}

func TestNewUnknownFamily(t *testing.T) {
	_, err := New(v1.VendorFamily("nonexistent"), logger.Default())
	require.Error(t, err)
}

package memory

import (
	"context"
	"testing"

	"github.com/pw-escrow/backend/internal/models"
	"github.com/pw-escrow/backend/internal/repositories"
	"github.com/pw-escrow/backend/internal/repositories/storetest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) repositories.Store { return New() })
}

func TestEscrowCodesStartAtFirstCode(t *testing.T) {
	s := New()
	for _, want := range []string{"PW-100000", "PW-100001"} {
		e := &models.Escrow{
			BuyerID:   1,
			SellerID:  2,
			DealTitle: "deal",
			Amount:    decimal.NewFromInt(100),
			State:     models.StateCreated,
		}
		require.NoError(t, s.CreateEscrow(context.Background(), e))
		require.Equal(t, want, e.Code)
	}
}

package query_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"LendingLedger/internal/address"
	"LendingLedger/internal/event"
	"LendingLedger/internal/persistence"
	"LendingLedger/internal/query"
	"LendingLedger/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegration_StoreToPosition(t *testing.T) {
	testutil.RequireIntegration(t)
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	store := persistence.NewStore(db)
	write := func(ev event.Event, n int) {
		t.Helper()
		id := uuid.New()
		fields, err := json.Marshal(ev)
		require.NoError(t, err)
		require.NoError(t, store.WriteRaw(ctx, event.RawRecord{
			ID:              id,
			ContractPackage: market,
			EventType:       ev.Kind().String(),
			Payload:         fields,
			ReceivedAt:      at.Add(time.Duration(n) * time.Second),
		}))
		require.NoError(t, store.WriteLedgerEvent(ctx, id, ev))
	}

	src := event.Meta{Source: event.Provenance{ContractPackage: market, ReceivedAt: at}}
	write(&event.Deposit{Meta: src, Account: address.Identity(account), Amount: "1000"}, 1)
	write(&event.Withdraw{Meta: src, Account: address.Identity(account), Amount: "200"}, 2)
	write(&event.Borrow{Meta: src, Account: address.Identity(account), Amount: "300"}, 3)

	pos, err := query.NewService(db).AccountPosition(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, "1000", pos.Totals.Deposits)
	assert.Equal(t, "800", pos.Net.Supply)
	assert.Equal(t, "300", pos.Net.Borrow)

	act, err := query.NewService(db).AccountActivity(ctx, account, 0)
	require.NoError(t, err)
	require.Len(t, act, 3)
	assert.Equal(t, "Borrow", act[0].Type)
}

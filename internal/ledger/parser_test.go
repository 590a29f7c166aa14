package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRPCBatchRoundingAndDefaults(t *testing.T) {
	raw := `{"transactions":[
		{"txid":"0","fee":-0.00040000},
		{"txid":"1","fee":0.00000003}
	]}`

	batch := ParseRPCBatch([]byte(raw))
	require.Equal(t, 2, batch.Len())

	r0 := batch.Records["0--"]
	require.NotNil(t, r0)
	assert.Equal(t, int64(40000), r0.Fee)

	r1 := batch.Records["1--"]
	require.NotNil(t, r1)
	assert.Equal(t, int64(3), r1.Fee)
	assert.Equal(t, int64(0), r1.Amount)
	assert.Equal(t, "", r1.AddressTo)
	assert.Equal(t, "", r1.AddressFrom)
}

func TestParseRPCBatchAggregatesByKey(t *testing.T) {
	raw := `{"transactions":[
		{"txid":"2","amount":2},
		{"txid":"2","amount":0.00000002},
		{"txid":"2","amount":0.00000003}
	]}`

	batch := ParseRPCBatch([]byte(raw))
	require.Equal(t, 1, batch.Len())
	assert.Equal(t, int64(200000005), batch.Records["2--"].Amount)
}

func TestParseRPCBatchKeyGrouping(t *testing.T) {
	raw := `{"transactions":[
		{"txid":"3","fee":0.00000001,"amount":-2},
		{"txid":"3","fee":0.00000002,"amount":-3},
		{"txid":"3","fee":0.00000003},
		{"txid":"3","fee":0.00000004,"category":"send"},
		{"txid":"3","fee":0.00000005,"amount":-4,"category":"send"},
		{"txid":"3","fee":0.00000007,"amount":-6,"category":"send","address":"1"},
		{"txid":"3","fee":0.00000007,"amount":-7,"category":"send","address":"2"},
		{"txid":"3","fee":0.00000009,"amount":-8,"category":"send","address":"1","from":"4"},
		{"txid":"3","fee":0.00000009,"amount":-9,"category":"send","address":"1","from":"5"}
	]}`

	batch := ParseRPCBatch([]byte(raw))

	assert.Equal(t, int64(-500000000), batch.Records["3--"].Amount)
	assert.Equal(t, int64(6), batch.Records["3--"].Fee)
	assert.Equal(t, int64(-400000000), batch.Records["3--send"].Amount)
	assert.Equal(t, int64(-600000000), batch.Records["3-1-send"].Amount)
	assert.Equal(t, int64(-900000000), batch.Records["3-1-send5"].Amount)
}

func TestParseRPCBatchFirstSeenMetadataWins(t *testing.T) {
	raw := `{"transactions":[
		{"txid":"a","amount":1,"blockhash":"h1","time":100,"confirmations":5},
		{"txid":"a","amount":2,"blockhash":"h2","time":200,"confirmations":9}
	]}`

	batch := ParseRPCBatch([]byte(raw))
	r := batch.Records["a--"]
	require.NotNil(t, r)
	assert.Equal(t, int64(300000000), r.Amount)
	assert.Equal(t, "h1", r.BlockHash)
	assert.Equal(t, int64(100), r.At)
	assert.Equal(t, 5, r.Confirmations)
}

func TestParseRPCBatchConfirmationsClampedAndConflicts(t *testing.T) {
	raw := `{"transactions":[
		{"txid":"b","confirmations":5000},
		{"txid":"c","confirmations":-1,"walletconflicts":["x"]},
		{"txid":"d","walletconflicts":[]}
	]}`

	batch := ParseRPCBatch([]byte(raw))
	assert.Equal(t, EnoughConfirmations, batch.Records["b--"].Confirmations)

	rc := batch.Records["c--"]
	assert.Equal(t, -1, rc.Confirmations)
	assert.True(t, rc.Conflicted)

	assert.False(t, batch.Records["d--"].Conflicted)
}

func TestParseRPCBatchMalformedInput(t *testing.T) {
	for _, raw := range []string{
		`[]`,
		`"nope"`,
		`{}`,
		`{"transactions":42}`,
		`{"transactions":{"a":1}}`,
		`not json at all`,
	} {
		batch := ParseRPCBatch([]byte(raw))
		assert.Equal(t, 0, batch.Len(), "input: %s", raw)
	}
}

func TestParseRPCBatchOrderIsArrivalOrder(t *testing.T) {
	raw := `{"transactions":[
		{"txid":"new","confirmations":1},
		{"txid":"mid","confirmations":50},
		{"txid":"old","confirmations":101}
	]}`

	batch := ParseRPCBatch([]byte(raw))
	require.Equal(t, []string{"new--", "mid--", "old--"}, batch.Order)
}

func TestCategoryFromTxType(t *testing.T) {
	cases := []struct {
		txtype   int
		category string
	}{
		{TxTypePow, "pos"},
		{TxTypePow | TxTypeSend, "pos"},
		{TxTypePos, "pos"},
		{TxTypePos | TxTypeStake, "pos"},
		{TxTypePos | TxTypeStake | TxTypeMasternode, "stakemasternode"},
		{TxTypePos | TxTypeMasternode, "masternode"},
		{TxTypeSend, "send"},
		{TxTypeSend | TxTypeReceive, "send"},
		{TxTypeReceive, "receive"},
		{0, "unknown"},
	}
	for _, c := range cases {
		assert.Equal(t, c.category, CategoryFromTxType(c.txtype), "txtype %d", c.txtype)
	}
}

func TestParseExplorerEntry(t *testing.T) {
	entry := map[string]any{
		"txid":    "t1",
		"type":    float64(TxTypeSend),
		"amount":  -1.5,
		"fee":     0.0001,
		"height":  float64(1200),
		"time":    float64(1700000000),
		"address": "addr1",
		"from":    "addr2",
	}

	r, ok := ParseExplorerEntry(entry)
	require.True(t, ok)
	assert.Equal(t, "send", r.Category)
	// fee is folded back into the send amount
	assert.Equal(t, int64(-150000000+10000), r.Amount)
	assert.Equal(t, int64(10000), r.Fee)
	assert.Equal(t, int64(1200), r.Height)
	assert.Equal(t, "addr1", r.AddressTo)
	assert.Equal(t, "addr2", r.AddressFrom)

	// receive does not require a fee
	entry["type"] = float64(TxTypeReceive)
	delete(entry, "fee")
	r, ok = ParseExplorerEntry(entry)
	require.True(t, ok)
	assert.Equal(t, "receive", r.Category)
	assert.Equal(t, int64(-150000000), r.Amount)

	// missing required fields invalidate the entry
	for _, key := range []string{"txid", "type", "amount", "height", "time", "address"} {
		broken := map[string]any{
			"txid":    "t1",
			"type":    float64(TxTypeReceive),
			"amount":  1.0,
			"height":  float64(1),
			"time":    float64(1),
			"address": "a",
		}
		delete(broken, key)
		_, ok := ParseExplorerEntry(broken)
		assert.False(t, ok, "missing %s", key)
	}
}

func TestToFixedPointRintRounding(t *testing.T) {
	assert.Equal(t, int64(40000), ToFixedPoint(0.0004))
	assert.Equal(t, int64(-40000), ToFixedPoint(-0.0004))
	assert.Equal(t, int64(3), ToFixedPoint(0.00000003))
	assert.Equal(t, int64(200000000), ToFixedPoint(2))
	assert.Equal(t, int64(123456789), ToFixedPoint(1.23456789))
}

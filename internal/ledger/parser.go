package ledger

import (
	"encoding/json"
)

// Batch is the parsed, deduplicated form of a remote transaction listing.
// Records maps key to the aggregated record; Order holds keys in first-seen
// order so callers can walk the batch in arrival order regardless of map
// iteration.
type Batch struct {
	Records map[string]*Record
	Order   []string
}

// Len returns the number of distinct keys in the batch.
func (b *Batch) Len() int {
	return len(b.Records)
}

// ParseRPCBatch normalizes a raw listsinceblock response. Missing fields
// default to zero values, duplicate keys are merged by summing amount and
// fee, and any malformed top-level structure yields an empty batch.
func ParseRPCBatch(raw []byte) *Batch {
	batch := &Batch{Records: make(map[string]*Record)}

	var root map[string]json.RawMessage
	if err := json.Unmarshal(raw, &root); err != nil {
		return batch
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(root["transactions"], &entries); err != nil {
		return batch
	}

	for _, entry := range entries {
		var fields map[string]any
		if err := json.Unmarshal(entry, &fields); err != nil {
			continue
		}

		r := &Record{
			Txid:        jsonString(fields, "txid"),
			AddressTo:   jsonString(fields, "address"),
			Category:    jsonString(fields, "category"),
			AddressFrom: jsonString(fields, "from"),
			BlockHash:   jsonString(fields, "blockhash"),
			At:          jsonInt(fields, "time"),
			Amount:      jsonAmount(fields, "amount"),
			Fee:         jsonAmount(fields, "fee"),
		}

		r.Confirmations = int(jsonInt(fields, "confirmations"))
		if r.Confirmations > EnoughConfirmations {
			r.Confirmations = EnoughConfirmations
		}

		if r.Fee < 0 {
			r.Fee = -r.Fee
		}

		if conflicts, ok := fields["walletconflicts"].([]any); ok && len(conflicts) > 0 {
			r.Conflicted = true
		}

		key := r.Key()
		if existing, ok := batch.Records[key]; ok {
			existing.Merge(r)
			continue
		}
		batch.Records[key] = r
		batch.Order = append(batch.Order, key)
	}

	return batch
}

// ParseExplorerEntry decodes one explorer transaction object. It reports
// false when a required field (txid, type, amount, height, time, address)
// is missing; the sender address is optional. For send transactions the
// reported fee is folded back into the amount, matching the explorer's
// accounting.
func ParseExplorerEntry(fields map[string]any) (*Record, bool) {
	r := &Record{}
	valid := true

	r.Txid = jsonString(fields, "txid")
	valid = valid && r.Txid != ""

	txtype, ok := jsonIntOK(fields, "type")
	valid = valid && ok
	r.TxType = int(txtype)

	r.Amount, ok = jsonAmountOK(fields, "amount")
	valid = valid && ok

	r.Category = CategoryFromTxType(r.TxType)
	if r.Category == "send" {
		r.Fee, ok = jsonAmountOK(fields, "fee")
		valid = valid && ok
		r.Amount += r.Fee
	}

	r.Height, ok = jsonIntOK(fields, "height")
	valid = valid && ok

	r.At, ok = jsonIntOK(fields, "time")
	valid = valid && ok

	r.AddressTo = jsonString(fields, "address")
	valid = valid && hasStringKey(fields, "address")

	r.AddressFrom = jsonString(fields, "from")

	return r, valid
}

func jsonString(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}

func hasStringKey(fields map[string]any, key string) bool {
	_, ok := fields[key].(string)
	return ok
}

func jsonInt(fields map[string]any, key string) int64 {
	v, _ := jsonIntOK(fields, key)
	return v
}

func jsonIntOK(fields map[string]any, key string) (int64, bool) {
	f, ok := fields[key].(float64)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

func jsonAmount(fields map[string]any, key string) int64 {
	v, _ := jsonAmountOK(fields, key)
	return v
}

func jsonAmountOK(fields map[string]any, key string) (int64, bool) {
	f, ok := fields[key].(float64)
	if !ok {
		return 0, false
	}
	return ToFixedPoint(f), true
}

package protocol

// ScriptTypeNullData marks data-carrying outputs that never resolve to an
// address.
const ScriptTypeNullData = "nulldata"

// InferAuthor derives the sender address of a transaction from its output
// structure, since the ledger carries no explicit sender field.
//
// Start transactions are self-payments: the author is the first output
// that resolves to an address and is not a data output. For every other
// type, output 0 pays the counterparty and output 1 returns change to the
// sender, so the change output names the author. A single-output
// transaction falls back to that output's address. Anything else is
// unresolved and reported as empty, which callers must treat as unknown
// rather than as an error.
func InferAuthor(tx RawTransaction, payload *Payload) string {
	if payload != nil && payload.Type == TypeStart {
		for _, out := range tx.Outputs {
			if out.ScriptType != ScriptTypeNullData && out.Address != "" {
				return out.Address
			}
		}
		return ""
	}
	switch {
	case len(tx.Outputs) >= 2:
		return tx.Outputs[1].Address
	case len(tx.Outputs) == 1:
		return tx.Outputs[0].Address
	default:
		return ""
	}
}

package source

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nexus-trading/routeintel/internal/route"
)

// usdValue accepts a USD amount encoded either as a JSON number or as a
// decimal string. Anything unparseable decodes to zero.
type usdValue float64

func (u *usdValue) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" {
		*u = 0
		return nil
	}
	*u = usdValue(route.ParseUSD(s))
	return nil
}

// rawAmount accepts a raw amount encoded as a string or a bare integer.
type rawAmount string

func (a *rawAmount) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = rawAmount(s)
		return nil
	}
	if string(b) == "null" {
		*a = ""
		return nil
	}
	*a = rawAmount(b)
	return nil
}

// windowParams is the second positional JSON-RPC parameter of both methods.
type windowParams struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

type wireSegment struct {
	Type        string    `json:"type"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Chain       string    `json:"chain"`
	ToChain     string    `json:"to_chain"`
	Token       string    `json:"token"`
	Amount      rawAmount `json:"amount"`
	AmountUSD   usdValue  `json:"amount_usd"`
	Timestamp   int64     `json:"timestamp"`
	BlockNumber uint64    `json:"block_number"`
	TxHash      string    `json:"tx_hash"`
	Protocol    string    `json:"protocol"`
	Label       string    `json:"label"`
}

type wireSwap struct {
	TxHash      string    `json:"tx_hash"`
	Wallet      string    `json:"wallet"`
	Chain       string    `json:"chain"`
	TokenIn     string    `json:"token_in"`
	TokenOut    string    `json:"token_out"`
	AmountIn    rawAmount `json:"amount_in"`
	AmountOut   rawAmount `json:"amount_out"`
	AmountUSD   usdValue  `json:"amount_usd"`
	Timestamp   int64     `json:"timestamp"`
	BlockNumber uint64    `json:"block_number"`
	Protocol    string    `json:"protocol"`
	Router      string    `json:"router"`
}

// decodeSegments converts an upstream result into segments. Unknown segment
// types are rejected; index follows upstream order.
func decodeSegments(raw json.RawMessage) ([]route.Segment, error) {
	var ws []wireSegment
	if err := json.Unmarshal(raw, &ws); err != nil {
		return nil, fmt.Errorf("source: parse segments: %w", err)
	}
	out := make([]route.Segment, 0, len(ws))
	for i, w := range ws {
		t := route.SegmentType(strings.ToUpper(w.Type))
		if t == "" {
			t = route.SegmentTransfer
		}
		if !t.Valid() {
			return nil, fmt.Errorf("source: segment %d: unknown type %q", i, w.Type)
		}
		out = append(out, route.Segment{
			Type:        t,
			From:        w.From,
			To:          w.To,
			Chain:       strings.ToLower(w.Chain),
			ToChain:     strings.ToLower(w.ToChain),
			Token:       w.Token,
			Amount:      string(w.Amount),
			AmountUSD:   float64(w.AmountUSD),
			Timestamp:   w.Timestamp,
			BlockNumber: w.BlockNumber,
			TxHash:      w.TxHash,
			Index:       i,
			Protocol:    w.Protocol,
			Label:       w.Label,
			Legs:        1,
		})
	}
	return out, nil
}

func decodeSwaps(raw json.RawMessage) ([]route.SwapEvent, error) {
	var ws []wireSwap
	if err := json.Unmarshal(raw, &ws); err != nil {
		return nil, fmt.Errorf("source: parse swaps: %w", err)
	}
	out := make([]route.SwapEvent, 0, len(ws))
	for _, w := range ws {
		out = append(out, route.SwapEvent{
			TxHash:      w.TxHash,
			Wallet:      w.Wallet,
			Chain:       strings.ToLower(w.Chain),
			TokenIn:     w.TokenIn,
			TokenOut:    w.TokenOut,
			AmountIn:    string(w.AmountIn),
			AmountOut:   string(w.AmountOut),
			AmountUSD:   float64(w.AmountUSD),
			Timestamp:   w.Timestamp,
			BlockNumber: w.BlockNumber,
			Protocol:    w.Protocol,
			Router:      w.Router,
		})
	}
	return out, nil
}

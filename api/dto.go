/*
dto.go - JSON shapes of the ops surface

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Response: envelopes (errors, health)

MONEY:
  Amounts are rendered as fixed two-decimal strings ("80.00"), never as
  JSON numbers, so clients cannot lose precision.
*/
package api

import (
	"sort"
	"time"

	"github.com/warp/lottery-engine/lottery"
)

// ErrorResponse carries the machine code next to the message.
type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type PrizeDTO struct {
	Rank    int      `json:"rank"`
	Amount  string   `json:"amount"`
	Kind    string   `json:"kind"`
	Suffix  string   `json:"suffix,omitempty"`
	Winners []string `json:"winners"`
}

type DrawDTO struct {
	DrawNo    int64      `json:"drawNo"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	Prizes    []PrizeDTO `json:"prizes"`
}

func toDrawDTO(d lottery.DrawResult) DrawDTO {
	out := DrawDTO{DrawNo: d.DrawNo, Prizes: make([]PrizeDTO, 0, len(d.Prizes))}
	for _, p := range d.Prizes {
		if out.CreatedAt == nil && !p.CreatedAt.IsZero() {
			at := p.CreatedAt
			out.CreatedAt = &at
		}
		winners := d.WinnersByRank[p.Rank]
		if winners == nil {
			winners = []string{}
		}
		out.Prizes = append(out.Prizes, PrizeDTO{
			Rank:    p.Rank,
			Amount:  p.Amount.StringFixed(lottery.Scale),
			Kind:    string(p.Kind),
			Suffix:  p.Suffix,
			Winners: winners,
		})
	}
	sort.Slice(out.Prizes, func(i, j int) bool { return out.Prizes[i].Rank < out.Prizes[j].Rank })
	return out
}

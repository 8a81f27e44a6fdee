/*
draw.go - Draw engine

ALGORITHM:
  1. Validate pool, mode and exactly five reward amounts
  2. Lock the candidate pool (sold only, or every unclaimed ticket)
  3. Fewer than five candidates: fail with PoolInsufficientError, write nothing
  4. Fisher-Yates shuffle, take five distinct tickets as ranks 1..5
  5. Unbind prizes from unclaimed tickets, drop prize rows nobody claimed
  6. Insert one Prize per rank under a new draw number
  7. Exclusive ranks are bound to their ticket (tickets.prize_id)
     Tail ranks store a suffix and stay unbound

TAIL MODE:
  Ranks 1..3 exclusive. Rank 4 carries the last 3 digits of its drawn
  ticket, rank 5 the last 2. Every ticket ending with the suffix wins that
  rank, owned or not, so a tail rank may have zero, one or many winners.
  Tail winners are always computed from ticket numbers, never stored.

SOURCE OF TRUTH:
  Claim reads the persisted prize rows and bindings. No draw state is kept
  in process memory.
*/
package lottery

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Draw runs one draw over the requested pool.
func (s *Service) Draw(ctx context.Context, subject Subject, req DrawRequest) (DrawResult, error) {
	start := s.clock.Now()
	var res DrawResult
	err := s.draw(ctx, subject, req, &res)
	s.observe(OpDraw, start, err,
		zap.String("account", string(subject.AccountID)),
		zap.String("pool", string(req.Pool)),
		zap.String("mode", string(req.Mode)),
		zap.Int64("draw_no", res.DrawNo))
	return res, err
}

func (s *Service) draw(ctx context.Context, subject Subject, req DrawRequest, res *DrawResult) error {
	if err := authorize(subject, CapDraw); err != nil {
		return err
	}
	if req.Mode == "" {
		req.Mode = ModeExclusive
	}
	if err := s.validateDraw(req); err != nil {
		return err
	}

	return s.store.WithTx(ctx, OpDraw, func(ctx context.Context, tx Tx) error {
		pool, err := tx.LockPool(ctx, req.Pool)
		if err != nil {
			return err
		}
		if len(pool) < DrawRanks {
			return &PoolInsufficientError{Pool: req.Pool, Have: len(pool), Need: DrawRanks}
		}
		winners := s.rand.Pick(pool, DrawRanks)

		drawNo, err := tx.NextDrawNo(ctx)
		if err != nil {
			return err
		}
		if err := tx.ClearPrizes(ctx); err != nil {
			return err
		}

		now := s.clock.Now().UTC()
		out := DrawResult{
			DrawNo:        drawNo,
			Prizes:        make([]Prize, 0, DrawRanks),
			WinnersByRank: make(map[int][]string, DrawRanks),
		}
		for i, t := range winners {
			rank := i + 1
			p := Prize{
				ID:        PrizeID(uuid.NewString()),
				DrawNo:    drawNo,
				Rank:      rank,
				Amount:    req.Rewards[i],
				Kind:      PrizeExclusive,
				CreatedAt: now,
			}
			if digits := req.Mode.tailDigits(rank); digits > 0 {
				p.Kind = PrizeTail
				p.Suffix = t.Number[len(t.Number)-digits:]
			}
			if err := tx.InsertPrize(ctx, p); err != nil {
				return err
			}

			if p.Kind == PrizeExclusive {
				if err := tx.BindPrize(ctx, t.ID, p.ID); err != nil {
					return err
				}
				out.WinnersByRank[rank] = []string{t.Number}
			} else {
				numbers, err := tx.NumbersWithSuffix(ctx, p.Suffix)
				if err != nil {
					return err
				}
				out.WinnersByRank[rank] = numbers
			}
			out.Prizes = append(out.Prizes, p)
		}

		*res = out
		return nil
	})
}

func (s *Service) validateDraw(req DrawRequest) error {
	if !req.Pool.Valid() {
		return ruleErr(CodeInvalidRewards, "unknown draw pool %q, want %q or %q", req.Pool, PoolSold, PoolAll)
	}
	if !req.Mode.Valid() {
		return ruleErr(CodeInvalidRewards, "unknown draw mode %q, want %q or %q", req.Mode, ModeExclusive, ModeTail)
	}
	if len(req.Rewards) != DrawRanks {
		return ruleErr(CodeInvalidRewards, "draw needs exactly %d rewards, got %d", DrawRanks, len(req.Rewards))
	}
	for i, r := range req.Rewards {
		if err := ValidateAmount(r, s.cfg.Ceiling); err != nil {
			return ruleErr(CodeInvalidRewards, "reward for rank %d: %v", i+1, err)
		}
		if !r.GreaterThan(decimal.Zero) {
			return ruleErr(CodeInvalidRewards, "reward for rank %d must be positive", i+1)
		}
	}
	return nil
}

// CurrentDraw returns the prizes of the latest draw and their winning numbers.
func (s *Service) CurrentDraw(ctx context.Context) (DrawResult, error) {
	var res DrawResult
	err := s.store.WithTx(ctx, "current_draw", func(ctx context.Context, tx Tx) error {
		prizes, err := tx.CurrentPrizes(ctx)
		if err != nil {
			return err
		}
		out := DrawResult{Prizes: prizes, WinnersByRank: make(map[int][]string, len(prizes))}
		for _, p := range prizes {
			out.DrawNo = p.DrawNo
			var numbers []string
			if p.Kind == PrizeTail {
				numbers, err = tx.NumbersWithSuffix(ctx, p.Suffix)
			} else {
				numbers, err = tx.NumbersForPrize(ctx, p.ID)
			}
			if err != nil {
				return err
			}
			out.WinnersByRank[p.Rank] = numbers
		}
		res = out
		return nil
	})
	return res, err
}

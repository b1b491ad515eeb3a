package dex

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/fairyhunter13/dex-order-engine/internal/adapter/observability"
	"github.com/fairyhunter13/dex-order-engine/internal/domain"
	obsctx "github.com/fairyhunter13/dex-order-engine/internal/observability"
	"github.com/fairyhunter13/dex-order-engine/pkg/tokens"
)

// Router quotes the catalog's venues and simulates execution. All randomness
// flows through one PRNG, so a seeded Router replays the same prices,
// latencies and congestion rolls. Draws happen in catalog order before any
// quote goroutine starts; goroutine scheduling cannot perturb the sequence.
type Router struct {
	catalog Catalog

	mu  sync.Mutex // guards rng
	rng *rand.Rand

	clock domain.Clock
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Router.
type Option func(*Router)

// WithSeed fixes the PRNG seed so routing and execution replay exactly.
func WithSeed(seed int64) Option {
	return func(r *Router) { r.rng = rand.New(rand.NewSource(seed)) }
}

// WithClock overrides the clock used for tx hash timestamps.
func WithClock(c domain.Clock) Option {
	return func(r *Router) { r.clock = c }
}

// WithSleep replaces the simulated latency sleeps. Tests record the requested
// durations instead of waiting them out.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Router) { r.sleep = fn }
}

// NewRouter builds a Router over the catalog. Without WithSeed the PRNG is
// seeded from the wall clock.
func NewRouter(catalog Catalog, opts ...Option) *Router {
	r := &Router{
		catalog: catalog,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		clock:   domain.SystemClock{},
		sleep:   sleepCtx,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

type quoteDraw struct {
	venue   Venue
	latency time.Duration
	factor  float64
}

// BestRoute quotes every venue concurrently and selects the largest
// amount_out. Ties break toward the first-listed venue.
func (r *Router) BestRoute(ctx domain.Context, tokenIn, tokenOut string, amountIn decimal.Decimal) (domain.RouteResult, error) {
	log := obsctx.LoggerFromContext(ctx)
	in := normalizeToken(log, tokenIn)
	out := normalizeToken(log, tokenOut)
	log.Debug("quoting venues",
		slog.String("token_in", in),
		slog.String("token_out", out),
		slog.String("amount_in", amountIn.String()),
		slog.Int("venues", len(r.catalog.Venues)))

	r.mu.Lock()
	draws := make([]quoteDraw, 0, len(r.catalog.Venues))
	for _, v := range r.catalog.Venues {
		draws = append(draws, quoteDraw{
			venue:   v,
			latency: r.latencyLocked(r.catalog.QuoteLatency),
			factor:  v.Band.Min + r.rng.Float64()*(v.Band.Max-v.Band.Min),
		})
	}
	r.mu.Unlock()

	quotes := make([]domain.Quote, len(draws))
	g, gctx := errgroup.WithContext(ctx)
	for i, d := range draws {
		i, d := i, d
		g.Go(func() error {
			if err := r.sleep(gctx, d.latency); err != nil {
				return err
			}
			quotes[i] = r.buildQuote(d.venue, d.factor, amountIn)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.RouteResult{}, fmt.Errorf("op=dex.best_route: %w", err)
	}

	best := 0
	for i := 1; i < len(quotes); i++ {
		if quotes[i].AmountOut.GreaterThan(quotes[best].AmountOut) {
			best = i
		}
	}
	reason := buildReason(quotes, best)
	observability.RoutingDecisionsTotal.WithLabelValues(string(quotes[best].Dex)).Inc()
	log.Info("route selected",
		slog.String("dex", string(quotes[best].Dex)),
		slog.String("amount_out", quotes[best].AmountOut.String()),
		slog.String("reason", reason))
	return domain.RouteResult{SelectedDex: quotes[best].Dex, Quote: quotes[best], Reason: reason}, nil
}

// ExecuteSwap simulates the swap on the selected venue. With probability
// FailureRate the venue reports congestion; otherwise realized slippage is
// sampled from [0, slippage).
func (r *Router) ExecuteSwap(ctx domain.Context, dex domain.DEX, amountIn, expectedOut, slippage decimal.Decimal) (domain.SwapResult, error) {
	r.mu.Lock()
	latency := r.latencyLocked(r.catalog.ExecuteLatency)
	congested := r.rng.Float64() < r.catalog.FailureRate
	slipFrac := r.rng.Float64()
	txNonce := r.rng.Int63()
	r.mu.Unlock()

	if err := r.sleep(ctx, latency); err != nil {
		return domain.SwapResult{}, fmt.Errorf("op=dex.execute_swap: %w", err)
	}
	if congested {
		return domain.SwapResult{}, fmt.Errorf("op=dex.execute_swap: %s: %w", dex, domain.ErrNetworkCongestion)
	}

	s := slippage.Mul(decimal.NewFromFloat(slipFrac))
	actualOut := expectedOut.Mul(decimal.NewFromInt(1).Sub(s)).Round(8)
	var actualPrice decimal.Decimal
	if !amountIn.IsZero() {
		actualPrice = actualOut.Div(amountIn).Round(8)
	}
	txHash := fmt.Sprintf("mock_tx_%d_%s", r.clock.Now().UnixMilli(), strconv.FormatInt(txNonce, 36))
	return domain.SwapResult{TxHash: txHash, ExecutedPrice: actualPrice, AmountOut: actualOut}, nil
}

func (r *Router) buildQuote(v Venue, factor float64, amountIn decimal.Decimal) domain.Quote {
	price := r.catalog.BasePrice.Mul(decimal.NewFromFloat(factor)).Round(8)
	amountOut := amountIn.Mul(price).Mul(decimal.NewFromInt(1).Sub(v.Fee)).Round(8)
	return domain.Quote{Dex: v.Dex, Price: price, AmountOut: amountOut, Fee: v.Fee, EstimatedGas: v.EstimatedGas}
}

// latencyLocked draws from the inclusive range. Callers hold r.mu.
func (r *Router) latencyLocked(lr LatencyRange) time.Duration {
	ms := lr.Min
	if span := lr.Max - lr.Min; span > 0 {
		ms += r.rng.Intn(span + 1)
	}
	return time.Duration(ms) * time.Millisecond
}

// buildReason renders the transparency trace: every quote's output plus the
// winner's margin over the runner-up.
func buildReason(quotes []domain.Quote, best int) string {
	var b strings.Builder
	for i, q := range quotes {
		if i > 0 {
			b.WriteString(" vs ")
		}
		fmt.Fprintf(&b, "%s out %s", q.Dex, q.AmountOut)
	}
	if len(quotes) > 1 {
		runner := decimal.Decimal{}
		for i, q := range quotes {
			if i == best {
				continue
			}
			if q.AmountOut.GreaterThan(runner) {
				runner = q.AmountOut
			}
		}
		fmt.Fprintf(&b, ", delta %s in favor of %s",
			quotes[best].AmountOut.Sub(runner).String(), quotes[best].Dex)
	}
	return b.String()
}

// normalizeToken maps the plain SOL symbol to the wrapped mint. The mapping
// is logged; the original symbol stays in every client-facing payload.
func normalizeToken(log *slog.Logger, symbol string) string {
	mint, aliased := tokens.Normalize(symbol)
	if aliased {
		log.Info("token alias mapped",
			slog.String("symbol", symbol),
			slog.String("mint", mint))
	}
	return mint
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

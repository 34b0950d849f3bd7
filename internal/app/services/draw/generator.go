// Package draw produces the winning combination for a settlement cycle and
// classifies tickets against it.
package draw

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sort"
	"time"

	domain "github.com/lampochka7181/Euromillions-back-end/internal/app/domain/draw"
	"github.com/lampochka7181/Euromillions-back-end/internal/app/domain/ticket"
	"github.com/lampochka7181/Euromillions-back-end/internal/app/storage"
	"github.com/lampochka7181/Euromillions-back-end/pkg/logger"
)

// Generator creates and persists draw records. Randomness comes from
// crypto/rand via uniform sampling; a draw that cannot be persisted is a
// fatal settlement error, so Generate returns before any funds can move.
type Generator struct {
	store storage.DrawStore
	log   *logger.Logger
}

// NewGenerator constructs a draw generator.
func NewGenerator(store storage.DrawStore, log *logger.Logger) *Generator {
	if log == nil {
		log = logger.NewDefault("draw")
	}
	return &Generator{store: store, log: log}
}

// Generate picks a winning combination and persists the immutable Draw.
func (g *Generator) Generate(ctx context.Context) (domain.Draw, error) {
	numbers, powerball, err := pickCombination()
	if err != nil {
		return domain.Draw{}, fmt.Errorf("generate combination: %w", err)
	}

	now := time.Now().UTC()
	created, err := g.store.CreateDraw(ctx, domain.Draw{
		WinningNumbers: numbers,
		Powerball:      powerball,
		DrawnAt:        now,
	})
	if err != nil {
		return domain.Draw{}, fmt.Errorf("persist draw: %w", err)
	}

	g.log.WithField("draw_id", created.ID).
		WithField("winning_numbers", created.WinningNumbers).
		WithField("powerball", created.Powerball).
		Info("draw generated")

	return created, nil
}

// pickCombination returns 5 distinct uniform numbers in [NumberMin,NumberMax]
// sorted ascending, plus one uniform powerball in [PowerballMin,PowerballMax].
// crypto/rand.Int rejection-samples internally, so no modulo bias.
func pickCombination() ([]int, int, error) {
	numbers := make([]int, 0, ticket.NumberCount)
	used := make(map[int]bool, ticket.NumberCount)
	for len(numbers) < ticket.NumberCount {
		n, err := uniformInt(ticket.NumberMin, ticket.NumberMax)
		if err != nil {
			return nil, 0, err
		}
		if used[n] {
			continue
		}
		used[n] = true
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	powerball, err := uniformInt(ticket.PowerballMin, ticket.PowerballMax)
	if err != nil {
		return nil, 0, err
	}
	return numbers, powerball, nil
}

func uniformInt(min, max int) (int, error) {
	span := big.NewInt(int64(max - min + 1))
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return 0, fmt.Errorf("read randomness: %w", err)
	}
	return min + int(n.Int64()), nil
}

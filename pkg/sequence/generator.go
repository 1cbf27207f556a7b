package sequence

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("sequence",
	fx.Provide(NewRedisGenerator),
)

// Generator issues human-facing codes. Snowflake IDs stay internal; these
// codes go on withdrawal slips, ledger references and settlement reports.
type Generator interface {
	// NextTransactionCode scopes the daily counter per user so ledger
	// entries for one user number consecutively.
	NextTransactionCode(ctx context.Context, scope string) (string, error)
	NextWithdrawalCode(ctx context.Context, userID string) (string, error)
	NextSettlementCode(ctx context.Context, year, week int) (string, error)
}

type RedisGenerator struct {
	rdb *redis.Client
}

type Params struct {
	fx.In

	Redis *redis.Client
}

func NewRedisGenerator(p Params) Generator {
	return &RedisGenerator{
		rdb: p.Redis,
	}
}

func (g *RedisGenerator) NextTransactionCode(ctx context.Context, scope string) (string, error) {
	return g.nextDailyCode(ctx, "TXN", scope)
}

func (g *RedisGenerator) NextWithdrawalCode(ctx context.Context, userID string) (string, error) {
	return g.nextDailyCode(ctx, "WDR", userID)
}

// NextSettlementCode is deterministic per (year, week) on purpose: the same
// run always maps to the same idempotency key.
func (g *RedisGenerator) NextSettlementCode(ctx context.Context, year, week int) (string, error) {
	return fmt.Sprintf("WS-%04d-W%02d", year, week), nil
}

func (g *RedisGenerator) nextDailyCode(ctx context.Context, prefix, scope string) (string, error) {
	today := time.Now().UTC().Format("060102")
	key := fmt.Sprintf("seq:%s:%s:%s", prefix, scope, today)

	seq, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		return "", err
	}

	if seq == 1 {
		expire := time.Until(time.Now().Truncate(24 * time.Hour).Add(24*time.Hour - time.Second))
		_ = g.rdb.Expire(ctx, key, expire).Err()
	}

	encodedSeq := strings.ToUpper(fmt.Sprintf("%03s", strconv.FormatInt(seq, 36)))

	randSuffix, _ := randomAlphaNumeric(2)

	return fmt.Sprintf("%s-%s-%s%s", prefix, today, encodedSeq, randSuffix), nil
}

func randomAlphaNumeric(n int) (string, error) {
	const chars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	b := make([]byte, n)
	for i := range b {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		b[i] = chars[num.Int64()]
	}
	return string(b), nil
}

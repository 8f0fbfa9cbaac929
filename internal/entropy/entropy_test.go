package entropy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvdashuaibi/tokenlottery/config"
	"github.com/lvdashuaibi/tokenlottery/internal/lottery"
)

func TestSeedSource_Deterministic(t *testing.T) {
	src := SeedSource{Seed: []byte("replay")}
	seed := lottery.DrawSeed{LotteryID: 1, Round: 3, RoundEndTime: time.Unix(1700000000, 0), Tickets: 5}

	a, err := src.Entropy(context.Background(), seed)
	require.NoError(t, err)
	b, err := src.Entropy(context.Background(), seed)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	seed.Round = 4
	c, err := src.Entropy(context.Background(), seed)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	other, err := SeedSource{Seed: []byte("other")}.Entropy(context.Background(), seed)
	require.NoError(t, err)
	assert.NotEqual(t, c, other)
}

func TestCryptoSource(t *testing.T) {
	a, err := CryptoSource{}.Entropy(context.Background(), lottery.DrawSeed{})
	require.NoError(t, err)
	b, err := CryptoSource{}.Entropy(context.Background(), lottery.DrawSeed{})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestNew(t *testing.T) {
	src, err := New(config.LotteryConfig{Entropy: "crypto"})
	require.NoError(t, err)
	assert.IsType(t, CryptoSource{}, src)

	src, err = New(config.LotteryConfig{Entropy: "seed", EntropySeed: "x"})
	require.NoError(t, err)
	assert.IsType(t, SeedSource{}, src)

	_, err = New(config.LotteryConfig{Entropy: "seed"})
	assert.Error(t, err)

	_, err = New(config.LotteryConfig{Entropy: "chainlink"})
	assert.Error(t, err)
}

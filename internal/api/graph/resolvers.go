package graph

import (
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	graphql "github.com/graph-gophers/graphql-go"

	"github.com/lvdashuaibi/tokenlottery/internal/model"
)

func formatID(id uint64) graphql.ID {
	return graphql.ID(strconv.FormatUint(id, 10))
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// optionalAddress 零地址返回null
func optionalAddress(addr common.Address) *string {
	if addr == (common.Address{}) {
		return nil
	}
	s := addr.Hex()
	return &s
}

// LotteryResolver 彩票解析器
type LotteryResolver struct {
	l *model.Lottery
}

func lotteryResolvers(lotteries []*model.Lottery) []*LotteryResolver {
	result := make([]*LotteryResolver, len(lotteries))
	for i, l := range lotteries {
		result[i] = &LotteryResolver{l: l}
	}
	return result
}

func (r *LotteryResolver) ID() graphql.ID { return formatID(r.l.ID) }
func (r *LotteryResolver) Creator() string { return r.l.Creator.Hex() }
func (r *LotteryResolver) TokenAddress() string { return r.l.TokenAddress.Hex() }
func (r *LotteryResolver) TokenSymbol() string { return r.l.TokenSymbol }
func (r *LotteryResolver) TicketPrice() string { return r.l.TicketPrice.String() }
func (r *LotteryResolver) RoundEndTime() string { return formatTime(r.l.RoundEndTime) }
func (r *LotteryResolver) Round() int32 { return int32(r.l.Round) }
func (r *LotteryResolver) TicketCount() int32 { return int32(len(r.l.Participants)) }
func (r *LotteryResolver) PrizePool() string { return r.l.PrizePool.String() }
func (r *LotteryResolver) TotalBurned() string { return r.l.TotalBurned.String() }
func (r *LotteryResolver) BuyFeePool() string { return r.l.BuyFeePool.String() }
func (r *LotteryResolver) CreatedAt() string { return formatTime(r.l.CreatedAt) }
func (r *LotteryResolver) LastWinner() *string {
	if !r.l.HasWinner() {
		return nil
	}
	winner := r.l.LastWinner.Hex()
	return &winner
}
func (r *LotteryResolver) ReserveReceiver() *string {
	return optionalAddress(r.l.ReserveReceiver)
}

func (r *LotteryResolver) RoundDurationSeconds() int32 {
	return int32(r.l.RoundDuration / time.Second)
}

// Participants 每张票一项，同一地址可出现多次
func (r *LotteryResolver) Participants() []string {
	result := make([]string, len(r.l.Participants))
	for i, p := range r.l.Participants {
		result[i] = p.Hex()
	}
	return result
}

// PurchaseResolver 购票记录解析器
type PurchaseResolver struct {
	p *model.Purchase
}

func (r *PurchaseResolver) LotteryID() graphql.ID { return formatID(r.p.LotteryID) }
func (r *PurchaseResolver) Round() int32 { return int32(r.p.Round) }
func (r *PurchaseResolver) Buyer() string { return r.p.Buyer.Hex() }
func (r *PurchaseResolver) Quantity() int32 { return int32(r.p.Quantity) }
func (r *PurchaseResolver) Total() string { return r.p.Total.String() }
func (r *PurchaseResolver) BurnShare() string { return r.p.BurnShare.String() }
func (r *PurchaseResolver) PrizeShare() string { return r.p.PrizeShare.String() }
func (r *PurchaseResolver) Remainder() string { return r.p.Remainder.String() }
func (r *PurchaseResolver) Fee() string { return r.p.Fee.String() }
func (r *PurchaseResolver) ReserveReceiver() string { return r.p.ReserveReceiver.Hex() }
func (r *PurchaseResolver) PurchasedAt() string { return formatTime(r.p.PurchasedAt) }

// SettlementResolver 开奖结果解析器
type SettlementResolver struct {
	s *model.Settlement
}

func (r *SettlementResolver) LotteryID() graphql.ID { return formatID(r.s.LotteryID) }
func (r *SettlementResolver) Round() int32 { return int32(r.s.Round) }
func (r *SettlementResolver) Winner() string { return r.s.Winner.Hex() }
func (r *SettlementResolver) Amount() string { return r.s.Amount.String() }
func (r *SettlementResolver) WinnerIndex() int32 { return int32(r.s.WinnerIndex) }
func (r *SettlementResolver) Tickets() int32 { return int32(r.s.Tickets) }
func (r *SettlementResolver) DrawnAt() string { return formatTime(r.s.DrawnAt) }
func (r *SettlementResolver) NextRoundEnd() string { return formatTime(r.s.NextRoundEnd) }

// FeesResolver 手续费配置
type FeesResolver struct {
	CreationFee string
	BuyFee      string
	ReserveFund string
	Custody     string
}

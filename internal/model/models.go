package model

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Lottery 彩票实例快照
type Lottery struct {
	ID              uint64           `json:"id"`
	Creator         common.Address   `json:"creator"`
	TokenAddress    common.Address   `json:"tokenAddress"`
	TokenSymbol     string           `json:"tokenSymbol"`
	TicketPrice     decimal.Decimal  `json:"ticketPrice"`
	RoundDuration   time.Duration    `json:"roundDuration"`
	RoundEndTime    time.Time        `json:"roundEndTime"`
	Round           uint64           `json:"round"`
	Participants    []common.Address `json:"participants"`
	PrizePool       decimal.Decimal  `json:"prizePool"`
	TotalBurned     decimal.Decimal  `json:"totalBurned"`
	BuyFeePool      decimal.Decimal  `json:"buyFeePool"`
	ReserveReceiver common.Address   `json:"reserveReceiver"`
	LastWinner      common.Address   `json:"lastWinner"`
	CreatedAt       time.Time        `json:"createdAt"`
}

// Clone 返回深拷贝，调用方修改不会影响原记录
func (l *Lottery) Clone() *Lottery {
	if l == nil {
		return nil
	}
	cp := *l
	cp.Participants = make([]common.Address, len(l.Participants))
	copy(cp.Participants, l.Participants)
	return &cp
}

// HasWinner 是否已有开奖结果
func (l *Lottery) HasWinner() bool {
	return l.LastWinner != (common.Address{})
}

// Generation 标识同一ID下的彩票实例。ID重新分配后（例如未持久化时重启）代次不同。
func (l *Lottery) Generation() string {
	return fmt.Sprintf("%d:%s:%s", l.CreatedAt.UnixNano(), l.Creator.Hex(), l.TokenAddress.Hex())
}

// Supersedes l能否覆盖cur：代次不同直接覆盖；同一代次时轮次更大，或同一轮参与者不少于cur
func (l *Lottery) Supersedes(cur *Lottery) bool {
	if cur == nil || cur.Generation() != l.Generation() {
		return true
	}
	if l.Round != cur.Round {
		return l.Round > cur.Round
	}
	return len(l.Participants) >= len(cur.Participants)
}

// Purchase 一次购票记录
type Purchase struct {
	LotteryID       uint64          `json:"lotteryId"`
	Round           uint64          `json:"round"`
	Buyer           common.Address  `json:"buyer"`
	Quantity        int64           `json:"quantity"`
	Total           decimal.Decimal `json:"total"`
	BurnShare       decimal.Decimal `json:"burnShare"`
	PrizeShare      decimal.Decimal `json:"prizeShare"`
	Remainder       decimal.Decimal `json:"remainder"`
	Fee             decimal.Decimal `json:"fee"`
	ReserveReceiver common.Address  `json:"reserveReceiver"`
	PurchasedAt     time.Time       `json:"purchasedAt"`
}

// Settlement 一轮开奖结算结果
type Settlement struct {
	LotteryID    uint64          `json:"lotteryId"`
	Round        uint64          `json:"round"`
	Winner       common.Address  `json:"winner"`
	Amount       decimal.Decimal `json:"amount"`
	WinnerIndex  int             `json:"winnerIndex"`
	Tickets      int             `json:"tickets"`
	DrawnAt      time.Time       `json:"drawnAt"`
	NextRoundEnd time.Time       `json:"nextRoundEnd"`
}

// EventType 彩票事件类型
type EventType string

const (
	EventLotteryCreated   EventType = "lottery_created"
	EventTicketsPurchased EventType = "tickets_purchased"
	EventLotterySettled   EventType = "lottery_settled"
)

// LotteryEvent Kafka彩票事件，Lottery为事件发生后的快照
type LotteryEvent struct {
	ID         string      `json:"id"`
	Type       EventType   `json:"type"`
	LotteryID  uint64      `json:"lotteryId"`
	Lottery    *Lottery    `json:"lottery"`
	Purchase   *Purchase   `json:"purchase,omitempty"`
	Settlement *Settlement `json:"settlement,omitempty"`
	OccurredAt time.Time   `json:"occurredAt"`
}

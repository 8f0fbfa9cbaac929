package lottery

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/lvdashuaibi/tokenlottery/internal/model"
)

// TokenGateway 同质化代币网关
type TokenGateway interface {
	// Symbol 查询代币符号
	Symbol(ctx context.Context, token common.Address) (string, error)

	// Allowance 查询owner授权给spender的额度
	Allowance(ctx context.Context, token, owner, spender common.Address) (decimal.Decimal, error)

	// BalanceOf 查询余额
	BalanceOf(ctx context.Context, token, owner common.Address) (decimal.Decimal, error)

	// Begin 以operator身份开启一笔代币事务
	Begin(ctx context.Context, token, operator common.Address) (TokenTx, error)
}

// CustodyReconciler 由不落盘的代币网关实现。
// 从快照恢复时托管地址余额需要覆盖各彩票的奖池之和。
type CustodyReconciler interface {
	// EnsureBalance owner余额低于min时补足差额，返回补足的数量
	EnsureBalance(ctx context.Context, token, owner common.Address, min decimal.Decimal) (decimal.Decimal, error)
}

// TokenTx 代币事务，Commit之前的操作对外不可见。
// Commit之后再调用Rollback为空操作。
type TokenTx interface {
	// TransferFrom 消耗owner对operator的授权，从owner转给to
	TransferFrom(owner, to common.Address, amount decimal.Decimal) error

	// Transfer 从operator转给to
	Transfer(to common.Address, amount decimal.Decimal) error

	// Burn 销毁operator持有的代币
	Burn(amount decimal.Decimal) error

	Commit() error
	Rollback() error
}

// NativePayer 原生币转账
type NativePayer interface {
	Pay(ctx context.Context, from, to common.Address, amount decimal.Decimal) error
}

// Clock 时间源，要求单调不减
type Clock interface {
	Now() time.Time
}

// SystemClock 系统时间
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// DrawSeed 开奖随机源的输入
type DrawSeed struct {
	LotteryID    uint64
	Round        uint64
	RoundEndTime time.Time
	Tickets      int
}

// EntropySource 开奖随机源
type EntropySource interface {
	Entropy(ctx context.Context, seed DrawSeed) ([32]byte, error)
}

// EventSink 事件出口，在状态提交之后调用
type EventSink interface {
	Publish(ctx context.Context, event *model.LotteryEvent) error
}

package lottery

import "errors"

var (
	ErrInvalidParameter      = errors.New("参数无效")
	ErrNotFound              = errors.New("彩票不存在")
	ErrInsufficientFee       = errors.New("手续费不匹配")
	ErrInsufficientAllowance = errors.New("代币授权额度不足")
	ErrInsufficientBalance   = errors.New("代币余额不足")
	ErrRoundClosed           = errors.New("本轮已截止，等待开奖")
	ErrRoundNotEnded         = errors.New("本轮尚未结束")
	ErrNoParticipants        = errors.New("本轮没有参与者")

	// ErrTransferFailed 校验通过后网关转账失败
	ErrTransferFailed = errors.New("资金划转失败")
)

package api

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/lvdashuaibi/tokenlottery/internal/lottery"
)

// ParseAddress 解析十六进制地址
func ParseAddress(field, raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%w: %s 不是有效地址: %q", lottery.ErrInvalidParameter, field, raw)
	}
	return common.HexToAddress(raw), nil
}

// ParseOptionalAddress 空串解析为零地址
func ParseOptionalAddress(field, raw string) (common.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return common.Address{}, nil
	}
	return ParseAddress(field, raw)
}

// ParseAmount 解析非负整数金额（最小单位）
func ParseAmount(field, raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s 不是有效金额: %q", lottery.ErrInvalidParameter, field, raw)
	}
	if amount.IsNegative() || !amount.IsInteger() {
		return decimal.Zero, fmt.Errorf("%w: %s 必须是非负整数: %q", lottery.ErrInvalidParameter, field, raw)
	}
	return amount, nil
}

// maxRoundSeconds 超过该秒数换算成time.Duration会溢出
const maxRoundSeconds = math.MaxInt64 / int64(time.Second)

// ParseRoundDuration 将秒数转换为轮次时长
func ParseRoundDuration(field string, secs int64) (time.Duration, error) {
	if secs <= 0 || secs > maxRoundSeconds {
		return 0, fmt.Errorf("%w: %s 必须在 1 到 %d 秒之间: %d", lottery.ErrInvalidParameter, field, maxRoundSeconds, secs)
	}
	return time.Duration(secs) * time.Second, nil
}

func ParseID(raw string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: 无效的彩票ID: %q", lottery.ErrInvalidParameter, raw)
	}
	return id, nil
}

// FormatAddress 零地址返回空串
func FormatAddress(addr common.Address) string {
	if addr == (common.Address{}) {
		return ""
	}
	return addr.Hex()
}

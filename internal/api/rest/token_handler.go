package rest

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/lvdashuaibi/tokenlottery/internal/api"
)

// TokenLedger 开发账本的查询与授权接口
type TokenLedger interface {
	Symbol(ctx context.Context, token common.Address) (string, error)
	BalanceOf(ctx context.Context, token, owner common.Address) (decimal.Decimal, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (decimal.Decimal, error)
	Approve(token, owner, spender common.Address, amount decimal.Decimal) error
}

// NativeLedger 原生币余额
type NativeLedger interface {
	Balance(addr common.Address) decimal.Decimal
}

type TokenHandler struct {
	Tokens TokenLedger
	Native NativeLedger
	// Custody 授权对象
	Custody common.Address
}

func (h *TokenHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1")
	group.GET("/tokens/:address/accounts/:owner", h.account)
	group.POST("/tokens/:address/approve", h.approve)
	group.GET("/native/:owner", h.native)
}

type approveRequest struct {
	Owner  string `json:"owner" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

type accountResponse struct {
	Token     string `json:"token"`
	Symbol    string `json:"symbol"`
	Owner     string `json:"owner"`
	Balance   string `json:"balance"`
	Allowance string `json:"allowance"`
}

func (h *TokenHandler) account(c *gin.Context) {
	token, err := api.ParseAddress("address", c.Param("address"))
	if err != nil {
		Fail(c, err)
		return
	}
	owner, err := api.ParseAddress("owner", c.Param("owner"))
	if err != nil {
		Fail(c, err)
		return
	}
	h.writeAccount(c, token, owner)
}

// approve 设置owner对托管地址的授权额度
func (h *TokenHandler) approve(c *gin.Context) {
	token, err := api.ParseAddress("address", c.Param("address"))
	if err != nil {
		Fail(c, err)
		return
	}
	var req approveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body")
		return
	}
	owner, err := api.ParseAddress("owner", req.Owner)
	if err != nil {
		Fail(c, err)
		return
	}
	amount, err := api.ParseAmount("amount", req.Amount)
	if err != nil {
		Fail(c, err)
		return
	}
	if err := h.Tokens.Approve(token, owner, h.Custody, amount); err != nil {
		Fail(c, err)
		return
	}
	h.writeAccount(c, token, owner)
}

func (h *TokenHandler) writeAccount(c *gin.Context, token, owner common.Address) {
	ctx := c.Request.Context()
	symbol, err := h.Tokens.Symbol(ctx, token)
	if err != nil {
		Fail(c, err)
		return
	}
	balance, err := h.Tokens.BalanceOf(ctx, token, owner)
	if err != nil {
		Fail(c, err)
		return
	}
	allowance, err := h.Tokens.Allowance(ctx, token, owner, h.Custody)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, accountResponse{
		Token:     token.Hex(),
		Symbol:    symbol,
		Owner:     owner.Hex(),
		Balance:   balance.String(),
		Allowance: allowance.String(),
	})
}

func (h *TokenHandler) native(c *gin.Context) {
	owner, err := api.ParseAddress("owner", c.Param("owner"))
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, gin.H{"owner": owner.Hex(), "balance": h.Native.Balance(owner).String()})
}

package rest

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lvdashuaibi/tokenlottery/internal/api"
	"github.com/lvdashuaibi/tokenlottery/internal/lottery"
	"github.com/lvdashuaibi/tokenlottery/internal/service"
)

type LotteryHandler struct {
	Service *service.LotteryService
}

func (h *LotteryHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1")
	group.GET("/fees", h.fees)
	group.GET("/tokens", h.tokens)
	group.GET("/snapshots", h.snapshots)

	lotteries := group.Group("/lotteries")
	lotteries.GET("", h.list)
	lotteries.POST("", h.create)
	lotteries.GET("/:id", h.get)
	lotteries.GET("/:id/participants", h.participants)
	lotteries.GET("/:id/settlements", h.settlements)
	lotteries.GET("/:id/purchases", h.purchases)
	lotteries.POST("/:id/tickets", h.buy)
	lotteries.POST("/:id/draw", h.draw)
}

type createLotteryRequest struct {
	Creator              string `json:"creator" binding:"required"`
	TokenAddress         string `json:"token_address" binding:"required"`
	RoundDurationSeconds int64  `json:"round_duration_seconds"`
	TicketPrice          string `json:"ticket_price" binding:"required"`
	ReserveReceiver      string `json:"reserve_receiver"`
	PaidFee              string `json:"paid_fee" binding:"required"`
}

type buyTicketsRequest struct {
	Buyer    string `json:"buyer" binding:"required"`
	Quantity int64  `json:"quantity"`
	PaidFee  string `json:"paid_fee" binding:"required"`
}

func (h *LotteryHandler) fees(c *gin.Context) {
	creation, buy := h.Service.Fees()
	Ok(c, gin.H{
		"creation_fee": creation.String(),
		"buy_fee":      buy.String(),
		"reserve_fund": h.Service.ReserveFund().Hex(),
		"custody":      h.Service.Custody().Hex(),
	})
}

func (h *LotteryHandler) tokens(c *gin.Context) {
	Ok(c, h.Service.GetLotteryTokens())
}

// list 按creator/token/symbol过滤，都为空时返回全部ID
func (h *LotteryHandler) list(c *gin.Context) {
	switch {
	case c.Query("creator") != "":
		creator, err := api.ParseAddress("creator", c.Query("creator"))
		if err != nil {
			Fail(c, err)
			return
		}
		Ok(c, h.Service.GetLotteriesByCreator(creator))
	case c.Query("token") != "":
		token, err := api.ParseAddress("token", c.Query("token"))
		if err != nil {
			Fail(c, err)
			return
		}
		Ok(c, h.Service.GetLotteriesByTokenAddress(token))
	case c.Query("symbol") != "":
		Ok(c, h.Service.GetLotteriesByTokenSymbol(c.Query("symbol")))
	default:
		Ok(c, h.Service.GetAllLotteries())
	}
}

// snapshots ?ids=1,2,3
func (h *LotteryHandler) snapshots(c *gin.Context) {
	raw := strings.TrimSpace(c.Query("ids"))
	if raw == "" {
		Error(c, http.StatusBadRequest, "ids required")
		return
	}
	var ids []uint64
	for _, part := range strings.Split(raw, ",") {
		id, err := api.ParseID(part)
		if err != nil {
			Fail(c, err)
			return
		}
		ids = append(ids, id)
	}
	Ok(c, h.Service.GetLotteries(ids))
}

func (h *LotteryHandler) create(c *gin.Context) {
	var req createLotteryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body")
		return
	}
	creator, err := api.ParseAddress("creator", req.Creator)
	if err != nil {
		Fail(c, err)
		return
	}
	token, err := api.ParseAddress("token_address", req.TokenAddress)
	if err != nil {
		Fail(c, err)
		return
	}
	price, err := api.ParseAmount("ticket_price", req.TicketPrice)
	if err != nil {
		Fail(c, err)
		return
	}
	fee, err := api.ParseAmount("paid_fee", req.PaidFee)
	if err != nil {
		Fail(c, err)
		return
	}
	receiver, err := api.ParseOptionalAddress("reserve_receiver", req.ReserveReceiver)
	if err != nil {
		Fail(c, err)
		return
	}
	duration, err := api.ParseRoundDuration("round_duration_seconds", req.RoundDurationSeconds)
	if err != nil {
		Fail(c, err)
		return
	}

	l, err := h.Service.CreateLottery(c.Request.Context(), lottery.CreateParams{
		Creator:         creator,
		TokenAddress:    token,
		RoundDuration:   duration,
		TicketPrice:     price,
		ReserveReceiver: receiver,
		PaidFee:         fee,
	})
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, apiResponse{Code: 0, Message: "ok", Data: l})
}

func (h *LotteryHandler) get(c *gin.Context) {
	id, err := api.ParseID(c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	l, err := h.Service.GetLottery(c.Request.Context(), id)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, l)
}

func (h *LotteryHandler) participants(c *gin.Context) {
	id, err := api.ParseID(c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	participants, err := h.Service.GetParticipants(id)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, participants)
}

func (h *LotteryHandler) settlements(c *gin.Context) {
	id, err := api.ParseID(c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			Error(c, http.StatusBadRequest, "invalid limit")
			return
		}
	}
	settlements, err := h.Service.Settlements(c.Request.Context(), id, limit)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, settlements)
}

// purchases ?round=N，缺省为当前轮
func (h *LotteryHandler) purchases(c *gin.Context) {
	id, err := api.ParseID(c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	var round uint64
	if raw := c.Query("round"); raw != "" {
		round, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			Error(c, http.StatusBadRequest, "invalid round")
			return
		}
	}
	purchases, err := h.Service.Purchases(c.Request.Context(), id, round)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, purchases)
}

func (h *LotteryHandler) buy(c *gin.Context) {
	id, err := api.ParseID(c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	var req buyTicketsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body")
		return
	}
	buyer, err := api.ParseAddress("buyer", req.Buyer)
	if err != nil {
		Fail(c, err)
		return
	}
	fee, err := api.ParseAmount("paid_fee", req.PaidFee)
	if err != nil {
		Fail(c, err)
		return
	}

	p, err := h.Service.BuyTickets(c.Request.Context(), buyer, id, req.Quantity, fee)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, p)
}

func (h *LotteryHandler) draw(c *gin.Context) {
	id, err := api.ParseID(c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	s, err := h.Service.DrawWinner(c.Request.Context(), id)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, s)
}

package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"livebid/auction"
	"livebid/models"
	"livebid/monitoring"
)

// RegisterRoutes 掛載所有HTTP端點
func (impl *Server) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", impl.Healthz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	items := router.Group("/auction/items")
	items.POST("", impl.CreateAuctionItem)
	items.GET("/:itemID", impl.GetAuctionItem)
	items.DELETE("/:itemID", impl.RemoveAuctionItem)
	items.POST("/:itemID/bids", impl.PlaceBid)
	items.GET("/:itemID/events", impl.StreamAuctionEvents)

	wallet := router.Group("/wallet")
	wallet.GET("", impl.GetWallet)
	wallet.POST("/obligations/:obligationID/pay", impl.PayObligation)
}

type ErrorResponse struct {
	Message string `json:"message"`
}

type CreateAuctionItemRequest struct {
	ItemID          string  `json:"itemId" binding:"required"`
	Title           string  `json:"title" binding:"required"`
	StartingBid     string  `json:"startingBid" binding:"required"`
	BidIncrement    string  `json:"bidIncrement" binding:"required"`
	BuyNowPrice     *string `json:"buyNowPrice"`
	DurationSeconds int     `json:"durationSeconds" binding:"required"`
}

// CreateAuctionItem 將商品播種進本地拍賣註冊表並加入它的事件房間。
// 重複播種同一個商品是冪等的，不會重設已有的出價狀態。
// (POST /auction/items)
func (impl *Server) CreateAuctionItem(c *gin.Context) {
	const op = "CreateAuctionItem"

	var request CreateAuctionItemRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: err.Error()})
		return
	}

	startingBid, err := decimal.NewFromString(request.StartingBid)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid starting bid"})
		return
	}
	increment, err := decimal.NewFromString(request.BidIncrement)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid bid increment"})
		return
	}
	var buyNow *decimal.Decimal
	if request.BuyNowPrice != nil {
		parsed, err := decimal.NewFromString(*request.BuyNowPrice)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid buy now price"})
			return
		}
		buyNow = lo.ToPtr(parsed)
	}

	_, existed := impl.registry.Get(request.ItemID)
	err = impl.registry.Seed(auction.SeedParams{
		AuctionID:    request.ItemID,
		Title:        impl.htmlChecker.Sanitize(request.Title),
		StartingBid:  startingBid,
		BidIncrement: increment,
		BuyNowPrice:  buyNow,
		Duration:     time.Duration(request.DurationSeconds) * time.Second,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: err.Error()})
		return
	}
	if err := impl.transport.Subscribe(request.ItemID); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: fmt.Sprintf("[%s] fail to join auction room", op)})
		return
	}

	if existed {
		c.Status(http.StatusOK)
		return
	}
	c.Header("Location", "/auction/items/"+request.ItemID)
	c.Status(http.StatusCreated)
}

// GetAuctionItem 回傳拍賣的目前快照
// (GET /auction/items/{itemID})
func (impl *Server) GetAuctionItem(c *gin.Context) {
	a, ok := impl.registry.Get(c.Param("itemID"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "auction not found"})
		return
	}
	c.JSON(http.StatusOK, a)
}

// RemoveAuctionItem 將已結束的拍賣從註冊表釋放並離開它的事件房間。
// 結束的拍賣不會被自動驅逐，由最後一個觀察者呼叫這裡釋放。
// (DELETE /auction/items/{itemID})
func (impl *Server) RemoveAuctionItem(c *gin.Context) {
	itemID := c.Param("itemID")
	a, ok := impl.registry.Get(itemID)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "auction not found"})
		return
	}
	if !a.Ended() {
		c.JSON(http.StatusConflict, ErrorResponse{Message: "auction is still active"})
		return
	}

	impl.registry.Remove(itemID)
	if err := impl.transport.Unsubscribe(itemID); err != nil {
		impl.logger.Warn("fail to leave auction room", "auctionID", itemID, "error", err)
	}
	c.Status(http.StatusNoContent)
}

type PlaceBidRequest struct {
	Amount string `json:"amount" binding:"required"`
}

// PlaceBid 處理本地使用者的出價。
// 拒絕原因各自對應一個HTTP狀態碼，呼叫端不需要解析訊息文字。
// (POST /auction/items/{itemID}/bids)
func (impl *Server) PlaceBid(c *gin.Context) {
	var request PlaceBidRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: err.Error()})
		return
	}
	amount, err := decimal.NewFromString(request.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid bid amount"})
		return
	}

	updated, err := impl.engine.PlaceBid(c.Request.Context(), c.Param("itemID"), amount)
	if err != nil {
		status, reason := bidRejection(err)
		monitoring.ObserveBidRejected(reason)
		c.JSON(status, ErrorResponse{Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, updated)
}

// bidRejection 將出價拒絕原因對應到HTTP狀態碼與指標標籤
func bidRejection(err error) (int, string) {
	switch {
	case errors.Is(err, auction.ErrOverdueBalance):
		return http.StatusLocked, "overdue_balance"
	case errors.Is(err, auction.ErrAuctionNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, auction.ErrAuctionEnded):
		return http.StatusGone, "ended"
	case errors.Is(err, auction.ErrBidTooLow):
		return http.StatusConflict, "too_low"
	case errors.Is(err, auction.ErrInsufficientFunds):
		return http.StatusPaymentRequired, "insufficient_funds"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// StreamAuctionEvents 以SSE串流拍賣的語意事件
// (GET /auction/items/{itemID}/events)
func (impl *Server) StreamAuctionEvents(c *gin.Context) {
	const op = "StreamAuctionEvents"
	itemID := c.Param("itemID")

	a, ok := impl.registry.Get(itemID)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "auction not found"})
		return
	}
	if a.Ended() {
		c.JSON(http.StatusGone, ErrorResponse{Message: "auction has ended"})
		return
	}

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Transfer-Encoding", "chunked")
	ch, err := impl.sseManager.Subscribe(itemID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: fmt.Sprintf("[%s] fail to subscribe to auction events", op)})
		return
	}
	defer impl.sseManager.Unsubscribe(itemID, ch)

	clientGone := w.CloseNotify()
	for {
		select {
		case <-clientGone:
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			c.SSEvent(string(event.Kind), event)
			w.Flush()
		// 30秒沒有事件就發送一個空行，避免中間層斷開連線
		case <-time.After(30 * time.Second):
			w.WriteString("\n\n")
			w.Flush()
		}
	}
}

type WalletResponse struct {
	AvailableBalance decimal.Decimal             `json:"availableBalance"`
	BlockedAmount    decimal.Decimal             `json:"blockedAmount"`
	Reservations     map[string]decimal.Decimal  `json:"reservations"`
	Obligations      []auction.PaymentObligation `json:"obligations"`
}

// GetWallet 回傳錢包與未結清義務的快照
// (GET /wallet)
func (impl *Server) GetWallet(c *gin.Context) {
	c.JSON(http.StatusOK, WalletResponse{
		AvailableBalance: impl.ledger.AvailableBalance(),
		BlockedAmount:    impl.ledger.BlockedAmount(),
		Reservations:     impl.ledger.Reservations(),
		Obligations:      impl.tracker.Outstanding(),
	})
}

// PayObligation 結清一筆付款義務
// (POST /wallet/obligations/{obligationID}/pay)
func (impl *Server) PayObligation(c *gin.Context) {
	obligationID, err := uuid.Parse(c.Param("obligationID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid obligation id"})
		return
	}

	if err := impl.tracker.Pay(obligationID); err != nil {
		if errors.Is(err, auction.ErrInsufficientFunds) {
			c.JSON(http.StatusPaymentRequired, ErrorResponse{Message: err.Error()})
			return
		}
		c.JSON(http.StatusNotFound, ErrorResponse{Message: err.Error()})
		return
	}

	// 標記資料庫中的義務為已結清
	if impl.db != nil {
		result := impl.db.Model(&models.PaymentObligation{}).
			Where("id = ?", obligationID).
			Update("settled_at", time.Now())
		if result.Error != nil && !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			impl.logger.Error("fail to mark obligation settled", "obligationID", obligationID.String(), "error", result.Error)
		}
	}
	c.Status(http.StatusNoContent)
}

// Healthz 回報服務與依賴的健康狀態
// (GET /healthz)
func (impl *Server) Healthz(c *gin.Context) {
	if impl.redisClient != nil {
		if err := impl.redisClient.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	pn "github.com/pubnub/go/v7"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	"livebid/adapters/pubnub"
	redisAdapter "livebid/adapters/redis"
	"livebid/adapters/sse"
	"livebid/auction"
	"livebid/models"
	"livebid/monitoring"
	"livebid/transport"
)

// BidInfo 是出價訊息在共享訊息流上的解碼形式，
// 欄位與傳輸層送出的序列化訊息一致
type BidInfo struct {
	AuctionID  string    `msgpack:"auctionId"`
	BidderID   string    `msgpack:"bidderId"`
	BidderName string    `msgpack:"bidderName"`
	Amount     string    `msgpack:"amount"`
	PlacedAt   time.Time `msgpack:"placedAt"`
}

type Server struct {
	registry *auction.Registry
	ledger   *auction.Ledger
	tracker  *auction.SettlementTracker
	engine   *auction.Engine
	driver   *auction.Driver

	transport     transport.Transport
	sseManager    sse.IConnectionManager[auction.Event]
	bridge        *streamBridge
	groupConsumer redisAdapter.IGroupConsumer[BidInfo]
	walletStore   *redisAdapter.WalletStore
	redisClient   *goredis.Client
	db            *gorm.DB
	htmlChecker   *bluemonday.Policy

	wg         sync.WaitGroup
	cancelFunc context.CancelFunc
	logger     *slog.Logger

	config ServerConfig
}

func NewServer(config ServerConfig) (*Server, error) {
	const op = "NewServer"
	logger := slog.Default()

	initialBalance, err := decimal.NewFromString(config.User.InitialBalance)
	if err != nil {
		return nil, fmt.Errorf("[%s] invalid initial balance %q, err=%w", op, config.User.InitialBalance, err)
	}

	server := &Server{
		registry:    auction.NewRegistry(),
		htmlChecker: bluemonday.StrictPolicy(),
		logger:      logger,
		config:      config,
	}

	if config.Demo {
		server.ledger = auction.NewLedger(initialBalance)
		server.sseManager = sse.NewConnectionManager[auction.Event](
			sse.WithManagerLogger[auction.Event](logger),
		)
		server.transport = transport.NewLoopback(transport.WithLoopbackLogger(logger))
	} else {
		// 初始化資料庫連線
		dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s",
			config.DB.User, config.DB.Password, config.DB.Host, config.DB.Port, config.DB.Database, config.DB.Schema)
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
			TranslateError: true,
			NamingStrategy: schema.NamingStrategy{
				TablePrefix: config.DB.Schema + ".",
			},
		})
		if err != nil {
			return nil, fmt.Errorf("[%s] fail to connect to database, err=%w", op, err)
		}
		server.db = db

		// 初始化Redis連線
		server.redisClient = goredis.NewClient(&goredis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})

		// 載入上次會話保存的錢包快照，沒有快照時使用初始餘額
		server.walletStore = redisAdapter.NewWalletStore(
			server.redisClient,
			redisAdapter.WithWalletStorePrefix(config.Redis.KeyPrefix+"wallet:"),
		)
		snapshot, exists, err := server.walletStore.Load(context.Background(), config.User.ID)
		if err != nil {
			return nil, fmt.Errorf("[%s] fail to load wallet snapshot, err=%w", op, err)
		}
		if exists {
			// 快照存在就照單還原，即使餘額已經花到零
			server.ledger = auction.NewLedger(snapshot.Available)
			for auctionID, amount := range snapshot.Reservations {
				server.ledger.Reserve(auctionID, amount)
			}
		} else {
			server.ledger = auction.NewLedger(initialBalance)
		}

		// 初始化跨節點事件橋接與SSE管理器
		server.bridge, err = newStreamBridge(server.redisClient, config.Redis.StreamKeys.Events, logger)
		if err != nil {
			return nil, fmt.Errorf("[%s] fail to create stream bridge, err=%w", op, err)
		}
		server.sseManager = sse.NewConnectionManager[auction.Event](
			sse.WithManagerLogger[auction.Event](logger),
			sse.WithManagerBridge[auction.Event](server.bridge),
		)

		// 初始化出價傳輸層
		switch config.Transport {
		case "pubnub":
			pnConfig := pn.NewConfigWithUserId(pn.UserId(config.ID))
			pnConfig.PublishKey = config.PubNub.PublishKey
			pnConfig.SubscribeKey = config.PubNub.SubscribeKey
			server.transport, err = pubnub.NewBridge(pn.NewPubNub(pnConfig), pubnub.WithBridgeLogger(logger))
			if err != nil {
				return nil, fmt.Errorf("[%s] fail to create pubnub bridge, err=%w", op, err)
			}
		default:
			server.transport, err = transport.NewRedisTransport(
				server.redisClient,
				config.Redis.StreamKeys.Bids,
				transport.WithRedisTransportLogger(logger),
				transport.WithRedisTransportKeyPrefix(config.Redis.KeyPrefix),
			)
			if err != nil {
				return nil, fmt.Errorf("[%s] fail to create redis transport, err=%w", op, err)
			}
		}

		// 初始化group consumer，用於把出價紀錄同步回資料庫
		server.groupConsumer, err = redisAdapter.NewGroupConsumer[BidInfo](
			server.redisClient,
			config.Redis.StreamKeys.Bids,
			config.Redis.ConsumerGroup,
			config.ID,
			redisAdapter.WithGroupConsumerLogger[BidInfo](logger),
		)
		if err != nil {
			return nil, fmt.Errorf("[%s] fail to create group consumer, err=%w", op, err)
		}
	}

	notifier := newEventNotifier(server.sseManager, logger)
	trackerOpts := []auction.TrackerOption{auction.WithTrackerNotifier(notifier)}
	if config.Auction.GracePeriod > 0 {
		trackerOpts = append(trackerOpts, auction.WithGracePeriod(config.Auction.GracePeriod))
	}
	server.tracker = auction.NewSettlementTracker(server.ledger, trackerOpts...)

	server.engine = auction.NewEngine(
		server.registry,
		server.ledger,
		server.tracker,
		auction.Bidder{ID: config.User.ID, Name: config.User.Name},
		auction.WithEngineSender(server.transport),
		auction.WithEngineNotifier(notifier),
		auction.WithEngineLogger(logger),
	)

	driverOpts := []auction.DriverOption{
		auction.WithDriverLogger(logger),
		auction.WithSyntheticBids(config.Demo || config.Auction.SyntheticBids),
	}
	if config.Auction.SyntheticInterval > 0 {
		driverOpts = append(driverOpts, auction.WithSyntheticInterval(config.Auction.SyntheticInterval))
	}
	if config.Auction.SyntheticChance > 0 {
		driverOpts = append(driverOpts, auction.WithSyntheticChance(config.Auction.SyntheticChance))
	}
	server.driver, err = auction.NewDriver(server.registry, server.engine, driverOpts...)
	if err != nil {
		return nil, fmt.Errorf("[%s] fail to create lifecycle driver, err=%w", op, err)
	}

	return server, nil
}

func (impl *Server) Start() error {
	const op = "Server.Start"

	if impl.bridge != nil {
		impl.bridge.Start()
	}
	impl.sseManager.Start()
	impl.transport.Start()
	impl.driver.Start()

	ctx, cancel := context.WithCancel(context.Background())
	impl.cancelFunc = cancel

	// 啟動worker，把傳輸層入站事件套用到本地拍賣狀態
	slog.Info("Start inbound event worker")
	impl.wg.Add(1)
	go func() {
		logger := impl.logger.With(slog.String("caller", "InboundEvents"))
		defer impl.wg.Done()
		defer slog.Info("Inbound event worker stopped")
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-impl.transport.Inbound():
				if !ok {
					return
				}
				impl.handleInboundEvent(logger, event)
			}
		}
	}()

	// 啟動worker，定期更新狀態指標
	impl.wg.Add(1)
	go func() {
		defer impl.wg.Done()
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				monitoring.SetActiveAuctions(len(impl.registry.ActiveIDs()))
				monitoring.SetBlockedAmount(impl.ledger.BlockedAmount())
				monitoring.SetObligationsOutstanding(len(impl.tracker.Outstanding()))
				impl.syncObligations()
				impl.syncWallet()
			}
		}
	}()

	if impl.groupConsumer == nil {
		return nil
	}
	if err := impl.groupConsumer.Start(); err != nil {
		return fmt.Errorf("[%s] fail to start group consumer, err=%w", op, err)
	}

	// 啟動worker，將共享訊息流上的出價紀錄存回資料庫
	slog.Info("Start bid synchronization worker")
	impl.wg.Add(1)
	go func() {
		logger := impl.logger.With(slog.String("caller", "BidSynchronize"))
		defer impl.wg.Done()
		defer slog.Info("Bid synchronization worker stopped")
		ch := impl.groupConsumer.Subscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				logger.Debug("Receive message")
				handle := func() error {
					amount, err := decimal.NewFromString(msg.Data.Amount)
					if err != nil {
						return fmt.Errorf("invalid bid amount %q, err=%w", msg.Data.Amount, err)
					}
					record := models.BidRecord{
						AuctionID:  msg.Data.AuctionID,
						BidderID:   msg.Data.BidderID,
						BidderName: msg.Data.BidderName,
						Amount:     amount,
						PlacedAt:   msg.Data.PlacedAt,
					}
					if result := impl.db.Create(&record); result.Error != nil {
						return fmt.Errorf("fail to create bid record, err=%w", result.Error)
					}
					return nil
				}
				if handleErr := handle(); handleErr != nil {
					logger.Error("Fail to synchronize bid", slog.Any("error", handleErr))
					if err := msg.Fail(ctx, handleErr); err != nil {
						logger.Error("Fail to fail message", slog.Any("error", err))
					}
					continue
				}
				if err := msg.Done(ctx); err != nil {
					logger.Error("Sync success but fail to done message", slog.Any("error", err))
					if err := msg.Fail(ctx, err); err != nil {
						logger.Error("Sync success but fail to fail message", slog.Any("error", err))
					}
					continue
				}
				logger.Debug("Synchronize success")
			}
		}
	}()
	return nil
}

// handleInboundEvent 將一個入站事件套用到本地狀態。
// 出價事件走與本地出價相同的套用路徑；
// 結束事件視為後端的權威宣告，直接觸發結束轉移與結算。
func (impl *Server) handleInboundEvent(logger *slog.Logger, event transport.Event) {
	switch event.Kind {
	case transport.EventBidPlaced:
		if event.Bid == nil {
			logger.Warn("bid event without bid payload", slog.String("auctionID", event.AuctionID))
			return
		}
		if event.Bid.BidderID == impl.engine.Self().ID {
			// 自己的出價回流，本地已經套用過
			return
		}
		_, err := impl.engine.ApplyRemoteBid(event.AuctionID, event.Bid.BidderID, event.Bid.BidderName, event.Bid.Amount)
		if err != nil {
			logger.Debug("remote bid rejected",
				slog.String("auctionID", event.AuctionID),
				slog.Any("error", err))
			return
		}
		source := monitoring.SourceRemote
		if event.Bid.BidderID == auction.SyntheticBidder.ID {
			source = monitoring.SourceSynthetic
		}
		monitoring.ObserveBidAccepted(source)
	case transport.EventAuctionEnded:
		if impl.registry.Finalize(event.AuctionID) {
			impl.engine.Complete(event.AuctionID)
		}
		if err := impl.sseManager.Publish(event.AuctionID, auction.Event{
			Kind:      auction.EventEnded,
			AuctionID: event.AuctionID,
			At:        time.Now(),
		}); err != nil {
			logger.Warn("fail to publish ended event", slog.Any("error", err))
		}
	case transport.EventEndingSoon:
		if err := impl.sseManager.Publish(event.AuctionID, auction.Event{
			Kind:      auction.EventEndingSoon,
			AuctionID: event.AuctionID,
			Amount:    decimal.NewFromInt(int64(event.SecondsLeft)),
			At:        time.Now(),
		}); err != nil {
			logger.Warn("fail to publish ending soon event", slog.Any("error", err))
		}
	default:
		logger.Warn("unknown inbound event kind", slog.String("kind", string(event.Kind)))
	}
}

// syncObligations 將未結清的付款義務補寫進資料庫（已存在的跳過）
func (impl *Server) syncObligations() {
	if impl.db == nil {
		return
	}
	for _, obligation := range impl.tracker.Outstanding() {
		record := models.PaymentObligation{
			ID:        obligation.ID,
			UserID:    impl.config.User.ID,
			AuctionID: obligation.AuctionID,
			Title:     obligation.Title,
			Amount:    obligation.Amount,
			DueAt:     obligation.DueAt,
		}
		result := impl.db.
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
			Create(&record)
		if result.Error != nil && !errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			impl.logger.Error("fail to persist obligation",
				slog.String("obligationID", obligation.ID.String()),
				slog.Any("error", result.Error))
		}
	}
}

// syncWallet 將目前的可用餘額補寫進資料庫
func (impl *Server) syncWallet() {
	if impl.db == nil {
		return
	}
	account := models.WalletAccount{
		UserID:  impl.config.User.ID,
		Balance: impl.ledger.AvailableBalance(),
	}
	result := impl.db.
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"balance", "updated_at"}),
		}).
		Create(&account)
	if result.Error != nil {
		impl.logger.Error("fail to persist wallet balance", slog.Any("error", result.Error))
	}
}

func (impl *Server) Close() {
	// 停止生命週期驅動器，不再有新的倒數與合成出價
	impl.driver.Close()
	// 關閉worker
	if impl.cancelFunc != nil {
		impl.cancelFunc()
	}
	impl.wg.Wait()
	// 關閉傳輸層與group consumer
	impl.transport.Close()
	if impl.groupConsumer != nil {
		if err := impl.groupConsumer.Close(); err != nil {
			impl.logger.Error("fail to close group consumer", slog.Any("error", err))
		}
	}
	// 關閉跨節點橋接與SSE管理器
	if impl.bridge != nil {
		impl.bridge.Close()
	}
	impl.sseManager.Done()

	// 保存錢包快照供下次會話還原
	if impl.walletStore != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := impl.walletStore.Save(ctx, impl.config.User.ID, redisAdapter.WalletSnapshot{
			Available:    impl.ledger.AvailableBalance(),
			Reservations: impl.ledger.Reservations(),
		})
		if err != nil {
			impl.logger.Error("fail to save wallet snapshot", slog.Any("error", err))
		}
	}
}

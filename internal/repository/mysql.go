package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/lvdashuaibi/tokenlottery/config"
	"github.com/lvdashuaibi/tokenlottery/internal/model"
)

// snapshotGuard 新快照不旧于库中快照：轮次更大，或同一轮参与者不少于库中
const snapshotGuard = `VALUES(round) > round OR (VALUES(round) = round AND JSON_LENGTH(VALUES(participants)) >= JSON_LENGTH(participants))`

// snapshotColumns 快照更新的列。MySQL按顺序赋值，后面的条件会读到前面已更新的值，
// 所以participants与round放在最后，round最后赋值。
var snapshotColumns = []string{
	"round_end_time", "prize_pool", "total_burned", "buy_fee_pool", "last_winner", "participants", "round",
}

// upsertLotterySQL 乱序到达的旧快照不会覆盖新快照
var upsertLotterySQL = `INSERT INTO lotteries
			(id, creator, token_address, token_symbol, ticket_price, round_duration, round_end_time, round,
			 participants, prize_pool, total_burned, buy_fee_pool, reserve_receiver, last_winner, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
			` + guardedUpdates(snapshotColumns)

func guardedUpdates(cols []string) string {
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = IF(%s, VALUES(%s), %s)", c, snapshotGuard, c, c)
	}
	return strings.Join(sets, ",\n\t\t\t")
}

const (
	insertPurchaseSQL = `INSERT IGNORE INTO ticket_purchases
			(event_id, lottery_id, round, buyer, quantity, total, burn_share, prize_share, remainder, fee, reserve_receiver, purchased_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertSettlementSQL = `INSERT IGNORE INTO settlements
			(event_id, lottery_id, round, winner, amount, winner_index, tickets, drawn_at, next_round_end)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectLotteryColumns = `SELECT id, creator, token_address, token_symbol, ticket_price, round_duration, round_end_time, round,
			participants, prize_pool, total_burned, buy_fee_pool, reserve_receiver, last_winner, created_at
			FROM lotteries`
)

type MySQLRepository struct {
	masterDB *sql.DB
	slaveDB  *sql.DB
	logger   *zap.Logger
}

func NewMySQLRepository(logger *zap.Logger) (*MySQLRepository, error) {
	cfg := config.AppConfig.MySQL

	masterDB, err := sql.Open("mysql", cfg.Master)
	if err != nil {
		return nil, fmt.Errorf("连接主数据库失败: %w", err)
	}

	masterDB.SetMaxOpenConns(cfg.MaxOpenConns)
	masterDB.SetMaxIdleConns(cfg.MaxIdleConns)
	masterDB.SetConnMaxLifetime(time.Hour)

	if err = masterDB.Ping(); err != nil {
		return nil, fmt.Errorf("主数据库连接测试失败: %w", err)
	}

	slaveDB := masterDB
	if cfg.Slave != "" {
		slaveDB, err = sql.Open("mysql", cfg.Slave)
		if err != nil {
			return nil, fmt.Errorf("连接从数据库失败: %w", err)
		}
		slaveDB.SetMaxOpenConns(cfg.MaxOpenConns)
		slaveDB.SetMaxIdleConns(cfg.MaxIdleConns)
		slaveDB.SetConnMaxLifetime(time.Hour)

		if err = slaveDB.Ping(); err != nil {
			logger.Warn("从数据库连接测试失败，将使用主数据库代替", zap.Error(err))
			slaveDB.Close()
			slaveDB = masterDB
		}
	}

	return NewMySQLRepositoryWithDB(masterDB, slaveDB, logger), nil
}

// NewMySQLRepositoryWithDB 使用已有连接创建仓库，slave为空时读写都走master
func NewMySQLRepositoryWithDB(master, slave *sql.DB, logger *zap.Logger) *MySQLRepository {
	if slave == nil {
		slave = master
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MySQLRepository{masterDB: master, slaveDB: slave, logger: logger}
}

// SaveEvent 在一个事务中写入彩票快照以及购票/开奖明细。
// 明细表以event_id去重，同一事件重复投递不会重复记账。
func (r *MySQLRepository) SaveEvent(ctx context.Context, event *model.LotteryEvent) error {
	if event == nil || event.Lottery == nil {
		return fmt.Errorf("事件缺少彩票快照")
	}

	tx, err := r.masterDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开始事务失败: %w", err)
	}

	if err := upsertLottery(ctx, tx, event.Lottery); err != nil {
		tx.Rollback()
		return err
	}

	if p := event.Purchase; p != nil {
		_, err = tx.ExecContext(ctx, insertPurchaseSQL,
			event.ID, p.LotteryID, p.Round, p.Buyer.Hex(), p.Quantity,
			p.Total, p.BurnShare, p.PrizeShare, p.Remainder, p.Fee,
			p.ReserveReceiver.Hex(), p.PurchasedAt)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("记录购票明细失败: %w", err)
		}
	}

	if s := event.Settlement; s != nil {
		_, err = tx.ExecContext(ctx, insertSettlementSQL,
			event.ID, s.LotteryID, s.Round, s.Winner.Hex(), s.Amount,
			s.WinnerIndex, s.Tickets, s.DrawnAt, s.NextRoundEnd)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("记录开奖结果失败: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}

func upsertLottery(ctx context.Context, tx *sql.Tx, l *model.Lottery) error {
	participants, err := json.Marshal(l.Participants)
	if err != nil {
		return fmt.Errorf("序列化参与者失败: %w", err)
	}
	_, err = tx.ExecContext(ctx, upsertLotterySQL,
		l.ID, l.Creator.Hex(), l.TokenAddress.Hex(), l.TokenSymbol, l.TicketPrice,
		int64(l.RoundDuration/time.Second), l.RoundEndTime, l.Round,
		string(participants), l.PrizePool, l.TotalBurned, l.BuyFeePool,
		l.ReserveReceiver.Hex(), l.LastWinner.Hex(), l.CreatedAt)
	if err != nil {
		return fmt.Errorf("保存彩票 %d 快照失败: %w", l.ID, err)
	}
	return nil
}

// LoadLotteries 读取全部彩票快照，用于启动时恢复注册表
func (r *MySQLRepository) LoadLotteries(ctx context.Context) ([]*model.Lottery, error) {
	rows, err := r.slaveDB.QueryContext(ctx, selectLotteryColumns+" ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("查询彩票快照失败: %w", err)
	}
	defer rows.Close()

	var lotteries []*model.Lottery
	for rows.Next() {
		l, err := scanLottery(rows)
		if err != nil {
			return nil, err
		}
		lotteries = append(lotteries, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("迭代彩票快照失败: %w", err)
	}
	return lotteries, nil
}

func scanLottery(rows *sql.Rows) (*model.Lottery, error) {
	var (
		l                                          model.Lottery
		creator, token, reserve, winner, partsJSON string
		durationSec                                int64
	)
	err := rows.Scan(&l.ID, &creator, &token, &l.TokenSymbol, &l.TicketPrice, &durationSec,
		&l.RoundEndTime, &l.Round, &partsJSON, &l.PrizePool, &l.TotalBurned, &l.BuyFeePool,
		&reserve, &winner, &l.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("扫描彩票快照失败: %w", err)
	}

	l.Creator = common.HexToAddress(creator)
	l.TokenAddress = common.HexToAddress(token)
	l.ReserveReceiver = common.HexToAddress(reserve)
	l.LastWinner = common.HexToAddress(winner)
	l.RoundDuration = time.Duration(durationSec) * time.Second
	l.Participants = []common.Address{}
	if partsJSON != "" {
		if err := json.Unmarshal([]byte(partsJSON), &l.Participants); err != nil {
			return nil, fmt.Errorf("解析彩票 %d 参与者失败: %w", l.ID, err)
		}
	}
	return &l, nil
}

// ListSettlements 按轮次倒序返回彩票的开奖历史
func (r *MySQLRepository) ListSettlements(ctx context.Context, lotteryID uint64, limit int) ([]*model.Settlement, error) {
	query := `SELECT lottery_id, round, winner, amount, winner_index, tickets, drawn_at, next_round_end
			 FROM settlements
			 WHERE lottery_id = ?
			 ORDER BY round DESC
			 LIMIT ?`
	rows, err := r.slaveDB.QueryContext(ctx, query, lotteryID, limit)
	if err != nil {
		return nil, fmt.Errorf("查询开奖历史失败: %w", err)
	}
	defer rows.Close()

	settlements := []*model.Settlement{}
	for rows.Next() {
		var (
			s      model.Settlement
			winner string
		)
		if err := rows.Scan(&s.LotteryID, &s.Round, &winner, &s.Amount, &s.WinnerIndex,
			&s.Tickets, &s.DrawnAt, &s.NextRoundEnd); err != nil {
			return nil, fmt.Errorf("扫描开奖历史失败: %w", err)
		}
		s.Winner = common.HexToAddress(winner)
		settlements = append(settlements, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("迭代开奖历史失败: %w", err)
	}
	return settlements, nil
}

// ListPurchases 返回某一轮的购票记录
func (r *MySQLRepository) ListPurchases(ctx context.Context, lotteryID, round uint64) ([]*model.Purchase, error) {
	query := `SELECT lottery_id, round, buyer, quantity, total, burn_share, prize_share, remainder, fee, reserve_receiver, purchased_at
			 FROM ticket_purchases
			 WHERE lottery_id = ? AND round = ?
			 ORDER BY purchased_at`
	rows, err := r.slaveDB.QueryContext(ctx, query, lotteryID, round)
	if err != nil {
		return nil, fmt.Errorf("查询购票记录失败: %w", err)
	}
	defer rows.Close()

	purchases := []*model.Purchase{}
	for rows.Next() {
		var (
			p              model.Purchase
			buyer, reserve string
		)
		if err := rows.Scan(&p.LotteryID, &p.Round, &buyer, &p.Quantity, &p.Total, &p.BurnShare,
			&p.PrizeShare, &p.Remainder, &p.Fee, &reserve, &p.PurchasedAt); err != nil {
			return nil, fmt.Errorf("扫描购票记录失败: %w", err)
		}
		p.Buyer = common.HexToAddress(buyer)
		p.ReserveReceiver = common.HexToAddress(reserve)
		purchases = append(purchases, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("迭代购票记录失败: %w", err)
	}
	return purchases, nil
}

// Close 关闭数据库连接
func (r *MySQLRepository) Close() {
	if r.masterDB != nil {
		r.masterDB.Close()
	}
	if r.slaveDB != nil && r.slaveDB != r.masterDB {
		r.slaveDB.Close()
	}
}

//go:embed schema.sql
var schemaSQL string

// EnsureSchema 建表，已存在则跳过
func (r *MySQLRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := r.masterDB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("初始化表结构失败: %w", err)
		}
	}
	return nil
}

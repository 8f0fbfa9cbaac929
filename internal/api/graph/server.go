package graph

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	graphql "github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"
	"go.uber.org/zap"

	"github.com/lvdashuaibi/tokenlottery/internal/api"
	"github.com/lvdashuaibi/tokenlottery/internal/lottery"
	"github.com/lvdashuaibi/tokenlottery/internal/service"
)

// GraphQLServer GraphQL服务器
type GraphQLServer struct {
	schema *graphql.Schema
	path   string
	logger *zap.Logger

	mu     sync.Mutex
	server *http.Server
}

// NewGraphQLServer 创建GraphQL服务器，path为API端点
func NewGraphQLServer(svc *service.LotteryService, path string, logger *zap.Logger) *GraphQLServer {
	schema := graphql.MustParseSchema(schemaString, NewResolver(svc),
		graphql.UseFieldResolvers(),
	)
	return &GraphQLServer{
		schema: schema,
		path:   path,
		logger: logger.Named("graphql"),
	}
}

// Handler API端点与Playground
func (s *GraphQLServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.path, &relay.Handler{Schema: s.schema})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(playgroundHTML(s.path)))
	})
	return mux
}

// Start 启动GraphQL服务器，阻塞直到Shutdown
func (s *GraphQLServer) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("GraphQL服务已启动",
		zap.String("endpoint", s.path),
		zap.String("playground", "http://localhost"+addr+"/"))

	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *GraphQLServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Resolver GraphQL根解析器
type Resolver struct {
	svc *service.LotteryService
}

func NewResolver(svc *service.LotteryService) *Resolver {
	return &Resolver{svc: svc}
}

func (r *Resolver) Lottery(ctx context.Context, args struct{ ID graphql.ID }) (*LotteryResolver, error) {
	id, err := api.ParseID(string(args.ID))
	if err != nil {
		return nil, err
	}
	l, err := r.svc.GetLottery(ctx, id)
	if err != nil {
		return nil, err
	}
	return &LotteryResolver{l: l}, nil
}

func (r *Resolver) Lotteries(ctx context.Context, args struct{ IDs []graphql.ID }) ([]*LotteryResolver, error) {
	ids := make([]uint64, 0, len(args.IDs))
	for _, raw := range args.IDs {
		id, err := api.ParseID(string(raw))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return lotteryResolvers(r.svc.GetLotteries(ids)), nil
}

func (r *Resolver) Participants(ctx context.Context, args struct{ ID graphql.ID }) ([]string, error) {
	id, err := api.ParseID(string(args.ID))
	if err != nil {
		return nil, err
	}
	participants, err := r.svc.GetParticipants(id)
	if err != nil {
		return nil, err
	}
	result := make([]string, len(participants))
	for i, p := range participants {
		result[i] = p.Hex()
	}
	return result, nil
}

func (r *Resolver) LotteryTokens(ctx context.Context) []string {
	tokens := r.svc.GetLotteryTokens()
	result := make([]string, len(tokens))
	for i, t := range tokens {
		result[i] = t.Hex()
	}
	return result
}

func (r *Resolver) LotteriesByCreator(ctx context.Context, args struct{ Creator string }) ([]graphql.ID, error) {
	creator, err := api.ParseAddress("creator", args.Creator)
	if err != nil {
		return nil, err
	}
	return toIDs(r.svc.GetLotteriesByCreator(creator)), nil
}

func (r *Resolver) LotteriesByTokenAddress(ctx context.Context, args struct{ Token string }) ([]graphql.ID, error) {
	token, err := api.ParseAddress("token", args.Token)
	if err != nil {
		return nil, err
	}
	return toIDs(r.svc.GetLotteriesByTokenAddress(token)), nil
}

func (r *Resolver) LotteriesByTokenSymbol(ctx context.Context, args struct{ Symbol string }) []graphql.ID {
	return toIDs(r.svc.GetLotteriesByTokenSymbol(args.Symbol))
}

func (r *Resolver) AllLotteries(ctx context.Context) []graphql.ID {
	return toIDs(r.svc.GetAllLotteries())
}

func (r *Resolver) Settlements(ctx context.Context, args struct {
	ID    graphql.ID
	Limit *int32
}) ([]*SettlementResolver, error) {
	id, err := api.ParseID(string(args.ID))
	if err != nil {
		return nil, err
	}
	limit := 0
	if args.Limit != nil {
		limit = int(*args.Limit)
	}
	settlements, err := r.svc.Settlements(ctx, id, limit)
	if err != nil {
		return nil, err
	}
	result := make([]*SettlementResolver, len(settlements))
	for i, s := range settlements {
		result[i] = &SettlementResolver{s: s}
	}
	return result, nil
}

func (r *Resolver) Purchases(ctx context.Context, args struct {
	ID    graphql.ID
	Round *int32
}) ([]*PurchaseResolver, error) {
	id, err := api.ParseID(string(args.ID))
	if err != nil {
		return nil, err
	}
	var round uint64
	if args.Round != nil {
		if *args.Round < 0 {
			return nil, fmt.Errorf("%w: 轮次不能为负", lottery.ErrInvalidParameter)
		}
		round = uint64(*args.Round)
	}
	purchases, err := r.svc.Purchases(ctx, id, round)
	if err != nil {
		return nil, err
	}
	result := make([]*PurchaseResolver, len(purchases))
	for i, p := range purchases {
		result[i] = &PurchaseResolver{p: p}
	}
	return result, nil
}

func (r *Resolver) Fees(ctx context.Context) *FeesResolver {
	creation, buy := r.svc.Fees()
	return &FeesResolver{
		CreationFee: creation.String(),
		BuyFee:      buy.String(),
		ReserveFund: r.svc.ReserveFund().Hex(),
		Custody:     r.svc.Custody().Hex(),
	}
}

// CreateLotteryInput 创建彩票输入
type CreateLotteryInput struct {
	Creator              string
	TokenAddress         string
	RoundDurationSeconds int32
	TicketPrice          string
	ReserveReceiver      *string
	PaidFee              string
}

func (r *Resolver) CreateLottery(ctx context.Context, args struct{ Input CreateLotteryInput }) (*LotteryResolver, error) {
	in := args.Input
	creator, err := api.ParseAddress("creator", in.Creator)
	if err != nil {
		return nil, err
	}
	token, err := api.ParseAddress("tokenAddress", in.TokenAddress)
	if err != nil {
		return nil, err
	}
	price, err := api.ParseAmount("ticketPrice", in.TicketPrice)
	if err != nil {
		return nil, err
	}
	fee, err := api.ParseAmount("paidFee", in.PaidFee)
	if err != nil {
		return nil, err
	}
	var receiver string
	if in.ReserveReceiver != nil {
		receiver = *in.ReserveReceiver
	}
	reserveReceiver, err := api.ParseOptionalAddress("reserveReceiver", receiver)
	if err != nil {
		return nil, err
	}
	duration, err := api.ParseRoundDuration("roundDurationSeconds", int64(in.RoundDurationSeconds))
	if err != nil {
		return nil, err
	}

	l, err := r.svc.CreateLottery(ctx, lottery.CreateParams{
		Creator:         creator,
		TokenAddress:    token,
		RoundDuration:   duration,
		TicketPrice:     price,
		ReserveReceiver: reserveReceiver,
		PaidFee:         fee,
	})
	if err != nil {
		return nil, err
	}
	return &LotteryResolver{l: l}, nil
}

// BuyTicketsInput 购票输入
type BuyTicketsInput struct {
	Buyer     string
	LotteryID graphql.ID
	Quantity  int32
	PaidFee   string
}

func (r *Resolver) BuyTickets(ctx context.Context, args struct{ Input BuyTicketsInput }) (*PurchaseResolver, error) {
	in := args.Input
	buyer, err := api.ParseAddress("buyer", in.Buyer)
	if err != nil {
		return nil, err
	}
	id, err := api.ParseID(string(in.LotteryID))
	if err != nil {
		return nil, err
	}
	fee, err := api.ParseAmount("paidFee", in.PaidFee)
	if err != nil {
		return nil, err
	}

	p, err := r.svc.BuyTickets(ctx, buyer, id, int64(in.Quantity), fee)
	if err != nil {
		return nil, err
	}
	return &PurchaseResolver{p: p}, nil
}

func (r *Resolver) DrawWinner(ctx context.Context, args struct{ ID graphql.ID }) (*SettlementResolver, error) {
	id, err := api.ParseID(string(args.ID))
	if err != nil {
		return nil, err
	}
	s, err := r.svc.DrawWinner(ctx, id)
	if err != nil {
		return nil, err
	}
	return &SettlementResolver{s: s}, nil
}

func toIDs(ids []uint64) []graphql.ID {
	result := make([]graphql.ID, len(ids))
	for i, id := range ids {
		result[i] = formatID(id)
	}
	return result
}

func playgroundHTML(endpoint string) string {
	return fmt.Sprintf(playgroundTemplate, endpoint)
}

const playgroundTemplate = `
<!DOCTYPE html>
<html>
<head>
  <meta charset=utf-8/>
  <meta name="viewport" content="user-scalable=no, initial-scale=1.0, minimum-scale=1.0, maximum-scale=1.0, minimal-ui">
  <title>Token Lottery GraphQL Playground</title>
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/static/css/index.css" />
  <script src="https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/static/js/middleware.js"></script>
</head>
<body>
  <div id="root"></div>
  <script>window.addEventListener('load', function (event) {
      GraphQLPlayground.init(document.getElementById('root'), {
        endpoint: '%s'
      })
    })</script>
</body>
</html>
`

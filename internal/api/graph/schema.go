package graph

// 金额为最小单位的十进制字符串，时间为RFC3339
const schemaString = `
type Lottery {
  id: ID!
  creator: String!
  tokenAddress: String!
  tokenSymbol: String!
  ticketPrice: String!
  roundDurationSeconds: Int!
  roundEndTime: String!
  round: Int!
  participants: [String!]!
  ticketCount: Int!
  prizePool: String!
  totalBurned: String!
  buyFeePool: String!
  reserveReceiver: String
  lastWinner: String
  createdAt: String!
}

type Purchase {
  lotteryId: ID!
  round: Int!
  buyer: String!
  quantity: Int!
  total: String!
  burnShare: String!
  prizeShare: String!
  remainder: String!
  fee: String!
  reserveReceiver: String!
  purchasedAt: String!
}

type Settlement {
  lotteryId: ID!
  round: Int!
  winner: String!
  amount: String!
  winnerIndex: Int!
  tickets: Int!
  drawnAt: String!
  nextRoundEnd: String!
}

type Fees {
  creationFee: String!
  buyFee: String!
  reserveFund: String!
  custody: String!
}

input CreateLotteryInput {
  creator: String!
  tokenAddress: String!
  roundDurationSeconds: Int!
  ticketPrice: String!
  reserveReceiver: String
  paidFee: String!
}

input BuyTicketsInput {
  buyer: String!
  lotteryId: ID!
  quantity: Int!
  paidFee: String!
}

type Query {
  # 单个彩票快照
  lottery(id: ID!): Lottery!

  # 批量查询，不存在的ID被跳过
  lotteries(ids: [ID!]!): [Lottery!]!

  participants(id: ID!): [String!]!
  lotteryTokens: [String!]!
  lotteriesByCreator(creator: String!): [ID!]!
  lotteriesByTokenAddress(token: String!): [ID!]!
  lotteriesByTokenSymbol(symbol: String!): [ID!]!
  allLotteries: [ID!]!

  # 开奖历史（需要MySQL）
  settlements(id: ID!, limit: Int): [Settlement!]!

  # 购票记录，round缺省为当前轮（需要MySQL）
  purchases(id: ID!, round: Int): [Purchase!]!

  fees: Fees!
}

type Mutation {
  createLottery(input: CreateLotteryInput!): Lottery!
  buyTickets(input: BuyTicketsInput!): Purchase!
  drawWinner(id: ID!): Settlement!
}

schema {
  query: Query
  mutation: Mutation
}
`

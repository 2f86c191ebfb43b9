package utils

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"fraudScoringApp/internal/domain/model"
)

var (
	transactionTypes = []string{"transfer", "payment", "withdrawal", "deposit"}
	merchants        = []string{"retail", "electronics", "travel", "grocery", "gaming", "crypto"}
	locations        = []string{"Berlin", "London", "New York", "Singapore", "Lagos", "Sao Paulo"}
	devices          = []string{"mobile", "desktop", "tablet", "atm"}
	channels         = []string{"card", "wire_transfer", "ACH", "UPI", "mobile_wallet"}
)

// TransactionGenerator provides methods to generate test transaction documents
type TransactionGenerator struct {
	rnd *rand.Rand
	now func() time.Time
}

// NewTransactionGenerator creates a generator seeded with seed.
func NewTransactionGenerator(seed uint64) *TransactionGenerator {
	return &TransactionGenerator{
		rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		now: time.Now,
	}
}

// GenerateTransactions creates count valid documents with predictable fields.
func (g *TransactionGenerator) GenerateTransactions(count int) []*model.RawTransaction {
	txs := make([]*model.RawTransaction, count)
	for i := 0; i < count; i++ {
		txs[i] = g.build(
			fmt.Sprintf("TXN%06d", i+1),
			fmt.Sprintf("ACC%05d", 10000+i%50),
			fmt.Sprintf("ACC%05d", 20000+i%50),
			float64(10+i*25),
			i,
		)
	}
	return txs
}

// GenerateRandomTransactions creates count valid documents with random
// amounts and risk signals. Roughly one in ten looks suspicious.
func (g *TransactionGenerator) GenerateRandomTransactions(count int) []*model.RawTransaction {
	txs := make([]*model.RawTransaction, count)
	for i := 0; i < count; i++ {
		sender := 10000 + g.rnd.IntN(90000)
		receiver := sender + 1 + g.rnd.IntN(1000)
		txs[i] = g.build(
			"TXN-"+uuid.NewString()[:12],
			fmt.Sprintf("ACC%05d", sender),
			fmt.Sprintf("ACC%05d", receiver%100000),
			float64(1+g.rnd.IntN(500000))/100,
			g.rnd.IntN(1000),
		)

		suspicious := g.rnd.IntN(10) == 0
		velocity := float64(g.rnd.IntN(5))
		geo := g.rnd.Float64() * 0.3
		deviation := g.rnd.Float64()
		if suspicious {
			velocity += 15
			geo = 0.7 + g.rnd.Float64()*0.3
			deviation += 3
			amount := *txs[i].Amount * 20
			txs[i].Amount = &amount
		}
		since := float64(g.rnd.IntN(72 * 3600))
		txs[i].VelocityScore = &velocity
		txs[i].GeoAnomalyScore = &geo
		txs[i].SpendingDeviationScore = &deviation
		txs[i].TimeSinceLastTransaction = &since
	}
	return txs
}

func (g *TransactionGenerator) build(id, sender, receiver string, amount float64, i int) *model.RawTransaction {
	ts := g.now().UTC().Add(-time.Duration(i%3600) * time.Second).Format(time.RFC3339)
	ip := fmt.Sprintf("10.%d.%d.%d", i%256, (i/7)%256, 1+i%254)
	hash := fmt.Sprintf("dev%013x", uint64(i)*2654435761)

	return &model.RawTransaction{
		TransactionID:    &id,
		Timestamp:        &ts,
		SenderAccount:    &sender,
		ReceiverAccount:  &receiver,
		Amount:           &amount,
		TransactionType:  ptr(transactionTypes[i%len(transactionTypes)]),
		MerchantCategory: ptr(merchants[i%len(merchants)]),
		Location:         ptr(locations[i%len(locations)]),
		DeviceUsed:       ptr(devices[i%len(devices)]),
		PaymentChannel:   ptr(channels[i%len(channels)]),
		IPAddress:        &ip,
		DeviceHash:       &hash,
	}
}

func ptr[T any](v T) *T { return &v }

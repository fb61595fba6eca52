// Package escrow содержит политику выбора способа оплаты заказа: безопасная оплата через
// эскроу или прямой перевод продавцу. Decide не выполняет ввода-вывода.
package escrow

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category задаёт категорию товара.
type Category string

const (
	CategoryLivestock Category = "livestock"
	CategoryCrops     Category = "crops"
)

// Пороговые значения правил.
var (
	HighValueThreshold      = decimal.NewFromInt(500)
	LowValueCropThreshold   = decimal.NewFromInt(100)
	LongDistanceThresholdKm = 100.0
)

const (
	NewUserTxnThreshold  = 5
	NewUserDaysThreshold = 30
)

// Причины решений в порядке вычисления правил.
const (
	ReasonLivestock    = "livestock orders require secure payment"
	ReasonHighValue    = "orders of 500 or more require secure payment"
	ReasonLongDistance = "deliveries of 100 km or more require secure payment"
	ReasonNewSeller    = "seller is new to the marketplace"
	ReasonNewBuyer     = "buyer is new to the marketplace"
	ReasonLowValueCrop = "low-value crop orders may be paid directly"
)

// OrderContext описывает заказ для принятия решения. Необязательные поля равны nil, если
// данных нет. AsOf задаёт момент оценки, от него считается стаж пользователей.
type OrderContext struct {
	Category           Category        `json:"category"`
	TotalAmount        decimal.Decimal `json:"totalAmount"`
	Quantity           int             `json:"quantity"`
	DeliveryDistanceKm *float64        `json:"deliveryDistanceKm,omitempty"`
	SellerTxnCount     *int            `json:"sellerTxnCount,omitempty"`
	BuyerTxnCount      *int            `json:"buyerTxnCount,omitempty"`
	SellerJoinDate     *time.Time      `json:"sellerJoinDate,omitempty"`
	BuyerJoinDate      *time.Time      `json:"buyerJoinDate,omitempty"`
	AsOf               time.Time       `json:"-"`
}

// Decision описывает результат применения политики.
type Decision struct {
	RequireSecurePayment bool     `json:"requireSecurePayment"`
	AllowDirectPayment   bool     `json:"allowDirectPayment"`
	Reasons              []string `json:"reasons"`
}

// Decide применяет правила по порядку. Любое блокирующее правило требует безопасной оплаты,
// прямая оплата допустима только если ни одно из них не сработало.
func Decide(oc OrderContext) Decision {
	d := Decision{Reasons: []string{}}

	block := func(reason string) {
		d.RequireSecurePayment = true
		d.Reasons = append(d.Reasons, reason)
	}

	if oc.Category == CategoryLivestock {
		block(ReasonLivestock)
	}
	if oc.TotalAmount.GreaterThanOrEqual(HighValueThreshold) {
		block(ReasonHighValue)
	}
	if oc.DeliveryDistanceKm != nil && *oc.DeliveryDistanceKm >= LongDistanceThresholdKm {
		block(ReasonLongDistance)
	}
	if isNewUser(oc.SellerTxnCount, oc.SellerJoinDate, oc.AsOf) {
		block(ReasonNewSeller)
	}
	if isNewUser(oc.BuyerTxnCount, oc.BuyerJoinDate, oc.AsOf) {
		block(ReasonNewBuyer)
	}

	d.AllowDirectPayment = !d.RequireSecurePayment
	if d.AllowDirectPayment && oc.Category == CategoryCrops && oc.TotalAmount.LessThan(LowValueCropThreshold) {
		d.Reasons = append(d.Reasons, ReasonLowValueCrop)
	}

	return d
}

func isNewUser(txnCount *int, joinDate *time.Time, asOf time.Time) bool {
	if txnCount != nil && *txnCount < NewUserTxnThreshold {
		return true
	}
	if joinDate == nil {
		return false
	}
	if asOf.IsZero() {
		return true
	}
	return daysBetween(*joinDate, asOf) < NewUserDaysThreshold
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from) / (24 * time.Hour))
}

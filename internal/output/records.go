package output

import (
	"encoding/json"
	"fmt"

	"github.com/chrisdamba/foodcart/internal/models"
)

// ReceiptRecord is the flat archive row of a placed order. Amounts are
// doubles here; the receipt itself keeps exact decimals.
type ReceiptRecord struct {
	OrderID           string  `json:"order_id" parquet:"name=order_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	ProvisionalID     string  `json:"provisional_id" parquet:"name=provisional_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	CustomerID        string  `json:"customer_id" parquet:"name=customer_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	RestaurantID      string  `json:"restaurant_id" parquet:"name=restaurant_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	RestaurantName    string  `json:"restaurant_name" parquet:"name=restaurant_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	PaymentMethod     string  `json:"payment_method" parquet:"name=payment_method, type=BYTE_ARRAY, convertedtype=UTF8"`
	PaymentStatus     string  `json:"payment_status" parquet:"name=payment_status, type=BYTE_ARRAY, convertedtype=UTF8"`
	TransactionID     string  `json:"transaction_id" parquet:"name=transaction_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	CouponCode        string  `json:"coupon_code" parquet:"name=coupon_code, type=BYTE_ARRAY, convertedtype=UTF8"`
	ItemCount         int32   `json:"item_count" parquet:"name=item_count, type=INT32"`
	Subtotal          float64 `json:"subtotal" parquet:"name=subtotal, type=DOUBLE"`
	Taxes             float64 `json:"taxes" parquet:"name=taxes, type=DOUBLE"`
	DeliveryFee       float64 `json:"delivery_fee" parquet:"name=delivery_fee, type=DOUBLE"`
	Discount          float64 `json:"discount" parquet:"name=discount, type=DOUBLE"`
	Total             float64 `json:"total" parquet:"name=total, type=DOUBLE"`
	LoyaltyPoints     int64   `json:"loyalty_points" parquet:"name=loyalty_points, type=INT64"`
	Cashback          float64 `json:"cashback" parquet:"name=cashback, type=DOUBLE"`
	DeliveryCity      string  `json:"delivery_city" parquet:"name=delivery_city, type=BYTE_ARRAY, convertedtype=UTF8"`
	DeliveryPostcode  string  `json:"delivery_postcode" parquet:"name=delivery_postcode, type=BYTE_ARRAY, convertedtype=UTF8"`
	EstimatedDelivery int64   `json:"estimated_delivery" parquet:"name=estimated_delivery, type=INT64"`
	Timestamp         int64   `json:"timestamp" parquet:"name=timestamp, type=INT64"`
}

type StatusChangeRecord struct {
	OrderID    string `json:"order_id" parquet:"name=order_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	FromStatus string `json:"from_status" parquet:"name=from_status, type=BYTE_ARRAY, convertedtype=UTF8"`
	ToStatus   string `json:"to_status" parquet:"name=to_status, type=BYTE_ARRAY, convertedtype=UTF8"`
	Sequence   int64  `json:"sequence" parquet:"name=sequence, type=INT64"`
	Timestamp  int64  `json:"timestamp" parquet:"name=timestamp, type=INT64"`
}

func NewReceiptRecord(s models.OrderSnapshot) ReceiptRecord {
	items := 0
	for _, l := range s.Items {
		items += l.Quantity
	}
	return ReceiptRecord{
		OrderID:           s.OrderID,
		ProvisionalID:     s.ProvisionalID,
		CustomerID:        s.CustomerID,
		RestaurantID:      s.RestaurantID,
		RestaurantName:    s.RestaurantName,
		PaymentMethod:     s.PaymentMethod,
		PaymentStatus:     string(s.PaymentStatus),
		TransactionID:     s.TransactionID,
		CouponCode:        s.CouponCode,
		ItemCount:         int32(items),
		Subtotal:          s.Subtotal.InexactFloat64(),
		Taxes:             s.Taxes.InexactFloat64(),
		DeliveryFee:       s.DeliveryFee.InexactFloat64(),
		Discount:          s.Discount.InexactFloat64(),
		Total:             s.Total.InexactFloat64(),
		LoyaltyPoints:     s.LoyaltyPointsEarned,
		Cashback:          s.CashbackEarned.InexactFloat64(),
		DeliveryCity:      s.DeliveryAddress.City,
		DeliveryPostcode:  s.DeliveryAddress.Postcode,
		EstimatedDelivery: s.EstimatedDelivery.Unix(),
		Timestamp:         s.PlacedAt.Unix(),
	}
}

func NewStatusChangeRecord(c models.StatusChange) StatusChangeRecord {
	return StatusChangeRecord{
		OrderID:    c.OrderID,
		FromStatus: string(c.From),
		ToStatus:   string(c.To),
		Sequence:   c.Sequence,
		Timestamp:  c.ChangedAt.Unix(),
	}
}

// schemaFor returns the parquet schema object of topic.
func schemaFor(topic string) (interface{}, error) {
	switch topic {
	case models.TopicOrderReceipts:
		return new(ReceiptRecord), nil
	case models.TopicOrderStatusChanges:
		return new(StatusChangeRecord), nil
	}
	return nil, fmt.Errorf("no record type for topic %s", topic)
}

// decodeRecord parses msg into the typed record of topic.
func decodeRecord(topic string, msg []byte) (interface{}, error) {
	switch topic {
	case models.TopicOrderReceipts:
		var r ReceiptRecord
		err := json.Unmarshal(msg, &r)
		return r, err
	case models.TopicOrderStatusChanges:
		var r StatusChangeRecord
		err := json.Unmarshal(msg, &r)
		return r, err
	}
	return nil, fmt.Errorf("no record type for topic %s", topic)
}

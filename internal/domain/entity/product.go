package entity

import (
	"time"
)

type Product struct {
	ID          string  `json:"id" firestore:"id"`
	SupplierID  string  `json:"supplier_id" firestore:"supplierId"`
	Title       string  `json:"title" firestore:"title"`
	Description string  `json:"description" firestore:"description"`
	UnitPrice   float64 `json:"unit_price" firestore:"unitPrice"`
	MinOrderQty int     `json:"min_order_qty" firestore:"minOrderQty"`
	Category    string  `json:"category" firestore:"category"`
	Status      string  `json:"status" firestore:"status"`

	CreatedAt time.Time  `json:"created_at" firestore:"createdAt"`
	UpdatedAt time.Time  `json:"updated_at" firestore:"updatedAt"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" firestore:"deletedAt,omitempty"`
}

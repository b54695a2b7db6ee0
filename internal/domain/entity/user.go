package entity

import (
	"time"
)

type User struct {
	ID          string `json:"id" firestore:"id"`
	Email       string `json:"email" firestore:"email"`
	CompanyName string `json:"company_name" firestore:"companyName"`
	Phone       string `json:"phone" firestore:"phone"`
	Role        string `json:"role" firestore:"role"` // "buyer", "supplier", "admin"
	Status      string `json:"status" firestore:"status"`

	VerificationStatus string `json:"verification_status" firestore:"verificationStatus"`

	CreatedAt time.Time `json:"created_at" firestore:"createdAt"`
	UpdatedAt time.Time `json:"updated_at" firestore:"updatedAt"`
}

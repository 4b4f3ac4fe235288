// Package models holds the marketplace entities as they are stored.
//
// JSON tags match the column names so that a backup document is a verbatim
// image of the tables.
package models

import (
	"encoding/json"
	"time"
)

const (
	RoleAdmin    = "admin"
	RoleBuyer    = "buyer"
	RoleExecutor = "executor"

	// DefaultOrderStatus is the status of a freshly placed order ("order created")
	DefaultOrderStatus = "создан заказ"

	DefaultPriceCoefficient = 5.25
	DefaultPaymentInfo      = "Реквизиты для оплаты:\nБанковская карта: 1234 5678 9012 3456"
)

// User is a row of the users table
type User struct {
	ID               int64     `db:"id" json:"id"`
	Username         string    `db:"username" json:"username"`
	Password         string    `db:"password" json:"password"`
	Role             string    `db:"role" json:"role"`
	Avatar           *string   `db:"avatar" json:"avatar"`
	City             *string   `db:"city" json:"city"`
	Birthday         *string   `db:"birthday" json:"birthday"`
	Notes            *string   `db:"notes" json:"notes"`
	InitialUsername  *string   `db:"initial_username" json:"initial_username"`
	RegistrationDate time.Time `db:"registration_date" json:"registration_date"`
	UpdatedDate      time.Time `db:"updated_date" json:"updated_date"`
}

// PublicUser is a user without the password hash
type PublicUser struct {
	ID               int64     `json:"id"`
	Username         string    `json:"username"`
	Role             string    `json:"role"`
	Avatar           *string   `json:"avatar"`
	City             *string   `json:"city"`
	Birthday         *string   `json:"birthday"`
	Notes            *string   `json:"notes"`
	InitialUsername  *string   `json:"initial_username"`
	RegistrationDate time.Time `json:"registration_date"`
	UpdatedDate      time.Time `json:"updated_date"`
}

// Public strips the password hash
func (u User) Public() PublicUser {
	return PublicUser{
		ID:               u.ID,
		Username:         u.Username,
		Role:             u.Role,
		Avatar:           u.Avatar,
		City:             u.City,
		Birthday:         u.Birthday,
		Notes:            u.Notes,
		InitialUsername:  u.InitialUsername,
		RegistrationDate: u.RegistrationDate,
		UpdatedDate:      u.UpdatedDate,
	}
}

// Product is a row of the products table
type Product struct {
	ID               int64     `db:"id" json:"id"`
	Name             string    `db:"name" json:"name"`
	RelatedName      *string   `db:"related_name" json:"related_name"`
	Description      *string   `db:"description" json:"description"`
	OriginalHeight   *float64  `db:"original_height" json:"original_height"`
	OriginalWidth    *float64  `db:"original_width" json:"original_width"`
	OriginalLength   *float64  `db:"original_length" json:"original_length"`
	PartsCount       int       `db:"parts_count" json:"parts_count"`
	MainImage        *string   `db:"main_image" json:"main_image"`
	AdditionalImages JSONList  `db:"additional_images" json:"additional_images"`
	PriceOptions     JSONList  `db:"price_options" json:"price_options"`
	IsVisible        bool      `db:"is_visible" json:"is_visible"`
	SalesCount       int       `db:"sales_count" json:"sales_count"`
	FavoritesCount   int       `db:"favorites_count" json:"favorites_count"`
	CreatedDate      time.Time `db:"created_date" json:"created_date"`
	UpdatedDate      time.Time `db:"updated_date" json:"updated_date"`
}

// Order is a row of the orders table
type Order struct {
	ID                int64     `db:"id" json:"id"`
	UserID            int64     `db:"user_id" json:"user_id"`
	Products          JSONList  `db:"products" json:"products"`
	TotalPrice        *float64  `db:"total_price" json:"total_price"`
	Status            string    `db:"status" json:"status"`
	Notes             *string   `db:"notes" json:"notes"`
	AdminNotes        *string   `db:"admin_notes" json:"admin_notes"`
	AssignedExecutors JSONList  `db:"assigned_executors" json:"assigned_executors"`
	CreatedDate       time.Time `db:"created_date" json:"created_date"`
	UpdatedDate       time.Time `db:"updated_date" json:"updated_date"`
}

// Settings is a row of the settings table. The table normally holds one row.
type Settings struct {
	ID                     int64    `db:"id" json:"id"`
	PaymentInfo            *string  `db:"payment_info" json:"payment_info"`
	PriceCoefficient       *float64 `db:"price_coefficient" json:"price_coefficient"`
	DiscountRules          JSONList `db:"discount_rules" json:"discount_rules"`
	ShowDiscountOnProducts bool     `db:"show_discount_on_products" json:"show_discount_on_products"`
}

// DefaultSettings returns the settings row created on first start
func DefaultSettings() Settings {
	info := DefaultPaymentInfo
	coefficient := DefaultPriceCoefficient
	return Settings{
		PaymentInfo:      &info,
		PriceCoefficient: &coefficient,
		DiscountRules:    EmptyJSONList(),
	}
}

// ApplyDefaults fills unset fields the way the table defaults would, and
// stamps missing timestamps with now.
func (u *User) ApplyDefaults(now time.Time) {
	if u.Role == "" {
		u.Role = RoleBuyer
	}
	if u.RegistrationDate.IsZero() {
		u.RegistrationDate = now
	}
	if u.UpdatedDate.IsZero() {
		u.UpdatedDate = now
	}
}

// UnmarshalJSON applies the column defaults for parts_count and is_visible
// when a record omits them
func (p *Product) UnmarshalJSON(data []byte) error {
	type plain Product
	decoded := plain{PartsCount: 1, IsVisible: true}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*p = Product(decoded)
	return nil
}

// ApplyDefaults fills missing timestamps
func (p *Product) ApplyDefaults(now time.Time) {
	if p.CreatedDate.IsZero() {
		p.CreatedDate = now
	}
	if p.UpdatedDate.IsZero() {
		p.UpdatedDate = now
	}
}

// ApplyDefaults fills the status and missing timestamps
func (o *Order) ApplyDefaults(now time.Time) {
	if o.Status == "" {
		o.Status = DefaultOrderStatus
	}
	if o.CreatedDate.IsZero() {
		o.CreatedDate = now
	}
	if o.UpdatedDate.IsZero() {
		o.UpdatedDate = now
	}
}

// UnmarshalJSON applies the price_coefficient default when a record omits it
func (s *Settings) UnmarshalJSON(data []byte) error {
	type plain Settings
	coefficient := DefaultPriceCoefficient
	decoded := plain{PriceCoefficient: &coefficient}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*s = Settings(decoded)
	return nil
}

package models

// User represents a customer or administrator known to the system.
// Admins have no personal quota: MaxSelections is ignored for them.
type User struct {
	ID            string `json:"id" db:"id"`
	Name          string `json:"name" db:"name"`
	Phone         string `json:"phone" db:"phone"`
	MaxSelections int    `json:"max_selections" db:"max_selections"`
	IsAdmin       bool   `json:"is_admin" db:"is_admin"`
}

// AddUserRequest is the customer intake payload
type AddUserRequest struct {
	Name          string `json:"name" binding:"required"`
	Phone         string `json:"phone" binding:"required"`
	MaxSelections int    `json:"max_selections" binding:"gte=0"`
}

// LoginRequest identifies the user opening a session. Admin accounts
// must additionally present the shared admin secret.
type LoginRequest struct {
	UserID        string `json:"user_id" binding:"required"`
	AdminPassword string `json:"admin_password"`
}

package domain

import "time"

const (
	RoleAdmin = "admin"
	RoleUser  = "user"

	StatusOnline  = "online"
	StatusOffline = "offline"
)

// User is the read model of an account owned by the auth collaborator.
type User struct {
	ID           string     `json:"id" bson:"_id"`
	Email        string     `json:"email" bson:"email"`
	Name         string     `json:"name" bson:"name"`
	Role         string     `json:"role" bson:"role"`
	Status       string     `json:"status" bson:"status"`
	IsActive     bool       `json:"isActive" bson:"isActive"`
	PasswordHash string     `json:"-" bson:"password,omitempty"`
	CreatedAt    time.Time  `json:"createdAt" bson:"createdAt"`
	LastLogin    *time.Time `json:"lastLogin,omitempty" bson:"lastLogin,omitempty"`
}

// IsAdmin reports whether the user may read analytics.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin && u.IsActive
}

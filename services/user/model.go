package user

import (
	"time"

	"gorm.io/gorm"
)

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
	// RoleService is held by internal callers such as the order and review systems.
	RoleService Role = "SERVICE"
)

// User is the read model of an account owned by the user system.
type User struct {
	ID         string     `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	LoginID    string     `gorm:"column:login_id;uniqueIndex;type:varchar(100);not null" json:"login_id"`
	Name       string     `gorm:"column:name;type:varchar(100)" json:"name"`
	Email      string     `gorm:"column:email;type:varchar(255)" json:"email"`
	Role       Role       `gorm:"column:role;type:varchar(20);not null;default:USER" json:"role"`
	BirthDate  *time.Time `gorm:"column:birth_date" json:"birth_date,omitempty"`
	BirthMonth int        `gorm:"column:birth_month;index:idx_users_birthday" json:"-"`
	BirthDay   int        `gorm:"column:birth_day;index:idx_users_birthday" json:"-"`
	CreatedAt  time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// BeforeSave keeps the birthday lookup columns in sync with BirthDate.
func (u *User) BeforeSave(_ *gorm.DB) error {
	if u.BirthDate == nil {
		u.BirthMonth, u.BirthDay = 0, 0
		return nil
	}
	u.BirthMonth = int(u.BirthDate.Month())
	u.BirthDay = u.BirthDate.Day()
	return nil
}

func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

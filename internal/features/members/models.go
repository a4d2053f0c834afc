// Package members управляет участниками: регистрацией, ролями,
// VIP-членством и выданным доступом к контенту.
// models.go описывает структуры данных для таблиц members и content_grants.
package members

import "time"

// RoleVIP — роль VIP-членства. Условие NOT_VIP движка наград проверяет
// именно её (плюс неистёкший vip_expires_at).
const RoleVIP = "vip"

// Member представляет участника в базе данных.
type Member struct {
	ID           int64      `db:"id"`
	UserID       int64      `db:"user_id"`
	Username     string     `db:"username"`
	FirstName    string     `db:"first_name"`
	LastName     string     `db:"last_name"`
	Role         *string    `db:"role"`           // Роль, назначенная админом (может быть nil)
	VIPExpiresAt *time.Time `db:"vip_expires_at"` // Когда истекает VIP (nil — никогда не было)
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

// DisplayName возвращает отображаемое имя пользователя.
// Если есть @username — возвращает его, иначе — имя + фамилию.
func (m *Member) DisplayName() string {
	if m.Username != "" {
		return "@" + m.Username
	}
	name := m.FirstName
	if m.LastName != "" {
		name += " " + m.LastName
	}
	return name
}

// IsVIPAt сообщает, действует ли VIP-членство в момент now.
// VIP даёт либо назначенная роль, либо неистёкший срок членства.
func (m *Member) IsVIPAt(now time.Time) bool {
	if m.Role != nil && *m.Role == RoleVIP {
		return true
	}
	return m.VIPExpiresAt != nil && m.VIPExpiresAt.After(now)
}

// ContentGrant — выданный доступ к разблокируемому контенту.
type ContentGrant struct {
	ID         int64     `db:"id"`
	UserID     int64     `db:"user_id"`
	ContentKey string    `db:"content_key"`
	CreatedAt  time.Time `db:"created_at"`
}

// Package shop реализует магазин: покупку контента за беситос
// с автоматическим возвратом при сбое выдачи.
package shop

import "time"

// Item — позиция магазина.
type Item struct {
	ID         int64     `db:"id"`
	Title      string    `db:"title"`
	Descr      string    `db:"descr"`
	Price      int64     `db:"price"`
	ContentKey string    `db:"content_key"`
	Active     bool      `db:"active"`
	CreatedAt  time.Time `db:"created_at"`
}

// PurchaseResult — итог успешной покупки.
type PurchaseResult struct {
	AttemptID  string // Уникальный идентификатор попытки покупки
	Item       *Item
	Spent      int64
	Balance    int64 // Баланс после списания
	ContentKey string
}

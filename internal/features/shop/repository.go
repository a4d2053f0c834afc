package shop

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/besitos-bot/internal/common"
)

// Repository предоставляет методы для работы с таблицей позиций магазина.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт новый репозиторий магазина.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// ActiveItems возвращает все активные позиции.
func (r *Repository) ActiveItems(ctx context.Context) ([]*Item, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, title, descr, price, content_key, active, created_at
		FROM shop_items WHERE active ORDER BY price, id
	`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения позиций магазина: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.Title, &it.Descr, &it.Price, &it.ContentKey, &it.Active, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования позиции: %w", err)
		}
		items = append(items, &it)
	}
	return items, nil
}

// Item возвращает позицию по id.
func (r *Repository) Item(ctx context.Context, itemID int64) (*Item, error) {
	var it Item
	err := r.db.QueryRow(ctx, `
		SELECT id, title, descr, price, content_key, active, created_at
		FROM shop_items WHERE id = $1
	`, itemID).Scan(&it.ID, &it.Title, &it.Descr, &it.Price, &it.ContentKey, &it.Active, &it.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrItemNotFound
		}
		return nil, fmt.Errorf("ошибка получения позиции: %w", err)
	}
	return &it, nil
}

// CreateItem добавляет позицию магазина.
func (r *Repository) CreateItem(ctx context.Context, it *Item) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO shop_items (title, descr, price, content_key, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, it.Title, it.Descr, it.Price, it.ContentKey, it.Active).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ошибка создания позиции: %w", err)
	}
	return id, nil
}

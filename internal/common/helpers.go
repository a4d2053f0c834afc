// Package common содержит общие утилиты, используемые во всём проекте.
// Сюда входят: работа с календарными днями в UTC, форматирование сумм.
//
// ВСЕ сравнения дней в экономике идут через единый часовой пояс — UTC.
// «Сегодня» и «вчера» определяются только относительно UTC-полуночи.
package common

import (
	"fmt"
	"time"
)

// UTCDate обрезает время до календарной даты в UTC.
// Формат результата: год-месяц-день, 00:00:00 UTC.
func UTCDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Today возвращает текущую календарную дату в UTC.
func Today() time.Time {
	return UTCDate(time.Now())
}

// NextMidnight возвращает ближайшую UTC-полночь после t.
// Используется, чтобы сообщить пользователю, сколько ждать до
// следующего ежедневного подарка.
func NextMidnight(t time.Time) time.Time {
	return UTCDate(t).AddDate(0, 0, 1)
}

// SameDay сравнивает два момента как календарные даты в UTC.
func SameDay(a, b time.Time) bool {
	return UTCDate(a).Equal(UTCDate(b))
}

// IsYesterday проверяет, что day — ровно предыдущий календарный день
// относительно today (оба в UTC).
func IsYesterday(day, today time.Time) bool {
	return UTCDate(day).AddDate(0, 0, 1).Equal(UTCDate(today))
}

// FormatBalance форматирует баланс в читабельную строку.
// Пример: FormatBalance(150) → "150 беситос"
func FormatBalance(balance int64) string {
	return fmt.Sprintf("%d беситос", balance)
}

// FormatAmount создаёт строку вида "+100 беситос" или "-50 беситос".
// Знак «+» добавляется автоматически для неотрицательных сумм.
func FormatAmount(amount int64) string {
	if amount >= 0 {
		return fmt.Sprintf("+%d беситос", amount)
	}
	return fmt.Sprintf("%d беситос", amount)
}

// FormatDateTime форматирует время в формат "02.01.2006 15:04" (UTC).
// Используется для отображения дат движений по счёту.
func FormatDateTime(t time.Time) string {
	return t.UTC().Format("02.01.2006 15:04")
}

// Package streak — payout.go содержит расчёт выплаты за ежедневный подарок.
package streak

// CalculateBonus вычисляет бонусную часть выплаты за серию длиной day.
// Бонус растёт линейно (day * step) и упирается в потолок cap:
// при step=2 и cap=50 это день 1 → 2, день 3 → 6, день 25 и дальше → 50.
func CalculateBonus(day int, step, cap int64) int64 {
	bonus := int64(day) * step
	if bonus > cap {
		return cap
	}
	return bonus
}

// nextLength вычисляет новую длину серии по предыдущему дню активности.
// Нет предыдущего дня или пропуск — серия начинается заново с 1,
// ровно вчера — продолжается.
func nextLength(prevLength int, wasYesterday, hasPrev bool) int {
	if hasPrev && wasYesterday {
		return prevLength + 1
	}
	return 1
}

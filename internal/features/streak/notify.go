// Package streak — notify.go собирает ответные сообщения стрик-системы:
// итог ежедневного подарка и сводку серии для показа пользователю.
package streak

import (
	"fmt"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"serotonyl.ru/besitos-bot/internal/common"
)

// BuildGiftMessage собирает ответ на полученный ежедневный подарок.
func BuildGiftMessage(chatID int64, res *ClaimResult) *telego.SendMessageParams {
	var b strings.Builder
	fmt.Fprintf(&b, "🎁 Ежедневный подарок — день %d!\n\n", res.StreakDay)
	fmt.Fprintf(&b, "Начислено: %s (база %d + бонус %d)\n",
		common.FormatAmount(res.Total), res.Base, res.Bonus)
	fmt.Fprintf(&b, "Баланс: %s\n", common.FormatBalance(res.Balance))
	if res.LeveledUp {
		fmt.Fprintf(&b, "\n⬆️ Новый уровень: %d!\n", res.NewLevel)
	}
	return tu.Message(tu.ID(chatID), b.String())
}

// BuildStreakInfoMessage собирает сводку серии.
func BuildStreakInfoMessage(chatID int64, info *Info) *telego.SendMessageParams {
	var b strings.Builder
	fmt.Fprintf(&b, "🔥 Серия: %d %s\n", info.CurrentLength, common.PluralizeDays(info.CurrentLength))
	fmt.Fprintf(&b, "Рекорд: %d %s\n", info.LongestLength, common.PluralizeDays(info.LongestLength))
	if info.CanClaim {
		b.WriteString("\nЕжедневный подарок уже доступен!")
	} else if info.NextClaimTime != nil {
		fmt.Fprintf(&b, "\nСледующий подарок: %s (UTC)", common.FormatDateTime(*info.NextClaimTime))
	}
	return tu.Message(tu.ID(chatID), b.String())
}

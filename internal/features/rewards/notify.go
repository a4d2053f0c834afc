// Package rewards — notify.go собирает уведомление о разблокированных
// наградах. Несколько наград, открытых одним событием, сворачиваются
// в одно сообщение с одной основной кнопкой действия.
package rewards

import (
	"fmt"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"serotonyl.ru/besitos-bot/internal/common"
)

// BuildNotification собирает сообщение о свежеразблокированных наградах.
// Возвращает nil, если разблокировок не было.
func BuildNotification(chatID int64, unlocked []*Definition) *telego.SendMessageParams {
	if len(unlocked) == 0 {
		return nil
	}

	var b strings.Builder
	if len(unlocked) == 1 {
		b.WriteString("🎉 Новая награда доступна!\n\n")
	} else {
		fmt.Fprintf(&b, "🎉 Доступно %d %s!\n\n", len(unlocked), common.PluralizeRewards(len(unlocked)))
	}
	for _, def := range unlocked {
		fmt.Fprintf(&b, "🏆 %s\n", def.Name)
		if def.Description != "" {
			fmt.Fprintf(&b, "%s\n", def.Description)
		}
		b.WriteString(payoutLine(def))
		b.WriteString("\n")
	}
	b.WriteString("Забери награду, пока окно получения не закрылось.")

	// Одна основная кнопка: одна награда — сразу её получение,
	// несколько — переход к списку.
	var button telego.InlineKeyboardButton
	if len(unlocked) == 1 {
		button = tu.InlineKeyboardButton("Получить награду").
			WithCallbackData(fmt.Sprintf("reward_claim:%d", unlocked[0].ID))
	} else {
		button = tu.InlineKeyboardButton("К наградам").
			WithCallbackData("reward_list")
	}

	return tu.Message(tu.ID(chatID), b.String()).
		WithReplyMarkup(tu.InlineKeyboard(tu.InlineKeyboardRow(button)))
}

// payoutLine — человекочитаемая строка выплаты для уведомления.
func payoutLine(def *Definition) string {
	switch def.PayoutKind {
	case PayoutBesitos:
		return fmt.Sprintf("Выплата: %s\n", common.FormatAmount(def.Payout.Amount))
	case PayoutVIPExtension:
		return fmt.Sprintf("Выплата: VIP на %d %s\n", def.Payout.Days, common.PluralizeDays(def.Payout.Days))
	case PayoutContent:
		return "Выплата: доступ к контенту\n"
	case PayoutBadge:
		if def.Payout.Badge != "" {
			return fmt.Sprintf("Значок: %s\n", def.Payout.Badge)
		}
		return "Выплата: значок\n"
	}
	return ""
}

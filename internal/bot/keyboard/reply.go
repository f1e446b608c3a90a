package keyboard

import (
	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/vidbot/internal/i18n"
)

// MenuCommands are the commands reachable from the reply keyboard, in display order.
var MenuCommands = []string{"plans", "status", "payments", "referral"}

// MenuLabels maps each localized menu label to the command it stands for.
func MenuLabels(t i18n.Translator) map[string]string {
	labels := make(map[string]string, len(MenuCommands))
	for _, cmd := range MenuCommands {
		labels[translated(t, "bot.menu."+cmd, "/"+cmd)] = cmd
	}
	return labels
}

// MainMenu builds a localized reply keyboard for the bot main menu.
func MainMenu(t i18n.Translator) *telebot.ReplyMarkup {
	markup := &telebot.ReplyMarkup{
		ResizeKeyboard:  true,
		OneTimeKeyboard: false,
	}

	buttons := make([]telebot.Btn, len(MenuCommands))
	for i, cmd := range MenuCommands {
		buttons[i] = markup.Text(translated(t, "bot.menu."+cmd, "/"+cmd))
	}

	markup.Reply(
		markup.Row(buttons[0], buttons[1]),
		markup.Row(buttons[2], buttons[3]),
	)

	return markup
}

package handlers

import (
	"strconv"
	"strings"
	"time"

	"github.com/Proton-105/vidbot/internal/domain"
	"github.com/Proton-105/vidbot/internal/i18n"
)

const dateLayout = "02/01/2006 15:04 UTC"

var markdownEscaper = strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)

// escapeMarkdown protects free text interpolated into legacy Markdown messages.
func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

func planName(t i18n.Translator, plan domain.Plan) string {
	return t.T("plan." + string(plan))
}

func periodName(t i18n.Translator, plan domain.Plan) string {
	if plan.Purchasable() {
		return t.T("period.paid")
	}
	return t.T("period.free")
}

// quotaVars are the placeholders shared by the welcome and status texts.
func quotaVars(t i18n.Translator, a *domain.Account) map[string]string {
	return map[string]string{
		"plan":     planName(t, a.Plan),
		"used":     strconv.Itoa(a.QuotaUsed),
		"limit":    strconv.Itoa(a.Plan.QuotaLimit()),
		"period":   periodName(t, a.Plan),
		"reset":    a.PeriodResetAt.UTC().Format(dateLayout),
		"discount": strconv.Itoa(a.DiscountNextPeriod),
	}
}

func promoBanner(t i18n.Translator, a *domain.Account, now time.Time) string {
	if !a.PromoActive(now) {
		return ""
	}
	return t.F("bot.promo_banner", map[string]string{"until": a.PromoWindowEnd.UTC().Format(dateLayout)}) + "\n"
}

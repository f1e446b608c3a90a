package bot

// Commands understood by the bot, without the leading slash.
const (
	CommandStart    = "start"
	CommandPlans    = "plans"
	CommandBuy      = "buy"
	CommandStatus   = "status"
	CommandCancel   = "cancel"
	CommandPayments = "payments"
	CommandReferral = "referral"
)

// commandMenu is published to Telegram so clients can offer completion.
var commandMenu = []struct {
	command     string
	description string
}{
	{CommandPlans, "Ver planes y precios"},
	{CommandStatus, "Mi plan y descargas"},
	{CommandPayments, "Historial de pagos"},
	{CommandReferral, "Invitar amigos"},
	{CommandCancel, "Cancelar solicitud pendiente"},
}

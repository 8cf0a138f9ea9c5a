package email

// Provider selects the Sender built by NewSender.
type Provider string

const (
	ProviderPostmark Provider = "postmark"
	ProviderSMTP     Provider = "smtp"
	ProviderDev      Provider = "dev"
)

// Config holds email transport configuration. Only the fields of the
// selected provider are required.
type Config struct {
	Provider     Provider `env:"EMAIL_PROVIDER" envDefault:"dev" validate:"oneof=postmark smtp dev"`
	SenderEmail  string   `env:"SENDER_EMAIL" envDefault:"noreply@localhost"`
	SupportEmail string   `env:"SUPPORT_EMAIL"`

	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`

	DevOutputDir string `env:"EMAIL_DEV_DIR" envDefault:"./tmp/emails"`
}
